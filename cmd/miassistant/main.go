// Command miassistant flashes Xiaomi recovery ROMs by impersonating the
// vendor's Mi Assistant desktop client over raw USB-ADB.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	log "github.com/Has-X/Sensitivity/pkg/logging"
	"github.com/Has-X/Sensitivity/pkg/miflash"
	"github.com/Has-X/Sensitivity/pkg/utils/config"
)

var (
	flagDeviceIndex int
	flagChunkSize   int64
	flagServerURL   string
	flagPlainHTTP   bool
	flagDebugUSB    bool
	flagDumpJSON    bool
	flagVerboseN    int
	flagProfile     string
	flagCodename    string
	flagMD5         string

	flagOverrideDevice   string
	flagOverrideVersion  string
	flagOverrideSN       string
	flagOverrideCodebase string
	flagOverrideBranch   string
	flagOverrideRomzone  string

	flagConfigPath string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var me *miflash.Error
		if errors.As(err, &me) {
			os.Exit(me.Kind.ExitCode())
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           config.APPNAME,
		Short:         "Flash Xiaomi recovery ROMs by impersonating Mi Assistant over USB",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVar(&flagConfigPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().IntVar(&flagDeviceIndex, "device-index", 0, "index among matching Mi Assistant USB interfaces")
	root.PersistentFlags().Int64Var(&flagChunkSize, "chunk-size", 0, "sideload chunk size in bytes (0 = use config/default)")
	root.PersistentFlags().StringVar(&flagServerURL, "server-url", "", "validation server URL (overrides config)")
	root.PersistentFlags().BoolVar(&flagPlainHTTP, "http", false, "permit a non-HTTPS --server-url for the validation request (insecure, logs a warning)")
	root.PersistentFlags().BoolVar(&flagDebugUSB, "debug-usb", false, "log raw USB packet directions and sizes")
	root.PersistentFlags().BoolVar(&flagDumpJSON, "dump-json", false, "dump the decrypted validation JSON verbatim")
	root.PersistentFlags().CountVarP(&flagVerboseN, "verbose", "v", "increase log verbosity (repeatable)")
	root.PersistentFlags().StringVar(&flagProfile, "profile", "", "impersonate a region profile: global, eea, in, ru, id, tr, tw, cn")
	root.PersistentFlags().StringVar(&flagCodename, "codename", "", "device codename to use when building the profile's device name")
	root.PersistentFlags().StringVar(&flagMD5, "md5", "", "override MD5 used for validation (skips local hashing)")

	root.PersistentFlags().StringVar(&flagOverrideDevice, "override-device", "", "override the device field sent to validation")
	root.PersistentFlags().StringVar(&flagOverrideVersion, "override-version", "", "override the version field sent to validation")
	root.PersistentFlags().StringVar(&flagOverrideSN, "override-sn", "", "override the serial number field sent to validation")
	root.PersistentFlags().StringVar(&flagOverrideCodebase, "override-codebase", "", "override the codebase field sent to validation")
	root.PersistentFlags().StringVar(&flagOverrideBranch, "override-branch", "", "override the branch field sent to validation")
	root.PersistentFlags().StringVar(&flagOverrideRomzone, "override-romzone", "", "override the romzone field sent to validation")

	root.AddCommand(
		newReadInfoCmd(),
		newListAllowedRomsCmd(),
		newFlashCmd(),
		newFlashFromLatestCmd(),
		newFormatDataCmd(),
		newRebootCmd(),
	)
	return root
}

// rootContext wires SIGINT/SIGTERM to context cancellation, matching the
// tool's cancellation policy: abort the current blocking call on the next
// timeout boundary and exit non-zero.
func rootContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func loadConfigAndLogging() *config.Config {
	conf := config.Load(flagConfigPath)
	switch {
	case flagVerboseN >= 2:
		log.SetLevel(log.DebugLevel)
	case flagVerboseN == 1:
		log.SetLevel(log.InfoLevel)
	}
	return conf
}

func resolvedServerURL(conf *config.Config) string {
	if flagServerURL != "" {
		return flagServerURL
	}
	return conf.ServerURL
}

func resolvedChunkSize(conf *config.Config) int64 {
	if flagChunkSize > 0 {
		return flagChunkSize
	}
	return int64(conf.ChunkSize)
}

func resolvedDeviceIndex(cmd *cobra.Command, conf *config.Config) int {
	if f := cmd.Flag("device-index"); f != nil && f.Changed {
		return flagDeviceIndex
	}
	return conf.DeviceIndex
}

func buildOptions(conf *config.Config) miflash.Options {
	return miflash.Options{
		ServerURL: resolvedServerURL(conf),
		PlainHTTP: flagPlainHTTP,
		ChunkSize: resolvedChunkSize(conf),
		Profile:   flagProfile,
		Codename:  flagCodename,
		Overrides: miflash.FieldOverrides{
			Device:   flagOverrideDevice,
			Version:  flagOverrideVersion,
			SN:       flagOverrideSN,
			Codebase: flagOverrideCodebase,
			Branch:   flagOverrideBranch,
			RomZone:  flagOverrideRomzone,
		},
		MD5Override: flagMD5,
		DumpJSON:    flagDumpJSON,
	}
}

func connectDefault(ctx context.Context, cmd *cobra.Command, conf *config.Config) (*miflash.Client, error) {
	return miflash.Connect(ctx, resolvedDeviceIndex(cmd, conf), flagDebugUSB)
}

func newReadInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read-info",
		Short: "Print the device's vendor-reported identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf := loadConfigAndLogging()
			ctx, cancel := rootContext()
			defer cancel()

			c, err := connectDefault(ctx, cmd, conf)
			if err != nil {
				return err
			}
			defer c.Close()

			info, err := c.ReadInfo(ctx)
			if err != nil {
				return err
			}
			fmt.Println(info.String())
			fmt.Printf("sn=%s language=%s romzone=%s\n", info.SN, info.Language, info.RomZone)
			return nil
		},
	}
}

func newListAllowedRomsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-allowed-roms",
		Short: "Query the validation server and print what it reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf := loadConfigAndLogging()
			ctx, cancel := rootContext()
			defer cancel()

			c, err := connectDefault(ctx, cmd, conf)
			if err != nil {
				return err
			}
			defer c.Close()

			tok, info, err := miflash.ListAllowedRoms(ctx, c, buildOptions(conf))
			if err != nil {
				return err
			}
			fmt.Printf("device: %s\n", info.String())
			if tok.RomURL != "" {
				fmt.Printf("rom_url: %s\nexpected_md5: %s\n", tok.RomURL, tok.ExpectedMD5)
			} else {
				fmt.Println("server did not report an allowed ROM for this identity")
			}
			return nil
		},
	}
}

func newFlashCmd() *cobra.Command {
	var token string
	var wipe bool
	var yes bool

	cmd := &cobra.Command{
		Use:   "flash <path>",
		Short: "Validate (unless --token is given) and sideload a ROM",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf := loadConfigAndLogging()
			if !yes && !confirm(fmt.Sprintf("Flash %s to the connected device? This may wipe data.", args[0])) {
				return &miflash.Error{Kind: miflash.KindUserAborted, Err: errors.New("user declined confirmation")}
			}

			ctx, cancel := rootContext()
			defer cancel()

			c, err := connectDefault(ctx, cmd, conf)
			if err != nil {
				return err
			}
			defer c.Close()

			opts := buildOptions(conf)
			opts.Token = token
			opts.Wipe = wipe
			return miflash.Flash(ctx, c, args[0], opts)
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "skip validation and use this sideload token directly")
	cmd.Flags().BoolVar(&wipe, "wipe", false, "assert a data wipe regardless of server hint")
	cmd.Flags().BoolVar(&yes, "yes", false, "skip the confirmation prompt")
	return cmd
}

func newFlashFromLatestCmd() *cobra.Command {
	var yes bool
	var outputDir string

	cmd := &cobra.Command{
		Use:   "flash-from-latest",
		Short: "Download the server's reported ROM, then validate and sideload it",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf := loadConfigAndLogging()
			if !yes && !confirm("Download and flash the server's reported ROM? This may wipe data.") {
				return &miflash.Error{Kind: miflash.KindUserAborted, Err: errors.New("user declined confirmation")}
			}

			ctx, cancel := rootContext()
			defer cancel()

			c, err := connectDefault(ctx, cmd, conf)
			if err != nil {
				return err
			}
			defer c.Close()

			if outputDir == "" {
				outputDir, err = os.Getwd()
				if err != nil {
					return &miflash.Error{Kind: miflash.KindFileIO, Err: err}
				}
			}
			return miflash.FlashFromLatest(ctx, c, outputDir, buildOptions(conf))
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "skip the confirmation prompt")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "directory to save the downloaded ROM into (default: current directory)")
	return cmd
}

func newFormatDataCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "format-data",
		Short: "Issue the vendor's format-data command",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf := loadConfigAndLogging()
			ctx, cancel := rootContext()
			defer cancel()

			c, err := connectDefault(ctx, cmd, conf)
			if err != nil {
				return err
			}
			defer c.Close()
			return c.FormatData(ctx)
		},
	}
}

func newRebootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reboot",
		Short: "Issue the vendor's reboot command",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf := loadConfigAndLogging()
			ctx, cancel := rootContext()
			defer cancel()

			c, err := connectDefault(ctx, cmd, conf)
			if err != nil {
				return err
			}
			defer c.Close()
			return c.Reboot(ctx)
		},
	}
}

func confirm(prompt string) bool {
	fmt.Fprintf(os.Stderr, "%s [y/N] ", prompt)
	var answer string
	fmt.Scanln(&answer)
	return answer == "y" || answer == "Y" || answer == "yes"
}
