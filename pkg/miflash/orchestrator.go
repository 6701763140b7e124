package miflash

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"

	"github.com/Has-X/Sensitivity/pkg/device"
	"github.com/Has-X/Sensitivity/pkg/digest"
	"github.com/Has-X/Sensitivity/pkg/downloader"
	"github.com/Has-X/Sensitivity/pkg/envelope"
	log "github.com/Has-X/Sensitivity/pkg/logging"
	"github.com/Has-X/Sensitivity/pkg/sideload"
)

// maxWipeRetries bounds the single-retry-with-wipe behavior spec §8
// scenario 7 calls for: a server rejection is retried once, with the
// wipe flag already asserted, when the caller opted into wiping.
const maxWipeRetries = 1

// FieldOverrides lets advanced callers override individual identity
// fields after profile derivation, for debugging against servers that
// expect values the phone itself doesn't report (spec supplement, from
// original_source's --override-* flags).
type FieldOverrides struct {
	Device   string
	Version  string
	SN       string
	Codebase string
	Branch   string
	RomZone  string
}

func (o FieldOverrides) apply(info device.Info) device.Info {
	if o.Device != "" {
		info.Device = o.Device
	}
	if o.Version != "" {
		info.Version = o.Version
	}
	if o.SN != "" {
		info.SN = o.SN
	}
	if o.Codebase != "" {
		info.Codebase = o.Codebase
	}
	if o.Branch != "" {
		info.Branch = o.Branch
	}
	if o.RomZone != "" {
		info.RomZone = o.RomZone
	}
	return info
}

// Options configures a flash/validation run. Zero value is usable except
// for ServerURL, which has no sane default outside of config.Config.
type Options struct {
	ServerURL   string
	PlainHTTP   bool
	ChunkSize   int64
	Profile     string // empty means no profile override
	Codename    string
	Overrides   FieldOverrides
	MD5Override string
	Wipe        bool
	Token       string
	DumpJSON    bool
}

// newEnvelopeClient validates opts.ServerURL's scheme before building a
// client: a non-HTTPS URL is refused unless the caller passed --http,
// which itself logs an explicit warning (spec §4.E).
func (o Options) newEnvelopeClient() (*envelope.Client, error) {
	u, err := url.Parse(o.ServerURL)
	if err != nil {
		return nil, wrap(KindServerHTTP, fmt.Errorf("invalid server URL %q: %w", o.ServerURL, err))
	}
	if u.Scheme != "https" {
		if !o.PlainHTTP {
			return nil, wrap(KindServerHTTP, fmt.Errorf("refusing to use non-HTTPS server %q without --http", o.ServerURL))
		}
		log.Warnf("miflash: using plain HTTP for validation endpoint %s (insecure)", o.ServerURL)
	}

	env := envelope.New(o.ServerURL)
	env.DumpJSON = o.DumpJSON
	return env, nil
}

// gatherIdentity reads the device's identity and applies any profile or
// field overrides requested in opts.
func gatherIdentity(ctx context.Context, c *Client, opts Options) (device.Info, error) {
	info, err := c.ReadInfo(ctx)
	if err != nil {
		return device.Info{}, err
	}

	if opts.Profile != "" {
		profile, ok := device.ParseRegionProfile(opts.Profile)
		if !ok {
			return device.Info{}, wrap(KindUsbIO, fmt.Errorf("unknown region profile %q", opts.Profile))
		}
		info = device.ApplyProfile(info, profile, opts.Codename)
	}

	return opts.Overrides.apply(info), nil
}

// resolveMD5 returns opts.MD5Override if set, otherwise hashes path.
func resolveMD5(opts Options, path string) (string, error) {
	if opts.MD5Override != "" {
		return opts.MD5Override, nil
	}
	sum, err := digest.File(path)
	if err != nil {
		return "", fileError(err)
	}
	return sum, nil
}

// validateWithRetry calls the vendor validation endpoint, retrying once
// with the same request if the server rejects and the caller already
// opted into wiping (spec §8 scenario 7 / the wipe-negotiation open
// question).
func validateWithRetry(ctx context.Context, env *envelope.Client, info device.Info, md5 string, wipe bool) (envelope.Token, error) {
	var lastErr error
	attempts := 1
	if wipe {
		attempts += maxWipeRetries
	}

	for i := 0; i < attempts; i++ {
		tok, err := env.Validate(ctx, info, md5)
		if err == nil {
			return tok, nil
		}
		lastErr = err
		var rej *envelope.RejectedError
		if !errors.As(err, &rej) {
			return envelope.Token{}, classifyEnvelopeError(err)
		}
		if i == 0 && wipe {
			log.Warnf("miflash: validation rejected (%s), retrying once with wipe acknowledged", rej.Message)
			continue
		}
		return envelope.Token{}, &Error{Kind: KindValidationRejected, Code: rej.Message, Err: err}
	}
	return envelope.Token{}, classifyEnvelopeError(lastErr)
}

func classifyEnvelopeError(err error) error {
	if err == nil {
		return nil
	}
	var rej *envelope.RejectedError
	if errors.As(err, &rej) {
		return &Error{Kind: KindValidationRejected, Code: rej.Message, Err: err}
	}
	if errors.Is(err, envelope.ErrBadEnvelopeKey) {
		return wrap(KindBadEnvelopeKey, err)
	}
	if errors.Is(err, envelope.ErrBadEnvelopeBody) {
		return wrap(KindBadEnvelopeBody, err)
	}
	return wrap(KindServerHTTP, err)
}

// ListAllowedRoms probes validation with an empty MD5 and returns the
// resulting token (typically empty) plus whatever ROM metadata the server
// included, for display.
func ListAllowedRoms(ctx context.Context, c *Client, opts Options) (envelope.Token, device.Info, error) {
	info, err := gatherIdentity(ctx, c, opts)
	if err != nil {
		return envelope.Token{}, device.Info{}, err
	}
	env, err := opts.newEnvelopeClient()
	if err != nil {
		return envelope.Token{}, info, err
	}
	tok, err := env.Validate(ctx, info, "")
	if err != nil {
		var rej *envelope.RejectedError
		if errors.As(err, &rej) {
			// A probe is expected to be rejected by servers that require a
			// real MD5; the rejection code itself is the useful signal.
			log.Infof("list-allowed-roms: server responded with code %q", rej.Message)
			return envelope.Token{}, info, nil
		}
		return envelope.Token{}, info, classifyEnvelopeError(err)
	}
	return tok, info, nil
}

// Flash validates (unless opts.Token is set) and sideloads path to the
// connected device, rebooting on success.
func Flash(ctx context.Context, c *Client, path string, opts Options) error {
	f, err := os.Open(path)
	if err != nil {
		return fileError(err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return fileError(err)
	}

	info, err := gatherIdentity(ctx, c, opts)
	if err != nil {
		return err
	}

	md5sum, err := resolveMD5(opts, path)
	if err != nil {
		return err
	}

	token := opts.Token
	wipe := opts.Wipe
	if token == "" {
		env, err := opts.newEnvelopeClient()
		if err != nil {
			return err
		}
		tok, err := validateWithRetry(ctx, env, info, md5sum, opts.Wipe)
		if err != nil {
			return err
		}
		token = tok.Token
		wipe = wipe || tok.WipeRequired
	}

	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = sideload.DefaultChunkSize
	}

	eng, err := sideload.Open(ctx, c.Session(), f, stat.Size(), token, wipe, chunkSize)
	if err != nil {
		return classifySideloadError(err)
	}
	eng.OnProgress(func(delivered, total int64) {
		log.Infof("flash: %d/%d bytes (%.1f%%)", delivered, total, 100*float64(delivered)/float64(total))
	})

	if _, err := eng.Run(ctx); err != nil {
		return classifySideloadError(err)
	}

	c.RebootBestEffort(ctx)
	return nil
}

// FlashFromLatest validates with no local file to obtain a ROM URL and
// expected MD5, downloads it to destDir, then flashes it.
func FlashFromLatest(ctx context.Context, c *Client, destDir string, opts Options) error {
	info, err := gatherIdentity(ctx, c, opts)
	if err != nil {
		return err
	}

	env, err := opts.newEnvelopeClient()
	if err != nil {
		return err
	}
	tok, err := env.Validate(ctx, info, "")
	if err != nil {
		return classifyEnvelopeError(err)
	}
	if tok.RomURL == "" {
		return wrap(KindValidationRejected, fmt.Errorf("server did not return a ROM URL"))
	}

	dl := downloader.New()
	path, err := dl.Download(ctx, tok.RomURL, destDir, tok.ExpectedMD5)
	if err != nil {
		return wrap(KindFileIO, err)
	}

	flashOpts := opts
	flashOpts.Token = tok.Token
	flashOpts.Wipe = opts.Wipe || tok.WipeRequired
	flashOpts.MD5Override = tok.ExpectedMD5
	return Flash(ctx, c, path, flashOpts)
}

func classifySideloadError(err error) error {
	switch {
	case errors.Is(err, sideload.ErrRejected):
		return wrap(KindSideloadRejected, err)
	case errors.Is(err, sideload.ErrOutOfRange):
		return wrap(KindSideloadOutOfRange, err)
	case errors.Is(err, sideload.ErrProtocol):
		return wrap(KindSideloadProtocol, err)
	case errors.Is(err, sideload.ErrAborted):
		return wrap(KindSideloadAborted, err)
	default:
		return wrap(KindSideloadAborted, err)
	}
}
