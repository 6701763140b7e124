// Package config loads the on-disk defaults for the CLI: validation server
// URL, chunk size, and logger behavior. CLI flags override whatever is
// found here; the file itself is optional, unlike the teacher's config.
package config

import (
	"os"
	"path/filepath"

	log "github.com/Has-X/Sensitivity/pkg/logging"
	"gopkg.in/yaml.v2"
)

var (
	APPNAME    string = "miassistant"
	VERSION    string = "undefined"
	BUILD_TIME string = "undefined"
)

type Config struct {
	ServerURL   string `yaml:"server_url"`
	ChunkSize   int    `yaml:"chunk_size"`
	DeviceIndex int    `yaml:"device_index"`
	Logger      struct {
		Dir    string `yaml:"dir"`
		Level  string `yaml:"level"`
		Rotate string `yaml:"rotate"` // "", "size", or "time"
	} `yaml:"logger"`
}

func defaults() *Config {
	c := &Config{
		ServerURL:   "https://update.miui.com/updates/miotaV3.php",
		ChunkSize:   65536,
		DeviceIndex: 0,
	}
	c.Logger.Level = "info"
	return c
}

// Load reads path (if it exists) over top of the built-in defaults and
// wires the logger accordingly. A missing config file is not an error.
func Load(path string) *Config {
	conf := defaults()

	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(data, conf); err != nil {
				log.Warnf("config: ignoring malformed %s: %v", path, err)
			}
		}
	}

	defer log.Sync()

	switch conf.Logger.Rotate {
	case "size":
		dir := conf.Logger.Dir
		if dir == "" {
			dir, _ = os.Getwd()
		}
		out := log.NewProductionRotateBySize(filepath.Join(dir, APPNAME+".log"), 50, 5)
		log.ReplaceDefault(log.New(out, log.InfoLevel))
	case "time":
		dir := conf.Logger.Dir
		if dir == "" {
			dir, _ = os.Getwd()
		}
		out := log.NewProductionRotateByTime(filepath.Join(dir, APPNAME+".log"))
		log.ReplaceDefault(log.New(out, log.InfoLevel))
	}

	switch conf.Logger.Level {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}

	return conf
}
