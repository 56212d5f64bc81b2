package config

import (
	"os"
	"strings"

	"codeberg.org/mutker/camwatch/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel       = "info"
	defaultListen         = ":5001"
	defaultDatabase       = "/var/lib/camwatch/camwatch.db"
	defaultUploads        = "/var/lib/camwatch/uploads"
	defaultInterval       = 5
	defaultCaptureTimeout = 10
)

type Config struct {
	Listen         string `mapstructure:"listen"`
	Database       string `mapstructure:"database"`
	Uploads        string `mapstructure:"uploads"`
	Interval       int    `mapstructure:"interval"`
	CaptureTimeout int    `mapstructure:"capture_timeout"`
	LogLevel       string `mapstructure:"log_level"`
	Debug          bool   `mapstructure:"debug"`
	Verbose        bool   `mapstructure:"verbose"`
}

func Load() (*Config, error) {
	errFactory := errors.New()

	v := viper.New()
	v.SetDefault("listen", defaultListen)
	v.SetDefault("database", defaultDatabase)
	v.SetDefault("uploads", defaultUploads)
	v.SetDefault("interval", defaultInterval)
	v.SetDefault("capture_timeout", defaultCaptureTimeout)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("debug", false)
	v.SetDefault("verbose", false)

	flags := pflag.NewFlagSet("camwatch", pflag.ContinueOnError)
	flags.String("listen", defaultListen, "Address the HTTP server listens on")
	flags.String("database", defaultDatabase, "Path to the sqlite database")
	flags.String("uploads", defaultUploads, "Directory for captured photos and charts")
	flags.Int("interval", defaultInterval, "Scheduler tick interval in seconds")
	flags.Int("capture-timeout", defaultCaptureTimeout, "Device capture timeout in seconds")
	flags.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	flags.Bool("debug", false, "Enable debugging mode")
	flags.Bool("verbose", false, "Enable verbose logging")

	// Tolerate unknown flags so the test binary's own flags do not break loading
	flags.ParseErrorsWhitelist = pflag.ParseErrorsWhitelist{UnknownFlags: true}
	if err := flags.Parse(os.Args[1:]); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	bindings := map[string]string{
		"listen":          "listen",
		"database":        "database",
		"uploads":         "uploads",
		"interval":        "interval",
		"capture_timeout": "capture-timeout",
		"log_level":       "log-level",
		"debug":           "debug",
		"verbose":         "verbose",
	}
	for key, name := range bindings {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	v.SetEnvPrefix("CAMWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func readConfigFile(v *viper.Viper) error {
	errFactory := errors.New()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("camwatch")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc/camwatch")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return errFactory.WithMessage(errors.ErrReadConfig, "Failed to read config file: "+err.Error())
		}
	}

	return nil
}

func (c *Config) Validate() error {
	errFactory := errors.New()

	if c.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Interval)
	}
	if c.CaptureTimeout <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.CaptureTimeout)
	}
	if c.Database == "" || c.Uploads == "" {
		return errFactory.New(errors.ErrInvalidConfig)
	}
	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	return nil
}
