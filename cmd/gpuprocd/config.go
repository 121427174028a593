package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gogpu/gpuproc"
)

const envPrefix = "GPUPROCD"

// Config is the run configuration. Values come from flags, GPUPROCD_*
// environment variables and gpuprocd.yaml, in that order of precedence.
type Config struct {
	Backend      string        `mapstructure:"backend"`
	Frames       int           `mapstructure:"frames"`
	FPS          int           `mapstructure:"fps"`
	Width        uint32        `mapstructure:"width"`
	Height       uint32        `mapstructure:"height"`
	PollInterval time.Duration `mapstructure:"poll-interval"`
	MetricsAddr  string        `mapstructure:"metrics-addr"`
	Dump         string        `mapstructure:"dump"`
	Thumbnail    int           `mapstructure:"thumbnail"`
	Trace        string        `mapstructure:"trace"`
	LogLevel     string        `mapstructure:"log-level"`
}

func bindRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("config", "", "config file (default ./gpuprocd.yaml)")
	f.String("backend", "", "backend name; empty selects the best available")
	f.Int("frames", 60, "number of frames to present")
	f.Int("fps", 60, "frames presented per second")
	f.Uint32("width", 256, "canvas width")
	f.Uint32("height", 256, "canvas height")
	f.Duration("poll-interval", gpuproc.DevicePollInterval, "actor maintenance period")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address")
	f.String("dump", "", "write the last presented frame to this PNG file")
	f.Int("thumbnail", 0, "scale the dump so its longer side is at most this size")
	f.String("trace", "", "record script-bound messages to this file")
	f.String("log-level", "info", "debug, info, warn or error")
}

func loadConfig(cmd *cobra.Command) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return Config{}, err
	}
	path := v.GetString("config")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("gpuprocd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config/")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch {
	case c.Width == 0 || c.Height == 0:
		return fmt.Errorf("invalid canvas size %dx%d", c.Width, c.Height)
	case c.Frames < 0:
		return fmt.Errorf("invalid frame count %d", c.Frames)
	case c.FPS <= 0:
		return fmt.Errorf("invalid fps %d", c.FPS)
	}
	_, err := c.level()
	return err
}

func (c Config) level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	return l, nil
}
