package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	Storage  string `envconfig:"STORAGE" default:"data"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"INFO"`

	Catalog struct {
		URL         string  `split_words:"true" default:"https://s5phub.copernicus.eu/dhus"`
		Username    string  `split_words:"true" default:"s5pguest"`
		Password    string  `split_words:"true" default:"s5pguest"`
		TokenURL    string  `split_words:"true"`
		ClientID    string  `split_words:"true"`
		PageSize    int     `split_words:"true" default:"100"`
		RequestRate float64 `split_words:"true" default:"5"`
	}

	MaxParallel       int           `envconfig:"MAX_PARALLEL" default:"1"`
	Schedule          string        `envconfig:"SCHEDULE"`
	DBPath            string        `envconfig:"DB_PATH"`
	KeepDownloadedFor time.Duration `envconfig:"KEEP_DOWNLOADED_FOR" default:"0s"`
	DiscordWebhookURL string        `envconfig:"DISCORD_WEBHOOK_URL"`

	Telemetry struct {
		Enabled      bool   `default:"false"`
		Exporter     string `default:"prometheus"`
		OTLPEndpoint string `split_words:"true"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:9090"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}

	Mirror struct {
		Endpoint  string
		Bucket    string
		AccessKey string `split_words:"true"`
		SecretKey string `split_words:"true"`
		Region    string
		Prefix    string
		UseSSL    bool `split_words:"true" default:"true"`
	}
}

// LoadConfig loads an optional .env file from the working directory, then
// reads environment variables into a Config.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

// Scheduled reports whether the process runs cycles on a schedule instead of
// once.
func (c *Config) Scheduled() bool {
	return c.Schedule != ""
}

// MirrorEnabled reports whether downloaded products are copied to a bucket.
func (c *Config) MirrorEnabled() bool {
	return c.Mirror.Endpoint != "" && c.Mirror.Bucket != ""
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
