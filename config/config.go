package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/golobby/config/v3"
	"github.com/golobby/config/v3/pkg/feeder"
)

type Config struct {
	Backend   BackendConfig
	Intervals IntervalConfig
	Marquee   MarqueeConfig
	Pushover  PushoverConfig
}

type BackendConfig struct {
	URL          string `env:"BACKEND_URL"`
	APIKey       string `env:"BACKEND_API_KEY"`
	RealtimeURL  string `env:"BACKEND_REALTIME_URL"`
	ContentTable string `env:"BACKEND_CONTENT_TABLE"`
}

type IntervalConfig struct {
	HeartbeatSeconds      int `env:"HEARTBEAT_INTERVAL_SECONDS"`
	ExistenceCheckSeconds int `env:"EXISTENCE_CHECK_INTERVAL_SECONDS"`
	PairingPollSeconds    int `env:"PAIRING_POLL_SECONDS"`
}

type MarqueeConfig struct {
	AllowedOrigins      string `env:"MARQUEE_ALLOWED_ORIGINS"`
	CacheCapacityMB     int    `env:"MARQUEE_CACHE_CAPACITY_MB"`
	CacheDir            string `env:"MARQUEE_CACHE_DIR"`
	DbPath              string `env:"MARQUEE_DB_PATH"`
	DeviceName          string `env:"MARQUEE_DEVICE_NAME"`
	FetchTimeoutSeconds int    `env:"MARQUEE_FETCH_TIMEOUT_SECONDS"`
	ImageCommand        string `env:"MARQUEE_IMAGE_COMMAND"`
	ListenAddr          string `env:"MARQUEE_LISTEN_ADDR"`
	LogLevel            string `env:"MARQUEE_LOG_LEVEL"`
	StoreID             string `env:"MARQUEE_STORE_ID"`
	VideoCommand        string `env:"MARQUEE_VIDEO_COMMAND"`
}

type PushoverConfig struct {
	Recipient string `env:"PUSHOVER_RECIPIENT"`
	Token     string `env:"PUSHOVER_TOKEN"`
}

const (
	defaultAllowedOrigins  = "http://localhost:8080"
	defaultCacheCapacityMB = 500
	defaultContentTable    = "playlist_content"
	defaultFetchTimeout    = 15
	defaultHeartbeat       = 60
	defaultExistenceCheck  = 60
	defaultPairingPoll     = 5
	defaultListenAddr      = ":8080"
	defaultImageCommand    = "feh --fullscreen --hide-pointer -"
	defaultVideoCommand    = "mpv --fs --really-quiet -"
)

var ErrMissingBackend = errors.New("BACKEND_URL and BACKEND_API_KEY must be provided")

// Load feeds a Config from an optional dotenv file followed by the process
// environment, which wins on conflicts.
func Load(dotenvPath string) (Config, error) {
	var cfg Config

	c := config.New()
	if dotenvPath != "" {
		if _, err := os.Stat(dotenvPath); err == nil {
			c.AddFeeder(feeder.DotEnv{Path: dotenvPath})
		}
	}
	c.AddFeeder(feeder.Env{})
	c.AddStruct(&cfg)

	if err := c.Feed(); err != nil {
		return cfg, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.applyDefaults()

	if cfg.Backend.URL == "" || cfg.Backend.APIKey == "" {
		return cfg, ErrMissingBackend
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	c.Backend.URL = strings.TrimSuffix(c.Backend.URL, "/")
	if c.Backend.RealtimeURL == "" && c.Backend.URL != "" {
		c.Backend.RealtimeURL = c.Backend.URL + "/realtime/v1/events"
	}
	if c.Backend.ContentTable == "" {
		c.Backend.ContentTable = defaultContentTable
	}
	if c.Intervals.HeartbeatSeconds <= 0 {
		c.Intervals.HeartbeatSeconds = defaultHeartbeat
	}
	if c.Intervals.ExistenceCheckSeconds <= 0 {
		c.Intervals.ExistenceCheckSeconds = defaultExistenceCheck
	}
	if c.Intervals.PairingPollSeconds <= 0 {
		c.Intervals.PairingPollSeconds = defaultPairingPoll
	}
	if c.Marquee.AllowedOrigins == "" {
		c.Marquee.AllowedOrigins = defaultAllowedOrigins
	}
	if c.Marquee.CacheCapacityMB <= 0 {
		c.Marquee.CacheCapacityMB = defaultCacheCapacityMB
	}
	if c.Marquee.CacheDir == "" {
		c.Marquee.CacheDir = os.TempDir() + "/marquee-cache"
	}
	if c.Marquee.DbPath == "" {
		c.Marquee.DbPath = "marquee.db"
	}
	if c.Marquee.FetchTimeoutSeconds <= 0 {
		c.Marquee.FetchTimeoutSeconds = defaultFetchTimeout
	}
	if c.Marquee.ListenAddr == "" {
		c.Marquee.ListenAddr = defaultListenAddr
	}
	if c.Marquee.ImageCommand == "" {
		c.Marquee.ImageCommand = defaultImageCommand
	}
	if c.Marquee.VideoCommand == "" {
		c.Marquee.VideoCommand = defaultVideoCommand
	}
	if c.Marquee.DeviceName == "" {
		if hostname, err := os.Hostname(); err == nil {
			c.Marquee.DeviceName = hostname
		}
	}
}

func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Intervals.HeartbeatSeconds) * time.Second
}

func (c *Config) ExistenceCheckInterval() time.Duration {
	return time.Duration(c.Intervals.ExistenceCheckSeconds) * time.Second
}

func (c *Config) PairingPollInterval() time.Duration {
	return time.Duration(c.Intervals.PairingPollSeconds) * time.Second
}

func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Marquee.FetchTimeoutSeconds) * time.Second
}

func (c *Config) CacheCapacityBytes() int64 {
	return int64(c.Marquee.CacheCapacityMB) * 1024 * 1024
}

func (c *Config) AllowedOriginList() []string {
	origins := []string{}
	for _, origin := range strings.Split(c.Marquee.AllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

func (c *Config) GetLogLevel() slog.Leveler {
	logLevel := strings.ToLower(c.Marquee.LogLevel)
	if logLevel == "error" {
		return slog.LevelError
	}
	if logLevel == "warning" {
		return slog.LevelWarn
	}
	if logLevel == "info" {
		return slog.LevelInfo
	}
	if logLevel == "debug" {
		return slog.LevelDebug
	}
	// default to info if unknown
	slog.With(slog.String("log_level", logLevel)).Info("Received invalid log level. Defaulting to INFO.")
	return slog.LevelInfo
}
