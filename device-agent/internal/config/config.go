package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/juliusbiascan/EduInsight-Project-sub000/device-agent/internal/capture"
	pkgconfig "github.com/juliusbiascan/EduInsight-Project-sub000/pkg/config"
	pkglog "github.com/juliusbiascan/EduInsight-Project-sub000/pkg/log"
	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/protocol"
	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/wsconn"
)

type Config struct {
	Device  DeviceConfig   `mapstructure:"device"`
	Relay   wsconn.Config  `mapstructure:"relay"`
	Capture capture.Config `mapstructure:"capture"`
	Status  StatusConfig   `mapstructure:"status"`
	Log     pkglog.Config  `mapstructure:"log"`
}

type DeviceConfig struct {
	// ID is the roster id of this kiosk. Defaults to the hostname.
	ID string `mapstructure:"id"`
}

// StatusConfig configures the local status server.
type StatusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// Flags returns the command-line flags understood by the agent.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("device-agent", pflag.ContinueOnError)
	fs.String("config-path", "./config", "directory containing config.yaml")
	fs.String("device-id", "", "device id (defaults to the hostname)")
	fs.String("relay-url", "", "relay websocket URL")
	fs.String("relay-token", "", "device access token")
	fs.Duration("capture-interval", time.Second, "screen capture interval")
	fs.Int("capture-max-width", 1280, "downscale captured frames wider than this")
	fs.Int("status-port", 8090, "local status server port")
	fs.String("log-level", "info", "log level")
	fs.Bool("log-pretty", false, "human-readable console logs")
	return fs
}

func Load(fs *pflag.FlagSet) (*Config, error) {
	path := "./config"
	if fs != nil {
		if p, err := fs.GetString("config-path"); err == nil && p != "" {
			path = p
		}
	}

	v, err := pkgconfig.Load(pkgconfig.Options{Path: path, Name: "agent", Flags: fs})
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("relay.url", "ws://localhost:8084/ws")
	v.SetDefault("relay.handshake_timeout", "10s")
	v.SetDefault("relay.write_timeout", "10s")
	v.SetDefault("relay.pong_timeout", "60s")
	v.SetDefault("relay.ping_interval", "54s")
	v.SetDefault("relay.send_buffer", 16)
	v.SetDefault("relay.max_message_size", 1<<20)
	v.SetDefault("relay.reconnect.initial_interval", "1s")
	v.SetDefault("relay.reconnect.max_interval", "30s")
	v.SetDefault("relay.reconnect.multiplier", 2.0)
	v.SetDefault("relay.reconnect.max_retries", 0)
	v.SetDefault("capture.interval", "1s")
	v.SetDefault("capture.max_width", 1280)
	v.SetDefault("capture.format", protocol.FormatJPEG)
	v.SetDefault("capture.quality", 70)
	v.SetDefault("status.enabled", true)
	v.SetDefault("status.host", "127.0.0.1")
	v.SetDefault("status.port", 8090)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.service_name", "device-agent")

	// Override from environment
	v.BindEnv("device.id", "DEVICE_ID")
	v.BindEnv("relay.url", "RELAY_URL")
	v.BindEnv("relay.token", "DEVICE_TOKEN")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.Device.ID == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("device.id is not set and hostname is unavailable: %w", err)
		}
		cfg.Device.ID = host
	}
	cfg.Log.DeviceID = cfg.Device.ID

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the agent cannot start with.
func (c *Config) Validate() error {
	if c.Device.ID == "" {
		return fmt.Errorf("device.id is required")
	}
	if c.Relay.URL == "" {
		return fmt.Errorf("relay.url is required")
	}
	if c.Capture.Interval <= 0 {
		return fmt.Errorf("capture.interval must be positive")
	}
	switch c.Capture.Format {
	case protocol.FormatJPEG, protocol.FormatPNG:
	default:
		return fmt.Errorf("unknown capture.format %q", c.Capture.Format)
	}
	if c.Capture.Format == protocol.FormatJPEG && (c.Capture.Quality < 1 || c.Capture.Quality > 100) {
		return fmt.Errorf("capture.quality must be within 1..100")
	}
	return nil
}
