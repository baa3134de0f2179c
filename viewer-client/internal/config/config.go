package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"

	pkgconfig "github.com/juliusbiascan/EduInsight-Project-sub000/pkg/config"
	pkglog "github.com/juliusbiascan/EduInsight-Project-sub000/pkg/log"
	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/wsconn"
)

// HostnamePlaceholder in relay.url is replaced by the device's hostname
// from the relay roster.
const HostnamePlaceholder = "{hostname}"

type Config struct {
	Device  DeviceConfig  `mapstructure:"device"`
	Relay   wsconn.Config `mapstructure:"relay"`
	Roster  RosterConfig  `mapstructure:"roster"`
	Gateway GatewayConfig `mapstructure:"gateway"`
	Log     pkglog.Config `mapstructure:"log"`
}

type DeviceConfig struct {
	ID string `mapstructure:"id"`
}

// RosterConfig points at the relay HTTP API used to resolve devices.
type RosterConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// GatewayConfig configures the local HTTP bridge used by the browser UI.
type GatewayConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Flags returns the command-line flags understood by the viewer.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("viewer-client", pflag.ContinueOnError)
	fs.String("config-path", "./config", "directory containing viewer.yaml")
	fs.String("device-id", "", "device to observe")
	fs.String("relay-url", "", "relay websocket URL, may contain {hostname}")
	fs.String("relay-token", "", "viewer access token")
	fs.String("roster-base-url", "", "relay HTTP API base URL")
	fs.Int("gateway-port", 8091, "local gateway port")
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

	v, err := pkgconfig.Load(pkgconfig.Options{Path: path, Name: "viewer", Flags: fs})
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("relay.url", "ws://localhost:8084/ws")
	v.SetDefault("relay.handshake_timeout", "10s")
	v.SetDefault("relay.write_timeout", "10s")
	v.SetDefault("relay.pong_timeout", "60s")
	v.SetDefault("relay.ping_interval", "54s")
	v.SetDefault("relay.send_buffer", 256)
	v.SetDefault("relay.max_message_size", 8<<20)
	v.SetDefault("relay.reconnect.initial_interval", "500ms")
	v.SetDefault("relay.reconnect.max_interval", "15s")
	v.SetDefault("relay.reconnect.multiplier", 2.0)
	v.SetDefault("relay.reconnect.max_retries", 20)
	v.SetDefault("roster.base_url", "http://localhost:8084")
	v.SetDefault("roster.cache_ttl", "1m")
	v.SetDefault("roster.timeout", "5s")
	v.SetDefault("gateway.host", "127.0.0.1")
	v.SetDefault("gateway.port", 8091)
	v.SetDefault("gateway.shutdown_timeout", "5s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.service_name", "viewer-client")

	// Override from environment
	v.BindEnv("device.id", "DEVICE_ID")
	v.BindEnv("relay.url", "RELAY_URL")
	v.BindEnv("relay.token", "VIEWER_TOKEN")
	v.BindEnv("roster.base_url", "RELAY_API_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the viewer cannot start with.
func (c *Config) Validate() error {
	if c.Device.ID == "" {
		return fmt.Errorf("device.id is required")
	}
	if c.Relay.URL == "" {
		return fmt.Errorf("relay.url is required")
	}
	if c.ResolvesHostname() && c.Roster.BaseURL == "" {
		return fmt.Errorf("roster.base_url is required when relay.url contains %s", HostnamePlaceholder)
	}
	return nil
}

// ResolvesHostname reports whether the relay URL is a per-device template.
func (c *Config) ResolvesHostname() bool {
	return strings.Contains(c.Relay.URL, HostnamePlaceholder)
}
