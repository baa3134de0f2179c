package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	pkgconfig "github.com/juliusbiascan/EduInsight-Project-sub000/pkg/config"
	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/database"
	pkglog "github.com/juliusbiascan/EduInsight-Project-sub000/pkg/log"
	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/pubsub"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Roster    RosterConfig    `mapstructure:"roster"`
	Database  database.Config `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Store     StoreConfig     `mapstructure:"store"`
	PubSub    pubsub.Config   `mapstructure:"pubsub"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Log       pkglog.Config   `mapstructure:"log"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	BroadcastQueue int           `mapstructure:"broadcast_queue"`
}

type AuthConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type RosterConfig struct {
	Driver   string        `mapstructure:"driver"` // "none", "database"
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type StoreConfig struct {
	Driver          string        `mapstructure:"driver"` // "memory", "redis"
	TTL             time.Duration `mapstructure:"ttl"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

type KafkaConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Brokers    string `mapstructure:"brokers"`
	Topic      string `mapstructure:"topic"`
	Partitions int    `mapstructure:"partitions"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Flags returns the command-line flags understood by the relay.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("relay-service", pflag.ContinueOnError)
	fs.String("config-path", "./config", "directory containing config.yaml")
	fs.Int("server-port", 8084, "HTTP listen port")
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

	v, err := pkgconfig.Load(pkgconfig.Options{Path: path, Name: "config", Flags: fs})
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8084)
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 8<<20)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("websocket.broadcast_queue", 1024)
	v.SetDefault("auth.enabled", true)
	v.SetDefault("auth.issuer", "")
	v.SetDefault("roster.driver", "none")
	v.SetDefault("roster.cache_ttl", "5m")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.dbname", "eduinsight")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.ttl", "90s")
	v.SetDefault("store.refresh_interval", "30s")
	v.SetDefault("pubsub.driver", pubsub.DriverMemory)
	v.SetDefault("pubsub.redis.address", "localhost:6379")
	v.SetDefault("pubsub.redis.pool_size", 10)
	v.SetDefault("pubsub.redis.read_timeout", "3s")
	v.SetDefault("pubsub.redis.write_timeout", "3s")
	v.SetDefault("pubsub.kafka.brokers", "localhost:9092")
	v.SetDefault("pubsub.kafka.group_id", "relay-service")
	v.SetDefault("pubsub.kafka.partitions", 4)
	v.SetDefault("pubsub.kafka.topics", []string{pubsub.TopicRelayFanout})
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "observation-events")
	v.SetDefault("kafka.partitions", 4)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.service_name", "relay-service")

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	v.BindEnv("auth.enabled", "AUTH_ENABLED")
	v.BindEnv("database.host", "DATABASE_HOST")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("pubsub.redis.address", "REDIS_ADDRESS")
	v.BindEnv("pubsub.redis.password", "REDIS_PASSWORD")
	v.BindEnv("pubsub.kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("pubsub.kafka.group_id", "KAFKA_PUBSUB_GROUP_ID")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("kafka.topic", "KAFKA_OBSERVATION_TOPIC")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the relay cannot start with.
func (c *Config) Validate() error {
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required when auth is enabled")
	}
	switch c.Roster.Driver {
	case "none", "database":
	default:
		return fmt.Errorf("unknown roster driver %q", c.Roster.Driver)
	}
	switch c.Store.Driver {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.WebSocket.PingInterval >= c.WebSocket.PongWait {
		return fmt.Errorf("websocket.ping_interval must be shorter than websocket.pong_wait")
	}
	return nil
}
