package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all server configuration.
// Priority: ENV vars > .env file > envDefault.
type Config struct {
	Port             string   `env:"PORT" envDefault:"8082"`
	AllowedOrigins   []string `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	AllowCredentials bool     `env:"ALLOW_CREDENTIALS" envDefault:"false"`
	Environment      string   `env:"ENVIRONMENT" envDefault:"development"`
	InstanceID       string   `env:"INSTANCE_ID"`

	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     string `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	KafkaGroupID string   `env:"KAFKA_GROUP_ID" envDefault:"realtime-ws-group"`

	BadgerPath string `env:"BADGER_PATH" envDefault:"./data/badger"`

	JWTSecret        string        `env:"JWT_SECRET,required,notEmpty"`
	HandshakeTimeout time.Duration `env:"HANDSHAKE_TIMEOUT" envDefault:"5s"`
	ProviderRole     string        `env:"PROVIDER_ROLE" envDefault:"worker"`

	// Backends for shared state: "memory" for a single process, "redis" for a cluster.
	PresenceBackend     string        `env:"PRESENCE_BACKEND" envDefault:"memory"`
	PresenceTTL         time.Duration `env:"PRESENCE_TTL" envDefault:"2m"`
	RateLimitBackend    string        `env:"RATE_LIMIT_BACKEND" envDefault:"memory"`
	OfflineQueueBackend string        `env:"OFFLINE_QUEUE_BACKEND" envDefault:"memory"`

	RateLimitWindowSeconds int `env:"RATE_LIMIT_WINDOW_SECONDS" envDefault:"60"`
	RateLimitMaxSends      int `env:"RATE_LIMIT_MAX_SENDS" envDefault:"60"`
	RateLimitMaxCreates    int `env:"RATE_LIMIT_MAX_CREATES" envDefault:"10"`

	OfflineQueueTTL    time.Duration `env:"OFFLINE_QUEUE_TTL" envDefault:"168h"`
	OfflineQueueMaxLen int           `env:"OFFLINE_QUEUE_MAX_LEN" envDefault:"500"`

	// Empty or memory:// keeps fanout in process; redis:// and nats:// share it across instances.
	FanoutBusEndpoint string `env:"FANOUT_BUS_ENDPOINT"`
	FanoutChannel     string `env:"FANOUT_CHANNEL" envDefault:"realtime.rooms"`

	ClientFrameRate  float64 `env:"CLIENT_FRAME_RATE" envDefault:"20"`
	ClientFrameBurst int     `env:"CLIENT_FRAME_BURST" envDefault:"40"`
	SendBufferSize   int     `env:"SEND_BUFFER_SIZE" envDefault:"256"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// LoadConfig reads configuration from an optional .env file and the environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	for i, origin := range cfg.AllowedOrigins {
		cfg.AllowedOrigins[i] = strings.TrimSpace(origin)
	}
	for i, broker := range cfg.KafkaBrokers {
		cfg.KafkaBrokers[i] = strings.TrimSpace(broker)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.RateLimitWindowSeconds <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW_SECONDS must be positive, got %d", c.RateLimitWindowSeconds)
	}
	if c.RateLimitMaxSends <= 0 || c.RateLimitMaxCreates <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	if c.OfflineQueueMaxLen <= 0 {
		return fmt.Errorf("OFFLINE_QUEUE_MAX_LEN must be positive, got %d", c.OfflineQueueMaxLen)
	}
	if c.OfflineQueueTTL <= 0 || c.HandshakeTimeout <= 0 {
		return fmt.Errorf("OFFLINE_QUEUE_TTL and HANDSHAKE_TIMEOUT must be positive")
	}
	if c.SendBufferSize <= 0 {
		return fmt.Errorf("SEND_BUFFER_SIZE must be positive, got %d", c.SendBufferSize)
	}
	for name, backend := range map[string]string{
		"PRESENCE_BACKEND":      c.PresenceBackend,
		"RATE_LIMIT_BACKEND":    c.RateLimitBackend,
		"OFFLINE_QUEUE_BACKEND": c.OfflineQueueBackend,
	} {
		if backend != "memory" && backend != "redis" {
			return fmt.Errorf("%s must be memory or redis, got %q", name, backend)
		}
	}
	return nil
}

// RateLimitWindow returns the fixed window length.
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}

// UsesRedis reports whether any shared-state backend needs the Redis client.
func (c *Config) UsesRedis() bool {
	return c.PresenceBackend == "redis" || c.RateLimitBackend == "redis" || c.OfflineQueueBackend == "redis" ||
		strings.HasPrefix(c.FanoutBusEndpoint, "redis://")
}

// GetCORSOrigins returns CORS origins as a comma-separated string
func (c *Config) GetCORSOrigins() string {
	if c.Environment == "production" && len(c.AllowedOrigins) > 0 && c.AllowedOrigins[0] != "*" {
		return strings.Join(c.AllowedOrigins, ",")
	}
	return "*"
}

// IsDevelopment returns true if environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
