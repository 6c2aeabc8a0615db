package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	req := require.New(t)
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := LoadConfig()
	req.NoError(err)
	req.Equal("8082", cfg.Port)
	req.Equal(60, cfg.RateLimitMaxSends)
	req.Equal(10, cfg.RateLimitMaxCreates)
	req.Equal(time.Minute, cfg.RateLimitWindow())
	req.Equal(7*24*time.Hour, cfg.OfflineQueueTTL)
	req.Equal("memory", cfg.PresenceBackend)
	req.False(cfg.UsesRedis())
	req.Equal("*", cfg.GetCORSOrigins())
	req.True(cfg.IsDevelopment())
}

func TestLoadConfig_RequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoadConfig_ProductionOrigins(t *testing.T) {
	req := require.New(t)
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("FANOUT_BUS_ENDPOINT", "redis://cache:6379/0")

	cfg, err := LoadConfig()
	req.NoError(err)
	req.True(cfg.IsProduction())
	req.Equal("https://a.example,https://b.example", cfg.GetCORSOrigins())
	req.True(cfg.UsesRedis())
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			RateLimitWindowSeconds: 60,
			RateLimitMaxSends:      60,
			RateLimitMaxCreates:    10,
			OfflineQueueMaxLen:     10,
			OfflineQueueTTL:        time.Hour,
			HandshakeTimeout:       time.Second,
			SendBufferSize:         8,
			PresenceBackend:        "memory",
			RateLimitBackend:       "redis",
			OfflineQueueBackend:    "memory",
		}
	}
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"zero window", func(c *Config) { c.RateLimitWindowSeconds = 0 }, true},
		{"negative sends", func(c *Config) { c.RateLimitMaxSends = -1 }, true},
		{"zero queue length", func(c *Config) { c.OfflineQueueMaxLen = 0 }, true},
		{"unknown backend", func(c *Config) { c.PresenceBackend = "etcd" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
