package config

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_ValidateSSLMode(t *testing.T) {
	tests := []struct {
		name        string
		env         string
		sslMode     string
		expectError bool
	}{
		{"Production with empty SSL mode", "production", "", true},
		{"Production with disable SSL mode", "production", "disable", true},
		{"Production with require SSL mode", "production", "require", false},
		{"Prod with verify-full SSL mode", "prod", "verify-full", false},
		{"Development with disable SSL mode", "development", "disable", false},
		{"Test with empty SSL mode", "test", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{
				Env:        tt.env,
				DBSSLMode:  tt.sslMode,
				JWTSecret:  "secure-secret-at-least-32-chars-long",
				DBPassword: "secure-password",
				Port:       "8080",
			}

			err := c.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateRejectsNegativeDurations(t *testing.T) {
	c := &Config{Port: "8080", JWTSecret: "secure-secret-at-least-32-chars-long", RoomGapTimeout: -time.Second}
	assert.Error(t, c.Validate())

	c = &Config{Port: "8080", JWTSecret: "secure-secret-at-least-32-chars-long", TrendingRefreshInterval: -time.Second}
	assert.Error(t, c.Validate())
}

func TestConfig_Brokers(t *testing.T) {
	c := &Config{KafkaBrokers: " kafka-1:9092, ,kafka-2:9092 "}
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, c.Brokers())

	c.KafkaBrokers = ""
	assert.Empty(t, c.Brokers())
}

func TestLoadConfig_DefaultsAndNormalization(t *testing.T) {
	defer viper.Reset()
	defer os.Unsetenv("APP_ENV")
	defer os.Unsetenv("DB_SSLMODE")
	defer os.Unsetenv("ROOM_GAP_TIMEOUT")

	os.Setenv("APP_ENV", "test")
	os.Setenv("DB_SSLMODE", "  DISABLE  ")
	os.Setenv("ROOM_GAP_TIMEOUT", "500ms")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "disable", cfg.DBSSLMode)
	assert.Equal(t, 500*time.Millisecond, cfg.RoomGapTimeout)
	assert.Equal(t, 30*time.Second, cfg.TrendingCacheTTL)
	assert.Equal(t, "engagement-events", cfg.KafkaEngagementTopic)
	assert.False(t, cfg.IsProduction())
}
