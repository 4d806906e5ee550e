package env

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Host     string        `env:"TEST_HOST"`
	Port     int           `env:"TEST_PORT"`
	Enabled  bool          `env:"TEST_ENABLED"`
	Rate     float64       `env:"TEST_RATE"`
	Interval time.Duration `env:"TEST_INTERVAL"`
	NoTag    string
}

func TestLoad(t *testing.T) {
	os.Clearenv()
	os.Setenv("TEST_HOST", "example.com")
	os.Setenv("TEST_PORT", "9090")
	os.Setenv("TEST_ENABLED", "true")
	os.Setenv("TEST_RATE", "0.25")
	os.Setenv("TEST_INTERVAL", "1m30s")

	var cfg testConfig
	err := Load(&cfg)
	require.NoError(t, err)

	assert.Equal(t, "example.com", cfg.Host)
	assert.Equal(t, 9090, cfg.Port)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 0.25, cfg.Rate)
	assert.Equal(t, 90*time.Second, cfg.Interval)
	assert.Empty(t, cfg.NoTag)
}

func TestLoad_UnsetFieldsKeepZeroValues(t *testing.T) {
	os.Clearenv()

	cfg := testConfig{Host: "preset"}
	err := Load(&cfg)
	require.NoError(t, err)

	// Unset env vars leave the struct untouched; defaults belong to callers.
	assert.Equal(t, "preset", cfg.Host)
	assert.Zero(t, cfg.Port)
	assert.False(t, cfg.Enabled)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		envVar string
		value  string
	}{
		{"bad int", "TEST_PORT", "not-a-number"},
		{"bad bool", "TEST_ENABLED", "yes please"},
		{"bad float", "TEST_RATE", "fast"},
		{"bad duration", "TEST_INTERVAL", "90"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			os.Setenv(tt.envVar, tt.value)

			var cfg testConfig
			err := Load(&cfg)
			require.Error(t, err)

			var invalid ErrInvalidValue
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tt.envVar, invalid.EnvVar)
			assert.Equal(t, tt.value, invalid.Value)
		})
	}
}

func TestLoad_NotStructPointer(t *testing.T) {
	var cfg testConfig
	err := Load(cfg)
	var wrongType ErrNotStructPointer
	assert.ErrorAs(t, err, &wrongType)

	var n int
	err = Load(&n)
	assert.ErrorAs(t, err, &wrongType)
}

type nestedConfig struct {
	Inner validatedSection
	Name  string `env:"TEST_NAME"`
}

type validatedSection struct {
	Level int `env:"TEST_LEVEL"`
}

var errLevelTooHigh = errors.New("level too high")

func (s *validatedSection) Validate() error {
	if s.Level > 10 {
		return errLevelTooHigh
	}
	return nil
}

func TestLoad_NestedStructsAndValidation(t *testing.T) {
	os.Clearenv()
	os.Setenv("TEST_NAME", "app")
	os.Setenv("TEST_LEVEL", "3")

	var cfg nestedConfig
	require.NoError(t, Load(&cfg))
	assert.Equal(t, "app", cfg.Name)
	assert.Equal(t, 3, cfg.Inner.Level)

	os.Setenv("TEST_LEVEL", "11")
	err := Load(&nestedConfig{})
	assert.ErrorIs(t, err, errLevelTooHigh)
}
