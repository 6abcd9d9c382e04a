package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.RetryMaxRetries)
	assert.Equal(t, 10, cfg.RetryMaxQuotaRetries)
	assert.Equal(t, int64(1048576), cfg.InlineThresholdBytes)
	assert.Equal(t, int64(1024), cfg.PreviewSizeBytes)
	assert.True(t, cfg.EnableEventMonitoring)
}

func TestIsolationRequired(t *testing.T) {
	cases := []struct {
		name        string
		environment string
		hostOS      string
		want        bool
	}{
		{"prod linux", "production", "linux", true},
		{"local darwin", "local", "darwin", false},
		{"local linux", "local", "linux", true},
		{"dev darwin", "dev", "darwin", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Config{Environment: tc.environment, HostOS: tc.hostOS}
			assert.Equal(t, tc.want, c.IsolationRequired())
		})
	}
}

func TestGetRetryConfigTestModeIsFast(t *testing.T) {
	c := Config{AppEnv: "test", RetryMaxRetries: 5, RetryMaxQuotaRetries: 10, RetryBase: time.Second, RetryCap: 10 * time.Minute}
	rc := c.GetRetryConfig()
	assert.Less(t, rc.Cap, 10*time.Minute)
	assert.Equal(t, 5, rc.MaxRetries)
}

func TestEnvModeHelpers(t *testing.T) {
	assert.True(t, Config{AppEnv: "dev"}.IsDev())
	assert.True(t, Config{AppEnv: "prod"}.IsProd())
	assert.True(t, Config{AppEnv: "test"}.IsTest())
}
