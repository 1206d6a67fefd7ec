package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "campaign-tracker.db", cfg.Store.DatabaseURL)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.False(t, cfg.Server.DevMode)
	assert.InDelta(t, 5.0, cfg.Server.ErrorTrackingRPS, 0.001)
	assert.Equal(t, 10, cfg.Server.ErrorTrackingBurst)
	assert.Equal(t, "https://us.i.posthog.com", cfg.PostHog.Host)
	assert.Empty(t, cfg.PostHog.APIKey)
	assert.Equal(t, 5, cfg.PostHog.FlushTimeoutSecs)
	assert.Equal(t, 4, cfg.Attribution.SessionTTLHours)
	assert.Equal(t, 100, cfg.Capture.BufferSize)
	assert.Equal(t, 15, cfg.Capture.EngagementIntervalSecs)
	assert.InDelta(t, 30, cfg.Capture.EngagementThreshold, 0.001)
	assert.Equal(t, 500, cfg.Widget.PollIntervalMs)
	assert.Equal(t, 10, cfg.Widget.PollMaxAttempts)
	assert.Contains(t, cfg.Widget.FallbackURL, "calendly.com")
	assert.NotEmpty(t, cfg.Widget.FallbackPhone)
	assert.Equal(t, "https://login.salesforce.com", cfg.Salesforce.LoginURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/tracker
server:
  port: 9090
  dev_mode: true
posthog:
  api_key: phc_test
capture:
  buffer_size: 25
flags:
  defaults:
    newsletter_popup: true
    video_autoplay: false
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/tracker", cfg.Store.DatabaseURL)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Server.DevMode)
	assert.Equal(t, "phc_test", cfg.PostHog.APIKey)
	assert.Equal(t, 25, cfg.Capture.BufferSize)
	assert.Equal(t, map[string]bool{"newsletter_popup": true, "video_autoplay": false}, cfg.Flags.Defaults)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	// Defaults still apply for unset values
	assert.Equal(t, 500, cfg.Widget.PollIntervalMs)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))
	t.Setenv("TRACKER_SERVER_PORT", "7070")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))

	err := InitLogger(LogConfig{Level: "bogus", Format: "json"})
	require.Error(t, err)
}
