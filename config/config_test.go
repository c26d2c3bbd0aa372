package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketclock/reminder-engine/config"
	"github.com/marketclock/reminder-engine/engine"
)

func TestLoad_FirstRunWritesDefaults(t *testing.T) {
	// GIVEN: No config file yet
	path := filepath.Join(t.TempDir(), "conf", "config.yaml")

	// WHEN: The config is loaded
	cfg, err := config.Load(path)
	require.NoError(t, err)

	// THEN: Defaults are returned and persisted with owner-only permissions
	assert.Equal(t, config.DefaultConfig(), cfg)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoad_NormalizesPartialFile(t *testing.T) {
	// GIVEN: A file that sets only some fields, some of them invalid
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
listen: ":9090"
timezone: "Not/AZone"
store:
  driver: Postgres
  postgres_dsn: "postgres://localhost/reminders"
policy:
  daily_reminder_cap: 20
  max_reminders_per_event: 9
quiet_hours:
  enabled: true
  start: 25
  mode: downgrade
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	// WHEN: It is loaded
	cfg, err := config.Load(path)
	require.NoError(t, err)

	// THEN: Valid values are kept and the rest fall back to defaults
	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "UTC", cfg.Timezone)
	assert.Equal(t, config.DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, 20, cfg.Policy.DailyReminderCap)
	assert.Equal(t, engine.MaxRemindersPerEvent, cfg.Policy.MaxRemindersPerEvent)
	assert.Equal(t, 22, cfg.QuietHours.Start)
	assert.Equal(t, 7, cfg.QuietHours.End)
	assert.Equal(t, "@every 1m", cfg.Dispatcher.Schedule)

	prefs := cfg.DefaultPreferences()
	assert.True(t, prefs.QuietHoursEnabled)
	assert.Equal(t, engine.QuietHoursDowngrade, prefs.QuietHoursMode)
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := config.DefaultConfig()
	cfg.Policy.ThrottleSeconds = 120
	cfg.Push.WebhookURL = "https://push.example.test/hook"

	require.NoError(t, config.Save(path, cfg))
	got, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, cfg, got)
	assert.Equal(t, 2*time.Minute, got.EnginePolicy().ThrottleWindow)
}

func TestSave_RejectsEmptyInput(t *testing.T) {
	assert.Error(t, config.Save("", config.DefaultConfig()))
	assert.Error(t, config.Save(filepath.Join(t.TempDir(), "c.yaml"), nil))
}
