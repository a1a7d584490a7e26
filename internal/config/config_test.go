package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.BindAddr)
	assert.Equal(t, 100, cfg.MaxNumberOfPredictions)
	assert.Equal(t, 30*time.Second, cfg.ActionTimeout)
	assert.Equal(t, StoreMemory, cfg.ResolvedStore())
}

func TestLoadOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("MAX_NUMBER_OF_PREDICTIONS", "7")
	t.Setenv("ACTION_TIMEOUT", "2s")
	t.Setenv("SESSION_STORE", "SQLite")
	t.Setenv("APP_LOG_PRETTY", "yes")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.MaxNumberOfPredictions)
	assert.Equal(t, 2*time.Second, cfg.ActionTimeout)
	assert.Equal(t, StoreSQLite, cfg.ResolvedStore())
	assert.True(t, cfg.LogPretty)
}

func TestLoadAutoStorePicksPostgresWithDatabaseURL(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/converse")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StorePostgres, cfg.ResolvedStore())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"MAX_NUMBER_OF_PREDICTIONS": "0",
		"ACTION_TIMEOUT":            "soon",
		"SESSION_STORE":             "redis",
		"APP_ALLOW_ANY_ORIGIN":      "maybe",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadAssistantDefault(t *testing.T) {
	a, err := LoadAssistant("")
	require.NoError(t, err)
	assert.True(t, a.HasSlot("city"))
	assert.True(t, a.HasSlot("weather"))
	assert.Equal(t, "keyword", a.NLU.Type)
	require.Len(t, a.Policies, 2)
	assert.Equal(t, "guard", a.Policies[0].Type)
	assert.Equal(t, "weather_rules", a.Policies[1].Name)

	var opts struct {
		Rules []struct {
			ID string `yaml:"id"`
		} `yaml:"rules"`
	}
	require.NoError(t, a.Policies[1].Decode(&opts))
	require.NotEmpty(t, opts.Rules)
	assert.Equal(t, "lookup", opts.Rules[0].ID)
}

func TestLoadAssistantFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assistant.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: booking
slots:
  - name: step
policies:
  - type: step
    name: flow
`), 0o644))

	a, err := LoadAssistant(path)
	require.NoError(t, err)
	assert.Equal(t, "booking", a.Name)
	assert.Equal(t, "flow", a.Policies[0].Name)
}

func TestParseAssistantRejectsDuplicateSlots(t *testing.T) {
	_, err := ParseAssistant([]byte("slots:\n  - name: city\n  - name: city\n"))
	assert.ErrorContains(t, err, "duplicate slot")
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_LOG_LEVEL",
		"APP_LOG_PRETTY",
		"ASSISTANT_CONFIG_PATH",
		"SESSION_STORE",
		"SESSION_STORE_DIR",
		"SQLITE_PATH",
		"DATABASE_URL",
		"SESSION_MAX_EVENT_HISTORY",
		"SESSION_EXPIRATION",
		"SESSION_SWEEP_INTERVAL",
		"MAX_NUMBER_OF_PREDICTIONS",
		"ACTION_TIMEOUT",
		"POLICY_TIMEOUT",
		"WEATHER_API_URL",
		"WS_WRITE_TIMEOUT",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
