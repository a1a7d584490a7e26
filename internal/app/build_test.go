package app

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/converse/internal/channel"
	"github.com/ent0n29/converse/internal/config"
	"github.com/ent0n29/converse/internal/processor"
)

func testConfig(t *testing.T, backend string) config.Config {
	t.Helper()
	return config.Config{
		MetricsNamespace:       "app_test",
		SessionStore:           backend,
		SessionStoreDir:        t.TempDir(),
		SQLitePath:             filepath.Join(t.TempDir(), "converse.db"),
		MaxNumberOfPredictions: 10,
		ActionTimeout:          time.Second,
		PolicyTimeout:          time.Second,
	}
}

func TestBuildWiresAConversation(t *testing.T) {
	for _, backend := range []string{config.StoreMemory, config.StoreFile, config.StoreSQLite} {
		t.Run(backend, func(t *testing.T) {
			res, err := BuildWithRegistry(context.Background(), testConfig(t, backend), prometheus.NewRegistry())
			require.NoError(t, err)
			t.Cleanup(func() { assert.NoError(t, res.Cleanup()) })

			assert.Equal(t, "static", res.Weather)
			assert.Equal(t, 10, res.Processor.MaxPredictions())

			out := channel.NewCollecting()
			err = res.Processor.HandleMessage(context.Background(), processor.UserMessage{
				SessionID: "u1",
				Text:      "weather in Oslo today please",
				Output:    out,
			})
			require.NoError(t, err)

			texts := out.Texts()
			require.Len(t, texts, 2)
			assert.True(t, strings.HasPrefix(texts[1], "The weather in Oslo today: "), texts[1])

			s, err := res.Store.Get(context.Background(), "u1")
			require.NoError(t, err)
			city, _ := s.SlotValue("city")
			assert.Equal(t, "Oslo", city)
		})
	}
}

func TestBuildUsesHTTPWeatherWhenConfigured(t *testing.T) {
	cfg := testConfig(t, config.StoreMemory)
	cfg.WeatherAPIURL = "http://127.0.0.1:1/forecast"
	res, err := BuildWithRegistry(context.Background(), cfg, prometheus.NewRegistry())
	require.NoError(t, err)
	defer res.Cleanup()
	assert.Equal(t, "http http://127.0.0.1:1/forecast", res.Weather)
}

func TestBuildRejectsBadAssistant(t *testing.T) {
	cfg := testConfig(t, config.StoreMemory)
	cfg.AssistantConfigPath = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := BuildWithRegistry(context.Background(), cfg, prometheus.NewRegistry())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "assistant config")
}
