package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ent0n29/converse/internal/action"
	"github.com/ent0n29/converse/internal/config"
	"github.com/ent0n29/converse/internal/eventbus"
	"github.com/ent0n29/converse/internal/httpapi"
	"github.com/ent0n29/converse/internal/logging"
	"github.com/ent0n29/converse/internal/nlu"
	"github.com/ent0n29/converse/internal/observability"
	"github.com/ent0n29/converse/internal/policy"
	"github.com/ent0n29/converse/internal/processor"
	"github.com/ent0n29/converse/internal/session"
	"github.com/ent0n29/converse/internal/store"
)

type BuildResult struct {
	Config    config.Config
	Assistant config.Assistant
	API       *httpapi.Server
	Processor *processor.Processor
	Store     session.Store
	Bus       *eventbus.Bus
	Metrics   *observability.Metrics
	Window    *observability.StageWindow
	// Weather says which forecast backend find_weather uses.
	Weather string

	// Cleanup should be called on shutdown to release external resources (DB, bus).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	return BuildWithRegistry(ctx, cfg, nil)
}

// BuildWithRegistry registers metrics on reg and serves them from /metrics.
// A nil reg uses the Prometheus default registry.
func BuildWithRegistry(ctx context.Context, cfg config.Config, reg *prometheus.Registry) (*BuildResult, error) {
	assistant, err := config.LoadAssistant(cfg.AssistantConfigPath)
	if err != nil {
		return nil, fmt.Errorf("assistant config: %w", err)
	}

	weather, weatherDetail := resolveWeather(cfg)
	actions := action.NewRegistry()
	if err := action.RegisterBuiltins(actions, action.BuiltinOptions{
		Greeting: assistant.Greeting,
		Weather:  weather,
	}); err != nil {
		return nil, fmt.Errorf("register actions: %w", err)
	}

	policies, err := policy.NewRegistry().Build(assistant.Policies, policy.Deps{Actions: actions, Assistant: assistant})
	if err != nil {
		return nil, fmt.Errorf("policy init failed: %w", err)
	}

	parser, err := nlu.New(assistant.NLU)
	if err != nil {
		return nil, fmt.Errorf("nlu init failed: %w", err)
	}

	sessions, err := store.Open(ctx, store.OptionsFromConfig(cfg, assistant.Template(cfg.SessionMaxEventHistory)))
	if err != nil {
		return nil, fmt.Errorf("session store init failed: %w", err)
	}

	var (
		metrics        *observability.Metrics
		metricsHandler http.Handler
	)
	if reg != nil {
		metrics = observability.NewMetrics(cfg.MetricsNamespace, reg)
		metricsHandler = observability.HandlerFor(reg)
	} else {
		metrics = observability.NewMetrics(cfg.MetricsNamespace, nil)
	}
	window := observability.NewStageWindow(0)
	bus := eventbus.New()

	proc, err := processor.New(sessions, policy.NewLocalManager(cfg.PolicyTimeout, policies...), actions, parser,
		processor.WithMaxPredictions(cfg.MaxNumberOfPredictions),
		processor.WithActionTimeout(cfg.ActionTimeout),
		processor.WithMetrics(metrics),
		processor.WithStageWindow(window),
		processor.WithEventBus(bus),
		processor.WithCircuitBreakHook(func(sessionID string, rounds int) {
			window.ObserveIndicator("circuit_break")
			logging.Session(sessionID).Error().Int("rounds", rounds).Msg("prediction loop circuit breaker tripped")
		}),
	)
	if err != nil {
		_ = bus.Close()
		_ = sessions.Close()
		return nil, fmt.Errorf("processor init failed: %w", err)
	}

	api := httpapi.New(cfg, httpapi.Deps{
		Processor: proc,
		Store:     sessions,
		Bus:       bus,
		Metrics:   metrics,
		Window:    window,

		MetricsHandler: metricsHandler,
	})

	cleanup := func() error {
		var errs []string
		if err := bus.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if err := sessions.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:    cfg,
		Assistant: assistant,
		API:       api,
		Processor: proc,
		Store:     sessions,
		Bus:       bus,
		Metrics:   metrics,
		Window:    window,
		Weather:   weatherDetail,
		Cleanup:   cleanup,
	}, nil
}

func resolveWeather(cfg config.Config) (action.WeatherProvider, string) {
	if u := strings.TrimSpace(cfg.WeatherAPIURL); u != "" {
		return action.NewHTTPWeather(u, cfg.ActionTimeout), "http " + u
	}
	return action.StaticWeather{}, "static"
}
