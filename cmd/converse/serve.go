package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ent0n29/converse/internal/app"
	"github.com/ent0n29/converse/internal/config"
	"github.com/ent0n29/converse/internal/logging"
)

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and websocket API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.BindAddr = addr
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides APP_BIND_ADDR)")
	return cmd
}

func serve(parent context.Context, cfg config.Config) error {
	runCtx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := app.Build(runCtx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			logging.Warn().Err(err).Msg("cleanup failed")
		}
	}()

	logging.Info().
		Str("assistant", res.Assistant.Name).
		Str("session_store", cfg.ResolvedStore()).
		Str("weather", res.Weather).
		Int("max_predictions", res.Processor.MaxPredictions()).
		Msg("assistant loaded")

	janitorDone := res.Processor.StartJanitor(runCtx, cfg.SessionSweepInterval, cfg.SessionExpiration)

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: res.API.Router(),
	}
	listenErr := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", cfg.BindAddr).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
		close(listenErr)
	}()

	select {
	case err := <-listenErr:
		if err != nil {
			return err
		}
	case <-runCtx.Done():
		logging.Info().Msg("shutdown signal received")
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("graceful shutdown failed")
		_ = httpServer.Close()
	}
	<-janitorDone

	logging.Info().Msg("shutdown complete")
	return nil
}
