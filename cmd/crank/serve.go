package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"epoch-crank/internal/api"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP triggers, and tick in process when CRANK_INTERVAL is set",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(appOptions{needSigner: true})
		if err != nil {
			return err
		}
		defer a.Close()
		if cfg.APISecretKey == "" {
			a.log.Warn().Msg("API_SECRET_KEY is empty, every trigger request will be refused")
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		router := api.NewRouter(a.pipeline, api.Config{
			Secret:    cfg.APISecretKey,
			RunBudget: cfg.RunBudget,
		}, a.metrics, prometheus.DefaultGatherer, a.log)
		srv := api.NewServer(router, cfg.HTTPAddr, cfg.RunBudget)

		errCh := make(chan error, 2)
		go func() {
			a.log.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
		if cfg.CrankInterval > 0 {
			go func() {
				if err := a.pipeline.Run(ctx, cfg.CrankInterval); err != nil {
					errCh <- err
				}
			}()
		}

		select {
		case <-ctx.Done():
		case err = <-errCh:
			a.log.Error().Err(err).Msg("stopping")
		}

		a.log.Info().Msg("shutting down...")
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			a.log.Warn().Err(serr).Msg("http shutdown")
		}
		return err
	},
}
