package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"orderbridge/internal/app"
	"orderbridge/internal/buildinfo"
	"orderbridge/internal/metrics"
)

func serveCmd() *cobra.Command {
	var noPoll bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook receiver, operator API and sync poller",
		Long: `Run the HTTP server.

Examples:
  orderbridge serve -c configs/orderbridge.example.yaml
  ORDERBRIDGE_HTTP_ADDR=:9090 orderbridge serve --no-poll`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), noPoll)
		},
	}
	cmd.Flags().BoolVar(&noPoll, "no-poll", false, "disable scheduled order sync")
	return cmd
}

func runServe(parent context.Context, noPoll bool) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.RegisterDefault()
	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("close failed", zap.Error(err))
		}
	}()

	if !noPoll {
		a.Poller.Start()
		defer a.Poller.Shutdown()
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           a.Server().Routes(),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("API listening", zap.String("addr", cfg.HTTP.Addr), zap.String("version", buildinfo.Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}
