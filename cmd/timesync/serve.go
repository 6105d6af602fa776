package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"timesheet_sync/internal/api"
	"timesheet_sync/internal/scheduler"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(prometheus.DefaultRegisterer)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.cfg.HTTP.JWTSecret == "" {
				return errors.New("http.jwt_secret is required to serve")
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if a.cfg.Sync.Interval > 0 {
				sched := scheduler.NewScheduler(a.sync, a.appointments, a.cfg.Sync.Interval, a.logger)
				go func() {
					if err := sched.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
						a.logger.Error("scheduler error", "error", err)
					}
				}()
			}

			server := api.NewServer(ctx, a.sync, a.channel, api.NewAuthenticator(a.cfg.HTTP.JWTSecret), prometheus.DefaultGatherer, a.logger)

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("starting http server", "addr", a.cfg.HTTP.Addr, "version", version)
				errCh <- server.Start(a.cfg.HTTP.Addr)
			}()

			select {
			case <-ctx.Done():
				a.logger.Info("received shutdown signal")
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("http server: %w", err)
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("failed to shutdown http server", "error", err)
			}

			a.sync.Wait()
			a.logger.Info("stopped")
			return nil
		},
	}
}
