package cli

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/adaptivestudy/internal/scheduler"
)

func newServeCmd(a *app) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the periodic review sweep until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), a, metricsAddr)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (disabled when empty)")
	return cmd
}

func runServe(ctx context.Context, a *app, metricsAddr string) error {
	rt, err := openRuntime(ctx, a)
	if err != nil {
		return err
	}
	defer rt.Close()

	sweep := scheduler.New(rt.learners, scheduler.TelemetryNotifier{Recorder: rt.sink}, scheduler.Options{
		Interval:  a.cfg.SweepInterval,
		StartHour: a.cfg.NotificationStartHour,
		EndHour:   a.cfg.NotificationEndHour,
		Logger:    a.logger,
	})
	if err := sweep.Start(); err != nil {
		return err
	}
	defer sweep.Stop()

	var srv *http.Server
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{}))
		srv = &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	a.logger.Info("Review sweep started",
		zap.Duration("interval", a.cfg.SweepInterval),
		zap.String("metrics_addr", metricsAddr))

	<-ctx.Done()
	a.logger.Info("Shutting down")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("Metrics server shutdown", zap.Error(err))
		}
	}
	return nil
}
