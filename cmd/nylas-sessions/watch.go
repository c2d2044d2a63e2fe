package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nylas/sessions/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var allEvents = []session.EventType{
	session.LoginSuccess,
	session.LoginFail,
	session.LogoutSuccess,
	session.TokenRefreshSuccess,
	session.TokenRefreshFail,
	session.SessionExpired,
}

func newWatchCmd(a *app) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the stored session fresh and print its notifications until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.watch(ctx, metricsAddr)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address (e.g. :9090)")
	return cmd
}

// watch runs a Manager until ctx is done, printing each notification as it's
// emitted.
func (a *app) watch(ctx context.Context, metricsAddr string) error {
	var mu sync.Mutex
	for _, t := range allEvents {
		a.events.Subscribe(t, func(e session.Event) {
			mu.Lock()
			defer mu.Unlock()
			if err := printJSON(a.out, eventView(e)); err != nil {
				a.logger.Warn("unable to print notification", "error", err)
			}
		})
	}

	reg := prometheus.NewRegistry()
	m, err := a.newManager(session.WithMetrics(reg))
	if err != nil {
		return err
	}
	defer m.Done()

	if metricsAddr != "" {
		srv := &http.Server{
			Addr:              metricsAddr,
			Handler:           metricsRouter(reg),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics listener failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		a.logger.Info("serving metrics", "addr", metricsAddr)
	}

	a.logger.Info("watching session", "interval", a.cfg.Refresh.Interval)
	<-ctx.Done()
	return nil
}

func metricsRouter(g prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	return r
}
