package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/netutil"
)

// HTTPHandler returns an http.Handler that serves Prometheus metrics for the provided registry.
func HTTPHandler(reg *prom.Registry) http.Handler {
	if reg == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// maxScrapeConns bounds concurrent connections to the metrics endpoint.
const maxScrapeConns = 8

// Serve exposes /metrics on addr until ctx is canceled.
func Serve(ctx context.Context, addr string, reg *prom.Registry) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ServeListener(ctx, ln, reg)
}

// ServeListener exposes /metrics on ln until ctx is canceled. At most
// maxScrapeConns connections are served at once.
func ServeListener(ctx context.Context, ln net.Listener, reg *prom.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", HTTPHandler(reg))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("Serving metrics", slog.String("addr", ln.Addr().String()))
	if err := srv.Serve(netutil.LimitListener(ln, maxScrapeConns)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
