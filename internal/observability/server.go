package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"salesdigest/internal/logging"
)

// Server exposes metrics and readiness endpoints for the interval mode.
type Server struct {
	srv *http.Server
}

// Router builds the handler serving /metrics, /healthz and /readyz.
func Router(reg *prometheus.Registry, ready func(context.Context) error) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if reg != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if ready == nil {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
			return
		}
		checkCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := ready(checkCtx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(err.Error()))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

// Start launches the observability server in the background; it stops when
// ctx is cancelled.
func Start(ctx context.Context, addr string, log *logging.Logger, reg *prometheus.Registry, ready func(context.Context) error) *Server {
	srv := &http.Server{Addr: addr, Handler: Router(reg, ready), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("observability listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("observability server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	return &Server{srv: srv}
}

// Addr reports the configured listen address.
func (s *Server) Addr() string { return s.srv.Addr }
