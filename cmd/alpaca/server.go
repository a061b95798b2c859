package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/Overmuse/alpaca/internal/feed"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// healthService is the gRPC health service name that tracks the account stream.
const healthService = "alpaca.stream"

// streamHealth mirrors the feed state into /healthz and the gRPC health service.
type streamHealth struct {
	state atomic.Int32
	grpc  *health.Server
}

func newStreamHealth() *streamHealth {
	h := &streamHealth{grpc: health.NewServer()}
	h.state.Store(int32(feed.StateConnecting))
	h.grpc.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	h.grpc.SetServingStatus(healthService, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	return h
}

// set is the feed's OnStateChange callback.
func (h *streamHealth) set(state feed.State, err error) {
	h.state.Store(int32(state))

	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if state == feed.StateConnected {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	h.grpc.SetServingStatus(healthService, status)

	event := log.Info()
	if err != nil {
		event = log.Warn().Err(err)
	}
	event.Str("state", state.String()).Msg("stream state changed")
}

func (h *streamHealth) current() feed.State {
	return feed.State(h.state.Load())
}

// shutdown marks every service as not serving.
func (h *streamHealth) shutdown() {
	h.grpc.Shutdown()
}

// newRouter serves /metrics from gatherer and /healthz from h.
func newRouter(gatherer prometheus.Gatherer, h *streamHealth) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		state := h.current()
		status := http.StatusServiceUnavailable
		if state == feed.StateConnected {
			status = http.StatusOK
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{"state": state.String()})
	})
	return r
}

// serveHTTP runs the metrics server on addr until ctx ends.
func serveHTTP(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// serveGRPC runs a gRPC server exposing only the health service on lis until ctx ends.
func serveGRPC(ctx context.Context, lis net.Listener, h *streamHealth) error {
	// Keepalive settings for long-lived health watches.
	s := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle: 5 * time.Minute,
			MaxConnectionAge:  30 * time.Minute,
			Time:              20 * time.Second,
			Timeout:           10 * time.Second,
		}),
	)
	grpc_health_v1.RegisterHealthServer(s, h.grpc)

	go func() {
		<-ctx.Done()
		h.shutdown()
		s.GracefulStop()
	}()

	if err := s.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}
