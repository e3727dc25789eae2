// Package api provides the HTTP, WebSocket and gRPC servers for meridian,
// exposing backtest runs, parameter sweeps, bar data and a live feed of
// finished runs.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"google.golang.org/grpc"

	"meridian/internal/config"
	"meridian/internal/engine"
	"meridian/internal/live"
	"meridian/internal/rpc"
)

const shutdownTimeout = 10 * time.Second

// Server is the main API server that hosts HTTP and gRPC endpoints.
type Server struct {
	engine *engine.Engine
	model  *live.Model
	hub    *Hub
	log    *slog.Logger

	httpAddr string
	grpcAddr string
	httpSrv  *http.Server
	grpcSrv  *grpc.Server
}

// NewServer creates a Server for eng. Finished runs published on model are
// pushed to WebSocket clients and gRPC watchers. A non-positive GRPCPort
// disables the gRPC listener.
func NewServer(cfg config.Server, eng *engine.Engine, model *live.Model, log *slog.Logger) *Server {
	s := &Server{
		engine:   eng,
		model:    model,
		hub:      NewHub(log),
		log:      log.With("component", "api"),
		httpAddr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		grpcSrv:  grpc.NewServer(),
	}
	if cfg.GRPCPort > 0 {
		s.grpcAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.GRPCPort))
	}
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	rpc.RegisterBacktesterServer(s.grpcSrv, NewBacktesterService(eng))
	live.NewServer(model, log.With("component", "live")).RegisterGRPC(s.grpcSrv)
	return s
}

// Handler returns the HTTP handler with CORS and request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return logMiddleware(s.log, corsMiddleware(mux))
}

// GRPCServer returns the gRPC server with all services registered.
func (s *Server) GRPCServer() *grpc.Server { return s.grpcSrv }

// ListenAndServe starts the HTTP and gRPC listeners and blocks until the
// context is cancelled or a fatal error occurs.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpLn, err := net.Listen("tcp", s.httpAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpAddr, err)
	}
	var grpcLn net.Listener
	if s.grpcAddr != "" {
		grpcLn, err = net.Listen("tcp", s.grpcAddr)
		if err != nil {
			httpLn.Close()
			return fmt.Errorf("listening on %s: %w", s.grpcAddr, err)
		}
	}
	return s.Serve(ctx, httpLn, grpcLn)
}

// Serve serves HTTP on httpLn and gRPC on grpcLn (if non-nil) until ctx is
// cancelled or a listener fails, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, httpLn, grpcLn net.Listener) error {
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go s.hub.Run(hubCtx)
	go s.hub.Forward(hubCtx, s.model)

	errCh := make(chan error, 2)
	go func() {
		s.log.Info("http listening", "addr", httpLn.Addr().String())
		if err := s.httpSrv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	if grpcLn != nil {
		go func() {
			s.log.Info("grpc listening", "addr", grpcLn.Addr().String())
			if err := s.grpcSrv.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}
	return serveErr
}

// Shutdown performs a graceful shutdown of the HTTP and gRPC servers.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpSrv.Shutdown(ctx)

	stopped := make(chan struct{})
	go func() {
		s.grpcSrv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpcSrv.Stop()
	}
	s.log.Info("api server stopped")
	return err
}
