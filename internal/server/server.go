// Package server wires the HTTP API: hotness scoring, access recording,
// device transfers and the block registry.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gpucachelab/hotpage/internal/accessevents"
	"github.com/gpucachelab/hotpage/internal/blockmap"
	"github.com/gpucachelab/hotpage/internal/config"
	"github.com/gpucachelab/hotpage/internal/device"
	"github.com/gpucachelab/hotpage/internal/health"
	"github.com/gpucachelab/hotpage/internal/hotness"
	imw "github.com/gpucachelab/hotpage/internal/middleware"
)

type Server struct {
	log     *slog.Logger
	cfg     config.Config
	tracker hotness.Interface
	runtime device.Runtime
	blocks  *blockmap.Registry
	events  *accessevents.Publisher
	now     func() time.Time
}

func New(log *slog.Logger, cfg config.Config, tracker hotness.Interface, rt device.Runtime, blocks *blockmap.Registry, events *accessevents.Publisher) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:     log,
		cfg:     cfg,
		tracker: tracker,
		runtime: rt,
		blocks:  blocks,
		events:  events,
		now:     time.Now,
	}
}

func (s *Server) Readiness() (bool, int) {
	if s.runtime == nil {
		return false, 0
	}
	return true, s.runtime.Count()
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(imw.Recover())
	r.Use(imw.Logging(s.log))

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(s))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/scores", s.handleScores)
		r.Post("/access", s.handleAccess)
		r.Post("/transfer", s.handleTransfer)
		r.Post("/blocks", s.handleRegisterBlock)
		r.Post("/blocks/{id}/migrate", s.handleMigrateBlock)
		r.Get("/blocks/summary", s.handleBlockSummary)
	})
	return r
}

// Run serves the API until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http listen", "addr", s.cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
