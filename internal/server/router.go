// Package server exposes a viewer over HTTP for an out-of-process
// presentation layer.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/spherical/pagetiles/internal/config"
	"github.com/spherical/pagetiles/internal/domain"
	"github.com/spherical/pagetiles/internal/observability"
	"github.com/spherical/pagetiles/internal/zoom"
	"github.com/spherical/pagetiles/pkg/viewer"
)

// Viewer is the part of viewer.Viewer the HTTP surface drives.
type Viewer interface {
	Open(ctx context.Context, src domain.Source) (domain.Dimensions, error)
	Document() (domain.Dimensions, bool)
	SetPage(i int) error
	SetViewport(s domain.Size)
	Scroll(p domain.Point) domain.Transform
	ZoomAt(kind zoom.AnchorKind, p domain.Point, scale float64) (domain.Transform, error)
	Wheel(delta float64) (domain.Transform, error)
	Pinch(factor float64, p domain.Point) (domain.Transform, error)
	FitToScreen() (domain.Transform, error)
	Transform() domain.Transform
	VisibleTiles() []domain.Tile
	Refresh() []*viewer.CachedTile
	WaitReady(ctx context.Context) ([]*viewer.CachedTile, error)
	TileAt(page int, lod float64, row, col int) (domain.Tile, error)
	RenderTile(ctx context.Context, t domain.Tile) (*domain.Bitmap, error)
	Stats() viewer.Stats
}

// Server serves one viewer.
type Server struct {
	viewer Viewer
	cfg    config.ServerConfig
	logger *observability.Logger
}

// New creates a server for v.
func New(v Viewer, cfg config.ServerConfig, logger *observability.Logger) *Server {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Server{viewer: v, cfg: cfg, logger: logger.WithComponent("http")}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.accessLog)
	r.Use(chimiddleware.Recoverer)
	if s.cfg.RequestTimeout > 0 {
		r.Use(chimiddleware.Timeout(s.cfg.RequestTimeout))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"pagetiles"}`))
	})

	h := &handlers{viewer: s.viewer, logger: s.logger}
	r.Route("/v1", func(r chi.Router) {
		r.Post("/document", h.OpenDocument)
		r.Put("/view", h.UpdateView)
		r.Post("/zoom", h.Zoom)
		r.Get("/tiles", h.ListTiles)
		r.Get("/tiles/{page}/{lod}/{row}/{col}.png", h.TilePNG)
		r.Get("/stats", h.Stats)
	})
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("HTTP server listening")
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.logger.Info().Msg("Shutdown requested")
	}

	grace := s.cfg.GracefulShutdown
	if grace <= 0 {
		grace = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error().Err(err).Msg("Graceful shutdown failed")
		if err := srv.Close(); err != nil {
			s.logger.Error().Err(err).Msg("Forced shutdown failed")
		}
		return err
	}
	s.logger.Info().Msg("Server stopped")
	return nil
}

// requestID assigns a uuid to requests arriving without an id so the id
// chi stores in the context is globally unique, and echoes it back.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(chimiddleware.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(chimiddleware.RequestIDHeader, id)
		}
		w.Header().Set(chimiddleware.RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("took", time.Since(start)).
			Msg("Request served")
	})
}
