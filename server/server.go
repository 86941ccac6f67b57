package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/kaloyanBozhkov/linkbase/ai"
	"github.com/kaloyanBozhkov/linkbase/ai/memory"
	"github.com/kaloyanBozhkov/linkbase/ai/metrics"
	"github.com/kaloyanBozhkov/linkbase/internal/profile"
	apiv1 "github.com/kaloyanBozhkov/linkbase/server/router/api/v1"
	"github.com/kaloyanBozhkov/linkbase/store"
)

// Server is the HTTP server hosting the REST API and the metrics endpoint.
type Server struct {
	echo    *echo.Echo
	profile *profile.Profile
	store   *store.Store
}

// NewServer creates a new Server wired to the store and, when the embedding
// provider is configured, the memory engine.
func NewServer(ctx context.Context, profile *profile.Profile, storeInstance *store.Store) (*Server, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	exporter := metrics.NewExporter(metrics.DefaultConfig())

	var engine *memory.Engine
	if profile.IsEmbeddingEnabled() {
		embedder, err := ai.NewEmbeddingService(ai.NewEmbeddingConfigFromProfile(profile))
		if err != nil {
			return nil, fmt.Errorf("failed to create embedding service: %w", err)
		}
		cache := memory.NewEmbeddingCache(storeInstance, embedder, exporter)
		engine = memory.NewEngine(storeInstance, cache, exporter)
	} else {
		slog.Warn("embedding provider not configured, memory features disabled")
	}

	s := &Server{
		echo:    e,
		profile: profile,
		store:   storeInstance,
	}

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/metrics", echo.WrapHandler(exporter.Handler()))

	apiService := apiv1.NewAPIV1Service(profile, storeInstance, engine)
	apiService.RegisterRoutes(e.Group("/api/v1"))

	return s, nil
}

// Start starts the server. It returns immediately; serving happens on a
// background goroutine.
func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.profile.Addr, s.profile.Port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	go func() {
		s.echo.Listener = listener
		if err := s.echo.Start(""); err != nil && err != http.ErrServerClosed {
			slog.Error("failed to start server", "error", err)
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the server and closes the store.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown server", "error", err)
	}
	if err := s.store.Close(); err != nil {
		slog.Error("failed to close store", "error", err)
	}
	slog.Info("server shutdown complete")
}
