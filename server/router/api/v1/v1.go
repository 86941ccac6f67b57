package v1

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/kaloyanBozhkov/linkbase/ai/memory"
	"github.com/kaloyanBozhkov/linkbase/internal/profile"
	"github.com/kaloyanBozhkov/linkbase/store"
)

// APIV1Service hosts the REST handlers. Handlers stay thin: parse, call the
// store or engine, map errors.
type APIV1Service struct {
	Profile *profile.Profile
	Store   *store.Store
	Engine  *memory.Engine
}

// NewAPIV1Service creates the API service. Engine may be nil when the
// embedding provider is not configured; memory endpoints then return 503.
func NewAPIV1Service(profile *profile.Profile, store *store.Store, engine *memory.Engine) *APIV1Service {
	return &APIV1Service{
		Profile: profile,
		Store:   store,
		Engine:  engine,
	}
}

// RegisterRoutes registers all v1 routes on the group.
func (s *APIV1Service) RegisterRoutes(g *echo.Group) {
	g.POST("/connections", s.CreateConnection)
	g.GET("/connections", s.ListConnections)
	g.GET("/connections/search", s.SearchConnections)
	g.GET("/connections/:uid", s.GetConnection)
	g.PATCH("/connections/:uid", s.UpdateConnection)
	g.DELETE("/connections/:uid", s.DeleteConnection)

	g.POST("/connections/:uid/facts", s.AddFacts)
	g.PUT("/connections/:uid/facts", s.UpsertFacts)
	g.GET("/connections/:uid/facts", s.ListFacts)
	g.PATCH("/connections/:uid/facts/:factId", s.UpdateFact)
	g.DELETE("/connections/:uid/facts/:factId", s.DeleteFact)
	g.DELETE("/connections/:uid/facts", s.DeleteAllFacts)

	g.GET("/facts/search", s.SearchFacts)
}

// requireEngine guards memory endpoints when the engine is not configured.
func (s *APIV1Service) requireEngine() error {
	if s.Engine == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "memory features are not configured")
	}
	return nil
}

// mapEngineError converts engine errors to HTTP errors with fixed user-facing
// messages; the original cause is logged by the engine, never leaked here.
func mapEngineError(err error) error {
	var partial *memory.PartialReconciliationError
	switch {
	case errors.Is(err, memory.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, "invalid input")
	case errors.Is(err, memory.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, memory.ErrEmbeddingProvider):
		return echo.NewHTTPError(http.StatusBadGateway, "embedding service unavailable")
	case errors.As(err, &partial):
		return echo.NewHTTPError(http.StatusInternalServerError, "facts were only partially saved")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "something went wrong")
	}
}
