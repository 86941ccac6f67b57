package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/kaloyanBozhkov/linkbase/ai/memory"
	"github.com/kaloyanBozhkov/linkbase/store"
)

type factPayload struct {
	ID         int32    `json:"id"`
	Text       string   `json:"text"`
	CreatedTs  int64    `json:"createdTs"`
	UpdatedTs  int64    `json:"updatedTs"`
	Similarity *float32 `json:"similarity,omitempty"`
}

func toFactPayload(f *store.Fact) *factPayload {
	return &factPayload{
		ID:        f.ID,
		Text:      f.Text,
		CreatedTs: f.CreatedTs,
		UpdatedTs: f.UpdatedTs,
	}
}

type addFactsRequest struct {
	Facts []string `json:"facts"`
}

// AddFacts adds one or more facts to a connection.
func (s *APIV1Service) AddFacts(c echo.Context) error {
	if err := s.requireEngine(); err != nil {
		return err
	}
	connection, err := s.findConnectionByUID(c)
	if err != nil {
		return err
	}

	var req addFactsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	facts, err := s.Engine.AddFacts(c.Request().Context(), connection.ID, req.Facts)
	if err != nil {
		return mapEngineError(err)
	}

	payloads := make([]*factPayload, 0, len(facts))
	for _, fact := range facts {
		payloads = append(payloads, toFactPayload(fact))
	}
	return c.JSON(http.StatusCreated, payloads)
}

type upsertFactsRequest struct {
	Facts      []string `json:"facts"`
	WithDelete *bool    `json:"withDelete"`
}

// UpsertFacts reconciles the connection's fact set against the submitted
// list. withDelete defaults to true.
func (s *APIV1Service) UpsertFacts(c echo.Context) error {
	if err := s.requireEngine(); err != nil {
		return err
	}
	connection, err := s.findConnectionByUID(c)
	if err != nil {
		return err
	}

	var req upsertFactsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	opts := memory.DefaultUpsertOptions()
	if req.WithDelete != nil {
		opts.WithDelete = *req.WithDelete
	}

	facts, err := s.Engine.UpsertFacts(c.Request().Context(), connection.ID, req.Facts, opts)
	if err != nil {
		return mapEngineError(err)
	}

	payloads := make([]*factPayload, 0, len(facts))
	for _, fact := range facts {
		payloads = append(payloads, toFactPayload(fact))
	}
	return c.JSON(http.StatusOK, payloads)
}

// ListFacts lists a connection's facts by recency.
func (s *APIV1Service) ListFacts(c echo.Context) error {
	connection, err := s.findConnectionByUID(c)
	if err != nil {
		return err
	}

	facts, err := s.Store.ListFacts(c.Request().Context(), &store.FindFact{ConnectionID: &connection.ID})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load facts")
	}

	payloads := make([]*factPayload, 0, len(facts))
	for _, fact := range facts {
		payloads = append(payloads, toFactPayload(fact))
	}
	return c.JSON(http.StatusOK, payloads)
}

type updateFactRequest struct {
	Text string `json:"text"`
}

// UpdateFact updates a fact's text; the embedding is always recomputed.
func (s *APIV1Service) UpdateFact(c echo.Context) error {
	if err := s.requireEngine(); err != nil {
		return err
	}
	connection, err := s.findConnectionByUID(c)
	if err != nil {
		return err
	}
	factID, err := parseFactID(c)
	if err != nil {
		return err
	}

	var req updateFactRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	fact, err := s.Engine.UpdateFact(c.Request().Context(), connection.ID, factID, req.Text)
	if err != nil {
		return mapEngineError(err)
	}
	return c.JSON(http.StatusOK, toFactPayload(fact))
}

// DeleteFact deletes one fact of a connection.
func (s *APIV1Service) DeleteFact(c echo.Context) error {
	if err := s.requireEngine(); err != nil {
		return err
	}
	connection, err := s.findConnectionByUID(c)
	if err != nil {
		return err
	}
	factID, err := parseFactID(c)
	if err != nil {
		return err
	}

	if err := s.Engine.DeleteFact(c.Request().Context(), connection.ID, factID); err != nil {
		return mapEngineError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// DeleteAllFacts deletes every fact of a connection.
func (s *APIV1Service) DeleteAllFacts(c echo.Context) error {
	if err := s.requireEngine(); err != nil {
		return err
	}
	connection, err := s.findConnectionByUID(c)
	if err != nil {
		return err
	}

	if err := s.Engine.DeleteAllFacts(c.Request().Context(), connection.ID); err != nil {
		return mapEngineError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func parseFactID(c echo.Context) (int32, error) {
	factID, err := strconv.ParseInt(c.Param("factId"), 10, 32)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid fact id")
	}
	return int32(factID), nil
}
