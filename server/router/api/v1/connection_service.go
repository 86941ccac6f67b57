package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/lithammer/shortuuid/v4"

	"github.com/kaloyanBozhkov/linkbase/store"
)

type connectionPayload struct {
	UID       string   `json:"uid"`
	Name      string   `json:"name"`
	MetAt     string   `json:"metAt"`
	MetWhen   int64    `json:"metWhen"`
	UserID    int32    `json:"userId"`
	CreatedTs int64    `json:"createdTs"`
	UpdatedTs int64    `json:"updatedTs"`
	Facts     []string `json:"facts,omitempty"`
}

func toConnectionPayload(c *store.Connection) *connectionPayload {
	return &connectionPayload{
		UID:       c.UID,
		Name:      c.Name,
		MetAt:     c.MetAt,
		MetWhen:   c.MetWhen,
		UserID:    c.UserID,
		CreatedTs: c.CreatedTs,
		UpdatedTs: c.UpdatedTs,
	}
}

type createConnectionRequest struct {
	Name    string   `json:"name"`
	MetAt   string   `json:"metAt"`
	MetWhen int64    `json:"metWhen"`
	UserID  int32    `json:"userId"`
	Facts   []string `json:"facts,omitempty"`
}

// CreateConnection creates a connection and optionally its initial facts. The
// connection insert and the fact inserts are separate operations; a fact
// failure leaves the connection created.
func (s *APIV1Service) CreateConnection(c echo.Context) error {
	var req createConnectionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}

	connection, err := s.Store.CreateConnection(c.Request().Context(), &store.Connection{
		UID:     shortuuid.New(),
		Name:    req.Name,
		MetAt:   req.MetAt,
		MetWhen: req.MetWhen,
		UserID:  req.UserID,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create connection")
	}

	payload := toConnectionPayload(connection)
	if len(req.Facts) > 0 {
		if err := s.requireEngine(); err != nil {
			return err
		}
		facts, err := s.Engine.AddFacts(c.Request().Context(), connection.ID, req.Facts)
		if err != nil {
			return mapEngineError(err)
		}
		for _, fact := range facts {
			payload.Facts = append(payload.Facts, fact.Text)
		}
	}

	return c.JSON(http.StatusCreated, payload)
}

// ListConnections lists connections, optionally filtered by user.
func (s *APIV1Service) ListConnections(c echo.Context) error {
	find := &store.FindConnection{}
	if v := c.QueryParam("userId"); v != "" {
		userID, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid userId")
		}
		id := int32(userID)
		find.UserID = &id
	}

	connections, err := s.Store.ListConnections(c.Request().Context(), find)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list connections")
	}

	payloads := make([]*connectionPayload, 0, len(connections))
	for _, connection := range connections {
		payloads = append(payloads, toConnectionPayload(connection))
	}
	return c.JSON(http.StatusOK, payloads)
}

// GetConnection gets a connection by uid, including its fact texts.
func (s *APIV1Service) GetConnection(c echo.Context) error {
	connection, err := s.findConnectionByUID(c)
	if err != nil {
		return err
	}

	payload := toConnectionPayload(connection)
	facts, err := s.Store.ListFacts(c.Request().Context(), &store.FindFact{ConnectionID: &connection.ID})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load facts")
	}
	for _, fact := range facts {
		payload.Facts = append(payload.Facts, fact.Text)
	}
	return c.JSON(http.StatusOK, payload)
}

type updateConnectionRequest struct {
	Name    *string `json:"name"`
	MetAt   *string `json:"metAt"`
	MetWhen *int64  `json:"metWhen"`
}

// UpdateConnection updates a connection's own attributes. Facts are managed
// through the fact endpoints.
func (s *APIV1Service) UpdateConnection(c echo.Context) error {
	connection, err := s.findConnectionByUID(c)
	if err != nil {
		return err
	}

	var req updateConnectionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	updated, err := s.Store.UpdateConnection(c.Request().Context(), &store.UpdateConnection{
		ID:      connection.ID,
		Name:    req.Name,
		MetAt:   req.MetAt,
		MetWhen: req.MetWhen,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to update connection")
	}
	return c.JSON(http.StatusOK, toConnectionPayload(updated))
}

// DeleteConnection deletes a connection; its facts go with it by cascade while
// shared cached embeddings stay.
func (s *APIV1Service) DeleteConnection(c echo.Context) error {
	connection, err := s.findConnectionByUID(c)
	if err != nil {
		return err
	}

	if err := s.Store.DeleteConnection(c.Request().Context(), &store.DeleteConnection{ID: connection.ID}); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to delete connection")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *APIV1Service) findConnectionByUID(c echo.Context) (*store.Connection, error) {
	uid := c.Param("uid")
	if uid == "" {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "connection uid is required")
	}

	connection, err := s.Store.GetConnection(c.Request().Context(), &store.FindConnection{UID: &uid})
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "failed to load connection")
	}
	if connection == nil {
		return nil, echo.NewHTTPError(http.StatusNotFound, "connection not found")
	}
	return connection, nil
}
