package v1

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/kaloyanBozhkov/linkbase/ai/memory"
	"github.com/kaloyanBozhkov/linkbase/store"
)

// encodeCursor serializes a search cursor into an opaque page token.
func encodeCursor(cursor *store.SearchCursor) (string, error) {
	raw, err := json.Marshal(cursor)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// decodeCursor parses an opaque page token back into a search cursor.
func decodeCursor(token string) (*store.SearchCursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, err
	}
	var cursor store.SearchCursor
	if err := json.Unmarshal(raw, &cursor); err != nil {
		return nil, err
	}
	return &cursor, nil
}

type searchFactsResponse struct {
	Facts         []*factPayload `json:"facts"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

// SearchFacts performs semantic fact search with cursor pagination. Without a
// topic it lists facts by recency. Search never fails; a backend problem
// yields an empty page.
func (s *APIV1Service) SearchFacts(c echo.Context) error {
	if err := s.requireEngine(); err != nil {
		return err
	}

	req := &memory.SearchFactsRequest{
		SearchTopic: c.QueryParam("topic"),
	}
	if v := c.QueryParam("minSimilarity"); v != "" {
		minSimilarity, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid minSimilarity")
		}
		f := float32(minSimilarity)
		req.MinSimilarity = &f
	}
	if v := c.QueryParam("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 || limit > memory.MaxSearchLimit {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		req.Limit = limit
	}
	if v := c.QueryParam("pageToken"); v != "" {
		cursor, err := decodeCursor(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid page token")
		}
		req.Cursor = cursor
	}
	if v := c.QueryParam("userId"); v != "" {
		userID, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid userId")
		}
		id := int32(userID)
		req.UserID = &id
	}

	result := s.Engine.SearchFacts(c.Request().Context(), req)

	resp := &searchFactsResponse{Facts: make([]*factPayload, 0, len(result.Facts))}
	for _, f := range result.Facts {
		payload := toFactPayload(f.Fact)
		payload.Similarity = f.Similarity
		resp.Facts = append(resp.Facts, payload)
	}
	if result.NextCursor != nil {
		token, err := encodeCursor(result.NextCursor)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to encode page token")
		}
		resp.NextPageToken = token
	}
	return c.JSON(http.StatusOK, resp)
}

type rankedConnectionPayload struct {
	Connection *connectionPayload `json:"connection"`
	Similarity float32            `json:"similarity"`
	TopFact    *factPayload       `json:"topFact"`
	Facts      []*factPayload     `json:"facts"`
}

type searchConnectionsResponse struct {
	Connections []*rankedConnectionPayload `json:"connections"`
}

// SearchConnections ranks connections by their best-matching fact.
func (s *APIV1Service) SearchConnections(c echo.Context) error {
	if err := s.requireEngine(); err != nil {
		return err
	}

	req := &memory.SearchConnectionsRequest{
		SearchTopic: c.QueryParam("topic"),
	}
	if req.SearchTopic == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "topic is required")
	}
	if v := c.QueryParam("minSimilarity"); v != "" {
		minSimilarity, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid minSimilarity")
		}
		f := float32(minSimilarity)
		req.MinSimilarity = &f
	}
	if v := c.QueryParam("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 || limit > memory.MaxSearchLimit {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		req.Limit = limit
	}
	if v := c.QueryParam("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid offset")
		}
		req.Offset = offset
	}
	if v := c.QueryParam("userId"); v != "" {
		userID, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid userId")
		}
		id := int32(userID)
		req.UserID = &id
	}

	result := s.Engine.SearchConnectionsByFact(c.Request().Context(), req)

	resp := &searchConnectionsResponse{Connections: make([]*rankedConnectionPayload, 0, len(result.Connections))}
	for _, ranked := range result.Connections {
		payload := &rankedConnectionPayload{
			Connection: toConnectionPayload(ranked.Connection),
			Similarity: ranked.Similarity,
			TopFact:    toFactPayload(ranked.TopFact),
			Facts:      make([]*factPayload, 0, len(ranked.Facts)),
		}
		for _, f := range ranked.Facts {
			factPayload := toFactPayload(f.Fact)
			factPayload.Similarity = f.Similarity
			payload.Facts = append(payload.Facts, factPayload)
		}
		resp.Connections = append(resp.Connections, payload)
	}
	return c.JSON(http.StatusOK, resp)
}
