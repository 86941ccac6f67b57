package v1

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaloyanBozhkov/linkbase/ai/memory"
	"github.com/kaloyanBozhkov/linkbase/store"
)

func TestCursorTokenRoundTrip(t *testing.T) {
	similarity := float32(0.73)
	tests := []struct {
		name   string
		cursor *store.SearchCursor
	}{
		{"similarity search cursor", &store.SearchCursor{LastFactID: 42, Similarity: &similarity}},
		{"recency cursor", &store.SearchCursor{LastFactID: 7}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := encodeCursor(tt.cursor)
			require.NoError(t, err)
			assert.NotContains(t, token, "=")

			got, err := decodeCursor(token)
			require.NoError(t, err)
			assert.Equal(t, tt.cursor, got)
		})
	}
}

func TestSearchFactsRejectsOutOfRangeLimit(t *testing.T) {
	svc := NewAPIV1Service(nil, nil, memory.NewEngine(nil, nil, nil))

	for _, limit := range []string{"-1", "2000", "abc"} {
		t.Run(limit, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/facts/search?limit="+limit, nil)
			c := e.NewContext(req, httptest.NewRecorder())

			err := svc.SearchFacts(c)
			var httpErr *echo.HTTPError
			require.ErrorAs(t, err, &httpErr)
			assert.Equal(t, http.StatusBadRequest, httpErr.Code)
		})
	}
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	for _, token := range []string{"not base64!!", "bm90IGpzb24"} {
		_, err := decodeCursor(token)
		assert.Error(t, err)
	}
}
