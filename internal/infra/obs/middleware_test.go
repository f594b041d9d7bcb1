package obs

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newObsRouter(logger *slog.Logger) (*gin.Engine, *string) {
	gin.SetMode(gin.TestMode)
	seen := new(string)
	mw := Middleware{Logger: logger}
	r := gin.New()
	r.Use(mw.RequestID(), mw.AccessLog())
	r.GET("/ping", func(c *gin.Context) {
		*seen = RequestIDFromContext(c.Request.Context())
		c.Status(http.StatusNoContent)
	})
	return r, seen
}

func TestRequestID_ReusesClientHeader(t *testing.T) {
	r, seen := newObsRouter(nil)
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, " abc-123 ")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
	assert.Equal(t, "abc-123", *seen)
}

func TestRequestID_ReplacesMissingOrOversized(t *testing.T) {
	r, seen := newObsRouter(nil)
	for _, header := range []string{"", strings.Repeat("x", maxRequestIDLen+1)} {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set(RequestIDHeader, header)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		id := rec.Header().Get(RequestIDHeader)
		assert.Len(t, id, 36)
		assert.Equal(t, id, *seen)
	}
}

func TestAccessLog_LevelFollowsStatus(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := slog.New(requestIDHandler{Handler: slog.NewJSONHandler(buf, nil)})
	r, _ := newObsRouter(logger)

	req := httptest.NewRequest(http.MethodGet, "/missing", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	r.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, "/missing", line["path"])
	assert.EqualValues(t, 404, line["status"])
	assert.Equal(t, "req-1", line["request_id"])
}

func TestRequestIDHandler_KeepsAttrsAndGroups(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := slog.New(requestIDHandler{Handler: slog.NewJSONHandler(buf, nil)}).With("component", "hub")

	logger.InfoContext(context.Background(), "no id")
	logger.InfoContext(ContextWithRequestID(context.Background(), "r-9"), "with id")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.NotContains(t, lines[0], "request_id")
	assert.Contains(t, lines[1], `"request_id":"r-9"`)
	assert.Contains(t, lines[1], `"component":"hub"`)
	assert.Empty(t, RequestIDFromContext(context.Background()))
}
