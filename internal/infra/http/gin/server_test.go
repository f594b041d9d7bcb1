package ginserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatgate/internal/app/envelope"
	domainchat "chatgate/internal/domain/chat"
	"chatgate/internal/infra/config"
	"chatgate/internal/infra/obs"
)

type fakeUploader struct {
	name        string
	contentType string
	content     []byte
	err         error
}

func (f *fakeUploader) UploadAttachment(_ context.Context, name string, r io.Reader, _ int64, contentType string) (domainchat.Attachment, error) {
	if f.err != nil {
		return domainchat.Attachment{}, f.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return domainchat.Attachment{}, err
	}
	f.name, f.contentType, f.content = name, contentType, data
	return domainchat.Attachment{URL: "http://cdn/chat-media/" + name, ContentType: contentType, Name: name}, nil
}

func newTestRouter(h Handlers, ready func(context.Context) error) http.Handler {
	return NewRouter(config.Config{Env: "test"}, obs.Middleware{}, obs.HealthHandlers{Ready: ready}, h)
}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	part, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf, w.FormDataContentType()
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestRouter_Health(t *testing.T) {
	router := newTestRouter(Handlers{}, func(context.Context) error { return errors.New("mongo down") })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRouter_MetricsAndSocketMounted(t *testing.T) {
	metrics := obs.NewMetrics()
	socket := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
	router := newTestRouter(Handlers{Metrics: metrics.Handler(), Socket: socket}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chatgate_ws_connections")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestMediaUpload_ReturnsAttachment(t *testing.T) {
	up := &fakeUploader{}
	router := newTestRouter(Handlers{Media: MediaHandler{Uploader: up}}, nil)
	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 32)...)
	body, ct := multipartBody(t, "file", "cat.png", png)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/media", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, string(envelope.StatusSuccess), env["status"])
	data := env["data"].(map[string]any)
	assert.Equal(t, "http://cdn/chat-media/cat.png", data["url"])
	assert.Equal(t, png, up.content)
	assert.Equal(t, "image/png", up.contentType)
}

func TestMediaUpload_Failures(t *testing.T) {
	router := newTestRouter(Handlers{Media: MediaHandler{Uploader: &fakeUploader{}}}, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/media", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(envelope.StatusFailure), decodeEnvelope(t, rec)["status"])

	failing := &fakeUploader{err: domainchat.ErrUpstream}
	router = newTestRouter(Handlers{Media: MediaHandler{Uploader: failing}}, nil)
	body, ct := multipartBody(t, "file", "a.txt", []byte("hello"))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/media", body)
	req.Header.Set("Content-Type", ct)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestCorsConfig(t *testing.T) {
	assert.True(t, corsConfig(nil).AllowAllOrigins)
	assert.True(t, corsConfig([]string{"*"}).AllowAllOrigins)
	cfg := corsConfig([]string{"https://app.example.com"})
	assert.False(t, cfg.AllowAllOrigins)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.AllowOrigins)
}
