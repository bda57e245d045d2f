package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomasbasham/site-receiver/internal/identity"
	"github.com/tomasbasham/site-receiver/internal/metrics"
	"github.com/tomasbasham/site-receiver/internal/plugin"
	"github.com/tomasbasham/site-receiver/internal/receiver"
	"github.com/tomasbasham/site-receiver/internal/server"
	"github.com/tomasbasham/site-receiver/internal/storage"
)

type harness struct {
	root      string
	tempDir   string
	pluginDir string
	handler   http.Handler
}

func newHarness(t *testing.T, mutate func(*server.Options)) *harness {
	t.Helper()
	h := &harness{root: t.TempDir(), tempDir: t.TempDir(), pluginDir: t.TempDir()}

	d := receiver.NewDispatcher(receiver.Options{
		Resolver: identity.NewResolver("siteA"),
		Store:    storage.NewDiskStore(h.root),
		Hooks:    plugin.NewPipeline(h.pluginDir),
	})

	opts := server.Options{
		MaxUploadBytes:  1 << 20,
		PrincipalHeader: "X-Remote-User",
		TempDir:         h.tempDir,
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.handler = server.New(d, opts).Handler()
	return h
}

func (h *harness) do(r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, r)
	return rec
}

func (h *harness) siteFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(h.root, "d", "siteA"))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

type filePart struct {
	field    string
	filename string
	content  string
}

func multipartRequest(t *testing.T, path, action string, parts ...filePart) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if action != "" {
		require.NoError(t, w.WriteField("action", action))
	}
	for _, p := range parts {
		fw, err := w.CreateFormFile(p.field, p.filename)
		require.NoError(t, err)
		_, err = io.WriteString(fw, p.content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	r := httptest.NewRequest(http.MethodPost, path, &body)
	r.Header.Set("Content-Type", w.FormDataContentType())
	r.RemoteAddr = "192.0.2.10:52100"
	return r
}

func segments(t *testing.T, body io.Reader) []receiver.Response {
	t.Helper()
	var out []receiver.Response
	dec := json.NewDecoder(body)
	for {
		var seg receiver.Response
		err := dec.Decode(&seg)
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, seg)
	}
}

func TestReceiveUnauthenticated(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(multipartRequest(t, "/", "store", filePart{field: "upload", filename: "a.csv", content: "1"}))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Empty(t, h.siteFiles(t))
}

func TestReceiveCheckWithBasicAuth(t *testing.T) {
	h := newHarness(t, nil)

	r := multipartRequest(t, "/", "test")
	r.SetBasicAuth("alice", "secret")
	rec := h.do(r)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get(server.RequestIDHeader))
	assert.Equal(t, "{\n    \"error\": 1,\n    \"message\": \"ok\"\n}\n", rec.Body.String())
}

func TestReceiveCheckURLEncoded(t *testing.T) {
	h := newHarness(t, nil)

	r := httptest.NewRequest(http.MethodPost, "/receiver.php", strings.NewReader(url.Values{"action": {"test"}}.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.Header.Set("X-Remote-User", "alice")
	r.Header.Set(server.RequestIDHeader, "req-123")
	rec := h.do(r)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-123", rec.Header().Get(server.RequestIDHeader))
	assert.Equal(t, []receiver.Response{{Error: 1, Message: "ok"}}, segments(t, rec.Body))
}

func TestReceiveStoreSingleFile(t *testing.T) {
	h := newHarness(t, nil)

	r := multipartRequest(t, "/", "store", filePart{field: "upload", filename: "a.csv", content: "1,2,3,4\n"})
	r.Header.Set("X-Remote-User", "alice")
	rec := h.do(r)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []receiver.Response{{Error: 0, Message: "Info: file stored"}}, segments(t, rec.Body))

	files := h.siteFiles(t)
	require.Len(t, files, 1)
	assert.True(t, strings.HasPrefix(files[0], "a.csv_192.0.2.10_"), files[0])

	data, err := os.ReadFile(filepath.Join(h.root, "d", "siteA", files[0]))
	require.NoError(t, err)
	assert.Equal(t, "1,2,3,4\n", string(data))

	leftovers, err := os.ReadDir(h.tempDir)
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestReceiveStoreOutlivesClientDisconnect(t *testing.T) {
	h := newHarness(t, nil)
	marker := filepath.Join(t.TempDir(), "ran")
	script := filepath.Join(h.pluginDir, "store", "001_slow")
	require.NoError(t, os.MkdirAll(filepath.Dir(script), 0o755))
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nsleep 0.3\ntouch "+marker+"\n"), 0o755))

	ctx, cancel := context.WithCancel(context.Background())
	r := multipartRequest(t, "/", "store", filePart{field: "upload", filename: "a.csv", content: "1"})
	r = r.WithContext(ctx)
	r.Header.Set("X-Remote-User", "alice")
	time.AfterFunc(50*time.Millisecond, cancel)
	rec := h.do(r)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []receiver.Response{{Error: 0, Message: "Info: file stored"}}, segments(t, rec.Body))
	assert.FileExists(t, marker)
}

func TestReceiveStoreBatchWithMissingFile(t *testing.T) {
	h := newHarness(t, nil)

	r := multipartRequest(t, "/", "store",
		filePart{field: "upload[]", filename: "a.csv", content: "1"},
		filePart{field: "upload[]", filename: "", content: ""},
	)
	r.Header.Set("X-Remote-User", "alice")
	rec := h.do(r)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []receiver.Response{
		{Error: 1, Message: "Error: upload error"},
		{Error: 0, Message: "Info: 1 file stored"},
	}, segments(t, rec.Body))
	assert.Len(t, h.siteFiles(t), 1)
}

func TestReceiveStoreFileTooLarge(t *testing.T) {
	h := newHarness(t, func(o *server.Options) { o.MaxFileBytes = 4 })

	r := multipartRequest(t, "/", "store",
		filePart{field: "upload[]", filename: "big.csv", content: "0123456789"},
		filePart{field: "upload[]", filename: "small.csv", content: "0123"},
	)
	r.Header.Set("X-Remote-User", "alice")
	rec := h.do(r)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []receiver.Response{
		{Error: 1, Message: "Error: upload error"},
		{Error: 0, Message: "Info: 1 file stored"},
	}, segments(t, rec.Body))

	files := h.siteFiles(t)
	require.Len(t, files, 1)
	assert.True(t, strings.HasPrefix(files[0], "small.csv_"), files[0])

	leftovers, err := os.ReadDir(h.tempDir)
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestReceiveStoreWithoutFiles(t *testing.T) {
	h := newHarness(t, nil)

	r := multipartRequest(t, "/", "store")
	r.Header.Set("X-Remote-User", "alice")
	rec := h.do(r)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []receiver.Response{{Error: 1, Message: "Error: no files attached to upload"}}, segments(t, rec.Body))
}

func TestReceiveUnknownAction(t *testing.T) {
	h := newHarness(t, nil)

	r := multipartRequest(t, "/", "send")
	r.Header.Set("X-Remote-User", "alice")
	rec := h.do(r)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []receiver.Response{{Error: 1, Message: "Error: unknown action"}}, segments(t, rec.Body))
}

func TestReceiveTrustedProxyParty(t *testing.T) {
	h := newHarness(t, func(o *server.Options) { o.TrustProxy = true })

	r := multipartRequest(t, "/", "store", filePart{field: "upload", filename: "a.csv", content: "1"})
	r.Header.Set("X-Remote-User", "alice")
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	rec := h.do(r)

	require.Equal(t, http.StatusOK, rec.Code)
	files := h.siteFiles(t)
	require.Len(t, files, 1)
	assert.True(t, strings.HasPrefix(files[0], "a.csv_203.0.113.7_"), files[0])
}

func TestHealthAndMetrics(t *testing.T) {
	m, err := metrics.New()
	require.NoError(t, err)
	h := newHarness(t, func(o *server.Options) { o.Metrics = m })

	rec := h.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = h.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
