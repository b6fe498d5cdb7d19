package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomasbasham/audio-upload/internal/authorize"
	"github.com/tomasbasham/audio-upload/internal/grant"
	"github.com/tomasbasham/audio-upload/internal/server"
	"github.com/tomasbasham/audio-upload/internal/storage"
	"github.com/tomasbasham/audio-upload/internal/transfer"
	"github.com/tomasbasham/audio-upload/internal/widget"
)

type testServer struct {
	*httptest.Server
	objects  *storage.LocalStore
	grants   *grant.MemoryStore
	registry *prometheus.Registry
}

// newLocalServer starts a development server backed by the local signer. The
// handler is bound after the listener exists so the signer knows its URL.
func newLocalServer(t *testing.T) *testServer {
	t.Helper()

	var handler http.Handler
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(ts.Close)

	objects, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	grants := grant.NewMemoryStore()
	registry := prometheus.NewRegistry()

	srv := server.New(server.Options{
		Signer:    storage.NewLocalSigner(ts.URL, grants),
		Objects:   objects,
		Grants:    grants,
		Registry:  registry,
		URLExpiry: time.Minute,
	})
	handler = srv.Handler()

	return &testServer{Server: ts, objects: objects, grants: grants, registry: registry}
}

func presign(t *testing.T, baseURL, body string) (*http.Response, map[string]any) {
	t.Helper()

	resp, err := http.Post(baseURL+authorize.Path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func put(t *testing.T, rawURL, contentType string, body []byte) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodPut, rawURL, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentType)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}

func TestPresign_IssuesLocalURL(t *testing.T) {
	ts := newLocalServer(t)

	resp, out := presign(t, ts.URL, `{"fileName":"song.mp3","contentType":"audio/mpeg"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	uploadURL, _ := out["uploadUrl"].(string)
	objectName, _ := out["objectName"].(string)
	assert.True(t, strings.HasPrefix(uploadURL, ts.URL+storage.ObjectsPath), uploadURL)
	assert.Contains(t, uploadURL, "?token=")
	assert.Equal(t, "song.mp3", path.Base(objectName))
	assert.NotEmpty(t, out["expiresAt"])

	assert.Equal(t, 1.0, metricValue(t, ts.registry, "audioupload_authorizations_total", "issued"))
}

func TestPresign_DefaultsContentType(t *testing.T) {
	ts := newLocalServer(t)

	resp, out := presign(t, ts.URL, `{"fileName":"song.mp3"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	uploadURL := out["uploadUrl"].(string)
	resp = put(t, uploadURL, "application/octet-stream", []byte("x"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPresign_RejectsInvalidRequests(t *testing.T) {
	ts := newLocalServer(t)

	tests := map[string]struct {
		body    string
		message string
	}{
		"malformed json": {
			body:    `{"fileName":`,
			message: "invalid request body",
		},
		"missing file name": {
			body:    `{"contentType":"audio/mpeg"}`,
			message: `fileName failed "required" validation`,
		},
		"file name too long": {
			body:    `{"fileName":"` + strings.Repeat("a", 1025) + `","contentType":"audio/mpeg"}`,
			message: `fileName failed "max" validation`,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			resp, out := presign(t, ts.URL, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Contains(t, out["error"], tt.message)
		})
	}
}

type failingSigner struct{}

func (failingSigner) Presign(context.Context, *storage.PresignRequest) (*storage.PresignResult, error) {
	return nil, errors.New("credentials unavailable")
}

func TestPresign_SignerFailure(t *testing.T) {
	srv := server.New(server.Options{Signer: failingSigner{}})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, out := presign(t, ts.URL, `{"fileName":"song.mp3","contentType":"audio/mpeg"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "failed to authorize upload", out["error"])
}

func TestPutObject_WithoutLocalBackend(t *testing.T) {
	srv := server.New(server.Options{Signer: failingSigner{}})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp := put(t, ts.URL+"/objects/uploads/a.mp3?token=x", "audio/mpeg", []byte("x"))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPutObject_StoresOnce(t *testing.T) {
	ts := newLocalServer(t)

	_, out := presign(t, ts.URL, `{"fileName":"my song.wav","contentType":"audio/wav"}`)
	uploadURL := out["uploadUrl"].(string)
	objectName := out["objectName"].(string)

	resp := put(t, uploadURL, "audio/wav", []byte("RIFF-data"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	dest, err := ts.objects.Path(objectName)
	require.NoError(t, err)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "RIFF-data", string(data))

	resp = put(t, uploadURL, "audio/wav", []byte("again"))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	data, err = os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "RIFF-data", string(data))

	assert.Equal(t, 1.0, metricValue(t, ts.registry, "audioupload_object_puts_total", "stored"))
	assert.Equal(t, 1.0, metricValue(t, ts.registry, "audioupload_object_puts_total", "denied"))
}

func TestPutObject_Rejections(t *testing.T) {
	ts := newLocalServer(t)

	issue := func(t *testing.T) string {
		_, out := presign(t, ts.URL, `{"fileName":"a.mp3","contentType":"audio/mpeg"}`)
		return out["uploadUrl"].(string)
	}

	t.Run("wrong content type", func(t *testing.T) {
		resp := put(t, issue(t), "audio/wav", []byte("x"))
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("unknown token", func(t *testing.T) {
		u := issue(t)
		u = u[:strings.Index(u, "?")] + "?token=bogus"
		resp := put(t, u, "audio/mpeg", []byte("x"))
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("different object", func(t *testing.T) {
		u := issue(t)
		u = strings.Replace(u, "a.mp3", "b.mp3", 1)
		resp := put(t, u, "audio/mpeg", []byte("x"))
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

func TestHealthzAndMetrics(t *testing.T) {
	ts := newLocalServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	presign(t, ts.URL, `{"fileName":"a.mp3","contentType":"audio/mpeg"}`)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `audioupload_authorizations_total{outcome="issued"} 1`)
}

func TestWidget_EndToEnd(t *testing.T) {
	ts := newLocalServer(t)

	content := []byte(strings.Repeat("audio-bytes-", 1024))
	var completed []string

	w := widget.New(widget.Options{
		Authorizer:       authorize.New(ts.URL, ts.Client()),
		Transport:        transfer.New(ts.Client()),
		OnUploadComplete: func(url string) { completed = append(completed, url) },
	})

	var progress []int
	w.Subscribe(func(s widget.Session) { progress = append(progress, s.Progress) })

	require.NoError(t, w.SelectFile(widget.SelectedFile{
		Name:     "loop.mp3",
		MIMEType: "audio/mpeg",
		Size:     int64(len(content)),
		Content:  bytes.NewReader(content),
	}))
	require.NoError(t, w.Upload(context.Background()))

	s := w.Session()
	assert.Equal(t, widget.PhaseSucceeded, s.Phase)
	assert.Equal(t, 100, s.Progress)
	require.Len(t, completed, 1)
	assert.True(t, strings.HasPrefix(completed[0], ts.URL+storage.ObjectsPath))
	assert.NotContains(t, completed[0], "token=")

	for i := 1; i < len(progress); i++ {
		assert.GreaterOrEqual(t, progress[i], progress[i-1])
	}

	objectName := strings.TrimPrefix(completed[0], ts.URL+storage.ObjectsPath)
	dest, err := ts.objects.Path(objectName)
	require.NoError(t, err)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestWidget_EndToEndReplayRejected(t *testing.T) {
	ts := newLocalServer(t)

	// Authorizer that always hands out the same URL.
	_, out := presign(t, ts.URL, `{"fileName":"a.mp3","contentType":"audio/mpeg"}`)
	replay := staticAuthorizer(out["uploadUrl"].(string))

	w := widget.New(widget.Options{Authorizer: replay, Transport: transfer.New(ts.Client())})
	require.NoError(t, w.SelectFile(widget.SelectedFile{
		Name: "a.mp3", MIMEType: "audio/mpeg", Size: 1, Content: strings.NewReader("x"),
	}))
	require.NoError(t, w.Upload(context.Background()))

	require.NoError(t, w.Reset())
	require.NoError(t, w.SelectFile(widget.SelectedFile{
		Name: "a.mp3", MIMEType: "audio/mpeg", Size: 1, Content: strings.NewReader("y"),
	}))
	err := w.Upload(context.Background())

	var terr *widget.TransferError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, widget.StageTransfer, terr.Stage)
	assert.Equal(t, widget.MessageUploadFailed, w.Session().Message())
}

type staticAuthorizer string

func (a staticAuthorizer) AuthorizeUpload(context.Context, string, string) (string, error) {
	return string(a), nil
}

func metricValue(t *testing.T, registry *prometheus.Registry, name, outcome string) float64 {
	t.Helper()

	families, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "outcome" && lp.GetValue() == outcome {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
