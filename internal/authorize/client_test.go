package authorize

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorizeUpload_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, Path, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "track.mp3", req.FileName)
		assert.Equal(t, "audio/mpeg", req.ContentType)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"uploadUrl":"https://store.example/bucket/key?sig=abc"}`))
	}))
	defer srv.Close()

	got, err := New(srv.URL+"/", srv.Client()).AuthorizeUpload(context.Background(), "track.mp3", "audio/mpeg")
	require.NoError(t, err)
	assert.Equal(t, "https://store.example/bucket/key?sig=abc", got)
}

func TestAuthorizeUpload_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bucket unavailable"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(srv.URL, nil).AuthorizeUpload(context.Background(), "track.mp3", "audio/mpeg")

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, "bucket unavailable")
}

func TestAuthorizeUpload_MalformedResponses(t *testing.T) {
	bodies := map[string]string{
		"not json":     `<html>`,
		"missing url":  `{}`,
		"relative url": `{"uploadUrl":"/bucket/key"}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			_, err := New(srv.URL, nil).AuthorizeUpload(context.Background(), "a.mp3", "audio/mpeg")
			assert.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

func TestAuthorizeUpload_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	_, err := New(base, nil).AuthorizeUpload(context.Background(), "a.mp3", "audio/mpeg")
	assert.Error(t, err)
}
