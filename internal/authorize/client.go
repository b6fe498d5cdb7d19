// Package authorize requests time-limited upload URLs from the authorization
// service.
//
// The service contract is a single endpoint:
//
//	POST {base}/api/s3/presigned-upload-url
//	{"fileName": "track.mp3", "contentType": "audio/mpeg"}
//
// answered with
//
//	{"uploadUrl": "https://store.example/bucket/key?X-Amz-Signature=..."}
package authorize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Path is the authorization endpoint relative to the service base URL.
const Path = "/api/s3/presigned-upload-url"

// ErrMalformedResponse is returned when the service answers 2xx but the body
// does not carry a usable absolute upload URL.
var ErrMalformedResponse = errors.New("authorize: malformed response")

// Request is the JSON body sent to the authorization service.
type Request struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
}

// Response is the JSON body returned by the authorization service.
type Response struct {
	UploadURL string `json:"uploadUrl"`
}

// StatusError is returned when the service answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("authorize: service responded %s", e.Status)
	}
	return fmt.Sprintf("authorize: service responded %s: %s", e.Status, e.Body)
}

// Client talks to an authorization service rooted at a base URL.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client for baseURL. A nil httpClient uses
// http.DefaultClient.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// AuthorizeUpload asks the service for a single-use URL permitting a PUT of
// fileName with the given content type.
func (c *Client) AuthorizeUpload(ctx context.Context, fileName, contentType string) (string, error) {
	payload, err := json.Marshal(Request{FileName: fileName, ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("authorize: failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+Path, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("authorize: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("authorize: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &StatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	u, err := url.Parse(out.UploadURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return "", fmt.Errorf("%w: upload url %q is not absolute", ErrMalformedResponse, out.UploadURL)
	}

	return out.UploadURL, nil
}
