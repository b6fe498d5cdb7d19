// Package transfer performs the byte-level PUT of a file to an authorized
// object store URL, reporting progress as the request body is consumed.
package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// ProgressFunc receives the number of bytes sent so far and the total number
// of bytes in the body. total is -1 when the size is not known.
type ProgressFunc func(loaded, total int64)

// Request describes a single PUT to an object store.
type Request struct {
	// URL is the authorized upload URL, including any signature query.
	URL string

	// ContentType is sent verbatim as the Content-Type header. Signed URLs are
	// usually bound to it.
	ContentType string

	// Body is the raw file content.
	Body io.Reader

	// Size is the body length in bytes, or -1 if unknown.
	Size int64

	// Progress, when set, is called every time the transport reads from Body.
	Progress ProgressFunc
}

// StatusError is returned when the object store answers with a non-2xx
// status.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("transfer: object store responded %s", e.Status)
}

// Client PUTs file content to object store URLs.
type Client struct {
	httpClient *http.Client
}

// New returns a Client using httpClient, or http.DefaultClient when nil.
func New(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{httpClient: httpClient}
}

// Put sends req.Body to req.URL. Any 2xx response is success and its body is
// discarded.
func (c *Client) Put(ctx context.Context, req *Request) error {
	body := req.Body
	if req.Progress != nil {
		body = &progressReader{r: req.Body, total: req.Size, fn: req.Progress}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, req.URL, body)
	if err != nil {
		return fmt.Errorf("transfer: failed to build request: %w", err)
	}
	if req.Size >= 0 {
		httpReq.ContentLength = req.Size
	}
	if req.Size == 0 {
		httpReq.Body = http.NoBody
	}
	httpReq.Header.Set("Content-Type", req.ContentType)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("transfer: request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	if req.Progress != nil && req.Size == 0 {
		req.Progress(0, 0)
	}
	return nil
}

// progressReader counts bytes as the HTTP transport drains the body. The
// transport may read from a different goroutine than the caller of Put.
type progressReader struct {
	r     io.Reader
	total int64
	fn    ProgressFunc

	mu     sync.Mutex
	loaded int64
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.mu.Lock()
		p.loaded += int64(n)
		loaded := p.loaded
		p.mu.Unlock()
		p.fn(loaded, p.total)
	}
	return n, err
}
