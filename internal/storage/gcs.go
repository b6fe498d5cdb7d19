package storage

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSOptions configures a GCSSigner.
type GCSOptions struct {
	Bucket string

	// GoogleAccessID and PrivateKey sign URLs locally. When empty the client
	// credentials are used, which requires a service account key or the IAM
	// signBlob permission.
	GoogleAccessID string
	PrivateKey     []byte
}

// GCSSigner issues V4 signed PUT URLs for a Google Cloud Storage bucket.
type GCSSigner struct {
	client *storage.Client
	opts   GCSOptions
}

// NewGCSSigner creates a GCSSigner. clientOpts are passed through to the
// underlying GCS client, allowing credential injection.
func NewGCSSigner(ctx context.Context, opts GCSOptions, clientOpts ...option.ClientOption) (*GCSSigner, error) {
	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to create GCS client: %w", err)
	}
	return &GCSSigner{client: client, opts: opts}, nil
}

// Presign returns a signed URL permitting a PUT of req.ObjectName.
func (s *GCSSigner) Presign(_ context.Context, req *PresignRequest) (*PresignResult, error) {
	expiresAt := time.Now().Add(ttlOrDefault(req.TTL))

	signedURL, err := s.client.Bucket(s.opts.Bucket).SignedURL(req.ObjectName, &storage.SignedURLOptions{
		GoogleAccessID: s.opts.GoogleAccessID,
		PrivateKey:     s.opts.PrivateKey,
		Scheme:         storage.SigningSchemeV4,
		Method:         http.MethodPut,
		ContentType:    req.ContentType,
		Expires:        expiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: failed to sign URL for %q: %w", req.ObjectName, err)
	}

	return &PresignResult{
		ObjectName: req.ObjectName,
		UploadURL:  signedURL,
		ExpiresAt:  expiresAt,
	}, nil
}

func (s *GCSSigner) Close() error {
	return s.client.Close()
}
