// Package storage issues time-limited upload URLs for objects in a storage
// backend. GCS and S3 are the production backends; the local backend signs
// URLs that point back at the development server and stores objects on disk.
package storage

import (
	"context"
	"time"
)

// DefaultURLExpiry is how long an upload URL stays valid when the request
// does not say otherwise.
const DefaultURLExpiry = 15 * time.Minute

// Signer authorizes a single PUT of an object with a given content type.
type Signer interface {
	Presign(ctx context.Context, req *PresignRequest) (*PresignResult, error)
}

type PresignRequest struct {
	// ObjectName is the object path within the configured bucket.
	ObjectName string

	// ContentType is the MIME type the uploader must declare, e.g.
	// "audio/mpeg". The signature is bound to it.
	ContentType string

	// TTL bounds the validity of the URL. Zero means DefaultURLExpiry.
	TTL time.Duration
}

// PresignResult is the outcome of a successful authorization.
type PresignResult struct {
	// ObjectName is the object path within the configured bucket.
	ObjectName string

	// UploadURL permits a single PUT of the object until ExpiresAt.
	UploadURL string

	// ExpiresAt is when the upload URL becomes invalid.
	ExpiresAt time.Time
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultURLExpiry
	}
	return ttl
}
