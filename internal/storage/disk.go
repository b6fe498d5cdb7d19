package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/tomasbasham/audio-upload/internal/grant"
)

// ObjectsPath is the route prefix under which the development server accepts
// PUTs for locally signed URLs.
const ObjectsPath = "/objects/"

// ErrInvalidObjectName is returned for object names that would escape the
// store's base directory.
var ErrInvalidObjectName = errors.New("storage: invalid object name")

// LocalStore writes objects to a directory on the local filesystem.
type LocalStore struct {
	baseDir string
}

// NewLocalStore creates a LocalStore that writes objects under baseDir. The
// directory is created if it does not already exist.
func NewLocalStore(baseDir string) (*LocalStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: failed to create local base directory %q: %w", baseDir, err)
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to resolve absolute path for %q: %w", baseDir, err)
	}
	return &LocalStore{baseDir: abs}, nil
}

// Path resolves objectName to a file path inside the base directory.
func (s *LocalStore) Path(objectName string) (string, error) {
	rel := filepath.FromSlash(objectName)
	if objectName == "" || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %q", ErrInvalidObjectName, objectName)
	}
	return filepath.Join(s.baseDir, rel), nil
}

// Write stores content at objectName, creating intermediate directories as
// needed. The object only appears once it has been written completely.
func (s *LocalStore) Write(_ context.Context, objectName string, content io.Reader) (int64, error) {
	dest, err := s.Path(objectName)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("storage: failed to create directory for %q: %w", objectName, err)
	}

	f, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("storage: failed to create file for %q: %w", objectName, err)
	}
	defer os.Remove(f.Name())

	n, err := io.Copy(f, content)
	if err != nil {
		f.Close()
		return n, fmt.Errorf("storage: failed to write %q: %w", objectName, err)
	}
	if err := f.Close(); err != nil {
		return n, fmt.Errorf("storage: failed to close %q: %w", objectName, err)
	}
	if err := os.Rename(f.Name(), dest); err != nil {
		return n, fmt.Errorf("storage: failed to commit %q: %w", objectName, err)
	}
	return n, nil
}

// LocalSigner issues upload URLs served by the development server itself.
// Each URL carries a single-use grant token.
type LocalSigner struct {
	publicURL string
	grants    grant.Store
}

// NewLocalSigner creates a LocalSigner whose URLs are rooted at publicURL,
// the externally reachable address of the development server.
func NewLocalSigner(publicURL string, grants grant.Store) *LocalSigner {
	return &LocalSigner{publicURL: strings.TrimRight(publicURL, "/"), grants: grants}
}

// Presign records a grant and returns a URL permitting a single PUT.
func (s *LocalSigner) Presign(_ context.Context, req *PresignRequest) (*PresignResult, error) {
	g, err := s.grants.Create(req.ObjectName, req.ContentType, ttlOrDefault(req.TTL))
	if err != nil {
		return nil, fmt.Errorf("storage: failed to record grant for %q: %w", req.ObjectName, err)
	}

	return &PresignResult{
		ObjectName: req.ObjectName,
		UploadURL:  s.publicURL + ObjectsPath + escapeObjectName(req.ObjectName) + "?token=" + url.QueryEscape(g.ID),
		ExpiresAt:  g.ExpiresAt,
	}, nil
}

func escapeObjectName(objectName string) string {
	segments := strings.Split(objectName, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}
