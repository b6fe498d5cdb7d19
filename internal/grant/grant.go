// Package grant tracks upload authorizations issued by the local development
// store. A Grant moves through a linear lifecycle:
//
//	issued → consumed | expired
//
// A grant permits exactly one PUT of one object with one content type before
// its deadline. The store is the authoritative source of truth; the object
// handler reads and writes exclusively through it.
package grant

import (
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a grant.
type Status string

const (
	StatusIssued   Status = "issued"
	StatusConsumed Status = "consumed"
	StatusExpired  Status = "expired"
)

var (
	ErrNotFound        = errors.New("grant: not found")
	ErrExpired         = errors.New("grant: expired")
	ErrConsumed        = errors.New("grant: already used")
	ErrObjectMismatch  = errors.New("grant: object does not match")
	ErrContentMismatch = errors.New("grant: content type does not match")
)

// Grant is a single-use permission to PUT one object.
type Grant struct {
	ID          string    `json:"id"`
	Status      Status    `json:"status"`
	ObjectName  string    `json:"object_name"`
	ContentType string    `json:"content_type"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Store is the interface for persisting and retrieving grants. The in-memory
// implementation below is suitable for a single development server.
type Store interface {
	Create(objectName, contentType string, ttl time.Duration) (*Grant, error)
	Get(id string) (*Grant, error)

	// Consume checks that the grant is still issued, unexpired and matches
	// the object and content type, and marks it consumed in one step.
	Consume(id, objectName, contentType string) (*Grant, error)

	// Sweep marks overdue grants expired and forgets grants that reached a
	// final state before the cutoff. It returns the number forgotten.
	Sweep(cutoff time.Time) int
}

// MemoryStore is a concurrency-safe in-memory Store implementation.
type MemoryStore struct {
	mu     sync.RWMutex
	grants map[string]*Grant
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{grants: make(map[string]*Grant), now: time.Now}
}

func (s *MemoryStore) Create(objectName, contentType string, ttl time.Duration) (*Grant, error) {
	now := s.now()
	g := &Grant{
		ID:          uuid.New().String(),
		Status:      StatusIssued,
		ObjectName:  objectName,
		ContentType: contentType,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
		UpdatedAt:   now,
	}

	s.mu.Lock()
	s.grants[g.ID] = g
	s.mu.Unlock()

	copy := *g
	return &copy, nil
}

func (s *MemoryStore) Get(id string) (*Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.grants[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	// Return a copy to prevent callers from mutating internal state.
	copy := *g
	return &copy, nil
}

func (s *MemoryStore) Consume(id, objectName, contentType string) (*Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.grants[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}

	now := s.now()
	switch {
	case g.Status == StatusConsumed:
		return nil, ErrConsumed
	case g.Status == StatusExpired || !now.Before(g.ExpiresAt):
		g.Status = StatusExpired
		g.UpdatedAt = now
		return nil, ErrExpired
	case g.ObjectName != objectName:
		return nil, ErrObjectMismatch
	case g.ContentType != contentType:
		return nil, ErrContentMismatch
	}

	g.Status = StatusConsumed
	g.UpdatedAt = now
	copy := *g
	return &copy, nil
}

func (s *MemoryStore) Sweep(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, g := range s.grants {
		if g.Status == StatusIssued && !now.Before(g.ExpiresAt) {
			g.Status = StatusExpired
			g.UpdatedAt = now
		}
		if g.Status != StatusIssued && g.UpdatedAt.Before(cutoff) {
			delete(s.grants, id)
			removed++
		}
	}
	return removed
}

// ObjectName builds the storage path for an uploaded file:
// uploads/YYYY/MM/DD/<uuid>/<file name>. Only the base name of fileName is
// kept.
func ObjectName(fileName string, now time.Time) string {
	base := path.Base("/" + fileName)
	if base == "/" || base == "." {
		base = "upload"
	}
	date := now.UTC().Format("2006/01/02")
	return fmt.Sprintf("uploads/%s/%s/%s", date, uuid.New().String(), base)
}
