package grant

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestStore() (*MemoryStore, *clock) {
	c := &clock{t: time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)}
	s := NewMemoryStore()
	s.now = c.now
	return s, c
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	s, c := newTestStore()

	g, err := s.Create("uploads/a.mp3", "audio/mpeg", 15*time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, g.ID)
	assert.Equal(t, StatusIssued, g.Status)
	assert.Equal(t, c.t.Add(15*time.Minute), g.ExpiresAt)

	got, err := s.Get(g.ID)
	require.NoError(t, err)
	assert.Equal(t, g, got)

	got.Status = StatusConsumed
	again, _ := s.Get(g.ID)
	assert.Equal(t, StatusIssued, again.Status, "Get must return a copy")

	_, err = s.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ConsumeOnce(t *testing.T) {
	s, _ := newTestStore()
	g, _ := s.Create("uploads/a.mp3", "audio/mpeg", time.Minute)

	consumed, err := s.Consume(g.ID, "uploads/a.mp3", "audio/mpeg")
	require.NoError(t, err)
	assert.Equal(t, StatusConsumed, consumed.Status)

	_, err = s.Consume(g.ID, "uploads/a.mp3", "audio/mpeg")
	assert.ErrorIs(t, err, ErrConsumed)
}

func TestMemoryStore_ConsumeRejects(t *testing.T) {
	s, c := newTestStore()

	g, _ := s.Create("uploads/a.mp3", "audio/mpeg", time.Minute)
	_, err := s.Consume(g.ID, "uploads/b.mp3", "audio/mpeg")
	assert.ErrorIs(t, err, ErrObjectMismatch)

	_, err = s.Consume(g.ID, "uploads/a.mp3", "audio/wav")
	assert.ErrorIs(t, err, ErrContentMismatch)

	_, err = s.Consume("missing", "uploads/a.mp3", "audio/mpeg")
	assert.ErrorIs(t, err, ErrNotFound)

	c.t = c.t.Add(time.Minute)
	_, err = s.Consume(g.ID, "uploads/a.mp3", "audio/mpeg")
	assert.ErrorIs(t, err, ErrExpired)

	got, _ := s.Get(g.ID)
	assert.Equal(t, StatusExpired, got.Status)
}

func TestMemoryStore_Sweep(t *testing.T) {
	s, c := newTestStore()

	live, _ := s.Create("uploads/live.mp3", "audio/mpeg", time.Hour)
	overdue, _ := s.Create("uploads/overdue.mp3", "audio/mpeg", time.Minute)
	used, _ := s.Create("uploads/used.mp3", "audio/mpeg", time.Hour)
	_, err := s.Consume(used.ID, "uploads/used.mp3", "audio/mpeg")
	require.NoError(t, err)

	c.t = c.t.Add(2 * time.Minute)

	// Nothing is old enough to forget yet, but the overdue grant expires.
	assert.Equal(t, 0, s.Sweep(c.t.Add(-time.Hour)))
	got, _ := s.Get(overdue.ID)
	assert.Equal(t, StatusExpired, got.Status)

	assert.Equal(t, 2, s.Sweep(c.t.Add(time.Second)))
	_, err = s.Get(live.ID)
	assert.NoError(t, err)
	_, err = s.Get(used.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRunSweeper_StopsWithContext(t *testing.T) {
	s := NewMemoryStore()
	_, _ = s.Create("uploads/a.mp3", "audio/mpeg", time.Nanosecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunSweeper(ctx, SweeperOptions{Store: s, Interval: time.Millisecond})
		close(done)
	}()

	require.Eventually(t, func() bool {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return len(s.grants) == 0
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestObjectName(t *testing.T) {
	now := time.Date(2026, 10, 18, 23, 0, 0, 0, time.UTC)

	name := ObjectName("track.mp3", now)
	assert.True(t, strings.HasPrefix(name, "uploads/2026/10/18/"), name)
	assert.True(t, strings.HasSuffix(name, "/track.mp3"), name)
	assert.Len(t, strings.Split(name, "/"), 6)

	assert.True(t, strings.HasSuffix(ObjectName("../../etc/passwd", now), "/passwd"))
	assert.True(t, strings.HasSuffix(ObjectName("", now), "/upload"))
}
