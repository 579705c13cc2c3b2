// Package session provides SessionStore implementations and the history
// summarizer that keeps long conversations inside the token budget.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/sentinelmesh/core"
)

// InMemoryStore is a volatile core.SessionStore keeping sessions in a
// process-local map. It is safe for concurrent access and best suited for
// tests, demos, and as the degradation target when the durable store fails.
// Returned histories are copies so callers cannot mutate internal state.
type InMemoryStore struct {
	mu         sync.RWMutex
	sessions   map[string]*core.Session
	summarizer *Summarizer
}

// NewInMemoryStore constructs an empty in-memory session store. A non-nil
// summarizer enables history compaction on append.
func NewInMemoryStore(optFns ...func(s *InMemoryStore)) *InMemoryStore {
	s := &InMemoryStore{sessions: make(map[string]*core.Session)}
	for _, fn := range optFns {
		fn(s)
	}
	return s
}

// WithSummarizer enables history compaction.
func WithSummarizer(sum *Summarizer) func(s *InMemoryStore) {
	return func(s *InMemoryStore) { s.summarizer = sum }
}

// Create implements core.SessionStore.
func (s *InMemoryStore) Create(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := core.NewSessionID()
	now := time.Now().UTC()
	s.sessions[id] = &core.Session{ID: id, CreatedAt: now, LastActiveAt: now}
	return id, nil
}

// Append implements core.SessionStore. Unknown session ids are created
// implicitly so the in-memory store can absorb traffic for sessions that
// were minted by a failed durable store.
func (s *InMemoryStore) Append(ctx context.Context, sessionID string, turn core.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		now := time.Now().UTC()
		sess = &core.Session{ID: sessionID, CreatedAt: now}
		s.sessions[sessionID] = sess
	}
	sess.Turns = append(sess.Turns, turn)
	sess.LastActiveAt = time.Now().UTC()

	if s.summarizer != nil {
		if compacted, ok := s.summarizer.Compact(ctx, sess.Turns); ok {
			sess.Turns = compacted
		}
	}
	return nil
}

// History implements core.SessionStore.
func (s *InMemoryStore) History(ctx context.Context, sessionID string) ([]core.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrSessionNotFound, sessionID)
	}
	turns := make([]core.Turn, len(sess.Turns))
	copy(turns, sess.Turns)
	return turns, nil
}

// Clear implements core.SessionStore. Clearing an unknown session is a
// no-op.
func (s *InMemoryStore) Clear(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// Close implements core.SessionStore.
func (s *InMemoryStore) Close() error { return nil }
