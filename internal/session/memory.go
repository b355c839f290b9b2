package session

import (
	"context"
	"sync"
	"time"

	"github.com/dgellow/authguard/internal/crypto"
	"github.com/dgellow/authguard/internal/log"
)

// MemoryStore keeps sessions in process memory. All sessions are lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*storedRecord
	codec   codec
	now     func() time.Time
}

var (
	_ Store   = (*MemoryStore)(nil)
	_ Sweeper = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty memory store
func NewMemoryStore(encryptor crypto.Encryptor) (*MemoryStore, error) {
	c, err := newCodec(encryptor)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{
		records: make(map[string]*storedRecord),
		codec:   c,
		now:     time.Now,
	}, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	stored, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	r, err := s.codec.decode(stored)
	if err != nil {
		return nil, err
	}
	if r.Expired(s.now()) {
		return nil, ErrNotFound
	}
	return r, nil
}

func (s *MemoryStore) Save(_ context.Context, r *Record) error {
	stored, err := s.codec.encode(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.records[r.ID] = stored
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.records, id)
	s.mu.Unlock()
	return nil
}

// DeleteExpired removes every record past its expiry
func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, stored := range s.records {
		if !stored.ExpiresAt.IsZero() && !now.Before(stored.ExpiresAt) {
			delete(s.records, id)
			count++
		}
	}
	if count > 0 {
		log.LogTraceWithFields("session", "Removed expired sessions from memory", map[string]any{
			"count": count,
		})
	}
	return count, nil
}

// Len returns the number of stored records, expired ones included
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *MemoryStore) Close() error {
	return nil
}
