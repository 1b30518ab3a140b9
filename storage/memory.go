package storage

import (
	"context"
	"sync"

	"github.com/plauth/plauth/credential"
)

// MemoryStore holds a credential in memory only. Useful for short-lived
// processes and tests where persisting tokens to disk is not wanted.
type MemoryStore struct {
	mu   sync.RWMutex
	cred *credential.Credential
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(_ context.Context) (*credential.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred == nil {
		return nil, ErrNotFound
	}
	cp := *s.cred
	return &cp, nil
}

func (s *MemoryStore) Save(_ context.Context, cred *credential.Credential) error {
	if err := cred.Validate(); err != nil {
		return err
	}
	cp := *cred
	s.mu.Lock()
	s.cred = &cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	s.cred = nil
	s.mu.Unlock()
	return nil
}
