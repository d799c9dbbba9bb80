package registry

import (
	"context"
	"sync"
)

// Store holds the single persisted member list. Load and Commit bound every mutation:
// the registry loads a working copy, mutates it, and commits it back only on success.
type Store interface {
	Load(ctx context.Context) (*MemberList, error)
	Commit(ctx context.Context, members *MemberList) error
}

// MemoryStore is a single-slot, in-memory Store.
type MemoryStore struct {
	members *MemberList
	mu      sync.Mutex
}

// NewMemoryStore creates a store holding an empty list bounded by max.
func NewMemoryStore(max uint32) *MemoryStore {
	return &MemoryStore{members: NewMemberList(max)}
}

// Load returns a copy of the stored list.
func (s *MemoryStore) Load(_ context.Context) (*MemberList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.members.Copy(), nil
}

// Commit replaces the stored list with a copy of the provided one.
func (s *MemoryStore) Commit(_ context.Context, members *MemberList) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members = members.Copy()
	return nil
}
