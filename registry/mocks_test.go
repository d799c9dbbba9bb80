package registry

import (
	"context"
	"errors"
	"sync"

	"github.com/stretchr/testify/mock"
)

type mockChecker struct {
	mock.Mock
}

func (m *mockChecker) Verify(ctx context.Context, caller Caller) (Identity, error) {
	args := m.MethodCalled("Verify", ctx, caller)
	return args.Get(0).(Identity), args.Error(1)
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Record(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	eventsCopy := make([]Event, len(s.events))
	copy(eventsCopy, s.events)
	return eventsCopy
}

type failingStore struct {
	*MemoryStore
	commitErr error
}

func (s *failingStore) Commit(ctx context.Context, members *MemberList) error {
	if s.commitErr != nil {
		return s.commitErr
	}
	return s.MemoryStore.Commit(ctx, members)
}

var errRejected = errors.New("rejected")

// allowAll authorizes every caller that carries an identity.
type allowAll struct{}

func (allowAll) Verify(_ context.Context, caller Caller) (Identity, error) {
	if caller.Identity == "" {
		return "", errRejected
	}
	return caller.Identity, nil
}
