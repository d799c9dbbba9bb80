// Package auth provides implementations of registry.AuthorizationChecker.
//
// Signed accepts callers whose origin was verified upstream, JWT verifies bearer
// tokens presented at the network edge, and Sudo restricts another checker to a
// single privileged identity.
package auth

import (
	"context"
	"errors"

	"github.com/jmsadair/roster/registry"
)

var (
	// ErrUnsigned is returned when a caller carries no verified origin.
	ErrUnsigned = errors.New("auth: caller origin is not signed")
	// ErrMissingToken is returned when a caller presents no credential.
	ErrMissingToken = errors.New("auth: missing bearer token")
	// ErrInvalidToken is returned when a credential cannot be verified.
	ErrInvalidToken = errors.New("auth: invalid bearer token")
	// ErrTokenExpired is returned when a credential is past its expiry.
	ErrTokenExpired = errors.New("auth: bearer token has expired")
	// ErrNotRoot is returned when a caller other than the root identity invokes a sudo-only operation.
	ErrNotRoot = errors.New("auth: caller is not the root identity")
)

// Signed accepts any caller that carries a verified identity.
type Signed struct{}

// Verify returns the caller's identity, or ErrUnsigned if it has none.
func (Signed) Verify(_ context.Context, caller registry.Caller) (registry.Identity, error) {
	if caller.Identity == "" {
		return "", ErrUnsigned
	}
	return caller.Identity, nil
}

// Sudo authorizes only the root identity.
type Sudo struct {
	// The single identity that is authorized.
	Root registry.Identity
	// The checker that first establishes who the caller is.
	Next registry.AuthorizationChecker
}

// NewSudo creates a checker that only lets the root identity through next.
func NewSudo(root registry.Identity, next registry.AuthorizationChecker) *Sudo {
	return &Sudo{Root: root, Next: next}
}

// Verify verifies the caller with the wrapped checker and then requires the result to be the root identity.
func (s *Sudo) Verify(ctx context.Context, caller registry.Caller) (registry.Identity, error) {
	who, err := s.Next.Verify(ctx, caller)
	if err != nil {
		return "", err
	}
	if s.Root == "" || who != s.Root {
		return "", ErrNotRoot
	}
	return who, nil
}
