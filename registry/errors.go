package registry

import "errors"

var (
	// ErrNotAuthorized is returned when the caller fails authorization.
	ErrNotAuthorized = errors.New("registry: caller is not authorized")
	// ErrMembersLimitExceeded is returned when adding to a list that is already at capacity.
	ErrMembersLimitExceeded = errors.New("registry: members limit exceeded")
	// ErrMemberNotFound is returned when removing an identity that is not in the list.
	ErrMemberNotFound = errors.New("registry: member not found")
	// ErrRootCannotBeMember is returned when adding the configured root identity as a member.
	ErrRootCannotBeMember = errors.New("registry: root cannot be a member")
	// ErrInvalidConfig is returned when a registry is created with an unusable configuration.
	ErrInvalidConfig = errors.New("registry: invalid configuration")
)
