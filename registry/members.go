package registry

import (
	"errors"
	"slices"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	memberListMaxField protowire.Number = 1
	memberListIDField  protowire.Number = 2
)

var errMalformedMemberList = errors.New("registry: malformed member list encoding")

// Identity is an opaque value identifying a registry participant.
type Identity string

// MemberList is an ordered, capacity-bounded sequence of identities.
// Entries are kept in insertion order and the same identity may appear more than once.
type MemberList struct {
	// Grows with the entries, never preallocated to the bound.
	members []Identity
	// The maximum number of entries.
	max int
}

// NewMemberList creates an empty list that will hold at most max entries.
func NewMemberList(max uint32) *MemberList {
	return &MemberList{max: int(max)}
}

// NewMemberListFromBytes decodes a list that was previously encoded with Bytes.
func NewMemberListFromBytes(b []byte) (*MemberList, error) {
	var max uint64
	var members []Identity
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == memberListMaxField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			max = v
			b = b[n:]
		case num == memberListIDField && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			members = append(members, Identity(v))
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}

	if uint64(len(members)) > max || max > uint64(^uint32(0)) {
		return nil, errMalformedMemberList
	}
	return &MemberList{members: members, max: int(max)}, nil
}

// Bytes encodes the list, including its bound, using the protobuf wire format.
func (ml *MemberList) Bytes() []byte {
	var b []byte
	b = protowire.AppendTag(b, memberListMaxField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(ml.max))
	for _, member := range ml.members {
		b = protowire.AppendTag(b, memberListIDField, protowire.BytesType)
		b = protowire.AppendString(b, string(member))
	}
	return b
}

// Push appends the identity to the end of the list.
// If the list is full, ErrMembersLimitExceeded is returned and the list is not modified.
func (ml *MemberList) Push(member Identity) error {
	if len(ml.members) >= ml.max {
		return ErrMembersLimitExceeded
	}
	ml.members = append(ml.members, member)
	return nil
}

// Remove removes the first entry equal to the identity, preserving the order of the remaining entries.
// It returns the index the entry occupied and whether an entry was found.
func (ml *MemberList) Remove(member Identity) (int, bool) {
	i := ml.Index(member)
	if i < 0 {
		return i, false
	}
	ml.members = slices.Delete(ml.members, i, i+1)
	return i, true
}

// Index returns the position of the first entry equal to the identity or -1 if there is none.
func (ml *MemberList) Index(member Identity) int {
	return slices.Index(ml.members, member)
}

// Contains returns a boolean value indicating whether the identity is in the list.
func (ml *MemberList) Contains(member Identity) bool {
	return ml.Index(member) >= 0
}

// Len returns the number of entries.
func (ml *MemberList) Len() int {
	return len(ml.members)
}

// Max returns the bound on the number of entries.
func (ml *MemberList) Max() int {
	return ml.max
}

// IsFull returns a boolean value indicating whether another entry can be pushed.
func (ml *MemberList) IsFull() bool {
	return len(ml.members) >= ml.max
}

// Members returns a copy of the entries in insertion order.
func (ml *MemberList) Members() []Identity {
	membersCopy := make([]Identity, len(ml.members))
	copy(membersCopy, ml.members)
	return membersCopy
}

// Copy creates a deep copy of the list that has the same bound.
func (ml *MemberList) Copy() *MemberList {
	return &MemberList{members: slices.Clone(ml.members), max: ml.max}
}

// Equal returns a boolean value indicating whether this list is equal to the provided one.
// Two lists are equal if and only if they have the same bound and the same entries in the same order.
func (ml *MemberList) Equal(other *MemberList) bool {
	return ml.max == other.max && slices.Equal(ml.members, other.members)
}
