package registry

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	eventKindField      protowire.Number = 1
	eventTimestampField protowire.Number = 2
	eventIdentityField  protowire.Number = 3
)

// Timestamp is a logical time value, such as the index of the log entry that produced an event.
type Timestamp uint64

// EventKind identifies the mutation an event describes.
type EventKind uint8

const (
	// MemberAdded is emitted after an identity is appended to the member list.
	MemberAdded EventKind = iota + 1
	// MemberRemoved is emitted after an identity is removed from the member list.
	MemberRemoved
)

func (k EventKind) String() string {
	switch k {
	case MemberAdded:
		return "member-added"
	case MemberRemoved:
		return "member-removed"
	}
	return fmt.Sprintf("unknown(%d)", uint8(k))
}

// Event describes a successful mutation of the member list.
type Event struct {
	// The mutation that happened.
	Kind EventKind
	// The logical time at which the mutation happened.
	Timestamp Timestamp
	// The identity that was added or removed.
	Identity Identity
}

// NewMemberAddedEvent creates an event for an identity that was added.
func NewMemberAddedEvent(ts Timestamp, member Identity) Event {
	return Event{Kind: MemberAdded, Timestamp: ts, Identity: member}
}

// NewMemberRemovedEvent creates an event for an identity that was removed.
func NewMemberRemovedEvent(ts Timestamp, member Identity) Event {
	return Event{Kind: MemberRemoved, Timestamp: ts, Identity: member}
}

// NewEventFromBytes decodes an event that was previously encoded with Bytes.
func NewEventFromBytes(b []byte) (Event, error) {
	var event Event
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Event{}, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == eventKindField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Event{}, protowire.ParseError(n)
			}
			event.Kind = EventKind(v)
			b = b[n:]
		case num == eventTimestampField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Event{}, protowire.ParseError(n)
			}
			event.Timestamp = Timestamp(v)
			b = b[n:]
		case num == eventIdentityField && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return Event{}, protowire.ParseError(n)
			}
			event.Identity = Identity(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Event{}, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return event, nil
}

// Bytes encodes the event using the protobuf wire format.
func (e Event) Bytes() []byte {
	var b []byte
	b = protowire.AppendTag(b, eventKindField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Kind))
	b = protowire.AppendTag(b, eventTimestampField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Timestamp))
	b = protowire.AppendTag(b, eventIdentityField, protowire.BytesType)
	b = protowire.AppendString(b, string(e.Identity))
	return b
}

// EventSink records events emitted by the registry.
// Recording is fire-and-forget from the registry's point of view.
type EventSink interface {
	Record(event Event)
}

// SinkFunc adapts an ordinary function to an EventSink.
type SinkFunc func(event Event)

// Record calls f(event).
func (f SinkFunc) Record(event Event) {
	f(event)
}

// Clock supplies the logical time used to annotate events.
type Clock interface {
	Now() Timestamp
}

// ClockFunc adapts an ordinary function to a Clock.
type ClockFunc func() Timestamp

// Now calls f().
func (f ClockFunc) Now() Timestamp {
	return f()
}
