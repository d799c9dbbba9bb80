package consensus

import (
	"fmt"

	"github.com/jmsadair/roster/registry"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	commandOpField     protowire.Number = 1
	commandCallerField protowire.Number = 2
	commandMemberField protowire.Number = 3
)

// Op identifies the registry operation a replicated command performs.
type Op uint8

const (
	// OpAddMember adds a member.
	OpAddMember Op = iota + 1
	// OpRemoveMember removes a member.
	OpRemoveMember
)

func (op Op) String() string {
	switch op {
	case OpAddMember:
		return "add-member"
	case OpRemoveMember:
		return "remove-member"
	}
	return fmt.Sprintf("unknown(%d)", uint8(op))
}

// Command is a registry operation that is replicated through the raft log.
// The caller identity has already been verified by the node that proposed the command.
type Command struct {
	Op     Op
	Caller registry.Identity
	Member registry.Identity
}

// NewCommandFromBytes decodes a command that was previously encoded with Bytes.
func NewCommandFromBytes(b []byte) (*Command, error) {
	cmd := &Command{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == commandOpField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			cmd.Op = Op(v)
			b = b[n:]
		case num == commandCallerField && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			cmd.Caller = registry.Identity(v)
			b = b[n:]
		case num == commandMemberField && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			cmd.Member = registry.Identity(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return cmd, nil
}

// Bytes encodes the command using the protobuf wire format.
func (c *Command) Bytes() []byte {
	var b []byte
	b = protowire.AppendTag(b, commandOpField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.Op))
	b = protowire.AppendTag(b, commandCallerField, protowire.BytesType)
	b = protowire.AppendString(b, string(c.Caller))
	b = protowire.AppendTag(b, commandMemberField, protowire.BytesType)
	b = protowire.AppendString(b, string(c.Member))
	return b
}
