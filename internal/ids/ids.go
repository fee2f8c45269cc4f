// Package ids generates the identifiers used throughout the core: connection
// ids, conversation ids, turn ids, tool call ids, and background shell ids.
//
// Conversation and turn ids are ULIDs so that they sort lexically by creation
// time, which is handy for the SQLite side-file index and for log
// correlation. Shell ids follow the teacher's "shell-<uuid>" convention.
// Call and approval ids use a short Crockford base32 random suffix instead
// of a full UUID, which keeps them short enough to show in tool output.
package ids

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/richardlehane/crock32"
)

// ConnectionID identifies a transport connection. Monotonically increasing
// per process, per §3 of the spec ("Connection ... Identified by a
// monotonically increasing 64-bit id").
type ConnectionID uint64

var nextConnectionID atomic.Uint64

// NextConnectionID returns the next connection id for this process.
func NextConnectionID() ConnectionID {
	return ConnectionID(nextConnectionID.Add(1))
}

func (c ConnectionID) String() string { return fmt.Sprintf("conn-%d", uint64(c)) }

// NewConversationID returns a new opaque conversation identifier.
func NewConversationID() string {
	return "conv_" + ulid.Make().String()
}

// NewTurnID returns a new opaque turn identifier.
func NewTurnID() string {
	return "turn_" + ulid.Make().String()
}

// NewCallID returns a new tool-invocation call id, unique across the process
// lifetime per §3 ("The call_id is unique across the process lifetime").
func NewCallID() string {
	return "call-" + randomCrock32(10)
}

// NewShellID returns a new background shell id in the "shell-<uuid>" form
// used throughout §3/§4.F of the spec.
func NewShellID() string {
	return "shell-" + uuid.NewString()
}

// NewAgentID returns a new subagent identifier.
func NewAgentID() string {
	return "agent_" + ulid.Make().String()
}

// NewApprovalID returns a new approval-request correlation id.
func NewApprovalID() string {
	return "appr_" + randomCrock32(10)
}

// randomCrock32 returns an n-character Crockford base32 encoding of a random
// 64-bit value, padded/truncated to exactly n characters.
func randomCrock32(n int) string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failing is effectively unrecoverable; fall back to a
		// ULID's entropy source so callers never see an error here.
		s := ulid.Make().String()
		if len(s) > n {
			return s[:n]
		}
		return s
	}
	s := crock32.Encode(binary.BigEndian.Uint64(buf[:]))
	if len(s) >= n {
		return s[len(s)-n:]
	}
	for len(s) < n {
		s = "0" + s
	}
	return s
}
