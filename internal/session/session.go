// Package session implements component C, the Session/Turn Engine: it owns
// conversation history, drives the per-turn streaming state machine
// described in spec.md §4.C, serializes model requests per turn, and
// dispatches tool calls found in the stream to component E
// (internal/toolpipeline) while feeding their results back to the model as
// a continuation request.
//
// Grounded on the teacher's llm/codex.Service.Do: its accumulate-while-
// draining-a-subscription-channel shape is the same one this package's
// Turn.run loop generalizes from a single non-streaming Do call into a
// resumable multi-round tool loop over a completion.Backend.
package session

import (
	"sync"
	"time"

	"github.com/codex-core/codex-core/internal/gitstate"
	"github.com/codex-core/codex-core/internal/llm"
	"github.com/codex-core/codex-core/internal/policy"
	"github.com/codex-core/codex-core/internal/state"
)

// ItemType discriminates ResponseItem, spec.md §3's "ordered list of
// ResponseItems (messages, tool calls, tool outputs)".
type ItemType string

const (
	ItemMessage    ItemType = "message"
	ItemToolCall   ItemType = "tool_call"
	ItemToolOutput ItemType = "tool_output"
)

// ResponseItem is one entry in a conversation's history.
type ResponseItem struct {
	Type ItemType

	Message *llm.Message // ItemMessage

	ToolCallID    string       // ItemToolCall / ItemToolOutput
	ToolName      string       // ItemToolCall
	ToolArguments []byte       // ItemToolCall
	ToolOutput    *llm.ToolOut // ItemToolOutput

	CreatedAt time.Time
}

// PermissionMode is a conversation's current approval posture and sandbox
// scope, the two values component E's policy stage (internal/policy.Decide)
// consumes on every tool dispatch.
type PermissionMode struct {
	Approval policy.ApprovalMode
	Sandbox  policy.SandboxPolicy
}

// Conversation owns one thread's history, permission mode, and per-
// conversation shared services (component G), per spec.md §3.
type Conversation struct {
	ID       string
	Cwd      string
	Mode     PermissionMode
	ToolCtx  *state.ToolContext
	GitState *gitstate.GitState

	// CompactionThreshold is the history-item count past which the engine
	// issues a compact request before starting the next turn, per spec.md
	// §4.C ("When history exceeds a configured threshold...").
	CompactionThreshold int

	historyMu  sync.Mutex
	history    []ResponseItem
	compacting bool
	// duringCompaction buffers items appended while a compaction pass is
	// in flight, per spec.md §4.C: "if a tool result arrives during
	// compaction, it is appended to the compacted history" rather than
	// being lost or racing the summarizer's read of the old history.
	duringCompaction []ResponseItem

	currentTurn *Turn
}

// History returns a snapshot of the conversation's ordered items.
func (c *Conversation) History() []ResponseItem {
	c.historyMu.Lock()
	defer c.historyMu.Unlock()
	out := make([]ResponseItem, len(c.history))
	copy(out, c.history)
	return out
}

func (c *Conversation) appendItem(item ResponseItem) {
	item.CreatedAt = time.Now()
	c.historyMu.Lock()
	defer c.historyMu.Unlock()
	if c.compacting {
		c.duringCompaction = append(c.duringCompaction, item)
		return
	}
	c.history = append(c.history, item)
}

// RefreshGitState updates the conversation's human-facing git snapshot at a
// turn boundary, per the gitstate package doc's grounding note.
func (c *Conversation) RefreshGitState() {
	c.GitState = gitstate.GetGitState(c.Cwd)
}
