package state

import (
	"context"
	"sync"
)

// SpawnAgentFunc is the callback the Session/Turn Engine injects into a
// ToolContext at turn start so tools can spawn subagents without holding a
// direct reference to the engine type, breaking the circular dependency
// described in spec.md §4.F and §9 ("Circular dependency between tools and
// the engine").
type SpawnAgentFunc func(ctx context.Context, input SpawnAgentInput) (SpawnAgentResult, error)

// SpawnAgentInput carries the parent's snapshot of role/config selections,
// per §4.F ("Spawn input carries the parent's snapshot of role selections so
// that the child is unaffected by later parent config changes").
type SpawnAgentInput struct {
	ParentConversationID string
	Prompt               string
	ConfigSnapshot       map[string]any
	// PermissionModeOverride, if non-empty, replaces (not merges with) the
	// inherited permission mode, per §4.F.
	PermissionModeOverride string
}

// SpawnAgentResult is what spawning a subagent returns to the calling tool.
type SpawnAgentResult struct {
	AgentID        string
	ConversationID string
}

// InvokedSkillLog records which named skills/prompts a conversation has
// already invoked, so a tool can avoid re-running idempotent setup and so
// the status surface can show "skills used this conversation".
type InvokedSkillLog struct {
	mu    sync.Mutex
	names []string
	seen  map[string]struct{}
}

func NewInvokedSkillLog() *InvokedSkillLog {
	return &InvokedSkillLog{seen: make(map[string]struct{})}
}

// Record appends name if it hasn't been recorded yet, and reports whether it
// was new.
func (l *InvokedSkillLog) Record(name string) (isNew bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[name]; ok {
		return false
	}
	l.seen[name] = struct{}{}
	l.names = append(l.names, name)
	return true
}

// Names returns a snapshot of the skills invoked so far, in call order.
func (l *InvokedSkillLog) Names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.names))
	copy(out, l.names)
	return out
}

// PlanModeFlag is a per-conversation sticky flag: while set, mutation tools
// should refuse to execute and instead ask the model to record a plan.
type PlanModeFlag struct {
	mu      sync.Mutex
	enabled bool
}

func (f *PlanModeFlag) Set(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = enabled
}

func (f *PlanModeFlag) Enabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

// ToolContext bundles the per-conversation shared services component G
// exposes to tools, per spec.md §4.G: "Approval store, file tracker,
// invoked-skill log, plan-mode flag, LSP manager handle: all per-conversation,
// owned by the engine, exposed to tools via a shared ToolContext."
type ToolContext struct {
	ConversationID string
	Approvals      *ApprovalStore
	Files          *FileTracker
	InvokedSkills  *InvokedSkillLog
	PlanMode       *PlanModeFlag

	// LSPHandle is an opaque handle to the conversation's LSP manager, left
	// as `any` here because the LSP client wire protocol is out of scope
	// per spec.md §1 ("the core treats them as capabilities").
	LSPHandle any

	SpawnAgent SpawnAgentFunc
}

// NewToolContext wires a fresh set of per-conversation shared services.
func NewToolContext(conversationID string, spawn SpawnAgentFunc) *ToolContext {
	return &ToolContext{
		ConversationID: conversationID,
		Approvals:      NewApprovalStore(),
		Files:          NewFileTracker(),
		InvokedSkills:  NewInvokedSkillLog(),
		PlanMode:       &PlanModeFlag{},
		SpawnAgent:     spawn,
	}
}
