package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/codex-core/codex-core/internal/ids"
	"github.com/codex-core/codex-core/internal/llm"
	"github.com/codex-core/codex-core/internal/policy"
	"github.com/codex-core/codex-core/internal/state"
)

// Registry owns every live Conversation in the process and implements the
// lifecycle operations spec.md §4.B delegates to the Session/Turn Engine:
// new conversation, send user input, interrupt, and teardown.
type Registry struct {
	Engine *Engine

	// NewToolContext wires a fresh per-conversation ToolContext, injecting
	// the SpawnAgentFunc that breaks the tools↔engine circular dependency
	// (spec.md §4.F/§9). Left as a constructor hook rather than calling
	// state.NewToolContext directly so callers can supply their own
	// internal/scheduler.SubagentSpawner-backed spawn function.
	NewToolContext func(conversationID string) *state.ToolContext

	// BuildTeardown builds the strict teardown sequence (spec.md §4.G) for a
	// conversation about to be destroyed.
	BuildTeardown func(conversationID string) *state.Teardown

	mu            sync.Mutex
	conversations map[string]*Conversation
}

// NewRegistry returns an empty conversation registry.
func NewRegistry(engine *Engine) *Registry {
	return &Registry{Engine: engine, conversations: make(map[string]*Conversation)}
}

// NewConversationInput is the client-supplied payload for newConversation.
type NewConversationInput struct {
	Cwd                 string
	Mode                PermissionMode
	CompactionThreshold int

	// ID overrides the freshly-minted conversation id. Left empty for a
	// client-initiated newConversation; set by the spawnSubagent path
	// (internal/scheduler.SubagentSpawner) so the id it already handed back
	// to the caller as SpawnAgentResult.ConversationID is the same id the
	// registry registers the conversation under.
	ID string
}

// NewConversation creates and registers a fresh Conversation, per spec.md
// §3 ("Created by an explicit newConversation request").
func (r *Registry) NewConversation(in NewConversationInput) *Conversation {
	id := in.ID
	if id == "" {
		id = ids.NewConversationID()
	}
	var toolCtx *state.ToolContext
	if r.NewToolContext != nil {
		toolCtx = r.NewToolContext(id)
	} else {
		toolCtx = state.NewToolContext(id, nil)
	}

	conv := &Conversation{
		ID:                  id,
		Cwd:                 in.Cwd,
		Mode:                in.Mode,
		ToolCtx:             toolCtx,
		CompactionThreshold: in.CompactionThreshold,
	}
	conv.RefreshGitState()

	r.mu.Lock()
	r.conversations[id] = conv
	r.mu.Unlock()
	return conv
}

// Get returns the conversation with id, if registered.
func (r *Registry) Get(id string) (*Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[id]
	return c, ok
}

// SendUserMessage starts a new turn on conv, driving it to completion via
// the Engine. stickyTurnState is the opaque header the transport supplied
// at turn start (empty starts a fresh one).
func (r *Registry) SendUserMessage(ctx context.Context, conversationID string, content []llm.Content, stickyTurnState string, sink EventSink) error {
	conv, ok := r.Get(conversationID)
	if !ok {
		return fmt.Errorf("session: unknown conversation %q", conversationID)
	}
	if conv.currentTurn != nil && conv.currentTurn.State() != TurnTerminal {
		return fmt.Errorf("session: conversation %q already has an active turn", conversationID)
	}

	turn := NewTurn(ctx, conversationID, stickyTurnState)
	return r.Engine.Run(ctx, conv, turn, sink, content)
}

// InterruptConversation cancels the conversation's active turn, if any, per
// spec.md §4.C's cancellation paragraph.
func (r *Registry) InterruptConversation(conversationID string) error {
	conv, ok := r.Get(conversationID)
	if !ok {
		return fmt.Errorf("session: unknown conversation %q", conversationID)
	}
	if conv.currentTurn == nil {
		return nil
	}
	conv.currentTurn.Interrupt()
	return nil
}

// Teardown runs the strict conversation teardown sequence from spec.md
// §4.G and removes conversationID from the registry.
func (r *Registry) Teardown(ctx context.Context, conversationID string) {
	if r.BuildTeardown == nil {
		r.mu.Lock()
		delete(r.conversations, conversationID)
		r.mu.Unlock()
		return
	}
	t := r.BuildTeardown(conversationID)
	if t.RemoveConversation == nil {
		t.RemoveConversation = func() {
			r.mu.Lock()
			delete(r.conversations, conversationID)
			r.mu.Unlock()
		}
	}
	t.Run(ctx, conversationID)
}

// SandboxAvailable is a convenience re-export so callers assembling a
// Registry don't need a direct internal/policy import just to satisfy
// toolpipeline.Pipeline.OSSandboxAvailable.
type SandboxAvailable = policy.OSSandboxAvailable
