package scheduler

import (
	"context"

	"github.com/codex-core/codex-core/internal/ids"
	"github.com/codex-core/codex-core/internal/state"
)

// NewConversationFunc starts a fresh child conversation for a spawned
// subagent. cmd/codex-core supplies this on top of the session registry and
// applies the permission-mode override there; scheduler only allocates ids
// and forwards the override, so that tools (component E) never import the engine
// directly — this is the other half of the SpawnAgentFunc indirection
// started in internal/state.
type NewConversationFunc func(ctx context.Context, conversationID, parentConversationID, prompt string, configSnapshot map[string]any, permissionMode string) error

// SubagentSpawner implements state.SpawnAgentFunc by allocating fresh
// agent/conversation ids and forwarding to an injected NewConversationFunc.
type SubagentSpawner struct {
	NewConversation NewConversationFunc
}

// SpawnAgent implements state.SpawnAgentFunc.
func (sp *SubagentSpawner) SpawnAgent(ctx context.Context, input state.SpawnAgentInput) (state.SpawnAgentResult, error) {
	agentID := ids.NewAgentID()
	conversationID := ids.NewConversationID()

	// PermissionModeOverride, when set, replaces rather than merges with the
	// inherited permission mode, per spec.md §4.F.
	if err := sp.NewConversation(ctx, conversationID, input.ParentConversationID, input.Prompt, input.ConfigSnapshot, input.PermissionModeOverride); err != nil {
		return state.SpawnAgentResult{}, err
	}

	return state.SpawnAgentResult{AgentID: agentID, ConversationID: conversationID}, nil
}
