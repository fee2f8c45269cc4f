package scheduler

import (
	"context"
	"testing"

	"github.com/codex-core/codex-core/internal/state"
)

func TestSubagentSpawnerOverridesPermissionMode(t *testing.T) {
	var gotMode string
	var gotParent string
	sp := &SubagentSpawner{
		NewConversation: func(ctx context.Context, conversationID, parentConversationID, prompt string, configSnapshot map[string]any, permissionMode string) error {
			gotParent = parentConversationID
			gotMode = permissionMode
			return nil
		},
	}

	res, err := sp.SpawnAgent(context.Background(), state.SpawnAgentInput{
		ParentConversationID:   "conv-parent",
		Prompt:                 "do the thing",
		PermissionModeOverride: "readonly",
	})
	if err != nil {
		t.Fatalf("SpawnAgent: %v", err)
	}
	if res.AgentID == "" || res.ConversationID == "" {
		t.Fatal("expected non-empty agent and conversation ids")
	}
	if gotParent != "conv-parent" {
		t.Fatalf("parent conversation = %q, want %q", gotParent, "conv-parent")
	}
	if gotMode != "readonly" {
		t.Fatalf("permission mode = %q, want %q", gotMode, "readonly")
	}
}

func TestSubagentSpawnerPropagatesError(t *testing.T) {
	sp := &SubagentSpawner{
		NewConversation: func(ctx context.Context, conversationID, parentConversationID, prompt string, configSnapshot map[string]any, permissionMode string) error {
			return errBoom
		},
	}
	if _, err := sp.SpawnAgent(context.Background(), state.SpawnAgentInput{}); err != errBoom {
		t.Fatalf("err = %v, want errBoom", err)
	}
}

var errBoom = errBoomType{}

type errBoomType struct{}

func (errBoomType) Error() string { return "boom" }
