package session

import (
	"context"
	"testing"

	"github.com/codex-core/codex-core/internal/llm"
	"github.com/codex-core/codex-core/internal/state"
	"github.com/codex-core/codex-core/internal/toolpipeline"
)

func TestRegistryNewConversationSendAndTeardown(t *testing.T) {
	backend := &scriptedBackend{rounds: [][]llm.ResponseEvent{
		{{Type: llm.ResponseEventTextDelta, TextDelta: "hi"}, {Type: llm.ResponseEventCompleted, Response: &llm.Response{}}},
	}}
	engine := &Engine{Backend: backend, Pipeline: &toolpipeline.Pipeline{Tools: map[string]*llm.Tool{}}}
	reg := NewRegistry(engine)

	conv := reg.NewConversation(NewConversationInput{Cwd: t.TempDir()})
	if conv.ID == "" {
		t.Fatal("expected a non-empty conversation id")
	}
	if _, ok := reg.Get(conv.ID); !ok {
		t.Fatal("conversation not registered")
	}

	sink := &noopSink{}
	if err := reg.SendUserMessage(context.Background(), conv.ID, llm.TextContent("hi"), "", sink); err != nil {
		t.Fatalf("SendUserMessage: %v", err)
	}
	if !sink.completed {
		t.Fatal("expected turn to complete")
	}

	cleanedUp := false
	reg.BuildTeardown = func(conversationID string) *state.Teardown {
		return &state.Teardown{
			CleanupShells: func(ctx context.Context) error {
				cleanedUp = true
				return nil
			},
		}
	}
	reg.Teardown(context.Background(), conv.ID)
	if !cleanedUp {
		t.Fatal("expected teardown's CleanupShells step to run")
	}
	if _, ok := reg.Get(conv.ID); ok {
		t.Fatal("expected conversation to be removed after teardown")
	}
}

func TestRegistrySendUserMessageUnknownConversation(t *testing.T) {
	engine := &Engine{Pipeline: &toolpipeline.Pipeline{Tools: map[string]*llm.Tool{}}}
	reg := NewRegistry(engine)
	sink := &noopSink{}
	err := reg.SendUserMessage(context.Background(), "missing", llm.TextContent("hi"), "", sink)
	if err == nil {
		t.Fatal("expected an error for an unknown conversation")
	}
}

func TestRegistryInterruptConversation(t *testing.T) {
	engine := &Engine{Pipeline: &toolpipeline.Pipeline{Tools: map[string]*llm.Tool{}}}
	reg := NewRegistry(engine)
	conv := reg.NewConversation(NewConversationInput{})
	conv.currentTurn = NewTurn(context.Background(), conv.ID, "")

	if err := reg.InterruptConversation(conv.ID); err != nil {
		t.Fatalf("InterruptConversation: %v", err)
	}
	if conv.currentTurn.State() != TurnTerminal {
		t.Fatalf("turn state = %v, want Terminal", conv.currentTurn.State())
	}
}
