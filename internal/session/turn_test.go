package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/codex-core/codex-core/internal/completion"
	"github.com/codex-core/codex-core/internal/llm"
	"github.com/codex-core/codex-core/internal/policy"
	"github.com/codex-core/codex-core/internal/state"
	"github.com/codex-core/codex-core/internal/toolpipeline"
)

// scriptedBackend replays one canned event slice per Stream call, in order.
type scriptedBackend struct {
	rounds [][]llm.ResponseEvent
	calls  int
}

func (b *scriptedBackend) Stream(ctx context.Context, req *llm.Request, info completion.ModelInfo, opts completion.StreamOptions) (<-chan llm.ResponseEvent, error) {
	round := b.rounds[b.calls]
	b.calls++
	ch := make(chan llm.ResponseEvent, len(round))
	for _, ev := range round {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

// noopSink records tool begin/end ids, text deltas, completion and failure
// for tests to assert on, and ignores progress and reasoning events.
type noopSink struct {
	begins, ends []string
	textDeltas   []string
	completed    bool
	failed       error
}

func (s *noopSink) Begin(callID, toolName string)                { s.begins = append(s.begins, callID) }
func (s *noopSink) Progress(callID string, payload any)          {}
func (s *noopSink) End(callID string, out llm.ToolOut)           { s.ends = append(s.ends, callID) }
func (s *noopSink) TextDelta(turnID, delta string)               { s.textDeltas = append(s.textDeltas, delta) }
func (s *noopSink) ReasoningDelta(turnID, delta string)          {}
func (s *noopSink) TurnCompleted(turnID string, usage llm.Usage) { s.completed = true }
func (s *noopSink) TurnFailed(turnID string, err error)          { s.failed = err }

func newConv(t *testing.T) *Conversation {
	t.Helper()
	return &Conversation{
		ID:      "conv-1",
		ToolCtx: state.NewToolContext("conv-1", nil),
		Mode:    PermissionMode{Approval: policy.ApprovalModeOnRequest, Sandbox: policy.SandboxDangerFullAccess},
	}
}

func TestRunCompletesWithoutToolCalls(t *testing.T) {
	backend := &scriptedBackend{rounds: [][]llm.ResponseEvent{
		{
			{Type: llm.ResponseEventTextDelta, TextDelta: "hello"},
			{Type: llm.ResponseEventCompleted, Response: &llm.Response{Usage: llm.Usage{InputTokens: 3}}},
		},
	}}
	engine := &Engine{Backend: backend, Pipeline: &toolpipeline.Pipeline{Tools: map[string]*llm.Tool{}}}
	conv := newConv(t)
	turn := NewTurn(context.Background(), conv.ID, "")
	sink := &noopSink{}

	err := engine.Run(context.Background(), conv, turn, sink, llm.TextContent("hi"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if turn.State() != TurnTerminal {
		t.Fatalf("turn state = %v, want Terminal", turn.State())
	}
	if !sink.completed {
		t.Fatal("expected TurnCompleted to fire")
	}
	if backend.calls != 1 {
		t.Fatalf("backend called %d times, want 1", backend.calls)
	}
}

func TestRunDispatchesToolCallThenContinues(t *testing.T) {
	toolArgs, _ := json.Marshal(map[string]string{})
	backend := &scriptedBackend{rounds: [][]llm.ResponseEvent{
		{
			{Type: llm.ResponseEventToolCall, ToolCallID: "call-1", ToolCallName: "echo", ToolCallInput: toolArgs},
			{Type: llm.ResponseEventCompleted, Response: &llm.Response{}},
		},
		{
			{Type: llm.ResponseEventTextDelta, TextDelta: "done"},
			{Type: llm.ResponseEventCompleted, Response: &llm.Response{}},
		},
	}}

	ran := false
	tool := &llm.Tool{Name: "echo", Run: func(ctx context.Context, input json.RawMessage) llm.ToolOut {
		ran = true
		return llm.ToolOut{LLMContent: llm.TextContent("ok")}
	}}

	engine := &Engine{Backend: backend, Pipeline: &toolpipeline.Pipeline{Tools: map[string]*llm.Tool{"echo": tool}}}
	conv := newConv(t)
	turn := NewTurn(context.Background(), conv.ID, "")
	sink := &noopSink{}

	err := engine.Run(context.Background(), conv, turn, sink, llm.TextContent("hi"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !ran {
		t.Fatal("expected tool body to run")
	}
	if backend.calls != 2 {
		t.Fatalf("backend called %d times, want 2 (initial + continuation)", backend.calls)
	}
	if len(sink.begins) != 1 || sink.begins[0] != "call-1" || len(sink.ends) != 1 {
		t.Fatalf("begin/end invariant: begins=%v ends=%v", sink.begins, sink.ends)
	}

	history := conv.History()
	var sawToolCall, sawToolOutput bool
	for _, item := range history {
		if item.Type == ItemToolCall && item.ToolCallID == "call-1" {
			sawToolCall = true
		}
		if item.Type == ItemToolOutput && item.ToolCallID == "call-1" {
			sawToolOutput = true
		}
	}
	if !sawToolCall || !sawToolOutput {
		t.Fatalf("history missing tool call/output: %+v", history)
	}
}

func TestRunSurfacesStreamError(t *testing.T) {
	wantErr := context.DeadlineExceeded
	backend := &scriptedBackend{rounds: [][]llm.ResponseEvent{
		{{Type: llm.ResponseEventError, Err: wantErr}},
	}}
	engine := &Engine{Backend: backend, Pipeline: &toolpipeline.Pipeline{Tools: map[string]*llm.Tool{}}}
	conv := newConv(t)
	turn := NewTurn(context.Background(), conv.ID, "")
	sink := &noopSink{}

	err := engine.Run(context.Background(), conv, turn, sink, llm.TextContent("hi"))
	if err == nil {
		t.Fatal("expected an error")
	}
	if turn.State() != TurnTerminal {
		t.Fatalf("turn state = %v, want Terminal", turn.State())
	}
	if sink.failed == nil {
		t.Fatal("expected TurnFailed to fire")
	}
}

func TestTurnInterruptCancelsContext(t *testing.T) {
	turn := NewTurn(context.Background(), "conv-1", "")
	turn.setState(TurnStreaming)
	turn.Interrupt()
	if turn.State() != TurnTerminal {
		t.Fatalf("state = %v, want Terminal", turn.State())
	}
	select {
	case <-turn.ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("expected turn context to be cancelled")
	}
}

func TestRunCompactsHistoryAboveThreshold(t *testing.T) {
	backend := &scriptedBackend{rounds: [][]llm.ResponseEvent{
		{{Type: llm.ResponseEventTextDelta, TextDelta: "hi"}, {Type: llm.ResponseEventCompleted, Response: &llm.Response{}}},
	}}
	compactCalled := false
	engine := &Engine{
		Backend:  backend,
		Pipeline: &toolpipeline.Pipeline{Tools: map[string]*llm.Tool{}},
		Compact: func(ctx context.Context, items []ResponseItem) ([]ResponseItem, error) {
			compactCalled = true
			return []ResponseItem{{Type: ItemMessage, Message: &llm.Message{Role: llm.MessageRoleUser, Content: llm.TextContent("summary")}}}, nil
		},
	}
	conv := newConv(t)
	conv.CompactionThreshold = 1
	conv.appendItem(ResponseItem{Type: ItemMessage, Message: &llm.Message{Role: llm.MessageRoleUser, Content: llm.TextContent("old")}})

	turn := NewTurn(context.Background(), conv.ID, "")
	sink := &noopSink{}
	if err := engine.Run(context.Background(), conv, turn, sink, llm.TextContent("hi")); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !compactCalled {
		t.Fatal("expected Compact to be invoked")
	}

	history := conv.History()
	if history[0].Message == nil || history[0].Message.Content[0].Text != "summary" {
		t.Fatalf("expected compacted summary first in history, got %+v", history)
	}
}
