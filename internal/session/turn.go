package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/codex-core/codex-core/internal/completion"
	"github.com/codex-core/codex-core/internal/ids"
	"github.com/codex-core/codex-core/internal/llm"
	"github.com/codex-core/codex-core/internal/storage"
	"github.com/codex-core/codex-core/internal/toolpipeline"
)

// TurnState is one node of spec.md §4.C's turn state machine:
// Idle → Streaming ⇄ AwaitingTool → Terminal.
type TurnState string

const (
	TurnIdle         TurnState = "idle"
	TurnStreaming    TurnState = "streaming"
	TurnAwaitingTool TurnState = "awaiting_tool"
	TurnTerminal     TurnState = "terminal"
)

// Turn is a single model interaction within a conversation, per spec.md §3.
// It carries a sticky turn_state string (opaque: the engine never parses
// it, only echoes it back on every in-turn request) and a cancellation
// token tool invocations observe at their next suspension point.
type Turn struct {
	ID             string
	ConversationID string

	mu          sync.Mutex
	state       TurnState
	stickyState string

	ctx    context.Context
	cancel context.CancelFunc
}

// NewTurn allocates a turn bound to parent, carrying the sticky turn_state
// header the transport supplied at turn start (spec.md §4.C: "the engine
// echoes this string on every subsequent request within the turn and stops
// sending it on a new turn").
func NewTurn(parent context.Context, conversationID, stickyState string) *Turn {
	ctx, cancel := context.WithCancel(parent)
	return &Turn{
		ID:             ids.NewTurnID(),
		ConversationID: conversationID,
		state:          TurnIdle,
		stickyState:    stickyState,
		ctx:            ctx,
		cancel:         cancel,
	}
}

func (t *Turn) State() TurnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Turn) setState(s TurnState) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// Interrupt cancels the turn's token and marks it terminal, per spec.md
// §4.C ("Interrupt requests cancel the token and mark the turn terminal;
// in-flight tools observe it and abort").
func (t *Turn) Interrupt() {
	t.cancel()
	t.setState(TurnTerminal)
}

// streamOptions returns the options the completion adapter sees for this
// turn, carrying the sticky turn_state header.
func (t *Turn) streamOptions() completion.StreamOptions {
	return completion.StreamOptions{TurnState: t.stickyState}
}

// EventSink receives engine-level events as a turn progresses: text
// deltas, tool dispatch begin/end (wired to internal/toolpipeline's own
// EventSink), and turn completion. Left minimal; the Message Processor
// (component B) adapts this to outbound JSON-RPC notifications.
type EventSink interface {
	toolpipeline.EventSink
	TextDelta(turnID, delta string)
	ReasoningDelta(turnID, delta string)
	TurnCompleted(turnID string, usage llm.Usage)
	TurnFailed(turnID string, err error)
}

// Engine drives turns for every conversation it owns, dispatching tool
// calls found in the model's stream to component E and feeding their
// results back as continuation requests, per spec.md §4.C.
type Engine struct {
	Backend  completion.Backend
	Pipeline *toolpipeline.Pipeline
	// Compact summarizes items when a conversation's history exceeds its
	// CompactionThreshold, per spec.md §4.C's compaction paragraph.
	Compact func(ctx context.Context, items []ResponseItem) ([]ResponseItem, error)

	// SideFiles persists pre-compaction history snapshots and
	// over-threshold tool results, per spec.md §6.5. Optional: when nil,
	// compaction simply discards the pre-compaction history as before.
	SideFiles *storage.Store

	ModelInfo completion.ModelInfo
}

// Run drives conv's current turn to completion: it loops Stream calls,
// dispatching any tool calls encountered in each round concurrently, until
// the model emits ResponseEventCompleted with no pending tool calls or a
// fatal error occurs. Run sets conv.currentTurn to turn and clears it on
// return.
func (e *Engine) Run(ctx context.Context, conv *Conversation, turn *Turn, sink EventSink, userInput []llm.Content) error {
	conv.currentTurn = turn
	defer func() { conv.currentTurn = nil }()

	if len(conv.history) >= conv.CompactionThreshold && conv.CompactionThreshold > 0 && e.Compact != nil {
		if err := e.runCompaction(ctx, conv); err != nil {
			return fmt.Errorf("compaction: %w", err)
		}
	}

	conv.appendItem(ResponseItem{Type: ItemMessage, Message: &llm.Message{Role: llm.MessageRoleUser, Content: userInput}})

	turn.setState(TurnStreaming)

	for {
		msgs := buildMessages(conv.History())
		req := &llm.Request{Messages: msgs}

		events, err := e.Backend.Stream(turn.ctx, req, e.ModelInfo, turn.streamOptions())
		if err != nil {
			turn.setState(TurnTerminal)
			sink.TurnFailed(turn.ID, err)
			return err
		}

		toolCalls, completed, usage, streamErr := e.drain(turn, sink, events, conv)
		if streamErr != nil {
			turn.setState(TurnTerminal)
			sink.TurnFailed(turn.ID, streamErr)
			return streamErr
		}

		if len(toolCalls) == 0 {
			turn.setState(TurnTerminal)
			sink.TurnCompleted(turn.ID, usage)
			return nil
		}
		_ = completed

		turn.setState(TurnAwaitingTool)
		e.dispatchToolCalls(turn, conv, sink, toolCalls)
		turn.setState(TurnStreaming)
	}
}

// pendingToolCall is one tool_call event accumulated from the stream.
type pendingToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// drain reads events until the stream closes, accumulating text/reasoning
// and any tool calls. It returns once ResponseEventCompleted/Error arrives
// or the channel closes.
func (e *Engine) drain(turn *Turn, sink EventSink, events <-chan llm.ResponseEvent, conv *Conversation) (toolCalls []pendingToolCall, completedText string, usage llm.Usage, err error) {
	var text, reasoning string
	for ev := range events {
		switch ev.Type {
		case llm.ResponseEventTextDelta:
			text += ev.TextDelta
			sink.TextDelta(turn.ID, ev.TextDelta)
		case llm.ResponseEventReasoningDelta:
			reasoning += ev.ReasoningDelta
			sink.ReasoningDelta(turn.ID, ev.ReasoningDelta)
		case llm.ResponseEventToolCall:
			toolCalls = append(toolCalls, pendingToolCall{ID: ev.ToolCallID, Name: ev.ToolCallName, Input: ev.ToolCallInput})
		case llm.ResponseEventCompleted:
			if ev.Response != nil {
				usage = ev.Response.Usage
			}
			if text != "" {
				conv.appendItem(ResponseItem{Type: ItemMessage, Message: &llm.Message{Role: llm.MessageRoleAssistant, Content: llm.TextContent(text)}})
			}
			return toolCalls, text, usage, nil
		case llm.ResponseEventError:
			return toolCalls, text, usage, ev.Err
		}
	}
	return toolCalls, text, usage, nil
}

// dispatchToolCalls runs every pending call concurrently through component
// E, per spec.md §4.C ("Tool calls found in the stream are dispatched
// concurrently to component E"), and, once all have finished, appends each
// call/output pair to history in the order the dispatches completed,
// matching §5's "tool-result messages are appended to history in the order
// their exec_end events resolve (ties broken by call_id)".
func (e *Engine) dispatchToolCalls(turn *Turn, conv *Conversation, sink EventSink, calls []pendingToolCall) {
	results := make([]toolpipeline.Result, len(calls))
	var orderMu sync.Mutex
	order := make([]int, 0, len(calls))
	var wg sync.WaitGroup
	for i, c := range calls {
		wg.Add(1)
		go func(i int, c pendingToolCall) {
			defer wg.Done()
			inv := toolpipeline.ToolInvocation{
				CallID:         c.ID,
				TurnID:         turn.ID,
				ConversationID: conv.ID,
				ToolName:       c.Name,
				Arguments:      c.Input,
				Cwd:            conv.Cwd,
				ApprovalMode:   conv.Mode.Approval,
				Sandbox:        conv.Mode.Sandbox,
			}
			results[i] = e.Pipeline.Dispatch(turn.ctx, inv, conv.ToolCtx, sink)
			orderMu.Lock()
			order = append(order, i)
			orderMu.Unlock()
		}(i, c)
	}
	wg.Wait()

	for _, i := range order {
		c := calls[i]
		out := results[i].Out
		if e.SideFiles != nil {
			out = e.offloadLargeOutput(turn.ctx, conv.ID, c.ID, out)
		}
		conv.appendItem(ResponseItem{Type: ItemToolCall, ToolCallID: c.ID, ToolName: c.Name, ToolArguments: c.Input})
		conv.appendItem(ResponseItem{Type: ItemToolOutput, ToolCallID: c.ID, ToolName: c.Name, ToolOutput: &out})
	}
}

// offloadLargeOutput persists out's content as a side file and replaces it
// with a preview plus pointer when it exceeds storage.SideFileThreshold,
// per spec.md §6.5: "the in-history entry keeps only a preview plus a
// pointer."
func (e *Engine) offloadLargeOutput(ctx context.Context, conversationID, callID string, out llm.ToolOut) llm.ToolOut {
	var size int
	for _, c := range out.LLMContent {
		size += len(c.Text)
	}
	if size <= storage.SideFileThreshold {
		return out
	}

	var full []byte
	for _, c := range out.LLMContent {
		full = append(full, c.Text...)
	}
	pointer, err := e.SideFiles.PutSideFile(ctx, conversationID, full)
	if err != nil {
		// Storage failure shouldn't fail the tool call; keep the full
		// content inline rather than losing it.
		return out
	}

	preview := full
	const previewBytes = 2048
	if len(preview) > previewBytes {
		preview = preview[:previewBytes]
	}
	return llm.ToolOut{
		LLMContent: []llm.Content{{
			Type: llm.ContentTypeText,
			Text: fmt.Sprintf("%s\n... [truncated, %d bytes total; full output stored at %s]", preview, size, pointer),
		}},
		Display: out.Display,
		Error:   out.Error,
	}
}

// buildMessages flattens ResponseItems into the llm.Message list a
// continuation request sends. Tool calls/outputs are folded into the
// assistant/user turn pair the provider's function-calling contract
// expects: an assistant message carrying tool_use blocks followed by a
// user message carrying the matching tool_result blocks.
func buildMessages(items []ResponseItem) []llm.Message {
	var out []llm.Message
	var pendingToolUse []llm.Content
	var pendingToolResult []llm.Content

	flushTools := func() {
		if len(pendingToolUse) == 0 {
			return
		}
		out = append(out, llm.Message{Role: llm.MessageRoleAssistant, Content: pendingToolUse})
		out = append(out, llm.Message{Role: llm.MessageRoleUser, Content: pendingToolResult})
		pendingToolUse, pendingToolResult = nil, nil
	}

	for _, item := range items {
		switch item.Type {
		case ItemMessage:
			flushTools()
			if item.Message != nil {
				out = append(out, *item.Message)
			}
		case ItemToolCall:
			pendingToolUse = append(pendingToolUse, llm.Content{
				Type: llm.ContentTypeToolUse, ID: item.ToolCallID, ToolName: item.ToolName, ToolInput: item.ToolArguments,
			})
		case ItemToolOutput:
			result := llm.Content{Type: llm.ContentTypeToolResult, ToolUseID: item.ToolCallID}
			if item.ToolOutput != nil {
				result.ToolResult = item.ToolOutput.LLMContent
				result.ToolError = item.ToolOutput.Error != nil
				result.Display = item.ToolOutput.Display
			}
			pendingToolResult = append(pendingToolResult, result)
		}
	}
	flushTools()
	return out
}
