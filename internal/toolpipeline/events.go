package toolpipeline

import (
	"context"

	"github.com/codex-core/codex-core/internal/llm"
	"github.com/codex-core/codex-core/internal/notifications"
)

// DispatcherSink adapts a notifications.Dispatcher into an EventSink,
// satisfying spec.md §4.E.1 step 8 ("Begin/progress/end events with the
// call_id") and §5's per-call_id ordering guarantee. Every event carries
// ConversationID so the dispatcher's backend channels can scope delivery.
type DispatcherSink struct {
	Dispatcher     *notifications.Dispatcher
	ConversationID string
}

type toolCallBeginPayload struct {
	CallID string `json:"call_id"`
	Tool   string `json:"tool"`
}

type toolCallProgressPayload struct {
	CallID  string `json:"call_id"`
	Payload any    `json:"payload"`
}

type toolCallEndPayload struct {
	CallID string `json:"call_id"`
	Error  string `json:"error,omitempty"`
}

func (s *DispatcherSink) Begin(callID, toolName string) {
	if s.Dispatcher == nil {
		return
	}
	s.Dispatcher.Dispatch(context.Background(), notifications.Event{
		Type:           notifications.EventToolCallBegin,
		ConversationID: s.ConversationID,
		Payload:        toolCallBeginPayload{CallID: callID, Tool: toolName},
	})
}

func (s *DispatcherSink) Progress(callID string, payload any) {
	if s.Dispatcher == nil {
		return
	}
	s.Dispatcher.Dispatch(context.Background(), notifications.Event{
		Type:           notifications.EventToolCallProgress,
		ConversationID: s.ConversationID,
		Payload:        toolCallProgressPayload{CallID: callID, Payload: payload},
	})
}

func (s *DispatcherSink) End(callID string, out llm.ToolOut) {
	if s.Dispatcher == nil {
		return
	}
	payload := toolCallEndPayload{CallID: callID}
	if out.Error != nil {
		payload.Error = out.Error.Error()
	}
	s.Dispatcher.Dispatch(context.Background(), notifications.Event{
		Type:           notifications.EventToolCallEnd,
		ConversationID: s.ConversationID,
		Payload:        payload,
	})
}
