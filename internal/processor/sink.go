package processor

import (
	"context"

	"github.com/codex-core/codex-core/internal/llm"
	"github.com/codex-core/codex-core/internal/notifications"
	"github.com/codex-core/codex-core/internal/state"
	"github.com/codex-core/codex-core/internal/toolpipeline"
)

// NotificationSink adapts a notifications.Dispatcher into a
// session.EventSink, forwarding tool-call begin/progress/end
// (toolpipeline.DispatcherSink) plus the turn-level deltas spec.md §6.3
// lists: event/agentMessageDelta and event/turnCompleted.
type NotificationSink struct {
	toolpipeline.DispatcherSink

	RateLimits *state.RateLimitPublisher
}

type agentMessageDeltaPayload struct {
	TurnID string `json:"turn_id"`
	Kind   string `json:"kind"` // "text" | "reasoning"
	Delta  string `json:"delta"`
}

type turnCompletedPayload struct {
	TurnID    string                   `json:"turn_id"`
	Usage     llm.Usage                `json:"usage"`
	RateLimit *state.RateLimitSnapshot `json:"rate_limit,omitempty"`
}

type turnFailedPayload struct {
	TurnID string `json:"turn_id"`
	Error  string `json:"error"`
}

func (s *NotificationSink) TextDelta(turnID, delta string) {
	s.dispatch(notifications.EventAgentMessageDelta, agentMessageDeltaPayload{TurnID: turnID, Kind: "text", Delta: delta})
}

func (s *NotificationSink) ReasoningDelta(turnID, delta string) {
	s.dispatch(notifications.EventAgentMessageDelta, agentMessageDeltaPayload{TurnID: turnID, Kind: "reasoning", Delta: delta})
}

func (s *NotificationSink) TurnCompleted(turnID string, usage llm.Usage) {
	var snap *state.RateLimitSnapshot
	if s.RateLimits != nil {
		snap = s.RateLimits.Current()
	}
	s.dispatch(notifications.EventTurnCompleted, turnCompletedPayload{TurnID: turnID, Usage: usage, RateLimit: snap})
}

func (s *NotificationSink) TurnFailed(turnID string, err error) {
	s.dispatch(notifications.EventTurnFailed, turnFailedPayload{TurnID: turnID, Error: err.Error()})
}

func (s *NotificationSink) dispatch(eventType notifications.EventType, payload any) {
	if s.Dispatcher == nil {
		return
	}
	s.Dispatcher.Dispatch(context.Background(), notifications.Event{
		Type:           eventType,
		ConversationID: s.ConversationID,
		Payload:        payload,
	})
}
