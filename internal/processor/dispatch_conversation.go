package processor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/codex-core/codex-core/internal/ids"
	"github.com/codex-core/codex-core/internal/jsonrpc"
	"github.com/codex-core/codex-core/internal/llm"
	"github.com/codex-core/codex-core/internal/notifications"
	"github.com/codex-core/codex-core/internal/policy"
	"github.com/codex-core/codex-core/internal/session"
)

// dispatchConversation implements spec.md §4.B bucket 2: conversation
// lifecycle operations, delegated to the Session/Turn Engine
// (internal/session.Registry).
func (p *Processor) dispatchConversation(connID ids.ConnectionID, st *connState, method string, params json.RawMessage) (json.RawMessage, *jsonrpc.Error) {
	switch method {
	case "newConversation":
		return p.handleNewConversation(connID, params)
	case "sendUserMessage":
		return p.handleSendUserMessage(params)
	case "interruptConversation":
		return p.handleInterruptConversation(params)
	case "respondToApproval":
		return p.handleRespondToApproval(params)
	case "attachToThread":
		return p.handleAttachToThread(connID, params)
	default:
		return nil, jsonrpc.MethodNotFound(method)
	}
}

type newConversationParams struct {
	Cwd    string `json:"cwd"`
	Config struct {
		Approval            policy.ApprovalMode  `json:"approval_mode"`
		Sandbox             policy.SandboxPolicy `json:"sandbox_policy"`
		CompactionThreshold int                  `json:"compaction_threshold"`
	} `json:"config"`
}

type newConversationResult struct {
	ConversationID string `json:"conversation_id"`
}

func (p *Processor) handleNewConversation(connID ids.ConnectionID, params json.RawMessage) (json.RawMessage, *jsonrpc.Error) {
	var in newConversationParams
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, jsonrpc.InvalidParams(err.Error())
	}
	threshold := in.Config.CompactionThreshold
	if threshold == 0 {
		threshold = p.Config.Current().CompactionThreshold
	}

	conv := p.Conversations.NewConversation(session.NewConversationInput{
		Cwd: in.Cwd,
		Mode: session.PermissionMode{
			Approval: in.Config.Approval,
			Sandbox:  in.Config.Sandbox,
		},
		CompactionThreshold: threshold,
	})

	// Thread attach: every currently-initialized connection starts
	// receiving this conversation's events, per spec.md §4.B.
	p.attachAllInitialized(conv.ID)

	if p.Dispatcher != nil {
		p.Dispatcher.Dispatch(context.Background(), notifications.Event{
			Type:           notifications.EventThreadCreated,
			ConversationID: conv.ID,
			Payload:        newConversationResult{ConversationID: conv.ID},
		})
	}

	return p.marshalOrErr(newConversationResult{ConversationID: conv.ID})
}

type sendUserMessageParams struct {
	ConversationID string        `json:"conversation_id"`
	Items          []llm.Content `json:"items"`
	TurnState      string        `json:"turn_state,omitempty"`
}

// handleSendUserMessage starts the turn in the background and acknowledges
// immediately; progress and completion arrive as notifications
// (event/agentMessageDelta, event/toolCallBegin/End, event/turnCompleted),
// per spec.md §4.C's streaming model.
func (p *Processor) handleSendUserMessage(params json.RawMessage) (json.RawMessage, *jsonrpc.Error) {
	var in sendUserMessageParams
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, jsonrpc.InvalidParams(err.Error())
	}
	conv, ok := p.Conversations.Get(in.ConversationID)
	if !ok {
		return nil, jsonrpc.InvalidParams(fmt.Sprintf("unknown conversation %q", in.ConversationID))
	}

	sink := &NotificationSink{}
	sink.Dispatcher = p.Dispatcher
	sink.ConversationID = conv.ID

	go func() {
		ctx := context.Background()
		if err := p.Conversations.SendUserMessage(ctx, conv.ID, in.Items, in.TurnState, sink); err != nil {
			sink.TurnFailed("", err)
		}
	}()

	return p.marshalOrErr(struct{}{})
}

func (p *Processor) handleInterruptConversation(params json.RawMessage) (json.RawMessage, *jsonrpc.Error) {
	var in struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, jsonrpc.InvalidParams(err.Error())
	}
	if err := p.Conversations.InterruptConversation(in.ConversationID); err != nil {
		return nil, jsonrpc.InvalidParams(err.Error())
	}
	return p.marshalOrErr(struct{}{})
}

func (p *Processor) handleRespondToApproval(params json.RawMessage) (json.RawMessage, *jsonrpc.Error) {
	var in struct {
		ApprovalID     string   `json:"approval_id"`
		ConversationID string   `json:"conversation_id"`
		Decision       Decision `json:"decision"`
	}
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, jsonrpc.InvalidParams(err.Error())
	}
	if p.Approvals == nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeInternalError, "no approval broker configured", nil)
	}
	conv, _ := p.Conversations.Get(in.ConversationID)
	if err := p.Approvals.Resolve(conv, in.ApprovalID, in.Decision); err != nil {
		return nil, jsonrpc.InvalidParams(err.Error())
	}
	return p.marshalOrErr(struct{}{})
}

func (p *Processor) handleAttachToThread(connID ids.ConnectionID, params json.RawMessage) (json.RawMessage, *jsonrpc.Error) {
	var in struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, jsonrpc.InvalidParams(err.Error())
	}
	if _, ok := p.Conversations.Get(in.ConversationID); !ok {
		return nil, jsonrpc.InvalidParams(fmt.Sprintf("unknown conversation %q", in.ConversationID))
	}
	p.attachConnection(connID, in.ConversationID)
	return p.marshalOrErr(struct{}{})
}
