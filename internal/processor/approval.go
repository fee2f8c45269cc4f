package processor

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/codex-core/codex-core/internal/ids"
	"github.com/codex-core/codex-core/internal/notifications"
	"github.com/codex-core/codex-core/internal/session"
	"github.com/codex-core/codex-core/internal/toolpipeline"
)

// defaultApprovalRate bounds how fast approval requests are emitted to a
// connection: a misbehaving or looping turn that rapid-fires shell calls
// still only surfaces a handful of approval prompts per second, rather than
// flooding the UI faster than a human can read them.
const (
	defaultApprovalRate  rate.Limit = 5
	defaultApprovalBurst            = 10
)

// Decision is the five-way outcome of respondToApproval, per spec.md §6.2.
type Decision string

const (
	DecisionApproved                  Decision = "approved"
	DecisionApprovedForSession        Decision = "approved_for_session"
	DecisionApprovedExecpolicyAmended Decision = "approved_execpolicy_amendment"
	DecisionDenied                    Decision = "denied"
	DecisionAbort                     Decision = "abort"
)

type pendingApproval struct {
	conv   *session.Conversation
	tool   string
	result chan Decision
}

// ApprovalBroker implements toolpipeline.PermissionRequester by emitting an
// event/approvalRequest notification and blocking until respondToApproval
// resolves the matching approval id, per spec.md §4.E step 6.
type ApprovalBroker struct {
	Dispatcher *notifications.Dispatcher

	// Limiter cooperatively paces outbound approval requests. Limiter.Wait
	// respects ctx the same way the pipeline's own ApprovalDeadline does,
	// so a tool call already past its deadline fails fast instead of
	// queuing behind the rate limit.
	Limiter *rate.Limiter

	mu      sync.Mutex
	pending map[string]*pendingApproval
}

// NewApprovalBroker returns a broker publishing through dispatcher, rate
// limited the same way oubliette's auth rate limiter paces repeated
// requests from one caller.
func NewApprovalBroker(dispatcher *notifications.Dispatcher) *ApprovalBroker {
	return &ApprovalBroker{
		Dispatcher: dispatcher,
		Limiter:    rate.NewLimiter(defaultApprovalRate, defaultApprovalBurst),
		pending:    make(map[string]*pendingApproval),
	}
}

type approvalRequestPayload struct {
	ApprovalID     string   `json:"approval_id"`
	CallID         string   `json:"call_id"`
	ConversationID string   `json:"conversation_id"`
	ToolName       string   `json:"tool_name"`
	Argv           []string `json:"argv,omitempty"`
	Category       string   `json:"category"`
	Reason         string   `json:"reason"`
}

// RequestApproval implements toolpipeline.PermissionRequester. It registers
// the pending request, emits event/approvalRequest, and blocks on either a
// Resolve call or ctx's deadline — a timeout counts as deny, per spec.md
// §4.E.1 step 6.
func (b *ApprovalBroker) RequestApproval(ctx context.Context, req toolpipeline.ApprovalRequest) (bool, error) {
	if b.Limiter != nil {
		if err := b.Limiter.Wait(ctx); err != nil {
			return false, err
		}
	}

	approvalID := ids.NewApprovalID()
	pa := &pendingApproval{tool: req.ToolName, result: make(chan Decision, 1)}

	b.mu.Lock()
	b.pending[approvalID] = pa
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, approvalID)
		b.mu.Unlock()
	}()

	if b.Dispatcher != nil {
		b.Dispatcher.Dispatch(ctx, notifications.Event{
			Type:           notifications.EventApprovalRequest,
			ConversationID: req.ConversationID,
			Payload: approvalRequestPayload{
				ApprovalID:     approvalID,
				CallID:         req.CallID,
				ConversationID: req.ConversationID,
				ToolName:       req.ToolName,
				Argv:           req.Argv,
				Category:       string(req.Category),
				Reason:         req.Reason,
			},
		})
	}

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case decision := <-pa.result:
		switch decision {
		case DecisionApproved, DecisionApprovedForSession, DecisionApprovedExecpolicyAmended:
			return true, nil
		case DecisionDenied, DecisionAbort:
			return false, nil
		default:
			return false, fmt.Errorf("processor: unknown approval decision %q", decision)
		}
	}
}

// Resolve delivers a client's respondToApproval decision to the blocked
// RequestApproval call, if still pending. approved_for_session additionally
// marks the tool approved for the remainder of the conversation via the
// conversation's own ApprovalStore.
func (b *ApprovalBroker) Resolve(conv *session.Conversation, approvalID string, decision Decision) error {
	b.mu.Lock()
	pa, ok := b.pending[approvalID]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("processor: unknown or already-resolved approval %q", approvalID)
	}

	if decision == DecisionApprovedForSession && conv != nil && conv.ToolCtx != nil && conv.ToolCtx.Approvals != nil {
		conv.ToolCtx.Approvals.ApproveSession(pa.tool)
	}

	select {
	case pa.result <- decision:
	default:
	}
	return nil
}
