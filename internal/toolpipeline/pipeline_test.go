package toolpipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/codex-core/codex-core/internal/llm"
	"github.com/codex-core/codex-core/internal/policy"
	"github.com/codex-core/codex-core/internal/state"
)

// recordingSink verifies spec.md §8 invariant 1: exactly one begin, exactly
// one end, per call_id.
type recordingSink struct {
	begins, ends []string
}

func (s *recordingSink) Begin(callID, toolName string)       { s.begins = append(s.begins, callID) }
func (s *recordingSink) Progress(callID string, payload any) {}
func (s *recordingSink) End(callID string, out llm.ToolOut)  { s.ends = append(s.ends, callID) }

func shellExtractor(_ string, arguments json.RawMessage) ([]string, bool) {
	var argv []string
	if err := json.Unmarshal(arguments, &argv); err != nil {
		return nil, false
	}
	return argv, true
}

func echoTool(name string) *llm.Tool {
	return &llm.Tool{
		Name: name,
		Run: func(ctx context.Context, input json.RawMessage) llm.ToolOut {
			return llm.ToolOut{LLMContent: llm.TextContent("ran")}
		},
	}
}

func TestDispatchBeginEndExactlyOnce(t *testing.T) {
	argv, _ := json.Marshal([]string{"cat", "file.txt"})
	p := &Pipeline{
		Tools:       map[string]*llm.Tool{"shell": echoTool("shell")},
		ExtractArgv: shellExtractor,
	}
	sink := &recordingSink{}
	ctxSvc := state.NewToolContext("conv-1", nil)

	res := p.Dispatch(context.Background(), ToolInvocation{
		CallID:         "call-1",
		ConversationID: "conv-1",
		ToolName:       "shell",
		Arguments:      argv,
		ApprovalMode:   policy.ApprovalModeOnRequest,
		Sandbox:        policy.SandboxDangerFullAccess,
	}, ctxSvc, sink)

	if res.Decision.Kind != policy.DecisionPermit {
		t.Fatalf("Decision = %+v, want Permit", res.Decision)
	}
	if len(sink.begins) != 1 || len(sink.ends) != 1 {
		t.Fatalf("begins=%v ends=%v, want exactly one of each", sink.begins, sink.ends)
	}
	if sink.begins[0] != "call-1" || sink.ends[0] != "call-1" {
		t.Fatalf("begin/end call_id mismatch: %v %v", sink.begins, sink.ends)
	}
}

func TestDispatchRejectsDeletesDataUnderNeverMode(t *testing.T) {
	argv, _ := json.Marshal([]string{"rm", "-rf", "/"})
	p := &Pipeline{
		Tools:       map[string]*llm.Tool{"shell": echoTool("shell")},
		ExtractArgv: shellExtractor,
	}
	sink := &recordingSink{}
	ctxSvc := state.NewToolContext("conv-1", nil)

	res := p.Dispatch(context.Background(), ToolInvocation{
		CallID:         "call-1",
		ConversationID: "conv-1",
		ToolName:       "shell",
		Arguments:      argv,
		ApprovalMode:   policy.ApprovalModeNever,
		Sandbox:        policy.SandboxDangerFullAccess,
	}, ctxSvc, sink)

	if res.Decision.Kind != policy.DecisionReject {
		t.Fatalf("Decision = %+v, want Reject", res.Decision)
	}
	if res.Out.Error == nil {
		t.Fatal("expected a tool error on rejection")
	}
}

// approvingRequester always approves, verifying that AskUser decisions
// route through the permission requester and then execute.
type approvingRequester struct{ lastReq ApprovalRequest }

func (r *approvingRequester) RequestApproval(ctx context.Context, req ApprovalRequest) (bool, error) {
	r.lastReq = req
	return true, nil
}

func TestDispatchAskUserApprovedThenExecutes(t *testing.T) {
	argv, _ := json.Marshal([]string{"rm", "-rf", "/tmp/x"})
	requester := &approvingRequester{}
	p := &Pipeline{
		Tools:               map[string]*llm.Tool{"shell": echoTool("shell")},
		ExtractArgv:         shellExtractor,
		PermissionRequester: requester,
	}
	sink := &recordingSink{}
	ctxSvc := state.NewToolContext("conv-1", nil)

	res := p.Dispatch(context.Background(), ToolInvocation{
		CallID:         "call-1",
		ConversationID: "conv-1",
		ToolName:       "shell",
		Arguments:      argv,
		ApprovalMode:   policy.ApprovalModeOnRequest,
		Sandbox:        policy.SandboxDangerFullAccess,
	}, ctxSvc, sink)

	if res.Out.Error != nil {
		t.Fatalf("unexpected tool error: %v", res.Out.Error)
	}
	if requester.lastReq.CallID != "call-1" {
		t.Fatalf("requester saw call_id %q, want call-1", requester.lastReq.CallID)
	}
	if len(sink.begins) != 1 || len(sink.ends) != 1 {
		t.Fatalf("begins=%v ends=%v", sink.begins, sink.ends)
	}
}

// denyingRequester always denies, verifying timeout/deny short-circuits
// before execute.
type denyingRequester struct{}

func (denyingRequester) RequestApproval(ctx context.Context, req ApprovalRequest) (bool, error) {
	return false, nil
}

func TestDispatchAskUserDeniedNeverExecutes(t *testing.T) {
	argv, _ := json.Marshal([]string{"rm", "-rf", "/tmp/x"})
	ran := false
	tool := &llm.Tool{
		Name: "shell",
		Run: func(ctx context.Context, input json.RawMessage) llm.ToolOut {
			ran = true
			return llm.ToolOut{}
		},
	}
	p := &Pipeline{
		Tools:               map[string]*llm.Tool{"shell": tool},
		ExtractArgv:         shellExtractor,
		PermissionRequester: denyingRequester{},
	}
	sink := &recordingSink{}
	ctxSvc := state.NewToolContext("conv-1", nil)

	res := p.Dispatch(context.Background(), ToolInvocation{
		CallID:         "call-1",
		ConversationID: "conv-1",
		ToolName:       "shell",
		Arguments:      argv,
		ApprovalMode:   policy.ApprovalModeOnRequest,
		Sandbox:        policy.SandboxDangerFullAccess,
	}, ctxSvc, sink)

	if ran {
		t.Fatal("tool body ran despite denial")
	}
	if res.Out.Error == nil {
		t.Fatal("expected a tool error on denial")
	}
}

func TestDispatchNoRequesterAttachedRejects(t *testing.T) {
	argv, _ := json.Marshal([]string{"rm", "-rf", "/tmp/x"})
	p := &Pipeline{
		Tools:       map[string]*llm.Tool{"shell": echoTool("shell")},
		ExtractArgv: shellExtractor,
	}
	sink := &recordingSink{}
	ctxSvc := state.NewToolContext("conv-1", nil)

	res := p.Dispatch(context.Background(), ToolInvocation{
		CallID:         "call-1",
		ConversationID: "conv-1",
		ToolName:       "shell",
		Arguments:      argv,
		ApprovalMode:   policy.ApprovalModeOnRequest,
		Sandbox:        policy.SandboxDangerFullAccess,
	}, ctxSvc, sink)

	if res.Decision.Kind != policy.DecisionReject {
		t.Fatalf("Decision = %+v, want Reject", res.Decision)
	}
}

// TestDispatchApprovalCacheUpgradesAskUser verifies spec.md §4.E.1 step 4:
// an ApprovalStore hit upgrades AskUser to Permit before reaching the
// permission requester at all.
func TestDispatchApprovalCacheUpgradesAskUser(t *testing.T) {
	argv, _ := json.Marshal([]string{"rm", "-rf", "/tmp/x"})
	p := &Pipeline{
		Tools:       map[string]*llm.Tool{"shell": echoTool("shell")},
		ExtractArgv: shellExtractor,
		// No PermissionRequester attached: if the cache didn't upgrade the
		// decision, Dispatch would reject for lack of a requester.
	}
	sink := &recordingSink{}
	ctxSvc := state.NewToolContext("conv-1", nil)
	ctxSvc.Approvals.ApproveSession("shell")

	res := p.Dispatch(context.Background(), ToolInvocation{
		CallID:         "call-1",
		ConversationID: "conv-1",
		ToolName:       "shell",
		Arguments:      argv,
		ApprovalMode:   policy.ApprovalModeOnRequest,
		Sandbox:        policy.SandboxDangerFullAccess,
	}, ctxSvc, sink)

	if res.Decision.Kind != policy.DecisionPermit {
		t.Fatalf("Decision = %+v, want Permit via approval cache", res.Decision)
	}
	if res.Out.Error != nil {
		t.Fatalf("unexpected tool error: %v", res.Out.Error)
	}
}

// TestDispatchRuleEvaluatorOverridesPolicy verifies stage 5 can override
// stage 3/4's decision: a rule rejects a read that policy would permit.
func TestDispatchRuleEvaluatorOverridesPolicy(t *testing.T) {
	argv, _ := json.Marshal([]string{"cat", "secret.txt"})
	p := &Pipeline{
		Tools:       map[string]*llm.Tool{"shell": echoTool("shell")},
		ExtractArgv: shellExtractor,
		RuleEvaluator: RuleEvaluatorFunc(func(toolName string, argv []string) (policy.CommandDecision, bool) {
			return policy.CommandDecision{Kind: policy.DecisionReject, Reason: "project rule denies secret.txt"}, true
		}),
	}
	sink := &recordingSink{}
	ctxSvc := state.NewToolContext("conv-1", nil)

	res := p.Dispatch(context.Background(), ToolInvocation{
		CallID:         "call-1",
		ConversationID: "conv-1",
		ToolName:       "shell",
		Arguments:      argv,
		ApprovalMode:   policy.ApprovalModeOnRequest,
		Sandbox:        policy.SandboxDangerFullAccess,
	}, ctxSvc, sink)

	if res.Decision.Kind != policy.DecisionReject {
		t.Fatalf("Decision = %+v, want Reject (rule override)", res.Decision)
	}
}

func TestDispatchUnknownToolRejects(t *testing.T) {
	p := &Pipeline{Tools: map[string]*llm.Tool{}}
	sink := &recordingSink{}
	ctxSvc := state.NewToolContext("conv-1", nil)

	res := p.Dispatch(context.Background(), ToolInvocation{
		CallID:         "call-1",
		ConversationID: "conv-1",
		ToolName:       "nonexistent",
	}, ctxSvc, sink)

	if res.Decision.Kind != policy.DecisionReject {
		t.Fatalf("Decision = %+v, want Reject", res.Decision)
	}
	if len(sink.begins) != 1 || len(sink.ends) != 1 {
		t.Fatalf("begin/end invariant violated for unknown tool: %v %v", sink.begins, sink.ends)
	}
}

// erroringRequester simulates a timeout/deadline failure.
type erroringRequester struct{}

func (erroringRequester) RequestApproval(ctx context.Context, req ApprovalRequest) (bool, error) {
	return false, errors.New("deadline exceeded")
}

func TestDispatchPermissionRequesterErrorCountsAsDeny(t *testing.T) {
	argv, _ := json.Marshal([]string{"rm", "-rf", "/tmp/x"})
	p := &Pipeline{
		Tools:               map[string]*llm.Tool{"shell": echoTool("shell")},
		ExtractArgv:         shellExtractor,
		PermissionRequester: erroringRequester{},
	}
	sink := &recordingSink{}
	ctxSvc := state.NewToolContext("conv-1", nil)

	res := p.Dispatch(context.Background(), ToolInvocation{
		CallID:         "call-1",
		ConversationID: "conv-1",
		ToolName:       "shell",
		Arguments:      argv,
		ApprovalMode:   policy.ApprovalModeOnRequest,
		Sandbox:        policy.SandboxDangerFullAccess,
	}, ctxSvc, sink)

	if res.Decision.Kind != policy.DecisionReject {
		t.Fatalf("Decision = %+v, want Reject on requester error", res.Decision)
	}
}

func TestDispatchNonShellToolSkipsClassification(t *testing.T) {
	p := &Pipeline{
		Tools: map[string]*llm.Tool{"llm_one_shot": echoTool("llm_one_shot")},
		// No ExtractArgv is wired, so no argv is extracted for any tool.
	}
	sink := &recordingSink{}
	ctxSvc := state.NewToolContext("conv-1", nil)

	res := p.Dispatch(context.Background(), ToolInvocation{
		CallID:         "call-1",
		ConversationID: "conv-1",
		ToolName:       "llm_one_shot",
		ApprovalMode:   policy.ApprovalModeNever,
		Sandbox:        policy.SandboxReadOnly,
	}, ctxSvc, sink)

	if res.Decision.Kind != policy.DecisionPermit {
		t.Fatalf("Decision = %+v, want Permit for non-shell tool", res.Decision)
	}
	if res.Out.Error != nil {
		t.Fatalf("unexpected tool error: %v", res.Out.Error)
	}
}
