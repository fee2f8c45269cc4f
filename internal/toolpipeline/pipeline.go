// Package toolpipeline implements spec.md §4.E.1's eight-stage tool
// dispatch pipeline: parse → classify → policy → approval_cache →
// rule_evaluator → permission_requester? → execute → emit_events. It wires
// together internal/classifier (stage 2), internal/policy (stage 3), and
// internal/state's ApprovalStore (stage 4) around a model-supplied llm.Tool
// body (stage 7). The pipeline does not consult or update the FileTracker.
//
// Grounded on the teacher's llm/codex dispatch loop for the
// parse/execute/emit shape, generalized to the multi-stage decision table
// the spec requires in between.
package toolpipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/codex-core/codex-core/internal/classifier"
	"github.com/codex-core/codex-core/internal/llm"
	"github.com/codex-core/codex-core/internal/metrics"
	"github.com/codex-core/codex-core/internal/notifications"
	"github.com/codex-core/codex-core/internal/policy"
	"github.com/codex-core/codex-core/internal/state"
)

// ShellArgvExtractor pulls the argv a tool call would execute out of its raw
// JSON arguments, so the classify stage only runs for shell-executing
// tools. Tools that don't run a shell command (e.g. llm_one_shot) return
// ok=false and skip classification/policy entirely — they're dispatched
// straight to execute, matching "classify. For shell commands only."
type ShellArgvExtractor func(toolName string, arguments json.RawMessage) (argv []string, ok bool)

// RuleEvaluator implements stage 5: project/user rules may allow, deny, or
// delegate to the tool's own check_permission. A nil RuleEvaluator is
// equivalent to one that always delegates.
type RuleEvaluator interface {
	// Evaluate may return a decision that overrides the policy stage's
	// output (allow/deny), or ok=false to delegate onward unchanged.
	Evaluate(toolName string, argv []string) (decision policy.CommandDecision, ok bool)
}

// RuleEvaluatorFunc adapts a function to RuleEvaluator.
type RuleEvaluatorFunc func(toolName string, argv []string) (policy.CommandDecision, bool)

func (f RuleEvaluatorFunc) Evaluate(toolName string, argv []string) (policy.CommandDecision, bool) {
	return f(toolName, argv)
}

// PermissionRequester implements stage 6: routing an ApprovalRequest to the
// UI and awaiting a boolean decision within a deadline. Timeout counts as
// deny, per spec.md §4.E.1 step 6.
type PermissionRequester interface {
	RequestApproval(ctx context.Context, req ApprovalRequest) (approved bool, err error)
}

// ApprovalRequest is what gets routed to the UI when a decision is AskUser.
type ApprovalRequest struct {
	CallID         string
	ConversationID string
	ToolName       string
	Argv           []string // empty for non-shell tools
	Category       classifier.Category
	Reason         string
}

// ToolInvocation is spec.md §3's ToolInvocation record.
type ToolInvocation struct {
	CallID         string
	TurnID         string
	ConversationID string
	AgentID        string
	ToolName       string
	Arguments      json.RawMessage
	Cwd            string
	ApprovalMode   policy.ApprovalMode
	Sandbox        policy.SandboxPolicy
	CancelToken    context.Context
}

// Result is what a completed (or short-circuited) invocation returns to the
// turn loop.
type Result struct {
	Out      llm.ToolOut
	Decision policy.CommandDecision
	Category classifier.Category
}

// EventSink receives begin/progress/end events for one call_id, per spec.md
// §4.E.1 step 8 and §5's ordering guarantee "begin < progress* < end".
type EventSink interface {
	Begin(callID, toolName string)
	Progress(callID string, payload any)
	End(callID string, out llm.ToolOut)
}

// Pipeline wires the stages together. Tools is the registry of in-process
// tool bodies component E dispatches into once a call clears permissions.
type Pipeline struct {
	Tools               map[string]*llm.Tool
	ExtractArgv         ShellArgvExtractor
	OSSandboxAvailable  policy.OSSandboxAvailable
	RuleEvaluator       RuleEvaluator
	PermissionRequester PermissionRequester
	ApprovalDeadline    time.Duration
	Notifications       *notifications.Dispatcher
	Metrics             *metrics.Registry
	Logger              *slog.Logger
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// Dispatch runs inv through all eight stages, invoking sink for the
// begin/end events the spec requires (step 8). ctx is the tool's
// cancellation context (the turn's CancellationToken, per spec.md §5).
func (p *Pipeline) Dispatch(ctx context.Context, inv ToolInvocation, ctxSvc *state.ToolContext, sink EventSink) Result {
	sink.Begin(inv.CallID, inv.ToolName)

	out, decision, cat := p.run(ctx, inv, ctxSvc, sink)

	if p.Metrics != nil {
		p.Metrics.IncToolCall(inv.ToolName, string(decision.Kind))
	}
	sink.End(inv.CallID, out)
	return Result{Out: out, Decision: decision, Category: cat}
}

func (p *Pipeline) run(ctx context.Context, inv ToolInvocation, ctxSvc *state.ToolContext, sink EventSink) (llm.ToolOut, policy.CommandDecision, classifier.Category) {
	// Stage 1: parse. The tool itself owns unmarshaling its typed input; at
	// this layer "parse" means resolving a registered tool body at all.
	tool, ok := p.Tools[inv.ToolName]
	if !ok {
		return llm.ErrorfToolOut("unknown tool %q", inv.ToolName), policy.CommandDecision{Kind: policy.DecisionReject, Reason: "unknown tool"}, classifier.CategoryUnrecognized
	}

	// Stage 2: classify. Only shell-executing tools carry an argv to
	// classify; everything else is treated as always-permitted at this
	// layer (the tool body remains free to reject malformed input itself,
	// which is "parse" failing downstream inside Run, still non-fatal to
	// the turn per step 1).
	var argv []string
	cat := classifier.CategoryReadsFilesystem // vacuous default for non-shell tools: permit falls through stage 3 the same way
	hasArgv := false
	if p.ExtractArgv != nil {
		if a, ok := p.ExtractArgv(inv.ToolName, inv.Arguments); ok {
			argv = a
			hasArgv = true
			cat = classifier.Classify(a)
		}
	}

	var decision policy.CommandDecision
	if hasArgv {
		// Stage 3: policy.
		decision = policy.Decide(cat, inv.ApprovalMode, inv.Sandbox, p.OSSandboxAvailable)
	} else {
		decision = policy.CommandDecision{Kind: policy.DecisionPermit}
	}

	// Stage 4: approval_cache. Only meaningful for shell tools with a
	// concrete argv pattern to key on.
	if hasArgv && decision.Kind == policy.DecisionAskUser && ctxSvc != nil && ctxSvc.Approvals != nil {
		pattern := approvalPattern(argv)
		if ctxSvc.Approvals.IsApproved(inv.ToolName, pattern) {
			decision = policy.CommandDecision{Kind: policy.DecisionPermit, Reason: "user_explicitly_approved"}
		}
	}

	// Stage 5: rule_evaluator.
	if p.RuleEvaluator != nil {
		if ruled, ok := p.RuleEvaluator.Evaluate(inv.ToolName, argv); ok {
			decision = ruled
		}
	}

	if decision.Kind == policy.DecisionReject {
		return llm.ErrorfToolOut("command rejected: %s", decision.Reason), decision, cat
	}

	// Stage 6: permission_requester.
	if decision.Kind == policy.DecisionAskUser {
		if p.PermissionRequester == nil {
			return llm.ErrorfToolOut("approval required but no permission requester is attached"), policy.CommandDecision{Kind: policy.DecisionReject, Reason: "no permission requester"}, cat
		}
		approved, err := p.requestApproval(ctx, inv, argv, cat, decision)
		if err != nil || !approved {
			return llm.ErrorfToolOut("command denied"), policy.CommandDecision{Kind: policy.DecisionReject, Reason: "user denied or timed out"}, cat
		}
		decision = policy.CommandDecision{Kind: policy.DecisionPermit, Execution: policy.ExecutionNone}
	}

	// Stage 7: execute.
	out := tool.Run(ctx, inv.Arguments)
	return out, decision, cat
}

func (p *Pipeline) requestApproval(ctx context.Context, inv ToolInvocation, argv []string, cat classifier.Category, decision policy.CommandDecision) (bool, error) {
	deadline := p.ApprovalDeadline
	if deadline <= 0 {
		deadline = 5 * time.Minute
	}
	reqCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	approved, err := p.PermissionRequester.RequestApproval(reqCtx, ApprovalRequest{
		CallID:         inv.CallID,
		ConversationID: inv.ConversationID,
		ToolName:       inv.ToolName,
		Argv:           argv,
		Category:       cat,
		Reason:         decision.Reason,
	})
	if err != nil {
		// Timeout or any other failure counts as deny, per spec.md §4.E.1
		// step 6 ("timeout = deny").
		p.logger().Warn("permission request failed, treating as deny",
			"call_id", inv.CallID, "tool", inv.ToolName, "error", err)
		return false, err
	}
	return approved, nil
}

// approvalPattern derives the "toolname:pattern" cache key from argv: the
// base command plus subcommand, if any, per spec.md §4.E.5's "exact
// tool:pattern pairs". A full-argv pattern would never hit cache on varying
// operands, so the cache key deliberately ignores flags/operands.
func approvalPattern(argv []string) string {
	if len(argv) == 0 {
		return ""
	}
	if len(argv) > 1 && subcommandLike(argv[0]) {
		return argv[0] + " " + argv[1]
	}
	return argv[0]
}

func subcommandLike(tool string) bool {
	switch tool {
	case "git", "go", "npm", "docker", "cargo":
		return true
	}
	return false
}
