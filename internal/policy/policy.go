// Package policy implements spec.md §4.E.3's decision table: mapping
// (category, approval_mode, sandbox_policy) to a CommandDecision.
package policy

import "github.com/codex-core/codex-core/internal/classifier"

// ApprovalMode is the conversation's configured approval posture.
type ApprovalMode string

const (
	ApprovalModeNever         ApprovalMode = "never"
	ApprovalModeOnFailure     ApprovalMode = "on_failure"
	ApprovalModeOnRequest     ApprovalMode = "on_request"
	ApprovalModeUnlessTrusted ApprovalMode = "unless_trusted"
)

// SandboxPolicy is the conversation's configured filesystem scope.
type SandboxPolicy string

const (
	SandboxReadOnly         SandboxPolicy = "read_only"
	SandboxWorkspaceWrite   SandboxPolicy = "workspace_write"
	SandboxDangerFullAccess SandboxPolicy = "danger_full_access"
)

// Execution names how a Permit decision should run the tool body.
type Execution string

const (
	ExecutionNone      Execution = "none"
	ExecutionOSSandbox Execution = "os_sandbox"
)

// DecisionKind discriminates CommandDecision.
type DecisionKind string

const (
	DecisionPermit  DecisionKind = "permit"
	DecisionAskUser DecisionKind = "ask_user"
	DecisionReject  DecisionKind = "reject"
)

// CommandDecision is the policy stage's output, per spec.md §4.E.1 step 3.
type CommandDecision struct {
	Kind      DecisionKind
	Execution Execution // set when Kind == DecisionPermit
	Reason    string    // set on DecisionReject, or to annotate an approval-cache upgrade
}

func permit(exec Execution) CommandDecision {
	return CommandDecision{Kind: DecisionPermit, Execution: exec}
}

func askUser() CommandDecision {
	return CommandDecision{Kind: DecisionAskUser}
}

func reject(reason string) CommandDecision {
	return CommandDecision{Kind: DecisionReject, Reason: reason}
}

func isReadOnly(cat classifier.Category) bool {
	return cat == classifier.CategoryReadsFilesystem || cat == classifier.CategoryReadsVcs
}

func isWriteCategory(cat classifier.Category) bool {
	return cat == classifier.CategoryModifiesFilesystem || cat == classifier.CategoryModifiesVcs
}

// OSSandboxAvailable reports whether an OS-level sandbox (e.g. Landlock,
// seatbelt) is available on this platform. Left as an injected function
// rather than a platform #ifdef-style constant, since availability is a
// runtime property of the host the binary runs on, not the spec's concern.
type OSSandboxAvailable func() bool

// Decide implements the binding rules of spec.md §4.E.3's table, in the
// priority order the table lists them: DeletesData and Unrecognized are
// evaluated before the generic write-category rules so their special
// "never permit even under DangerFullAccess" / "always escalate" behavior
// can't be shadowed by a later, more permissive rule.
func Decide(cat classifier.Category, mode ApprovalMode, sandbox SandboxPolicy, sandboxAvailable OSSandboxAvailable) CommandDecision {
	if isReadOnly(cat) {
		return permit(ExecutionNone)
	}

	if cat == classifier.CategoryDeletesData {
		if mode == ApprovalModeNever {
			return reject("deletes_data under approval_mode=never")
		}
		return askUser()
	}

	if cat == classifier.CategoryUnrecognized {
		if mode == ApprovalModeNever {
			return reject("unrecognized command under approval_mode=never")
		}
		// Always escalate, even under DangerFullAccess: "we cannot prove
		// safety," per spec.md §4.E.3's rationale.
		return askUser()
	}

	if mode == ApprovalModeUnlessTrusted {
		return askUser()
	}

	if isWriteCategory(cat) {
		if sandbox == SandboxDangerFullAccess {
			return permit(ExecutionNone)
		}
		if sandbox == SandboxWorkspaceWrite {
			if sandboxAvailable != nil && sandboxAvailable() {
				return permit(ExecutionOSSandbox)
			}
			if mode == ApprovalModeNever {
				return reject("write under workspace_write with no OS sandbox and approval_mode=never")
			}
			return askUser()
		}
		// SandboxReadOnly with a write-category command: no rule in the
		// table grants this outright, so fall through to escalation.
		if mode == ApprovalModeNever {
			return reject("write under sandbox=read_only and approval_mode=never")
		}
		return askUser()
	}

	return askUser()
}
