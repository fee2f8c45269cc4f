package policy

import (
	"testing"

	"github.com/codex-core/codex-core/internal/classifier"
)

// TestUnrecognizedUnderDangerFullAccess matches spec.md §8 end-to-end
// scenario 3: policy({argv:["sudo","rm","-rf","/"]}, mode=OnRequest,
// sandbox=DangerFullAccess, cache=∅) = AskUser.
func TestUnrecognizedUnderDangerFullAccess(t *testing.T) {
	cat := classifier.Classify([]string{"sudo", "rm", "-rf", "/"})
	if cat != classifier.CategoryUnrecognized {
		t.Fatalf("precondition failed: classify = %v, want Unrecognized", cat)
	}
	got := Decide(cat, ApprovalModeOnRequest, SandboxDangerFullAccess, nil)
	if got.Kind != DecisionAskUser {
		t.Fatalf("Decide = %+v, want AskUser", got)
	}
}

// TestDeletesDataWithNeverMode matches spec.md §8 end-to-end scenario 4:
// policy({argv:["rm","-rf","/"]}, mode=Never, sandbox=DangerFullAccess,
// cache=∅) = Reject.
func TestDeletesDataWithNeverMode(t *testing.T) {
	cat := classifier.Classify([]string{"rm", "-rf", "/"})
	if cat != classifier.CategoryDeletesData {
		t.Fatalf("precondition failed: classify = %v, want DeletesData", cat)
	}
	got := Decide(cat, ApprovalModeNever, SandboxDangerFullAccess, nil)
	if got.Kind != DecisionReject {
		t.Fatalf("Decide = %+v, want Reject", got)
	}
}

func TestReadOnlyAlwaysPermitted(t *testing.T) {
	modes := []ApprovalMode{ApprovalModeNever, ApprovalModeOnFailure, ApprovalModeOnRequest, ApprovalModeUnlessTrusted}
	sandboxes := []SandboxPolicy{SandboxReadOnly, SandboxWorkspaceWrite, SandboxDangerFullAccess}
	for _, m := range modes {
		for _, s := range sandboxes {
			got := Decide(classifier.CategoryReadsFilesystem, m, s, nil)
			if got.Kind != DecisionPermit {
				t.Errorf("Decide(ReadsFilesystem, %v, %v) = %+v, want Permit", m, s, got)
			}
		}
	}
}

func TestWriteUnderDangerFullAccessPermitsUnlessUnlessTrusted(t *testing.T) {
	got := Decide(classifier.CategoryModifiesFilesystem, ApprovalModeOnRequest, SandboxDangerFullAccess, nil)
	if got.Kind != DecisionPermit {
		t.Fatalf("Decide = %+v, want Permit", got)
	}

	got = Decide(classifier.CategoryModifiesFilesystem, ApprovalModeUnlessTrusted, SandboxDangerFullAccess, nil)
	if got.Kind != DecisionAskUser {
		t.Fatalf("Decide(UnlessTrusted) = %+v, want AskUser", got)
	}
}

func TestWriteUnderWorkspaceWriteWithOSSandbox(t *testing.T) {
	available := func() bool { return true }
	got := Decide(classifier.CategoryModifiesFilesystem, ApprovalModeOnRequest, SandboxWorkspaceWrite, available)
	if got.Kind != DecisionPermit || got.Execution != ExecutionOSSandbox {
		t.Fatalf("Decide = %+v, want Permit(OSSandbox)", got)
	}
}

func TestWriteUnderWorkspaceWriteWithoutOSSandbox(t *testing.T) {
	unavailable := func() bool { return false }

	got := Decide(classifier.CategoryModifiesFilesystem, ApprovalModeOnRequest, SandboxWorkspaceWrite, unavailable)
	if got.Kind != DecisionAskUser {
		t.Fatalf("Decide = %+v, want AskUser", got)
	}

	got = Decide(classifier.CategoryModifiesFilesystem, ApprovalModeNever, SandboxWorkspaceWrite, unavailable)
	if got.Kind != DecisionReject {
		t.Fatalf("Decide(Never) = %+v, want Reject", got)
	}
}

func TestDeletesDataAsksUserWhenNotNever(t *testing.T) {
	got := Decide(classifier.CategoryDeletesData, ApprovalModeOnRequest, SandboxDangerFullAccess, nil)
	if got.Kind != DecisionAskUser {
		t.Fatalf("Decide = %+v, want AskUser", got)
	}
}
