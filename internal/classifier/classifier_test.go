package classifier

import "testing"

func TestClassifySimpleReadOnly(t *testing.T) {
	tests := [][]string{
		{"cat", "file.txt"},
		{"ls", "-la", "dir"},
		{"grep", "-r", "foo", "."},
	}
	for _, argv := range tests {
		if got := Classify(argv); got != CategoryReadsFilesystem {
			t.Errorf("Classify(%v) = %v, want ReadsFilesystem", argv, got)
		}
	}
}

func TestClassifyRm(t *testing.T) {
	tests := []struct {
		argv []string
		want Category
	}{
		{[]string{"rm", "file.txt"}, CategoryUnrecognized},
		{[]string{"rm", "-r", "dir"}, CategoryDeletesData},
		{[]string{"rm", "-rf", "/tmp/x"}, CategoryDeletesData},
		{[]string{"rm", "--force", "file.txt"}, CategoryDeletesData},
	}
	for _, tt := range tests {
		if got := Classify(tt.argv); got != tt.want {
			t.Errorf("Classify(%v) = %v, want %v", tt.argv, got, tt.want)
		}
	}
}

func TestClassifySed(t *testing.T) {
	tests := []struct {
		argv []string
		want Category
	}{
		{[]string{"sed", "-n", "1,5p", "file.txt"}, CategoryReadsFilesystem},
		{[]string{"sed", "-n", "10p", "file.txt"}, CategoryReadsFilesystem},
		{[]string{"sed", "-i", "s/a/b/", "file.txt"}, CategoryUnrecognized},
		{[]string{"sed", "1,5p", "file.txt"}, CategoryUnrecognized},
	}
	for _, tt := range tests {
		if got := Classify(tt.argv); got != tt.want {
			t.Errorf("Classify(%v) = %v, want %v", tt.argv, got, tt.want)
		}
	}
}

func TestClassifyGit(t *testing.T) {
	tests := []struct {
		argv []string
		want Category
	}{
		{[]string{"git", "status"}, CategoryReadsVcs},
		{[]string{"git", "log", "--oneline"}, CategoryReadsVcs},
		{[]string{"git", "add", "."}, CategoryModifiesVcs},
		{[]string{"git", "commit", "-m", "msg"}, CategoryModifiesVcs},
		{[]string{"git", "checkout", "-b", "feature"}, CategoryModifiesVcs},
		{[]string{"git", "reset", "--hard", "HEAD~1"}, CategoryDeletesData},
		{[]string{"git", "clean", "-fd"}, CategoryDeletesData},
		{[]string{"git", "branch", "-D", "feature"}, CategoryDeletesData},
		{[]string{"git", "push", "--force"}, CategoryDeletesData},
		{[]string{"git", "branch", "--list"}, CategoryReadsVcs},
	}
	for _, tt := range tests {
		if got := Classify(tt.argv); got != tt.want {
			t.Errorf("Classify(%v) = %v, want %v", tt.argv, got, tt.want)
		}
	}
}

func TestExtractCommitMessage(t *testing.T) {
	msg, ok := ExtractCommitMessage([]string{"git", "commit", "-m", "fix bug"})
	if !ok || msg != "fix bug" {
		t.Fatalf("ExtractCommitMessage = (%q, %v), want (%q, true)", msg, ok, "fix bug")
	}
	if _, ok := ExtractCommitMessage([]string{"git", "commit"}); ok {
		t.Fatal("expected ok=false when no -m present")
	}
}

func TestClassifySudoNeverStripped(t *testing.T) {
	if got := Classify([]string{"sudo", "rm", "-rf", "/"}); got != CategoryUnrecognized {
		t.Errorf("Classify(sudo rm -rf /) = %v, want Unrecognized", got)
	}
}

func TestClassifyShellUnwrapSimple(t *testing.T) {
	argv := []string{"/bin/sh", "-c", "cat file.txt"}
	if got := Classify(argv); got != CategoryReadsFilesystem {
		t.Errorf("Classify(%v) = %v, want ReadsFilesystem", argv, got)
	}
}

func TestClassifyShellUnwrapPipelineAggregatesMostDangerous(t *testing.T) {
	argv := []string{"bash", "-c", "cat file.txt && rm -rf /tmp/x"}
	if got := Classify(argv); got != CategoryDeletesData {
		t.Errorf("Classify(%v) = %v, want DeletesData", argv, got)
	}
}

func TestClassifyShellUnwrapRejectsSubshell(t *testing.T) {
	argv := []string{"sh", "-c", "(cd /tmp && ls)"}
	if got := Classify(argv); got != CategoryUnrecognized {
		t.Errorf("Classify(%v) = %v, want Unrecognized", argv, got)
	}
}

func TestClassifyShellUnwrapRejectsCommandSubstitution(t *testing.T) {
	argv := []string{"sh", "-c", "echo $(whoami)"}
	if got := Classify(argv); got != CategoryUnrecognized {
		t.Errorf("Classify(%v) = %v, want Unrecognized", argv, got)
	}
}

func TestClassifyShellUnwrapRejectsBackticks(t *testing.T) {
	argv := []string{"sh", "-c", "echo `whoami`"}
	if got := Classify(argv); got != CategoryUnrecognized {
		t.Errorf("Classify(%v) = %v, want Unrecognized", argv, got)
	}
}

func TestClassifyShellUnwrapRejectsRedirection(t *testing.T) {
	argv := []string{"sh", "-c", "echo hi > out.txt"}
	if got := Classify(argv); got != CategoryUnrecognized {
		t.Errorf("Classify(%v) = %v, want Unrecognized", argv, got)
	}
}

func TestClassifyShellUnwrapRejectsHeredoc(t *testing.T) {
	argv := []string{"sh", "-c", "cat <<EOF\nhello\nEOF"}
	if got := Classify(argv); got != CategoryUnrecognized {
		t.Errorf("Classify(%v) = %v, want Unrecognized", argv, got)
	}
}

func TestClassifyDeterministic(t *testing.T) {
	argv := []string{"bash", "-lc", "git status | grep modified"}
	first := Classify(argv)
	second := Classify(argv)
	if first != second {
		t.Errorf("Classify not deterministic: %v then %v", first, second)
	}
}

func TestClassifyUnrecognizedUnknownTool(t *testing.T) {
	if got := Classify([]string{"some-custom-binary", "--flag"}); got != CategoryUnrecognized {
		t.Errorf("Classify(unknown tool) = %v, want Unrecognized", got)
	}
}
