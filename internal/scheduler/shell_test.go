package scheduler

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestBackgroundShellLifecycle(t *testing.T) {
	store := NewStore()
	s := store.RegisterPending("conv-1", []string{"sh", "-c", "echo hello; echo world 1>&2"}, "say hello")
	if s.Status() != StatusPending {
		t.Fatalf("status = %v, want Pending", s.Status())
	}

	if err := store.Start(s, false); err != nil {
		t.Fatalf("Start: %v", err)
	}

	res, err := store.GetOutput(context.Background(), s.ShellID, true, 2*time.Second, nil, 0)
	if err != nil {
		t.Fatalf("GetOutput: %v", err)
	}
	if res.Status != StatusCompleted {
		t.Fatalf("status = %v, want Completed", res.Status)
	}
	if strings.TrimSpace(res.Stdout) != "hello" {
		t.Fatalf("stdout = %q, want %q", res.Stdout, "hello")
	}
	if strings.TrimSpace(res.Stderr) != "world" {
		t.Fatalf("stderr = %q, want %q", res.Stderr, "world")
	}
	if res.ExitCode == nil || *res.ExitCode != 0 {
		t.Fatalf("exit code = %v, want 0", res.ExitCode)
	}
	if res.HasMore {
		t.Fatal("expected HasMore=false once drained and completed")
	}
}

func TestBackgroundShellKillPending(t *testing.T) {
	store := NewStore()
	s := store.RegisterPending("conv-1", []string{"sleep", "10"}, "sleep")
	if err := store.Kill(s.ShellID); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if s.Status() != StatusKilled {
		t.Fatalf("status = %v, want Killed", s.Status())
	}
}

func TestBackgroundShellKillRunning(t *testing.T) {
	store := NewStore()
	s := store.RegisterPending("conv-1", []string{"sleep", "30"}, "sleep")
	if err := store.Start(s, false); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if err := store.Kill(s.ShellID); err != nil {
		t.Fatalf("Kill: %v", err)
	}

	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		t.Fatal("process did not exit after Kill")
	}
	if s.Status() != StatusKilled {
		t.Fatalf("status = %v, want Killed", s.Status())
	}
}

func TestGetOutputTimeout(t *testing.T) {
	store := NewStore()
	s := store.RegisterPending("conv-1", []string{"sleep", "5"}, "sleep")
	if err := store.Start(s, false); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer store.Kill(s.ShellID)

	res, err := store.GetOutput(context.Background(), s.ShellID, true, 50*time.Millisecond, nil, 0)
	if err != nil {
		t.Fatalf("GetOutput: %v", err)
	}
	if res.Status != StatusTimeout {
		t.Fatalf("status = %v, want Timeout", res.Status)
	}
}

func TestCleanupByConversationKillsAndRemoves(t *testing.T) {
	store := NewStore()
	s := store.RegisterPending("conv-a", []string{"sleep", "10"}, "sleep")
	if err := store.Start(s, false); err != nil {
		t.Fatalf("Start: %v", err)
	}
	other := store.RegisterPending("conv-b", []string{"sleep", "10"}, "sleep")
	if err := store.Start(other, false); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer store.Kill(other.ShellID)

	store.CleanupByConversation("conv-a")

	if _, ok := store.Get(s.ShellID); ok {
		t.Fatal("expected conv-a's shell to be removed")
	}
	if _, ok := store.Get(other.ShellID); !ok {
		t.Fatal("expected conv-b's shell to remain")
	}
}

func TestCleanupOldPurgesStalePending(t *testing.T) {
	store := NewStore()
	s := store.RegisterPending("conv-1", []string{"true"}, "noop")
	s.CreatedAt = time.Now().Add(-10 * time.Minute)

	store.CleanupOld(time.Hour)

	if _, ok := store.Get(s.ShellID); ok {
		t.Fatal("expected stale pending shell to be purged")
	}
}
