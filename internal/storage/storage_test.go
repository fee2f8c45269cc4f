package storage

import (
	"context"
	"os"
	"testing"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "codexcore_storage_test")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	store, err := Open(dir)
	if err != nil {
		_ = os.RemoveAll(dir)
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
		_ = os.RemoveAll(dir)
	})
	return store
}

func TestPutGetSideFile(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	pointer, err := store.PutSideFile(ctx, "conv-1", []byte("large tool output"))
	if err != nil {
		t.Fatalf("PutSideFile: %v", err)
	}
	if pointer == "" {
		t.Fatal("expected a non-empty pointer")
	}

	// Re-storing identical content under the same conversation must not error
	// (INSERT OR IGNORE on the (conversation_id, content_hash) primary key).
	if _, err := store.PutSideFile(ctx, "conv-1", []byte("large tool output")); err != nil {
		t.Fatalf("PutSideFile (duplicate): %v", err)
	}

	hash := pointer[len("conv-1:"):]
	got, err := store.GetSideFile(ctx, "conv-1", hash)
	if err != nil {
		t.Fatalf("GetSideFile: %v", err)
	}
	if string(got) != "large tool output" {
		t.Fatalf("content = %q, want %q", got, "large tool output")
	}
}

func TestGetSideFileNotFound(t *testing.T) {
	store := setupTestStore(t)
	if _, err := store.GetSideFile(context.Background(), "conv-1", "deadbeef"); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestHistorySnapshotsOrdered(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, body := range []string{"first", "second", "third"} {
		if err := store.PutHistorySnapshot(ctx, "conv-1", []byte(body)); err != nil {
			t.Fatalf("PutHistorySnapshot(%q): %v", body, err)
		}
	}

	snapshots, err := store.ListHistorySnapshots(ctx, "conv-1")
	if err != nil {
		t.Fatalf("ListHistorySnapshots: %v", err)
	}
	if len(snapshots) != 3 {
		t.Fatalf("got %d snapshots, want 3", len(snapshots))
	}
	for i, want := range []string{"first", "second", "third"} {
		if string(snapshots[i]) != want {
			t.Fatalf("snapshot[%d] = %q, want %q", i, snapshots[i], want)
		}
	}
}

func TestDeleteConversationRemovesEverything(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.PutSideFile(ctx, "conv-1", []byte("blob")); err != nil {
		t.Fatalf("PutSideFile: %v", err)
	}
	if err := store.PutHistorySnapshot(ctx, "conv-1", []byte("snap")); err != nil {
		t.Fatalf("PutHistorySnapshot: %v", err)
	}

	if err := store.DeleteConversation(ctx, "conv-1"); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}

	snapshots, err := store.ListHistorySnapshots(ctx, "conv-1")
	if err != nil {
		t.Fatalf("ListHistorySnapshots: %v", err)
	}
	if len(snapshots) != 0 {
		t.Fatalf("expected no snapshots after teardown, got %d", len(snapshots))
	}
}
