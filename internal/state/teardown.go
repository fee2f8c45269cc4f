package state

import (
	"context"
	"log/slog"
)

// Teardown runs the strict conversation teardown sequence from spec.md
// §4.G:
//  1. cancel the conversation's current turn token
//  2. cleanup_by_conversation on the background shell store
//  3. shutdown LSP servers pinned to this conversation, if any
//  4. flush any pending tool events to the transport
//  5. remove the conversation entry from the engine
//
// Each step is a caller-supplied closure so this package doesn't need to
// import the scheduler, transport, or session packages (avoiding an import
// cycle with component F, which itself depends on state). A step that
// returns an error is logged and the sequence continues — teardown must not
// get stuck on one failing collaborator, per the "conversation destroyed on
// explicit teardown" contract in spec.md §3.
type Teardown struct {
	CancelTurn         func()
	CleanupShells      func(ctx context.Context) error
	ShutdownLSP        func(ctx context.Context) error
	FlushPendingEvents func(ctx context.Context) error
	RemoveConversation func()

	Logger *slog.Logger
}

// Run executes the sequence in order, logging (not aborting on) step
// failures.
func (t *Teardown) Run(ctx context.Context, conversationID string) {
	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if t.CancelTurn != nil {
		t.CancelTurn()
	}
	if t.CleanupShells != nil {
		if err := t.CleanupShells(ctx); err != nil {
			logger.Warn("teardown: cleanup shells failed", "conversation_id", conversationID, "error", err)
		}
	}
	if t.ShutdownLSP != nil {
		if err := t.ShutdownLSP(ctx); err != nil {
			logger.Warn("teardown: lsp shutdown failed", "conversation_id", conversationID, "error", err)
		}
	}
	if t.FlushPendingEvents != nil {
		if err := t.FlushPendingEvents(ctx); err != nil {
			logger.Warn("teardown: flush pending events failed", "conversation_id", conversationID, "error", err)
		}
	}
	if t.RemoveConversation != nil {
		t.RemoveConversation()
	}
}
