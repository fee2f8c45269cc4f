package session

import (
	"context"
	"encoding/json"
)

// runCompaction implements spec.md §4.C's compaction paragraph: summarize
// the current history via e.Compact, then atomically swap it in. Any item
// appended by a concurrent caller while the summarizer is running (e.g. a
// tool dispatch from a previous round still resolving) is buffered by
// Conversation.appendItem and replayed after the compacted history lands,
// so compaction never drops a result that arrived mid-summary.
func (e *Engine) runCompaction(ctx context.Context, conv *Conversation) error {
	conv.historyMu.Lock()
	snapshot := make([]ResponseItem, len(conv.history))
	copy(snapshot, conv.history)
	conv.compacting = true
	conv.historyMu.Unlock()

	if e.SideFiles != nil {
		// Best-effort: a client that reattaches after compaction can page
		// back through the pre-compaction transcript (SPEC_FULL.md §4.C
		// supplement). Failure to persist never blocks compaction itself.
		if blob, err := json.Marshal(snapshot); err == nil {
			_ = e.SideFiles.PutHistorySnapshot(ctx, conv.ID, blob)
		}
	}

	summarized, err := e.Compact(ctx, snapshot)

	conv.historyMu.Lock()
	defer conv.historyMu.Unlock()
	conv.compacting = false
	if err != nil {
		// Compaction failed: keep the original history plus anything
		// buffered while it ran, rather than losing either.
		conv.history = append(conv.history, conv.duringCompaction...)
		conv.duringCompaction = nil
		return err
	}
	conv.history = append(summarized, conv.duringCompaction...)
	conv.duringCompaction = nil
	return nil
}
