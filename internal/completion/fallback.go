package completion

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/codex-core/codex-core/internal/llm"
)

// FallbackBackend prefers WebSocket and falls back to SSE on any permanent
// WebSocket failure, per spec.md §4.D: "the fallback is one-way for the
// life of the client." OnFallback, if set, is invoked exactly once the
// first time the flag flips — cmd/codex-core wires this to the
// wsFallbackTotal counter in internal/metrics.
type FallbackBackend struct {
	WS         *WSBackend
	SSE        *SSEBackend
	OnFallback func()

	disabled atomic.Bool
}

// NewFallbackBackend builds a FallbackBackend. ws may be nil to disable
// WebSocket entirely and always use sse.
func NewFallbackBackend(ws *WSBackend, sse *SSEBackend, onFallback func()) *FallbackBackend {
	fb := &FallbackBackend{WS: ws, SSE: sse, OnFallback: onFallback}
	if ws == nil {
		fb.disabled.Store(true)
	}
	return fb
}

func (f *FallbackBackend) Stream(ctx context.Context, req *llm.Request, info ModelInfo, opts StreamOptions) (<-chan llm.ResponseEvent, error) {
	if f.disabled.Load() {
		return f.SSE.Stream(ctx, req, info, opts)
	}

	events, err := f.WS.Stream(ctx, req, info, opts)
	if err != nil {
		if f.tripFallback() {
			if f.OnFallback != nil {
				f.OnFallback()
			}
		}
		return f.SSE.Stream(ctx, req, info, opts)
	}

	out := make(chan llm.ResponseEvent, 16)
	go f.watch(ctx, req, info, opts, events, out)
	return out, nil
}

// watch relays WS events to out, and if a permanent failure surfaces
// mid-stream, trips the fallback and re-issues the turn over SSE,
// forwarding its events to the same out channel so the caller sees one
// continuous stream.
func (f *FallbackBackend) watch(ctx context.Context, req *llm.Request, info ModelInfo, opts StreamOptions, events <-chan llm.ResponseEvent, out chan<- llm.ResponseEvent) {
	defer close(out)
	for ev := range events {
		if ev.Type == llm.ResponseEventError && errors.Is(ev.Err, ErrPermanentWebSocketFailure) {
			if f.tripFallback() && f.OnFallback != nil {
				f.OnFallback()
			}
			sseEvents, err := f.SSE.Stream(ctx, req, info, opts)
			if err != nil {
				out <- llm.ResponseEvent{Type: llm.ResponseEventError, Err: err}
				return
			}
			for sseEv := range sseEvents {
				out <- sseEv
			}
			return
		}
		out <- ev
	}
}

// tripFallback flips the one-way disable flag and reports whether this
// call was the one that flipped it, so OnFallback fires exactly once.
func (f *FallbackBackend) tripFallback() bool {
	return f.disabled.CompareAndSwap(false, true)
}
