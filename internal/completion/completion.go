// Package completion implements component D, the Completion Transport
// Adapter: a single stream(prompt, model_info, options) contract backed by
// two parallel transports (HTTP+SSE and WebSocket), per spec.md §4.D. The
// SSE backend is grounded in the teacher's own use of
// github.com/sashabaranov/go-openai for a streaming chat-completions client;
// the WebSocket backend uses github.com/coder/websocket, the teacher's own
// WS library (see internal/transport for its other use, a server-side
// listener instead of a client).
package completion

import (
	"context"
	"errors"

	"github.com/codex-core/codex-core/internal/llm"
)

// ModelInfo names the remote model and its provider-facing identity. It is
// deliberately thin: everything else a backend needs (API key, base URL) is
// configured on the backend itself, not threaded through every call.
type ModelInfo struct {
	Model    string
	Provider string
}

// StreamOptions carries the per-turn knobs the engine may set.
type StreamOptions struct {
	// TurnState is the opaque sticky header from spec.md §4.C; the adapter
	// never inspects it, only forwards it to the transport when present.
	TurnState string
}

// ErrRefreshTokenFailed is surfaced to the engine when a second 401 is hit
// or the AuthRefresher permanently fails, per spec.md §4.D.
var ErrRefreshTokenFailed = errors.New("completion: refresh token failed")

// AuthRefresher attempts to refresh expired credentials. Retryable reports
// whether a retry is worth attempting at all (e.g. the failure look
// transient vs. a permanently revoked credential).
type AuthRefresher interface {
	Refresh(ctx context.Context) (retryable bool, err error)
}

// Backend is the contract both transports (SSEBackend and WSBackend, plus
// FallbackBackend over the two) implement. internal/shellsidecar's Client
// does not implement it.
type Backend interface {
	Stream(ctx context.Context, req *llm.Request, info ModelInfo, opts StreamOptions) (<-chan llm.ResponseEvent, error)
}

// RateLimitWindow mirrors state.RateLimitWindow's shape; duplicated here
// (rather than imported) so this package doesn't need to depend on
// internal/state just to describe wire metadata. Conversion into an actual
// state.RateLimitSnapshot happens in cmd/codex-core's onLimits callback,
// which imports both.
type RateLimitWindow struct {
	UsedPercent     float64
	WindowMinutes   int
	ResetsInSeconds int
}

// RateLimitMetadata is what ParseRateLimitMetadata extracts from a
// completion response's trailing metadata, per spec.md §4.D's "two optional
// rate-limit windows (5-hour and weekly)".
type RateLimitMetadata struct {
	FiveHour *RateLimitWindow
	Weekly   *RateLimitWindow
}
