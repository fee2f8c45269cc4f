package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/codex-core/codex-core/internal/llm"
)

// wsFrameType discriminates the two frame shapes the WebSocket backend
// sends, per spec.md §4.D's incremental-append rule.
type wsFrameType string

const (
	wsFrameCreate wsFrameType = "create"
	wsFrameAppend wsFrameType = "append"
)

type wsOutboundFrame struct {
	Type      wsFrameType   `json:"type"`
	Model     string        `json:"model,omitempty"`
	Messages  []llm.Message `json:"messages,omitempty"` // full set, on "create"
	Appended  []llm.Message `json:"appended,omitempty"` // suffix only, on "append"
	TurnState string        `json:"turn_state,omitempty"`
}

type wsInboundFrame struct {
	Type           string          `json:"type"` // "text_delta" | "reasoning_delta" | "tool_call" | "completed" | "error"
	TextDelta      string          `json:"text_delta,omitempty"`
	ReasoningDelta string          `json:"reasoning_delta,omitempty"`
	ToolCallID     string          `json:"tool_call_id,omitempty"`
	ToolCallName   string          `json:"tool_call_name,omitempty"`
	ToolCallInput  json.RawMessage `json:"tool_call_input,omitempty"`
	Usage          *llm.Usage      `json:"usage,omitempty"`
	StopReason     string          `json:"stop_reason,omitempty"`
	RateLimits     json.RawMessage `json:"rate_limits,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// ErrPermanentWebSocketFailure marks failures that should trip the
// one-way SSE fallback: unexpected close, handshake error, or a mid-stream
// read/write error, per spec.md §4.D.
var ErrPermanentWebSocketFailure = errors.New("completion: permanent websocket failure")

// WSBackend streams completions over a single persistent WebSocket
// connection, using github.com/coder/websocket (the teacher's own WS
// library; see internal/transport for the server-side counterpart).
type WSBackend struct {
	URL string

	mu        sync.Mutex
	conn      *websocket.Conn
	lastInput []llm.Message
}

// NewWSBackend builds a WSBackend targeting the given ws:// or wss:// URL.
func NewWSBackend(url string) *WSBackend {
	return &WSBackend{URL: url}
}

func (b *WSBackend) ensureConn(ctx context.Context) (*websocket.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		return b.conn, nil
	}
	conn, _, err := websocket.Dial(ctx, b.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial: %v", ErrPermanentWebSocketFailure, err)
	}
	b.conn = conn
	return conn, nil
}

func (b *WSBackend) invalidate() {
	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	b.lastInput = nil
	b.mu.Unlock()
	if conn != nil {
		conn.Close(websocket.StatusInternalError, "completion: backend reset")
	}
}

// messagesExtend reports whether full starts with prior and is strictly
// longer, per spec.md §4.D's incremental-append rule, comparing messages by
// role and rendered text.
func messagesExtend(prior, full []llm.Message) bool {
	if len(full) <= len(prior) {
		return false
	}
	for i := range prior {
		if !messageEqual(prior[i], full[i]) {
			return false
		}
	}
	return true
}

func messageEqual(a, b llm.Message) bool {
	if a.Role != b.Role || len(a.Content) != len(b.Content) {
		return false
	}
	for i := range a.Content {
		if a.Content[i].Type != b.Content[i].Type || a.Content[i].Text != b.Content[i].Text {
			return false
		}
	}
	return true
}

// Stream implements Backend. It decides between a "create" and "append"
// outbound frame by comparing req.Messages against the last input this
// connection sent, per spec.md §4.D.
func (b *WSBackend) Stream(ctx context.Context, req *llm.Request, info ModelInfo, opts StreamOptions) (<-chan llm.ResponseEvent, error) {
	conn, err := b.ensureConn(ctx)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	prior := b.lastInput
	b.mu.Unlock()

	frame := wsOutboundFrame{Model: info.Model, TurnState: opts.TurnState}
	if messagesExtend(prior, req.Messages) {
		frame.Type = wsFrameAppend
		frame.Appended = req.Messages[len(prior):]
	} else {
		frame.Type = wsFrameCreate
		frame.Messages = req.Messages
	}

	if err := wsjson.Write(ctx, conn, frame); err != nil {
		b.invalidate()
		return nil, fmt.Errorf("%w: write: %v", ErrPermanentWebSocketFailure, err)
	}

	b.mu.Lock()
	b.lastInput = req.Messages
	b.mu.Unlock()

	out := make(chan llm.ResponseEvent, 16)
	go b.pump(ctx, conn, out)
	return out, nil
}

func (b *WSBackend) pump(ctx context.Context, conn *websocket.Conn, out chan<- llm.ResponseEvent) {
	defer close(out)
	for {
		var frame wsInboundFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			b.invalidate()
			out <- llm.ResponseEvent{Type: llm.ResponseEventError, Err: fmt.Errorf("%w: read: %v", ErrPermanentWebSocketFailure, err)}
			return
		}
		switch frame.Type {
		case "text_delta":
			out <- llm.ResponseEvent{Type: llm.ResponseEventTextDelta, TextDelta: frame.TextDelta}
		case "reasoning_delta":
			out <- llm.ResponseEvent{Type: llm.ResponseEventReasoningDelta, ReasoningDelta: frame.ReasoningDelta}
		case "tool_call":
			out <- llm.ResponseEvent{
				Type:          llm.ResponseEventToolCall,
				ToolCallID:    frame.ToolCallID,
				ToolCallName:  frame.ToolCallName,
				ToolCallInput: frame.ToolCallInput,
			}
		case "completed":
			resp := &llm.Response{Role: llm.MessageRoleAssistant, StopReason: llm.StopReason(frame.StopReason)}
			if frame.Usage != nil {
				resp.Usage = *frame.Usage
			}
			out <- llm.ResponseEvent{Type: llm.ResponseEventCompleted, Response: resp}
			return
		case "error":
			out <- llm.ResponseEvent{Type: llm.ResponseEventError, Err: errors.New(frame.Error)}
			return
		}
	}
}

// Close tears down the underlying connection, if any.
func (b *WSBackend) Close() {
	b.invalidate()
}
