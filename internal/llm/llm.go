// Package llm defines the provider-agnostic request/response contract that
// the Session/Turn Engine (component C) speaks to the Completion Transport
// Adapter (component D), and that tools (component E) speak back through
// when they synthesize content blocks. The shapes are grounded in how the
// teacher's own (unexported-to-us) llm package is used from
// claudetool/llm_one_shot.go and llm/codex/codex.go: Request/Response,
// Message/Content, Tool/ToolOut, and a Service interface with a single Do
// method.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// MessageRole identifies the speaker of a Message.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// ContentType discriminates the variants of Content.
type ContentType string

const (
	ContentTypeText       ContentType = "text"
	ContentTypeThinking   ContentType = "thinking"
	ContentTypeToolUse    ContentType = "tool_use"
	ContentTypeToolResult ContentType = "tool_result"
	ContentTypeImage      ContentType = "image"
)

// StopReason is why a turn's streaming ended.
type StopReason string

const (
	StopReasonEndTurn   StopReason = "end_turn"
	StopReasonToolUse   StopReason = "tool_use"
	StopReasonMaxTokens StopReason = "max_tokens"
	StopReasonCancelled StopReason = "cancelled"
	StopReasonError     StopReason = "error"
)

// Content is one block of a Message or Response. Only the fields relevant to
// its Type are populated; the rest are zero.
type Content struct {
	Type ContentType `json:"type"`

	// text / thinking
	Text     string `json:"text,omitempty"`
	Thinking string `json:"thinking,omitempty"`

	// tool_use
	ID        string          `json:"id,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`

	// tool_result
	ToolUseID        string     `json:"tool_use_id,omitempty"`
	ToolError        bool       `json:"tool_error,omitempty"`
	ToolResult       []Content  `json:"tool_result,omitempty"`
	Display          any        `json:"display,omitempty"`
	ToolUseStartTime *time.Time `json:"tool_use_start_time,omitempty"`
	ToolUseEndTime   *time.Time `json:"tool_use_end_time,omitempty"`

	// image
	ImageMediaType string `json:"image_media_type,omitempty"`
	ImageData      []byte `json:"image_data,omitempty"`
}

// TextContent is a convenience constructor for a single text Content block.
func TextContent(s string) []Content {
	return []Content{{Type: ContentTypeText, Text: s}}
}

// Message is one turn of conversation history.
type Message struct {
	Role    MessageRole `json:"role"`
	Content []Content   `json:"content"`
}

// UserStringMessage builds a single user message from a plain string.
func UserStringMessage(s string) Message {
	return Message{Role: MessageRoleUser, Content: TextContent(s)}
}

// SystemContent is one block of the system prompt.
type SystemContent struct {
	Text string `json:"text"`
}

// Tool describes one model-invocable tool, matching the JSON Schema shape
// Codex's "dynamic tools" and every other provider's function-calling API
// expects.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`

	// Run executes the tool body. It is not serialized; it's the in-process
	// callback component E invokes once a call has cleared the permission
	// pipeline.
	Run func(ctx context.Context, input json.RawMessage) ToolOut `json:"-"`
}

// MustSchema parses a JSON Schema literal, panicking on malformed schema.
// Schemas are authored as Go string literals by tool implementations, so a
// parse failure here is a programmer error caught at startup, matching the
// teacher's own llm.MustSchema convention (see llm_one_shot.go).
func MustSchema(s string) json.RawMessage {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		panic(fmt.Sprintf("llm: invalid tool schema: %v", err))
	}
	return json.RawMessage(s)
}

// ToolOut is the result of running a tool body.
type ToolOut struct {
	LLMContent []Content
	Display    any
	Error      error
}

// ErrorfToolOut builds a ToolOut carrying a formatted error, visible to the
// model as a tool_result with tool_error=true.
func ErrorfToolOut(format string, args ...any) ToolOut {
	return ToolOut{Error: fmt.Errorf(format, args...)}
}

// Request is sent to a Service.
type Request struct {
	Messages []Message
	System   []SystemContent
	Tools    []Tool
}

// Usage reports token accounting for one Do call.
type Usage struct {
	Model                string     `json:"model,omitempty"`
	InputTokens          uint64     `json:"input_tokens"`
	OutputTokens         uint64     `json:"output_tokens"`
	CacheReadInputTokens uint64     `json:"cache_read_input_tokens,omitempty"`
	StartTime            *time.Time `json:"start_time,omitempty"`
	EndTime              *time.Time `json:"end_time,omitempty"`
}

// Response is the result of one non-streaming Do call, or the terminal
// state a ResponseEvent stream collapses into.
type Response struct {
	Role       MessageRole
	Content    []Content
	StopReason StopReason
	Usage      Usage
	Model      string
	StartTime  *time.Time
	EndTime    *time.Time
}

// ResponseEventType discriminates streamed events from a Service, per
// spec.md §4.C ("Streaming produces ResponseEvents: text delta, tool call,
// reasoning, completed").
type ResponseEventType string

const (
	ResponseEventTextDelta      ResponseEventType = "text_delta"
	ResponseEventReasoningDelta ResponseEventType = "reasoning_delta"
	ResponseEventToolCall       ResponseEventType = "tool_call"
	ResponseEventCompleted      ResponseEventType = "completed"
	ResponseEventError          ResponseEventType = "error"
)

// ResponseEvent is one item in the stream returned by StreamingService.Stream
// or completion.Backend.Stream.
type ResponseEvent struct {
	Type ResponseEventType

	TextDelta      string
	ReasoningDelta string

	ToolCallID    string
	ToolCallName  string
	ToolCallInput json.RawMessage

	Response *Response // set on ResponseEventCompleted
	Err      error     // set on ResponseEventError
}

// Service is the contract a completion backend implements. Do is the
// simple, non-streaming entry point used by one-shot tools; streaming is a
// separate contract (StreamingService below; the Session/Turn Engine drives
// completion.Backend.Stream for a live turn).
type Service interface {
	Do(ctx context.Context, req *Request) (*Response, error)
	TokenContextWindow() int
	MaxImageDimension() int
}

// StreamingService is implemented by backends that can stream incremental
// output (component D). Not every Service needs to; llm_one_shot, for
// instance, only ever calls Do.
type StreamingService interface {
	Service
	Stream(ctx context.Context, req *Request) (<-chan ResponseEvent, error)
}
