package completion

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/codex-core/codex-core/internal/llm"
)

// SSEBackend streams completions over HTTP+SSE against an
// OpenAI-compatible chat-completions endpoint, using go-openai's own
// streaming client rather than hand-rolling SSE parsing.
type SSEBackend struct {
	client   *openai.Client
	refresh  AuthRefresher
	onLimits func(RateLimitMetadata)
}

// NewSSEBackend builds an SSEBackend. baseURL may be empty to use the
// default OpenAI endpoint, or point at a compatible gateway.
func NewSSEBackend(apiKey, baseURL string, refresh AuthRefresher, onLimits func(RateLimitMetadata)) *SSEBackend {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &SSEBackend{
		client:   openai.NewClientWithConfig(cfg),
		refresh:  refresh,
		onLimits: onLimits,
	}
}

func toOpenAIMessages(req *llm.Request) []openai.ChatCompletionMessage {
	var out []openai.ChatCompletionMessage
	for _, sys := range req.System {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: sys.Text})
	}
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == llm.MessageRoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		var text string
		for _, c := range m.Content {
			if c.Type == llm.ContentTypeText {
				text += c.Text
			}
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: text})
	}
	return out
}

// Stream implements Backend. On HTTP 401 it consults the configured
// AuthRefresher exactly once per spec.md §4.D's 401-recovery rule: a
// retryable refresh success re-issues the request once; anything else
// surfaces ErrRefreshTokenFailed.
func (b *SSEBackend) Stream(ctx context.Context, req *llm.Request, info ModelInfo, opts StreamOptions) (<-chan llm.ResponseEvent, error) {
	stream, err := b.openStream(ctx, req, info)
	if isUnauthorized(err) {
		stream, err = b.recoverFromUnauthorized(ctx, req, info)
	}
	if err != nil {
		return nil, err
	}

	out := make(chan llm.ResponseEvent, 16)
	go b.pump(stream, out)
	return out, nil
}

func (b *SSEBackend) openStream(ctx context.Context, req *llm.Request, info ModelInfo) (*openai.ChatCompletionStream, error) {
	return b.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    info.Model,
		Messages: toOpenAIMessages(req),
		Stream:   true,
	})
}

func (b *SSEBackend) recoverFromUnauthorized(ctx context.Context, req *llm.Request, info ModelInfo) (*openai.ChatCompletionStream, error) {
	if b.refresh == nil {
		return nil, ErrRefreshTokenFailed
	}
	refreshCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	retryable, err := b.refresh.Refresh(refreshCtx)
	if err != nil || !retryable {
		return nil, ErrRefreshTokenFailed
	}
	stream, err := b.openStream(ctx, req, info)
	if isUnauthorized(err) {
		return nil, ErrRefreshTokenFailed
	}
	return stream, err
}

func isUnauthorized(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusUnauthorized
	}
	return false
}

func (b *SSEBackend) pump(stream *openai.ChatCompletionStream, out chan<- llm.ResponseEvent) {
	defer close(out)
	defer stream.Close()

	var text string
	var usage llm.Usage

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			out <- llm.ResponseEvent{
				Type: llm.ResponseEventCompleted,
				Response: &llm.Response{
					Role:       llm.MessageRoleAssistant,
					Content:    llm.TextContent(text),
					StopReason: llm.StopReasonEndTurn,
					Usage:      usage,
					Model:      usage.Model,
				},
			}
			return
		}
		if err != nil {
			out <- llm.ResponseEvent{Type: llm.ResponseEventError, Err: err}
			return
		}
		if resp.Usage != nil {
			usage.InputTokens = uint64(resp.Usage.PromptTokens)
			usage.OutputTokens = uint64(resp.Usage.CompletionTokens)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		text += delta
		out <- llm.ResponseEvent{Type: llm.ResponseEventTextDelta, TextDelta: delta}

		if b.onLimits != nil {
			if raw, ok := extractRateLimitMetadata(resp); ok {
				b.onLimits(ParseRateLimitMetadata(raw))
			}
		}
	}
}

// extractRateLimitMetadata pulls a provider-specific rate-limit blob out of
// a streamed chunk's system fingerprint field, the only free-form slot
// go-openai's response type exposes for this. Most providers never set it;
// that's fine, ingestion is best-effort per spec.md §4.D.
func extractRateLimitMetadata(resp openai.ChatCompletionStreamResponse) (json.RawMessage, bool) {
	if resp.SystemFingerprint == "" {
		return nil, false
	}
	raw := json.RawMessage(resp.SystemFingerprint)
	if !json.Valid(raw) {
		return nil, false
	}
	return raw, true
}
