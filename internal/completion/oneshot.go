package completion

import (
	"context"

	"github.com/codex-core/codex-core/internal/llm"
)

// OneShotService adapts a streaming Backend into the non-streaming
// llm.Service contract claudetool.LLMOneShotTool and other in-process tools
// consume, by draining a Stream call into a single Response rather than
// forwarding deltas anywhere — the same accumulate-while-draining shape
// internal/session's turn loop uses, minus tool dispatch.
type OneShotService struct {
	Backend             Backend
	Info                ModelInfo
	ContextWindow       int
	MaxImageDimensionPx int
}

// NewOneShotService builds a OneShotService. contextWindow/maxImageDim
// describe the backing model's limits, since Backend itself doesn't.
func NewOneShotService(backend Backend, info ModelInfo, contextWindow, maxImageDim int) *OneShotService {
	return &OneShotService{Backend: backend, Info: info, ContextWindow: contextWindow, MaxImageDimensionPx: maxImageDim}
}

// Do drains a single Stream call to completion and returns the assembled
// Response, discarding tool-call events (one-shot tools don't get tools).
func (s *OneShotService) Do(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	events, err := s.Backend.Stream(ctx, req, s.Info, StreamOptions{})
	if err != nil {
		return nil, err
	}

	var content []llm.Content
	var text string
	resp := &llm.Response{Role: llm.MessageRoleAssistant}

	for ev := range events {
		switch ev.Type {
		case llm.ResponseEventTextDelta:
			text += ev.TextDelta
		case llm.ResponseEventCompleted:
			if ev.Response != nil {
				resp.Usage = ev.Response.Usage
				resp.StopReason = ev.Response.StopReason
				resp.Model = ev.Response.Model
			}
		case llm.ResponseEventError:
			return nil, ev.Err
		}
	}

	if text != "" {
		content = llm.TextContent(text)
	}
	resp.Content = content
	return resp, nil
}

func (s *OneShotService) TokenContextWindow() int { return s.ContextWindow }
func (s *OneShotService) MaxImageDimension() int  { return s.MaxImageDimensionPx }

var _ llm.Service = (*OneShotService)(nil)
