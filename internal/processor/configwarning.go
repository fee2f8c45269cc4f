package processor

import (
	"context"

	"github.com/codex-core/codex-core/internal/config"
	"github.com/codex-core/codex-core/internal/notifications"
)

type configWarningPayload struct {
	Path   string `json:"path"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`
	Detail string `json:"detail"`
}

// ConfigWarning implements config.WarningSink, fanning out a failed
// external reload as event/configWarning to every initialized connection
// (no ConversationID scoping, since a config warning is process-wide).
func (p *Processor) ConfigWarning(w config.Warning) {
	if p.Dispatcher == nil {
		return
	}
	p.Dispatcher.Dispatch(context.Background(), notifications.Event{
		Type: notifications.EventConfigWarning,
		Payload: configWarningPayload{
			Path: w.Path, Line: w.Line, Column: w.Column, Detail: w.Detail,
		},
	})
}

var _ config.WarningSink = (*Processor)(nil)
