package notifications

import (
	"context"
	"log/slog"
)

// LogChannel logs every event at info level. It is registered under the
// "log" type name, so CreateFromConfig can build it; it is not added to a
// Dispatcher by default.
type LogChannel struct {
	logger *slog.Logger
}

func NewLogChannel(logger *slog.Logger) *LogChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogChannel{logger: logger}
}

func (c *LogChannel) Name() string { return "log" }

func (c *LogChannel) Send(_ context.Context, event Event) error {
	c.logger.Info("notification",
		"type", string(event.Type),
		"conversation_id", event.ConversationID,
	)
	return nil
}

func init() {
	Register("log", func(_ map[string]any, logger *slog.Logger) (Channel, error) {
		return NewLogChannel(logger), nil
	})
}
