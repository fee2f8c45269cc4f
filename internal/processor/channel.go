package processor

import (
	"context"
	"encoding/json"

	"github.com/codex-core/codex-core/internal/ids"
	"github.com/codex-core/codex-core/internal/jsonrpc"
	"github.com/codex-core/codex-core/internal/notifications"
)

// broadcastChannel is the in-process notifications.Channel that turns an
// Event into a JSON-RPC notification written to every connection attached
// to its conversation (or to every initialized connection, for process-
// wide events like config warnings), per spec.md §4.B's "Thread attach"
// paragraph and SPEC_FULL.md §4.G's "the in-process JSON-RPC broadcaster
// is just one more registered channel."
type broadcastChannel struct {
	p *Processor
}

// Channel returns p's broadcaster; the caller registers it on the
// dispatcher (see New). Register it once at startup.
func (p *Processor) Channel() notifications.Channel { return broadcastChannel{p: p} }

func (broadcastChannel) Name() string { return "connection-broadcast" }

func (c broadcastChannel) Send(ctx context.Context, event notifications.Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}
	msg := jsonrpc.Message{Method: string(event.Type), Params: payload}

	c.p.mu.Lock()
	var targets []*connState
	if event.ConversationID == "" {
		for _, st := range c.p.connections {
			if st.initialized {
				targets = append(targets, st)
			}
		}
	} else {
		for connID := range c.p.byThread[event.ConversationID] {
			if st, ok := c.p.connections[connID]; ok {
				targets = append(targets, st)
			}
		}
	}
	c.p.mu.Unlock()

	for _, st := range targets {
		if st.optedOutNotificationMethods[string(event.Type)] {
			continue
		}
		_ = st.conn.WriteMessage(msg)
	}
	return nil
}

// attachConnection subscribes connID to a conversation's event stream.
func (p *Processor) attachConnection(connID ids.ConnectionID, conversationID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.connections[connID]; ok {
		st.threads[conversationID] = true
	}
	if p.byThread[conversationID] == nil {
		p.byThread[conversationID] = make(map[ids.ConnectionID]bool)
	}
	p.byThread[conversationID][connID] = true
}

// attachAllInitialized subscribes every currently-initialized connection to
// conversationID, per spec.md §4.B: "When a new thread is created ... the
// processor attaches listeners for every connection that is currently
// initialized."
func (p *Processor) attachAllInitialized(conversationID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.byThread[conversationID] == nil {
		p.byThread[conversationID] = make(map[ids.ConnectionID]bool)
	}
	for connID, st := range p.connections {
		if !st.initialized {
			continue
		}
		st.threads[conversationID] = true
		p.byThread[conversationID][connID] = true
	}
}
