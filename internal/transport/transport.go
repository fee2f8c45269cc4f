// Package transport implements component A, the Transport Multiplexer:
// it accepts stdio and WebSocket connections, frames JSON-RPC messages,
// and forwards each parsed message to the Message Processor
// (internal/processor) together with its originating ConnectionId, per
// spec.md §4.A.
//
// Stdio framing uses bufio.Scanner exactly as the teacher's
// llm/codex subprocess client frames Codex's app-server protocol
// (newline-delimited JSON, growable buffer up to 16MB/line). The
// WebSocket listener uses github.com/coder/websocket, the teacher's own
// WebSocket library, bound to a literal IP:port.
package transport

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/codex-core/codex-core/internal/ids"
	"github.com/codex-core/codex-core/internal/jsonrpc"
	"github.com/codex-core/codex-core/internal/processor"
)

// outboundQueueCapacity is the bounded per-connection send queue size,
// per spec.md §4.A/§5.
const outboundQueueCapacity = 128

// maxLineBytes is the growable stdio scan buffer's ceiling, matching the
// teacher's own subprocess framing limit.
const maxLineBytes = 16 * 1024 * 1024

// connection is the shared per-connection state: a unique id and a
// bounded outbound queue, per spec.md §4.A's "Each accepted connection
// gets a unique ConnectionId and a bounded outbound queue."
type connection struct {
	id       ids.ConnectionID
	outbound chan jsonrpc.Message
	logger   *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func newConnection(logger *slog.Logger) *connection {
	if logger == nil {
		logger = slog.Default()
	}
	return &connection{
		id:       ids.NextConnectionID(),
		outbound: make(chan jsonrpc.Message, outboundQueueCapacity),
		logger:   logger,
		done:     make(chan struct{}),
	}
}

var _ processor.Conn = (*connection)(nil)

func (c *connection) ID() ids.ConnectionID { return c.id }

// WriteMessage enqueues msg for delivery. Responses to explicit requests
// (an id but no method) are blocking sends, per spec.md §5's backpressure
// rule; everything else (requests or notifications pushed server-side,
// i.e. server-to-client notifications) is a best-effort send that drops
// and logs rather than blocking a slow reader.
func (c *connection) WriteMessage(msg jsonrpc.Message) error {
	if msg.IsResponse() {
		select {
		case c.outbound <- msg:
			return nil
		case <-c.done:
			return errConnectionClosed
		}
	}

	select {
	case c.outbound <- msg:
		return nil
	case <-c.done:
		return errConnectionClosed
	default:
		c.logger.Warn("codex: dropped outbound message, queue full", "connection_id", c.id.String(), "method", msg.Method)
		return nil
	}
}

func (c *connection) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

var errConnectionClosed = jsonrpcClosedError{}

type jsonrpcClosedError struct{}

func (jsonrpcClosedError) Error() string { return "transport: connection closed" }

// decodeFrame parses one line/frame into a jsonrpc.Message. Malformed
// frames are reported to the caller, which logs and drops them without
// closing the connection, per spec.md §4.A's failure semantics.
func decodeFrame(data []byte) (jsonrpc.Message, error) {
	var msg jsonrpc.Message
	err := json.Unmarshal(data, &msg)
	return msg, err
}

func toRequest(msg jsonrpc.Message) jsonrpc.Request {
	return jsonrpc.Request{JSONRPC: "2.0", ID: msg.ID, Method: msg.Method, Params: msg.Params}
}

// drainOutbound flushes whatever is already buffered in conn's outbound
// queue before a writer goroutine exits, so a response enqueued just
// before shutdown is still delivered rather than silently dropped.
func drainOutbound(conn *connection, write func(jsonrpc.Message)) {
	for {
		select {
		case msg, ok := <-conn.outbound:
			if !ok {
				return
			}
			write(msg)
		default:
			return
		}
	}
}
