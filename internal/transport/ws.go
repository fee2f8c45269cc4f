package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/coder/websocket"

	"github.com/codex-core/codex-core/internal/jsonrpc"
	"github.com/codex-core/codex-core/internal/processor"
)

// WSMultiplexer accepts WebSocket connections on a literal IP:port, per
// spec.md §4.A mode (2). Unlike stdio mode it keeps listening after a
// connection closes.
type WSMultiplexer struct {
	Handler *processor.Processor
	Logger  *slog.Logger

	addr string
}

// NewWSMultiplexer validates addr as a literal IP:port (hostnames are
// rejected at parse time, per SPEC_FULL.md §4.A) and returns a multiplexer
// for it. Nothing is bound until Run starts the HTTP server.
func NewWSMultiplexer(handler *processor.Processor, logger *slog.Logger, addr string) (*WSMultiplexer, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("transport: invalid listen address %q: %w", addr, err)
	}
	if host != "" && net.ParseIP(host) == nil {
		return nil, fmt.Errorf("transport: listen address %q must be a literal IP, not a hostname", addr)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WSMultiplexer{Handler: handler, Logger: logger, addr: addr}, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (m *WSMultiplexer) Run(ctx context.Context) error {
	srv := &http.Server{Addr: m.addr, Handler: m}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (m *WSMultiplexer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := websocket.Accept(w, r, nil)
	if err != nil {
		m.Logger.Warn("codex: websocket accept failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	conn := newConnection(m.Logger)
	m.Handler.Connect(conn)
	defer func() {
		conn.close()
		m.Handler.Disconnect(conn.ID())
		wsConn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx := r.Context()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		write := func(msg jsonrpc.Message) {
			b, err := json.Marshal(msg)
			if err != nil {
				m.Logger.Warn("codex: failed to marshal outbound websocket message, dropping", "error", err)
				return
			}
			_ = wsConn.Write(ctx, websocket.MessageText, b)
		}
		for {
			select {
			case msg, ok := <-conn.outbound:
				if !ok {
					return
				}
				write(msg)
			case <-ctx.Done():
				drainOutbound(conn, write)
				return
			case <-conn.done:
				drainOutbound(conn, write)
				return
			}
		}
	}()

	for {
		msgType, data, err := wsConn.Read(ctx)
		if err != nil {
			// Connection closed or read error: close this connection only,
			// per spec.md §4.A's failure semantics.
			break
		}
		if msgType == websocket.MessageBinary {
			m.Logger.Warn("codex: dropped unsupported binary websocket frame", "connection_id", conn.ID().String())
			continue
		}

		msg, err := decodeFrame(data)
		if err != nil {
			m.Logger.Warn("codex: malformed websocket frame, dropping", "error", err)
			continue
		}
		if !msg.IsRequest() {
			continue
		}

		resp := m.Handler.HandleRequest(conn.ID(), toRequest(msg))
		_ = conn.WriteMessage(jsonrpc.Message{ID: resp.ID, Result: resp.Result, Error: resp.Error})
	}

	conn.close()
	<-writerDone
}
