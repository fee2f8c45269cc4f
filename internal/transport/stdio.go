package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/codex-core/codex-core/internal/jsonrpc"
	"github.com/codex-core/codex-core/internal/processor"
)

// StdioMultiplexer runs a single newline-delimited JSON-RPC connection
// over stdin/stdout, per spec.md §4.A mode (1). It shuts the process down
// when the connection closes, matching "Stdio mode shuts the process down
// when the last connection closes."
type StdioMultiplexer struct {
	Handler *processor.Processor
	Logger  *slog.Logger

	in  io.Reader
	out io.Writer
}

// NewStdioMultiplexer builds a multiplexer reading from r and writing to
// w (normally os.Stdin / os.Stdout).
func NewStdioMultiplexer(handler *processor.Processor, logger *slog.Logger, r io.Reader, w io.Writer) *StdioMultiplexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &StdioMultiplexer{Handler: handler, Logger: logger, in: r, out: w}
}

// Run blocks, framing lines from stdin and writing responses/notifications
// to stdout, until ctx is cancelled or the input stream ends.
func (m *StdioMultiplexer) Run(ctx context.Context) error {
	conn := newConnection(m.Logger)
	m.Handler.Connect(conn)
	defer func() {
		conn.close()
		m.Handler.Disconnect(conn.ID())
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		enc := json.NewEncoder(m.out)
		write := func(msg jsonrpc.Message) {
			if err := enc.Encode(msg); err != nil {
				m.Logger.Warn("codex: stdio write failed, dropping message", "error", err)
			}
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

	scanner := bufio.NewScanner(m.in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		msg, err := decodeFrame(line)
		if err != nil {
			m.Logger.Warn("codex: malformed stdio frame, dropping", "error", err)
			continue
		}
		if !msg.IsRequest() {
			// Responses/notifications from a stdio peer aren't part of
			// this contract; ignore rather than close the connection.
			continue
		}

		resp := m.Handler.HandleRequest(conn.ID(), toRequest(msg))
		_ = conn.WriteMessage(jsonrpc.Message{ID: resp.ID, Result: resp.Result, Error: resp.Error})
	}

	conn.close()
	<-writerDone
	return scanner.Err()
}
