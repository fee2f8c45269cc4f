package transport

import (
	"context"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/codex-core/codex-core/internal/processor"
)

// Mode selects which transport Server supervises, per spec.md §4.A's two
// accepted modes.
type Mode int

const (
	ModeStdio Mode = iota
	ModeWebSocket
)

// Server supervises whichever multiplexer the process was started with,
// using golang.org/x/sync/errgroup the same way the teacher coordinates
// its own long-running background goroutines — so a fatal read error in
// one goroutine cancels the others' context instead of leaving them
// running against a half-shut-down process.
type Server struct {
	Mode      Mode
	Processor *processor.Processor
	Logger    *slog.Logger
	WSAddr    string

	wsMux *WSMultiplexer
}

// NewServer builds a Server for mode. For ModeWebSocket, wsAddr must be a
// literal IP:port; it is validated immediately so a typo fails at startup
// rather than on first connection.
func NewServer(mode Mode, p *processor.Processor, logger *slog.Logger, wsAddr string) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{Mode: mode, Processor: p, Logger: logger, WSAddr: wsAddr}

	if mode == ModeWebSocket {
		mux, err := NewWSMultiplexer(p, logger, wsAddr)
		if err != nil {
			return nil, err
		}
		s.wsMux = mux
	}
	return s, nil
}

// Run blocks until ctx is cancelled or the transport reports a fatal
// error. In ModeStdio, stdin/stdout frame the single connection; in
// ModeWebSocket they're unused.
func (s *Server) Run(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	g, ctx := errgroup.WithContext(ctx)

	switch s.Mode {
	case ModeStdio:
		mux := NewStdioMultiplexer(s.Processor, s.Logger, stdin, stdout)
		g.Go(func() error { return mux.Run(ctx) })
	case ModeWebSocket:
		g.Go(func() error { return s.wsMux.Run(ctx) })
	}

	return g.Wait()
}
