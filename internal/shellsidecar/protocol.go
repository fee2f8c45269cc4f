// Package shellsidecar implements the JSON-RPC-over-stdio client side of
// the subprocess shell contract from spec.md §6.4: initialize, execStart,
// execInterrupt, execStdin/execResize, the requestApproval server callback,
// and the execStarted/execStdout/execStderr/execExited event stream.
//
// The process-management machinery (stdin/stdout framing, a pending-request
// map keyed by JSON-RPC id, a per-exec subscriber map, a single reader
// goroutine that routes responses to callers and broadcasts everything
// else) is adapted directly from the teacher's llm/codex/codex.go, which
// implements exactly this kind of request/response/notification
// multiplexing against a real subprocess (Codex's own app-server). Here the
// "thread"/"turn" vocabulary becomes "exec": one JSON-RPC exchange drives
// one external command instead of one model turn.
package shellsidecar

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/codex-core/codex-core/internal/jsonrpc"
)

// ErrNotSupported is returned for the minimal-spec operations execStdin and
// execResize, per §6.4 ("-32004 in the minimal spec").
var ErrNotSupported = jsonrpc.NewError(jsonrpc.CodeNotSupported, "not supported", nil)

// ErrUnknownExecID is the §6.1 -32002 error for an execId the sidecar never
// started. No Client method returns it; an error response from the sidecar
// comes back from call as a formatted error.
var ErrUnknownExecID = jsonrpc.NewError(jsonrpc.CodeUnknownExecID, "unknown execId", nil)

// ApprovalRequester is invoked once per unwrapped subcommand when the
// sidecar emits requestApproval. Returning an error denies the command.
type ApprovalRequester func(ctx context.Context, command []string, reason string) (decision string, err error)

// EventType discriminates ExecEvent.
type EventType string

const (
	EventExecStarted EventType = "execStarted"
	EventExecStdout  EventType = "execStdout"
	EventExecStderr  EventType = "execStderr"
	EventExecExited  EventType = "execExited"
)

// ExecEvent is one event in the stream returned by ExecStart. Events keep
// the order the sidecar sent them in; execExited is emitted at most once,
// as the last event (see ExecStart).
type ExecEvent struct {
	Type     EventType
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// process owns one running sidecar subprocess and its JSON-RPC framing.
type process struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdinMu sync.Mutex
	scanner *bufio.Scanner

	nextID atomic.Int64

	pendingMu sync.Mutex
	pending   map[string]chan jsonrpc.Message

	subsMu sync.Mutex
	subs   map[string]chan jsonrpc.Message // execId -> subscriber channel

	done chan struct{}

	logger *slog.Logger
}

func (p *process) subscribe(execID string) chan jsonrpc.Message {
	ch := make(chan jsonrpc.Message, 64)
	p.subsMu.Lock()
	p.subs[execID] = ch
	p.subsMu.Unlock()
	return ch
}

func (p *process) unsubscribe(execID string) {
	p.subsMu.Lock()
	delete(p.subs, execID)
	p.subsMu.Unlock()
}

// Client drives one sidecar subprocess.
type Client struct {
	Bin  string
	Args []string

	mu   sync.Mutex
	proc *process

	Logger *slog.Logger
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// ensureProcess starts the sidecar subprocess if not already running, and
// sends the initialize handshake. Must be called with c.mu held.
func (c *Client) ensureProcess(ctx context.Context, sessionID string) (*process, error) {
	if c.proc != nil {
		select {
		case <-c.proc.done:
			c.proc = nil
		default:
			return c.proc, nil
		}
	}

	cmd := exec.Command(c.Bin, c.Args...)
	cmd.Stderr = os.Stderr

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("sidecar stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		stdinPipe.Close()
		return nil, fmt.Errorf("sidecar stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdinPipe.Close()
		return nil, fmt.Errorf("sidecar start: %w", err)
	}

	p := &process{
		cmd:     cmd,
		stdin:   stdinPipe,
		scanner: bufio.NewScanner(stdoutPipe),
		pending: make(map[string]chan jsonrpc.Message),
		subs:    make(map[string]chan jsonrpc.Message),
		done:    make(chan struct{}),
		logger:  c.logger(),
	}
	p.scanner.Buffer(make([]byte, 0, 4*1024*1024), 16*1024*1024)

	go p.readLoop()

	c.proc = p

	if _, err := c.call(ctx, p, "initialize", map[string]string{"sessionId": sessionID}, nil, nil); err != nil {
		c.killLocked()
		return nil, fmt.Errorf("sidecar initialize: %w", err)
	}

	return p, nil
}

// readLoop routes responses to pending callers and broadcasts everything
// else by execId. A malformed frame from the sidecar is fatal: per §6.4
// "Malformed approval responses MUST terminate the sidecar" generalizes to
// any malformed frame breaking protocol sync.
func (p *process) readLoop() {
	defer close(p.done)
	for p.scanner.Scan() {
		line := p.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg jsonrpc.Message
		if err := json.Unmarshal(line, &msg); err != nil {
			p.logger.Warn("shellsidecar: unparseable line, terminating", "line", string(line), "error", err)
			return
		}
		if msg.IsResponse() {
			key := fmt.Sprint(msg.ID)
			p.pendingMu.Lock()
			ch, ok := p.pending[key]
			p.pendingMu.Unlock()
			if ok {
				ch <- msg
				continue
			}
		}
		var hint struct {
			ExecID string `json:"execId"`
		}
		if msg.Params != nil {
			_ = json.Unmarshal(msg.Params, &hint)
		}
		p.subsMu.Lock()
		ch := p.subs[hint.ExecID]
		p.subsMu.Unlock()
		if ch != nil {
			select {
			case ch <- msg:
			default:
				p.logger.Warn("shellsidecar: exec channel full, dropping", "method", msg.Method, "execId", hint.ExecID)
			}
		} else if hint.ExecID != "" {
			p.logger.Warn("shellsidecar: no subscriber for exec", "execId", hint.ExecID, "method", msg.Method)
		}
	}
	if err := p.scanner.Err(); err != nil {
		p.logger.Warn("shellsidecar: scanner error", "error", err)
	}
}

func (p *process) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	p.stdinMu.Lock()
	_, err = p.stdin.Write(data)
	p.stdinMu.Unlock()
	return err
}

// call sends a request and waits for the matching response. While waiting,
// notifications and server-initiated requests arriving on sub are passed to
// handler.
func (c *Client) call(ctx context.Context, p *process, method string, params any, sub chan jsonrpc.Message, handler func(jsonrpc.Message) error) (json.RawMessage, error) {
	id := p.nextID.Add(1)
	idStr := fmt.Sprint(id)

	respCh := make(chan jsonrpc.Message, 1)
	p.pendingMu.Lock()
	p.pending[idStr] = respCh
	p.pendingMu.Unlock()
	defer func() {
		p.pendingMu.Lock()
		delete(p.pending, idStr)
		p.pendingMu.Unlock()
	}()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	if err := p.send(jsonrpc.Request{ID: id, Method: method, Params: paramsJSON}); err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case msg := <-respCh:
			if msg.Error != nil {
				return nil, fmt.Errorf("sidecar %s error %d: %s", method, msg.Error.Code, msg.Error.Message)
			}
			return msg.Result, nil
		case msg, ok := <-sub:
			if !ok {
				return nil, fmt.Errorf("sidecar exited")
			}
			if handler != nil {
				if err := handler(msg); err != nil {
					return nil, err
				}
			}
		case <-p.done:
			return nil, fmt.Errorf("sidecar exited")
		}
	}
}

func (p *process) respondToRequest(id any, result any) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return p.send(jsonrpc.Response{ID: id, Result: resultJSON})
}

func (c *Client) killLocked() {
	if c.proc == nil {
		return
	}
	c.proc.stdin.Close()
	_ = c.proc.cmd.Process.Kill()
	_ = c.proc.cmd.Wait()
	c.proc = nil
}

// Close terminates the sidecar subprocess, if running.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.killLocked()
}
