package shellsidecar

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/codex-core/codex-core/internal/jsonrpc"
)

// execStartParams mirrors the teacher's turnStartParams shape, narrowed to
// what an exec needs: an argv, a working directory, an environment overlay,
// and an optional human-facing reason shown alongside any approval prompt.
type execStartParams struct {
	ExecID         string            `json:"execId"`
	Argv           []string          `json:"argv"`
	Cwd            string            `json:"cwd,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	ApprovalReason string            `json:"approvalReason,omitempty"`
}

type execStartedNotification struct {
	ExecID string `json:"execId"`
}

type execOutputNotification struct {
	ExecID string `json:"execId"`
	Chunk  string `json:"chunk"`
}

type execExitedNotification struct {
	ExecID   string `json:"execId"`
	ExitCode int    `json:"exitCode"`
}

type requestApprovalParams struct {
	ExecID  string   `json:"execId"`
	Command []string `json:"command"`
	Reason  string   `json:"reason,omitempty"`
}

type requestApprovalResult struct {
	Decision string `json:"decision"`
}

// Initialize starts (or reuses) the sidecar subprocess and performs the
// initialize(sessionId) handshake described in §6.4.
func (c *Client) Initialize(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.ensureProcess(ctx, sessionID)
	return err
}

// ExecStart starts argv as a subprocess inside the sidecar and streams its
// lifecycle on the returned channel: events are passed on in the order the
// sidecar sends them, and execExited, when it arrives, is the last event
// and closes the channel. If ctx ends or the sidecar exits first, the
// channel closes without an execExited. approve is invoked once
// per unwrapped subcommand whenever the sidecar asks requestApproval; the
// sidecar's own re-exec of its shell wrapper must not trigger a callback —
// that invariant is enforced by the sidecar itself, not this client.
func (c *Client) ExecStart(ctx context.Context, sessionID, execID string, argv []string, cwd string, env map[string]string, approvalReason string, approve ApprovalRequester) (<-chan ExecEvent, error) {
	c.mu.Lock()
	p, err := c.ensureProcess(ctx, sessionID)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	sub := p.subscribe(execID)
	out := make(chan ExecEvent, 64)

	id := p.nextID.Add(1)
	idStr := fmt.Sprint(id)
	respCh := make(chan jsonrpc.Message, 1)
	p.pendingMu.Lock()
	p.pending[idStr] = respCh
	p.pendingMu.Unlock()

	params, err := json.Marshal(execStartParams{
		ExecID:         execID,
		Argv:           argv,
		Cwd:            cwd,
		Env:            env,
		ApprovalReason: approvalReason,
	})
	if err != nil {
		p.unsubscribe(execID)
		return nil, err
	}
	if err := p.send(jsonrpc.Request{ID: id, Method: "execStart", Params: params}); err != nil {
		p.unsubscribe(execID)
		return nil, fmt.Errorf("send execStart: %w", err)
	}

	go c.pumpExec(ctx, p, execID, sub, out, approve)

	return out, nil
}

// pumpExec routes every message tagged with execID to an ExecEvent on out,
// answering requestApproval callbacks inline, until execExited arrives or
// the sidecar dies.
func (c *Client) pumpExec(ctx context.Context, p *process, execID string, sub chan jsonrpc.Message, out chan<- ExecEvent, approve ApprovalRequester) {
	defer close(out)
	defer p.unsubscribe(execID)

	startedSeen := false

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case msg, ok := <-sub:
			if !ok {
				return
			}
			switch msg.Method {
			case "execStarted":
				startedSeen = true
				out <- ExecEvent{Type: EventExecStarted}
			case "execStdout":
				var n execOutputNotification
				if err := json.Unmarshal(msg.Params, &n); err != nil {
					p.logger.Warn("shellsidecar: malformed execStdout", "error", err)
					continue
				}
				out <- ExecEvent{Type: EventExecStdout, Stdout: []byte(n.Chunk)}
			case "execStderr":
				var n execOutputNotification
				if err := json.Unmarshal(msg.Params, &n); err != nil {
					p.logger.Warn("shellsidecar: malformed execStderr", "error", err)
					continue
				}
				out <- ExecEvent{Type: EventExecStderr, Stderr: []byte(n.Chunk)}
			case "execExited":
				var n execExitedNotification
				if err := json.Unmarshal(msg.Params, &n); err != nil {
					p.logger.Warn("shellsidecar: malformed execExited", "error", err)
					out <- ExecEvent{Type: EventExecExited, ExitCode: -1}
					return
				}
				_ = startedSeen
				out <- ExecEvent{Type: EventExecExited, ExitCode: n.ExitCode}
				return
			case "requestApproval":
				c.handleRequestApproval(ctx, p, msg, approve)
			}
		}
	}
}

// handleRequestApproval answers a server-initiated requestApproval call. A
// malformed request (missing execId/command) terminates the sidecar, per
// §6.4's "malformed approval responses MUST terminate the sidecar"; an
// approve callback that errors, or a nil approve, answers "denied".
func (c *Client) handleRequestApproval(ctx context.Context, p *process, msg jsonrpc.Message, approve ApprovalRequester) {
	var params requestApprovalParams
	if err := json.Unmarshal(msg.Params, &params); err != nil || params.ExecID == "" || len(params.Command) == 0 {
		p.logger.Warn("shellsidecar: malformed requestApproval, terminating", "error", err)
		c.Close()
		return
	}

	var decision string
	var err error
	if approve != nil {
		decision, err = approve(ctx, params.Command, params.Reason)
	} else {
		decision, err = "denied", nil
	}
	if err != nil {
		decision = "denied"
	}

	if sendErr := p.respondToRequest(msg.ID, requestApprovalResult{Decision: decision}); sendErr != nil {
		p.logger.Warn("shellsidecar: failed to answer requestApproval", "error", sendErr)
	}
}

// ExecInterrupt asks the sidecar to interrupt a running exec.
func (c *Client) ExecInterrupt(ctx context.Context, sessionID, execID string) error {
	c.mu.Lock()
	p, err := c.ensureProcess(ctx, sessionID)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	_, err = c.call(ctx, p, "execInterrupt", map[string]string{"execId": execID}, nil, nil)
	return err
}

// ExecStdin is not supported in the minimal protocol; per §6.4 it always
// fails with -32004.
func (c *Client) ExecStdin(ctx context.Context, execID string, data []byte) error {
	return ErrNotSupported
}

// ExecResize is not supported in the minimal protocol; per §6.4 it always
// fails with -32004.
func (c *Client) ExecResize(ctx context.Context, execID string, cols, rows int) error {
	return ErrNotSupported
}
