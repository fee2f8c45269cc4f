// Package scheduler implements component F, the Background Task & Subagent
// Scheduler: the BackgroundShell lifecycle, read-and-clear output
// buffering, cleanup sweeps, and the spawn_agent plumbing tools use to
// start subagents without a direct dependency on the Session/Turn Engine.
//
// Process spawning is grounded in the teacher's pty terminal handler
// pattern seen in the broader example pack (github.com/creack/pty start +
// a reader goroutine feeding a buffer), and shell ids come from
// internal/ids.NewShellID in the shell-<uuid> form.
package scheduler

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"sync"
	"time"

	"github.com/creack/pty"

	"github.com/codex-core/codex-core/internal/ids"
)

// Status is a BackgroundShell's lifecycle state. Transitions are single
// direction only, per spec.md §4.F.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusKilled    Status = "killed"
	StatusTimeout   Status = "timeout"
)

// BackgroundShell is one tracked subprocess, per spec.md §3's
// BackgroundShell type.
type BackgroundShell struct {
	ShellID        string
	ConversationID string
	Command        []string
	Description    string
	UsePTY         bool

	CreatedAt time.Time
	Notified  bool

	mu       sync.Mutex
	status   Status
	exitCode *int

	stdout *streamBuffer
	stderr *streamBuffer

	cancel context.CancelFunc
	ctx    context.Context

	done chan struct{} // closed when the process has exited or been killed
	cmd  *exec.Cmd
	ptmx io.ReadCloser
}

func (s *BackgroundShell) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *BackgroundShell) ExitCode() *int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode
}

func (s *BackgroundShell) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

func (s *BackgroundShell) setExitCode(code int) {
	s.mu.Lock()
	s.exitCode = &code
	s.mu.Unlock()
}

// Store owns every BackgroundShell known to the process, indexed for
// lookup by id and by owning conversation.
type Store struct {
	mu     sync.RWMutex
	shells map[string]*BackgroundShell
}

func NewStore() *Store {
	return &Store{shells: make(map[string]*BackgroundShell)}
}

// RegisterPending creates a new BackgroundShell in Pending state, per
// spec.md §4.F step 1. The returned shell's stdout/stderr buffers are
// already allocated; Start wires them to the process it spawns.
func (st *Store) RegisterPending(conversationID string, command []string, description string) *BackgroundShell {
	ctx, cancel := context.WithCancel(context.Background())
	s := &BackgroundShell{
		ShellID:        ids.NewShellID(),
		ConversationID: conversationID,
		Command:        command,
		Description:    description,
		CreatedAt:      time.Now(),
		status:         StatusPending,
		stdout:         &streamBuffer{},
		stderr:         &streamBuffer{},
		cancel:         cancel,
		ctx:            ctx,
		done:           make(chan struct{}),
	}
	st.mu.Lock()
	st.shells[s.ShellID] = s
	st.mu.Unlock()
	return s
}

// Start spawns the shell's command and transitions it Pending → Running,
// per spec.md §4.F step 2 ("caller spawns the process wired to the
// returned buffers; calls set_running"). usePTY routes the process
// through github.com/creack/pty instead of plain os/exec pipes — used for
// tools that request pty:true (SPEC_FULL.md §4.F).
func (st *Store) Start(s *BackgroundShell, usePTY bool) error {
	if len(s.Command) == 0 {
		return fmt.Errorf("scheduler: empty command")
	}
	s.UsePTY = usePTY
	cmd := exec.CommandContext(s.ctx, s.Command[0], s.Command[1:]...)
	s.cmd = cmd

	if usePTY {
		ptmx, err := pty.Start(cmd)
		if err != nil {
			s.setStatus(StatusFailed)
			close(s.done)
			return fmt.Errorf("scheduler: pty start: %w", err)
		}
		s.ptmx = ptmx
		s.setStatus(StatusRunning)
		go s.readPTY(ptmx)
		go s.waitProcess()
		return nil
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.setStatus(StatusFailed)
		close(s.done)
		return fmt.Errorf("scheduler: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.setStatus(StatusFailed)
		close(s.done)
		return fmt.Errorf("scheduler: stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		s.setStatus(StatusFailed)
		close(s.done)
		return fmt.Errorf("scheduler: start: %w", err)
	}
	s.setStatus(StatusRunning)
	go copyInto(s.stdout, stdout)
	go copyInto(s.stderr, stderr)
	go s.waitProcess()
	return nil
}

func copyInto(dst *streamBuffer, src io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			dst.Write(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func (s *BackgroundShell) readPTY(ptmx io.Reader) {
	copyInto(s.stdout, ptmx)
}

func (s *BackgroundShell) waitProcess() {
	err := s.cmd.Wait()
	if s.ptmx != nil {
		s.ptmx.Close()
	}

	s.mu.Lock()
	current := s.status
	s.mu.Unlock()

	switch {
	case current == StatusKilled || current == StatusTimeout:
		// already terminal; leave as-is
	case s.ctx.Err() != nil:
		s.setStatus(StatusKilled)
	case err != nil:
		s.setStatus(StatusFailed)
		if exitErr, ok := err.(*exec.ExitError); ok {
			s.setExitCode(exitErr.ExitCode())
		} else {
			s.setExitCode(-1)
		}
	default:
		s.setStatus(StatusCompleted)
		s.setExitCode(0)
	}
	close(s.done)
}

// Kill cancels the shell's process and transitions it to Killed, per
// spec.md §4.F step 4.
func (st *Store) Kill(shellID string) error {
	s, ok := st.Get(shellID)
	if !ok {
		return fmt.Errorf("scheduler: unknown shell %q", shellID)
	}
	s.mu.Lock()
	if s.status != StatusPending && s.status != StatusRunning {
		s.mu.Unlock()
		return nil
	}
	wasPending := s.status == StatusPending
	s.status = StatusKilled
	s.mu.Unlock()

	s.cancel()
	if wasPending {
		close(s.done)
		return nil
	}
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	return nil
}

// Get looks up a shell by id.
func (st *Store) Get(shellID string) (*BackgroundShell, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.shells[shellID]
	return s, ok
}

// GetOutputResult is the return shape of GetOutput, per spec.md §4.F step
// 3.
type GetOutputResult struct {
	Status   Status
	Stdout   string
	Stderr   string
	ExitCode *int
	HasMore  bool
}

// GetOutput implements spec.md §4.F step 3: non-blocking drains up to
// limit bytes per stream at UTF-8 boundaries; blocking awaits completion or
// the deadline, transitioning to Timeout if the deadline elapses first.
func (st *Store) GetOutput(ctx context.Context, shellID string, block bool, timeout time.Duration, filter *regexp.Regexp, limit int) (GetOutputResult, error) {
	s, ok := st.Get(shellID)
	if !ok {
		return GetOutputResult{}, fmt.Errorf("scheduler: unknown shell %q", shellID)
	}

	if block {
		if err := s.awaitCompletionOrTimeout(ctx, timeout); err != nil {
			return GetOutputResult{}, err
		}
	}

	outBytes, outTrunc := s.stdout.drain(limit)
	errBytes, errTrunc := s.stderr.drain(limit)

	stdout := filterLines(string(outBytes), filter)
	stderr := filterLines(string(errBytes), filter)

	status := s.Status()
	hasMore := status == StatusPending || status == StatusRunning || outTrunc || errTrunc

	return GetOutputResult{
		Status:   status,
		Stdout:   stdout,
		Stderr:   stderr,
		ExitCode: s.ExitCode(),
		HasMore:  hasMore,
	}, nil
}

// awaitCompletionOrTimeout selects over the shell's join signal, the
// caller's context, and an optional timeout, per spec.md §5's "Background
// shells observe cancellation by get_output's select over {join_handle,
// sleep(timeout), cancel_token}." On deadline it transitions the shell to
// Timeout rather than returning an error, per §4.F step 3.
func (s *BackgroundShell) awaitCompletionOrTimeout(ctx context.Context, timeout time.Duration) error {
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timeoutCh:
		s.setStatus(StatusTimeout)
		return nil
	}
}

// TakeAll drains both streams completely and reports the cumulative bytes
// dropped by the output cap, per spec.md §4.F's buffering contract.
func (st *Store) TakeAll(shellID string) (stdout, stderr []byte, dropped uint64, err error) {
	s, ok := st.Get(shellID)
	if !ok {
		return nil, nil, 0, fmt.Errorf("scheduler: unknown shell %q", shellID)
	}
	var outDropped, errDropped uint64
	stdout, outDropped = s.stdout.takeAll()
	stderr, errDropped = s.stderr.takeAll()
	return stdout, stderr, outDropped + errDropped, nil
}

// CleanupByConversation kills and removes every shell owned by conv, per
// spec.md §4.F ("cleanup_by_conversation(conv_id): kills all
// pending/running shells owned by the conversation, then removes them").
func (st *Store) CleanupByConversation(conv string) {
	st.mu.Lock()
	var owned []string
	for id, s := range st.shells {
		if s.ConversationID == conv {
			owned = append(owned, id)
		}
	}
	st.mu.Unlock()

	for _, id := range owned {
		_ = st.Kill(id)
	}

	st.mu.Lock()
	for _, id := range owned {
		delete(st.shells, id)
	}
	st.mu.Unlock()
}

// CleanupOld removes finished shells older than maxAge, and purges stale
// Pending shells older than 5 minutes, per spec.md §4.F.
func (st *Store) CleanupOld(maxAge time.Duration) {
	const stalePendingAge = 5 * time.Minute
	now := time.Now()

	st.mu.Lock()
	defer st.mu.Unlock()
	for id, s := range st.shells {
		age := now.Sub(s.CreatedAt)
		switch s.Status() {
		case StatusCompleted, StatusFailed, StatusKilled, StatusTimeout:
			if age > maxAge {
				delete(st.shells, id)
			}
		case StatusPending:
			if age > stalePendingAge {
				s.setStatus(StatusKilled)
				delete(st.shells, id)
			}
		}
	}
}
