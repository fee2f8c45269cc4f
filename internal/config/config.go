// Package config implements the layered TOML configuration the Message
// Processor's config CRUD operations read and write (spec.md §4.B,
// §6.2's configRead/configValueWrite/configBatchWrite/
// configRequirementsRead), watched with fsnotify so external edits produce
// event/configWarning notifications without a restart (SPEC_FULL.md §4.B).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/codex-core/codex-core/internal/policy"
)

// Config is the effective configuration for one codex-core process: the
// default approval posture/sandbox scope for new conversations, plus
// process-wide knobs. Individual conversations may override Approval/
// Sandbox at newConversation time (spec.md §3's PermissionMode).
type Config struct {
	Approval policy.ApprovalMode  `toml:"approval_mode"`
	Sandbox  policy.SandboxPolicy `toml:"sandbox_policy"`

	// ExperimentalAPIEnabled gates feature-gated operations per connection
	// unless the connection's own initialize capabilities override it;
	// this is the process-wide default.
	ExperimentalAPIEnabled bool `toml:"experimental_api_enabled"`

	// CompactionThreshold is the default history-item count past which a
	// new conversation compacts, absent a per-conversation override.
	CompactionThreshold int `toml:"compaction_threshold"`

	// Model is the default model_info identifier new conversations stream
	// against (component D).
	Model string `toml:"model"`
}

// Default returns the configuration a freshly-initialized CODEX_HOME gets
// when no config.toml exists yet.
func Default() Config {
	return Config{
		Approval:            policy.ApprovalModeOnRequest,
		Sandbox:             policy.SandboxWorkspaceWrite,
		CompactionThreshold: 200,
		Model:               "gpt-5-codex",
	}
}

// Warning describes a non-fatal config problem surfaced to the
// event/configWarning notification channel (spec.md §7's "User-visible
// surface"), with a path plus 1-based line/column range when available.
type Warning struct {
	Path   string
	Line   int // 1-based; 0 if unknown
	Column int // 1-based; 0 if unknown
	Detail string
}

func (w Warning) String() string {
	if w.Line == 0 {
		return fmt.Sprintf("%s: %s", w.Path, w.Detail)
	}
	return fmt.Sprintf("%s:%d:%d: %s", w.Path, w.Line, w.Column, w.Detail)
}

// Store owns the on-disk config.toml under CODEX_HOME and the effective,
// in-memory Config parsed from it. Reads/writes are synchronous and
// in-process, per spec.md §4.B's "Config CRUD ... handled in-process,
// synchronous."
type Store struct {
	path string

	mu      sync.RWMutex
	current Config
}

// Open loads path (creating it with Default() contents if absent) into a
// Store. dir must already exist; it's the caller's CODEX_HOME.
func Open(dir string) (*Store, error) {
	path := filepath.Join(dir, "config.toml")

	s := &Store{path: path, current: Default()}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.writeLocked(s.current); err != nil {
			return nil, err
		}
		return s, nil
	}

	if _, err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Current returns a copy of the effective configuration.
func (s *Store) Current() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// reload re-parses config.toml from disk, reporting a Warning instead of
// failing outright on malformed TOML (matching spec.md §7's "invalid TOML
// layers" warning path; the previously-loaded config is kept in that case).
func (s *Store) reload() (*Warning, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", s.path, err)
	}

	var parsed Config
	_, err = toml.Decode(string(data), &parsed)
	if err != nil {
		if perr, ok := err.(toml.ParseError); ok {
			return &Warning{Path: s.path, Line: perr.Position.Line, Column: perr.Position.Col, Detail: perr.Error()}, nil
		}
		return &Warning{Path: s.path, Detail: err.Error()}, nil
	}

	s.mu.Lock()
	s.current = parsed
	s.mu.Unlock()
	return nil, nil
}

// WriteValue applies a single key/value write (configValueWrite) and
// persists the result.
func (s *Store) WriteValue(apply func(*Config)) error {
	s.mu.Lock()
	next := s.current
	apply(&next)
	s.current = next
	s.mu.Unlock()
	return s.writeLocked(next)
}

func (s *Store) writeLocked(c Config) error {
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("config: open %s for write: %w", s.path, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	return nil
}

// Path returns the on-disk path this Store watches and writes.
func (s *Store) Path() string { return s.path }
