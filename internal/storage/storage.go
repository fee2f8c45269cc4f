// Package storage persists the overflow data spec.md §6.5 describes:
// large tool results and pre-compaction conversation history, keyed by
// conversation id and content hash, backed by a single SQLite database
// under CODEX_HOME rather than loose files on disk.
//
// Grounded on the oubliette example's schedule.Store: open one
// *sql.DB against modernc.org/sqlite with WAL mode and a busy timeout,
// migrate with a static CREATE TABLE IF NOT EXISTS schema, and wrap
// multi-statement writes in a transaction.
package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a side file or history snapshot isn't present.
var ErrNotFound = errors.New("storage: not found")

// Store is the session database living at CODEX_HOME/session.db.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and migrates the session database under dataDir.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("storage: create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "session.db")
	db, err := sql.Open("sqlite", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS side_files (
		conversation_id TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		content BLOB NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (conversation_id, content_hash)
	);
	CREATE INDEX IF NOT EXISTS idx_side_files_conversation ON side_files(conversation_id);

	CREATE TABLE IF NOT EXISTS history_snapshots (
		conversation_id TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		content BLOB NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (conversation_id, sequence)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// PutSideFile stores content under conversationID, keyed by its sha256 hash,
// and returns a pointer string the in-history entry can keep in place of the
// full content (spec.md §6.5: "the in-history entry keeps only a preview
// plus a pointer").
func (s *Store) PutSideFile(ctx context.Context, conversationID string, content []byte) (pointer string, err error) {
	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])

	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO side_files (conversation_id, content_hash, content) VALUES (?, ?, ?)`,
		conversationID, hash, content,
	)
	if err != nil {
		return "", fmt.Errorf("storage: put side file: %w", err)
	}
	return conversationID + ":" + hash, nil
}

// GetSideFile retrieves content previously stored by PutSideFile, given the
// conversation id and content hash (the two halves of the pointer
// PutSideFile returns, separated by ':').
func (s *Store) GetSideFile(ctx context.Context, conversationID, hash string) ([]byte, error) {
	var content []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM side_files WHERE conversation_id = ? AND content_hash = ?`,
		conversationID, hash,
	).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get side file: %w", err)
	}
	return content, nil
}

// PutHistorySnapshot persists a pre-compaction history blob (already
// JSON-encoded by the caller) so a reattaching client can page back through
// the full transcript after compaction (spec.md §4.C supplement).
func (s *Store) PutHistorySnapshot(ctx context.Context, conversationID string, content []byte) error {
	var seq int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM history_snapshots WHERE conversation_id = ?`,
		conversationID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("storage: next snapshot sequence: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO history_snapshots (conversation_id, sequence, content) VALUES (?, ?, ?)`,
		conversationID, seq, content,
	)
	if err != nil {
		return fmt.Errorf("storage: put history snapshot: %w", err)
	}
	return nil
}

// ListHistorySnapshots returns every pre-compaction snapshot for
// conversationID, oldest first.
func (s *Store) ListHistorySnapshots(ctx context.Context, conversationID string) ([][]byte, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT content FROM history_snapshots WHERE conversation_id = ? ORDER BY sequence ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list history snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out [][]byte
	for rows.Next() {
		var content []byte
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("storage: scan history snapshot: %w", err)
		}
		out = append(out, content)
	}
	return out, rows.Err()
}

// DeleteConversation removes every side file and history snapshot belonging
// to conversationID, per spec.md §8 invariant 3's teardown guarantee.
func (s *Store) DeleteConversation(ctx context.Context, conversationID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin teardown tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM side_files WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("storage: delete side files: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM history_snapshots WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("storage: delete history snapshots: %w", err)
	}
	return tx.Commit()
}

// SideFileThreshold is the size in bytes past which a tool result is
// persisted as a side file rather than kept inline, per spec.md §6.5.
// Pre-compaction history snapshots are stored whatever their size.
const SideFileThreshold = 32 * 1024
