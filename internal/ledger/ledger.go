// Package ledger is the durable record of delivered posts and the
// authority for deduplication.
//
// Writes are append-only: a delivery row is never updated or deleted.
// Existence checks are point lookups on the primary key. The store handles
// its own serialization; callers never hold an external lock.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"tgreddit/pkg/logx"
)

// ErrAlreadyDelivered is returned by MarkDelivered when a delivery row for
// the same (chat, subreddit, post) already exists.
var ErrAlreadyDelivered = errors.New("post already delivered")

// Outcome of a delivery row. Only delivered rows exist today; the column
// keeps the schema open for richer outcomes without another migration.
const OutcomeDelivered = "delivered"

type Store struct {
	db  *sql.DB
	log logx.Logger
}

// Open creates the database file (and its directory) if needed and applies
// pragmas. Call Migrate before first use.
func Open(path string, log logx.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if log.IsZero() {
		log = logx.Nop()
	}
	_, _ = db.Exec("PRAGMA busy_timeout = 5000")
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	return &Store{db: db, log: log}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Seen reports whether the post was already delivered to the chat. Point
// lookup on the primary key; runs once per candidate per cycle.
func (s *Store) Seen(ctx context.Context, chatID int64, subreddit, postID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM delivery
		  WHERE subreddit = ? AND post_id = ? AND chat_id = ? AND outcome = ?`,
		subreddit, postID, chatID, OutcomeDelivered,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ledger lookup: %w", err)
	}
	return true, nil
}

// MarkDelivered appends a delivery row. Returns ErrAlreadyDelivered if the
// row exists; any other error means the ledger could not be written and the
// post must not be considered safely delivered.
func (s *Store) MarkDelivered(ctx context.Context, chatID int64, subreddit, postID, title string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO delivery (subreddit, post_id, chat_id, delivered_at, outcome, post_title)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		subreddit, postID, chatID, at.UTC().Format(time.RFC3339), OutcomeDelivered, title,
	)
	if err != nil {
		return fmt.Errorf("ledger append: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ledger append: %w", err)
	}
	if n == 0 {
		return ErrAlreadyDelivered
	}
	return nil
}

// HasHistory reports whether any post from the subreddit was ever recorded
// for the chat. Used to detect a fresh subscription.
func (s *Store) HasHistory(ctx context.Context, chatID int64, subreddit string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM delivery WHERE chat_id = ? AND subreddit = ? LIMIT 1`,
		chatID, subreddit,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ledger lookup: %w", err)
	}
	return true, nil
}
