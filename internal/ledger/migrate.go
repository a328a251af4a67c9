package ledger

import (
	"context"
	"fmt"

	"tgreddit/pkg/logx"
)

// Ordered schema steps. The sqlite user_version pragma records how many
// have been applied; each step runs in its own transaction together with
// the version bump. Never edit an existing step, only append.
var migrations = []string{
	`CREATE TABLE delivery(
		subreddit    TEXT NOT NULL,
		post_id      TEXT NOT NULL,
		chat_id      INTEGER NOT NULL,
		delivered_at TEXT NOT NULL,
		outcome      TEXT NOT NULL,
		PRIMARY KEY (subreddit, post_id, chat_id)
	) STRICT`,

	`ALTER TABLE delivery ADD COLUMN post_title TEXT NOT NULL DEFAULT ''`,

	`CREATE INDEX delivery_chat_subreddit ON delivery(chat_id, subreddit)`,
}

// Migrate brings the schema to the current version. It must run before any
// polling cycle starts; a failure here is fatal for the process, and a
// database from a newer build refuses to run.
func (s *Store) Migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version > len(migrations) {
		return fmt.Errorf("database schema version %d is newer than this build supports (%d)", version, len(migrations))
	}
	if version == len(migrations) {
		return nil
	}

	for i := version; i < len(migrations); i++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("bump schema version to %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
	}
	s.log.Info("ledger schema migrated", logx.Int("from", version), logx.Int("to", len(migrations)))
	return nil
}

// SchemaVersion returns the applied migration count (for diagnostics).
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v)
	return v, err
}
