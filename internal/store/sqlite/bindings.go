// Package sqlite provides an embedded SQLite binding store built on the pure-Go
// modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/XuF163/dingbridge/internal/store"
)

const schema = `CREATE TABLE IF NOT EXISTS dingtalk_webhook_bindings (
	account_id TEXT NOT NULL,
	group_id   TEXT NOT NULL,
	webhook    TEXT NOT NULL,
	secret     TEXT NOT NULL DEFAULT '',
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (account_id, group_id)
)`

// BindingStore implements store.WebhookBindingStore on a single SQLite file.
type BindingStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.WebhookBindingStore = (*BindingStore)(nil)

// Open opens (creating if needed) the database at path and ensures the
// bindings table exists. ":memory:" is accepted for tests.
func Open(path string) (*BindingStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: writes are serialized and ":memory:" stays a single database.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create bindings table: %w", err)
	}
	return &BindingStore{db: db, now: time.Now}, nil
}

func (s *BindingStore) Bind(ctx context.Context, accountID, groupID, webhook, secret string) error {
	groupID, webhook, secret, err := store.NormalizeBinding(groupID, webhook, secret)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO dingtalk_webhook_bindings (account_id, group_id, webhook, secret, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (account_id, group_id) DO UPDATE
		 SET webhook = excluded.webhook, secret = excluded.secret, updated_at = excluded.updated_at`,
		accountID, groupID, webhook, secret, s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert binding: %w", err)
	}
	return nil
}

func (s *BindingStore) Unbind(ctx context.Context, accountID, groupID string) (bool, error) {
	groupID = strings.TrimSpace(groupID)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM dingtalk_webhook_bindings WHERE account_id = ? AND group_id = ?`,
		accountID, groupID,
	)
	if err != nil {
		return false, fmt.Errorf("delete binding: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *BindingStore) Lookup(ctx context.Context, accountID, groupID string) (*store.WebhookBinding, error) {
	groupID = strings.TrimSpace(groupID)
	var b store.WebhookBinding
	err := s.db.QueryRowContext(ctx,
		`SELECT webhook, secret, updated_at FROM dingtalk_webhook_bindings
		 WHERE account_id = ? AND group_id = ?`,
		accountID, groupID,
	).Scan(&b.Webhook, &b.Secret, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup binding: %w", err)
	}
	if b.Webhook == "" {
		return nil, nil
	}
	return &b, nil
}

func (s *BindingStore) List(ctx context.Context, accountID string) ([]store.WebhookBindingEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT account_id, group_id, webhook, secret, updated_at FROM dingtalk_webhook_bindings
		 WHERE ? = '' OR account_id = ?
		 ORDER BY account_id, group_id`,
		accountID, accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("list bindings: %w", err)
	}
	defer rows.Close()

	var out []store.WebhookBindingEntry
	for rows.Next() {
		var e store.WebhookBindingEntry
		if err := rows.Scan(&e.AccountID, &e.GroupID, &e.Webhook, &e.Secret, &e.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *BindingStore) Close() error { return s.db.Close() }
