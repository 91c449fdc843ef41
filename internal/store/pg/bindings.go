package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/XuF163/dingbridge/internal/store"
)

// PGBindingStore implements store.WebhookBindingStore backed by Postgres.
type PGBindingStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.WebhookBindingStore = (*PGBindingStore)(nil)

func NewPGBindingStore(db *sql.DB) *PGBindingStore {
	return &PGBindingStore{db: db, now: time.Now}
}

func (s *PGBindingStore) Bind(ctx context.Context, accountID, groupID, webhook, secret string) error {
	groupID, webhook, secret, err := store.NormalizeBinding(groupID, webhook, secret)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO dingtalk_webhook_bindings (account_id, group_id, webhook, secret, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (account_id, group_id) DO UPDATE
		 SET webhook = EXCLUDED.webhook, secret = EXCLUDED.secret, updated_at = EXCLUDED.updated_at`,
		accountID, groupID, webhook, secret, s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert binding: %w", err)
	}
	return nil
}

func (s *PGBindingStore) Unbind(ctx context.Context, accountID, groupID string) (bool, error) {
	groupID = strings.TrimSpace(groupID)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM dingtalk_webhook_bindings WHERE account_id = $1 AND group_id = $2`,
		accountID, groupID,
	)
	if err != nil {
		return false, fmt.Errorf("delete binding: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *PGBindingStore) Lookup(ctx context.Context, accountID, groupID string) (*store.WebhookBinding, error) {
	groupID = strings.TrimSpace(groupID)
	var b store.WebhookBinding
	err := s.db.QueryRowContext(ctx,
		`SELECT webhook, secret, updated_at FROM dingtalk_webhook_bindings
		 WHERE account_id = $1 AND group_id = $2`,
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

func (s *PGBindingStore) List(ctx context.Context, accountID string) ([]store.WebhookBindingEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT account_id, group_id, webhook, secret, updated_at FROM dingtalk_webhook_bindings
		 WHERE $1::text = '' OR account_id = $1
		 ORDER BY account_id, group_id`,
		accountID,
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

func (s *PGBindingStore) Close() error { return s.db.Close() }
