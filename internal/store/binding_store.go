// Package store defines persistence contracts. Backends live in subpackages:
// file (JSON, atomic rename), sqlite and pg.
package store

import (
	"context"
	"errors"
	"sort"
	"strings"
)

// ErrInvalidBinding is returned when a binding lacks a group id or webhook.
var ErrInvalidBinding = errors.New("invalid webhook binding")

// WebhookBinding is an operator-configured webhook for one group.
type WebhookBinding struct {
	Webhook   string `json:"webhook"`
	Secret    string `json:"secret,omitempty"`
	UpdatedAt int64  `json:"updatedAt"` // unix ms
}

// WebhookBindingEntry is a binding with its key.
type WebhookBindingEntry struct {
	AccountID string `json:"accountId"`
	GroupID   string `json:"groupId"`
	WebhookBinding
}

// WebhookBindingStore persists (account, group) → webhook bindings.
// Every mutation is durable before the call returns.
type WebhookBindingStore interface {
	// Bind creates or overwrites a binding. webhook and secret are trimmed.
	Bind(ctx context.Context, accountID, groupID, webhook, secret string) error
	// Unbind deletes a binding and reports whether it existed.
	Unbind(ctx context.Context, accountID, groupID string) (bool, error)
	// Lookup returns the binding, or nil when absent or its webhook is empty.
	Lookup(ctx context.Context, accountID, groupID string) (*WebhookBinding, error)
	// List returns bindings for accountID (all accounts when empty), sorted.
	List(ctx context.Context, accountID string) ([]WebhookBindingEntry, error)
	Close() error
}

// BindingKey is the composite key used by the JSON file format.
func BindingKey(accountID, groupID string) string {
	return accountID + "|group|" + groupID
}

// ParseBindingKey splits a BindingKey. ok is false for foreign keys.
func ParseBindingKey(key string) (accountID, groupID string, ok bool) {
	return strings.Cut(key, "|group|")
}

// NormalizeBinding trims inputs and validates the required fields.
func NormalizeBinding(groupID, webhook, secret string) (string, string, string, error) {
	groupID = strings.TrimSpace(groupID)
	webhook = strings.TrimSpace(webhook)
	secret = strings.TrimSpace(secret)
	if groupID == "" {
		return "", "", "", errors.Join(ErrInvalidBinding, errors.New("groupId is required"))
	}
	if webhook == "" {
		return "", "", "", errors.Join(ErrInvalidBinding, errors.New("webhook is required"))
	}
	return groupID, webhook, secret, nil
}

// SortEntries orders entries by account then group.
func SortEntries(entries []WebhookBindingEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].AccountID != entries[j].AccountID {
			return entries[i].AccountID < entries[j].AccountID
		}
		return entries[i].GroupID < entries[j].GroupID
	})
}
