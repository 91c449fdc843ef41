package file

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/XuF163/dingbridge/internal/store"
)

const bindingFileVersion = 1

type bindingFile struct {
	Version int                             `json:"version"`
	Items   map[string]store.WebhookBinding `json:"items"`
}

// BindingStore is a JSON-file WebhookBindingStore. Each mutation rewrites the
// whole file to "<path>.<unixms>.tmp" and renames it over path, so readers
// only ever see a complete file.
type BindingStore struct {
	path string
	now  func() time.Time

	mu    sync.Mutex
	items map[string]store.WebhookBinding
}

var _ store.WebhookBindingStore = (*BindingStore)(nil)

// NewBindingStore opens (or starts) the store at path, creating its directory.
// A malformed or wrong-version file loads as an empty store.
func NewBindingStore(path string) (*BindingStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create bindings dir: %w", err)
	}
	s := &BindingStore{
		path:  path,
		now:   time.Now,
		items: make(map[string]store.WebhookBinding),
	}
	s.load()
	return s, nil
}

// Path returns the canonical file path.
func (s *BindingStore) Path() string { return s.path }

func (s *BindingStore) load() {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("webhook bindings unreadable, starting empty", "path", s.path, "error", err)
		}
		return
	}
	if len(raw) == 0 {
		return
	}
	var f bindingFile
	if err := json.Unmarshal(raw, &f); err != nil {
		slog.Warn("webhook bindings malformed, starting empty", "path", s.path, "error", err)
		return
	}
	if f.Version != bindingFileVersion || f.Items == nil {
		slog.Warn("webhook bindings version mismatch, starting empty", "path", s.path, "version", f.Version)
		return
	}
	s.items = f.Items
}

// save writes items atomically. Must be called with s.mu held.
func (s *BindingStore) save(items map[string]store.WebhookBinding) error {
	data, err := json.MarshalIndent(bindingFile{Version: bindingFileVersion, Items: items}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal bindings: %w", err)
	}

	tmp := fmt.Sprintf("%s.%d.tmp", s.path, s.now().UnixMilli())
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("create temp bindings file: %w", err)
	}
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmp)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write temp bindings file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync temp bindings file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp bindings file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("commit bindings file: %w", err)
	}
	cleanup = false
	return nil
}

func (s *BindingStore) Bind(_ context.Context, accountID, groupID, webhook, secret string) error {
	groupID, webhook, secret, err := store.NormalizeBinding(groupID, webhook, secret)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := maps.Clone(s.items)
	next[store.BindingKey(accountID, groupID)] = store.WebhookBinding{
		Webhook:   webhook,
		Secret:    secret,
		UpdatedAt: s.now().UnixMilli(),
	}
	if err := s.save(next); err != nil {
		return err
	}
	s.items = next
	return nil
}

func (s *BindingStore) Unbind(_ context.Context, accountID, groupID string) (bool, error) {
	groupID = strings.TrimSpace(groupID)
	key := store.BindingKey(accountID, groupID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[key]; !ok {
		return false, nil
	}
	next := maps.Clone(s.items)
	delete(next, key)
	if err := s.save(next); err != nil {
		return false, err
	}
	s.items = next
	return true, nil
}

func (s *BindingStore) Lookup(_ context.Context, accountID, groupID string) (*store.WebhookBinding, error) {
	groupID = strings.TrimSpace(groupID)
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.items[store.BindingKey(accountID, groupID)]
	if !ok || b.Webhook == "" {
		return nil, nil
	}
	return &b, nil
}

func (s *BindingStore) List(_ context.Context, accountID string) ([]store.WebhookBindingEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.WebhookBindingEntry
	for key, b := range s.items {
		acc, group, ok := store.ParseBindingKey(key)
		if !ok || (accountID != "" && acc != accountID) {
			continue
		}
		out = append(out, store.WebhookBindingEntry{AccountID: acc, GroupID: group, WebhookBinding: b})
	}
	store.SortEntries(out)
	return out, nil
}

func (s *BindingStore) Close() error { return nil }
