package dingtalk

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/XuF163/dingbridge/internal/bus"
	"github.com/XuF163/dingbridge/internal/channels"
	"github.com/XuF163/dingbridge/internal/config"
	"github.com/XuF163/dingbridge/internal/store"
)

// ServiceOptions are the process-wide collaborators shared by all bots.
type ServiceOptions struct {
	Bus       bus.MessageRouter
	Events    bus.EventPublisher
	Manager   *channels.Manager // nil for one-shot CLI use
	Bindings  store.WebhookBindingStore
	PublicURL PublicURLUploader

	OpenAPIBaseURL string
	OAPIBaseURL    string
}

// Service owns every DingTalk bot of the process plus the state they share:
// the session webhook cache and the webhook binding store. Construct one at
// startup and pass it to whoever needs it.
type Service struct {
	opts     ServiceOptions
	sessions *SessionWebhookCache
	cfg      *config.Config

	mu   sync.RWMutex
	bots map[string]*Bot
}

// NewService creates an empty registry.
func NewService(opts ServiceOptions) *Service {
	return &Service{
		opts:     opts,
		sessions: NewSessionWebhookCache(),
		bots:     make(map[string]*Bot),
	}
}

// ValidateAccount trims the identity fields and requires accountId,
// clientId and clientSecret.
func ValidateAccount(a config.DingTalkAccount) (config.DingTalkAccount, error) {
	a.AccountID = strings.TrimSpace(a.AccountID)
	a.ClientID = strings.TrimSpace(a.ClientID)
	a.ClientSecret = strings.TrimSpace(a.ClientSecret)
	var errs []error
	if a.AccountID == "" {
		errs = append(errs, missing("accountId"))
	}
	if a.ClientID == "" {
		errs = append(errs, missing("clientId"))
	}
	if a.ClientSecret == "" {
		errs = append(errs, missing("clientSecret"))
	}
	return a, errors.Join(errs...)
}

// Init builds a bot per enabled, valid account and registers it on the
// channel manager, which starts them in the background. Invalid accounts
// are skipped with a warning. Accounts whose selfId is already registered
// are ignored.
func (s *Service) Init(ctx context.Context, cfg *config.Config) error {
	s.cfg = cfg
	if !cfg.EnableDingAdapter {
		slog.Info("dingtalk adapter disabled by config.enableDingAdapter=false")
		return nil
	}
	if len(cfg.Accounts) == 0 {
		slog.Info("dingtalk: dingdingAccounts is empty")
		return nil
	}

	for _, acc := range cfg.Accounts {
		if !acc.Enabled() {
			slog.Debug("dingtalk: account disabled", "account", acc.AccountID)
			continue
		}
		valid, err := ValidateAccount(acc)
		if err != nil {
			slog.Warn("dingtalk: skip invalid account config",
				"account", valid.AccountID,
				"client_id", valid.ClientID != "",
				"client_secret", valid.ClientSecret != "",
				"error", err,
			)
			continue
		}
		selfID := valid.SelfID()

		s.mu.Lock()
		if _, exists := s.bots[selfID]; exists {
			s.mu.Unlock()
			slog.Warn("dingtalk: duplicate account ignored", "bot", selfID)
			continue
		}
		bot := NewBot(valid, BotDeps{
			Global:         cfg,
			Bus:            s.opts.Bus,
			Events:         s.opts.Events,
			Sessions:       s.sessions,
			Bindings:       s.opts.Bindings,
			PublicURL:      s.opts.PublicURL,
			OpenAPIBaseURL: s.opts.OpenAPIBaseURL,
			OAPIBaseURL:    s.opts.OAPIBaseURL,
			commands:       s.handleCommand,
		})
		s.bots[selfID] = bot
		s.mu.Unlock()

		if s.opts.Manager != nil {
			s.opts.Manager.RegisterChannel(selfID, bot)
		}
		slog.Info("dingtalk: bot registered", "bot", selfID, "topics", len(Topics(valid.ExtraTopics)))
	}
	return nil
}

// Sessions returns the shared session webhook cache.
func (s *Service) Sessions() *SessionWebhookCache { return s.sessions }

// Bots returns all bots sorted by selfId.
func (s *Service) Bots() []*Bot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Bot, 0, len(s.bots))
	for _, b := range s.bots {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SelfID() < out[j].SelfID() })
	return out
}

// BotBySelfID looks a bot up by "DingDing_<accountId>".
func (s *Service) BotBySelfID(selfID string) (*Bot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bots[selfID]
	return b, ok
}

// BotByAccountID looks a bot up by account id.
func (s *Service) BotByAccountID(accountID string) (*Bot, bool) {
	return s.BotBySelfID(config.DingTalkAccount{AccountID: accountID}.SelfID())
}

// --- Webhook bindings ---

func (s *Service) bindings() (store.WebhookBindingStore, error) {
	if s.opts.Bindings == nil {
		return nil, &ValidationError{Field: "bindings", Message: "no binding store configured"}
	}
	return s.opts.Bindings, nil
}

// BindGroupWebhook stores a durable webhook for (accountID, groupID).
func (s *Service) BindGroupWebhook(ctx context.Context, accountID, groupID, webhook, secret string) error {
	if strings.TrimSpace(accountID) == "" {
		return missing("accountId")
	}
	if strings.TrimSpace(groupID) == "" {
		return missing("groupId")
	}
	if strings.TrimSpace(webhook) == "" {
		return missing("webhook")
	}
	st, err := s.bindings()
	if err != nil {
		return err
	}
	return st.Bind(ctx, accountID, groupID, webhook, secret)
}

// UnbindGroupWebhook removes a binding and reports whether it existed.
func (s *Service) UnbindGroupWebhook(ctx context.Context, accountID, groupID string) (bool, error) {
	st, err := s.bindings()
	if err != nil {
		return false, err
	}
	return st.Unbind(ctx, accountID, strings.TrimSpace(groupID))
}

// BoundGroupWebhook returns the binding for (accountID, groupID), or nil.
func (s *Service) BoundGroupWebhook(ctx context.Context, accountID, groupID string) (*store.WebhookBinding, error) {
	st, err := s.bindings()
	if err != nil {
		return nil, err
	}
	return st.Lookup(ctx, accountID, strings.TrimSpace(groupID))
}

// ListGroupWebhooks lists bindings for accountID, or all when empty.
func (s *Service) ListGroupWebhooks(ctx context.Context, accountID string) ([]store.WebhookBindingEntry, error) {
	st, err := s.bindings()
	if err != nil {
		return nil, err
	}
	return st.List(ctx, accountID)
}

// --- Status ---

// BotStatus is one bot's entry in Service.Status.
type BotStatus struct {
	SelfID        string `json:"selfId"`
	AccountID     string `json:"accountId"`
	Name          string `json:"name"`
	Online        bool   `json:"online"`
	State         string `json:"state"`
	LastConnectAt int64  `json:"lastConnectAt,omitempty"` // unix ms
	LastMessageAt int64  `json:"lastMessageAt,omitempty"` // unix ms
	LastError     string `json:"lastError,omitempty"`
}

// Status reports every bot's connection.
func (s *Service) Status() []BotStatus {
	bots := s.Bots()
	out := make([]BotStatus, 0, len(bots))
	for _, b := range bots {
		st := b.StreamStatus()
		bs := BotStatus{
			SelfID:    b.SelfID(),
			AccountID: b.AccountID(),
			Name:      b.DisplayName(),
			Online:    st.Connected(),
			State:     st.State.String(),
			LastError: st.LastError,
		}
		if !st.LastConnectAt.IsZero() {
			bs.LastConnectAt = st.LastConnectAt.UnixMilli()
		}
		if !st.LastMessageAt.IsZero() {
			bs.LastMessageAt = st.LastMessageAt.UnixMilli()
		}
		out = append(out, bs)
	}
	return out
}
