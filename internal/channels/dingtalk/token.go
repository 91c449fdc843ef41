package dingtalk

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("github.com/XuF163/dingbridge/internal/channels/dingtalk")

// tokenRefreshMargin: a cached token is only handed out while it has more
// than this much lifetime left.
const tokenRefreshMargin = 60 * time.Second

// tokenFetcher exchanges credentials for a token and its lifetime.
type tokenFetcher func(ctx context.Context) (token string, ttl time.Duration, err error)

// TokenCache holds one access token per account and API family and refreshes
// it lazily. Concurrent callers during a refresh share a single exchange.
// The modern and legacy clients each own one (namespaces "openapi" / "oapi").
type TokenCache struct {
	namespace string
	accountID string
	timeout   time.Duration
	fetch     tokenFetcher
	now       func() time.Time

	mu       sync.Mutex
	token    string
	expireAt time.Time

	group singleflight.Group
}

func newTokenCache(namespace, accountID string, timeout time.Duration, fetch tokenFetcher) *TokenCache {
	return &TokenCache{
		namespace: namespace,
		accountID: accountID,
		timeout:   timeout,
		fetch:     fetch,
		now:       time.Now,
	}
}

// cached returns the token if it is still valid beyond the refresh margin.
func (c *TokenCache) cached() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.expireAt.Sub(c.now()) > tokenRefreshMargin {
		return c.token, true
	}
	return "", false
}

// Get returns a valid token, exchanging credentials when needed.
// Failures come back as *AuthError.
func (c *TokenCache) Get(ctx context.Context) (string, error) {
	if tok, ok := c.cached(); ok {
		return tok, nil
	}

	// The shared exchange is bounded by c.timeout only; each caller stops
	// waiting when its own ctx ends.
	ch := c.group.DoChan(c.namespace, func() (any, error) {
		// Another caller may have refreshed while we waited to enter.
		if tok, ok := c.cached(); ok {
			return tok, nil
		}
		return c.refresh(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", &AuthError{Op: c.namespace + " token", Err: ctx.Err()}
	}
}

func (c *TokenCache) refresh(ctx context.Context) (string, error) {
	ctx, span := tracer.Start(ctx, "dingtalk.token.refresh")
	defer span.End()
	span.SetAttributes(
		attribute.String("dingtalk.account", c.accountID),
		attribute.String("dingtalk.namespace", c.namespace),
	)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := c.now()
	tok, ttl, err := c.fetch(ctx)
	if err == nil && (tok == "" || ttl <= 0) {
		err = ErrInvalidTokenResponse
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var authErr *AuthError
		if errors.As(err, &authErr) {
			return "", err
		}
		return "", &AuthError{Op: c.namespace + " token", Err: err}
	}

	c.mu.Lock()
	c.token = tok
	c.expireAt = start.Add(ttl)
	c.mu.Unlock()

	slog.Debug("dingtalk token refreshed", "namespace", c.namespace, "account", c.accountID, "ttl", ttl)
	return tok, nil
}

// Invalidate drops the cached token so the next Get exchanges again.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.expireAt = time.Time{}
}
