package dingtalk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	defaultOpenAPIBase = "https://api.dingtalk.com"
	openAPITimeout     = 10 * time.Second
	accessTokenHeader  = "x-acs-dingtalk-access-token"
)

// OpenAPIOptions configures an OpenAPIClient.
type OpenAPIOptions struct {
	AccountID    string
	ClientID     string
	ClientSecret string
	CorpID       string
	RobotCode    string
	BaseURL      string        // default https://api.dingtalk.com
	Timeout      time.Duration // default 10s
	Debug        bool
}

// OpenAPIClient talks to the modern DingTalk API (api.dingtalk.com).
// corpId and robotCode may be back-filled from inbound events.
type OpenAPIClient struct {
	baseURL      string
	accountID    string
	clientID     string
	clientSecret string
	debug        bool
	httpClient   *http.Client
	tokens       *TokenCache

	mu        sync.RWMutex
	corpID    string
	robotCode string
}

// NewOpenAPIClient creates a modern API client.
func NewOpenAPIClient(opts OpenAPIOptions) *OpenAPIClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = openAPITimeout
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = defaultOpenAPIBase
	}
	c := &OpenAPIClient{
		baseURL:      base,
		accountID:    opts.AccountID,
		clientID:     opts.ClientID,
		clientSecret: opts.ClientSecret,
		debug:        opts.Debug,
		httpClient:   &http.Client{Timeout: timeout},
		corpID:       strings.TrimSpace(opts.CorpID),
		robotCode:    strings.TrimSpace(opts.RobotCode),
	}
	c.tokens = newTokenCache("openapi", opts.AccountID, timeout, c.fetchToken)
	return c
}

// --- Identity learned at runtime ---

// CorpID returns the current corpId (configured or learned).
func (c *OpenAPIClient) CorpID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.corpID
}

// RobotCode returns the current robotCode (configured or learned).
func (c *OpenAPIClient) RobotCode() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.robotCode
}

// SetCorpID overrides corpId. Empty values are ignored.
func (c *OpenAPIClient) SetCorpID(v string) {
	if v = strings.TrimSpace(v); v != "" {
		c.mu.Lock()
		c.corpID = v
		c.mu.Unlock()
	}
}

// SetRobotCode overrides robotCode. Empty values are ignored.
func (c *OpenAPIClient) SetRobotCode(v string) {
	if v = strings.TrimSpace(v); v != "" {
		c.mu.Lock()
		c.robotCode = v
		c.mu.Unlock()
	}
}

// UpdateFromCallback back-fills corpId and robotCode from an inbound event.
// Values already set are never overwritten.
func (c *OpenAPIClient) UpdateFromCallback(data map[string]any) {
	corpID := pickTruthyString(data, "senderCorpId", "chatbotCorpId", "corpId", "corp_id")
	robotCode := pickTruthyString(data, "robotCode", "robot_code")

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.corpID == "" && corpID != "" {
		c.corpID = corpID
		slog.Debug("dingtalk corpId learned", "account", c.accountID, "corp_id", corpID)
	}
	if c.robotCode == "" && robotCode != "" {
		c.robotCode = robotCode
		slog.Debug("dingtalk robotCode learned", "account", c.accountID, "robot_code", robotCode)
	}
}

// --- Token management ---

// AccessToken returns a valid modern API token.
func (c *OpenAPIClient) AccessToken(ctx context.Context) (string, error) {
	return c.tokens.Get(ctx)
}

func (c *OpenAPIClient) fetchToken(ctx context.Context) (string, time.Duration, error) {
	corpID := c.CorpID()
	if corpID == "" {
		return "", 0, &AuthError{Op: "openapi token", Err: missing("corpId")}
	}

	if c.debug {
		slog.Debug("dingtalk openapi refresh token", "account", c.accountID, "corp_id", corpID, "client_id", redact(c.clientID))
	}

	body, err := c.post(ctx, "/v1.0/oauth2/"+url.PathEscape(corpID)+"/token", map[string]string{
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
		"grant_type":    "client_credentials",
	}, "")
	if err != nil {
		return "", 0, err
	}

	token := pickTruthyString(body, "access_token", "accessToken")
	ttl, ok := toNumber(firstPresent(body["expires_in"], body["expireIn"]))
	if token == "" || !ok || ttl <= 0 {
		return "", 0, ErrInvalidTokenResponse
	}
	return token, time.Duration(ttl * float64(time.Second)), nil
}

// --- Generic API helpers ---

// request performs an authenticated POST. A 401 drops the cached token and
// retries once.
func (c *OpenAPIClient) request(ctx context.Context, path string, payload any) (map[string]any, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	body, err := c.post(ctx, path, payload, token)
	var te *TransportError
	if errors.As(err, &te) && te.Status == http.StatusUnauthorized {
		c.tokens.Invalidate()
		if token, err = c.AccessToken(ctx); err != nil {
			return nil, err
		}
		return c.post(ctx, path, payload, token)
	}
	return body, err
}

func (c *OpenAPIClient) post(ctx context.Context, path string, payload any, token string) (map[string]any, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(accessTokenHeader, token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Message: "openapi POST " + path, Err: err}
	}
	defer resp.Body.Close()

	body, err := decodeVendorResponse(resp, "message", "errmsg")
	if err != nil {
		return body, fmt.Errorf("openapi %s: %w", path, err)
	}
	return body, nil
}

// DownloadMessageFile resolves an inbound media download code to a
// time-limited URL. robotCode falls back to the client's learned value.
func (c *OpenAPIClient) DownloadMessageFile(ctx context.Context, downloadCode, robotCode string) (string, error) {
	downloadCode = strings.TrimSpace(downloadCode)
	if downloadCode == "" {
		return "", missing("downloadCode")
	}
	if robotCode = c.robotCodeOr(robotCode); robotCode == "" {
		return "", missing("robotCode")
	}

	body, err := c.request(ctx, "/v1.0/robot/messageFiles/download", map[string]string{
		"downloadCode": downloadCode,
		"robotCode":    robotCode,
	})
	if err != nil {
		return "", err
	}
	u := pickTruthyString(body, "downloadUrl", "download_url")
	if u == "" {
		return "", &ProtocolError{Code: "missing_download_url", Message: "downloadUrl missing in response"}
	}
	return u, nil
}

func (c *OpenAPIClient) robotCodeOr(v string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return c.RobotCode()
}
