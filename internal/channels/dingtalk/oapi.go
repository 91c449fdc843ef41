package dingtalk

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultOAPIBase = "https://oapi.dingtalk.com"
	oapiTimeout     = 15 * time.Second

	// legacyDefaultTTL applies when gettoken omits expires_in.
	legacyDefaultTTL = 7200 * time.Second
)

// OAPIOptions configures an OAPIClient.
type OAPIOptions struct {
	AccountID    string
	ClientID     string
	ClientSecret string
	BaseURL      string        // default https://oapi.dingtalk.com
	Timeout      time.Duration // default 15s
	Debug        bool
}

// OAPIClient talks to the legacy DingTalk API (oapi.dingtalk.com).
// Only media upload is used; its token cache is separate from the modern one.
type OAPIClient struct {
	baseURL      string
	accountID    string
	clientID     string
	clientSecret string
	debug        bool
	httpClient   *http.Client
	tokens       *TokenCache
}

// NewOAPIClient creates a legacy API client.
func NewOAPIClient(opts OAPIOptions) *OAPIClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = oapiTimeout
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = defaultOAPIBase
	}
	c := &OAPIClient{
		baseURL:      base,
		accountID:    opts.AccountID,
		clientID:     opts.ClientID,
		clientSecret: opts.ClientSecret,
		debug:        opts.Debug,
		httpClient:   &http.Client{Timeout: timeout},
	}
	c.tokens = newTokenCache("oapi", opts.AccountID, timeout, c.fetchToken)
	return c
}

// AccessToken returns a valid legacy API token.
func (c *OAPIClient) AccessToken(ctx context.Context) (string, error) {
	return c.tokens.Get(ctx)
}

func (c *OAPIClient) fetchToken(ctx context.Context) (string, time.Duration, error) {
	if c.clientID == "" || c.clientSecret == "" {
		return "", 0, &AuthError{Op: "oapi token", Err: missing("clientId/clientSecret")}
	}
	if c.debug {
		slog.Debug("dingtalk oapi gettoken", "account", c.accountID, "appkey", redact(c.clientID), "appsecret", redact(c.clientSecret))
	}

	q := url.Values{}
	q.Set("appkey", c.clientID)
	q.Set("appsecret", c.clientSecret)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/gettoken?"+q.Encode(), nil)
	if err != nil {
		return "", 0, err
	}

	body, err := c.do(req)
	if err != nil {
		return "", 0, err
	}

	token := toStr(body["access_token"])
	if token == "" {
		return "", 0, fmt.Errorf("%w: gettoken returned empty access_token", ErrInvalidTokenResponse)
	}
	raw, present := body["expires_in"]
	if !present || raw == nil {
		return token, legacyDefaultTTL, nil
	}
	n, ok := toNumber(raw)
	if !ok || n <= 0 {
		return "", 0, fmt.Errorf("%w: gettoken expires_in=%v", ErrInvalidTokenResponse, raw)
	}
	return token, time.Duration(n * float64(time.Second)), nil
}

// do executes req and decodes the response; the URL in errors is sanitized.
func (c *OAPIClient) do(req *http.Request) (map[string]any, error) {
	safeURL := sanitizeURL(req.URL.String())
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// *url.Error embeds the raw URL; report only the sanitized one.
		if ue, ok := err.(*url.Error); ok {
			err = ue.Err
		}
		return nil, &TransportError{Message: "oapi " + req.Method + " " + safeURL, Err: err}
	}
	defer resp.Body.Close()

	body, err := decodeVendorResponse(resp, "errmsg", "message")
	if err != nil {
		return body, fmt.Errorf("oapi %s: %w", req.URL.Path, err)
	}
	return body, nil
}

// MediaUpload is a file to upload to the legacy media store.
type MediaUpload struct {
	Type     string // "image" (default), "voice", "file"
	Data     []byte
	FileName string
	MIMEType string
}

// UploadMedia uploads a file and returns its media id.
func (c *OAPIClient) UploadMedia(ctx context.Context, m MediaUpload) (string, error) {
	if len(m.Data) == 0 {
		return "", missing("media")
	}
	token, err := c.AccessToken(ctx)
	if err != nil {
		return "", err
	}

	typ := m.Type
	if typ == "" {
		typ = "image"
	}
	name := m.FileName
	if name == "" {
		name = "upload_" + strconv.FormatInt(time.Now().UnixMilli(), 10)
	}
	mt := m.MIMEType
	if mt == "" {
		mt = "application/octet-stream"
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="media"; filename="%s"`, escapeQuotes(name)))
	h.Set("Content-Type", mt)
	part, err := w.CreatePart(h)
	if err != nil {
		return "", fmt.Errorf("create form part: %w", err)
	}
	if _, err := part.Write(m.Data); err != nil {
		return "", fmt.Errorf("write form part: %w", err)
	}
	w.Close()

	q := url.Values{}
	q.Set("access_token", token)
	q.Set("type", typ)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/media/upload?"+q.Encode(), &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	if c.debug {
		slog.Debug("dingtalk oapi media/upload", "account", c.accountID, "type", typ, "name", name, "mime", mt, "size", len(m.Data))
	}

	body, err := c.do(req)
	if err != nil {
		return "", err
	}
	mediaID := pickTruthyString(body, "media_id", "mediaId")
	if mediaID == "" {
		return "", &ProtocolError{Code: "empty_media_id", Message: "media/upload returned empty media_id"}
	}
	return mediaID, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string { return quoteEscaper.Replace(s) }
