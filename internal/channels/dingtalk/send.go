package dingtalk

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/XuF163/dingbridge/internal/bus"
	"github.com/XuF163/dingbridge/internal/channels"
	"github.com/XuF163/dingbridge/internal/store"
)

const (
	imageMarkdownTitle = "图片"
	imagePlaceholder   = "[图片]"
)

// Collaborators of SendRouter. The concrete clients satisfy them; tests may
// substitute fakes.
type (
	apiMessenger interface {
		SendGroup(ctx context.Context, openConversationID string, msg APIMessage, robotCode string) (map[string]any, error)
		SendDirect(ctx context.Context, userIDs []string, msg APIMessage, robotCode string) (map[string]any, error)
		RobotCode() string
	}
	mediaUploader interface {
		UploadMedia(ctx context.Context, m MediaUpload) (string, error)
	}
	webhookSender interface {
		SendText(ctx context.Context, target WebhookContext, content string, at WebhookAt) (map[string]any, error)
		SendMarkdown(ctx context.Context, target WebhookContext, title, text string, at WebhookAt) (map[string]any, error)
		SendImage(ctx context.Context, target WebhookContext, b64, md5hex string) (map[string]any, error)
	}
	fileSource interface {
		Resolve(ctx context.Context, ref, fallbackName string) (*FileInfo, error)
	}
)

// SendRouterOptions configures a SendRouter for one account.
type SendRouterOptions struct {
	AccountID      string
	SelfID         string
	Webhook        string // account static webhook
	WebhookSecret  string
	DefaultWebhook func() string // process-wide fallback, read per send
	RobotCode      string // configured; the learned value wins

	EnableOpenAPISend bool
	PublicImageBed    func() bool
	InlineImageShrink bool
	AtUserIDMap       map[string]string

	Sessions  *SessionWebhookCache
	Bindings  store.WebhookBindingStore
	API       apiMessenger
	Legacy    mediaUploader
	Webhooks  webhookSender
	Files     fileSource
	PublicURL PublicURLUploader // optional

	Logger *slog.Logger
}

// SendOptions tunes a single Send call.
type SendOptions struct {
	PreferOpenAPI bool
}

// SendRouter picks a transport for each outbound message and walks the
// fallback chain: session webhook, bound webhook, static webhook, modern API.
type SendRouter struct {
	opts SendRouterOptions
	log  *slog.Logger
	now  func() time.Time
}

// NewSendRouter creates a router.
func NewSendRouter(opts SendRouterOptions) *SendRouter {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.Files == nil {
		opts.Files = NewFileResolver()
	}
	return &SendRouter{opts: opts, log: log, now: time.Now}
}

func (r *SendRouter) robotCode() string {
	if r.opts.API != nil {
		if v := strings.TrimSpace(r.opts.API.RobotCode()); v != "" {
			return v
		}
	}
	return strings.TrimSpace(r.opts.RobotCode)
}

func (r *SendRouter) defaultWebhook() string {
	if r.opts.DefaultWebhook == nil {
		return ""
	}
	return r.opts.DefaultWebhook()
}

func (r *SendRouter) publicImageBed() bool {
	return r.opts.PublicImageBed != nil && r.opts.PublicImageBed()
}

func (r *SendRouter) apiSendAllowed() bool { return r.opts.EnableOpenAPISend && r.opts.API != nil }

func (r *SendRouter) syntheticID() string {
	return fmt.Sprintf("%s_%d", r.opts.SelfID, r.now().UnixMilli())
}

// --- Webhook resolution ---

// ResolveWebhook returns the webhook for dest, or nil when none applies.
// Groups: session webhook, then durable binding, then the account or global
// static webhook. Direct chats only ever use a session webhook.
func (r *SendRouter) ResolveWebhook(ctx context.Context, dest Destination) *WebhookContext {
	secret := strings.TrimSpace(r.opts.WebhookSecret)

	if r.opts.Sessions != nil {
		if hook, ok := r.opts.Sessions.Get(r.opts.AccountID, dest.Scene, dest.Peer); ok {
			return &WebhookContext{URL: hook, Secret: secret}
		}
	}
	if dest.Scene != SceneGroup {
		return nil
	}

	if r.opts.Bindings != nil {
		b, err := r.opts.Bindings.Lookup(ctx, r.opts.AccountID, dest.Peer)
		if err != nil {
			r.log.Warn("webhook binding lookup failed", "group", dest.Peer, "error", err)
		} else if b != nil {
			return &WebhookContext{URL: b.Webhook, Secret: b.Secret}
		}
	}

	fallback := strings.TrimSpace(r.opts.Webhook)
	if fallback == "" {
		fallback = strings.TrimSpace(r.defaultWebhook())
	}
	if fallback != "" {
		return &WebhookContext{URL: fallback, Secret: secret}
	}
	return nil
}

func (r *SendRouter) resolveAtUserID(raw string) string {
	key := strings.TrimSpace(raw)
	if key == "" {
		return ""
	}
	if hit := strings.TrimSpace(r.opts.AtUserIDMap[key]); hit != "" {
		return hit
	}
	return key
}

// --- Dispatch ---

// Send delivers elements to dest. Text goes out first, then each distinct
// image. The returned result is non-nil even on error and lists every leg
// that was attempted; MessageID is the id of the last successful leg.
func (r *SendRouter) Send(ctx context.Context, dest Destination, elements []bus.MessageElement, opts SendOptions) (*channels.SendResult, error) {
	ctx, span := tracer.Start(ctx, "dingtalk.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("dingtalk.scene", string(dest.Scene)),
		attribute.String("dingtalk.peer", dest.Peer),
	)

	run := &sendRun{
		r:         r,
		dest:      dest,
		preferAPI: opts.PreferOpenAPI,
		result:    &channels.SendResult{Time: r.now().Unix()},
		publicURL: make(map[string]string),
	}

	var (
		textParts []string
		images    []string
		atIDs     []string
	)
	for _, el := range elements {
		switch el.Type {
		case "text":
			textParts = append(textParts, el.Text)
		case "at":
			if el.TargetID == "all" {
				run.at.IsAtAll = true
			} else if id := r.resolveAtUserID(el.TargetID); id != "" && !slices.Contains(atIDs, id) {
				atIDs = append(atIDs, id)
			}
			name := el.Name
			if name == "" {
				name = el.TargetID
			}
			if name != "" {
				textParts = append(textParts, "@"+name+" ")
			}
		case "image":
			images = append(images, el.File)
		case "reply":
			// Quote replies have no transport representation.
		default:
			t := el.Type
			if t == "" {
				t = "unknown"
			}
			textParts = append(textParts, "["+t+"]")
		}
	}
	run.at.AtUserIDs = atIDs
	run.hook = r.ResolveWebhook(ctx, dest)

	err := run.execute(ctx, strings.TrimSpace(strings.Join(textParts, "")), images)
	if run.lastID == "" {
		run.lastID = r.syntheticID()
	}
	run.result.MessageID = run.lastID

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return run.result, err
	}
	return run.result, nil
}

// sendRun is the state of one Send call.
type sendRun struct {
	r         *SendRouter
	dest      Destination
	hook      *WebhookContext
	at        WebhookAt
	preferAPI bool
	result    *channels.SendResult
	lastID    string
	publicURL map[string]string
}

func (s *sendRun) execute(ctx context.Context, text string, images []string) error {
	if text != "" || len(s.at.AtUserIDs) > 0 || s.at.IsAtAll {
		if err := s.sendText(ctx, text); err != nil {
			return err
		}
	}
	seen := make(map[string]bool, len(images))
	for _, ref := range images {
		if seen[ref] {
			continue
		}
		seen[ref] = true
		if err := s.sendImage(ctx, ref); err != nil {
			return err
		}
	}
	return nil
}

// leg runs one transport attempt, recording its outcome on the result.
func (s *sendRun) leg(ctx context.Context, name string, fn func(ctx context.Context) (map[string]any, string, error)) error {
	ctx, span := tracer.Start(ctx, "dingtalk.send.leg")
	defer span.End()
	span.SetAttributes(attribute.String("dingtalk.leg", name))

	resp, id, err := fn(ctx)
	attempt := channels.SendAttempt{Leg: name}
	if err != nil {
		attempt.Error = err.Error()
		attempt.Err = err
		s.result.Attempts = append(s.result.Attempts, attempt)
		span.SetAttributes(attribute.String("dingtalk.outcome", "error"))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	s.result.Attempts = append(s.result.Attempts, attempt)
	s.result.Raw = append(s.result.Raw, resp)
	s.lastID = id
	span.SetAttributes(attribute.String("dingtalk.outcome", "ok"))
	return nil
}

func (s *sendRun) apiSend(ctx context.Context, msg APIMessage) (map[string]any, string, error) {
	robotCode := s.r.robotCode()
	if robotCode == "" {
		return nil, "", &ValidationError{Field: "robotCode", Message: "required for API sends (config or callback)"}
	}

	var (
		resp map[string]any
		err  error
	)
	switch s.dest.Scene {
	case SceneGroup:
		resp, err = s.r.opts.API.SendGroup(ctx, s.dest.Peer, msg, robotCode)
	case SceneFriend:
		resp, err = s.r.opts.API.SendDirect(ctx, []string{s.dest.Peer}, msg, robotCode)
	default:
		return nil, "", &ValidationError{Field: "scene", Message: "unsupported scene " + string(s.dest.Scene)}
	}
	if err != nil {
		return nil, "", err
	}
	id := pickTruthyString(resp, "processQueryKey", "process_query_key")
	if id == "" {
		id = s.r.syntheticID()
	}
	return resp, id, nil
}

func (s *sendRun) webhookID(resp map[string]any, err error) (map[string]any, string, error) {
	if err != nil {
		return nil, "", err
	}
	return resp, s.r.syntheticID(), nil
}

// --- Text ---

func (s *sendRun) sendText(ctx context.Context, content string) error {
	payload := content
	if payload == "" {
		payload = " "
	}

	if s.preferAPI && s.r.apiSendAllowed() {
		err := s.leg(ctx, "openapi.text", func(ctx context.Context) (map[string]any, string, error) {
			return s.apiSend(ctx, APIMessage{Kind: KindText, Content: payload})
		})
		if err == nil {
			return nil
		}
		if s.hook == nil {
			return err
		}
		s.r.log.Warn("openapi text send failed, falling back to webhook", "error", err)
	}

	if s.hook != nil {
		return s.leg(ctx, "webhook.text", func(ctx context.Context) (map[string]any, string, error) {
			return s.webhookID(s.r.opts.Webhooks.SendText(ctx, *s.hook, payload, s.at))
		})
	}

	if !s.r.apiSendAllowed() {
		return ErrNoTransportAvailable
	}
	return s.leg(ctx, "openapi.text", func(ctx context.Context) (map[string]any, string, error) {
		return s.apiSend(ctx, APIMessage{Kind: KindText, Content: payload})
	})
}

// --- Image ---

func imageMarkdown(u string) string { return "![图片](" + u + ")\n" }

func (s *sendRun) fallbackName() string {
	return fmt.Sprintf("image_%d", s.r.now().UnixMilli())
}

// resolvePublicURL returns a public URL for ref, or "" when none can be had.
func (s *sendRun) resolvePublicURL(ctx context.Context, ref string) string {
	if isHTTPURL(ref) {
		return ref
	}
	if u, ok := s.publicURL[ref]; ok {
		return u
	}
	u := ""
	if s.r.opts.PublicURL != nil {
		info, err := s.r.opts.Files.Resolve(ctx, ref, s.fallbackName())
		if err == nil {
			hosted, err := s.r.opts.PublicURL.UploadPublic(ctx, "image", info.Data, info.Name)
			if err == nil && isHTTPURL(strings.TrimSpace(hosted)) {
				u = strings.TrimSpace(hosted)
			} else if err != nil {
				s.r.log.Debug("public image upload failed", "error", err)
			}
		}
	}
	s.publicURL[ref] = u
	return u
}

func (s *sendRun) webhookMarkdownImage(ctx context.Context, u string) error {
	return s.leg(ctx, "webhook.markdown", func(ctx context.Context) (map[string]any, string, error) {
		return s.webhookID(s.r.opts.Webhooks.SendMarkdown(ctx, *s.hook, imageMarkdownTitle, imageMarkdown(u), s.at))
	})
}

func (s *sendRun) webhookInlineImage(ctx context.Context, ref string) error {
	return s.leg(ctx, "webhook.image", func(ctx context.Context) (map[string]any, string, error) {
		info, err := s.r.opts.Files.Resolve(ctx, ref, s.fallbackName())
		if err != nil {
			return nil, "", err
		}
		b64, sum, err := inlineImagePayload(info.Data, s.r.opts.InlineImageShrink)
		if err != nil {
			return nil, "", err
		}
		return s.webhookID(s.r.opts.Webhooks.SendImage(ctx, *s.hook, b64, sum))
	})
}

// apiImage sends through the modern API. Non-URL references are uploaded to
// the legacy media store first and sent by media id.
func (s *sendRun) apiImage(ctx context.Context, ref string) error {
	return s.leg(ctx, "openapi.image", func(ctx context.Context) (map[string]any, string, error) {
		if s.r.opts.API == nil {
			return nil, "", &ValidationError{Field: "openapi", Message: "client not configured"}
		}
		if s.r.robotCode() == "" {
			return nil, "", &ValidationError{Field: "robotCode", Message: "required for API image sends (config or callback)"}
		}
		photoURL := ref
		if !isHTTPURL(ref) {
			if s.r.opts.Legacy == nil {
				return nil, "", &ValidationError{Field: "oapi", Message: "client not configured"}
			}
			info, err := s.r.opts.Files.Resolve(ctx, ref, s.fallbackName())
			if err != nil {
				return nil, "", err
			}
			mediaID, err := s.r.opts.Legacy.UploadMedia(ctx, MediaUpload{
				Type:     "image",
				Data:     info.Data,
				FileName: info.Name,
				MIMEType: info.MIMEType,
			})
			if err != nil {
				return nil, "", err
			}
			photoURL = mediaID
		}
		return s.apiSend(ctx, APIMessage{Kind: KindImage, PhotoURL: photoURL})
	})
}

func (s *sendRun) sendImage(ctx context.Context, ref string) error {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil
	}
	log := s.r.log

	if s.hook != nil {
		if s.r.publicImageBed() {
			if u := s.resolvePublicURL(ctx, ref); u != "" {
				err := s.webhookMarkdownImage(ctx, u)
				if err == nil {
					return nil
				}
				log.Warn("webhook markdown image failed", "error", err)
			}
		} else {
			err := s.apiImage(ctx, ref)
			if err == nil {
				return nil
			}
			log.Warn("openapi image send failed, falling back to webhook", "error", err)
		}

		err := s.webhookInlineImage(ctx, ref)
		if err == nil {
			return nil
		}
		log.Warn("webhook image(base64) failed", "error", err)

		if u := s.resolvePublicURL(ctx, ref); u != "" {
			err := s.webhookMarkdownImage(ctx, u)
			if err == nil {
				return nil
			}
			log.Warn("webhook markdown image failed", "error", err)
		}

		return s.sendText(ctx, imagePlaceholder)
	}

	if !s.r.apiSendAllowed() {
		return ErrNoTransportAvailable
	}
	if s.r.publicImageBed() {
		if u := s.resolvePublicURL(ctx, ref); u != "" {
			return s.leg(ctx, "openapi.markdown", func(ctx context.Context) (map[string]any, string, error) {
				return s.apiSend(ctx, APIMessage{Kind: KindMarkdown, Title: imageMarkdownTitle, Content: imageMarkdown(u)})
			})
		}
	}
	return s.apiImage(ctx, ref)
}
