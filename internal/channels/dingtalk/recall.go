package dingtalk

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

// ExplicitRecallPrefix forces an API recall even for ids shaped like
// locally synthesized webhook ids.
const ExplicitRecallPrefix = "openapi:"

var explicitRecallPattern = regexp.MustCompile(`(?i)^openapi:`)

type apiRecaller interface {
	RecallGroup(ctx context.Context, openConversationID string, keys []string, robotCode string) (map[string]any, error)
	RecallDirect(ctx context.Context, keys []string, robotCode string) (map[string]any, error)
}

// Recaller withdraws messages previously sent through the modern API.
// Webhook sends cannot be recalled; asking for one only logs a hint.
type Recaller struct {
	selfID    string
	api       apiRecaller
	robotCode func() string
	hint      *rate.Limiter
	log       *slog.Logger
}

// NewRecaller creates a recaller. robotCode yields the learned-or-configured
// robot code at call time.
func NewRecaller(selfID string, api apiRecaller, robotCode func() string, log *slog.Logger) *Recaller {
	if log == nil {
		log = slog.Default()
	}
	return &Recaller{
		selfID:    selfID,
		api:       api,
		robotCode: robotCode,
		hint:      rate.NewLimiter(rate.Every(60*time.Second), 1),
		log:       log,
	}
}

// Recall withdraws messageID in dest and reports whether the API accepted it.
// Failures are logged, never returned.
func (r *Recaller) Recall(ctx context.Context, dest Destination, messageID string) bool {
	raw := strings.TrimSpace(messageID)
	if raw == "" {
		return false
	}
	explicit := explicitRecallPattern.MatchString(raw)
	key := strings.TrimSpace(explicitRecallPattern.ReplaceAllString(raw, ""))
	if key == "" {
		return false
	}

	if !explicit && strings.HasPrefix(raw, r.selfID+"_") {
		if r.hint.Allow() {
			r.log.Warn("recall skipped: webhook sends cannot be recalled", "message_id", raw)
		}
		return false
	}

	robotCode := strings.TrimSpace(r.robotCode())
	if robotCode == "" {
		r.log.Warn("recall skipped: missing robotCode")
		return false
	}

	ctx, span := tracer.Start(ctx, "dingtalk.recall")
	defer span.End()
	span.SetAttributes(
		attribute.String("dingtalk.scene", string(dest.Scene)),
		attribute.String("dingtalk.peer", dest.Peer),
	)

	var (
		resp map[string]any
		err  error
	)
	switch dest.Scene {
	case SceneGroup:
		resp, err = r.api.RecallGroup(ctx, dest.Peer, []string{key}, robotCode)
	case SceneFriend:
		resp, err = r.api.RecallDirect(ctx, []string{key}, robotCode)
	default:
		err = &ValidationError{Field: "scene", Message: "unsupported scene " + string(dest.Scene)}
	}
	if err == nil && recallRejected(resp) {
		body, _ := json.Marshal(resp)
		err = &ProtocolError{Code: "success=false", Message: string(body)}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.log.Warn("recall failed", "scene", dest.Scene, "error", err)
		return false
	}
	return true
}

// recallRejected reports an explicit boolean false under success/result,
// top level first, then under data.
func recallRejected(resp map[string]any) bool {
	data := asObject(resp["data"])
	ok := firstPresent(resp["success"], resp["result"], data["success"], data["result"])
	b, isBool := ok.(bool)
	return isBool && !b
}
