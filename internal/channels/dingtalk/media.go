package dingtalk

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// fileDownloader resolves a download code to a fetchable URL.
type fileDownloader interface {
	DownloadMessageFile(ctx context.Context, downloadCode, robotCode string) (string, error)
}

// MediaResolver replaces pending media handles with download URLs.
type MediaResolver struct {
	api       fileDownloader
	enabled   bool
	robotCode func(event map[string]any) string
	log       *slog.Logger
}

// NewMediaResolver creates a resolver. robotCode picks the robot code for an
// event (event value, then learned, then configured).
func NewMediaResolver(api fileDownloader, enabled bool, robotCode func(map[string]any) string, log *slog.Logger) *MediaResolver {
	if log == nil {
		log = slog.Default()
	}
	return &MediaResolver{api: api, enabled: enabled, robotCode: robotCode, log: log}
}

// Enrich resolves every pending media segment in place. Best-effort: a failed
// resolution is logged and leaves that segment's placeholder untouched.
func (r *MediaResolver) Enrich(ctx context.Context, segs []Segment, event map[string]any) {
	if r == nil || !r.enabled {
		return
	}
	robotCode := strings.TrimSpace(r.robotCode(event))
	if robotCode == "" {
		return
	}

	resolved := make(map[string]string)
	for i := range segs {
		code := segs[i].PendingCode()
		if code == "" {
			continue
		}
		u, ok := resolved[code]
		if !ok {
			var err error
			u, err = r.resolve(ctx, code, robotCode)
			if err != nil {
				r.log.Warn("resolve downloadCode failed", "kind", segs[i].Kind, "error", err)
				continue
			}
			resolved[code] = u
		}
		if u != "" {
			segs[i].FileRef = u
		}
	}
}

func (r *MediaResolver) resolve(ctx context.Context, code, robotCode string) (string, error) {
	ctx, span := tracer.Start(ctx, "dingtalk.media.resolve")
	defer span.End()
	span.SetAttributes(attribute.String("dingtalk.robot_code", robotCode))

	u, err := r.api.DownloadMessageFile(ctx, code, robotCode)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return u, err
}
