package dingtalk

import (
	"strings"

	"github.com/XuF163/dingbridge/internal/bus"
)

// PendingMediaPrefix marks a fileRef that still holds a vendor download code
// awaiting resolution to a URL.
const PendingMediaPrefix = "dingtalk://downloadCode/"

// SegmentKind discriminates Segment variants.
type SegmentKind string

const (
	SegmentText  SegmentKind = "text"
	SegmentImage SegmentKind = "image"
	SegmentFile  SegmentKind = "file"
	SegmentAudio SegmentKind = "audio"
	SegmentVideo SegmentKind = "video"
)

// Segment is one canonical piece of an inbound message.
// Text segments use Text; media segments use FileRef (a URL or a
// PendingMediaPrefix placeholder) plus the raw download handles.
type Segment struct {
	Kind                SegmentKind
	Text                string
	FileRef             string
	Name                string // file segments only
	DownloadCode        string
	PictureDownloadCode string
}

// IsPending reports whether the segment's media is still an unresolved handle.
func (s Segment) IsPending() bool {
	return s.Kind != SegmentText && strings.HasPrefix(s.FileRef, PendingMediaPrefix)
}

// PendingCode returns the download code embedded in a pending FileRef.
func (s Segment) PendingCode() string {
	if !s.IsPending() {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(s.FileRef, PendingMediaPrefix))
}

func pendingRef(code string) string {
	if code == "" {
		return ""
	}
	return PendingMediaPrefix + code
}

// MessageType returns the event's message kind: the first non-empty string
// among msgtype/msgType/messageType/message_type, trimmed.
func MessageType(data map[string]any) string {
	return pickString(data, "msgtype", "msgType", "messageType", "message_type")
}

// richItems returns the rich-text array of an event. withBareContainer also
// accepts richTextContent itself being the array.
func richItems(data map[string]any, withBareContainer bool) any {
	content := asObject(data["content"])
	rtc := asObject(data["richTextContent"])
	candidates := []any{
		content["richText"],
		content["rich_text"],
		rtc["richText"],
		rtc["rich_text"],
	}
	if withBareContainer {
		candidates = append(candidates, data["richTextContent"])
	}
	candidates = append(candidates, data["richText"])
	return firstTruthy(candidates...)
}

// ExtractText probes text.content, content.content, then a rich-text array,
// and returns the first usable text, trimmed.
func ExtractText(data map[string]any) string {
	if s, ok := asObject(data["text"])["content"].(string); ok {
		return strings.TrimSpace(s)
	}
	if s, ok := asObject(data["content"])["content"].(string); ok {
		return strings.TrimSpace(s)
	}

	var b strings.Builder
	for _, item := range asArray(richItems(data, true)) {
		switch v := item.(type) {
		case string:
			b.WriteString(v)
		case map[string]any:
			for _, k := range []string{"text", "content", "title"} {
				if s, ok := v[k].(string); ok {
					b.WriteString(s)
					break
				}
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// ParseSegments converts one raw inbound event into canonical segments.
// It never fails: unknown shapes degrade to a single text placeholder.
func ParseSegments(data map[string]any) []Segment {
	msgType := strings.ToLower(MessageType(data))
	text := ExtractText(data)

	switch {
	case msgType == "" || msgType == "text" || msgType == "markdown":
		return []Segment{{Kind: SegmentText, Text: text}}

	case strings.Contains(msgType, "richtext") || strings.Contains(msgType, "rich_text"):
		if segs := parseRichText(asArray(richItems(data, false))); len(segs) > 0 {
			return segs
		}
		if text == "" {
			text = "[richText]"
		}
		return []Segment{{Kind: SegmentText, Text: text}}

	case strings.Contains(msgType, "image") || strings.Contains(msgType, "picture"):
		src := asObject(firstTruthy(data["content"], data["imageContent"], data["image"]))
		return []Segment{imageSegment(src)}

	case strings.Contains(msgType, "file") || strings.Contains(msgType, "voice") ||
		strings.Contains(msgType, "audio") || strings.Contains(msgType, "video"):
		src := asObject(firstTruthy(data["content"], data["fileContent"], data["voiceContent"], data["videoContent"]))
		code := pickString(src, "downloadCode", "download_code")
		kind := SegmentFile
		if strings.Contains(msgType, "voice") || strings.Contains(msgType, "audio") {
			kind = SegmentAudio
		}
		if strings.Contains(msgType, "video") {
			kind = SegmentVideo
		}
		return []Segment{{
			Kind:         kind,
			FileRef:      pendingRef(code),
			Name:         pickString(src, "fileName", "file_name", "name"),
			DownloadCode: code,
		}}
	}

	if text != "" {
		return []Segment{{Kind: SegmentText, Text: msgType + ": " + text}}
	}
	return []Segment{{Kind: SegmentText, Text: "[" + msgType + "]"}}
}

func parseRichText(items []any) []Segment {
	var segs []Segment
	for _, item := range items {
		if !truthy(item) {
			continue
		}
		switch v := item.(type) {
		case string:
			segs = append(segs, Segment{Kind: SegmentText, Text: v})
		case map[string]any:
			if t := pickString(v, "text", "content", "title"); t != "" {
				segs = append(segs, Segment{Kind: SegmentText, Text: t})
			}
			if typ := strings.ToLower(pickString(v, "type")); typ == "picture" || typ == "image" {
				segs = append(segs, imageSegment(v))
			}
		}
	}
	return segs
}

func imageSegment(src map[string]any) Segment {
	dc := pickString(src, "downloadCode", "download_code")
	pdc := pickString(src, "pictureDownloadCode", "picture_download_code")
	code := dc
	if code == "" {
		code = pdc
	}
	return Segment{
		Kind:                SegmentImage,
		FileRef:             pendingRef(code),
		DownloadCode:        dc,
		PictureDownloadCode: pdc,
	}
}

// SegmentsToElements converts segments to host message elements. Files,
// audio and video are not forwarded as media yet and degrade to text markers.
func SegmentsToElements(segs []Segment) []bus.MessageElement {
	out := make([]bus.MessageElement, 0, len(segs))
	for _, s := range segs {
		switch s.Kind {
		case SegmentText:
			out = append(out, bus.MessageElement{Type: "text", Text: s.Text})
		case SegmentImage:
			out = append(out, bus.MessageElement{Type: "image", File: s.FileRef})
		case SegmentFile:
			t := "[文件]"
			if s.Name != "" {
				t += " " + s.Name
			}
			out = append(out, bus.MessageElement{Type: "text", Text: t})
		case SegmentAudio:
			out = append(out, bus.MessageElement{Type: "text", Text: "[语音]"})
		case SegmentVideo:
			out = append(out, bus.MessageElement{Type: "text", Text: "[视频]"})
		}
	}
	return out
}
