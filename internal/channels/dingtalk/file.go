package dingtalk

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const (
	fileFetchTimeout = 30 * time.Second
	maxFileBytes     = 32 << 20
	genericMIMEType  = "application/octet-stream"
)

var (
	httpURLPattern = regexp.MustCompile(`(?i)^https?://`)
	whitespace     = regexp.MustCompile(`\s+`)
)

func isHTTPURL(s string) bool { return httpURLPattern.MatchString(s) }

// FileInfo is a file reference materialized into memory.
type FileInfo struct {
	Data     []byte
	Name     string
	MIMEType string
}

// FileResolver turns outbound file references into bytes. Accepted forms:
// base64://<data>, data:<mime>;base64,<data>, http(s) URLs and local paths.
type FileResolver struct {
	httpClient *http.Client
}

// NewFileResolver creates a resolver with a bounded HTTP client.
func NewFileResolver() *FileResolver {
	return &FileResolver{httpClient: &http.Client{Timeout: fileFetchTimeout}}
}

// Resolve loads ref. fallbackName names the file when ref carries no name.
func (r *FileResolver) Resolve(ctx context.Context, ref, fallbackName string) (*FileInfo, error) {
	input := strings.TrimSpace(ref)
	if input == "" {
		return nil, missing("file")
	}

	switch {
	case strings.HasPrefix(input, "base64://"):
		data, err := decodeBase64(strings.TrimPrefix(input, "base64://"))
		if err != nil {
			return nil, fmt.Errorf("decode base64 file: %w", err)
		}
		return buildFileInfo(data, fallbackName, ""), nil

	case len(input) >= 5 && strings.EqualFold(input[:5], "data:"):
		header, payload, ok := strings.Cut(input[5:], ",")
		if !ok {
			return nil, &ValidationError{Field: "file", Message: "unsupported data url"}
		}
		mimeType := genericMIMEType
		isBase64 := false
		for i, part := range strings.Split(header, ";") {
			part = strings.TrimSpace(part)
			if i == 0 && part != "" {
				mimeType = part
			}
			if part == "base64" {
				isBase64 = true
			}
		}
		if !isBase64 {
			return nil, &ValidationError{Field: "file", Message: "unsupported data url (only base64 is supported)"}
		}
		data, err := decodeBase64(payload)
		if err != nil {
			return nil, fmt.Errorf("decode data url: %w", err)
		}
		return buildFileInfo(data, fallbackName, mimeType), nil

	case isHTTPURL(input):
		return r.fetch(ctx, input, fallbackName)
	}

	data, err := os.ReadFile(input)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	name := filepath.Base(input)
	if name == "." || name == string(filepath.Separator) {
		name = fallbackName
	}
	return buildFileInfo(data, name, mime.TypeByExtension(filepath.Ext(name))), nil
}

func (r *FileResolver) fetch(ctx context.Context, rawURL, fallbackName string) (*FileInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("file request: %w", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Message: "GET " + sanitizeURL(rawURL), Err: unwrapURLError(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{Status: resp.StatusCode, Message: resp.Status}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFileBytes+1))
	if err != nil {
		return nil, &TransportError{Message: "read file body", Err: err}
	}
	if len(data) > maxFileBytes {
		return nil, &PayloadTooLargeError{Size: len(data), Limit: maxFileBytes}
	}

	name := fallbackName
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" && base != "" {
			name = base
		}
	}
	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = mime.TypeByExtension(path.Ext(name))
	}
	return buildFileInfo(data, name, mimeType), nil
}

func decodeBase64(s string) ([]byte, error) {
	s = whitespace.ReplaceAllString(s, "")
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		// Producers frequently drop the padding.
		if raw, rawErr := base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "=")); rawErr == nil {
			return raw, nil
		}
		return nil, err
	}
	return data, nil
}

func unwrapURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}
	return err
}

// buildFileInfo picks the MIME type (hint, magic bytes, extension) and adds
// an extension to bare names when the type is a known image.
func buildFileInfo(data []byte, name, mimeHint string) *FileInfo {
	name = strings.TrimSpace(name)
	if name == "" {
		name = fmt.Sprintf("file_%d", time.Now().UnixMilli())
	}

	mimeType := genericMIMEType
	for _, candidate := range []string{mimeHint, sniffMIMEType(data), mime.TypeByExtension(filepath.Ext(name))} {
		if c := normalizeMIMEType(candidate); c != "" && c != genericMIMEType {
			mimeType = c
			break
		}
	}

	if filepath.Ext(name) == "" {
		name += extFromMIMEType(mimeType)
	}
	return &FileInfo{Data: data, Name: name, MIMEType: mimeType}
}

func normalizeMIMEType(v string) string {
	v, _, _ = strings.Cut(strings.ToLower(strings.TrimSpace(v)), ";")
	return strings.TrimSpace(v)
}

func extFromMIMEType(mimeType string) string {
	switch normalizeMIMEType(mimeType) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg", "image/pjpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/bmp":
		return ".bmp"
	}
	return ""
}

var pngMagic = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}

// sniffMIMEType recognizes the image formats the robot APIs accept.
func sniffMIMEType(b []byte) string {
	switch {
	case bytes.HasPrefix(b, pngMagic):
		return "image/png"
	case bytes.HasPrefix(b, []byte{0xff, 0xd8, 0xff}):
		return "image/jpeg"
	case bytes.HasPrefix(b, []byte("GIF87a")), bytes.HasPrefix(b, []byte("GIF89a")):
		return "image/gif"
	case len(b) >= 12 && string(b[:4]) == "RIFF" && string(b[8:12]) == "WEBP":
		return "image/webp"
	case bytes.HasPrefix(b, []byte("BM")):
		return "image/bmp"
	}
	return genericMIMEType
}

// PublicURLUploader hosts a file at a publicly reachable URL. Markdown image
// delivery needs one; without it only http(s) references have a public URL.
type PublicURLUploader interface {
	UploadPublic(ctx context.Context, kind string, data []byte, name string) (string, error)
}
