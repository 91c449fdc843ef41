package dingtalk

import (
	"net/url"
	"regexp"
)

// redact hides most of a credential for logs: "***" for short values,
// otherwise the first and last three characters.
func redact(v string) string {
	if v == "" {
		return ""
	}
	if len(v) <= 8 {
		return "***"
	}
	return v[:3] + "***" + v[len(v)-3:]
}

var sensitiveQueryKeys = []string{"access_token", "appkey", "appsecret"}

var sensitiveQueryRe = regexp.MustCompile(`(access_token|appkey|appsecret)=([^&]+)`)

// sanitizeURL masks credential query parameters so the URL can be logged.
func sanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return sensitiveQueryRe.ReplaceAllString(raw, "$1=***")
	}
	q := u.Query()
	changed := false
	for _, k := range sensitiveQueryKeys {
		if q.Has(k) {
			q.Set(k, "***")
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}
