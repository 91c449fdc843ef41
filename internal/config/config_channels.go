package config

import "strings"

// DingTalkAccount is one bot identity. corpId and robotCode may be left empty
// and learned from inbound events at runtime.
type DingTalkAccount struct {
	Enable        *bool  `json:"enable,omitempty"` // default true
	AccountID     string `json:"accountId"`
	BotName       string `json:"botName,omitempty"`
	BotAvatar     string `json:"botAvatar,omitempty"`
	ClientID      string `json:"clientId"`
	ClientSecret  string `json:"clientSecret"`
	CorpID        string `json:"corpId,omitempty"`
	RobotCode     string `json:"robotCode,omitempty"`
	Webhook       string `json:"webhook,omitempty"`       // static group webhook
	WebhookSecret string `json:"webhookSecret,omitempty"` // signing secret for Webhook

	EnableOpenAPIDownload *bool `json:"enableOpenApiDownload,omitempty"` // default true
	EnableOpenAPISend     bool  `json:"enableOpenApiSend,omitempty"`     // allow modern/legacy API sends
	EnablePublicImageBed  *bool `json:"enablePublicImageBed,omitempty"`  // falls back to the global flag
	KeepAlive             *bool `json:"keepAlive,omitempty"`             // default true
	AutoReconnect         *bool `json:"autoReconnect,omitempty"`         // default true
	InlineImageShrink     bool  `json:"inlineImageShrink,omitempty"`

	ExtraTopics FlexibleStringSlice `json:"extraTopics,omitempty"`
	AtUserIDMap map[string]string   `json:"atUserIdMap,omitempty"` // nickname/alias -> user id
	AllowFrom   FlexibleStringSlice `json:"allow_from,omitempty"`
	DMPolicy    string              `json:"dm_policy,omitempty"`    // "open" (default), "allowlist", "disabled"
	GroupPolicy string              `json:"group_policy,omitempty"` // "open" (default), "allowlist", "disabled"
	Debug       bool                `json:"debug,omitempty"`
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// Enabled reports whether the account should be started.
func (a DingTalkAccount) Enabled() bool { return boolOr(a.Enable, true) }

// OpenAPIDownloadEnabled reports whether inbound media handles are resolved via the API.
func (a DingTalkAccount) OpenAPIDownloadEnabled() bool { return boolOr(a.EnableOpenAPIDownload, true) }

// KeepAliveEnabled reports whether the stream client pings the gateway.
func (a DingTalkAccount) KeepAliveEnabled() bool { return boolOr(a.KeepAlive, true) }

// AutoReconnectEnabled reports whether a dropped stream reconnects.
func (a DingTalkAccount) AutoReconnectEnabled() bool { return boolOr(a.AutoReconnect, true) }

// PublicImageBed resolves the image-bed flag: account value, else global, else false.
func (a DingTalkAccount) PublicImageBed(global bool) bool { return boolOr(a.EnablePublicImageBed, global) }

// SelfID is the bot identity used on the bus and in logs.
func (a DingTalkAccount) SelfID() string { return "DingDing_" + strings.TrimSpace(a.AccountID) }
