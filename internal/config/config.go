package config

import (
	"encoding/json"
	"fmt"
	"sync"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the DingTalk bridge.
type Config struct {
	EnableDingAdapter    bool                `json:"enableDingAdapter"`
	DebugGlobal          bool                `json:"debugGlobal,omitempty"`
	EnablePublicImageBed bool                `json:"enablePublicImageBed,omitempty"`
	DefaultWebhook       string              `json:"defaultWebhook,omitempty"`
	Accounts             []DingTalkAccount   `json:"dingdingAccounts"`
	Masters              FlexibleStringSlice `json:"masters,omitempty"` // user ids allowed to run #ding commands
	Bindings             BindingsConfig      `json:"bindings"`
	Gateway              GatewayConfig       `json:"gateway"`
	Telemetry            TelemetryConfig     `json:"telemetry,omitempty"`
	Database             DatabaseConfig      `json:"database,omitempty"`
	mu                   sync.RWMutex
}

// BindingsConfig selects the webhook binding store backend.
type BindingsConfig struct {
	Driver string `json:"driver,omitempty"` // "file" (default), "sqlite", "postgres"
	Path   string `json:"path,omitempty"`   // file: JSON path; sqlite: database path
}

// DatabaseConfig configures Postgres for the postgres binding backend.
// PostgresDSN is NEVER read from config.json (secret); only from env DINGBRIDGE_POSTGRES_DSN.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`
	Mode        string `json:"mode,omitempty"`
}

// GatewayConfig controls the admin gateway server.
type GatewayConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`                     // 0 = admin gateway disabled
	Token        string `json:"token,omitempty"`          // bearer token for WS/HTTP auth
	RateLimitRPM int    `json:"rate_limit_rpm,omitempty"` // requests per minute per client IP (0 = disabled)

	AllowedOrigins []string `json:"allowed_origins,omitempty"` // /ws Origin whitelist; empty = allow all
}

// TelemetryConfig configures OpenTelemetry export for traces and spans.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`      // enable OTLP export (default false)
	Endpoint    string            `json:"endpoint,omitempty"`     // OTLP endpoint (e.g. "localhost:4317", "https://otel.example.com:4318")
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`     // plaintext transport (local dev)
	ServiceName string            `json:"service_name,omitempty"` // OTEL service name (default "dingbridge")
	Headers     map[string]string `json:"headers,omitempty"`      // extra headers (e.g. auth tokens for cloud backends)
}

// IsMaster reports whether userID may run admin chat commands.
func (c *Config) IsMaster(userID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, m := range c.Masters {
		if m != "" && m == userID {
			return true
		}
	}
	return false
}

// DebugEnabled reports whether debug logging was requested globally or by any account.
func (c *Config) DebugEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.DebugGlobal {
		return true
	}
	for _, a := range c.Accounts {
		if a.Debug {
			return true
		}
	}
	return false
}

// FallbackWebhook returns the process-wide default webhook.
func (c *Config) FallbackWebhook() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.DefaultWebhook
}

// PublicImageBedEnabled returns the global public image bed flag.
func (c *Config) PublicImageBedEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.EnablePublicImageBed
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.EnableDingAdapter = src.EnableDingAdapter
	c.DebugGlobal = src.DebugGlobal
	c.EnablePublicImageBed = src.EnablePublicImageBed
	c.DefaultWebhook = src.DefaultWebhook
	c.Accounts = src.Accounts
	c.Masters = src.Masters
	c.Bindings = src.Bindings
	c.Gateway = src.Gateway
	c.Telemetry = src.Telemetry
	c.Database = src.Database
}
