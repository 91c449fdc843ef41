package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// BindingsFileName is the default file name of the webhook binding store.
const BindingsFileName = "dingtalk.webhookBindings.json"

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		EnableDingAdapter: true,
		Bindings: BindingsConfig{
			Driver: "file",
			Path:   "~/.dingbridge/data/" + BindingsFileName,
		},
		Gateway: GatewayConfig{
			Host:         "127.0.0.1",
			Port:         0,
			RateLimitRPM: 60,
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "dingbridge",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file yields the defaults (plus env overrides).
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	envStr("DINGBRIDGE_DEFAULT_WEBHOOK", &c.DefaultWebhook)
	envBool("DINGBRIDGE_ENABLE", &c.EnableDingAdapter)
	envBool("DINGBRIDGE_DEBUG", &c.DebugGlobal)

	// Gateway
	envStr("DINGBRIDGE_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("DINGBRIDGE_HOST", &c.Gateway.Host)
	if v := os.Getenv("DINGBRIDGE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port >= 0 {
			c.Gateway.Port = port
		}
	}

	// Binding store
	envStr("DINGBRIDGE_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("DINGBRIDGE_BINDINGS_DRIVER", &c.Bindings.Driver)
	envStr("DINGBRIDGE_BINDINGS_PATH", &c.Bindings.Path)

	// Telemetry
	envStr("DINGBRIDGE_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("DINGBRIDGE_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("DINGBRIDGE_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	envBool("DINGBRIDGE_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envBool("DINGBRIDGE_TELEMETRY_INSECURE", &c.Telemetry.Insecure)

	// Masters from env (comma-separated)
	if v := os.Getenv("DINGBRIDGE_MASTERS"); v != "" {
		c.Masters = splitNonEmpty(v)
	}

	// Single-account bootstrap from env.
	clientID := strings.TrimSpace(os.Getenv("DINGBRIDGE_CLIENT_ID"))
	clientSecret := strings.TrimSpace(os.Getenv("DINGBRIDGE_CLIENT_SECRET"))
	if clientID != "" && clientSecret != "" {
		for _, a := range c.Accounts {
			if strings.TrimSpace(a.ClientID) == clientID {
				return
			}
		}
		acc := DingTalkAccount{
			AccountID:    clientID,
			ClientID:     clientID,
			ClientSecret: clientSecret,
		}
		envStr("DINGBRIDGE_ACCOUNT_ID", &acc.AccountID)
		envStr("DINGBRIDGE_CORP_ID", &acc.CorpID)
		envStr("DINGBRIDGE_ROBOT_CODE", &acc.RobotCode)
		c.Accounts = append(c.Accounts, acc)
	}
}

func splitNonEmpty(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Save writes the config to a JSON file.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Hash returns a short SHA-256 hash of the config, used to log config changes.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// BindingsPath returns the expanded binding store path.
func (c *Config) BindingsPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Bindings.Path)
}

const secretMask = "***"

// MaskedCopy returns a deep copy of the config with all secret fields masked.
// Used by the status API to avoid exposing secrets.
func (c *Config) MaskedCopy() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Deep copy via JSON round-trip
	data, err := json.Marshal(c)
	if err != nil {
		return &Config{}
	}
	cp := Default()
	if err := json.Unmarshal(data, cp); err != nil {
		return &Config{}
	}

	maskNonEmpty(&cp.Gateway.Token)
	maskNonEmpty(&cp.DefaultWebhook)
	for i := range cp.Accounts {
		a := &cp.Accounts[i]
		maskNonEmpty(&a.ClientSecret)
		maskNonEmpty(&a.Webhook)
		maskNonEmpty(&a.WebhookSecret)
	}
	for k := range cp.Telemetry.Headers {
		cp.Telemetry.Headers[k] = secretMask
	}

	return cp
}

func maskNonEmpty(s *string) {
	if *s != "" {
		*s = secretMask
	}
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
