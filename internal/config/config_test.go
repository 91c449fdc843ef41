package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_JSON5AndDefaults(t *testing.T) {
	path := writeConfig(t, `{
		// comments are allowed
		dingdingAccounts: [
			{accountId: "a1", clientId: "cid", clientSecret: "sec", keepAlive: false},
		],
		masters: [10086, "u2"],
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.EnableDingAdapter {
		t.Error("EnableDingAdapter should default to true")
	}
	if cfg.Bindings.Driver != "file" {
		t.Errorf("Bindings.Driver = %q, want file", cfg.Bindings.Driver)
	}
	if len(cfg.Accounts) != 1 {
		t.Fatalf("len(Accounts) = %d, want 1", len(cfg.Accounts))
	}
	a := cfg.Accounts[0]
	if !a.Enabled() || !a.OpenAPIDownloadEnabled() || !a.AutoReconnectEnabled() {
		t.Error("account flags should default to true")
	}
	if a.KeepAliveEnabled() {
		t.Error("keepAlive: false should be honoured")
	}
	if a.EnableOpenAPISend {
		t.Error("enableOpenApiSend should default to false")
	}
	if got := a.SelfID(); got != "DingDing_a1" {
		t.Errorf("SelfID = %q, want DingDing_a1", got)
	}
	if !cfg.IsMaster("10086") || cfg.IsMaster("nobody") {
		t.Errorf("Masters = %v", cfg.Masters)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Accounts) != 0 {
		t.Errorf("Accounts = %v, want none", cfg.Accounts)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DINGBRIDGE_PORT", "18888")
	t.Setenv("DINGBRIDGE_GATEWAY_TOKEN", "tok")
	t.Setenv("DINGBRIDGE_CLIENT_ID", "envcid")
	t.Setenv("DINGBRIDGE_CLIENT_SECRET", "envsec")
	t.Setenv("DINGBRIDGE_ACCOUNT_ID", "envacc")

	cfg, err := Load(writeConfig(t, `{}`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Port != 18888 {
		t.Errorf("Gateway.Port = %d, want 18888", cfg.Gateway.Port)
	}
	if cfg.Gateway.Token != "tok" {
		t.Errorf("Gateway.Token = %q, want tok", cfg.Gateway.Token)
	}
	if len(cfg.Accounts) != 1 || cfg.Accounts[0].AccountID != "envacc" || cfg.Accounts[0].ClientID != "envcid" {
		t.Errorf("Accounts = %+v, want one env account", cfg.Accounts)
	}
}

func TestLoad_EnvAccountNotDuplicated(t *testing.T) {
	t.Setenv("DINGBRIDGE_CLIENT_ID", "cid")
	t.Setenv("DINGBRIDGE_CLIENT_SECRET", "other")

	cfg, err := Load(writeConfig(t, `{dingdingAccounts: [{accountId: "a", clientId: "cid", clientSecret: "s"}]}`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Accounts) != 1 {
		t.Errorf("len(Accounts) = %d, want 1", len(cfg.Accounts))
	}
}

func TestPublicImageBed(t *testing.T) {
	on, off := true, false
	tests := []struct {
		name    string
		account *bool
		global  bool
		want    bool
	}{
		{"unset falls back to global true", nil, true, true},
		{"unset falls back to global false", nil, false, false},
		{"account overrides global", &off, true, false},
		{"account enables", &on, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := DingTalkAccount{EnablePublicImageBed: tt.account}
			if got := a.PublicImageBed(tt.global); got != tt.want {
				t.Errorf("PublicImageBed(%v) = %v, want %v", tt.global, got, tt.want)
			}
		})
	}
}

func TestMaskedCopy(t *testing.T) {
	cfg := Default()
	cfg.Gateway.Token = "secret-token"
	cfg.Accounts = []DingTalkAccount{{AccountID: "a", ClientID: "cid", ClientSecret: "s3cr3t", WebhookSecret: "whsec"}}

	cp := cfg.MaskedCopy()
	if cp.Gateway.Token != secretMask {
		t.Errorf("Gateway.Token = %q, want masked", cp.Gateway.Token)
	}
	if cp.Accounts[0].ClientSecret != secretMask || cp.Accounts[0].WebhookSecret != secretMask {
		t.Errorf("account secrets not masked: %+v", cp.Accounts[0])
	}
	if cp.Accounts[0].ClientID != "cid" {
		t.Errorf("ClientID = %q, want unmasked cid", cp.Accounts[0].ClientID)
	}
	if cfg.Accounts[0].ClientSecret != "s3cr3t" {
		t.Error("MaskedCopy mutated the original")
	}
}
