package tracing

import (
	"context"
	"testing"

	"github.com/XuF163/dingbridge/internal/config"
)

func TestSetup_Disabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TelemetryConfig{}, "dev")
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestSetup_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.TelemetryConfig
	}{
		{"no endpoint", config.TelemetryConfig{Enabled: true}},
		{"bad protocol", config.TelemetryConfig{Enabled: true, Endpoint: "localhost:4317", Protocol: "kafka"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Setup(context.Background(), tt.cfg, "dev"); err == nil {
				t.Error("Setup succeeded, want error")
			}
		})
	}
}

func TestSetup_HTTPExporter(t *testing.T) {
	// Exporter construction does not dial; shutdown flushes nothing.
	shutdown, err := Setup(context.Background(), config.TelemetryConfig{
		Enabled:  true,
		Endpoint: "http://127.0.0.1:4318",
		Protocol: "http",
		Insecure: true,
	}, "dev")
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	shutdown(context.Background())
}
