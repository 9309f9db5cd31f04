package core

import (
	"context"
	"strings"
	"testing"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate: %v", err)
	}
	if err := cfg.ValidateRuntime(); err == nil || !strings.Contains(err.Error(), "mail.api_key") {
		t.Fatalf("expected runtime validation to require mail.api_key, got %v", err)
	}
	if cfg.Webhook.ToleranceDuration().Seconds() != 300 || cfg.Webhook.KeyTTLDuration().Hours() != 1 {
		t.Fatalf("unexpected webhook defaults %+v", cfg.Webhook)
	}
}

func TestConfigValidateRejectsUnknownDriver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.Driver = "mysql"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected driver validation error")
	}
}

func TestLoadConfigLayersRuntimeOverFile(t *testing.T) {
	provider := NewCfgxConfigProvider(StaticRawConfigLoader{Values: map[string]any{
		"service_name": "relay-file",
		"http":         map[string]any{"addr": ":9000"},
		"mail":         map[string]any{"from_domain": "relay.example.com"},
	}})
	runtime := Config{HTTP: HTTPConfig{Addr: ":7000"}}

	cfg, err := LoadConfig(context.Background(), provider, GoOptionsResolver{}, runtime)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ServiceName != "relay-file" {
		t.Fatalf("expected file service name, got %q", cfg.ServiceName)
	}
	if cfg.HTTP.Addr != ":7000" {
		t.Fatalf("expected runtime addr override, got %q", cfg.HTTP.Addr)
	}
	if cfg.Mail.FromDomain != "relay.example.com" {
		t.Fatalf("expected file mail domain, got %q", cfg.Mail.FromDomain)
	}
	if cfg.Backend.ReplyDomain != "manus.bot" || cfg.Webhook.Tolerance != 300 {
		t.Fatalf("expected defaults to survive layering, got %+v", cfg)
	}
}

func TestConfigToLayerMapOmitsZeroValues(t *testing.T) {
	layer := configToLayerMap(Config{Database: DatabaseConfig{DSN: "x"}}, false)
	if _, ok := layer["service_name"]; ok {
		t.Fatalf("expected empty service name to be omitted")
	}
	if _, ok := layer["http"]; ok {
		t.Fatalf("expected empty http section to be omitted")
	}
	database, ok := layer["database"].(map[string]any)
	if !ok || database["dsn"] != "x" {
		t.Fatalf("expected database dsn in layer, got %#v", layer["database"])
	}
}
