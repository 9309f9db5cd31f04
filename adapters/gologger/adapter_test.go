package gologger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	glog "github.com/goliatone/go-logger/glog"
)

func TestProviderWritesNamedJSONRecords(t *testing.T) {
	var buf bytes.Buffer
	provider := New(Options{Level: "debug", Writer: &buf})

	provider.GetLogger("relay.dispatch").Info("dispatched", "mapping_id", "m-1")

	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &record); err != nil {
		t.Fatalf("decode record: %v (%q)", err, buf.String())
	}
	if record["msg"] != "dispatched" {
		t.Fatalf("expected msg dispatched, got %v", record["msg"])
	}
	if record["logger"] != "relay.dispatch" {
		t.Fatalf("expected logger name, got %v", record["logger"])
	}
	if record["mapping_id"] != "m-1" {
		t.Fatalf("expected mapping_id attribute, got %v", record["mapping_id"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: "warn", Format: "text", Writer: &buf}).GetLogger("relay")

	logger.Debug("hidden")
	logger.Info("hidden")
	logger.WithContext(context.Background()).Warn("shown", "k", "v")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("expected debug and info to be filtered, got %q", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "k=v") {
		t.Fatalf("expected warn record with attribute, got %q", out)
	}
}

func TestFatalDoesNotExit(t *testing.T) {
	var buf bytes.Buffer
	New(Options{Writer: &buf}).GetLogger("").Fatal("boom")
	if !strings.Contains(buf.String(), `"fatal":true`) {
		t.Fatalf("expected fatal marker, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{
		"debug":   "DEBUG",
		"WARNING": "WARN",
		"fatal":   "ERROR",
		"":        "INFO",
	}
	for in, want := range cases {
		if got := ParseLevel(in).String(); got != want {
			t.Fatalf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestResolveDeterministicFallback(t *testing.T) {
	var buf bytes.Buffer
	provider := New(Options{Writer: &buf})
	direct := NewLogger(nil)

	_, resolved := Resolve("relay", provider, direct)
	resolved.Info("from provider")
	if !strings.Contains(buf.String(), "from provider") {
		t.Fatalf("expected provider logger precedence")
	}

	resolvedProvider, resolved := Resolve("relay", nil, direct)
	if resolved != glog.Logger(direct) {
		t.Fatalf("expected direct logger when provider is nil")
	}
	if resolvedProvider == nil {
		t.Fatalf("expected provider wrapper from logger")
	}

	if _, resolved = Resolve("relay", nil, nil); resolved == nil {
		t.Fatalf("expected nop logger fallback")
	}
}
