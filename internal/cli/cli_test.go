package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goliatone/go-relay/backend"
	"github.com/goliatone/go-relay/core"
	"github.com/goliatone/go-relay/server"
)

func TestRootCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	if cmd.Use != "relay" {
		t.Fatalf("expected relay root, got %q", cmd.Use)
	}
	for _, name := range []string{"serve", "migrate", "seed", "credits", "mapping"} {
		sub, _, err := cmd.Find([]string{name})
		if err != nil || sub == nil || sub.Name() != name {
			t.Fatalf("expected %s subcommand, got %v %v", name, sub, err)
		}
	}
	if flag := cmd.PersistentFlags().Lookup("config"); flag == nil || flag.Shorthand != "c" {
		t.Fatalf("expected persistent --config/-c flag")
	}
}

func TestRootRejectsUnknownLogFormat(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"migrate", "--log-format", "xml"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "invalid log format") {
		t.Fatalf("expected log format error, got %v", err)
	}
}

func TestViperLoaderLayersFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
service_name: relay-test
database:
  driver: sqlite3
  dsn: file:from-file.db
webhook:
  tolerance: 120
`)
	loader := ViperLoader{
		Path: path,
		Env: map[string]string{
			"RELAY_DATABASE_DSN":    "file:from-env.db",
			"RELAY_WEBHOOK_KEY_TTL": "900",
		},
	}
	raw, err := loader.LoadRaw(context.Background())
	if err != nil {
		t.Fatalf("load raw: %v", err)
	}
	database := raw["database"].(map[string]any)
	if database["dsn"] != "file:from-env.db" {
		t.Fatalf("expected env to win over file, got %v", database["dsn"])
	}
	webhook := raw["webhook"].(map[string]any)
	if webhook["tolerance"] != 120 || webhook["key_ttl"] != 900 {
		t.Fatalf("expected typed webhook values, got %v", webhook)
	}
	if _, ok := raw["mail"]; ok {
		t.Fatalf("expected unset sections to be omitted")
	}
}

func TestLoadConfigAppliesRuntimeOverrides(t *testing.T) {
	path := writeConfig(t, "http:\n  addr: \":9000\"\n")
	cfg, err := loadConfig(context.Background(), &RootOptions{ConfigPath: path}, core.Config{HTTP: core.HTTPConfig{Addr: ":9100"}})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.HTTP.Addr != ":9100" {
		t.Fatalf("expected runtime override, got %q", cfg.HTTP.Addr)
	}
	if cfg.Backend.ReplyDomain != core.DefaultConfig().Backend.ReplyDomain {
		t.Fatalf("expected defaults to fill unset keys")
	}
}

func TestMigrateAndSeedAgainstSQLiteFile(t *testing.T) {
	path := sqliteConfig(t)

	out := runCLI(t, "--config", path, "migrate")
	if !strings.Contains(out, "migrations applied") {
		t.Fatalf("expected migrate output, got %q", out)
	}

	out = runCLI(t, "--config", path, "seed", "--user", "Ada@Example.com", "--credits", "30", "--approve", "research")
	for _, want := range []string{"workflow research (10 credits)", "workflow summarize (5 credits)", "workflow newsletter (15 credits)", "user ada@example.com"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in seed output, got %q", want, out)
		}
	}

	rt, err := openRuntime(context.Background(), &RootOptions{ConfigPath: path, LogFormat: "json"}, core.Config{}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	defer rt.Close()
	user, err := rt.factory.UserStore().GetUserByEmail(context.Background(), "ada@example.com")
	if err != nil {
		t.Fatalf("load seeded user: %v", err)
	}
	if user.Credits != 30 {
		t.Fatalf("expected 30 credits, got %d", user.Credits)
	}
	research, err := rt.factory.WorkflowStore().GetWorkflowByName(context.Background(), "research")
	if err != nil {
		t.Fatalf("load research: %v", err)
	}
	approved, err := rt.factory.ApprovedSenderStore().IsApprovedSender(context.Background(), research.ID, "ada@example.com")
	if err != nil || !approved {
		t.Fatalf("expected approved sender, got %v %v", approved, err)
	}
}

func TestCreditsAndMappingQueries(t *testing.T) {
	path := sqliteConfig(t)
	runCLI(t, "--config", path, "seed", "--user", "ada@example.com", "--credits", "12", "--reason", "Welcome")

	out := runCLI(t, "--config", path, "credits", "Ada@Example.com")
	if !strings.Contains(out, "user ada@example.com balance 12") || !strings.Contains(out, "+12 Welcome") {
		t.Fatalf("unexpected credits output %q", out)
	}

	rt, err := openRuntime(context.Background(), &RootOptions{ConfigPath: path, LogFormat: "json"}, core.Config{}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	original := "<cli@example.com>"
	mapping, _, err := core.NewMappingLedger(rt.factory.MappingStore()).Create(context.Background(), &original, "ada@example.com", "research")
	rt.Close()
	if err != nil {
		t.Fatalf("create mapping: %v", err)
	}

	out = runCLI(t, "--config", path, "mapping", mapping.ID)
	if !strings.Contains(out, "mapping "+mapping.ID) || !strings.Contains(out, "status pending") {
		t.Fatalf("unexpected mapping output %q", out)
	}

	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--config", path, "mapping", "00000000-0000-0000-0000-000000000000"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected unknown mapping to fail")
	}
}

func TestServedWebhookReachesCommandThroughDispatcher(t *testing.T) {
	path := sqliteConfig(t)
	rt, err := openRuntime(context.Background(), &RootOptions{ConfigPath: path, LogFormat: "json"}, core.Config{}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	defer rt.Close()
	app, err := buildApp(rt, nopMailer{}, backend.NewClient(backend.ConfigFrom(rt.cfg), nil))
	if err != nil {
		t.Fatalf("build app: %v", err)
	}
	srv, subs, err := newHTTPServer(rt, app)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	defer subs.Unsubscribe()

	ping := httptest.NewRequest(http.MethodPost, server.PathTaskWebhook, strings.NewReader(`{"event_id":"e-1","event_type":"ping"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, ping)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected ping to be accepted, got %d %q", rec.Code, rec.Body.String())
	}

	unsigned := httptest.NewRequest(http.MethodPost, server.PathTaskWebhook,
		strings.NewReader(`{"event_id":"e-2","event_type":"task_stopped","task_detail":{"task_id":"t-1","stop_reason":"finish"}}`))
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, unsigned)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected unsigned event to be rejected by the dispatched handler, got %d", rec.Code)
	}
}

func TestSeedRequiresUserForCredits(t *testing.T) {
	path := sqliteConfig(t)
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--config", path, "seed", "--credits", "5"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected --user requirement error")
	}
}

func TestBuildAppWiresFacadeCommands(t *testing.T) {
	path := sqliteConfig(t)
	rt, err := openRuntime(context.Background(), &RootOptions{ConfigPath: path, LogFormat: "json"}, core.Config{}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	defer rt.Close()

	app, err := buildApp(rt, nopMailer{}, backend.NewClient(backend.ConfigFrom(rt.cfg), nil))
	if err != nil {
		t.Fatalf("build app: %v", err)
	}
	commands := app.facade.Commands()
	if commands.HandleInboundEmail == nil || commands.HandleTaskWebhook == nil || commands.GrantCredits == nil {
		t.Fatalf("expected facade commands to be wired")
	}
	if app.processor.Ledger == nil {
		t.Fatalf("expected sql delivery ledger on the processor")
	}
	if app.router.ReplyDomain != rt.cfg.Backend.ReplyDomain {
		t.Fatalf("expected router reply domain from config")
	}
}

func runCLI(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("relay %v: %v", args, err)
	}
	return out.String()
}

func sqliteConfig(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "relay.db")
	return writeConfig(t, "database:\n  driver: sqlite3\n  dsn: \"file:"+dbPath+"?_foreign_keys=on\"\n")
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

type nopMailer struct{}

func (nopMailer) Send(context.Context, core.OutboundEmail) (string, error) {
	return "msg-1", nil
}
