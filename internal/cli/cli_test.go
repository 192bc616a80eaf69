package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MadnessEngineering/whispermind-conduit/internal/conversation"
	"github.com/MadnessEngineering/whispermind-conduit/internal/envelope"
	"github.com/MadnessEngineering/whispermind-conduit/internal/kv"
	"github.com/MadnessEngineering/whispermind-conduit/internal/status"
)

func runRootCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	_, err := rootCmd.ExecuteC()
	rootCmd.SetArgs(nil)
	return strings.TrimSpace(buf.String()), err
}

// isolate points HOME and every conduit variable at a temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, k := range []string{"CONDUIT_HOME", "CONDUIT_CONFIG", "CONDUIT_ENV_FILE", "OPENAI_API_KEY", "ANTHROPIC_API_KEY"} {
		t.Setenv(k, "")
	}
	return home
}

func useSQLite(t *testing.T, home string) string {
	t.Helper()
	path := filepath.Join(home, "conduit.db")
	t.Setenv("CONDUIT_STORE_DRIVER", "sqlite")
	t.Setenv("CONDUIT_STORE_DB_PATH", path)
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := runRootCommand(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "Version: "+version) {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestConfigInitAndShow(t *testing.T) {
	home := isolate(t)
	t.Setenv("CONDUIT_MODEL_API_KEY", "sk-secret")

	if _, err := runRootCommand(t, "config", "init"); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if _, err := os.Stat(filepath.Join(home, ".conduit", "config.json")); err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if _, err := runRootCommand(t, "config", "init"); err == nil {
		t.Error("second init without --force should fail")
	}

	out, err := runRootCommand(t, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if strings.Contains(out, "sk-secret") || !strings.Contains(out, "********") {
		t.Errorf("api key not redacted: %s", out)
	}
}

func TestStatusCommand(t *testing.T) {
	home := isolate(t)
	path := useSQLite(t, home)

	if _, err := runRootCommand(t, "status"); err == nil {
		t.Fatal("status without a recorded payload should fail")
	}

	store, err := kv.NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	r := status.NewReporter(nil, store, status.Options{Service: "conduit", Version: "9.9.9", Model: "m1"})
	if _, err := r.Report(context.Background(), status.Online, "Service started"); err != nil {
		t.Fatalf("Report: %v", err)
	}
	_ = store.Close()

	out, err := runRootCommand(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "ONLINE") || !strings.Contains(out, "9.9.9") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestHistoryCommand(t *testing.T) {
	home := isolate(t)
	path := useSQLite(t, home)

	store, err := kv.NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	hist := conversation.NewStore(store)
	_ = hist.Append(context.Background(), "u1", conversation.Entry{UserMessage: "Hello", Response: "Hello!", Type: envelope.TypeResponse})
	_ = hist.Append(context.Background(), "u1", conversation.Entry{UserMessage: "oops", Response: "inference timed out", Type: envelope.TypeError})
	_ = store.Close()

	out, err := runRootCommand(t, "history", "u1", "--limit", "5")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "2 of 2 entries") || !strings.Contains(out, "> Hello") || !strings.Contains(out, "inference timed out") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestSendRunsInProcessWithMemoryBus(t *testing.T) {
	isolate(t)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/tags":
			_, _ = w.Write([]byte(`{"models":[]}`))
		case "/api/chat":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"model":   "llama-test",
				"message": map[string]any{"role": "assistant", "content": "Hello!"},
				"done":    true,
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer backend.Close()
	t.Setenv("CONDUIT_MODEL_PROVIDER", "ollama")
	t.Setenv("CONDUIT_MODEL_BASE_URL", backend.URL)

	out, err := runRootCommand(t, "send", "--user", "u1", "--timeout", "5s", "Hello")
	if err != nil {
		t.Fatalf("send: %v (%s)", err, out)
	}
	if !strings.Contains(out, "Hello!") || !strings.Contains(out, "model=llama-test") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]string{"debug": "DEBUG", "WARN": "WARN", "error": "ERROR", "": "INFO", "bogus": "INFO"} {
		if got := parseLevel(in).String(); got != want {
			t.Errorf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
