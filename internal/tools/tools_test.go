package tools

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MadnessEngineering/whispermind-conduit/internal/conversation"
	"github.com/MadnessEngineering/whispermind-conduit/internal/kv"
)

type panicTool struct{}

func (panicTool) Name() string               { return "boom" }
func (panicTool) Description() string        { return "panics" }
func (panicTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (panicTool) Execute(context.Context, map[string]any) Result {
	panic("kaboom")
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(NewCalculatorTool(), NewSystemSnapshotTool())

	got, ok := r.Get("calculator")
	if !ok {
		t.Fatal("expected to find calculator tool")
	}
	if got.Name() != "calculator" {
		t.Errorf("expected name 'calculator', got '%s'", got.Name())
	}

	if _, ok := r.Get("nonexistent"); ok {
		t.Error("expected not to find nonexistent tool")
	}

	defs := r.Definitions()
	if len(defs) != 2 {
		t.Fatalf("expected 2 definitions, got %d", len(defs))
	}
	if defs[0].Name != "calculator" || defs[1].Name != "system_snapshot" {
		t.Errorf("definitions not sorted: %s, %s", defs[0].Name, defs[1].Name)
	}
}

func TestRegistryExecuteUnknownAndPanic(t *testing.T) {
	r := NewRegistry(panicTool{})

	res := r.Execute(context.Background(), "missing", nil)
	if msg, ok := res.Err(); !ok || !strings.Contains(msg, "tool not found") {
		t.Errorf("expected not-found error, got %v", res)
	}

	res = r.Execute(context.Background(), "boom", nil)
	if msg, ok := res.Err(); !ok || !strings.Contains(msg, "kaboom") {
		t.Errorf("expected panic to become an error result, got %v", res)
	}
}

func TestFileInspectorTool(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.md")
	content := "line one\nline two\n" + strings.Repeat("x", 300)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	tool := NewFileInspectorTool("", 0)
	res := tool.Execute(context.Background(), map[string]any{"path": path})
	if msg, ok := res.Err(); ok {
		t.Fatalf("unexpected error: %s", msg)
	}
	if res["size"] != int64(len(content)) {
		t.Errorf("size = %v, want %d", res["size"], len(content))
	}
	if res["lines"] != 3 {
		t.Errorf("lines = %v, want 3", res["lines"])
	}
	if res["extension"] != ".md" {
		t.Errorf("extension = %v", res["extension"])
	}
	if p := res["preview"].(string); len(p) != DefaultPreviewChars {
		t.Errorf("preview length = %d, want %d", len(p), DefaultPreviewChars)
	}

	res = tool.Execute(context.Background(), map[string]any{"path": filepath.Join(dir, "missing.txt")})
	if msg, ok := res.Err(); !ok || !strings.Contains(msg, "file not found") {
		t.Errorf("expected file not found, got %v", res)
	}

	res = tool.Execute(context.Background(), map[string]any{})
	if _, ok := res.Err(); !ok {
		t.Error("expected error for missing path")
	}
}

func TestFileInspectorRoot(t *testing.T) {
	root := t.TempDir()
	inside := filepath.Join(root, "a.txt")
	_ = os.WriteFile(inside, []byte("ok"), 0644)

	tool := NewFileInspectorTool(root, 10)
	if res := tool.Execute(context.Background(), map[string]any{"path": inside}); res["preview"] != "ok" {
		t.Errorf("inside root: %v", res)
	}

	outside := filepath.Join(t.TempDir(), "b.txt")
	_ = os.WriteFile(outside, []byte("no"), 0644)
	res := tool.Execute(context.Background(), map[string]any{"path": outside})
	if msg, ok := res.Err(); !ok || !strings.Contains(msg, "outside allowed root") {
		t.Errorf("expected root violation, got %v", res)
	}
}

func TestSystemSnapshotTool(t *testing.T) {
	res := NewSystemSnapshotTool().Execute(context.Background(), nil)
	for _, key := range []string{"platform", "arch", "go_version", "num_cpu", "goroutines", "memory", "uptime_seconds", "pid", "hostname"} {
		if _, ok := res[key]; !ok {
			t.Errorf("missing %q in snapshot", key)
		}
	}
	if res["num_cpu"].(int) < 1 {
		t.Errorf("num_cpu = %v", res["num_cpu"])
	}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		expr string
		want float64
	}{
		{"42*137+256", 6010},
		{"1 + 2 * 3", 7},
		{"(1 + 2) * 3", 9},
		{"2^3^2", 512},
		{"2**10", 1024},
		{"-2^2", -4},
		{"10 % 4", 2},
		{"sqrt(16) + abs(-3)", 7},
		{"max(2, min(9, 5))", 5},
		{"pow(2, -1)", 0.5},
		{"round(2.5) + floor(1.9) + ceil(1.1)", 6},
		{"log(1000)", 3},
		{"ln(e)", 1},
		{"1.5e3", 1500},
	}
	for _, tt := range tests {
		got, err := Evaluate(tt.expr)
		if err != nil {
			t.Errorf("Evaluate(%q) error: %v", tt.expr, err)
			continue
		}
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Evaluate(%q) = %v, want %v", tt.expr, got, tt.want)
		}
	}
	if got, _ := Evaluate("pi"); math.Abs(got-math.Pi) > 1e-12 {
		t.Errorf("pi = %v", got)
	}
}

func TestEvaluateRejects(t *testing.T) {
	for _, expr := range []string{
		"1/0",
		"5 % 0",
		"2 +",
		"(1 + 2",
		"import os",
		"__import__('os')",
		"foo(1)",
		"max(1)",
		"1; 2",
		"sqrt(-1)",
		"exp(1000)",
	} {
		if _, err := Evaluate(expr); err == nil {
			t.Errorf("Evaluate(%q) should fail", expr)
		}
	}
	if _, err := Evaluate("1/0"); !errors.Is(err, errDivisionByZero) {
		t.Errorf("expected division by zero, got %v", err)
	}
}

func TestCalculatorTool(t *testing.T) {
	tool := NewCalculatorTool()
	res := tool.Execute(context.Background(), map[string]any{"expression": "42*137+256"})
	if res["result"] != 6010.0 {
		t.Errorf("result = %v", res["result"])
	}
	res = tool.Execute(context.Background(), map[string]any{"expression": "2 +"})
	if _, ok := res.Err(); !ok {
		t.Errorf("expected error result, got %v", res)
	}
	if res["expression"] != "2 +" {
		t.Errorf("expression should be echoed, got %v", res["expression"])
	}
}

func TestConversationHistoryTool(t *testing.T) {
	ctx := context.Background()
	store := conversation.NewStore(kv.NewMemoryStore())
	for i := 0; i < 7; i++ {
		_ = store.Append(ctx, "u1", conversation.Entry{UserMessage: fmt.Sprintf("m%d", i), Type: "ai_response"})
	}
	tool := NewConversationHistoryTool(store)

	res := tool.Execute(WithUser(ctx, "u1"), map[string]any{})
	entries := res["entries"].([]map[string]any)
	if len(entries) != 5 {
		t.Fatalf("default limit: got %d entries", len(entries))
	}
	if res["total"] != int64(7) || res["user"] != "u1" {
		t.Errorf("unexpected result: %v", res)
	}
	if entries[0]["user_message"] != "m6" {
		t.Errorf("newest first, got %v", entries[0]["user_message"])
	}

	res = tool.Execute(WithUser(ctx, "u1"), map[string]any{"limit": float64(500)})
	if got := len(res["entries"].([]map[string]any)); got != 7 {
		t.Errorf("capped limit: got %d entries", got)
	}

	res = tool.Execute(ctx, map[string]any{})
	if _, ok := res.Err(); !ok {
		t.Error("expected error without a user in context")
	}
}
