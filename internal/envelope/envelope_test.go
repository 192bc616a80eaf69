package envelope

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseRequestDefaults(t *testing.T) {
	req, err := ParseRequest([]byte(`{"message":"Hello"}`))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if !strings.HasPrefix(req.ID, "req-") {
		t.Errorf("generated id = %q", req.ID)
	}
	if req.User != DefaultUser || req.AgentMode != ModeStandard {
		t.Errorf("user=%q mode=%q", req.User, req.AgentMode)
	}
	if req.Temperature != DefaultTemperature || req.MaxTokens != DefaultMaxTokens {
		t.Errorf("temperature=%v max_tokens=%d", req.Temperature, req.MaxTokens)
	}
	if req.ReceivedAt.IsZero() {
		t.Error("ReceivedAt should be set")
	}
}

func TestParseRequestKeepsExplicitValues(t *testing.T) {
	req, err := ParseRequest([]byte(`{"id":"r1","user":"u1","message":"x","agent_mode":"Autonomous","temperature":0,"max_tokens":50,"context":"c"}`))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if req.ID != "r1" || req.User != "u1" || !req.Autonomous() {
		t.Errorf("unexpected request: %+v", req)
	}
	if req.Temperature != 0 || req.MaxTokens != 50 || req.Context != "c" {
		t.Errorf("explicit values lost: %+v", req)
	}
}

func TestParseRequestRejects(t *testing.T) {
	for _, payload := range []string{
		`not json`,
		`[]`,
		`{"user":"u1"}`,
		`{"message":"   "}`,
		`{"message":"x","agent_mode":"turbo"}`,
		`{"message":"x","max_tokens":0}`,
	} {
		if _, err := ParseRequest([]byte(payload)); !errors.Is(err, ErrMalformed) {
			t.Errorf("ParseRequest(%s) err = %v, want ErrMalformed", payload, err)
		}
	}
}

func TestParseRequestRecoversIdentity(t *testing.T) {
	tests := []struct {
		payload string
		id      string
		user    string
	}{
		{`{"id":"p1","user":"u1","message":"x","agent_mode":"auto"}`, "p1", "u1"},
		{`{"id":"p2","message":"x","max_tokens":0}`, "p2", DefaultUser},
		{`{"id":"p3","user":"u3","message":"x","temperature":"hot"}`, "p3", "u3"},
		{`{"id":"p4","user":"u4"}`, "p4", "u4"},
		{`{"id":7,"message":"x","agent_mode":"auto"}`, "", DefaultUser},
		{`not json`, "", ""},
	}
	for _, tt := range tests {
		req, err := ParseRequest([]byte(tt.payload))
		if !errors.Is(err, ErrMalformed) {
			t.Errorf("ParseRequest(%s) err = %v, want ErrMalformed", tt.payload, err)
			continue
		}
		if req.ID != tt.id || req.User != tt.user {
			t.Errorf("ParseRequest(%s) recovered id=%q user=%q, want %q %q", tt.payload, req.ID, req.User, tt.id, tt.user)
		}
	}
}

func fixedAssembler() *Assembler {
	return &Assembler{now: func() time.Time { return time.Unix(1_700_000_000, 0) }}
}

func TestAssembleSuccess(t *testing.T) {
	a := fixedAssembler()
	req := Request{ID: "r1", User: "u1", Message: "hi"}
	out := a.Assemble(req, Result{Text: "Hello!", Model: "m1"}, 1500*time.Millisecond)

	resp, ok := out.(*Response)
	if !ok {
		t.Fatalf("got %T, want *Response", out)
	}
	if resp.Type != TypeResponse || resp.ProcessingTimeMs != 1500 || resp.RoundCount != 0 {
		t.Errorf("unexpected envelope: %+v", resp)
	}
	if resp.ToolsUsed == nil || len(resp.ToolsUsed) != 0 {
		t.Errorf("tools_used = %v, want empty list", resp.ToolsUsed)
	}
	if !resp.Timestamp.Equal(time.Unix(1_700_000_000, 0)) {
		t.Errorf("timestamp = %v", resp.Timestamp)
	}
}

func TestAssembleInvalidBecomesError(t *testing.T) {
	a := fixedAssembler()
	req := Request{ID: "r1", User: "u1", Message: "hi"}

	tests := []struct {
		name string
		res  Result
	}{
		{"empty text", Result{Text: "  ", Model: "m1"}},
		{"no model", Result{Text: "ok"}},
		{"more tools than rounds", Result{Text: "ok", Model: "m1", RoundCount: 1, ToolsUsed: []string{"a", "b"}}},
		{"duplicate tools", Result{Text: "ok", Model: "m1", RoundCount: 2, ToolsUsed: []string{"a", "a"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := a.Assemble(req, tt.res, time.Second)
			e, ok := out.(*Error)
			if !ok {
				t.Fatalf("got %T, want *Error", out)
			}
			if e.Type != TypeError || e.Error != ErrorProcessingFailed || e.ID != "r1" || e.User != "u1" {
				t.Errorf("unexpected error envelope: %+v", e)
			}
			if !strings.Contains(e.Details, "invalid envelope") {
				t.Errorf("details = %q", e.Details)
			}
		})
	}
}

func TestFailureCarriesCause(t *testing.T) {
	e := fixedAssembler().Failure(Request{ID: "r1", User: "u1"}, errors.New("inference timed out"))
	if e.Details != "inference timed out" || e.Type != TypeError {
		t.Errorf("unexpected error envelope: %+v", e)
	}
	if fixedAssembler().Failure(Request{}, nil).Details == "" {
		t.Error("nil cause should still produce details")
	}
}

func TestValidationErrorUnwraps(t *testing.T) {
	err := (&Response{}).Validate()
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "id" || !errors.Is(err, ErrInvalid) {
		t.Errorf("Validate err = %v", err)
	}
}
