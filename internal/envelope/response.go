package envelope

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Classification tags carried in the "type" field of outbound envelopes.
const (
	TypeResponse = "ai_response"
	TypeError    = "ai_error"
)

// ErrorProcessingFailed is the fixed error category of every Error Envelope.
const ErrorProcessingFailed = "processing failed"

// ErrInvalid marks an envelope that does not satisfy its contract.
var ErrInvalid = errors.New("invalid envelope")

// ValidationError names the offending field of an invalid envelope.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrInvalid, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalid }

// Response is the externally contracted success envelope.
type Response struct {
	ID               string    `json:"id"`
	User             string    `json:"user"`
	Message          string    `json:"message"`
	Response         string    `json:"response"`
	ProcessingTimeMs int64     `json:"processing_time_ms"`
	Timestamp        time.Time `json:"timestamp"`
	Model            string    `json:"model"`
	Type             string    `json:"type"`
	RoundCount       int       `json:"round_count"`
	ToolsUsed        []string  `json:"tools_used"`
}

// Validate checks the envelope against its contract.
func (r *Response) Validate() error {
	switch {
	case strings.TrimSpace(r.ID) == "":
		return &ValidationError{Field: "id", Reason: "is required"}
	case strings.TrimSpace(r.User) == "":
		return &ValidationError{Field: "user", Reason: "is required"}
	case r.Message == "":
		return &ValidationError{Field: "message", Reason: "is required"}
	case strings.TrimSpace(r.Response) == "":
		return &ValidationError{Field: "response", Reason: "is required"}
	case r.ProcessingTimeMs < 0:
		return &ValidationError{Field: "processing_time_ms", Reason: "must not be negative"}
	case r.Timestamp.IsZero():
		return &ValidationError{Field: "timestamp", Reason: "is required"}
	case strings.TrimSpace(r.Model) == "":
		return &ValidationError{Field: "model", Reason: "is required"}
	case r.Type != TypeResponse:
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("must be %q", TypeResponse)}
	case r.RoundCount < 0:
		return &ValidationError{Field: "round_count", Reason: "must not be negative"}
	case r.ToolsUsed == nil:
		return &ValidationError{Field: "tools_used", Reason: "must be a list"}
	case len(r.ToolsUsed) > r.RoundCount:
		return &ValidationError{Field: "tools_used", Reason: "lists more tools than rounds"}
	}
	seen := make(map[string]struct{}, len(r.ToolsUsed))
	for _, name := range r.ToolsUsed {
		if name == "" {
			return &ValidationError{Field: "tools_used", Reason: "contains an empty name"}
		}
		if _, dup := seen[name]; dup {
			return &ValidationError{Field: "tools_used", Reason: fmt.Sprintf("repeats %q", name)}
		}
		seen[name] = struct{}{}
	}
	return nil
}

// Error is the envelope published when a request could not be answered.
type Error struct {
	ID        string    `json:"id"`
	User      string    `json:"user"`
	Error     string    `json:"error"`
	Details   string    `json:"details"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
}

// Result is the orchestrator output handed to the assembler.
type Result struct {
	Text       string
	Model      string
	RoundCount int
	ToolsUsed  []string
}

// Assembler builds and validates terminal envelopes.
type Assembler struct {
	now func() time.Time
}

// NewAssembler creates an assembler stamping envelopes with the wall clock.
func NewAssembler() *Assembler {
	return &Assembler{now: time.Now}
}

// Assemble builds the success envelope for req. A contract violation is a defect:
// it is logged and the caller receives an Error envelope instead, so the returned
// value is always publishable. The returned value is either *Response or *Error.
func (a *Assembler) Assemble(req Request, res Result, elapsed time.Duration) any {
	tools := res.ToolsUsed
	if tools == nil {
		tools = []string{}
	}
	resp := &Response{
		ID:               req.ID,
		User:             req.User,
		Message:          req.Message,
		Response:         res.Text,
		ProcessingTimeMs: elapsed.Milliseconds(),
		Timestamp:        a.now().UTC(),
		Model:            res.Model,
		Type:             TypeResponse,
		RoundCount:       res.RoundCount,
		ToolsUsed:        tools,
	}
	if err := resp.Validate(); err != nil {
		slog.Error("Response envelope failed validation", "id", req.ID, "error", err)
		return a.Failure(req, fmt.Errorf("response envelope failed validation: %w", err))
	}
	return resp
}

// Failure builds the Error envelope for a request whose processing faulted.
func (a *Assembler) Failure(req Request, cause error) *Error {
	details := "unknown error"
	if cause != nil {
		details = cause.Error()
	}
	return &Error{
		ID:        req.ID,
		User:      req.User,
		Error:     ErrorProcessingFailed,
		Details:   details,
		Timestamp: a.now().UTC(),
		Type:      TypeError,
	}
}
