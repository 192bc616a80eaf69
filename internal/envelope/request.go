// Package envelope defines the wire contracts exchanged over the bus:
// inbound requests and the response/error envelopes published in reply.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Agent modes accepted on the request channel.
const (
	ModeStandard   = "standard"
	ModeAutonomous = "autonomous"
)

// Request defaults applied when a field is absent.
const (
	DefaultUser        = "anonymous"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1000
)

// ErrMalformed is returned by ParseRequest for payloads that cannot be answered.
var ErrMalformed = errors.New("malformed request")

// Request is an inbound natural-language request. It is not modified after parsing.
type Request struct {
	ID          string    `json:"id"`
	User        string    `json:"user"`
	Message     string    `json:"message"`
	AgentMode   string    `json:"agent_mode"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	Context     string    `json:"context,omitempty"`
	ReceivedAt  time.Time `json:"-"`
}

// wireRequest keeps optional numeric fields distinguishable from explicit zeros.
type wireRequest struct {
	ID          string   `json:"id"`
	User        string   `json:"user"`
	Message     *string  `json:"message"`
	AgentMode   string   `json:"agent_mode"`
	Temperature *float64 `json:"temperature"`
	MaxTokens   *int     `json:"max_tokens"`
	Context     string   `json:"context"`
}

// ParseRequest decodes a request payload and applies defaults. Payloads that are
// not JSON objects, lack a message, or carry an unknown mode or bad field are
// rejected with ErrMalformed. A rejected request still carries the id, user and
// message that could be recovered; an empty ID means it cannot be answered.
func ParseRequest(data []byte) (Request, error) {
	var w wireRequest
	if err := json.Unmarshal(data, &w); err != nil {
		return identify(data), fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if w.Message == nil || strings.TrimSpace(*w.Message) == "" {
		return identify(data), fmt.Errorf("%w: message is required", ErrMalformed)
	}

	req := Request{
		ID:          strings.TrimSpace(w.ID),
		User:        strings.TrimSpace(w.User),
		Message:     *w.Message,
		AgentMode:   strings.ToLower(strings.TrimSpace(w.AgentMode)),
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
		Context:     w.Context,
		ReceivedAt:  time.Now(),
	}
	if req.User == "" {
		req.User = DefaultUser
	}
	switch req.AgentMode {
	case "":
		req.AgentMode = ModeStandard
	case ModeStandard, ModeAutonomous:
	default:
		return identify(data), fmt.Errorf("%w: unknown agent_mode %q", ErrMalformed, w.AgentMode)
	}
	if w.MaxTokens != nil && *w.MaxTokens <= 0 {
		return identify(data), fmt.Errorf("%w: max_tokens must be positive", ErrMalformed)
	}
	if req.ID == "" {
		req.ID = NewID()
	}
	if w.Temperature != nil {
		req.Temperature = *w.Temperature
	}
	if w.MaxTokens != nil {
		req.MaxTokens = *w.MaxTokens
	}
	return req, nil
}

// identify pulls the string id, user and message out of a payload that failed
// to parse. Fields of the wrong type are left empty.
func identify(data []byte) Request {
	var fields map[string]json.RawMessage
	if json.Unmarshal(data, &fields) != nil {
		return Request{}
	}
	str := func(key string) string {
		var v string
		if raw, ok := fields[key]; ok && json.Unmarshal(raw, &v) == nil {
			return strings.TrimSpace(v)
		}
		return ""
	}
	req := Request{ID: str("id"), User: str("user"), Message: str("message"), ReceivedAt: time.Now()}
	if req.User == "" {
		req.User = DefaultUser
	}
	return req
}

// NewID returns a fresh request identifier.
func NewID() string {
	return "req-" + uuid.NewString()
}

// Autonomous reports whether the caller explicitly asked for autonomous mode.
func (r Request) Autonomous() bool {
	return r.AgentMode == ModeAutonomous
}
