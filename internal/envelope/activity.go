package envelope

import "time"

// RoundCompleted is the status of a round whose tool has returned.
const RoundCompleted = "completed"

// TypeRound tags activity channel payloads.
const TypeRound = "agent_round"

// RoundEvent reports one tool invocation within an autonomous request.
type RoundEvent struct {
	RequestID string         `json:"request_id"`
	User      string         `json:"user"`
	Round     int            `json:"round"`
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Status    string         `json:"status"`
	Result    map[string]any `json:"result,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"`
}
