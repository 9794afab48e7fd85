package events

import "time"

// Writeback outcome event types.
const (
	TypeWritebackCompleted = "pms.writeback.completed.v1"
	TypeWritebackFailed    = "pms.writeback.failed.v1"
	TypeWritebackTimeout   = "pms.writeback.timeout.v1"
)

// WritebackResolvedV1 is emitted once a tracked writeback reaches a terminal state.
type WritebackResolvedV1 struct {
	WritebackID   string    `json:"writeback_id"`
	IntegrationID string    `json:"integration_id"`
	Operation     string    `json:"operation"`
	Status        string    `json:"status"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	Attempts      int       `json:"attempts"`
	ResolvedAt    time.Time `json:"resolved_at"`
}

// WritebackEventType maps a terminal writeback status onto its event type.
func WritebackEventType(status string) string {
	switch status {
	case "completed":
		return TypeWritebackCompleted
	case "failed":
		return TypeWritebackFailed
	default:
		return TypeWritebackTimeout
	}
}
