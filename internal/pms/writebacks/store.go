// Package writebacks persists Sikka writeback progress so a poll interrupted
// by a restart or a cancelled request can be resolved later.
package writebacks

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/parlae/pms-gateway/internal/pms/sikka"
)

// ErrNotFound is returned when a writeback id is not tracked.
var ErrNotFound = errors.New("writebacks: not found")

// Record is one tracked writeback.
type Record struct {
	WritebackID   string          `json:"writebackId"`
	IntegrationID string          `json:"integrationId"`
	Operation     string          `json:"operation"`
	Status        string          `json:"status"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	ErrorMessage  string          `json:"errorMessage,omitempty"`
	Attempts      int             `json:"attempts"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	ResolvedAt    *time.Time      `json:"resolvedAt,omitempty"`
}

// Terminal reports whether the writeback has resolved.
func (r Record) Terminal() bool {
	return r.Status != "" && r.Status != sikka.WritebackPending
}

// Store tracks writebacks. It is the poller's tracker plus the queries the
// resumer and the status endpoint need.
type Store interface {
	sikka.WritebackTracker
	Get(ctx context.Context, writebackID string) (*Record, error)
	// ListStale returns pending writebacks not touched since before.
	ListStale(ctx context.Context, before time.Time, limit int) ([]Record, error)
}

func marshalPayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return json.RawMessage("{}"), nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(payload)
}
