// Package compliance records access to patient data held in the practice-management system.
package compliance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// AuditEventType represents the kind of PHI access.
type AuditEventType string

const (
	// EventPHIRead is logged when patient data is returned to a caller.
	EventPHIRead AuditEventType = "pms.phi_read"
	// EventPHIWrite is logged when patient data is created or changed in the PMS.
	EventPHIWrite AuditEventType = "pms.phi_write"
	// EventPHIAccessFailed is logged when a PHI operation was attempted but failed.
	EventPHIAccessFailed AuditEventType = "pms.phi_access_failed"
)

// Outcomes stored alongside an event.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// AuditEvent represents an immutable PHI access record.
type AuditEvent struct {
	ID            string          `json:"id"`
	EventType     AuditEventType  `json:"event_type"`
	IntegrationID string          `json:"integration_id"`
	Operation     string          `json:"operation"`
	Actor         string          `json:"actor,omitempty"`
	RequestID     string          `json:"request_id,omitempty"`
	ResourceType  string          `json:"resource_type"`
	ResourceIDs   []string        `json:"resource_ids,omitempty"`
	Outcome       string          `json:"outcome"`
	ErrorCode     string          `json:"error_code,omitempty"`
	Details       json.RawMessage `json:"details,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// AccessDetails holds optional event-specific context. Field values must never carry PHI.
type AccessDetails struct {
	ResultCount int      `json:"result_count,omitempty"`
	WritebackID string   `json:"writeback_id,omitempty"`
	SearchBy    []string `json:"search_by,omitempty"`
}

// Access describes one tool call touching patient data.
type Access struct {
	IntegrationID string
	Operation     string
	Actor         string
	RequestID     string
	ResourceType  string
	ResourceIDs   []string
	Write         bool
	ErrorCode     string // empty when the call succeeded
	Details       *AccessDetails
}

// AuditService handles PHI access logging. A nil *AuditService discards events.
type AuditService struct {
	db  *sql.DB
	now func() time.Time
}

// NewAuditService creates a new audit service.
func NewAuditService(db *sql.DB) *AuditService {
	return &AuditService{db: db, now: time.Now}
}

// LogEvent records an audit event.
func (s *AuditService) LogEvent(ctx context.Context, event AuditEvent) error {
	if s == nil || s.db == nil {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now().UTC()
	}
	if event.Outcome == "" {
		event.Outcome = OutcomeSuccess
	}
	details := event.Details
	if len(details) == 0 {
		details = json.RawMessage(`{}`)
	}

	query := `
		INSERT INTO pms_audit_events (
			id, event_type, integration_id, operation, actor, request_id,
			resource_type, resource_ids, outcome, error_code, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.EventType,
		event.IntegrationID,
		event.Operation,
		nullString(event.Actor),
		nullString(event.RequestID),
		event.ResourceType,
		pq.Array(event.ResourceIDs),
		event.Outcome,
		nullString(event.ErrorCode),
		[]byte(details),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("compliance: failed to log audit event: %w", err)
	}

	return nil
}

// LogAccess turns a tool call into an audit event.
func (s *AuditService) LogAccess(ctx context.Context, access Access) error {
	if s == nil {
		return nil
	}
	event := AuditEvent{
		EventType:     EventPHIRead,
		IntegrationID: access.IntegrationID,
		Operation:     access.Operation,
		Actor:         access.Actor,
		RequestID:     access.RequestID,
		ResourceType:  access.ResourceType,
		ResourceIDs:   compactIDs(access.ResourceIDs),
		Outcome:       OutcomeSuccess,
		ErrorCode:     access.ErrorCode,
	}
	if access.Write {
		event.EventType = EventPHIWrite
	}
	if access.ErrorCode != "" {
		event.EventType = EventPHIAccessFailed
		event.Outcome = OutcomeFailure
	}
	if access.Details != nil {
		raw, err := json.Marshal(access.Details)
		if err != nil {
			return fmt.Errorf("compliance: marshal details: %w", err)
		}
		event.Details = raw
	}
	return s.LogEvent(ctx, event)
}

// QueryEvents retrieves audit events with filters.
func (s *AuditService) QueryEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := `
		SELECT id, event_type, integration_id, operation, actor, request_id,
			   resource_type, resource_ids, outcome, error_code, details, created_at
		FROM pms_audit_events
		WHERE integration_id = $1
	`
	args := []interface{}{filter.IntegrationID}
	argIdx := 2

	if filter.ResourceID != "" {
		query += fmt.Sprintf(" AND $%d = ANY(resource_ids)", argIdx)
		args = append(args, filter.ResourceID)
		argIdx++
	}
	if filter.EventType != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, filter.EventType)
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.EndTime)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("compliance: failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var e AuditEvent
		var actor, requestID, errorCode sql.NullString
		var details []byte
		err := rows.Scan(
			&e.ID, &e.EventType, &e.IntegrationID, &e.Operation, &actor, &requestID,
			&e.ResourceType, pq.Array(&e.ResourceIDs), &e.Outcome, &errorCode, &details, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("compliance: failed to scan audit event: %w", err)
		}
		e.Actor = actor.String
		e.RequestID = requestID.String
		e.ErrorCode = errorCode.String
		if len(details) > 0 {
			e.Details = json.RawMessage(details)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("compliance: failed to iterate audit events: %w", err)
	}

	return events, nil
}

// AuditFilter specifies criteria for querying audit events.
type AuditFilter struct {
	IntegrationID string
	ResourceID    string
	EventType     AuditEventType
	StartTime     time.Time
	EndTime       time.Time
	Limit         int
	Offset        int
}

func compactIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
