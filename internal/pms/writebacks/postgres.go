package writebacks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parlae/pms-gateway/internal/events"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PGStore keeps writebacks in pms_writebacks and publishes the terminal
// transition to the outbox in the same transaction.
type PGStore struct {
	db  querier
	now func() time.Time
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	if pool == nil {
		panic("writebacks: pgx pool required")
	}
	return &PGStore{db: pool, now: time.Now}
}

func newPGStoreWithExec(db querier) *PGStore {
	if db == nil {
		panic("writebacks: exec required")
	}
	return &PGStore{db: db, now: time.Now}
}

const selectColumns = `writeback_id, integration_id, operation, status, payload, error_message, attempts, created_at, updated_at, resolved_at`

func (s *PGStore) Begin(ctx context.Context, integrationID, writebackID, operation string, payload any) error {
	data, err := marshalPayload(payload)
	if err != nil {
		return fmt.Errorf("writebacks: marshal payload: %w", err)
	}
	query := `
		INSERT INTO pms_writebacks (writeback_id, integration_id, operation, status, payload)
		VALUES ($1, $2, $3, 'pending', $4)
		ON CONFLICT (writeback_id) DO NOTHING
	`
	if _, err := s.db.Exec(ctx, query, writebackID, integrationID, operation, []byte(data)); err != nil {
		return fmt.Errorf("writebacks: insert: %w", err)
	}
	return nil
}

func (s *PGStore) Attempt(ctx context.Context, writebackID string, attempts int) error {
	query := `
		UPDATE pms_writebacks
		SET attempts = GREATEST(attempts, $2), updated_at = now()
		WHERE writeback_id = $1 AND status = 'pending'
	`
	if _, err := s.db.Exec(ctx, query, writebackID, attempts); err != nil {
		return fmt.Errorf("writebacks: record attempt: %w", err)
	}
	return nil
}

// Finish moves a pending writeback to status and appends the matching outbox
// event. Already resolved writebacks are left untouched.
func (s *PGStore) Finish(ctx context.Context, writebackID, status, errorMessage string, attempts int) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("writebacks: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	resolvedAt := s.now().UTC()
	query := `
		UPDATE pms_writebacks
		SET status = $2, error_message = $3, attempts = GREATEST(attempts, $4), updated_at = $5, resolved_at = $5
		WHERE writeback_id = $1 AND status = 'pending'
		RETURNING integration_id, operation, attempts
	`
	var integrationID, operation string
	var total int
	err = tx.QueryRow(ctx, query, writebackID, status, errorMessage, attempts, resolvedAt).Scan(&integrationID, &operation, &total)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("writebacks: finish: %w", err)
	}

	event := events.WritebackResolvedV1{
		WritebackID:   writebackID,
		IntegrationID: integrationID,
		Operation:     operation,
		Status:        status,
		ErrorMessage:  errorMessage,
		Attempts:      total,
		ResolvedAt:    resolvedAt,
	}
	if _, err := events.Append(ctx, tx, integrationID, events.WritebackEventType(status), event); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("writebacks: commit: %w", err)
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, writebackID string) (*Record, error) {
	query := `SELECT ` + selectColumns + ` FROM pms_writebacks WHERE writeback_id = $1`
	rec, err := scanRecord(s.db.QueryRow(ctx, query, writebackID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("writebacks: get: %w", err)
	}
	return rec, nil
}

func (s *PGStore) ListStale(ctx context.Context, before time.Time, limit int) ([]Record, error) {
	query := `
		SELECT ` + selectColumns + `
		FROM pms_writebacks
		WHERE status = 'pending' AND updated_at < $1
		ORDER BY updated_at
		LIMIT $2
	`
	rows, err := s.db.Query(ctx, query, before.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("writebacks: list stale: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("writebacks: scan: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (*Record, error) {
	var (
		rec     Record
		payload []byte
	)
	if err := row.Scan(
		&rec.WritebackID,
		&rec.IntegrationID,
		&rec.Operation,
		&rec.Status,
		&payload,
		&rec.ErrorMessage,
		&rec.Attempts,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.ResolvedAt,
	); err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		rec.Payload = append([]byte(nil), payload...)
	}
	return &rec, nil
}
