package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parlae/pms-gateway/pkg/logging"
)

// OutboxEntry represents a pending event.
type OutboxEntry struct {
	ID            uuid.UUID
	IntegrationID string
	Type          string
	Payload       json.RawMessage
	Attempts      int
	CreatedAt     time.Time
}

// DeliveryHandler emits events to downstream transports.
type DeliveryHandler interface {
	Handle(ctx context.Context, entry OutboxEntry) error
}

// Execer is satisfied by *pgxpool.Pool and pgx.Tx, so events can be appended
// inside the caller's transaction.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type outboxQuerier interface {
	Execer
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// OutboxStore persists events for reliable delivery.
type OutboxStore struct {
	pool outboxQuerier
}

func NewOutboxStore(pool *pgxpool.Pool) *OutboxStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &OutboxStore{pool: pool}
}

func newOutboxStoreWithExec(exec outboxQuerier) *OutboxStore {
	if exec == nil {
		panic("events: exec required")
	}
	return &OutboxStore{pool: exec}
}

func (s *OutboxStore) Insert(ctx context.Context, integrationID string, eventType string, payload any) (uuid.UUID, error) {
	return Append(ctx, s.pool, integrationID, eventType, payload)
}

// Append writes an outbox row through exec.
func Append(ctx context.Context, exec Execer, integrationID string, eventType string, payload any) (uuid.UUID, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("events: marshal payload: %w", err)
	}
	id := uuid.New()
	query := `
		INSERT INTO outbox (id, integration_id, type, payload)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := exec.Exec(ctx, query, id, integrationID, eventType, data); err != nil {
		return uuid.Nil, fmt.Errorf("events: insert outbox: %w", err)
	}
	return id, nil
}

// FetchPending returns undelivered entries that have failed fewer than maxAttempts times.
func (s *OutboxStore) FetchPending(ctx context.Context, limit int32, maxAttempts int) ([]OutboxEntry, error) {
	query := `
		SELECT id, integration_id, type, payload, attempts, created_at
		FROM outbox
		WHERE delivered_at IS NULL AND attempts < $2
		ORDER BY created_at
		LIMIT $1
	`
	rows, err := s.pool.Query(ctx, query, limit, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("events: fetch pending: %w", err)
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		var entry OutboxEntry
		var payload []byte
		if err := rows.Scan(&entry.ID, &entry.IntegrationID, &entry.Type, &payload, &entry.Attempts, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("events: scan outbox: %w", err)
		}
		entry.Payload = append([]byte(nil), payload...)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *OutboxStore) MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE outbox
		SET delivered_at = now()
		WHERE id = $1 AND delivered_at IS NULL
	`
	ct, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("events: mark delivered: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// MarkFailed records a failed delivery and returns the new attempt count.
func (s *OutboxStore) MarkFailed(ctx context.Context, id uuid.UUID, cause string) (int, error) {
	query := `
		UPDATE outbox
		SET attempts = attempts + 1, last_error = $2
		WHERE id = $1 AND delivered_at IS NULL
		RETURNING attempts
	`
	if len(cause) > maxErrorLength {
		cause = cause[:maxErrorLength]
	}
	rows, err := s.pool.Query(ctx, query, id, cause)
	if err != nil {
		return 0, fmt.Errorf("events: mark failed: %w", err)
	}
	defer rows.Close()
	attempts := 0
	if rows.Next() {
		if err := rows.Scan(&attempts); err != nil {
			return 0, fmt.Errorf("events: scan attempts: %w", err)
		}
	}
	return attempts, rows.Err()
}

const maxErrorLength = 500

type outboxSource interface {
	FetchPending(ctx context.Context, limit int32, maxAttempts int) ([]OutboxEntry, error)
	MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, cause string) (int, error)
}

// Deliverer polls the outbox and invokes the handler. Entries that fail
// maxAttempts times stay in the table with their last error and are skipped.
type Deliverer struct {
	store       outboxSource
	handler     DeliveryHandler
	logger      *logging.Logger
	batchSize   int32
	interval    time.Duration
	maxAttempts int
}

func NewDeliverer(store *OutboxStore, handler DeliveryHandler, logger *logging.Logger) *Deliverer {
	if logger == nil {
		logger = logging.Default()
	}
	d := &Deliverer{
		handler:     handler,
		logger:      logger,
		batchSize:   25,
		interval:    2 * time.Second,
		maxAttempts: 10,
	}
	if store != nil {
		d.store = store
	}
	return d
}

func (d *Deliverer) WithBatchSize(size int32) *Deliverer {
	if size > 0 {
		d.batchSize = size
	}
	return d
}

func (d *Deliverer) WithInterval(interval time.Duration) *Deliverer {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

func (d *Deliverer) WithMaxAttempts(n int) *Deliverer {
	if n > 0 {
		d.maxAttempts = n
	}
	return d
}

func (d *Deliverer) Start(ctx context.Context) {
	if d.store == nil || d.handler == nil {
		return
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.drain(ctx)
		}
	}
}

// drain delivers one batch and reports how many entries were marked delivered.
func (d *Deliverer) drain(ctx context.Context) int {
	entries, err := d.store.FetchPending(ctx, d.batchSize, d.maxAttempts)
	if err != nil {
		d.logger.Error("outbox fetch failed", "error", err)
		return 0
	}
	delivered := 0
	for _, entry := range entries {
		if err := d.handler.Handle(ctx, entry); err != nil {
			d.recordFailure(ctx, entry, err)
			continue
		}
		if ok, err := d.store.MarkDelivered(ctx, entry.ID); err != nil {
			d.logger.Error("failed to mark outbox delivered", "error", err, "event_id", entry.ID)
		} else if ok {
			delivered++
			d.logger.Debug("outbox delivered", "event_id", entry.ID, "type", entry.Type)
		}
	}
	return delivered
}

func (d *Deliverer) recordFailure(ctx context.Context, entry OutboxEntry, cause error) {
	attempts, err := d.store.MarkFailed(ctx, entry.ID, cause.Error())
	if err != nil {
		d.logger.Error("failed to record outbox failure", "error", err, "event_id", entry.ID)
		return
	}
	if attempts >= d.maxAttempts {
		d.logger.Error("outbox entry parked after repeated failures",
			"error", cause, "event_id", entry.ID, "type", entry.Type,
			"integration_id", entry.IntegrationID, "attempts", attempts)
		return
	}
	d.logger.Warn("outbox delivery failed", "error", cause, "event_id", entry.ID, "type", entry.Type, "attempts", attempts)
}
