package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var errMissingIntegration = errors.New("credentials: integration id required")

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PGStore persists credential state in the pms_integrations table.
type PGStore struct {
	db  querier
	now func() time.Time
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	if pool == nil {
		panic("credentials: pgx pool required")
	}
	return &PGStore{db: pool, now: time.Now}
}

func newPGStoreWithExec(db querier) *PGStore {
	if db == nil {
		panic("credentials: exec required")
	}
	return &PGStore{db: db, now: time.Now}
}

const selectStateColumns = `integration_id, account_id, office_id, secret_key, request_key, refresh_key, token_expires_at, updated_at`

// Load returns the state for integrationID or ErrNotFound.
func (s *PGStore) Load(ctx context.Context, integrationID string) (*State, error) {
	query := `SELECT ` + selectStateColumns + ` FROM pms_integrations WHERE integration_id = $1`
	st, err := scanState(s.db.QueryRow(ctx, query, integrationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("credentials: load %s: %w", integrationID, err)
	}
	return st, nil
}

// Save upserts the state. Office credentials already on file are kept when
// the incoming record has none.
func (s *PGStore) Save(ctx context.Context, state *State) error {
	if state == nil || state.IntegrationID == "" {
		return errMissingIntegration
	}
	query := `
		INSERT INTO pms_integrations (
			integration_id, account_id, office_id, secret_key, request_key, refresh_key, token_expires_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (integration_id) DO UPDATE SET
			account_id = COALESCE(NULLIF(EXCLUDED.account_id, ''), pms_integrations.account_id),
			office_id = COALESCE(NULLIF(EXCLUDED.office_id, ''), pms_integrations.office_id),
			secret_key = COALESCE(NULLIF(EXCLUDED.secret_key, ''), pms_integrations.secret_key),
			request_key = EXCLUDED.request_key,
			refresh_key = EXCLUDED.refresh_key,
			token_expires_at = EXCLUDED.token_expires_at,
			updated_at = EXCLUDED.updated_at
	`
	updatedAt := s.now().UTC()
	if _, err := s.db.Exec(ctx, query,
		state.IntegrationID,
		state.AccountID,
		state.OfficeID,
		state.SecretKey,
		state.RequestKey,
		state.RefreshKey,
		state.TokenExpiry.UTC(),
		updatedAt,
	); err != nil {
		return fmt.Errorf("credentials: save %s: %w", state.IntegrationID, err)
	}
	state.UpdatedAt = updatedAt
	return nil
}

// ListExpiring returns refreshable states expiring before now+within, soonest first.
func (s *PGStore) ListExpiring(ctx context.Context, within time.Duration) ([]State, error) {
	query := `SELECT ` + selectStateColumns + `
		FROM pms_integrations
		WHERE refresh_key <> '' AND token_expires_at < $1
		ORDER BY token_expires_at ASC`
	rows, err := s.db.Query(ctx, query, s.now().Add(within).UTC())
	if err != nil {
		return nil, fmt.Errorf("credentials: query expiring: %w", err)
	}
	defer rows.Close()

	var out []State
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("credentials: scan expiring: %w", err)
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

func scanState(row pgx.Row) (*State, error) {
	var st State
	if err := row.Scan(
		&st.IntegrationID,
		&st.AccountID,
		&st.OfficeID,
		&st.SecretKey,
		&st.RequestKey,
		&st.RefreshKey,
		&st.TokenExpiry,
		&st.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &st, nil
}
