package credentials

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no state exists for an integration.
var ErrNotFound = errors.New("credentials: integration not found")

// State is the mutable credential record for one PMS integration. The static
// application id and key live in configuration, not here.
type State struct {
	IntegrationID string
	AccountID     string
	OfficeID      string
	SecretKey     string
	RequestKey    string
	RefreshKey    string
	TokenExpiry   time.Time
	UpdatedAt     time.Time
}

// HasOfficeCredentials reports whether office id and secret key are known.
func (s State) HasOfficeCredentials() bool {
	return s.OfficeID != "" && s.SecretKey != ""
}

// ValidFor reports whether the request key stays valid for at least margin.
func (s State) ValidFor(now time.Time, margin time.Duration) bool {
	if s.RequestKey == "" || s.TokenExpiry.IsZero() {
		return false
	}
	return s.TokenExpiry.Sub(now) > margin
}

// ClearToken drops request and refresh keys, keeping office credentials.
func (s *State) ClearToken() {
	s.RequestKey = ""
	s.RefreshKey = ""
	s.TokenExpiry = time.Time{}
}

// Store persists credential state keyed by integration id.
type Store interface {
	Load(ctx context.Context, integrationID string) (*State, error)
	Save(ctx context.Context, state *State) error
	// ListExpiring returns states holding a refresh key whose request key
	// expires before now+within.
	ListExpiring(ctx context.Context, within time.Duration) ([]State, error)
}
