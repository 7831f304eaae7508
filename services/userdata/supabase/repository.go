// Package supabase persists per-user data (profile, protocol progress and
// weight log) through the shared PostgREST client.
package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/vidaleve/companion/internal/database"
	apperrors "github.com/vidaleve/companion/internal/errors"
)

const (
	purchasesTable = "purchases"
	profilesTable  = "profiles"
	progressTable  = "protocol_progress"
	weightsTable   = "weight_entries"
)

// Profile is a row in the profiles table.
type Profile struct {
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	Avatar    string `json:"avatar,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// ProtocolProgress is a row in the protocol_progress table. CompletedDays
// is replaced wholesale on every save.
type ProtocolProgress struct {
	UserEmail     string `json:"user_email"`
	ProductID     string `json:"product_id"`
	CompletedDays []int  `json:"completed_days"`
	UpdatedAt     string `json:"updated_at,omitempty"`
}

// WeightEntry is a row in the weight_entries table.
type WeightEntry struct {
	ID         string  `json:"id,omitempty"`
	UserEmail  string  `json:"user_email"`
	Weight     float64 `json:"weight"`
	RecordedAt string  `json:"recorded_at,omitempty"`
	CreatedAt  string  `json:"created_at,omitempty"`
}

// Repository provides user-data persistence on top of the shared
// database client.
type Repository struct {
	base *database.Repository
}

// NewRepository creates a user-data repository.
func NewRepository(base *database.Repository) *Repository {
	return &Repository{base: base}
}

// Degraded reports whether the backing store is unconfigured.
func (r *Repository) Degraded() bool {
	return r.base.Degraded()
}

func emailFilter(email string) string {
	return "user_email=eq." + url.QueryEscape(normalizeEmail(email))
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ActiveProductIDs returns the internal product ids of the user's active
// purchases.
func (r *Repository) ActiveProductIDs(ctx context.Context, email string) ([]string, error) {
	query := emailFilter(email) + "&status=eq.active&select=product_id"
	data, err := r.base.Request(ctx, "GET", purchasesTable, nil, query)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		ProductID string `json:"product_id"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("%w: parsing purchases: %v", apperrors.ErrDatabaseError, err)
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ProductID)
	}
	return ids, nil
}

// GetProfile returns the user's profile, or nil when none exists.
func (r *Repository) GetProfile(ctx context.Context, email string) (*Profile, error) {
	query := "email=eq." + url.QueryEscape(normalizeEmail(email)) + "&select=*&limit=1"
	data, err := r.base.Request(ctx, "GET", profilesTable, nil, query)
	if err != nil {
		return nil, err
	}
	var profiles []Profile
	if err := json.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("%w: parsing profile: %v", apperrors.ErrDatabaseError, err)
	}
	if len(profiles) == 0 {
		return nil, nil
	}
	return &profiles[0], nil
}

// UpsertProfile inserts or updates the profile keyed on its email.
func (r *Repository) UpsertProfile(ctx context.Context, p Profile) (*Profile, error) {
	p.Email = normalizeEmail(p.Email)
	data, err := r.base.Upsert(ctx, profilesTable, p, "email")
	if err != nil {
		return nil, err
	}
	var profiles []Profile
	if err := json.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("%w: parsing upserted profile: %v", apperrors.ErrDatabaseError, err)
	}
	if len(profiles) == 0 {
		return nil, fmt.Errorf("%w: upsert returned no rows", apperrors.ErrDatabaseError)
	}
	return &profiles[0], nil
}

// GetProtocolProgress returns the user's progress for a product, or nil
// when none has been recorded.
func (r *Repository) GetProtocolProgress(ctx context.Context, email, productID string) (*ProtocolProgress, error) {
	query := emailFilter(email) + "&product_id=eq." + url.QueryEscape(productID) + "&select=*&limit=1"
	data, err := r.base.Request(ctx, "GET", progressTable, nil, query)
	if err != nil {
		return nil, err
	}
	var rows []ProtocolProgress
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("%w: parsing progress: %v", apperrors.ErrDatabaseError, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// SaveProtocolProgress replaces the user's progress for a product.
func (r *Repository) SaveProtocolProgress(ctx context.Context, p ProtocolProgress) (*ProtocolProgress, error) {
	p.UserEmail = normalizeEmail(p.UserEmail)
	if p.CompletedDays == nil {
		p.CompletedDays = []int{}
	}
	data, err := r.base.Upsert(ctx, progressTable, p, "user_email,product_id")
	if err != nil {
		return nil, err
	}
	var rows []ProtocolProgress
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("%w: parsing upserted progress: %v", apperrors.ErrDatabaseError, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: upsert returned no rows", apperrors.ErrDatabaseError)
	}
	return &rows[0], nil
}

// ListWeightEntries returns the user's weight log, newest first.
func (r *Repository) ListWeightEntries(ctx context.Context, email string) ([]WeightEntry, error) {
	query := emailFilter(email) + "&select=*&order=recorded_at.desc"
	data, err := r.base.Request(ctx, "GET", weightsTable, nil, query)
	if err != nil {
		return nil, err
	}
	var entries []WeightEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: parsing weight entries: %v", apperrors.ErrDatabaseError, err)
	}
	return entries, nil
}

// AddWeightEntry appends one weight log entry.
func (r *Repository) AddWeightEntry(ctx context.Context, e WeightEntry) (*WeightEntry, error) {
	e.UserEmail = normalizeEmail(e.UserEmail)
	data, err := r.base.Request(ctx, "POST", weightsTable, e, "")
	if err != nil {
		return nil, err
	}
	var entries []WeightEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: parsing created entry: %v", apperrors.ErrDatabaseError, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: insert returned no rows", apperrors.ErrDatabaseError)
	}
	return &entries[0], nil
}

// DeleteWeightEntry removes one entry by id, scoped to its owning user.
// Returns ErrNotFound when no row matched.
func (r *Repository) DeleteWeightEntry(ctx context.Context, email, id string) error {
	query := "id=eq." + url.QueryEscape(id) + "&" + emailFilter(email)
	data, err := r.base.Request(ctx, "DELETE", weightsTable, nil, query)
	if err != nil {
		return err
	}
	var deleted []WeightEntry
	if err := json.Unmarshal(data, &deleted); err != nil {
		return fmt.Errorf("%w: parsing deleted rows: %v", apperrors.ErrDatabaseError, err)
	}
	if len(deleted) == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
