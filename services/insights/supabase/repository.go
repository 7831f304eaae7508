// Package supabase persists and queries analytics events through the
// shared PostgREST client.
package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/vidaleve/companion/internal/database"
	apperrors "github.com/vidaleve/companion/internal/errors"
)

const eventsTable = "analytics_events"

// Event is a row in the analytics_events table.
type Event struct {
	ID         string         `json:"id,omitempty"`
	UserEmail  string         `json:"user_email,omitempty"`
	EventName  string         `json:"event_name"`
	ProductID  string         `json:"product_id,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
	DeviceType string         `json:"device_type,omitempty"`
	CreatedAt  string         `json:"created_at,omitempty"`
}

// DailyActiveRow is one row of the get_daily_active_users aggregate.
type DailyActiveRow struct {
	Date        string `json:"date"`
	ActiveUsers int    `json:"active_users"`
}

// Repository provides analytics persistence on top of the shared
// database client.
type Repository struct {
	base *database.Repository
}

// NewRepository creates an analytics repository.
func NewRepository(base *database.Repository) *Repository {
	return &Repository{base: base}
}

// Degraded reports whether the backing store is unconfigured.
func (r *Repository) Degraded() bool {
	return r.base.Degraded()
}

// InsertEvents appends a batch of events in one request.
func (r *Repository) InsertEvents(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	_, err := r.base.Request(ctx, "POST", eventsTable, events, "")
	return err
}

// ListEventsSince returns all events created at or after since, oldest
// first. Used by the aggregation handlers, which group in application code.
func (r *Repository) ListEventsSince(ctx context.Context, since time.Time) ([]Event, error) {
	query := "created_at=gte." + url.QueryEscape(since.UTC().Format(time.RFC3339)) +
		"&select=user_email,event_name,product_id,session_id,device_type,created_at" +
		"&order=created_at.asc"
	data, err := r.base.Request(ctx, "GET", eventsTable, nil, query)
	if err != nil {
		return nil, err
	}
	var events []Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("%w: parsing events: %v", apperrors.ErrDatabaseError, err)
	}
	return events, nil
}

// AllTimeUsers counts distinct identified users across the full event
// history, for the dashboard summary's all-time figure.
func (r *Repository) AllTimeUsers(ctx context.Context) (int, error) {
	query := "select=user_email&user_email=not.is.null"
	data, err := r.base.Request(ctx, "GET", eventsTable, nil, query)
	if err != nil {
		return 0, err
	}
	var rows []Event
	if err := json.Unmarshal(data, &rows); err != nil {
		return 0, fmt.Errorf("%w: parsing user emails: %v", apperrors.ErrDatabaseError, err)
	}
	users := make(map[string]bool, len(rows))
	for _, row := range rows {
		if row.UserEmail != "" {
			users[row.UserEmail] = true
		}
	}
	return len(users), nil
}

// DailyActiveUsers calls the get_daily_active_users stored procedure.
// Callers fall back to grouping ListEventsSince output when the procedure
// is not installed.
func (r *Repository) DailyActiveUsers(ctx context.Context, since time.Time) ([]DailyActiveRow, error) {
	params := map[string]string{"since_date": since.UTC().Format("2006-01-02")}
	data, err := r.base.RPC(ctx, "get_daily_active_users", params)
	if err != nil {
		return nil, err
	}
	var rows []DailyActiveRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("%w: parsing daily active users: %v", apperrors.ErrDatabaseError, err)
	}
	return rows, nil
}
