package insights

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	apperrors "github.com/vidaleve/companion/internal/errors"
	"github.com/vidaleve/companion/internal/httputil"
	"github.com/vidaleve/companion/services/insights/supabase"
)

const (
	defaultWindowDays = 30
	maxWindowDays     = 365

	adminEmailHeader = "X-Admin-Email"
)

type dashboardResponse struct {
	PeriodDays       int                       `json:"periodDays"`
	GeneratedAt      string                    `json:"generatedAt"`
	DailyActiveUsers []supabase.DailyActiveRow `json:"dailyActiveUsers"`
	FeatureUsage     []FeatureUsageRow         `json:"featureUsage"`
	ProductViews     []ProductViewsRow         `json:"productViews"`
	Summary          Summary                   `json:"summary"`
}

// requireAdmin gates the aggregation endpoints on the configured admin
// identity. An unset admin email locks the dashboard.
func (s *Service) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	caller := strings.ToLower(strings.TrimSpace(r.Header.Get(adminEmailHeader)))
	if s.cfg.AdminEmail == "" || caller != s.cfg.AdminEmail {
		httputil.Unauthorized(w, "admin access required")
		return false
	}
	return true
}

// windowDays parses the ?days parameter, clamped to [1, maxWindowDays].
func windowDays(r *http.Request) int {
	days, err := strconv.Atoi(r.URL.Query().Get("days"))
	if err != nil || days < 1 {
		return defaultWindowDays
	}
	if days > maxWindowDays {
		return maxWindowDays
	}
	return days
}

func windowStart(days int) time.Time {
	return time.Now().UTC().AddDate(0, 0, -days)
}

// dailyActive fetches the per-day distinct user counts, preferring the
// stored procedure and falling back to application-side grouping with the
// same semantics.
func (s *Service) dailyActive(ctx context.Context, since time.Time) ([]supabase.DailyActiveRow, error) {
	rows, err := s.store.DailyActiveUsers(ctx, since)
	if err == nil {
		return rows, nil
	}
	if errors.Is(err, apperrors.ErrUnavailable) {
		return nil, err
	}
	s.logger.Warn("daily active users procedure unavailable, grouping in process", "error", err)
	events, err := s.store.ListEventsSince(ctx, since)
	if err != nil {
		return nil, err
	}
	return groupDailyActive(events), nil
}

// handleDashboard serves the full aggregation report. The four sections
// are computed from independent store queries issued concurrently.
func (s *Service) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	days := windowDays(r)
	since := windowStart(days)
	ctx := r.Context()

	resp := dashboardResponse{
		PeriodDays:       days,
		GeneratedAt:      time.Now().UTC().Format(time.RFC3339),
		DailyActiveUsers: []supabase.DailyActiveRow{},
		FeatureUsage:     []FeatureUsageRow{},
		ProductViews:     []ProductViewsRow{},
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	run := func(fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}

	run(func() error {
		rows, err := s.dailyActive(ctx, since)
		if err != nil {
			return err
		}
		resp.DailyActiveUsers = rows
		return nil
	})
	run(func() error {
		events, err := s.store.ListEventsSince(ctx, since)
		if err != nil {
			return err
		}
		resp.FeatureUsage = groupFeatureUsage(events)
		return nil
	})
	run(func() error {
		events, err := s.store.ListEventsSince(ctx, since)
		if err != nil {
			return err
		}
		resp.ProductViews = groupProductViews(events)
		return nil
	})
	run(func() error {
		events, err := s.store.ListEventsSince(ctx, since)
		if err != nil {
			return err
		}
		allTime, err := s.store.AllTimeUsers(ctx)
		if err != nil {
			return err
		}
		summary := summarize(events)
		summary.AllTimeUsers = allTime
		resp.Summary = summary
		return nil
	})
	wg.Wait()

	if err := s.reportError(errs); err != nil {
		s.logger.Error("dashboard aggregation failed", "error", err)
		httputil.InternalError(w, "failed to compute dashboard")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// reportError collapses sub-query failures. A degraded store is not an
// error: reads degrade to an empty report.
func (s *Service) reportError(errs []error) error {
	for _, err := range errs {
		if !errors.Is(err, apperrors.ErrUnavailable) {
			return err
		}
	}
	return nil
}

func (s *Service) handleDailyActiveUsers(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	days := windowDays(r)

	rows, err := s.dailyActive(r.Context(), windowStart(days))
	if err != nil && !errors.Is(err, apperrors.ErrUnavailable) {
		s.logger.Error("daily active users failed", "error", err)
		httputil.InternalError(w, "failed to compute daily active users")
		return
	}
	if rows == nil {
		rows = []supabase.DailyActiveRow{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"periodDays":       days,
		"dailyActiveUsers": rows,
	})
}

func (s *Service) handleFeatureUsage(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	days := windowDays(r)

	events, err := s.store.ListEventsSince(r.Context(), windowStart(days))
	if err != nil && !errors.Is(err, apperrors.ErrUnavailable) {
		s.logger.Error("feature usage failed", "error", err)
		httputil.InternalError(w, "failed to compute feature usage")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"periodDays":   days,
		"featureUsage": groupFeatureUsage(events),
	})
}

func (s *Service) handleProductViews(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	days := windowDays(r)

	events, err := s.store.ListEventsSince(r.Context(), windowStart(days))
	if err != nil && !errors.Is(err, apperrors.ErrUnavailable) {
		s.logger.Error("product views failed", "error", err)
		httputil.InternalError(w, "failed to compute product views")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"periodDays":   days,
		"productViews": groupProductViews(events),
	})
}
