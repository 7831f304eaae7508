// Package insights ingests client analytics events and serves the admin
// aggregation dashboard.
package insights

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"

	"github.com/vidaleve/companion/internal/logging"
	"github.com/vidaleve/companion/internal/metrics"
	"github.com/vidaleve/companion/internal/middleware"
	"github.com/vidaleve/companion/services/common/service"
	"github.com/vidaleve/companion/services/insights/supabase"
)

// Ingestion quota per client address.
const (
	rateLimit    = 100
	rateInterval = time.Minute
)

// validEventNames is the closed set of accepted analytics event names.
var validEventNames = map[string]bool{
	"app_open":              true,
	"login":                 true,
	"logout":                true,
	"product_view":          true,
	"checkout_click":        true,
	"protocol_day_complete": true,
	"weight_add":            true,
	"weight_delete":         true,
	"tab_change":            true,
	"install_prompt":        true,
}

// ValidEventName reports whether name belongs to the accepted set.
func ValidEventName(name string) bool {
	return validEventNames[name]
}

// Store is the persistence surface the insights service needs.
type Store interface {
	InsertEvents(ctx context.Context, events []supabase.Event) error
	ListEventsSince(ctx context.Context, since time.Time) ([]supabase.Event, error)
	DailyActiveUsers(ctx context.Context, since time.Time) ([]supabase.DailyActiveRow, error)
	AllTimeUsers(ctx context.Context) (int, error)
	Degraded() bool
}

// Config carries the insights service settings.
type Config struct {
	// AdminEmail is the single identity allowed to read aggregations,
	// lowercase. Empty locks the dashboard entirely.
	AdminEmail string
	// RateLimiter guards the ingestion endpoints. A nil value gets the
	// default quota.
	RateLimiter *middleware.RateLimiter
	Logger      *logging.Logger
}

// Service handles analytics ingestion and aggregation.
type Service struct {
	*service.BaseService

	cfg     Config
	store   Store
	metrics *metrics.Metrics
	limiter *middleware.RateLimiter
	logger  *logging.Logger

	eventsAccepted uint64
	eventsDropped  uint64
}

// New creates the insights service and registers its routes.
func New(cfg Config, store Store, m *metrics.Metrics) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.New("insights")
	}
	limiter := cfg.RateLimiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter(rateLimit, rateInterval, logger)
	}
	s := &Service{
		BaseService: service.NewBase(service.BaseConfig{
			ID:      "insights",
			Name:    "Insights Service",
			Version: "1.0.0",
			Logger:  logger,
		}),
		cfg:     cfg,
		store:   store,
		metrics: m,
		limiter: limiter,
		logger:  logger,
	}
	if s.cfg.AdminEmail == "" {
		s.logger.Warn("admin email not configured, dashboard is locked")
	}
	s.WithStats(s.stats)
	s.RegisterStandardRoutes()
	s.registerRoutes(s.Router())
	s.limiter.StartCleanup(rateInterval, s.StopChan())
	return s
}

// RegisterRoutes registers the insights API routes on an external router.
func (s *Service) RegisterRoutes(r *mux.Router) {
	s.registerRoutes(r)
}

func (s *Service) registerRoutes(r *mux.Router) {
	r.Handle("/api/analytics/track",
		s.limiter.Handler(http.HandlerFunc(s.handleTrack))).Methods("POST")
	r.Handle("/api/analytics/track-batch",
		s.limiter.Handler(http.HandlerFunc(s.handleTrackBatch))).Methods("POST")

	r.HandleFunc("/api/analytics/dashboard", s.handleDashboard).Methods("GET")
	r.HandleFunc("/api/analytics/dashboard/daily-active-users", s.handleDailyActiveUsers).Methods("GET")
	r.HandleFunc("/api/analytics/dashboard/feature-usage", s.handleFeatureUsage).Methods("GET")
	r.HandleFunc("/api/analytics/dashboard/product-views", s.handleProductViews).Methods("GET")
}

func (s *Service) stats() map[string]any {
	return map[string]any{
		"events_accepted": atomic.LoadUint64(&s.eventsAccepted),
		"events_dropped":  atomic.LoadUint64(&s.eventsDropped),
		"store_degraded":  s.store.Degraded(),
	}
}
