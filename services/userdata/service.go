// Package userdata serves the per-user API: entitlements, profile,
// protocol progress and the weight log.
package userdata

import (
	"context"

	"github.com/gorilla/mux"

	"github.com/vidaleve/companion/internal/catalog"
	"github.com/vidaleve/companion/internal/logging"
	"github.com/vidaleve/companion/services/common/service"
	"github.com/vidaleve/companion/services/userdata/supabase"
)

// Store is the persistence surface the userdata service needs.
type Store interface {
	ActiveProductIDs(ctx context.Context, email string) ([]string, error)
	GetProfile(ctx context.Context, email string) (*supabase.Profile, error)
	UpsertProfile(ctx context.Context, p supabase.Profile) (*supabase.Profile, error)
	GetProtocolProgress(ctx context.Context, email, productID string) (*supabase.ProtocolProgress, error)
	SaveProtocolProgress(ctx context.Context, p supabase.ProtocolProgress) (*supabase.ProtocolProgress, error)
	ListWeightEntries(ctx context.Context, email string) ([]supabase.WeightEntry, error)
	AddWeightEntry(ctx context.Context, e supabase.WeightEntry) (*supabase.WeightEntry, error)
	DeleteWeightEntry(ctx context.Context, email, id string) error
	Degraded() bool
}

// Config carries the userdata service settings.
type Config struct {
	Logger *logging.Logger
}

// Service handles the per-user data endpoints.
type Service struct {
	*service.BaseService

	store   Store
	catalog *catalog.Catalog
	logger  *logging.Logger
}

// New creates the userdata service and registers its routes.
func New(cfg Config, store Store, cat *catalog.Catalog) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.New("userdata")
	}
	s := &Service{
		BaseService: service.NewBase(service.BaseConfig{
			ID:      "userdata",
			Name:    "User Data Service",
			Version: "1.0.0",
			Logger:  logger,
		}),
		store:   store,
		catalog: cat,
		logger:  logger,
	}
	s.WithStats(func() map[string]any {
		return map[string]any{"store_degraded": store.Degraded()}
	})
	s.RegisterStandardRoutes()
	s.registerRoutes(s.Router())
	return s
}

// RegisterRoutes registers the userdata API routes on an external router.
func (s *Service) RegisterRoutes(r *mux.Router) {
	s.registerRoutes(r)
}

func (s *Service) registerRoutes(r *mux.Router) {
	r.HandleFunc("/api/user/products", s.handleEntitlements).Methods("GET")
	r.HandleFunc("/api/user/profile", s.handleGetProfile).Methods("GET")
	r.HandleFunc("/api/user/profile", s.handleSaveProfile).Methods("POST")
	r.HandleFunc("/api/user/protocol-progress", s.handleGetProgress).Methods("GET")
	r.HandleFunc("/api/user/protocol-progress", s.handleSaveProgress).Methods("POST")
	r.HandleFunc("/api/user/weight-entries", s.handleListWeights).Methods("GET")
	r.HandleFunc("/api/user/weight-entries", s.handleAddWeight).Methods("POST")
	r.HandleFunc("/api/user/weight-entries/{id}", s.handleDeleteWeight).Methods("DELETE")
}
