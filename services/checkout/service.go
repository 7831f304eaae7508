package checkout

import (
	"context"
	"sync/atomic"

	"github.com/gorilla/mux"

	"github.com/vidaleve/companion/internal/catalog"
	"github.com/vidaleve/companion/internal/config"
	"github.com/vidaleve/companion/internal/logging"
	"github.com/vidaleve/companion/internal/metrics"
	"github.com/vidaleve/companion/services/checkout/supabase"
	"github.com/vidaleve/companion/services/common/service"
)

// Store is the persistence surface the checkout service needs.
type Store interface {
	UpsertPurchase(ctx context.Context, p supabase.Purchase) (*supabase.Purchase, error)
	UpdatePurchaseStatus(ctx context.Context, transactionID, status string) ([]supabase.Purchase, error)
	GetActivePurchases(ctx context.Context, email string) ([]supabase.Purchase, error)
	Degraded() bool
}

// Config carries the checkout service settings.
type Config struct {
	WebhookSecret    string
	AdminAPIKey      string
	OutOfOrderPolicy config.OutOfOrderPolicy
	Logger           *logging.Logger
}

// Service handles purchase webhooks and the product catalog endpoints.
type Service struct {
	*service.BaseService

	cfg     Config
	store   Store
	catalog *catalog.Catalog
	metrics *metrics.Metrics
	logger  *logging.Logger

	webhooksReceived uint64
	webhooksStored   uint64
}

// New creates the checkout service and registers its routes.
func New(cfg Config, store Store, cat *catalog.Catalog, m *metrics.Metrics) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.New("checkout")
	}
	s := &Service{
		BaseService: service.NewBase(service.BaseConfig{
			ID:      "checkout",
			Name:    "Checkout Service",
			Version: "1.0.0",
			Logger:  logger,
		}),
		cfg:     cfg,
		store:   store,
		catalog: cat,
		metrics: m,
		logger:  logger,
	}
	if s.cfg.OutOfOrderPolicy == "" {
		s.cfg.OutOfOrderPolicy = config.OutOfOrderDrop
	}
	if s.cfg.WebhookSecret == "" {
		s.logger.Warn("webhook secret not configured, accepting all webhook requests")
	}
	s.WithStats(s.stats)
	s.RegisterStandardRoutes()
	s.registerRoutes(s.Router())
	return s
}

// RegisterRoutes registers the checkout API routes on an external router.
func (s *Service) RegisterRoutes(r *mux.Router) {
	s.registerRoutes(r)
}

func (s *Service) registerRoutes(r *mux.Router) {
	r.HandleFunc("/api/checkout/webhook", s.handleWebhook).Methods("POST")
	r.HandleFunc("/api/checkout/webhook/test", s.handleWebhookTest).Methods("GET")
	r.HandleFunc("/api/admin/add-purchase", s.handleAddPurchase).Methods("POST")
	r.HandleFunc("/api/admin/purchases", s.handleListPurchases).Methods("GET")
	r.HandleFunc("/api/products/info", s.handleAllProductInfo).Methods("GET")
	r.HandleFunc("/api/products/{productId}/info", s.handleProductInfo).Methods("GET")
}

func (s *Service) stats() map[string]any {
	return map[string]any{
		"webhooks_received": atomic.LoadUint64(&s.webhooksReceived),
		"webhooks_stored":   atomic.LoadUint64(&s.webhooksStored),
		"store_degraded":    s.store.Degraded(),
	}
}
