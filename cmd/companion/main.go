// Command companion runs the membership companion backend: the purchase
// webhook receiver, the per-user data API and the analytics service, all
// on one HTTP listener.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"github.com/vidaleve/companion/internal/catalog"
	"github.com/vidaleve/companion/internal/config"
	"github.com/vidaleve/companion/internal/database"
	"github.com/vidaleve/companion/internal/logging"
	"github.com/vidaleve/companion/internal/metrics"
	"github.com/vidaleve/companion/internal/middleware"
	"github.com/vidaleve/companion/services/checkout"
	checkoutstore "github.com/vidaleve/companion/services/checkout/supabase"
	"github.com/vidaleve/companion/services/insights"
	insightsstore "github.com/vidaleve/companion/services/insights/supabase"
	"github.com/vidaleve/companion/services/userdata"
	userdatastore "github.com/vidaleve/companion/services/userdata/supabase"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Optional .env for local development.
	_ = godotenv.Load()

	logger := logging.New("companion")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if !cfg.StoreConfigured() {
		logger.Warn("store credentials not configured, running degraded: reads are empty, writes fail")
	}

	cat := catalog.Default()
	if cfg.CatalogPath != "" {
		cat, err = catalog.LoadFile(cfg.CatalogPath)
		if err != nil {
			logger.Error("loading product catalog", "path", cfg.CatalogPath, "error", err)
			os.Exit(1)
		}
		logger.Info("product catalog loaded", "path", cfg.CatalogPath, "products", len(cat.AllProductIDs()))
	}

	m := metrics.New()
	dbClient := database.NewClient(database.Config{
		URL:        cfg.SupabaseURL,
		ServiceKey: cfg.SupabaseServiceKey,
	})
	baseRepo := database.NewRepository(dbClient)

	checkoutSvc := checkout.New(checkout.Config{
		WebhookSecret:    cfg.WebhookSecret,
		AdminAPIKey:      cfg.AdminAPIKey,
		OutOfOrderPolicy: cfg.OutOfOrderPolicy,
		Logger:           logger.With("service", "checkout"),
	}, checkoutstore.NewRepository(baseRepo), cat, m)

	userdataSvc := userdata.New(userdata.Config{
		Logger: logger.With("service", "userdata"),
	}, userdatastore.NewRepository(baseRepo), cat)

	insightsSvc := insights.New(insights.Config{
		AdminEmail: cfg.AdminEmail,
		Logger:     logger.With("service", "insights"),
	}, insightsstore.NewRepository(baseRepo), m)

	root := mux.NewRouter()
	checkoutSvc.RegisterRoutes(root)
	userdataSvc.RegisterRoutes(root)
	insightsSvc.RegisterRoutes(root)

	root.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	root.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)

	tracing := middleware.NewTracingMiddleware(logger)
	cors := middleware.NewCORSMiddleware(cfg.AllowedOrigins)
	root.Use(mux.MiddlewareFunc(tracing.Handler))
	root.Use(mux.MiddlewareFunc(cors.Handler))
	root.Use(middleware.MetricsMiddleware("companion", m))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, svc := range []interface {
		Start(context.Context) error
		Stop() error
	}{checkoutSvc, userdataSvc, insightsSvc} {
		if err := svc.Start(ctx); err != nil {
			logger.Error("service start failed", "error", err)
			os.Exit(1)
		}
		defer svc.Stop()
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      root,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "port", cfg.Port, "origins", cfg.AllowedOrigins)
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}
	logger.Info("stopped")
}
