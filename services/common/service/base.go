// Package service provides the common base for companion services.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/vidaleve/companion/internal/logging"
)

// BaseConfig contains shared configuration for all services.
type BaseConfig struct {
	ID      string
	Name    string
	Version string
	Logger  *logging.Logger
}

// BaseService provides router, lifecycle and standard endpoints for a
// service. Concrete services embed it and register their own routes.
type BaseService struct {
	id      string
	name    string
	version string

	router *mux.Router
	logger *logging.Logger

	startTime time.Time

	stopCh   chan struct{}
	stopOnce sync.Once

	statsFn func() map[string]any
	workers []func(context.Context)
}

// NewBase constructs a BaseService from shared config.
func NewBase(cfg BaseConfig) *BaseService {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.New(cfg.ID)
	}
	return &BaseService{
		id:        cfg.ID,
		name:      cfg.Name,
		version:   cfg.Version,
		router:    mux.NewRouter(),
		logger:    logger,
		startTime: time.Now(),
		stopCh:    make(chan struct{}),
	}
}

// ID returns the service identifier.
func (b *BaseService) ID() string { return b.id }

// Name returns the service display name.
func (b *BaseService) Name() string { return b.name }

// Version returns the service version.
func (b *BaseService) Version() string { return b.version }

// Router returns the service router.
func (b *BaseService) Router() *mux.Router { return b.router }

// Logger returns the service logger.
func (b *BaseService) Logger() *logging.Logger { return b.logger }

// StopChan returns a channel closed when the service stops.
func (b *BaseService) StopChan() <-chan struct{} { return b.stopCh }

// WithStats sets a statistics provider for the /info endpoint.
func (b *BaseService) WithStats(fn func() map[string]any) *BaseService {
	b.statsFn = fn
	return b
}

// AddWorker registers a background worker started by Start. Workers should
// return when the context is cancelled or StopChan closes.
func (b *BaseService) AddWorker(fn func(context.Context)) *BaseService {
	b.workers = append(b.workers, fn)
	return b
}

// AddTickerWorker registers a periodic background worker.
func (b *BaseService) AddTickerWorker(interval time.Duration, fn func(context.Context) error) *BaseService {
	worker := func(ctx context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-b.stopCh:
				return
			case <-ticker.C:
				if err := fn(ctx); err != nil {
					b.logger.Error("worker error", "service", b.id, "error", err.Error())
				}
			}
		}
	}
	return b.AddWorker(worker)
}

// Start launches background workers.
func (b *BaseService) Start(ctx context.Context) error {
	b.logger.Info("service starting", "id", b.id, "version", b.version)
	for _, w := range b.workers {
		go w(ctx)
	}
	return nil
}

// Stop signals workers to stop. Safe to call multiple times.
func (b *BaseService) Stop() error {
	b.stopOnce.Do(func() {
		close(b.stopCh)
		b.logger.Info("service stopped", "id", b.id)
	})
	return nil
}
