// Package track is the client library for the analytics ingestion API.
// It buffers recorded events in memory and delivers them in batches on a
// flush timer, a size threshold, or an explicit flush.
package track

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vidaleve/companion/internal/logging"
)

const (
	defaultFlushInterval = 10 * time.Second
	defaultMaxQueue      = 20

	// Viewport breakpoints for the coarse device class.
	tabletMinWidth  = 768
	desktopMinWidth = 1024
)

// Event is one telemetry event in the ingestion API's wire shape.
type Event struct {
	Event      string         `json:"event"`
	Email      string         `json:"email,omitempty"`
	ProductID  string         `json:"productId,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	SessionID  string         `json:"sessionId,omitempty"`
	DeviceType string         `json:"deviceType,omitempty"`
}

// Config configures a Recorder.
type Config struct {
	// Endpoint is the track-batch URL.
	Endpoint   string
	HTTPClient *http.Client

	// UserEmail, when set, tags every event with the current user.
	UserEmail func() string
	// ViewportWidth, when set, derives the device class per event.
	ViewportWidth func() int

	// FlushInterval is the idle delay before a scheduled flush.
	// Defaults to 10 seconds.
	FlushInterval time.Duration
	// MaxQueue is the buffer size that forces an immediate flush.
	// Defaults to 20.
	MaxQueue int

	Logger *logging.Logger
}

// Recorder buffers events and flushes them in batches. Safe for
// concurrent use. Delivery is at-least-once: a failed flush re-queues the
// batch ahead of anything recorded since.
type Recorder struct {
	cfg       Config
	sessionID string

	mu     sync.Mutex
	buf    []Event
	timer  *time.Timer
	closed bool
}

// New creates a Recorder with a fresh session id.
func New(cfg Config) *Recorder {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.MaxQueue <= 0 {
		cfg.MaxQueue = defaultMaxQueue
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	return &Recorder{
		cfg:       cfg,
		sessionID: uuid.NewString(),
	}
}

// SessionID returns the session id stamped on every recorded event.
func (r *Recorder) SessionID() string {
	return r.sessionID
}

// deviceClass maps a viewport width to a coarse device type.
func deviceClass(width int) string {
	switch {
	case width <= 0:
		return ""
	case width < tabletMinWidth:
		return "mobile"
	case width < desktopMinWidth:
		return "tablet"
	default:
		return "desktop"
	}
}

// Record enqueues one event. The buffer is flushed immediately when it
// reaches MaxQueue, otherwise on the next scheduled flush.
func (r *Recorder) Record(event string, properties map[string]any, productID string) {
	e := Event{
		Event:      event,
		ProductID:  productID,
		Properties: properties,
		SessionID:  r.sessionID,
	}
	if r.cfg.UserEmail != nil {
		e.Email = r.cfg.UserEmail()
	}
	if r.cfg.ViewportWidth != nil {
		e.DeviceType = deviceClass(r.cfg.ViewportWidth())
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.buf = append(r.buf, e)
	full := len(r.buf) >= r.cfg.MaxQueue
	if !full && r.timer == nil {
		r.timer = time.AfterFunc(r.cfg.FlushInterval, func() {
			if err := r.Flush(context.Background()); err != nil {
				r.cfg.Logger.Warn("scheduled flush failed", "error", err)
			}
		})
	}
	r.mu.Unlock()

	if full {
		go func() {
			if err := r.Flush(context.Background()); err != nil {
				r.cfg.Logger.Warn("threshold flush failed", "error", err)
			}
		}()
	}
}

// AppOpen records an app_open event.
func (r *Recorder) AppOpen() { r.Record("app_open", nil, "") }

// Login records a login event.
func (r *Recorder) Login() { r.Record("login", nil, "") }

// Logout records a logout event.
func (r *Recorder) Logout() { r.Record("logout", nil, "") }

// ProductView records a product_view event for one product.
func (r *Recorder) ProductView(productID string) { r.Record("product_view", nil, productID) }

// CheckoutClick records a checkout_click event for one product.
func (r *Recorder) CheckoutClick(productID string) { r.Record("checkout_click", nil, productID) }

// ProtocolDayComplete records a protocol_day_complete event for one
// product, tagged with the completed day number.
func (r *Recorder) ProtocolDayComplete(productID string, day int) {
	r.Record("protocol_day_complete", map[string]any{"day": day}, productID)
}

// WeightAdd records a weight_add event with the logged weight.
func (r *Recorder) WeightAdd(weight float64) {
	r.Record("weight_add", map[string]any{"weight": weight}, "")
}

// WeightDelete records a weight_delete event.
func (r *Recorder) WeightDelete() { r.Record("weight_delete", nil, "") }

// TabChange records a tab_change event with the target tab.
func (r *Recorder) TabChange(tab string) {
	r.Record("tab_change", map[string]any{"tab": tab}, "")
}

// InstallPrompt records an install_prompt event with the prompt outcome
// (shown, accepted or dismissed).
func (r *Recorder) InstallPrompt(action string) {
	r.Record("install_prompt", map[string]any{"action": action}, "")
}

// Flush delivers the current buffer as one batch. The buffer is cleared
// optimistically before the request; on failure the batch is re-queued
// ahead of events recorded in the meantime, preserving relative order.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	if len(r.buf) == 0 {
		r.mu.Unlock()
		return nil
	}
	batch := r.buf
	r.buf = nil
	r.mu.Unlock()

	if err := r.send(ctx, batch); err != nil {
		r.mu.Lock()
		r.buf = append(batch, r.buf...)
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *Recorder) send(ctx context.Context, batch []Event) error {
	body, err := json.Marshal(map[string][]Event{"events": batch})
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("deliver batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("ingestion endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// Pending returns the number of buffered events.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// Close flushes best-effort and stops accepting events.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.mu.Unlock()

	// Flush does not check closed, so the final delivery still runs.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.Flush(ctx)
}
