package insights

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	apperrors "github.com/vidaleve/companion/internal/errors"
	"github.com/vidaleve/companion/internal/httputil"
	"github.com/vidaleve/companion/services/insights/supabase"
)

// maxBatchSize caps one track-batch request.
const maxBatchSize = 50

var deviceTypes = map[string]bool{"mobile": true, "tablet": true, "desktop": true}

type trackRequest struct {
	Event      string         `json:"event"`
	Email      string         `json:"email"`
	ProductID  string         `json:"productId"`
	Properties map[string]any `json:"properties"`
	SessionID  string         `json:"sessionId"`
	DeviceType string         `json:"deviceType"`
}

// toEvent validates and normalizes one submitted event. A non-nil error
// describes why the event is unacceptable.
func (t trackRequest) toEvent(now time.Time) (supabase.Event, error) {
	name := strings.TrimSpace(t.Event)
	if !ValidEventName(name) {
		return supabase.Event{}, fmt.Errorf("unknown event name %q", name)
	}
	device := strings.ToLower(strings.TrimSpace(t.DeviceType))
	if device != "" && !deviceTypes[device] {
		device = ""
	}
	return supabase.Event{
		UserEmail:  strings.ToLower(strings.TrimSpace(t.Email)),
		EventName:  name,
		ProductID:  strings.TrimSpace(t.ProductID),
		Properties: t.Properties,
		SessionID:  strings.TrimSpace(t.SessionID),
		DeviceType: device,
		CreatedAt:  now.UTC().Format(time.RFC3339),
	}, nil
}

type trackResponse struct {
	Status   string `json:"status"`
	Accepted int    `json:"accepted"`
	Dropped  int    `json:"dropped,omitempty"`
}

// handleTrack ingests one event. Unlike the batch endpoint, a single
// invalid event is rejected outright.
func (s *Service) handleTrack(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	event, err := req.toEvent(time.Now())
	if err != nil {
		s.metrics.RecordEventsDropped(1)
		httputil.BadRequest(w, err.Error())
		return
	}

	if err := s.store.InsertEvents(r.Context(), []supabase.Event{event}); err != nil {
		s.writeInsertFailure(w, err, 1)
		return
	}
	atomic.AddUint64(&s.eventsAccepted, 1)
	s.metrics.RecordEventsStored(1)
	httputil.WriteJSON(w, http.StatusOK, trackResponse{Status: "ok", Accepted: 1})
}

type trackBatchRequest struct {
	Events []trackRequest `json:"events"`
}

// handleTrackBatch ingests up to maxBatchSize events. Events with unknown
// names are dropped and the rest persisted; the response reports both
// counts.
func (s *Service) handleTrackBatch(w http.ResponseWriter, r *http.Request) {
	var req trackBatchRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if len(req.Events) == 0 {
		httputil.BadRequest(w, "events is required")
		return
	}
	if len(req.Events) > maxBatchSize {
		httputil.BadRequest(w, fmt.Sprintf("batch exceeds %d events", maxBatchSize))
		return
	}

	now := time.Now()
	accepted := make([]supabase.Event, 0, len(req.Events))
	dropped := 0
	for _, t := range req.Events {
		event, err := t.toEvent(now)
		if err != nil {
			dropped++
			continue
		}
		accepted = append(accepted, event)
	}

	if dropped > 0 {
		atomic.AddUint64(&s.eventsDropped, uint64(dropped))
		s.metrics.RecordEventsDropped(dropped)
		s.logger.Debug("batch events dropped", "dropped", dropped, "total", len(req.Events))
	}
	if len(accepted) == 0 {
		httputil.BadRequest(w, "no valid events in batch")
		return
	}

	if err := s.store.InsertEvents(r.Context(), accepted); err != nil {
		s.writeInsertFailure(w, err, len(accepted))
		return
	}
	atomic.AddUint64(&s.eventsAccepted, uint64(len(accepted)))
	s.metrics.RecordEventsStored(len(accepted))
	httputil.WriteJSON(w, http.StatusOK, trackResponse{
		Status:   "ok",
		Accepted: len(accepted),
		Dropped:  dropped,
	})
}

func (s *Service) writeInsertFailure(w http.ResponseWriter, err error, count int) {
	if errors.Is(err, apperrors.ErrUnavailable) {
		svcErr := apperrors.UpstreamUnavailable("store not configured")
		httputil.WriteJSON(w, svcErr.HTTPStatus, httputil.ErrorResponse{Error: svcErr.Message})
		return
	}
	s.logger.Error("event insert failed", "count", count, "error", err)
	httputil.InternalError(w, "failed to store events")
}
