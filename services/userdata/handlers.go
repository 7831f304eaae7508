package userdata

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	apperrors "github.com/vidaleve/companion/internal/errors"
	"github.com/vidaleve/companion/internal/httputil"
	"github.com/vidaleve/companion/services/userdata/supabase"
)

// requireEmail extracts and normalizes the email query parameter, writing a
// 400 response when it is missing.
func requireEmail(w http.ResponseWriter, r *http.Request) (string, bool) {
	email := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("email")))
	if email == "" {
		httputil.BadRequest(w, "email is required")
		return "", false
	}
	return email, true
}

// storeUnavailable writes the degraded-store write failure response.
func storeUnavailable(w http.ResponseWriter) {
	svcErr := apperrors.UpstreamUnavailable("store not configured")
	httputil.WriteJSON(w, svcErr.HTTPStatus, httputil.ErrorResponse{Error: svcErr.Message})
}

type entitlementsResponse struct {
	PurchasedProductIDs []string `json:"purchasedProductIds"`
	LockedProductIDs    []string `json:"lockedProductIds"`
}

// handleEntitlements partitions the catalog into purchased and locked
// products for one user. A degraded store reads as no entitlements.
func (s *Service) handleEntitlements(w http.ResponseWriter, r *http.Request) {
	email, ok := requireEmail(w, r)
	if !ok {
		return
	}

	owned := make(map[string]bool)
	ids, err := s.store.ActiveProductIDs(r.Context(), email)
	if err != nil {
		if !errors.Is(err, apperrors.ErrUnavailable) {
			s.logger.Error("entitlement lookup failed", "error", err)
			httputil.InternalError(w, "failed to load entitlements")
			return
		}
	}
	for _, id := range ids {
		owned[id] = true
	}

	resp := entitlementsResponse{
		PurchasedProductIDs: []string{},
		LockedProductIDs:    []string{},
	}
	for _, id := range s.catalog.AllProductIDs() {
		if owned[id] {
			resp.PurchasedProductIDs = append(resp.PurchasedProductIDs, id)
		} else {
			resp.LockedProductIDs = append(resp.LockedProductIDs, id)
		}
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// handleGetProfile returns the stored profile, or null when none exists.
func (s *Service) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	email, ok := requireEmail(w, r)
	if !ok {
		return
	}
	profile, err := s.store.GetProfile(r.Context(), email)
	if err != nil {
		if errors.Is(err, apperrors.ErrUnavailable) {
			httputil.WriteJSON(w, http.StatusOK, nil)
			return
		}
		s.logger.Error("profile lookup failed", "error", err)
		httputil.InternalError(w, "failed to load profile")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, profile)
}

type saveProfileRequest struct {
	Email  string `json:"email"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

func (s *Service) handleSaveProfile(w http.ResponseWriter, r *http.Request) {
	var req saveProfileRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		httputil.BadRequest(w, "email is required")
		return
	}

	profile, err := s.store.UpsertProfile(r.Context(), supabase.Profile{
		Email:  email,
		Name:   strings.TrimSpace(req.Name),
		Avatar: strings.TrimSpace(req.Avatar),
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrUnavailable) {
			storeUnavailable(w)
			return
		}
		s.logger.Error("profile save failed", "error", err)
		httputil.InternalError(w, "failed to save profile")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, profile)
}

type progressResponse struct {
	CompletedDays []int `json:"completedDays"`
}

func (s *Service) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	email, ok := requireEmail(w, r)
	if !ok {
		return
	}
	productID := strings.TrimSpace(r.URL.Query().Get("productId"))
	if productID == "" {
		httputil.BadRequest(w, "productId is required")
		return
	}

	progress, err := s.store.GetProtocolProgress(r.Context(), email, productID)
	if err != nil && !errors.Is(err, apperrors.ErrUnavailable) {
		s.logger.Error("progress lookup failed", "error", err)
		httputil.InternalError(w, "failed to load progress")
		return
	}

	resp := progressResponse{CompletedDays: []int{}}
	if progress != nil && progress.CompletedDays != nil {
		resp.CompletedDays = progress.CompletedDays
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

type saveProgressRequest struct {
	Email         string `json:"email"`
	ProductID     string `json:"productId"`
	CompletedDays []int  `json:"completedDays"`
}

// handleSaveProgress replaces the completed-day set for one product.
func (s *Service) handleSaveProgress(w http.ResponseWriter, r *http.Request) {
	var req saveProgressRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	productID := strings.TrimSpace(req.ProductID)
	if email == "" || productID == "" {
		httputil.BadRequest(w, "email and productId are required")
		return
	}

	saved, err := s.store.SaveProtocolProgress(r.Context(), supabase.ProtocolProgress{
		UserEmail:     email,
		ProductID:     productID,
		CompletedDays: dedupeDays(req.CompletedDays),
		UpdatedAt:     time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrUnavailable) {
			storeUnavailable(w)
			return
		}
		s.logger.Error("progress save failed", "error", err)
		httputil.InternalError(w, "failed to save progress")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, progressResponse{CompletedDays: saved.CompletedDays})
}

// dedupeDays drops duplicate and non-positive day numbers while preserving
// first-seen order.
func dedupeDays(days []int) []int {
	seen := make(map[int]bool, len(days))
	out := make([]int, 0, len(days))
	for _, d := range days {
		if d <= 0 || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}

type weightEntriesResponse struct {
	Entries []supabase.WeightEntry `json:"entries"`
}

func (s *Service) handleListWeights(w http.ResponseWriter, r *http.Request) {
	email, ok := requireEmail(w, r)
	if !ok {
		return
	}
	entries, err := s.store.ListWeightEntries(r.Context(), email)
	if err != nil && !errors.Is(err, apperrors.ErrUnavailable) {
		s.logger.Error("weight list failed", "error", err)
		httputil.InternalError(w, "failed to load weight entries")
		return
	}
	if entries == nil {
		entries = []supabase.WeightEntry{}
	}
	httputil.WriteJSON(w, http.StatusOK, weightEntriesResponse{Entries: entries})
}

type addWeightRequest struct {
	Email      string  `json:"email"`
	Weight     float64 `json:"weight"`
	RecordedAt string  `json:"recordedAt"`
}

func (s *Service) handleAddWeight(w http.ResponseWriter, r *http.Request) {
	var req addWeightRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		httputil.BadRequest(w, "email is required")
		return
	}
	if req.Weight <= 0 || req.Weight > 1000 {
		httputil.BadRequest(w, "weight must be a positive number")
		return
	}
	recordedAt := strings.TrimSpace(req.RecordedAt)
	if recordedAt == "" {
		recordedAt = time.Now().UTC().Format(time.RFC3339)
	} else if _, err := time.Parse(time.RFC3339, recordedAt); err != nil {
		httputil.BadRequest(w, "recordedAt must be an RFC 3339 timestamp")
		return
	}

	entry, err := s.store.AddWeightEntry(r.Context(), supabase.WeightEntry{
		UserEmail:  email,
		Weight:     req.Weight,
		RecordedAt: recordedAt,
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrUnavailable) {
			storeUnavailable(w)
			return
		}
		s.logger.Error("weight save failed", "error", err)
		httputil.InternalError(w, "failed to save weight entry")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entry)
}

func (s *Service) handleDeleteWeight(w http.ResponseWriter, r *http.Request) {
	email, ok := requireEmail(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]

	err := s.store.DeleteWeightEntry(r.Context(), email, id)
	switch {
	case err == nil:
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	case errors.Is(err, apperrors.ErrNotFound):
		httputil.NotFound(w, "weight entry not found")
	case errors.Is(err, apperrors.ErrUnavailable):
		storeUnavailable(w)
	default:
		s.logger.Error("weight delete failed", "error", err)
		httputil.InternalError(w, "failed to delete weight entry")
	}
}
