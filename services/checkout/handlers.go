package checkout

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/vidaleve/companion/internal/config"
	apperrors "github.com/vidaleve/companion/internal/errors"
	"github.com/vidaleve/companion/internal/httputil"
	"github.com/vidaleve/companion/services/checkout/supabase"
)

// Webhook event names sent by the payment provider.
const (
	eventPurchaseApproved   = "PURCHASE_APPROVED"
	eventPurchaseComplete   = "PURCHASE_COMPLETE"
	eventPurchaseRefunded   = "PURCHASE_REFUNDED"
	eventPurchaseCanceled   = "PURCHASE_CANCELED"
	eventPurchaseChargeback = "PURCHASE_CHARGEBACK"
)

// Purchase row statuses.
const (
	statusActive    = "active"
	statusRefunded  = "refunded"
	statusCancelled = "cancelled"
)

// webhookTokenHeader carries the shared secret on webhook deliveries.
const webhookTokenHeader = "X-Webhook-Token"

// adminKeyHeader carries the API key on admin requests.
const adminKeyHeader = "X-Admin-Key"

type webhookPayload struct {
	Event string `json:"event"`
	Data  struct {
		Buyer struct {
			Email string `json:"email"`
		} `json:"buyer"`
		Product struct {
			ID json.Number `json:"id"`
		} `json:"product"`
		Purchase struct {
			Transaction  string `json:"transaction"`
			ApprovedDate int64  `json:"approved_date"`
		} `json:"purchase"`
	} `json:"data"`
}

type webhookAck struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func ackOK(w http.ResponseWriter) {
	httputil.WriteJSON(w, http.StatusOK, webhookAck{Status: "ok"})
}

func ackIgnored(w http.ResponseWriter, reason string) {
	httputil.WriteJSON(w, http.StatusOK, webhookAck{Status: "ignored", Reason: reason})
}

// handleWebhook processes a purchase lifecycle notification from the payment
// provider. Malformed or unmatchable deliveries are acknowledged with 200 so
// the provider does not retry them; only a bad token is rejected.
func (s *Service) handleWebhook(w http.ResponseWriter, r *http.Request) {
	atomic.AddUint64(&s.webhooksReceived, 1)

	if s.cfg.WebhookSecret != "" {
		if token := r.Header.Get(webhookTokenHeader); token != s.cfg.WebhookSecret {
			s.logger.Warn("webhook rejected, invalid token")
			s.metrics.RecordWebhookEvent("unknown", "unauthorized")
			httputil.Unauthorized(w, "invalid webhook token")
			return
		}
	}

	var payload webhookPayload
	body := http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		s.logger.Warn("webhook payload unreadable", "error", err)
		s.metrics.RecordWebhookEvent("unknown", "malformed")
		ackIgnored(w, "unreadable payload")
		return
	}

	event := strings.ToUpper(strings.TrimSpace(payload.Event))
	email := strings.ToLower(strings.TrimSpace(payload.Data.Buyer.Email))
	providerProductID := payload.Data.Product.ID.String()
	transactionID := strings.TrimSpace(payload.Data.Purchase.Transaction)

	if event == "" || email == "" || providerProductID == "" || transactionID == "" {
		s.logger.Warn("webhook missing required fields",
			"event", event, "has_email", email != "", "transaction_id", transactionID)
		s.metrics.RecordWebhookEvent(event, "malformed")
		ackIgnored(w, "missing required fields")
		return
	}

	productID := s.catalog.ProductIDForProvider(providerProductID)
	if productID == "" {
		s.logger.Info("webhook for unmapped product",
			"event", event, "provider_product_id", providerProductID)
		s.metrics.RecordWebhookEvent(event, "unmapped_product")
		ackIgnored(w, "unmapped product")
		return
	}

	ctx := r.Context()
	switch event {
	case eventPurchaseApproved, eventPurchaseComplete:
		purchasedAt := time.Now().UTC()
		if payload.Data.Purchase.ApprovedDate > 0 {
			purchasedAt = time.UnixMilli(payload.Data.Purchase.ApprovedDate).UTC()
		}
		_, err := s.store.UpsertPurchase(ctx, supabase.Purchase{
			UserEmail:         email,
			ProductID:         productID,
			ProviderProductID: providerProductID,
			TransactionID:     transactionID,
			Status:            statusActive,
			PurchasedAt:       purchasedAt.Format(time.RFC3339),
		})
		if err != nil {
			s.logger.Error("webhook purchase not persisted",
				"event", event, "transaction_id", transactionID, "error", err)
			s.metrics.RecordWebhookEvent(event, "store_error")
			ackOK(w)
			return
		}
		atomic.AddUint64(&s.webhooksStored, 1)
		s.logger.Info("purchase stored",
			"event", event, "product_id", productID, "transaction_id", transactionID)
		s.metrics.RecordWebhookEvent(event, "stored")
		ackOK(w)

	case eventPurchaseRefunded:
		s.applyStatusChange(w, r, event, email, productID, providerProductID, transactionID, statusRefunded)

	case eventPurchaseCanceled, eventPurchaseChargeback:
		s.applyStatusChange(w, r, event, email, productID, providerProductID, transactionID, statusCancelled)

	default:
		s.logger.Info("webhook event ignored", "event", event)
		s.metrics.RecordWebhookEvent(event, "ignored")
		ackIgnored(w, "unhandled event")
	}
}

// applyStatusChange downgrades an existing purchase. When the purchase row
// has never been seen, the out-of-order policy decides between dropping the
// notification and recording the row in its terminal status.
func (s *Service) applyStatusChange(w http.ResponseWriter, r *http.Request, event, email, productID, providerProductID, transactionID, status string) {
	ctx := r.Context()

	updated, err := s.store.UpdatePurchaseStatus(ctx, transactionID, status)
	if err != nil {
		s.logger.Error("webhook status change not persisted",
			"event", event, "transaction_id", transactionID, "error", err)
		s.metrics.RecordWebhookEvent(event, "store_error")
		ackOK(w)
		return
	}

	if len(updated) == 0 {
		if s.cfg.OutOfOrderPolicy == config.OutOfOrderUpsert {
			_, err := s.store.UpsertPurchase(ctx, supabase.Purchase{
				UserEmail:         email,
				ProductID:         productID,
				ProviderProductID: providerProductID,
				TransactionID:     transactionID,
				Status:            status,
				PurchasedAt:       time.Now().UTC().Format(time.RFC3339),
			})
			if err != nil {
				s.logger.Error("out-of-order purchase not persisted",
					"event", event, "transaction_id", transactionID, "error", err)
				s.metrics.RecordWebhookEvent(event, "store_error")
				ackOK(w)
				return
			}
			s.logger.Info("out-of-order status change recorded",
				"event", event, "transaction_id", transactionID, "status", status)
			s.metrics.RecordWebhookEvent(event, "stored")
			ackOK(w)
			return
		}
		s.logger.Warn("status change for unknown transaction dropped",
			"event", event, "transaction_id", transactionID)
		s.metrics.RecordWebhookEvent(event, "unknown_transaction")
		ackIgnored(w, "unknown transaction")
		return
	}

	s.logger.Info("purchase status updated",
		"event", event, "transaction_id", transactionID, "status", status)
	s.metrics.RecordWebhookEvent(event, "updated")
	ackOK(w)
}

// handleWebhookTest lets operators verify the endpoint is reachable without
// crafting a signed payload.
func (s *Service) handleWebhookTest(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"message":          "webhook endpoint reachable",
		"secretConfigured": s.cfg.WebhookSecret != "",
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
	})
}

type addPurchaseRequest struct {
	Email     string `json:"email"`
	ProductID string `json:"productId"`
}

// requireAdminKey gates the admin endpoints on the configured API key.
// An unset key locks them.
func (s *Service) requireAdminKey(w http.ResponseWriter, r *http.Request) bool {
	if s.cfg.AdminAPIKey == "" || r.Header.Get(adminKeyHeader) != s.cfg.AdminAPIKey {
		httputil.Unauthorized(w, "invalid admin key")
		return false
	}
	return true
}

// handleAddPurchase grants a product manually, bypassing the payment
// provider. Guarded by the admin API key.
func (s *Service) handleAddPurchase(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdminKey(w, r) {
		return
	}

	var req addPurchaseRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	productID := strings.TrimSpace(req.ProductID)
	if email == "" || productID == "" {
		httputil.BadRequest(w, "email and productId are required")
		return
	}
	if s.catalog.Info(productID) == nil {
		httputil.BadRequest(w, "unknown productId")
		return
	}

	purchase, err := s.store.UpsertPurchase(r.Context(), supabase.Purchase{
		UserEmail:         email,
		ProductID:         productID,
		ProviderProductID: "MANUAL_ADMIN",
		TransactionID:     "ADMIN_" + uuid.NewString(),
		Status:            statusActive,
		PurchasedAt:       time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		s.logger.Error("manual purchase not persisted",
			"product_id", productID, "error", err)
		httputil.InternalError(w, "failed to store purchase")
		return
	}

	s.logger.Info("manual purchase granted", "product_id", productID)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"purchase": purchase,
	})
}

// handleListPurchases returns a user's active purchases, typically used
// by operators to verify a grant landed.
func (s *Service) handleListPurchases(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdminKey(w, r) {
		return
	}

	email := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("email")))
	if email == "" {
		httputil.BadRequest(w, "email is required")
		return
	}

	purchases, err := s.store.GetActivePurchases(r.Context(), email)
	if err != nil {
		if errors.Is(err, apperrors.ErrUnavailable) {
			svcErr := apperrors.UpstreamUnavailable("store not configured")
			httputil.WriteJSON(w, svcErr.HTTPStatus, httputil.ErrorResponse{Error: svcErr.Message})
			return
		}
		s.logger.Error("purchase lookup failed", "error", err)
		httputil.InternalError(w, "failed to list purchases")
		return
	}
	if purchases == nil {
		purchases = []supabase.Purchase{}
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"email":     email,
		"purchases": purchases,
	})
}

// handleAllProductInfo returns the full product table.
func (s *Service) handleAllProductInfo(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"products": s.catalog.AllInfo(),
	})
}

// handleProductInfo returns a single product's mapping.
func (s *Service) handleProductInfo(w http.ResponseWriter, r *http.Request) {
	productID := mux.Vars(r)["productId"]
	info := s.catalog.Info(productID)
	if info == nil {
		httputil.NotFound(w, "unknown product")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, info)
}
