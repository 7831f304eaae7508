package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vidaleve/companion/internal/catalog"
	"github.com/vidaleve/companion/internal/config"
	"github.com/vidaleve/companion/internal/logging"
	"github.com/vidaleve/companion/internal/metrics"
	"github.com/vidaleve/companion/services/checkout/supabase"
)

type memoryStore struct {
	byTransaction map[string]supabase.Purchase
	degraded      bool

	upsertErr error
	updateErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{byTransaction: make(map[string]supabase.Purchase)}
}

func (m *memoryStore) UpsertPurchase(_ context.Context, p supabase.Purchase) (*supabase.Purchase, error) {
	if err := m.upsertErr; err != nil {
		m.upsertErr = nil
		return nil, err
	}
	m.byTransaction[p.TransactionID] = p
	return &p, nil
}

func (m *memoryStore) UpdatePurchaseStatus(_ context.Context, transactionID, status string) ([]supabase.Purchase, error) {
	if err := m.updateErr; err != nil {
		m.updateErr = nil
		return nil, err
	}
	p, ok := m.byTransaction[transactionID]
	if !ok {
		return nil, nil
	}
	p.Status = status
	m.byTransaction[transactionID] = p
	return []supabase.Purchase{p}, nil
}

func (m *memoryStore) GetActivePurchases(_ context.Context, email string) ([]supabase.Purchase, error) {
	var out []supabase.Purchase
	for _, p := range m.byTransaction {
		if p.UserEmail == email && p.Status == "active" {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memoryStore) Degraded() bool { return m.degraded }

func newServiceWithStore(t *testing.T, store Store, cfg Config) *Service {
	t.Helper()
	cfg.Logger = logging.Nop()
	return New(cfg, store, catalog.Default(), metrics.New())
}

func webhookBody(event, email, productID, transaction string) []byte {
	return []byte(fmt.Sprintf(`{
		"event": %q,
		"data": {
			"buyer": {"email": %q},
			"product": {"id": %s},
			"purchase": {"transaction": %q}
		}
	}`, event, email, productID, transaction))
}

func postWebhook(s *Service, token string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/checkout/webhook", bytes.NewReader(body))
	if token != "" {
		req.Header.Set(webhookTokenHeader, token)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decodeAck(t *testing.T, rec *httptest.ResponseRecorder) webhookAck {
	t.Helper()
	var ack webhookAck
	if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil {
		t.Fatalf("decoding ack: %v", err)
	}
	return ack
}

func TestWebhookRejectsInvalidToken(t *testing.T) {
	store := newMemoryStore()
	s := newServiceWithStore(t, store, Config{WebhookSecret: "s3cret"})

	rec := postWebhook(s, "wrong", webhookBody("PURCHASE_APPROVED", "a@b.com", "6694071", "TX1"))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if len(store.byTransaction) != 0 {
		t.Fatalf("purchase stored despite bad token")
	}
}

func TestWebhookAcceptsAllWhenSecretUnset(t *testing.T) {
	store := newMemoryStore()
	s := newServiceWithStore(t, store, Config{})

	rec := postWebhook(s, "", webhookBody("PURCHASE_APPROVED", "a@b.com", "6694071", "TX1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if _, ok := store.byTransaction["TX1"]; !ok {
		t.Fatalf("purchase not stored")
	}
}

func TestWebhookApprovedStoresActivePurchase(t *testing.T) {
	store := newMemoryStore()
	s := newServiceWithStore(t, store, Config{WebhookSecret: "s3cret"})

	rec := postWebhook(s, "s3cret", webhookBody("PURCHASE_APPROVED", "Buyer@Example.COM", "6694071", "TX1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	p, ok := store.byTransaction["TX1"]
	if !ok {
		t.Fatalf("purchase not stored")
	}
	if p.UserEmail != "buyer@example.com" {
		t.Errorf("email = %q, want lowercased", p.UserEmail)
	}
	if p.ProductID != "p1" {
		t.Errorf("product_id = %q, want p1", p.ProductID)
	}
	if p.Status != statusActive {
		t.Errorf("status = %q, want active", p.Status)
	}
}

func TestWebhookApprovedIsIdempotent(t *testing.T) {
	store := newMemoryStore()
	s := newServiceWithStore(t, store, Config{WebhookSecret: "s3cret"})

	body := webhookBody("PURCHASE_APPROVED", "a@b.com", "6694071", "TX1")
	postWebhook(s, "s3cret", body)
	rec := postWebhook(s, "s3cret", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(store.byTransaction) != 1 {
		t.Fatalf("rows = %d, want 1", len(store.byTransaction))
	}
}

func TestWebhookRefundUpdatesStatus(t *testing.T) {
	store := newMemoryStore()
	s := newServiceWithStore(t, store, Config{WebhookSecret: "s3cret"})

	postWebhook(s, "s3cret", webhookBody("PURCHASE_APPROVED", "a@b.com", "6694071", "TX1"))
	rec := postWebhook(s, "s3cret", webhookBody("PURCHASE_REFUNDED", "a@b.com", "6694071", "TX1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := store.byTransaction["TX1"].Status; got != statusRefunded {
		t.Fatalf("status = %q, want refunded", got)
	}
}

func TestWebhookChargebackCancels(t *testing.T) {
	store := newMemoryStore()
	s := newServiceWithStore(t, store, Config{WebhookSecret: "s3cret"})

	postWebhook(s, "s3cret", webhookBody("PURCHASE_APPROVED", "a@b.com", "6694071", "TX1"))
	postWebhook(s, "s3cret", webhookBody("PURCHASE_CHARGEBACK", "a@b.com", "6694071", "TX1"))
	if got := store.byTransaction["TX1"].Status; got != statusCancelled {
		t.Fatalf("status = %q, want cancelled", got)
	}
}

func TestWebhookOutOfOrderDropPolicy(t *testing.T) {
	store := newMemoryStore()
	s := newServiceWithStore(t, store, Config{
		WebhookSecret:    "s3cret",
		OutOfOrderPolicy: config.OutOfOrderDrop,
	})

	rec := postWebhook(s, "s3cret", webhookBody("PURCHASE_REFUNDED", "a@b.com", "6694071", "TX1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ack := decodeAck(t, rec); ack.Status != "ignored" {
		t.Fatalf("ack status = %q, want ignored", ack.Status)
	}
	if len(store.byTransaction) != 0 {
		t.Fatalf("row created under drop policy")
	}
}

func TestWebhookOutOfOrderUpsertPolicy(t *testing.T) {
	store := newMemoryStore()
	s := newServiceWithStore(t, store, Config{
		WebhookSecret:    "s3cret",
		OutOfOrderPolicy: config.OutOfOrderUpsert,
	})

	rec := postWebhook(s, "s3cret", webhookBody("PURCHASE_REFUNDED", "a@b.com", "6694071", "TX1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	p, ok := store.byTransaction["TX1"]
	if !ok {
		t.Fatalf("row not created under upsert policy")
	}
	if p.Status != statusRefunded {
		t.Fatalf("status = %q, want refunded", p.Status)
	}
}

func TestWebhookUnmappedProductIgnored(t *testing.T) {
	store := newMemoryStore()
	s := newServiceWithStore(t, store, Config{WebhookSecret: "s3cret"})

	rec := postWebhook(s, "s3cret", webhookBody("PURCHASE_APPROVED", "a@b.com", "999999", "TX1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ack := decodeAck(t, rec); ack.Status != "ignored" {
		t.Fatalf("ack status = %q, want ignored", ack.Status)
	}
	if len(store.byTransaction) != 0 {
		t.Fatalf("unmapped product stored")
	}
}

func TestWebhookMalformedPayloadAcknowledged(t *testing.T) {
	s := newServiceWithStore(t, newMemoryStore(), Config{WebhookSecret: "s3cret"})

	for _, body := range []string{
		`{not json`,
		`{"event":"PURCHASE_APPROVED","data":{}}`,
	} {
		rec := postWebhook(s, "s3cret", []byte(body))
		if rec.Code != http.StatusOK {
			t.Errorf("body %q: status = %d, want 200", body, rec.Code)
		}
		if ack := decodeAck(t, rec); ack.Status != "ignored" {
			t.Errorf("body %q: ack status = %q, want ignored", body, ack.Status)
		}
	}
}

func TestWebhookStoreFailureStillAcknowledged(t *testing.T) {
	store := newMemoryStore()
	store.upsertErr = fmt.Errorf("connection reset")
	s := newServiceWithStore(t, store, Config{WebhookSecret: "s3cret"})

	rec := postWebhook(s, "s3cret", webhookBody("PURCHASE_APPROVED", "a@b.com", "6694071", "TX1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ack := decodeAck(t, rec); ack.Status != "ok" {
		t.Fatalf("ack status = %q, want ok", ack.Status)
	}
}

func TestWebhookUnhandledEventIgnored(t *testing.T) {
	store := newMemoryStore()
	s := newServiceWithStore(t, store, Config{WebhookSecret: "s3cret"})

	rec := postWebhook(s, "s3cret", webhookBody("SUBSCRIPTION_CANCELLATION", "a@b.com", "6694071", "TX1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(store.byTransaction) != 0 {
		t.Fatalf("unhandled event stored")
	}
}

func TestWebhookTestEndpoint(t *testing.T) {
	s := newServiceWithStore(t, newMemoryStore(), Config{WebhookSecret: "s3cret"})

	req := httptest.NewRequest(http.MethodGet, "/api/checkout/webhook/test", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["secretConfigured"] != true {
		t.Errorf("secretConfigured = %v, want true", resp["secretConfigured"])
	}
}

func TestAddPurchaseRequiresAdminKey(t *testing.T) {
	store := newMemoryStore()
	s := newServiceWithStore(t, store, Config{AdminAPIKey: "admin-key"})

	body := []byte(`{"email":"a@b.com","productId":"p1"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/admin/add-purchase", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	// An unset admin key must lock the endpoint, not open it.
	open := newServiceWithStore(t, store, Config{})
	req = httptest.NewRequest(http.MethodPost, "/api/admin/add-purchase", bytes.NewReader(body))
	rec = httptest.NewRecorder()
	open.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unset key: status = %d, want 401", rec.Code)
	}
}

func TestAddPurchaseGrantsProduct(t *testing.T) {
	store := newMemoryStore()
	s := newServiceWithStore(t, store, Config{AdminAPIKey: "admin-key"})

	body := []byte(`{"email":"VIP@Example.com","productId":"b3"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/admin/add-purchase", bytes.NewReader(body))
	req.Header.Set("X-Admin-Key", "admin-key")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if len(store.byTransaction) != 1 {
		t.Fatalf("rows = %d, want 1", len(store.byTransaction))
	}
	for _, p := range store.byTransaction {
		if p.UserEmail != "vip@example.com" {
			t.Errorf("email = %q, want lowercased", p.UserEmail)
		}
		if p.ProviderProductID != "MANUAL_ADMIN" {
			t.Errorf("provider_product_id = %q, want MANUAL_ADMIN", p.ProviderProductID)
		}
		if len(p.TransactionID) < len("ADMIN_")+10 || p.TransactionID[:6] != "ADMIN_" {
			t.Errorf("transaction_id = %q, want ADMIN_ prefix", p.TransactionID)
		}
	}
}

func TestListPurchasesReturnsActiveGrants(t *testing.T) {
	store := newMemoryStore()
	s := newServiceWithStore(t, store, Config{AdminAPIKey: "admin-key"})

	body := []byte(`{"email":"vip@example.com","productId":"p1"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/admin/add-purchase", bytes.NewReader(body))
	req.Header.Set("X-Admin-Key", "admin-key")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("grant: status = %d, want 200", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/admin/purchases?email=VIP@Example.com", nil)
	req.Header.Set("X-Admin-Key", "admin-key")
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Email     string              `json:"email"`
		Purchases []supabase.Purchase `json:"purchases"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if resp.Email != "vip@example.com" {
		t.Errorf("email = %q, want lowercased", resp.Email)
	}
	if len(resp.Purchases) != 1 || resp.Purchases[0].ProductID != "p1" {
		t.Fatalf("purchases = %+v, want single p1 grant", resp.Purchases)
	}

	// No key, no lookup.
	req = httptest.NewRequest(http.MethodGet, "/api/admin/purchases?email=vip@example.com", nil)
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no key: status = %d, want 401", rec.Code)
	}
}

func TestAddPurchaseRejectsUnknownProduct(t *testing.T) {
	s := newServiceWithStore(t, newMemoryStore(), Config{AdminAPIKey: "admin-key"})

	body := []byte(`{"email":"a@b.com","productId":"nope"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/admin/add-purchase", bytes.NewReader(body))
	req.Header.Set("X-Admin-Key", "admin-key")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestProductInfoEndpoints(t *testing.T) {
	s := newServiceWithStore(t, newMemoryStore(), Config{})

	req := httptest.NewRequest(http.MethodGet, "/api/products/info", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("all info: status = %d, want 200", rec.Code)
	}
	var all struct {
		Products []catalog.Mapping `json:"products"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &all); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(all.Products) != 12 {
		t.Fatalf("products = %d, want 12", len(all.Products))
	}

	req = httptest.NewRequest(http.MethodGet, "/api/products/p1/info", nil)
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("p1 info: status = %d, want 200", rec.Code)
	}
	var info catalog.Mapping
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if info.OfferCode != "8pqi3d4c" {
		t.Errorf("offer code = %q, want 8pqi3d4c", info.OfferCode)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/products/zzz/info", nil)
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown product: status = %d, want 404", rec.Code)
	}
}
