package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/vidaleve/companion/internal/database"
	apperrors "github.com/vidaleve/companion/internal/errors"
)

const purchasesTable = "purchases"

// Purchase is a row in the purchases table.
type Purchase struct {
	ID                string `json:"id,omitempty"`
	UserEmail         string `json:"user_email"`
	ProductID         string `json:"product_id"`
	ProviderProductID string `json:"provider_product_id,omitempty"`
	TransactionID     string `json:"transaction_id"`
	Status            string `json:"status"`
	PurchasedAt       string `json:"purchased_at,omitempty"`
	CreatedAt         string `json:"created_at,omitempty"`
	UpdatedAt         string `json:"updated_at,omitempty"`
}

// Repository provides purchase persistence on top of the shared
// database client.
type Repository struct {
	base *database.Repository
}

// NewRepository creates a purchase repository.
func NewRepository(base *database.Repository) *Repository {
	return &Repository{base: base}
}

// Degraded reports whether the backing store is unconfigured.
func (r *Repository) Degraded() bool {
	return r.base.Degraded()
}

// GetActivePurchases returns the active purchases for an email address.
func (r *Repository) GetActivePurchases(ctx context.Context, email string) ([]Purchase, error) {
	query := "user_email=eq." + url.QueryEscape(strings.ToLower(strings.TrimSpace(email))) +
		"&status=eq.active&select=*"
	data, err := r.base.Request(ctx, "GET", purchasesTable, nil, query)
	if err != nil {
		return nil, err
	}
	var purchases []Purchase
	if err := json.Unmarshal(data, &purchases); err != nil {
		return nil, fmt.Errorf("%w: parsing purchases: %v", apperrors.ErrDatabaseError, err)
	}
	return purchases, nil
}

// UpsertPurchase inserts or updates a purchase keyed on its transaction ID.
func (r *Repository) UpsertPurchase(ctx context.Context, p Purchase) (*Purchase, error) {
	p.UserEmail = strings.ToLower(strings.TrimSpace(p.UserEmail))
	data, err := r.base.Upsert(ctx, purchasesTable, p, "transaction_id")
	if err != nil {
		return nil, err
	}
	var purchases []Purchase
	if err := json.Unmarshal(data, &purchases); err != nil {
		return nil, fmt.Errorf("%w: parsing upserted purchase: %v", apperrors.ErrDatabaseError, err)
	}
	if len(purchases) == 0 {
		return nil, fmt.Errorf("%w: upsert returned no rows", apperrors.ErrDatabaseError)
	}
	return &purchases[0], nil
}

// UpdatePurchaseStatus sets the status of the purchase with the given
// transaction ID and returns the updated rows. An empty result means no
// row matched.
func (r *Repository) UpdatePurchaseStatus(ctx context.Context, transactionID, status string) ([]Purchase, error) {
	query := "transaction_id=eq." + url.QueryEscape(transactionID)
	body := map[string]string{"status": status}
	data, err := r.base.Request(ctx, "PATCH", purchasesTable, body, query)
	if err != nil {
		return nil, err
	}
	var purchases []Purchase
	if err := json.Unmarshal(data, &purchases); err != nil {
		return nil, fmt.Errorf("%w: parsing updated purchases: %v", apperrors.ErrDatabaseError, err)
	}
	return purchases, nil
}
