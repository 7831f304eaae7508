package database

import "context"

// Repository is the base for table-scoped repositories. Service packages
// wrap it with typed operations.
type Repository struct {
	client *Client
}

// NewRepository creates a base repository over a client.
func NewRepository(client *Client) *Repository {
	return &Repository{client: client}
}

// Request forwards to the underlying client.
func (r *Repository) Request(ctx context.Context, method, table string, body any, query string) ([]byte, error) {
	return r.client.Request(ctx, method, table, body, query)
}

// Upsert forwards to the underlying client.
func (r *Repository) Upsert(ctx context.Context, table string, body any, onConflict string) ([]byte, error) {
	return r.client.Upsert(ctx, table, body, onConflict)
}

// RPC forwards to the underlying client.
func (r *Repository) RPC(ctx context.Context, fn string, params any) ([]byte, error) {
	return r.client.RPC(ctx, fn, params)
}

// Degraded reports whether the underlying client lacks credentials.
func (r *Repository) Degraded() bool {
	return r.client.Degraded()
}
