// Package catalog holds the static mapping between the payment provider's
// product identifiers and the app's internal product identifiers.
package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Mapping links a provider product to an internal product.
type Mapping struct {
	Name              string `json:"name" yaml:"name"`
	ProductID         string `json:"appProductId" yaml:"product_id"`
	ProviderProductID string `json:"providerProductId" yaml:"provider_product_id"`
	OfferCode         string `json:"offerCode" yaml:"offer_code"`
}

// Catalog is an immutable lookup table built once at process start.
type Catalog struct {
	mappings   []Mapping
	byProvider map[string]int
	byProduct  map[string]int
}

// defaultMappings is the built-in product table. Entries with an empty
// provider id are app-only products that cannot be matched by a webhook.
var defaultMappings = []Mapping{
	{Name: "Gelatina Reductora", ProductID: "p1", ProviderProductID: "6694071", OfferCode: "8pqi3d4c"},
	{Name: "Desinflamación de 7 días", ProductID: "p2", ProviderProductID: "PROVIDER_PRODUCT_2"},
	{Name: "Registro de Evolución", ProductID: "p3", ProviderProductID: "PROVIDER_PRODUCT_3"},
	{Name: "Acelerador 14 Días", ProductID: "l1"},
	{Name: "Quema-Grasa Mientras Duermes", ProductID: "l2"},
	{Name: "Reset Hormonal", ProductID: "b1"},
	{Name: "Detox 3 Días", ProductID: "b2"},
	{Name: "20 Tés Adelgazantes", ProductID: "b3"},
	{Name: "15 Jugos Detox", ProductID: "b4"},
	{Name: "10 Shots Turbo", ProductID: "b5"},
	{Name: "15 Postres Fit", ProductID: "b6"},
	{Name: "Plan Anticelulitis", ProductID: "b7"},
}

// Default returns a catalog built from the built-in table.
func Default() *Catalog {
	c, err := New(defaultMappings)
	if err != nil {
		// The built-in table is validated by tests; a failure here is a
		// programming error.
		panic(err)
	}
	return c
}

// New builds a catalog from mappings, validating id uniqueness.
func New(mappings []Mapping) (*Catalog, error) {
	c := &Catalog{
		mappings:   make([]Mapping, len(mappings)),
		byProvider: make(map[string]int),
		byProduct:  make(map[string]int),
	}
	copy(c.mappings, mappings)

	for i, m := range c.mappings {
		if m.ProductID == "" {
			return nil, fmt.Errorf("catalog entry %d: product_id is required", i)
		}
		if _, dup := c.byProduct[m.ProductID]; dup {
			return nil, fmt.Errorf("catalog: duplicate product_id %q", m.ProductID)
		}
		c.byProduct[m.ProductID] = i

		if m.ProviderProductID == "" {
			continue
		}
		if _, dup := c.byProvider[m.ProviderProductID]; dup {
			return nil, fmt.Errorf("catalog: duplicate provider_product_id %q", m.ProviderProductID)
		}
		c.byProvider[m.ProviderProductID] = i
	}
	return c, nil
}

// LoadFile builds a catalog from a YAML file of the shape
// `products: [{name, product_id, provider_product_id, offer_code}]`.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}

	var doc struct {
		Products []Mapping `yaml:"products"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog file: %w", err)
	}
	if len(doc.Products) == 0 {
		return nil, fmt.Errorf("catalog file %s defines no products", path)
	}
	return New(doc.Products)
}

// ProductIDForProvider maps a provider product id to the internal id.
// Returns "" when the provider id is unknown.
func (c *Catalog) ProductIDForProvider(providerProductID string) string {
	if i, ok := c.byProvider[providerProductID]; ok {
		return c.mappings[i].ProductID
	}
	return ""
}

// ProviderProductIDFor returns the provider id for an internal product id.
func (c *Catalog) ProviderProductIDFor(productID string) string {
	if i, ok := c.byProduct[productID]; ok {
		return c.mappings[i].ProviderProductID
	}
	return ""
}

// OfferCodeFor returns the checkout offer code for an internal product id.
func (c *Catalog) OfferCodeFor(productID string) string {
	if i, ok := c.byProduct[productID]; ok {
		return c.mappings[i].OfferCode
	}
	return ""
}

// Info returns the mapping for an internal product id, or nil when unknown.
func (c *Catalog) Info(productID string) *Mapping {
	if i, ok := c.byProduct[productID]; ok {
		m := c.mappings[i]
		return &m
	}
	return nil
}

// AllInfo returns all mappings in table order.
func (c *Catalog) AllInfo() []Mapping {
	out := make([]Mapping, len(c.mappings))
	copy(out, c.mappings)
	return out
}

// AllProductIDs returns every internal product id in table order.
func (c *Catalog) AllProductIDs() []string {
	ids := make([]string, 0, len(c.mappings))
	for _, m := range c.mappings {
		ids = append(ids, m.ProductID)
	}
	return ids
}
