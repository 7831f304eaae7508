package catalog

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultCatalogIsValid(t *testing.T) {
	c := Default()
	if got := len(c.AllProductIDs()); got != 12 {
		t.Fatalf("products = %d, want 12", got)
	}
}

func TestProviderLookup(t *testing.T) {
	c := Default()

	if got := c.ProductIDForProvider("6694071"); got != "p1" {
		t.Errorf("ProductIDForProvider(6694071) = %q, want p1", got)
	}
	if got := c.ProductIDForProvider("does-not-exist"); got != "" {
		t.Errorf("unknown provider id = %q, want empty", got)
	}
	if got := c.ProviderProductIDFor("p1"); got != "6694071" {
		t.Errorf("ProviderProductIDFor(p1) = %q, want 6694071", got)
	}
	if got := c.OfferCodeFor("p1"); got != "8pqi3d4c" {
		t.Errorf("OfferCodeFor(p1) = %q, want 8pqi3d4c", got)
	}
}

func TestAppOnlyProductsHaveNoProviderID(t *testing.T) {
	c := Default()
	// Bonus products unlock alongside a purchase; they are never matched
	// by a webhook directly.
	for _, id := range []string{"l1", "b1", "b7"} {
		if got := c.ProviderProductIDFor(id); got != "" {
			t.Errorf("ProviderProductIDFor(%s) = %q, want empty", id, got)
		}
	}
}

func TestNewRejectsDuplicates(t *testing.T) {
	_, err := New([]Mapping{
		{ProductID: "p1", ProviderProductID: "1"},
		{ProductID: "p1", ProviderProductID: "2"},
	})
	if err == nil {
		t.Fatal("duplicate product_id accepted")
	}

	_, err = New([]Mapping{
		{ProductID: "p1", ProviderProductID: "1"},
		{ProductID: "p2", ProviderProductID: "1"},
	})
	if err == nil {
		t.Fatal("duplicate provider_product_id accepted")
	}
}

func TestInfoCopiesMapping(t *testing.T) {
	c := Default()
	info := c.Info("p1")
	if info == nil {
		t.Fatal("Info(p1) = nil")
	}
	info.Name = "mutated"
	if c.Info("p1").Name == "mutated" {
		t.Fatal("Info returned a reference into the catalog")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "products.yaml")
	content := `products:
  - name: Test Product
    product_id: t1
    provider_product_id: "12345"
    offer_code: abc
  - name: App Only
    product_id: t2
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	c, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if got := c.ProductIDForProvider("12345"); got != "t1" {
		t.Errorf("ProductIDForProvider(12345) = %q, want t1", got)
	}
	if got := c.OfferCodeFor("t1"); got != "abc" {
		t.Errorf("OfferCodeFor(t1) = %q, want abc", got)
	}
}

func TestLoadFileRejectsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(path, []byte("products: []\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatal("empty catalog file accepted")
	}
}
