// catalog/catalog.go

// Package catalog supplies the product records that the cart and favorites
// stores copy from. It is read-only once loaded.
package catalog

import (
	_ "embed"
	"encoding/json"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/Baiano-Indiano/tech-gamer-ecommerce-sub001/money"
)

//go:embed products.json
var defaultProducts []byte

// ErrNotFound is returned when a product id is not in the catalog.
var ErrNotFound = errors.New("product not found")

// Product is a catalog record. Cart line items and favorites keep a copy
// of these fields taken at the moment of interaction.
type Product struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Description   string        `json:"description,omitempty"`
	Price         money.Amount  `json:"price"`
	OriginalPrice *money.Amount `json:"originalPrice,omitempty"`
	Image         string        `json:"image"`
	Rating        float64       `json:"rating"`
	Category      string        `json:"category"`
	InStock       bool          `json:"inStock"`
}

// OnSale reports whether the product carries a higher original price.
func (p Product) OnSale() bool {
	return p.OriginalPrice != nil && *p.OriginalPrice > p.Price
}

// Catalog is an ordered, indexed set of products.
type Catalog struct {
	products []Product
	byID     map[string]int
}

// Default returns the catalog bundled with the binary.
func Default() (*Catalog, error) {
	return Parse(defaultProducts)
}

// LoadFile reads a JSON product list from path.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading catalog file")
	}
	return Parse(data)
}

// Parse decodes a JSON product list. Duplicate ids are rejected.
func Parse(data []byte) (*Catalog, error) {
	var products []Product
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, errors.Wrap(err, "parsing catalog")
	}
	return New(products)
}

// New builds a catalog from products, preserving their order.
func New(products []Product) (*Catalog, error) {
	c := &Catalog{
		products: make([]Product, 0, len(products)),
		byID:     make(map[string]int, len(products)),
	}
	for _, p := range products {
		if p.ID == "" {
			return nil, errors.Errorf("product %q has no id", p.Name)
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, errors.Errorf("duplicate product id %q", p.ID)
		}
		c.byID[p.ID] = len(c.products)
		c.products = append(c.products, p)
	}
	return c, nil
}

// List returns all products in catalog order.
func (c *Catalog) List() []Product {
	out := make([]Product, len(c.products))
	copy(out, c.products)
	return out
}

// Get looks up a product by id.
func (c *Catalog) Get(id string) (Product, error) {
	i, ok := c.byID[id]
	if !ok {
		return Product{}, errors.Wrapf(ErrNotFound, "id %q", id)
	}
	return c.products[i], nil
}

// ByCategory returns the products in category, case-insensitively.
func (c *Catalog) ByCategory(category string) []Product {
	var out []Product
	for _, p := range c.products {
		if strings.EqualFold(p.Category, category) {
			out = append(out, p)
		}
	}
	return out
}

// Search matches query against product name and category.
// An empty query matches everything.
func (c *Catalog) Search(query string) []Product {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return c.List()
	}
	var out []Product
	for _, p := range c.products {
		if strings.Contains(strings.ToLower(p.Name), q) || strings.Contains(strings.ToLower(p.Category), q) {
			out = append(out, p)
		}
	}
	return out
}

// Categories returns the distinct categories, sorted.
func (c *Catalog) Categories() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, p := range c.products {
		if _, ok := seen[p.Category]; ok {
			continue
		}
		seen[p.Category] = struct{}{}
		out = append(out, p.Category)
	}
	sort.Strings(out)
	return out
}
