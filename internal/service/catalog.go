package service

import (
	"fmt"
	"strings"

	"realm-wallet/config"
	"realm-wallet/internal/core/domain"

	"github.com/shopspring/decimal"
)

// Catalog is the fixed set of purchasable items. It is immutable after construction.
type Catalog struct {
	items []domain.Item
	byID  map[string]domain.Item
}

// NewCatalog builds the catalog from configuration.
func NewCatalog(cfgItems []config.CatalogItemConfig) (*Catalog, error) {
	c := &Catalog{
		items: make([]domain.Item, 0, len(cfgItems)),
		byID:  make(map[string]domain.Item, len(cfgItems)),
	}
	for i, ci := range cfgItems {
		id := strings.TrimSpace(ci.ID)
		if id == "" {
			return nil, fmt.Errorf("catalog item %d: id is required", i)
		}
		if _, dup := c.byID[id]; dup {
			return nil, fmt.Errorf("catalog item %q: duplicate id", id)
		}
		if strings.TrimSpace(ci.Name) == "" {
			return nil, fmt.Errorf("catalog item %q: name is required", id)
		}
		price, err := decimal.NewFromString(strings.TrimSpace(ci.Price))
		if err != nil {
			return nil, fmt.Errorf("catalog item %q: invalid price: %w", id, err)
		}
		if appErr := ValidateAmount(price); appErr != nil {
			return nil, fmt.Errorf("catalog item %q: %s", id, appErr.Message)
		}

		item := domain.Item{
			ID:          id,
			Name:        ci.Name,
			Price:       price,
			Description: ci.Description,
			ImageRef:    ci.Image,
		}
		c.items = append(c.items, item)
		c.byID[id] = item
	}
	return c, nil
}

// Items returns the catalog in configuration order.
func (c *Catalog) Items() []domain.Item {
	out := make([]domain.Item, len(c.items))
	copy(out, c.items)
	return out
}

// Lookup finds an item by id.
func (c *Catalog) Lookup(id string) (domain.Item, bool) {
	item, ok := c.byID[strings.TrimSpace(id)]
	return item, ok
}
