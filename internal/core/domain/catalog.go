package domain

import "github.com/shopspring/decimal"

// Item is a purchasable catalog entry.
type Item struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Description string          `json:"description"`
	ImageRef    string          `json:"image"`
}
