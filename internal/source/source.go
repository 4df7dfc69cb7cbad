// Package source opisuje autorytatywne źródło produktów (platforma commerce albo feed).
package source

import "context"

type Variant struct {
	Name  string
	SKU   string
	Price float64
	Stock int
}

// Product w postaci, w jakiej oddaje go źródło. Description może być HTML.
type Product struct {
	ExternalID  string
	Name        string
	Description string
	Category    string
	Currency    string
	Price       float64
	SalePrice   float64
	Stock       int
	Available   bool
	Images      []string
	Features    []string
	Variants    []Variant
}

// Reader pobiera pełną listę produktów ze źródła.
type Reader interface {
	Name() string
	Products(ctx context.Context) ([]Product, error)
}
