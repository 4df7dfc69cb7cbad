// internal/integrations/feed/reader.go
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/bartek5186/saunasync/internal/db"
	"github.com/bartek5186/saunasync/internal/source"
)

var ErrNoImport = errors.New("feed: brak przetworzonego importu")

// Reader podaje produkty z ostatniego importu DONE jako źródło resync.
type Reader struct {
	db *gorm.DB
}

var _ source.Reader = (*Reader)(nil)

func NewReader(gdb *gorm.DB) *Reader { return &Reader{db: gdb} }

func (r *Reader) Name() string { return "feed" }

func (r *Reader) Products(ctx context.Context) ([]source.Product, error) {
	var imp db.ImportFile
	err := r.db.WithContext(ctx).
		Where("status = ?", db.ImportDone).
		Order("processed_at desc, import_id desc").
		Take(&imp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoImport
	}
	if err != nil {
		return nil, err
	}

	var rows []db.StProduct
	if err := r.db.WithContext(ctx).Where("import_id = ?", imp.ImportID).
		Order("external_id").Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]source.Product, 0, len(rows))
	for _, row := range rows {
		p, err := fromStaging(row)
		if err != nil {
			return nil, fmt.Errorf("import %d, produkt %s: %w", imp.ImportID, row.ExternalID, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func fromStaging(row db.StProduct) (source.Product, error) {
	p := source.Product{
		ExternalID:  row.ExternalID,
		Name:        row.Name,
		Description: row.Description,
		Category:    row.Category,
		Currency:    row.Currency,
		Price:       row.Price,
		SalePrice:   row.SalePrice,
		Stock:       row.Stock,
		Available:   row.Available,
	}
	if err := unmarshalIf(row.ImagesJSON, &p.Images); err != nil {
		return p, err
	}
	if err := unmarshalIf(row.FeaturesJSON, &p.Features); err != nil {
		return p, err
	}
	var vs []variantJSON
	if err := unmarshalIf(row.VariantsJSON, &vs); err != nil {
		return p, err
	}
	for _, v := range vs {
		p.Variants = append(p.Variants, source.Variant{Name: v.Name, SKU: v.SKU, Price: v.Price, Stock: v.Stock})
	}
	return p, nil
}

func unmarshalIf(s string, v any) error {
	if s == "" || s == "null" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}
