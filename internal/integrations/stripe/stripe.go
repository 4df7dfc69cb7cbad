// internal/integrations/stripe/stripe.go
package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	gostripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"gorm.io/gorm"

	"github.com/bartek5186/saunasync/internal/catalog"
	"github.com/bartek5186/saunasync/internal/db"
)

type Config struct {
	SecretKey string `json:"secret_key"`
	Currency  string `json:"currency"`
	BaseURL   string `json:"base_url,omitempty"` // tylko testy / stripe-mock
}

// Client zakłada produkty i ceny u operatora płatności i odkłada je w price_records.
type Client struct {
	log zerolog.Logger
	cfg Config
	api *client.API
	db  *gorm.DB
}

func New(log zerolog.Logger, cfg Config, gdb *gorm.DB) (*Client, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("stripe: secret_key is required")
	}
	if cfg.Currency == "" {
		cfg.Currency = "eur"
	}
	bc := &gostripe.BackendConfig{
		MaxNetworkRetries: gostripe.Int64(2),
		LeveledLogger:     leveledLogger{log},
	}
	if cfg.BaseURL != "" {
		bc.URL = gostripe.String(cfg.BaseURL)
		bc.MaxNetworkRetries = gostripe.Int64(0)
	}
	api := &client.API{}
	api.Init(cfg.SecretKey, &gostripe.Backends{
		API:     gostripe.GetBackendWithConfig(gostripe.APIBackend, bc),
		Connect: gostripe.GetBackendWithConfig(gostripe.ConnectBackend, bc),
		Uploads: gostripe.GetBackendWithConfig(gostripe.UploadsBackend, bc),
	})
	return &Client{log: log, cfg: cfg, api: api, db: gdb}, nil
}

// ProductID to id produktu u operatora płatności dla zewnętrznego id.
func ProductID(externalID string) string {
	return "ghl_" + strings.TrimPrefix(catalog.DocumentID(externalID), "product-")
}

func isMissing(err error) bool {
	var se *gostripe.Error
	return errors.As(err, &se) && se.Code == gostripe.ErrorCodeResourceMissing
}

// EnsureProduct zwraca id produktu, zakładając go jeśli nie istnieje.
func (c *Client) EnsureProduct(ctx context.Context, p catalog.Product) (string, error) {
	id := ProductID(p.GHLProductID)
	get := &gostripe.ProductParams{}
	get.Context = ctx
	existing, err := c.api.Products.Get(id, get)
	if err == nil {
		return existing.ID, nil
	}
	if !isMissing(err) {
		return "", fmt.Errorf("stripe get product %s: %w", id, err)
	}

	params := &gostripe.ProductParams{
		ID:   gostripe.String(id),
		Name: gostripe.String(p.Name),
	}
	if p.Description != "" {
		params.Description = gostripe.String(p.Description)
	}
	params.Context = ctx
	params.AddMetadata("ghlProductId", p.GHLProductID)
	params.AddMetadata("documentId", p.ID)

	created, err := c.api.Products.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe create product %s: %w", id, err)
	}
	c.log.Info().Str("product", created.ID).Msg("stripe: produkt założony")
	return created.ID, nil
}

// CreatePrice zakłada cenę (amount w jednostkach minimalnych) i zapisuje ją w price_records.
func (c *Client) CreatePrice(ctx context.Context, productID string, amount int64, currency, variant string) (*catalog.Price, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("stripe: invalid amount %d", amount)
	}
	if currency == "" {
		currency = c.cfg.Currency
	}
	params := &gostripe.PriceParams{
		Product:    gostripe.String(productID),
		UnitAmount: gostripe.Int64(amount),
		Currency:   gostripe.String(strings.ToLower(currency)),
	}
	if variant != "" {
		params.Nickname = gostripe.String(variant)
		params.AddMetadata("variant", variant)
	}
	params.Context = ctx

	pr, err := c.api.Prices.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe create price: %w", err)
	}
	out := toPrice(pr)

	if c.db != nil {
		rec := &db.PriceRecord{
			PriceID:    out.ID,
			ProductID:  productID,
			ExternalID: strings.TrimPrefix(productID, "ghl_"),
			Amount:     out.Amount,
			Currency:   out.Currency,
			Variant:    variant,
		}
		if err := db.SavePrice(ctx, c.db, rec); err != nil {
			c.log.Warn().Err(err).Str("price", out.ID).Msg("stripe: zapis price_records nieudany")
		}
	}
	return &out, nil
}

func (c *Client) ListPrices(ctx context.Context, productID string) ([]catalog.Price, error) {
	params := &gostripe.PriceListParams{Product: gostripe.String(productID)}
	params.Context = ctx
	it := c.api.Prices.List(params)

	var out []catalog.Price
	for it.Next() {
		out = append(out, toPrice(it.Price()))
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("stripe list prices %s: %w", productID, err)
	}
	return out, nil
}

// SyncPrices zakłada brakujące ceny produktu: cenę bazową i po jednej na wariant.
// Cena już istniejąca (ta sama kwota i wariant, aktywna) nie jest dublowana.
// Zwraca id produktu u operatora i nowo założone ceny.
func (c *Client) SyncPrices(ctx context.Context, p catalog.Product) (string, []catalog.Price, error) {
	productID, err := c.EnsureProduct(ctx, p)
	if err != nil {
		return "", nil, err
	}
	existing, err := c.ListPrices(ctx, productID)
	if err != nil {
		return productID, nil, err
	}
	have := map[string]bool{}
	for _, pr := range existing {
		if pr.Active {
			have[priceKey(pr.Amount, pr.Variant)] = true
		}
	}

	type want struct {
		amount  int64
		variant string
	}
	var wants []want
	base := p.Price
	if p.SalePrice > 0 {
		base = p.SalePrice
	}
	if base > 0 {
		wants = append(wants, want{catalog.MinorUnits(base), ""})
	}
	for _, v := range p.Variants {
		if v.Price > 0 {
			wants = append(wants, want{catalog.MinorUnits(v.Price), v.Name})
		}
	}

	var created []catalog.Price
	for _, w := range wants {
		if have[priceKey(w.amount, w.variant)] {
			continue
		}
		pr, err := c.CreatePrice(ctx, productID, w.amount, "", w.variant)
		if err != nil {
			return productID, created, err
		}
		have[priceKey(w.amount, w.variant)] = true
		created = append(created, *pr)
	}
	return productID, created, nil
}

func priceKey(amount int64, variant string) string {
	return fmt.Sprintf("%d|%s", amount, variant)
}

func toPrice(p *gostripe.Price) catalog.Price {
	out := catalog.Price{
		ID:       p.ID,
		Amount:   p.UnitAmount,
		Currency: string(p.Currency),
		Active:   p.Active,
		Metadata: p.Metadata,
		Variant:  p.Metadata["variant"],
	}
	if p.Product != nil {
		out.ProductID = p.Product.ID
	}
	return out
}

// leveledLogger przepina logi stripe-go na zerolog.
type leveledLogger struct{ log zerolog.Logger }

func (l leveledLogger) Debugf(format string, v ...interface{}) { l.log.Debug().Msgf(format, v...) }
func (l leveledLogger) Infof(format string, v ...interface{})  { l.log.Debug().Msgf(format, v...) }
func (l leveledLogger) Warnf(format string, v ...interface{})  { l.log.Warn().Msgf(format, v...) }
func (l leveledLogger) Errorf(format string, v ...interface{}) { l.log.Error().Msgf(format, v...) }
