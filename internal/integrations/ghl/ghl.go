// internal/integrations/ghl/ghl.go
package ghl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/bartek5186/saunasync/internal/httpx"
	"github.com/bartek5186/saunasync/internal/source"
)

const apiVersion = "2021-07-28"

type Config struct {
	BaseURL     string            `json:"base_url"` // https://services.leadconnectorhq.com
	APIKey      string            `json:"api_key"`
	LocationID  string            `json:"location_id"`
	Currency    string            `json:"currency"`
	PageSize    int               `json:"page_size"`
	RateLimit   float64           `json:"rate_limit"` // żądań na sekundę
	Version     string            `json:"version,omitempty"`
	TimeoutSec  int               `json:"timeout_sec,omitempty"`
	MaxRetries  int               `json:"max_retries,omitempty"`
	CategoryMap map[string]string `json:"category_map,omitempty"` // collectionId -> kategoria
}

// Client czyta produkty z platformy commerce. Implementuje source.Reader.
type Client struct {
	log     zerolog.Logger
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	retrier *httpx.Retrier
}

var _ source.Reader = (*Client)(nil)

func New(log zerolog.Logger, cfg Config) (*Client, error) {
	if cfg.APIKey == "" || cfg.LocationID == "" {
		return nil, errors.New("ghl: api_key and location_id are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://services.leadconnectorhq.com"
	}
	if cfg.PageSize <= 0 || cfg.PageSize > 100 {
		cfg.PageSize = 100
	}
	if cfg.Version == "" {
		cfg.Version = apiVersion
	}
	if cfg.Currency == "" {
		cfg.Currency = "EUR"
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	timeout := 20 * time.Second
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}
	rc := httpx.DefaultRetryConfig()
	if cfg.MaxRetries > 0 {
		rc.MaxRetries = cfg.MaxRetries
	}
	return &Client{
		log:     log,
		cfg:     cfg,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, 1),
		retrier: httpx.NewRetrier(rc),
	}, nil
}

func (c *Client) Name() string { return "ghl" }

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := strings.TrimRight(c.cfg.BaseURL, "/") + path + "?" + q.Encode()
	resp, err := c.retrier.Do(ctx, func(ctx context.Context) (*http.Response, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, fmt.Errorf("error creating request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		req.Header.Set("Version", c.cfg.Version)
		req.Header.Set("Accept", "application/json")
		return c.http.Do(req)
	})
	if err != nil {
		return err
	}
	if err := httpx.CheckResponse(resp); err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

// listProducts stronicuje /products/ aż do niepełnej strony.
func (c *Client) listProducts(ctx context.Context) ([]ghlProduct, error) {
	var all []ghlProduct
	for offset := 0; ; offset += c.cfg.PageSize {
		q := url.Values{}
		q.Set("locationId", c.cfg.LocationID)
		q.Set("limit", strconv.Itoa(c.cfg.PageSize))
		q.Set("offset", strconv.Itoa(offset))

		var page productsPage
		if err := c.get(ctx, "/products/", q, &page); err != nil {
			return nil, fmt.Errorf("ghl products offset %d: %w", offset, err)
		}
		all = append(all, page.Products...)
		if len(page.Products) < c.cfg.PageSize {
			break
		}
	}
	return all, nil
}

func (c *Client) prices(ctx context.Context, productID string) ([]ghlPrice, error) {
	q := url.Values{}
	q.Set("locationId", c.cfg.LocationID)
	var out pricesPage
	if err := c.get(ctx, "/products/"+url.PathEscape(productID)+"/price", q, &out); err != nil {
		return nil, fmt.Errorf("ghl prices %s: %w", productID, err)
	}
	return out.Prices, nil
}

// Products zwraca pełną listę produktów z cenami.
func (c *Client) Products(ctx context.Context) ([]source.Product, error) {
	items, err := c.listProducts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]source.Product, 0, len(items))
	for _, it := range items {
		prices, err := c.prices(ctx, it.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, c.toSource(it, prices))
	}
	c.log.Info().Int("products", len(out)).Msg("ghl: produkty pobrane")
	return out, nil
}

func (c *Client) toSource(p ghlProduct, prices []ghlPrice) source.Product {
	sp := source.Product{
		ExternalID:  p.ID,
		Name:        p.Name,
		Description: p.Description,
		Available:   p.AvailableInStore,
	}
	for _, id := range p.CollectionIDs {
		if name, ok := c.cfg.CategoryMap[id]; ok {
			sp.Category = name
			break
		}
	}
	if p.Image != "" {
		sp.Images = append(sp.Images, p.Image)
	}
	for _, m := range p.Medias {
		if m.URL != "" && m.URL != p.Image && (m.Type == "" || m.Type == "image") {
			sp.Images = append(sp.Images, m.URL)
		}
	}

	// cena produktu = najtańszy wariant; compareAtPrice wyżej niż amount oznacza promocję
	tracked := false
	cheapest := -1
	for i, pr := range prices {
		if pr.Currency != "" && sp.Currency == "" {
			sp.Currency = pr.Currency
		}
		if cheapest < 0 || pr.Amount < prices[cheapest].Amount {
			cheapest = i
		}
		if pr.TrackInventory {
			tracked = true
			sp.Stock += pr.AvailableQuantity
		}
		if len(prices) > 1 {
			sp.Variants = append(sp.Variants, source.Variant{
				Name:  pr.Name,
				SKU:   pr.SKU,
				Price: pr.Amount,
				Stock: pr.AvailableQuantity,
			})
		}
	}
	if cheapest >= 0 {
		pr := prices[cheapest]
		sp.Price = pr.Amount
		if pr.CompareAtPrice > pr.Amount {
			sp.Price, sp.SalePrice = pr.CompareAtPrice, pr.Amount
		}
	}
	if sp.Currency == "" {
		sp.Currency = c.cfg.Currency
	}
	if tracked && sp.Stock <= 0 {
		sp.Available = false
	}
	return sp
}
