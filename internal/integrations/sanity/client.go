// internal/integrations/sanity/client.go
package sanity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/bartek5186/saunasync/internal/catalog"
	"github.com/bartek5186/saunasync/internal/httpx"
)

var ErrNotFound = errors.New("sanity: document not found")

type Config struct {
	ProjectID  string `json:"project_id"`
	Dataset    string `json:"dataset"`
	APIVersion string `json:"api_version"`
	Token      string `json:"token"`
	BaseURL    string `json:"base_url,omitempty"` // domyślnie https://<project_id>.api.sanity.io
	PollSec    int    `json:"poll_sec"`           // mirror do product_snapshots, 0 = wyłączony
	MaxRetries int    `json:"max_retries"`
	TimeoutSec int    `json:"timeout_sec,omitempty"`
}

type Client struct {
	log     zerolog.Logger
	cfg     Config
	http    *http.Client
	retrier *httpx.Retrier
}

func NewClient(log zerolog.Logger, cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		if cfg.ProjectID == "" {
			return nil, errors.New("sanity: project_id is required")
		}
		cfg.BaseURL = fmt.Sprintf("https://%s.api.sanity.io", cfg.ProjectID)
	}
	if cfg.Dataset == "" {
		cfg.Dataset = "production"
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2023-05-03"
	}
	timeout := 20 * time.Second
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}
	rc := httpx.DefaultRetryConfig()
	rc.MaxRetries = cfg.MaxRetries
	return &Client{
		log:     log,
		cfg:     cfg,
		http:    &http.Client{Timeout: timeout},
		retrier: httpx.NewRetrier(rc),
	}, nil
}

func (c *Client) endpoint(kind string) string {
	return fmt.Sprintf("%s/v%s/data/%s/%s",
		strings.TrimRight(c.cfg.BaseURL, "/"),
		strings.TrimPrefix(c.cfg.APIVersion, "v"),
		kind, url.PathEscape(c.cfg.Dataset))
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, out any) error {
	resp, err := c.retrier.Do(ctx, func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("error creating request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "saunasync/1.0")
		if c.cfg.Token != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
		}
		return c.http.Do(req)
	})
	if err != nil {
		return err
	}
	if err := httpx.CheckResponse(resp); err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Query wykonuje zapytanie GROQ; wynik (pole "result") trafia do out.
func (c *Client) Query(ctx context.Context, groq string, params map[string]any, out any) error {
	q := url.Values{}
	q.Set("query", groq)
	for k, v := range params {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("param %s: %w", k, err)
		}
		q.Set("$"+k, string(b))
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := c.do(ctx, http.MethodGet, c.endpoint("query")+"?"+q.Encode(), nil, &envelope); err != nil {
		return fmt.Errorf("sanity query: %w", err)
	}
	if out == nil || len(envelope.Result) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Result, out)
}

// Mutate wysyła mutacje w jednej transakcji.
func (c *Client) Mutate(ctx context.Context, muts ...Mutation) (*MutateResult, error) {
	body, err := json.Marshal(struct {
		Mutations []Mutation `json:"mutations"`
	}{muts})
	if err != nil {
		return nil, err
	}
	var res MutateResult
	if err := c.do(ctx, http.MethodPost, c.endpoint("mutate")+"?returnIds=true&visibility=sync", body, &res); err != nil {
		return nil, fmt.Errorf("sanity mutate: %w", err)
	}
	return &res, nil
}

const productRefsQuery = `*[_type == $type]{_id, name}`

const productsQuery = `*[_type == $type] | order(name asc){
  _id, _type, ghlProductId, name, slug, description, price, salePrice,
  stockCount, inStock, images, category, features, variants
}`

const productBySlugQuery = `*[_type == $type && slug.current == $slug][0]{
  _id, _type, ghlProductId, name, slug, description, price, salePrice,
  stockCount, inStock, images, category, features, variants
}`

// ProductRefs zwraca tylko _id i nazwę wszystkich produktów.
func (c *Client) ProductRefs(ctx context.Context) ([]catalog.Ref, error) {
	var refs []catalog.Ref
	err := c.Query(ctx, productRefsQuery, map[string]any{"type": catalog.DocumentType}, &refs)
	return refs, err
}

func (c *Client) Products(ctx context.Context) ([]catalog.Product, error) {
	var out []catalog.Product
	err := c.Query(ctx, productsQuery, map[string]any{"type": catalog.DocumentType}, &out)
	return out, err
}

func (c *Client) ProductBySlug(ctx context.Context, slug string) (*catalog.Product, error) {
	var p *catalog.Product
	err := c.Query(ctx, productBySlugQuery, map[string]any{"type": catalog.DocumentType, "slug": slug}, &p)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNotFound
	}
	return p, nil
}

// DeleteDocument kasuje dokument; brak dokumentu to nie błąd (API zwraca 200 z pustym results).
func (c *Client) DeleteDocument(ctx context.Context, id string) error {
	_, err := c.Mutate(ctx, Delete(id))
	return err
}

// CreateProduct zapisuje produkt pod deterministycznym _id (createOrReplace).
func (c *Client) CreateProduct(ctx context.Context, p catalog.Product) error {
	if p.ID == "" {
		p.ID = catalog.DocumentID(p.GHLProductID)
	}
	p.Type = catalog.DocumentType
	_, err := c.Mutate(ctx, CreateOrReplace(p))
	return err
}

func (c *Client) PatchProduct(ctx context.Context, id string, set map[string]any) error {
	_, err := c.Mutate(ctx, Patch(id, set))
	return err
}
