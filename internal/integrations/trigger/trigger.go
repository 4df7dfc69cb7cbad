// internal/integrations/trigger/trigger.go
package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/bartek5186/saunasync/internal/httpx"
)

type Config struct {
	URL        string `json:"url"` // endpoint re-importu, odpowiada {synced, errors}
	TimeoutSec int    `json:"timeout_sec"`
	Retries    int    `json:"retries"` // domyślnie 0: trigger nie jest ponawiany
	Token      string `json:"token,omitempty"`
}

// Result to raport zwracany przez endpoint re-importu.
type Result struct {
	Synced int `json:"synced"`
	Errors int `json:"errors"`
}

type Client struct {
	log     zerolog.Logger
	cfg     Config
	http    *http.Client
	retrier *httpx.Retrier
}

func New(log zerolog.Logger, cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("trigger: url is required")
	}
	timeout := 120 * time.Second
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}
	rc := httpx.DefaultRetryConfig()
	rc.MaxRetries = cfg.Retries
	return &Client{
		log:     log,
		cfg:     cfg,
		http:    &http.Client{Timeout: timeout},
		retrier: httpx.NewRetrier(rc),
	}, nil
}

func (c *Client) Name() string { return "trigger" }

// Trigger woła endpoint re-importu (GET) i zwraca jego raport.
func (c *Client) Trigger(ctx context.Context) (Result, error) {
	resp, err := c.retrier.Do(ctx, func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
		if err != nil {
			return nil, fmt.Errorf("error creating request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if c.cfg.Token != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
		}
		return c.http.Do(req)
	})
	if err != nil {
		return Result{}, fmt.Errorf("trigger: %w", err)
	}
	if err := httpx.CheckResponse(resp); err != nil {
		return Result{}, fmt.Errorf("trigger: %w", err)
	}
	defer resp.Body.Close()

	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return Result{}, fmt.Errorf("trigger: decode: %w", err)
	}
	c.log.Info().Int("synced", res.Synced).Int("errors", res.Errors).Msg("trigger: re-import zakończony")
	return res, nil
}
