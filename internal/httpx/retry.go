// Package httpx zawiera wspólne kawałki klientów HTTP integracji: retry z backoffem
// i błąd statusu HTTP.
package httpx

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

// RetryConfig defines retry behavior
type RetryConfig struct {
	MaxRetries      int // 0 = jedna próba, bez ponowień
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	BackoffFactor   float64
	Jitter          float64 // 0-1
	RetryableStatus []int
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     2,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     15 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         0.1,
		RetryableStatus: []int{
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
	}
}

// StatusError to odpowiedź spoza 2xx.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http %d", e.Code)
	}
	return fmt.Sprintf("http %d: %s", e.Code, e.Body)
}

// CheckResponse zamyka body i zwraca *StatusError dla odpowiedzi spoza 2xx.
func CheckResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return &StatusError{Code: resp.StatusCode, Body: string(b)}
}

type Retrier struct {
	cfg   RetryConfig
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRetrier(cfg RetryConfig) *Retrier {
	return &Retrier{cfg: cfg, sleep: sleepCtx}
}

func (r *Retrier) retryable(code int) bool {
	for _, c := range r.cfg.RetryableStatus {
		if c == code {
			return true
		}
	}
	return false
}

// Backoff liczy czekanie przed kolejną próbą; Retry-After ma pierwszeństwo.
func (r *Retrier) Backoff(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return retryAfter
	}
	factor := r.cfg.BackoffFactor
	if factor <= 0 {
		factor = 2
	}
	backoff := float64(r.cfg.InitialBackoff) * math.Pow(factor, float64(attempt))
	if r.cfg.Jitter > 0 {
		backoff += backoff * r.cfg.Jitter * (rand.Float64()*2 - 1)
	}
	if r.cfg.MaxBackoff > 0 && backoff > float64(r.cfg.MaxBackoff) {
		backoff = float64(r.cfg.MaxBackoff)
	}
	return time.Duration(backoff)
}

// Do wykonuje fn aż do sukcesu, błędu niepodlegającego ponowieniu albo wyczerpania prób.
// Odpowiedź z nie-retryowalnym statusem (np. 404) wraca do wołającego bez błędu.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) (*http.Response, error)) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		resp, err := fn(ctx)

		var retryAfter time.Duration
		var lastErr error
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
		} else {
			if !r.retryable(resp.StatusCode) {
				return resp, nil
			}
			retryAfter = ParseRetryAfter(resp)
			lastErr = CheckResponse(resp)
		}

		if attempt >= r.cfg.MaxRetries {
			if attempt > 0 {
				return nil, fmt.Errorf("after %d attempts: %w", attempt+1, lastErr)
			}
			return nil, lastErr
		}

		if err := r.sleep(ctx, r.Backoff(attempt, retryAfter)); err != nil {
			return nil, err
		}
	}
}

// ParseRetryAfter extracts the Retry-After duration from an HTTP response
func ParseRetryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
