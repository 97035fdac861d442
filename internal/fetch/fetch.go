// Package fetch retrieves one category's current stock from the upstream
// game-data API and normalizes it at this boundary; loose payload shapes
// never leak past it.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/WilardzySenpai/grow-garden-guru-sub001/market"
	"github.com/WilardzySenpai/grow-garden-guru-sub001/pkg/logx"
)

// Error is a category-scoped fetch failure. It is recoverable: the caller
// leaves the previous snapshot intact and retries on the next natural
// schedule tick, never in a tight loop.
type Error struct {
	Category market.Category
	Status   int // 0 for transport errors
	Err      error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: upstream status %d", e.Category, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.Category, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Client fetches category stock over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient swaps the underlying HTTP client (tests use this).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithRateLimit caps upstream requests per second across all categories.
func WithRateLimit(perSec int) Option {
	return func(c *Client) {
		if perSec > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSec), perSec)
		}
	}
}

// NewClient builds a fetcher for the given upstream base URL.
func NewClient(baseURL string, log logx.Logger, opts ...Option) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Fetch performs one request for cat and returns a normalized snapshot.
//
// Missing or non-array payload fields degrade to an empty item list; only
// transport failures and non-success statuses are errors, tagged with the
// category so the caller can isolate them.
func (c *Client) Fetch(ctx context.Context, cat market.Category) (market.Snapshot, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return market.Snapshot{}, &Error{Category: cat, Err: err}
		}
	}

	u := fmt.Sprintf("%s/stock/%s", c.baseURL, url.PathEscape(string(cat)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return market.Snapshot{}, &Error{Category: cat, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return market.Snapshot{}, &Error{Category: cat, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return market.Snapshot{}, &Error{Category: cat, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return market.Snapshot{}, &Error{Category: cat, Err: err}
	}

	snap := market.NormalizeSnapshot(cat, extractItems(body, cat), time.Now())
	c.log.Debug("category fetched",
		logx.String("category", string(cat)),
		logx.Int("items", len(snap.Items)),
		logx.Duration("took", time.Since(start)))
	return snap, nil
}

// Result pairs one category's fetch outcome for FetchAll.
type Result struct {
	Category market.Category
	Snapshot market.Snapshot
	Err      error
}

// FetchAll fetches the given categories concurrently. Each category is
// independently awaited; one failure never cancels or delays the others.
func (c *Client) FetchAll(ctx context.Context, cats []market.Category) []Result {
	results := make([]Result, len(cats))
	var wg sync.WaitGroup
	for i, cat := range cats {
		wg.Add(1)
		go func(i int, cat market.Category) {
			defer wg.Done()
			snap, err := c.Fetch(ctx, cat)
			results[i] = Result{Category: cat, Snapshot: snap, Err: err}
		}(i, cat)
	}
	wg.Wait()
	return results
}

// extractItems accepts both upstream response shapes: a bare array, or an
// object keyed by category (with "items" as a generic fallback).
func extractItems(body []byte, cat market.Category) json.RawMessage {
	trimmed := firstNonSpace(body)
	if trimmed == '[' {
		return body
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil
	}
	for _, k := range []string{string(cat), string(cat) + "_stock", "items"} {
		if raw, ok := envelope[k]; ok {
			return raw
		}
	}
	return nil
}

func firstNonSpace(b []byte) byte {
	for _, c := range b {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return c
	}
	return 0
}
