// Package discovery polls the gamma catalog for candidate events and derives
// the market groups consumed by the arbitrage strategy.
package discovery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"

	"github.com/coachpo/polytrade/errs"
)

const fetchAttempts = 3

// GammaMarket is one sub-market of a catalog event. ClobTokenIDs arrives as a
// JSON-encoded array of two token id strings.
type GammaMarket struct {
	ConditionID  string `json:"conditionId"`
	Question     string `json:"question"`
	ClobTokenIDs string `json:"clobTokenIds"`
	Active       bool   `json:"active"`
	Closed       bool   `json:"closed"`
}

// GammaEvent is one catalog event with its sub-markets.
type GammaEvent struct {
	ID      string        `json:"id"`
	Title   string        `json:"title"`
	Slug    string        `json:"slug"`
	NegRisk bool          `json:"negRisk"`
	Markets []GammaMarket `json:"markets"`
}

// TokenIDs decodes the serialized token-id array. Malformed payloads are
// treated as empty so the sub-market contributes nothing.
func (m GammaMarket) TokenIDs() []string {
	if m.ClobTokenIDs == "" {
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(m.ClobTokenIDs), &ids); err != nil {
		return nil
	}
	return ids
}

// CatalogClient fetches candidate events from the gamma directory service.
type CatalogClient interface {
	FetchEvents(ctx context.Context) ([]GammaEvent, error)
}

// HTTPCatalog implements CatalogClient over the gamma REST surface.
type HTTPCatalog struct {
	baseURL string
	tags    []string
	limit   int
	http    *http.Client
}

// NewHTTPCatalog constructs a gamma catalog client.
func NewHTTPCatalog(baseURL string, tags []string, limit int, client *http.Client) *HTTPCatalog {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if limit <= 0 {
		limit = 100
	}
	return &HTTPCatalog{baseURL: baseURL, tags: tags, limit: limit, http: client}
}

// FetchEvents requests open, active events. Transient failures are retried
// with exponential backoff before surfacing a network error.
func (c *HTTPCatalog) FetchEvents(ctx context.Context) ([]GammaEvent, error) {
	endpoint, err := c.eventsURL()
	if err != nil {
		return nil, err
	}

	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.InitialInterval = 250 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt < fetchAttempts; attempt++ {
		if attempt > 0 {
			sleep := backoffCfg.NextBackOff()
			if sleep == backoff.Stop {
				break
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(sleep):
			}
		}

		events, err := c.fetchOnce(ctx, endpoint)
		if err == nil {
			return events, nil
		}
		lastErr = err
	}

	return nil, errs.New("discovery/gamma", errs.CodeNetwork,
		errs.WithMessage("fetch events"), errs.WithCause(lastErr))
}

func (c *HTTPCatalog) fetchOnce(ctx context.Context, endpoint string) ([]GammaEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gamma responded %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var events []GammaEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return events, nil
}

func (c *HTTPCatalog) eventsURL() (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", errs.New("discovery/gamma", errs.CodeConfig,
			errs.WithMessage("invalid gamma base url"), errs.WithCause(err))
	}
	base = base.JoinPath("events")

	q := base.Query()
	for _, tag := range c.tags {
		q.Add("tag", tag)
	}
	q.Set("closed", "false")
	q.Set("active", "true")
	q.Set("limit", strconv.Itoa(c.limit))
	base.RawQuery = q.Encode()
	return base.String(), nil
}
