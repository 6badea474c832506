package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/time/rate"
	"rescue_scrooper/config"
	"rescue_scrooper/httputil"
	"rescue_scrooper/models"
)

const (
	defaultMaxPages = 50
	maxPageBytes    = 10 * 1024 * 1024
)

var (
	ErrUnknownOrganization = errors.New("unknown organization")
	ErrUnknownCollector    = errors.New("unknown collector")
)

// Collector produces the raw animal records for one organization.
type Collector interface {
	ID() string
	Collect(ctx context.Context) ([]models.RawAnimal, error)
}

// Fetcher holds what every network collector shares: the HTTP client, the
// retry policy and the request pacing.
type Fetcher struct {
	Client  *http.Client
	Retry   httputil.RetryPolicy
	Limiter *rate.Limiter
}

func NewFetcher(client *http.Client, retry httputil.RetryPolicy, rps float64) *Fetcher {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{Client: client, Retry: retry, Limiter: rate.NewLimiter(limit, 1)}
}

func NewCollector(orgCfg *config.OrganizationConfig, f *Fetcher) (Collector, error) {
	switch orgCfg.Collector {
	case "html", "":
		return NewHTMLCollector(orgCfg, f), nil
	case "api":
		return NewAPICollector(orgCfg, f), nil
	case "browser":
		return NewBrowserCollector(orgCfg, f), nil
	default:
		return nil, fmt.Errorf("%s: %w %q", orgCfg.ID, ErrUnknownCollector, orgCfg.Collector)
	}
}

// Get fetches a URL with pacing and retries and returns the body.
func (f *Fetcher) Get(ctx context.Context, target, accept string) ([]byte, error) {
	var body []byte
	err := httputil.Retry(ctx, f.Retry, func(ctx context.Context) error {
		if err := f.Limiter.Wait(ctx); err != nil {
			return httputil.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return httputil.Permanent(err)
		}
		req.Header.Set("User-Agent", httputil.UserAgent)
		if accept != "" {
			req.Header.Set("Accept", accept)
		}

		resp, err := f.Client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if err := httputil.CheckStatus(resp); err != nil {
			return err
		}

		body, err = io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
		return err
	})
	return body, err
}

func maxPages(orgCfg *config.OrganizationConfig) int {
	if orgCfg.MaxPages > 0 {
		return orgCfg.MaxPages
	}
	return defaultMaxPages
}
