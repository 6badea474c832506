package scraper

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/url"

	"github.com/PuerkitoBio/goquery"
	"rescue_scrooper/config"
	"rescue_scrooper/logging"
	"rescue_scrooper/models"
)

// HTMLCollector walks server-rendered listing pages with CSS selectors.
type HTMLCollector struct {
	cfg     *config.OrganizationConfig
	fetcher *Fetcher
	logger  *log.Logger
}

func NewHTMLCollector(cfg *config.OrganizationConfig, f *Fetcher) *HTMLCollector {
	return &HTMLCollector{cfg: cfg, fetcher: f, logger: logging.Get("html")}
}

func (c *HTMLCollector) ID() string {
	return c.cfg.ID
}

func (c *HTMLCollector) Collect(ctx context.Context) ([]models.RawAnimal, error) {
	if c.cfg.Selectors.Item == "" {
		return nil, fmt.Errorf("%s: no item selector configured", c.cfg.ID)
	}

	var all []models.RawAnimal
	visited := make(map[string]bool)
	next := c.cfg.URL

	for page := 1; next != "" && page <= maxPages(c.cfg); page++ {
		if visited[next] {
			break
		}
		visited[next] = true

		animals, following, err := c.fetchPage(ctx, next)
		if err != nil {
			if page == 1 {
				return nil, fmt.Errorf("page %d: %w", page, err)
			}
			// later pages failing keep what was already collected
			c.logger.Printf("%s: page %d failed, stopping: %v", c.cfg.ID, page, err)
			break
		}

		all = append(all, animals...)
		c.logger.Printf("%s: page %d: %d animals (total: %d)", c.cfg.ID, page, len(animals), len(all))

		if len(animals) == 0 {
			break
		}
		next = following
	}

	return all, nil
}

func (c *HTMLCollector) fetchPage(ctx context.Context, pageURL string) ([]models.RawAnimal, string, error) {
	body, err := c.fetcher.Get(ctx, pageURL, "text/html,application/xhtml+xml")
	if err != nil {
		return nil, "", err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("parse html: %w", err)
	}

	base, _ := url.Parse(pageURL)
	return extractAnimals(doc, base, c.cfg.Selectors), nextPageURL(doc, base, c.cfg.Selectors), nil
}
