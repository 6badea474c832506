package scraper

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/playwright-community/playwright-go"
	"rescue_scrooper/config"
	"rescue_scrooper/httputil"
	"rescue_scrooper/logging"
	"rescue_scrooper/models"
)

const (
	navigationTimeoutMs = 60000
	waitForTimeoutMs    = 15000
)

// BrowserCollector renders JavaScript-driven listing pages in headless
// Chromium and extracts them with the same selectors as HTMLCollector.
type BrowserCollector struct {
	cfg     *config.OrganizationConfig
	fetcher *Fetcher
	logger  *log.Logger

	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
}

func NewBrowserCollector(cfg *config.OrganizationConfig, f *Fetcher) *BrowserCollector {
	return &BrowserCollector{cfg: cfg, fetcher: f, logger: logging.Get("browser")}
}

func (c *BrowserCollector) ID() string {
	return c.cfg.ID
}

func (c *BrowserCollector) Collect(ctx context.Context) ([]models.RawAnimal, error) {
	if c.cfg.Selectors.Item == "" {
		return nil, fmt.Errorf("%s: no item selector configured", c.cfg.ID)
	}
	if err := c.ensureBrowser(); err != nil {
		return nil, err
	}
	defer c.Close()

	bctx, err := c.browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(httputil.UserAgent),
	})
	if err != nil {
		return nil, fmt.Errorf("new browser context: %w", err)
	}
	defer bctx.Close()

	page, err := bctx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	var all []models.RawAnimal
	visited := make(map[string]bool)
	next := c.cfg.URL

	for pageNum := 1; next != "" && pageNum <= maxPages(c.cfg); pageNum++ {
		if err := ctx.Err(); err != nil {
			return all, err
		}
		if visited[next] {
			break
		}
		visited[next] = true

		if err := c.fetcher.Limiter.Wait(ctx); err != nil {
			return all, err
		}

		animals, following, err := renderWithRetry(ctx, c.fetcher.Retry, next, func(pageURL string) ([]models.RawAnimal, string, error) {
			return c.renderPage(page, pageURL)
		})
		if err != nil {
			if pageNum == 1 {
				return nil, fmt.Errorf("page %d: %w", pageNum, err)
			}
			c.logger.Printf("%s: page %d failed, stopping: %v", c.cfg.ID, pageNum, err)
			break
		}

		all = append(all, animals...)
		c.logger.Printf("%s: page %d: %d animals (total: %d)", c.cfg.ID, pageNum, len(animals), len(all))

		if len(animals) == 0 {
			break
		}
		next = following
	}

	return all, nil
}

// renderWithRetry retries a page render with the fetcher's backoff until it
// succeeds or returns a permanent error.
func renderWithRetry(ctx context.Context, p httputil.RetryPolicy, pageURL string, render func(pageURL string) ([]models.RawAnimal, string, error)) ([]models.RawAnimal, string, error) {
	var animals []models.RawAnimal
	var following string
	err := httputil.Retry(ctx, p, func(ctx context.Context) error {
		var err error
		animals, following, err = render(pageURL)
		return err
	})
	if err != nil {
		return nil, "", err
	}
	return animals, following, nil
}

func (c *BrowserCollector) renderPage(page playwright.Page, pageURL string) ([]models.RawAnimal, string, error) {
	resp, err := page.Goto(pageURL, playwright.PageGotoOptions{
		Timeout:   playwright.Float(navigationTimeoutMs),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	if err != nil {
		return nil, "", fmt.Errorf("goto: %w", err)
	}
	if resp != nil && resp.Status() >= 400 {
		err := &httputil.StatusError{URL: pageURL, Code: resp.Status()}
		if httputil.Retryable(resp.Status()) {
			return nil, "", err
		}
		return nil, "", httputil.Permanent(err)
	}

	waitFor := c.cfg.Selectors.WaitFor
	if waitFor == "" {
		waitFor = c.cfg.Selectors.Item
	}
	if err := page.Locator(waitFor).First().WaitFor(playwright.LocatorWaitForOptions{
		Timeout: playwright.Float(waitForTimeoutMs),
	}); err != nil {
		// an empty last page never shows the selector
		c.logger.Printf("%s: timeout waiting for %q on %s", c.cfg.ID, waitFor, pageURL)
	}

	content, err := page.Content()
	if err != nil {
		return nil, "", fmt.Errorf("page content: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, "", fmt.Errorf("parse html: %w", err)
	}

	base, _ := url.Parse(page.URL())
	return extractAnimals(doc, base, c.cfg.Selectors), nextPageURL(doc, base, c.cfg.Selectors), nil
}

func (c *BrowserCollector) ensureBrowser() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.browser != nil {
		return nil
	}

	pw, err := playwright.Run()
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		pw.Stop()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	c.pw = pw
	c.browser = browser
	return nil
}

func (c *BrowserCollector) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.browser != nil {
		c.browser.Close()
		c.browser = nil
	}
	if c.pw != nil {
		c.pw.Stop()
		c.pw = nil
	}
}
