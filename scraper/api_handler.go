package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"

	"rescue_scrooper/config"
	"rescue_scrooper/logging"
	"rescue_scrooper/models"
)

// APICollector reads a paginated JSON listing endpoint.
type APICollector struct {
	cfg     *config.OrganizationConfig
	fetcher *Fetcher
	logger  *log.Logger
}

func NewAPICollector(cfg *config.OrganizationConfig, f *Fetcher) *APICollector {
	return &APICollector{cfg: cfg, fetcher: f, logger: logging.Get("api")}
}

func (c *APICollector) ID() string {
	return c.cfg.ID
}

func (c *APICollector) Collect(ctx context.Context) ([]models.RawAnimal, error) {
	var all []models.RawAnimal
	var firstOfPrev string

	pages := maxPages(c.cfg)
	if c.cfg.API.PageParam == "" {
		pages = 1
	}

	for page := 1; page <= pages; page++ {
		pageURL, err := c.pageURL(page)
		if err != nil {
			return nil, err
		}

		animals, err := c.fetchPage(ctx, pageURL)
		if err != nil {
			if page == 1 {
				return nil, fmt.Errorf("page %d: %w", page, err)
			}
			c.logger.Printf("%s: page %d failed, stopping: %v", c.cfg.ID, page, err)
			break
		}

		if len(animals) == 0 {
			c.logger.Printf("%s: no more animals at page %d", c.cfg.ID, page)
			break
		}

		// endpoints that ignore the page parameter repeat page one forever
		first := animals[0].ExternalID + "|" + animals[0].URL + "|" + animals[0].Name
		if first == firstOfPrev {
			break
		}
		firstOfPrev = first

		all = append(all, animals...)
		c.logger.Printf("%s: page %d: %d animals (total: %d)", c.cfg.ID, page, len(animals), len(all))
	}

	return all, nil
}

func (c *APICollector) pageURL(page int) (string, error) {
	if c.cfg.API.PageParam == "" {
		return c.cfg.URL, nil
	}
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set(c.cfg.API.PageParam, strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *APICollector) fetchPage(ctx context.Context, pageURL string) ([]models.RawAnimal, error) {
	body, err := c.fetcher.Get(ctx, pageURL, "application/json")
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var root interface{}
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	return parseAPIItems(root, c.cfg.API, pageURL)
}

func parseAPIItems(root interface{}, api config.APIConfig, pageURL string) ([]models.RawAnimal, error) {
	node := root
	if api.ItemsPath != "" {
		node = lookupPath(root, api.ItemsPath)
	}
	items, ok := node.([]interface{})
	if !ok {
		if node == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("items at %q is %T, not a list", api.ItemsPath, node)
	}

	base, _ := url.Parse(pageURL)
	animals := make([]models.RawAnimal, 0, len(items))
	for _, item := range items {
		var a models.RawAnimal
		for field, path := range api.Fields {
			set, ok := fieldSetters[field]
			if !ok {
				continue
			}
			v := stringify(lookupPath(item, path))
			if v == "" {
				continue
			}
			if urlFields[field] {
				v = resolveURL(base, v)
			}
			set(&a, v)
		}
		if raw, err := json.Marshal(item); err == nil {
			a.Data = raw
		}
		animals = append(animals, a)
	}
	return animals, nil
}

// lookupPath walks a decoded JSON value along a dotted path. Numeric
// segments index into arrays: "photos.0.url".
func lookupPath(v interface{}, path string) interface{} {
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			continue
		}
		switch node := v.(type) {
		case map[string]interface{}:
			v = node[seg]
		case []interface{}:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil
			}
			v = node[i]
		default:
			return nil
		}
	}
	return v
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return cleanText(t)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}
