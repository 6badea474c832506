package httputil

import (
	"net/http"
	"net/url"
	"time"

	"rescue_scrooper/config"
)

type Clients struct {
	Scraping *http.Client // proxied when configured, for organization sites
	Media    *http.Client // longer timeout, for image downloads
}

func NewClients(proxyCfg *config.ProxyConfig) *Clients {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyCfg != nil && proxyCfg.URL != "" {
		if proxyURL, err := url.Parse(proxyCfg.URL); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	return &Clients{
		Scraping: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		Media: &http.Client{
			Timeout:   60 * time.Second,
			Transport: transport,
		},
	}
}

const UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
