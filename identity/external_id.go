package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"regexp"
	"strings"

	"rescue_scrooper/models"
)

var (
	multiSpaceRegex = regexp.MustCompile(`\s+`)
	nonAlnumRegex   = regexp.MustCompile(`[^a-z0-9\s]`)
)

// ExternalID returns the stable identifier for a collected animal. Sources
// that expose an id keep it; otherwise the id is derived from the detail URL,
// falling back to name and breed for sources without detail pages.
func ExternalID(raw *models.RawAnimal) string {
	if id := strings.TrimSpace(raw.ExternalID); id != "" {
		return id
	}
	if raw.URL != "" {
		return "u-" + shortHash(NormalizeURL(raw.URL))
	}
	key := NormalizeText(raw.Name) + "|" + NormalizeText(raw.Breed) + "|" + NormalizeText(raw.Sex)
	if key == "||" {
		return ""
	}
	return "n-" + shortHash(key)
}

// NormalizeURL lowercases scheme and host, drops fragments, tracking
// parameters and trailing slashes.
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	q := u.Query()
	for key := range q {
		if strings.HasPrefix(key, "utm_") || key == "fbclid" || key == "gclid" {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String()
}

func NormalizeText(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = nonAlnumRegex.ReplaceAllString(s, " ")
	s = multiSpaceRegex.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func shortHash(s string) string {
	hash := sha256.Sum256([]byte(s))
	return hex.EncodeToString(hash[:12])
}
