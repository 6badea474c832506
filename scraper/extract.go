package scraper

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"rescue_scrooper/config"
	"rescue_scrooper/models"
)

// fieldSetters maps a configured field name onto a RawAnimal field.
var fieldSetters = map[string]func(a *models.RawAnimal, v string){
	"id":          func(a *models.RawAnimal, v string) { a.ExternalID = v },
	"name":        func(a *models.RawAnimal, v string) { a.Name = v },
	"species":     func(a *models.RawAnimal, v string) { a.Species = v },
	"breed":       func(a *models.RawAnimal, v string) { a.Breed = v },
	"sex":         func(a *models.RawAnimal, v string) { a.Sex = v },
	"age":         func(a *models.RawAnimal, v string) { a.Age = v },
	"size":        func(a *models.RawAnimal, v string) { a.Size = v },
	"description": func(a *models.RawAnimal, v string) { a.Description = v },
	"url":         func(a *models.RawAnimal, v string) { a.URL = v },
	"image":       func(a *models.RawAnimal, v string) { a.PrimaryImageURL = v },
	"status":      func(a *models.RawAnimal, v string) { a.Status = statusFromText(v) },
}

// urlFields are resolved against the page URL.
var urlFields = map[string]bool{"url": true, "image": true}

// splitSelector splits "img.photo@src" into ("img.photo", "src"). A bare
// "@href" targets the item element itself.
func splitSelector(spec string) (string, string) {
	if i := strings.LastIndex(spec, "@"); i >= 0 {
		return strings.TrimSpace(spec[:i]), strings.TrimSpace(spec[i+1:])
	}
	return strings.TrimSpace(spec), ""
}

func selectValue(item *goquery.Selection, spec string) string {
	sel, attr := splitSelector(spec)
	target := item
	if sel != "" {
		target = item.Find(sel).First()
	}
	if target.Length() == 0 {
		return ""
	}
	if attr != "" {
		v, _ := target.Attr(attr)
		return strings.TrimSpace(v)
	}
	return cleanText(target.Text())
}

// extractAnimals applies the organization's selectors to one listing page.
func extractAnimals(doc *goquery.Document, base *url.URL, sel config.SelectorConfig) []models.RawAnimal {
	var animals []models.RawAnimal

	doc.Find(sel.Item).Each(func(i int, item *goquery.Selection) {
		var a models.RawAnimal
		for field, spec := range sel.Fields {
			set, ok := fieldSetters[field]
			if !ok {
				continue
			}
			v := selectValue(item, spec)
			if v == "" {
				continue
			}
			if urlFields[field] {
				v = resolveURL(base, v)
			}
			set(&a, v)
		}

		item.Find("img").Each(func(_ int, img *goquery.Selection) {
			if src, ok := img.Attr("src"); ok && src != "" {
				a.ImageURLs = append(a.ImageURLs, resolveURL(base, src))
			}
		})
		if a.PrimaryImageURL == "" && len(a.ImageURLs) > 0 {
			a.PrimaryImageURL = a.ImageURLs[0]
		}

		if a.Name == "" && a.URL == "" && a.ExternalID == "" {
			return
		}
		animals = append(animals, a)
	})

	return animals
}

// nextPageURL returns the absolute next-page link or "" on the last page.
func nextPageURL(doc *goquery.Document, base *url.URL, sel config.SelectorConfig) string {
	if sel.NextPage == "" {
		return ""
	}
	spec := sel.NextPage
	if _, attr := splitSelector(spec); attr == "" {
		spec += "@href"
	}
	href := selectValue(doc.Selection, spec)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}
	return resolveURL(base, href)
}

func resolveURL(base *url.URL, ref string) string {
	if base == nil {
		return ref
	}
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// statusFromText maps site wording onto a status; unrecognised text is unknown
// so it never overrides a stored status.
func statusFromText(s string) models.AnimalStatus {
	t := strings.ToLower(s)
	switch {
	case strings.Contains(t, "adopted"), strings.Contains(t, "rehomed"), strings.Contains(t, "found a home"):
		return models.AnimalStatusAdopted
	case strings.Contains(t, "reserved"), strings.Contains(t, "pending"), strings.Contains(t, "on hold"):
		return models.AnimalStatusReserved
	case strings.Contains(t, "unavailable"):
		return models.AnimalStatusUnavailable
	case strings.Contains(t, "available"):
		return models.AnimalStatusAvailable
	}
	return models.ParseAnimalStatus(t)
}
