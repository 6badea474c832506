package services

import (
	"strings"

	"rescue_scrooper/models"
)

// QualityScore is the mean completeness of the animals' key fields, in [0, 1].
// An empty batch scores 0.
func QualityScore(animals []models.RawAnimal) float64 {
	if len(animals) == 0 {
		return 0
	}

	total := 0.0
	for i := range animals {
		total += completeness(&animals[i])
	}
	return total / float64(len(animals))
}

func completeness(a *models.RawAnimal) float64 {
	fields := []string{a.Name, a.Breed, a.Age, a.Sex, a.PrimaryImageURL, a.URL}
	filled := 0
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			filled++
		}
	}
	return float64(filled) / float64(len(fields))
}
