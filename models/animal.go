package models

import (
	"encoding/json"
	"time"
)

type AnimalStatus string

const (
	AnimalStatusAvailable   AnimalStatus = "available"
	AnimalStatusUnavailable AnimalStatus = "unavailable"
	AnimalStatusAdopted     AnimalStatus = "adopted"
	AnimalStatusReserved    AnimalStatus = "reserved"
	AnimalStatusUnknown     AnimalStatus = "unknown"
)

// IsTerminal reports whether staleness must never override the status.
func (s AnimalStatus) IsTerminal() bool {
	return s == AnimalStatusAdopted || s == AnimalStatusReserved
}

// ParseAnimalStatus maps free-form source text to a status. Unrecognised
// values map to unknown.
func ParseAnimalStatus(s string) AnimalStatus {
	switch AnimalStatus(s) {
	case AnimalStatusAvailable, AnimalStatusUnavailable, AnimalStatusAdopted,
		AnimalStatusReserved, AnimalStatusUnknown:
		return AnimalStatus(s)
	}
	return AnimalStatusUnknown
}

// Animal is a tracked listing in the central store
type Animal struct {
	ID                      int64        `json:"id" db:"id"`
	OrganizationID          string       `json:"organization_id" db:"organization_id"`
	ExternalID              string       `json:"external_id" db:"external_id"`
	Name                    string       `json:"name" db:"name"`
	Species                 string       `json:"species" db:"species"`
	Breed                   string       `json:"breed" db:"breed"`
	Sex                     string       `json:"sex" db:"sex"`
	Age                     string       `json:"age" db:"age"`
	Size                    string       `json:"size" db:"size"`
	Description             string       `json:"description" db:"description"`
	URL                     string       `json:"url" db:"url"`
	PrimaryImageURL         string       `json:"primary_image_url" db:"primary_image_url"`
	OriginalImageURL        string       `json:"original_image_url" db:"original_image_url"`
	Status                  AnimalStatus `json:"status" db:"status"`
	LastSeenAt              *time.Time   `json:"last_seen_at" db:"last_seen_at"`
	LastSessionID           string       `json:"last_session_id" db:"last_session_id"`
	ConsecutiveMissingCount int          `json:"consecutive_missing_count" db:"consecutive_missing_count"`
	CreatedAt               time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt               time.Time    `json:"updated_at" db:"updated_at"`
}

// RawAnimal is a record as produced by a collector, before persistence
type RawAnimal struct {
	ExternalID       string          `json:"external_id"`
	Name             string          `json:"name"`
	Species          string          `json:"species"`
	Breed            string          `json:"breed"`
	Sex              string          `json:"sex"`
	Age              string          `json:"age"`
	Size             string          `json:"size"`
	Description      string          `json:"description"`
	URL              string          `json:"url"`
	PrimaryImageURL  string          `json:"primary_image_url"`
	OriginalImageURL string          `json:"original_image_url"`
	ImageURLs        []string        `json:"image_urls"`
	Status           AnimalStatus    `json:"status"`
	Data             json.RawMessage `json:"data"`
}

type UpsertAction string

const (
	UpsertActionAdded   UpsertAction = "added"
	UpsertActionUpdated UpsertAction = "updated"
)

// UpsertResult is what the store reports back for one persisted animal
type UpsertResult struct {
	ID             int64
	Action         UpsertAction
	PreviousStatus AnimalStatus
}

// StalenessSummary describes one staleness pass over an organization
type StalenessSummary struct {
	Incremented       int `json:"incremented"`
	MarkedUnavailable int `json:"marked_unavailable"`
	Protected         int `json:"protected"`
}
