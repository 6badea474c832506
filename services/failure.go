package services

import (
	"context"

	"rescue_scrooper/config"
	"rescue_scrooper/models"
)

// FailureDetector classifies a run's found count as healthy, partial or
// catastrophic.
type FailureDetector struct {
	sessions *SessionManager
	cfg      config.DetectionConfig
}

func NewFailureDetector(sessions *SessionManager, cfg config.DetectionConfig) *FailureDetector {
	return &FailureDetector{sessions: sessions, cfg: cfg}
}

// DetectCatastrophicFailure is true for zero or near-zero results. It never
// consults history.
func DetectCatastrophicFailure(foundCount, absoluteMinimum int) bool {
	return foundCount <= 0 || foundCount < absoluteMinimum
}

// DetectScraperFailure combines the catastrophic and partial checks into one
// verdict. A history lookup error is returned alongside a partial-failure
// verdict so callers that ignore the error still withhold destructive
// transitions.
func (d *FailureDetector) DetectScraperFailure(ctx context.Context, orgID string, foundCount, totalBeforeFilter, totalSkipped int) (models.RunOutcome, error) {
	if DetectCatastrophicFailure(foundCount, d.cfg.AbsoluteMinimum) {
		return models.OutcomeCatastrophicFailure, nil
	}

	partial, err := d.sessions.DetectPartialFailure(ctx, orgID, foundCount,
		d.cfg.PartialThresholdPct, d.cfg.AbsoluteMinimum, d.cfg.HistoricalSamples,
		totalBeforeFilter, totalSkipped)
	if err != nil {
		return models.OutcomePartialFailure, err
	}
	if partial {
		return models.OutcomePartialFailure, nil
	}
	return models.OutcomeSuccess, nil
}
