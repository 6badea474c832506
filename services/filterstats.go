package services

import (
	"errors"
	"fmt"

	"rescue_scrooper/models"
)

var ErrStatsAlreadySet = errors.New("filter stats already set")

// FilterStats are the true found and skipped counts, captured before any
// skip-existing filtering.
type FilterStats struct {
	TotalFound   int
	TotalSkipped int
}

// Processed is the number of animals that go on to be persisted.
func (s FilterStats) Processed() int {
	return s.TotalFound - s.TotalSkipped
}

// FilterStatsTracker holds one run's FilterStats. It accepts a single write.
type FilterStatsTracker struct {
	stats FilterStats
	set   bool
}

func (t *FilterStatsTracker) SetStats(totalFound, totalSkipped int) error {
	if t.set {
		return ErrStatsAlreadySet
	}
	if totalSkipped < 0 || totalFound < totalSkipped {
		return fmt.Errorf("invalid filter stats: found %d, skipped %d", totalFound, totalSkipped)
	}
	t.stats = FilterStats{TotalFound: totalFound, TotalSkipped: totalSkipped}
	t.set = true
	return nil
}

// Stats returns the tracked stats and whether they were set.
func (t *FilterStatsTracker) Stats() (FilterStats, bool) {
	return t.stats, t.set
}

// CorrectedFoundCount is the found figure every outward metric must use:
// the tracked total when set, else the number of processed animals.
func (t *FilterStatsTracker) CorrectedFoundCount(processed []models.RawAnimal) int {
	if t.set {
		return t.stats.TotalFound
	}
	return len(processed)
}

// Skipped returns the tracked skipped count, zero when unset.
func (t *FilterStatsTracker) Skipped() int {
	return t.stats.TotalSkipped
}
