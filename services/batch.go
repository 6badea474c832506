package services

import "rescue_scrooper/config"

// BatchPlan is how secondary processing should run for one batch.
type BatchPlan struct {
	BatchSize  int
	Concurrent bool
}

// BatchCoordinator sizes media processing from the batch size and the
// downstream failure rate.
type BatchCoordinator struct {
	cfg config.BatchConfig
}

func NewBatchCoordinator(cfg config.BatchConfig) *BatchCoordinator {
	if cfg.SmallBatchCeiling <= 0 {
		cfg.SmallBatchCeiling = 10
	}
	if cfg.MinBatchSize <= 0 {
		cfg.MinBatchSize = 2
	}
	if cfg.MaxBatchSize < cfg.MinBatchSize {
		cfg.MaxBatchSize = cfg.MinBatchSize
	}
	if cfg.SkipFailureRate <= 0 {
		cfg.SkipFailureRate = 50
	}
	return &BatchCoordinator{cfg: cfg}
}

// PlanBatch is pure: the same inputs always give the same plan.
func (c *BatchCoordinator) PlanBatch(entityCount int, failureRatePct float64) BatchPlan {
	if entityCount <= 1 {
		return BatchPlan{BatchSize: 1}
	}
	if entityCount <= c.cfg.SmallBatchCeiling {
		return BatchPlan{BatchSize: entityCount}
	}

	var size int
	switch {
	case failureRatePct < 10:
		size = c.cfg.MaxBatchSize
	case failureRatePct < 25:
		size = max(c.cfg.MaxBatchSize/2, c.cfg.MinBatchSize)
	default:
		size = c.cfg.MinBatchSize
	}

	return BatchPlan{BatchSize: min(size, entityCount), Concurrent: true}
}

// ShouldSkipSecondaryProcessing is true when the downstream service is
// failing too often to be worth calling.
func (c *BatchCoordinator) ShouldSkipSecondaryProcessing(failureRatePct float64) bool {
	return failureRatePct > c.cfg.SkipFailureRate
}
