package pipeline

import "github.com/mediamask/mediamask/pkg/models"

// StatsAggregator accumulates frame-level counts into job-level totals.
// It is fed by the single sink consumer in sink order, so the totals are
// always consistent with the progress events already emitted; no
// synchronization is needed.
type StatsAggregator struct {
	stats        models.Stats
	failedFrames int
}

// NewStatsAggregator creates an empty aggregator
func NewStatsAggregator() *StatsAggregator {
	return &StatsAggregator{}
}

// Add records one sunk frame. detectFailed marks a frame whose detection
// calls exhausted their retries and was processed with zero detections.
func (a *StatsAggregator) Add(faces, plates int, detectFailed bool) {
	a.stats.FramesProcessed++
	a.stats.TotalFaces += faces
	a.stats.TotalPlates += plates
	if faces > 0 || plates > 0 {
		a.stats.FramesWithDetections++
	}
	if detectFailed {
		a.failedFrames++
	}
}

// Snapshot returns the accumulated totals. Read once, at completion.
func (a *StatsAggregator) Snapshot() models.Stats {
	return a.stats
}

// FramesProcessed returns the running frame count
func (a *StatsAggregator) FramesProcessed() int {
	return a.stats.FramesProcessed
}

// FailureRate is the fraction of processed frames whose detection failed
// permanently. The scheduler aborts the job above a configured limit.
func (a *StatsAggregator) FailureRate() float64 {
	if a.stats.FramesProcessed == 0 {
		return 0
	}
	return float64(a.failedFrames) / float64(a.stats.FramesProcessed)
}
