package pipeline

import (
	"math"
	"sync"
	"time"

	"chatstream/pkg/models"
)

// StatsAggregator owns the shared Stats record. The poller is the single
// writer; HTTP handlers and broadcast snapshots read through Snapshot, which
// copies under the lock.
type StatsAggregator struct {
	mu    sync.Mutex
	stats models.Stats
	now   func() time.Time
}

// NewStatsAggregator creates an aggregator with zeroed counters
func NewStatsAggregator() *StatsAggregator {
	return &StatsAggregator{now: time.Now}
}

// Update folds one admission batch into the counters. TotalConversations
// grows by the batch size; for non-empty batches the activity timestamp is
// refreshed, the mean response time is recomputed over the batch's positive
// latencies (previous value kept when none qualify), and the live-set gauge
// is set to liveCount.
func (a *StatsAggregator) Update(accepted []models.ConversationEvent, liveCount int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.TotalConversations += int64(len(accepted))
	if len(accepted) == 0 {
		return
	}

	now := a.now()
	a.stats.LastActivity = &now
	a.stats.MessagesPerMinute = liveCount

	var sum float64
	var count int
	for _, event := range accepted {
		if event.Metadata.LatencyMs > 0 {
			sum += event.Metadata.LatencyMs
			count++
		}
	}
	if count > 0 {
		a.stats.AverageResponseMs = math.Round(sum/float64(count)*100) / 100
	}
}

// Snapshot returns a copy of the current stats
func (a *StatsAggregator) Snapshot() models.Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	snapshot := a.stats
	if a.stats.LastActivity != nil {
		t := *a.stats.LastActivity
		snapshot.LastActivity = &t
	}
	return snapshot
}
