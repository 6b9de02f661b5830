package pipeline

import (
	"context"
	"fmt"
	"time"

	"chatstream/internal/metrics"
	"chatstream/pkg/logging"
	"chatstream/pkg/models"
)

// Broadcaster is the fanout surface the poller pushes deltas into
type Broadcaster interface {
	BroadcastEvent(event models.ConversationEvent)
	BroadcastStats(stats models.Stats)
	BroadcastLiveMessages(events []models.ConversationEvent)
}

// Poller is the single periodic driver of the pipeline: it drains the
// ingestion queue, normalizes, admits into the live store, updates stats and
// pushes the resulting deltas into the hub. All mutation of shared state is
// serialized through its tick.
type Poller struct {
	queue      *IngestionQueue
	normalizer *Normalizer
	store      *LiveEventStore
	stats      *StatsAggregator
	hub        Broadcaster
	interval   time.Duration
	logger     logging.Logger
	metrics    *metrics.Metrics
}

// NewPoller wires the pipeline stages together
func NewPoller(queue *IngestionQueue, normalizer *Normalizer, store *LiveEventStore, stats *StatsAggregator, hub Broadcaster, interval time.Duration, logger logging.Logger, serviceMetrics *metrics.Metrics) *Poller {
	return &Poller{
		queue:      queue,
		normalizer: normalizer,
		store:      store,
		stats:      stats,
		hub:        hub,
		interval:   interval,
		logger:     logger,
		metrics:    serviceMetrics,
	}
}

// Run executes one tick per interval until the context is cancelled. The loop
// is a permanent background task: errors and panics inside a tick are logged
// once here and the loop continues on the next tick.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.WithField("interval", p.interval.String()).Info("Starting poll loop")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Poll loop stopped")
			return
		case <-ticker.C:
			if err := p.safeTick(); err != nil {
				p.logger.WithError(err).Error("Poll tick failed")
			}
		}
	}
}

func (p *Poller) safeTick() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("poll tick panic: %v", r)
		}
	}()
	return p.Tick()
}

// Tick runs one drain-normalize-admit-broadcast pass
func (p *Poller) Tick() error {
	start := time.Now()

	drained := p.queue.DrainAll()
	batch := make([]models.ConversationEvent, 0, len(drained))
	for _, raw := range drained {
		batch = append(batch, p.normalizer.Normalize(raw))
	}

	accepted := p.store.Admit(batch)
	if len(accepted) > 0 {
		p.stats.Update(accepted, p.store.LiveCount())

		for _, event := range accepted {
			p.hub.BroadcastEvent(event)
		}
		p.hub.BroadcastStats(p.stats.Snapshot())

		p.metrics.EventsAdmitted.WithLabelValues(models.EventTypeNewMessage).Add(float64(len(accepted)))
		p.logger.WithFields(logging.Fields{
			"drained":  len(drained),
			"admitted": len(accepted),
		}).Info("Processed webhook conversations")
	}

	// Broadcast the swept live set every tick, so expired events disappear
	// from viewers' state even with no new traffic.
	snapshot := p.store.Snapshot()
	p.hub.BroadcastLiveMessages(snapshot)

	p.metrics.LiveEvents.WithLabelValues("conversations").Set(float64(len(snapshot)))
	p.metrics.TickDuration.WithLabelValues("poll").Observe(time.Since(start).Seconds())

	return nil
}
