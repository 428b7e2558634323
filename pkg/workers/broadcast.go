package workers

import (
	"context"
	"time"

	"github.com/cbodonnell/starminers/pkg/feed"
	"github.com/cbodonnell/starminers/pkg/log"
	"github.com/cbodonnell/starminers/pkg/queue"
	"github.com/cbodonnell/starminers/pkg/scouting"
	"github.com/cbodonnell/starminers/pkg/stars"
)

// SnapshotReader reads the view that is broadcast to live subscribers.
type SnapshotReader interface {
	Snapshot(ctx context.Context) ([]stars.Sighting, error)
}

type BroadcastWorker struct {
	reader     SnapshotReader
	eventQueue queue.Queue[scouting.SightingEvent]
	hub        *feed.Hub
	interval   time.Duration
	refresh    time.Duration
}

type NewBroadcastWorkerOptions struct {
	Reader     SnapshotReader
	EventQueue queue.Queue[scouting.SightingEvent]
	Hub        *feed.Hub
	// Interval is how often the event queue is drained
	Interval time.Duration
	// Refresh forces a publish when nothing changed for this long, so that
	// expired sightings drop out of the live view. Zero disables it.
	Refresh time.Duration
}

// NewBroadcastWorker creates a new BroadcastWorker.
// The worker drains sighting events on every tick and publishes the
// merged view to the live feed hub when anything changed.
func NewBroadcastWorker(opts NewBroadcastWorkerOptions) *BroadcastWorker {
	return &BroadcastWorker{
		reader:     opts.Reader,
		eventQueue: opts.EventQueue,
		hub:        opts.Hub,
		interval:   opts.Interval,
		refresh:    opts.Refresh,
	}
}

func (w *BroadcastWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	lastPublish := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			events := w.eventQueue.ReadAllMessages()
			stale := w.refresh > 0 && t.Sub(lastPublish) >= w.refresh
			if len(events) == 0 && !stale {
				continue
			}
			if w.hub.Size() == 0 {
				lastPublish = t
				continue
			}
			if err := w.publish(ctx, t); err != nil {
				log.Error("Failed to publish live update: %v", err)
				continue
			}
			lastPublish = t
		}
	}
}

func (w *BroadcastWorker) publish(ctx context.Context, t time.Time) error {
	sightings, err := w.reader.Snapshot(ctx)
	if err != nil {
		return err
	}
	w.hub.Publish(feed.Update{
		Sightings: sightings,
		At:        t.Unix(),
	})
	log.Trace("Published %d sightings to %d subscribers", len(sightings), w.hub.Size())
	return nil
}
