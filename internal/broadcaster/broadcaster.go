// Package broadcaster runs the metadata polling loop: every tick it asks
// the database for beatmap set changes and fans the result out to every
// connected client.
package broadcaster

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/harmonicarena/roomsrv/internal/ports"
)

// Interval between ticks. A single-shot timer, not a ticker: the next
// tick is scheduled only after the current one completes, so a slow DB
// call never overlaps with itself.
const Interval = 5 * time.Second

// Fanout is the narrow capability needed to notify all connections.
type Fanout interface {
	BroadcastBeatmapSetsUpdated(update *ports.BeatmapSetUpdate)
}

// Broadcaster owns the polling loop's lifecycle.
type Broadcaster struct {
	db     ports.DatabaseAccess
	fanout Fanout
	log    *zap.Logger

	mu           sync.Mutex
	lastQueueID  *uint32
	timer        *time.Timer
	stopped      bool
}

// New constructs a broadcaster; call Start to begin ticking.
func New(db ports.DatabaseAccess, fanout Fanout, log *zap.Logger) *Broadcaster {
	return &Broadcaster{db: db, fanout: fanout, log: log}
}

// Start schedules the first tick.
func (b *Broadcaster) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.timer = time.AfterFunc(Interval, b.tick)
}

// Stop cancels any pending tick; a tick already running completes but
// will not reschedule itself.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
	if b.timer != nil {
		b.timer.Stop()
	}
}

func (b *Broadcaster) tick() {
	defer b.reschedule()

	func() {
		defer func() {
			if r := recover(); r != nil {
				b.log.Error("metadata broadcaster tick panicked, will retry next interval", zap.Any("panic", r))
			}
		}()
		b.runOnce()
	}()
}

func (b *Broadcaster) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), Interval)
	defer cancel()

	update, err := b.db.GetUpdatedBeatmapSets(ctx, b.lastQueueID)
	if err != nil {
		b.log.Warn("beatmap set poll failed", zap.Error(err))
		return
	}
	id := update.LastProcessedQueueID
	b.lastQueueID = &id

	if len(update.BeatmapSetIDs) > 0 {
		b.fanout.BroadcastBeatmapSetsUpdated(update)
	}
}

func (b *Broadcaster) reschedule() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.timer = time.AfterFunc(Interval, b.tick)
}
