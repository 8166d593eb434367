// Package upload implements the bounded-concurrency score upload
// pipeline: it joins server-local score data with database-resolved
// score identity, then persists the merged score to blob storage. No
// item is retried on failure.
package upload

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/harmonicarena/roomsrv/internal/ports"
)

// Config controls the pipeline's concurrency and timeout behavior. Zero
// values are not valid defaults; use DefaultConfig.
type Config struct {
	Concurrency     int
	TimeoutInterval time.Duration
	Enabled         bool
}

// DefaultConfig matches the documented defaults: one worker, a 30s token
// resolution timeout, uploads disabled until explicitly turned on.
func DefaultConfig() Config {
	return Config{Concurrency: 1, TimeoutInterval: 30 * time.Second, Enabled: false}
}

// Pipeline bounds concurrent uploads with a counting semaphore rather
// than a fixed worker pool consuming a channel: each accepted item runs
// in its own goroutine gated by sem, which keeps Dispose's drain logic a
// plain WaitGroup.Wait with no channel-close races against concurrent
// Enqueue callers.
type Pipeline struct {
	cfg   Config
	db    ports.DatabaseAccess
	store ports.ScoreStorage
	log   *zap.Logger

	sem    chan struct{}
	wg     sync.WaitGroup
	remain int64

	disposed  int32
	closeOnce sync.Once
}

// New constructs a running pipeline; it starts no background goroutines
// until the first Enqueue.
func New(cfg Config, db ports.DatabaseAccess, store ports.ScoreStorage, log *zap.Logger) *Pipeline {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Pipeline{
		cfg:   cfg,
		db:    db,
		store: store,
		log:   log,
		sem:   make(chan struct{}, cfg.Concurrency),
	}
}

// Enqueue accepts a score for eventual upload and returns immediately.
// Once Dispose has been called, items are silently dropped.
func (p *Pipeline) Enqueue(token ports.ScoreToken, score *ports.Score) {
	if atomic.LoadInt32(&p.disposed) != 0 {
		return
	}
	atomic.AddInt64(&p.remain, 1)
	p.wg.Add(1)
	enqueuedAt := time.Now()
	go func() {
		defer p.wg.Done()
		defer atomic.AddInt64(&p.remain, -1)
		p.sem <- struct{}{}
		defer func() { <-p.sem }()
		p.process(token, score, enqueuedAt)
	}()
}

// RemainingUsages reports items still owned by the pipeline (queued plus
// in-flight), used by the caller to decide when a drain is complete.
func (p *Pipeline) RemainingUsages() uint64 {
	n := atomic.LoadInt64(&p.remain)
	if n < 0 {
		return 0
	}
	return uint64(n)
}

// Dispose stops accepting new items and waits for in-flight work to
// finish. Safe to call more than once.
func (p *Pipeline) Dispose() {
	p.closeOnce.Do(func() {
		atomic.StoreInt32(&p.disposed, 1)
	})
	p.wg.Wait()
}

func (p *Pipeline) process(token ports.ScoreToken, score *ports.Score, enqueuedAt time.Time) {
	ctx := context.Background()
	resolved := p.pollForResolution(ctx, token, enqueuedAt)
	if resolved == nil {
		p.log.Warn("score upload timed out", zap.Uint64("token", uint64(token)))
		return
	}
	if !p.cfg.Enabled {
		return
	}

	score.ScoreInfo.OnlineID = resolved.OnlineID
	score.ScoreInfo.Passed = resolved.Passed

	if err := p.store.Write(ctx, score); err != nil {
		p.log.Error("score upload failed, discarding (no retry)",
			zap.Uint64("token", uint64(token)), zap.Error(err))
	}
}

// pollForResolution polls the database until it returns a resolved score
// or the per-item timeout elapses. A TimeoutInterval of zero means the
// token must already be resolvable on the very first poll.
func (p *Pipeline) pollForResolution(ctx context.Context, token ports.ScoreToken, enqueuedAt time.Time) *ports.ResolvedScore {
	for {
		resolved, err := p.db.GetScoreFromToken(ctx, token)
		if err == nil && resolved != nil {
			return resolved
		}
		if err != nil {
			p.log.Warn("score token lookup failed, retrying", zap.Error(err))
		}
		if time.Since(enqueuedAt) > p.cfg.TimeoutInterval {
			return nil
		}
		time.Sleep(jitteredBackoff())
	}
}

func jitteredBackoff() time.Duration {
	return 50*time.Millisecond + time.Duration(rand.Intn(200))*time.Millisecond
}
