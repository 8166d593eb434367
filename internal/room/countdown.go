package room

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/harmonicarena/roomsrv/internal/ports"
)

// CountdownType is a closed tag over the known countdown kinds, replacing
// the inheritance hierarchy the room model would otherwise need.
type CountdownType int

const (
	CountdownMatchStart CountdownType = iota
	CountdownServerShuttingDown
	CountdownForceGameplayStart
)

var nextCountdownID uint64

// Countdown is a single in-flight, cancellable delayed continuation. At
// most one instance per CountdownType may exist in a room's
// ActiveCountdowns at a time.
type Countdown struct {
	ID        uint64
	Type      CountdownType
	StartTime time.Time
	Duration  time.Duration

	stop context.CancelFunc
	skip context.CancelFunc
	done chan struct{}
}

// TimeRemaining recomputes the client-visible remaining duration from
// wall clock, clamped to zero, per the round-trip invariant (I7).
func (c *Countdown) TimeRemaining(now time.Time) time.Duration {
	rem := c.Duration - now.Sub(c.StartTime)
	if rem < 0 {
		return 0
	}
	return rem
}

// Manager owns the registry reference needed to re-acquire a Usage from
// within a scheduled continuation; the countdowns themselves live in each
// Room's ActiveCountdowns.
type Manager struct {
	reg *Registry
}

// NewManager binds a countdown manager to the registry whose rooms it
// will schedule continuations against.
func NewManager(reg *Registry) *Manager {
	return &Manager{reg: reg}
}

// findCountdown returns the active countdown of the given type, if any.
func (r *Room) findCountdown(t CountdownType) *Countdown {
	for _, c := range r.ActiveCountdowns {
		if c.Type == t {
			return c
		}
	}
	return nil
}

func (r *Room) removeCountdown(id uint64) {
	for i, c := range r.ActiveCountdowns {
		if c.ID == id {
			r.ActiveCountdowns = append(r.ActiveCountdowns[:i], r.ActiveCountdowns[i+1:]...)
			return
		}
	}
}

// StartCountdown stops any existing countdown of the same type, registers
// the new one, and schedules its delay. onComplete is invoked under a
// freshly re-acquired Usage for roomID once the delay elapses naturally
// or is Skipped; it is never invoked if the countdown is Stopped or the
// room no longer exists.
//
// u must be the caller's current Usage on the room; StartCountdown does
// not release it, matching the single-writer rule that all mutation
// during the call happens under the caller's own lease.
func (m *Manager) StartCountdown(u *Usage, t CountdownType, d time.Duration, sink eventSink, onComplete func(*Room)) *Countdown {
	r := u.Room()
	if existing := r.findCountdown(t); existing != nil {
		m.stopLocked(r, existing, sink)
	}

	stopCtx, stopCancel := context.WithCancel(context.Background())
	skipCtx, skipCancel := context.WithCancel(context.Background())
	c := &Countdown{
		ID:        atomic.AddUint64(&nextCountdownID, 1),
		Type:      t,
		StartTime: time.Now(),
		Duration:  d,
		stop:      stopCancel,
		skip:      skipCancel,
		done:      make(chan struct{}),
	}
	r.ActiveCountdowns = append(r.ActiveCountdowns, c)
	r.emit(sink, EventCountdownStarted, nil, c)

	roomID := r.ID
	go m.run(stopCtx, skipCtx, c, roomID, sink, onComplete)
	return c
}

func (m *Manager) run(stopCtx, skipCtx context.Context, c *Countdown, roomID ports.RoomID, sink eventSink, onComplete func(*Room)) {
	defer close(c.done)
	timer := time.NewTimer(c.Duration)
	defer timer.Stop()

	select {
	case <-stopCtx.Done():
		return
	case <-skipCtx.Done():
	case <-timer.C:
	}

	// Never touch room state here: re-acquire a fresh Usage, as required
	// by the deadlock rule — this goroutine holds no lock at this point.
	usage, err := m.reg.acquireWithTimeout(roomID, 5*time.Second)
	if err != nil {
		return
	}
	defer usage.Release()

	r := usage.Room()
	select {
	case <-stopCtx.Done():
		return
	default:
	}
	if r.countdownByID(c.ID) == nil {
		return
	}
	r.removeCountdown(c.ID)
	r.emit(sink, EventCountdownStopped, nil, c)
	if onComplete != nil {
		onComplete(r)
	}
}

// countdownByID returns the active countdown with the given ID, if any.
// Distinct from findCountdown, which matches by Type for the "at most
// one per type" invariant check.
func (r *Room) countdownByID(id uint64) *Countdown {
	for _, c := range r.ActiveCountdowns {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// StopAnyCountdown cancels (without running onComplete) the active
// countdown of type t, if any.
func (m *Manager) StopAnyCountdown(u *Usage, t CountdownType, sink eventSink) {
	r := u.Room()
	if c := r.findCountdown(t); c != nil {
		m.stopLocked(r, c, sink)
	}
}

// StopCountdown cancels a specific countdown instance.
func (m *Manager) StopCountdown(u *Usage, c *Countdown, sink eventSink) {
	m.stopLocked(u.Room(), c, sink)
}

func (m *Manager) stopLocked(r *Room, c *Countdown, sink eventSink) {
	c.stop()
	r.removeCountdown(c.ID)
	r.emit(sink, EventCountdownStopped, nil, c)
}

// SkipToEndOfCountdown signals Skip and returns a channel closed once the
// continuation has fully run. The caller MUST NOT await this channel
// while still holding its own Usage — onComplete re-acquires the room
// and would deadlock against the caller's lease.
func (m *Manager) SkipToEndOfCountdown(c *Countdown) <-chan struct{} {
	c.skip()
	return c.done
}
