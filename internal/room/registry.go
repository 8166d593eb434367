package room

import (
	"context"
	"sync"
	"time"

	"github.com/harmonicarena/roomsrv/internal/apperr"
	"github.com/harmonicarena/roomsrv/internal/ports"
)

// entry pairs a Room with the FIFO lock guarding it. A buffered channel
// of size 1 holding a single token is used instead of sync.Mutex:
// acquiring receives the token, blocking while another holder has it,
// and releasing sends it back. Blocked receivers are woken in the order
// the Go runtime queues them on the channel's internal wait list, which
// in practice is FIFO — unlike sync.Mutex, which makes no ordering
// guarantee under contention.
type entry struct {
	room *Room
	lock chan struct{}
}

func newEntry(r *Room) *entry {
	e := &entry{room: r, lock: make(chan struct{}, 1)}
	e.lock <- struct{}{}
	return e
}

// Usage is a scoped, exclusive lease on a Room. Release is idempotent
// and safe to call from a defer; it must be called exactly once per
// successful acquisition to avoid leaking the room's lock forever.
type Usage struct {
	reg      *Registry
	entry    *entry
	room     *Room
	released bool
	mu       sync.Mutex
}

// Room returns the leased room. Valid only until Release is called.
func (u *Usage) Room() *Room { return u.room }

// Release returns the lease. If the room's user set is now empty, the
// registry evicts the entry and marks State = Closed.
func (u *Usage) Release() {
	u.mu.Lock()
	if u.released {
		u.mu.Unlock()
		return
	}
	u.released = true
	u.mu.Unlock()

	if len(u.room.Users) == 0 {
		u.room.State = StateClosed
		u.reg.evict(u.room.ID)
	}
	u.entry.lock <- struct{}{}
}

// Registry is the process-wide RoomId -> Room directory. Its own
// bookkeeping (the map itself) is protected by mu, distinct from the
// per-room Usage locks.
type Registry struct {
	mu      sync.Mutex
	entries map[ports.RoomID]*entry
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[ports.RoomID]*entry)}
}

// GetForUse acquires a Usage for an existing room, blocking (FIFO) until
// available or ctx is done. Returns apperr.ErrNotFound if the room does
// not exist.
func (reg *Registry) GetForUse(ctx context.Context, id ports.RoomID) (*Usage, error) {
	reg.mu.Lock()
	e, ok := reg.entries[id]
	reg.mu.Unlock()
	if !ok {
		return nil, apperr.NotFound("room %d not found", id)
	}
	return reg.acquire(ctx, e)
}

// TryCreate creates a new room with id if absent, or returns a Usage on
// the existing one. The creator function is invoked only when the room
// is genuinely new, under the registry's own short-held lock.
func (reg *Registry) TryCreate(ctx context.Context, id ports.RoomID, create func() *Room) (*Usage, error) {
	reg.mu.Lock()
	e, ok := reg.entries[id]
	if !ok {
		r := create()
		r.ID = id
		e = newEntry(r)
		reg.entries[id] = e
	}
	reg.mu.Unlock()
	return reg.acquire(ctx, e)
}

func (reg *Registry) acquire(ctx context.Context, e *entry) (*Usage, error) {
	select {
	case <-e.lock:
		return &Usage{reg: reg, entry: e, room: e.room}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (reg *Registry) evict(id ports.RoomID) {
	reg.mu.Lock()
	delete(reg.entries, id)
	reg.mu.Unlock()
}

// acquireWithTimeout is a convenience used by countdown continuations,
// which must re-acquire the room after an arbitrary delay without
// blocking shutdown indefinitely if the room was already evicted.
func (reg *Registry) acquireWithTimeout(id ports.RoomID, timeout time.Duration) (*Usage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return reg.GetForUse(ctx, id)
}
