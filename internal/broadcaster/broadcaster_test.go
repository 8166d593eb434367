package broadcaster

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/harmonicarena/roomsrv/internal/ports"
)

type fakeDB struct {
	mu      sync.Mutex
	update  *ports.BeatmapSetUpdate
	err     error
	polls   int
}

func (f *fakeDB) GetUpdatedBeatmapSets(context.Context, *uint32) (*ports.BeatmapSetUpdate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	return f.update, f.err
}
func (f *fakeDB) GetScoreFromToken(context.Context, ports.ScoreToken) (*ports.ResolvedScore, error) {
	return nil, nil
}
func (f *fakeDB) GetBeatmapChecksum(context.Context, ports.BeatmapID) (*string, error) { return nil, nil }
func (f *fakeDB) GetRoom(context.Context, ports.RoomID) (*ports.RoomRecord, error)      { return nil, nil }
func (f *fakeDB) CreateRoom(context.Context, *ports.RoomRecord) error                   { return nil }
func (f *fakeDB) MarkRoomEnded(context.Context, ports.RoomID, int64) error              { return nil }
func (f *fakeDB) AddPlaylistItem(context.Context, *ports.PlaylistItemRecord) error      { return nil }
func (f *fakeDB) RemovePlaylistItem(context.Context, ports.RoomID, ports.PlaylistItemID) error {
	return nil
}
func (f *fakeDB) UpdatePlaylistItem(context.Context, *ports.PlaylistItemRecord) error { return nil }
func (f *fakeDB) GetAllPlaylistItems(context.Context, ports.RoomID) ([]ports.PlaylistItemRecord, error) {
	return nil, nil
}

type fakeFanout struct {
	mu      sync.Mutex
	updates []*ports.BeatmapSetUpdate
}

func (f *fakeFanout) BroadcastBeatmapSetsUpdated(u *ports.BeatmapSetUpdate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, u)
}

func (f *fakeFanout) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

func TestBroadcaster_FansOutOnlyWhenNonEmpty(t *testing.T) {
	db := &fakeDB{update: &ports.BeatmapSetUpdate{LastProcessedQueueID: 1, BeatmapSetIDs: []uint64{7}}}
	fanout := &fakeFanout{}
	b := New(db, fanout, zaptest.NewLogger(t))
	b.runOnce()

	require.Equal(t, 1, fanout.count())
	assert.EqualValues(t, 1, *b.lastQueueID)
}

func TestBroadcaster_NoFanoutWhenEmpty(t *testing.T) {
	db := &fakeDB{update: &ports.BeatmapSetUpdate{LastProcessedQueueID: 2}}
	fanout := &fakeFanout{}
	b := New(db, fanout, zaptest.NewLogger(t))
	b.runOnce()

	assert.Equal(t, 0, fanout.count())
}

func TestBroadcaster_StopPreventsFurtherTicks(t *testing.T) {
	db := &fakeDB{update: &ports.BeatmapSetUpdate{}}
	fanout := &fakeFanout{}
	b := New(db, fanout, zaptest.NewLogger(t))
	b.Start()
	b.Stop()

	time.Sleep(50 * time.Millisecond)
	db.mu.Lock()
	polls := db.polls
	db.mu.Unlock()
	assert.Equal(t, 0, polls)
}
