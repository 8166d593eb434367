package upload

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/harmonicarena/roomsrv/internal/ports"
)

type fakeDB struct {
	mu        sync.Mutex
	resolved  map[ports.ScoreToken]*ports.ResolvedScore
}

func newFakeDB() *fakeDB { return &fakeDB{resolved: map[ports.ScoreToken]*ports.ResolvedScore{}} }

func (f *fakeDB) set(token ports.ScoreToken, r *ports.ResolvedScore) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolved[token] = r
}

func (f *fakeDB) GetScoreFromToken(_ context.Context, token ports.ScoreToken) (*ports.ResolvedScore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resolved[token], nil
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
func (f *fakeDB) GetUpdatedBeatmapSets(context.Context, *uint32) (*ports.BeatmapSetUpdate, error) {
	return &ports.BeatmapSetUpdate{}, nil
}

type fakeStore struct {
	mu      sync.Mutex
	writes  []*ports.Score
	failNext bool
}

func (s *fakeStore) Write(_ context.Context, score *ports.Score) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		s.failNext = false
		return assert.AnError
	}
	s.writes = append(s.writes, score)
	return nil
}

func (s *fakeStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

func testLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// TestScoreDataMergedCorrectly covers scenario 1.
func TestScoreDataMergedCorrectly(t *testing.T) {
	db := newFakeDB()
	db.set(1, &ports.ResolvedScore{OnlineID: 2, Passed: true})
	store := &fakeStore{}
	cfg := DefaultConfig()
	cfg.Enabled = true
	p := New(cfg, db, store, testLogger(t))
	defer p.Dispose()

	p.Enqueue(1, &ports.Score{ScoreInfo: ports.ScoreInfo{User: ports.APIUser{ID: 1234, Username: "some user"}}})

	require.Eventually(t, func() bool { return store.writeCount() == 1 }, time.Second, 5*time.Millisecond)
	got := store.writes[0]
	assert.EqualValues(t, 2, got.OnlineID)
	assert.True(t, got.Passed)
	assert.Equal(t, "some user", got.User.Username)
}

// TestScoreDoesNotUploadIfDisabled covers scenario 2.
func TestScoreDoesNotUploadIfDisabled(t *testing.T) {
	db := newFakeDB()
	db.set(1, &ports.ResolvedScore{OnlineID: 2, Passed: true})
	store := &fakeStore{}
	cfg := DefaultConfig()
	cfg.Enabled = false
	p := New(cfg, db, store, testLogger(t))
	defer p.Dispose()

	p.Enqueue(1, &ports.Score{})
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, store.writeCount())
}

// TestTimedOutScoreDoesNotUpload covers scenario 3.
func TestTimedOutScoreDoesNotUpload(t *testing.T) {
	db := newFakeDB()
	store := &fakeStore{}
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.TimeoutInterval = 0
	p := New(cfg, db, store, testLogger(t))
	defer p.Dispose()

	p.Enqueue(2, &ports.Score{})
	time.Sleep(50 * time.Millisecond)
	db.set(2, &ports.ResolvedScore{OnlineID: 3, Passed: true})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, store.writeCount())

	db.set(3, &ports.ResolvedScore{OnlineID: 3, Passed: true})
	p.Enqueue(3, &ports.Score{})
	require.Eventually(t, func() bool { return store.writeCount() == 1 }, time.Second, 5*time.Millisecond)
}

// TestFailedScoreHandledGracefully covers scenario 4.
func TestFailedScoreHandledGracefully(t *testing.T) {
	db := newFakeDB()
	db.set(1, &ports.ResolvedScore{OnlineID: 1, Passed: true})
	store := &fakeStore{failNext: true}
	cfg := DefaultConfig()
	cfg.Enabled = true
	p := New(cfg, db, store, testLogger(t))
	defer p.Dispose()

	p.Enqueue(1, &ports.Score{})
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, store.writeCount())

	p.Enqueue(1, &ports.Score{})
	require.Eventually(t, func() bool { return store.writeCount() == 1 }, time.Second, 5*time.Millisecond)
}

// TestMassUploads covers scenario 5.
func TestMassUploads(t *testing.T) {
	db := newFakeDB()
	for i := ports.ScoreToken(1); i <= 1000; i++ {
		db.set(i, &ports.ResolvedScore{OnlineID: ports.UserID(i), Passed: true})
	}
	store := &fakeStore{}
	cfg := Config{Concurrency: 4, TimeoutInterval: 30 * time.Second, Enabled: true}
	p := New(cfg, db, store, testLogger(t))
	defer p.Dispose()

	var wg sync.WaitGroup
	for i := ports.ScoreToken(1); i <= 1000; i++ {
		wg.Add(1)
		go func(i ports.ScoreToken) {
			defer wg.Done()
			p.Enqueue(i, &ports.Score{})
		}(i)
	}
	wg.Wait()

	require.Eventually(t, func() bool { return store.writeCount() == 1000 }, 5*time.Second, 10*time.Millisecond)
}

func TestRemainingUsages_DecreasesAfterDrain(t *testing.T) {
	db := newFakeDB()
	db.set(1, &ports.ResolvedScore{OnlineID: 1, Passed: true})
	store := &fakeStore{}
	cfg := DefaultConfig()
	cfg.Enabled = true
	p := New(cfg, db, store, testLogger(t))

	p.Enqueue(1, &ports.Score{})
	require.Eventually(t, func() bool { return atomic.LoadInt64(&p.remain) == 0 }, time.Second, 5*time.Millisecond)
	p.Dispose()
	assert.EqualValues(t, 0, p.RemainingUsages())
}
