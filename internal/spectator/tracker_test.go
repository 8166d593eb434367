package spectator

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harmonicarena/roomsrv/internal/ports"
)

type fakeUploader struct {
	mu    sync.Mutex
	calls []ports.ScoreToken
}

func (f *fakeUploader) Enqueue(token ports.ScoreToken, _ *ports.Score) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, token)
}

type fakeNotifier struct {
	mu       sync.Mutex
	began    []ports.UserID
	finished []ports.UserID
}

func (f *fakeNotifier) NotifyBeganPlaying(userID ports.UserID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.began = append(f.began, userID)
}

func (f *fakeNotifier) NotifyFinishedPlaying(userID ports.UserID, _ EndReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, userID)
}

func TestTracker_BeginSendEndUploadsScore(t *testing.T) {
	up := &fakeUploader{}
	notif := &fakeNotifier{}
	tr := New(up, notif)

	tr.BeginPlaySession(1, 42, &ports.Score{})
	tr.SendFrameData(1, Frame{Data: []byte("a")})
	tr.SendFrameData(1, Frame{Data: []byte("b")})
	tr.EndPlaySession(1, EndCompleted)

	require.Len(t, up.calls, 1)
	assert.EqualValues(t, 42, up.calls[0])
	assert.Equal(t, []ports.UserID{1}, notif.began)
	assert.Equal(t, []ports.UserID{1}, notif.finished)
}

func TestTracker_DisconnectTreatedAsQuit(t *testing.T) {
	up := &fakeUploader{}
	notif := &fakeNotifier{}
	tr := New(up, notif)

	tr.BeginPlaySession(1, 42, &ports.Score{})
	tr.HandleDisconnect(1)

	require.Len(t, up.calls, 1)
	assert.Equal(t, []ports.UserID{1}, notif.finished)
}

func TestTracker_FrameBufferTrimsOldest(t *testing.T) {
	up := &fakeUploader{}
	notif := &fakeNotifier{}
	tr := New(up, notif)

	tr.BeginPlaySession(1, 1, &ports.Score{})
	for i := 0; i < MaxReplayFrames+10; i++ {
		tr.SendFrameData(1, Frame{Data: []byte{byte(i)}})
	}

	tr.mu.Lock()
	cs := tr.sessions[1]
	tr.mu.Unlock()
	cs.mu.Lock()
	n := len(cs.frames)
	cs.mu.Unlock()
	assert.Equal(t, MaxReplayFrames, n)
}

func TestTracker_EndWithoutBeginIsNoop(t *testing.T) {
	up := &fakeUploader{}
	notif := &fakeNotifier{}
	tr := New(up, notif)
	tr.EndPlaySession(99, EndCompleted)
	assert.Empty(t, up.calls)
	assert.Empty(t, notif.finished)
}
