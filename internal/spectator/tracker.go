// Package spectator tracks the lifecycle of a single connection's play
// session: begin, streamed frame data, and end, handing the finished
// score to the upload pipeline.
package spectator

import (
	"sync"

	"github.com/harmonicarena/roomsrv/internal/ports"
)

// MaxReplayFrames bounds the in-memory replay buffer per session so a
// single long spectated play cannot grow without bound; the oldest
// frames are trimmed, never rejected.
const MaxReplayFrames = 50000

// Frame is an opaque per-tick replay sample; its internal shape is a
// domain matter outside this package's concern.
type Frame struct {
	Data []byte
}

// EndReason distinguishes a normal finish from a dropped connection.
type EndReason int

const (
	EndCompleted EndReason = iota
	EndQuit
)

// Uploader is the narrow capability the tracker needs from the score
// upload pipeline.
type Uploader interface {
	Enqueue(token ports.ScoreToken, score *ports.Score)
}

// Notifier fans out UserBeganPlaying/UserFinishedPlaying to connected
// clients.
type Notifier interface {
	NotifyBeganPlaying(userID ports.UserID)
	NotifyFinishedPlaying(userID ports.UserID, reason EndReason)
}

// ClientState is the per-connection play-session state.
type ClientState struct {
	mu     sync.Mutex
	userID ports.UserID
	active bool
	token  ports.ScoreToken
	score  *ports.Score
	frames []Frame
}

// Tracker owns one ClientState per connected user.
type Tracker struct {
	uploader Uploader
	notifier Notifier

	mu       sync.Mutex
	sessions map[ports.UserID]*ClientState
}

// New constructs a tracker bound to the given uploader and notifier.
func New(uploader Uploader, notifier Notifier) *Tracker {
	return &Tracker{
		uploader: uploader,
		notifier: notifier,
		sessions: make(map[ports.UserID]*ClientState),
	}
}

// BeginPlaySession records the start of a play for userID and fans out
// UserBeganPlaying.
func (t *Tracker) BeginPlaySession(userID ports.UserID, token ports.ScoreToken, score *ports.Score) {
	t.mu.Lock()
	cs := &ClientState{userID: userID, active: true, token: token, score: score}
	t.sessions[userID] = cs
	t.mu.Unlock()

	t.notifier.NotifyBeganPlaying(userID)
}

// SendFrameData appends a streamed frame to the session's in-memory
// replay buffer, trimming the oldest frame once MaxReplayFrames is
// exceeded. A no-op if the user has no active session.
func (t *Tracker) SendFrameData(userID ports.UserID, frame Frame) {
	t.mu.Lock()
	cs, ok := t.sessions[userID]
	t.mu.Unlock()
	if !ok {
		return
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	if !cs.active {
		return
	}
	cs.frames = append(cs.frames, frame)
	if len(cs.frames) > MaxReplayFrames {
		cs.frames = cs.frames[len(cs.frames)-MaxReplayFrames:]
	}
}

// EndPlaySession closes the session: if a score token was captured, the
// merged score is handed to the upload pipeline. Fans out
// UserFinishedPlaying regardless of reason.
func (t *Tracker) EndPlaySession(userID ports.UserID, reason EndReason) {
	t.mu.Lock()
	cs, ok := t.sessions[userID]
	delete(t.sessions, userID)
	t.mu.Unlock()
	if !ok {
		return
	}

	cs.mu.Lock()
	cs.active = false
	score := cs.score
	frames := cs.frames
	cs.mu.Unlock()

	if score != nil && cs.token != 0 {
		score.Replay = flattenFrames(frames)
		t.uploader.Enqueue(cs.token, score)
	}
	t.notifier.NotifyFinishedPlaying(userID, reason)
}

// HandleDisconnect is equivalent to EndPlaySession(Quit), per the
// dropped-connection contract.
func (t *Tracker) HandleDisconnect(userID ports.UserID) {
	t.mu.Lock()
	_, ok := t.sessions[userID]
	t.mu.Unlock()
	if !ok {
		return
	}
	t.EndPlaySession(userID, EndQuit)
}

func flattenFrames(frames []Frame) []byte {
	var total int
	for _, f := range frames {
		total += len(f.Data)
	}
	out := make([]byte, 0, total)
	for _, f := range frames {
		out = append(out, f.Data...)
	}
	return out
}
