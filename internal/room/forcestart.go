package room

import "time"

// ForceGameplayStartDuration bounds how long the gameplay subgroup waits
// for every WaitingForLoad user to report Loaded before stragglers are
// left behind and the match starts without them.
const ForceGameplayStartDuration = 15 * time.Second

// AdvanceIfReady promotes the gameplay subgroup to Playing once every
// WaitingForLoad user has become Loaded. While stragglers remain it
// starts (or leaves running) a ForceGameplayStartCountdown fallback that
// performs the same promotion on timeout, leaving the stragglers behind.
func (m *Manager) AdvanceIfReady(u *Usage, sink eventSink) {
	r := u.Room()
	var waiting, loaded int
	for _, usr := range r.Users {
		switch usr.State {
		case UserWaitingForLoad:
			waiting++
		case UserLoaded:
			loaded++
		}
	}
	if loaded == 0 {
		return
	}
	if waiting == 0 {
		m.StopAnyCountdown(u, CountdownForceGameplayStart, sink)
		AdvanceToPlaying(u, sink)
		return
	}
	if r.findCountdown(CountdownForceGameplayStart) != nil {
		return
	}
	m.StartCountdown(u, CountdownForceGameplayStart, ForceGameplayStartDuration, sink, func(room *Room) {
		advanceToPlaying(room, sink)
	})
}
