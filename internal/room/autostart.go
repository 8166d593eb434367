package room

import (
	"github.com/harmonicarena/roomsrv/internal/apperr"
	"github.com/harmonicarena/roomsrv/internal/ports"
)

// MaybeStartAutoStartCountdown starts a MatchStartCountdown when the room
// opts into AutoStartEnabled, the room is Open, and at least one user has
// just become Ready. It is a no-op otherwise. This supplements explicit
// host StartMatch with a host-configurable timer, gated off by default so
// it never changes behavior for rooms that don't set it.
func (m *Manager) MaybeStartAutoStartCountdown(u *Usage, sink eventSink) {
	r := u.Room()
	if !r.Settings.AutoStartEnabled || r.Settings.AutoStartDuration <= 0 {
		return
	}
	if r.State != StateOpen {
		return
	}
	if r.findCountdown(CountdownMatchStart) != nil {
		return
	}

	anyReady := false
	for _, usr := range r.Users {
		if usr.State == UserReady {
			anyReady = true
			break
		}
	}
	if !anyReady {
		return
	}

	m.StartCountdown(u, CountdownMatchStart, r.Settings.AutoStartDuration, sink, func(room *Room) {
		if room.HostUserID == 0 {
			return
		}
		_ = startMatchIgnoringHostReady(room, sink)
	})
}

// startMatchIgnoringHostReady runs the same promotion StartMatch performs
// but without the "host must be Ready" precondition, since auto-start is
// triggered by any user readying up, not necessarily the host.
func startMatchIgnoringHostReady(r *Room, sink eventSink) error {
	if r.State != StateOpen {
		return apperr.InvalidState("room %d already started", r.ID)
	}
	var promoted []ports.UserID
	for _, usr := range r.Users {
		if usr.State == UserReady {
			usr.State = UserWaitingForLoad
			promoted = append(promoted, usr.UserID)
		}
	}
	if len(promoted) == 0 {
		return nil
	}
	r.recomputeState()
	r.emit(sink, EventLoadRequested, promoted, nil)
	return nil
}
