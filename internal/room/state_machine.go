package room

import (
	"github.com/harmonicarena/roomsrv/internal/apperr"
	"github.com/harmonicarena/roomsrv/internal/ports"
)

// ChangeState applies a client-requested user-state transition. Requests
// for server-only states fail with InvalidStateChange. Idempotent: a
// request for the state the user already occupies is a no-op and emits
// no event (I6).
func ChangeState(u *Usage, sink eventSink, userID ports.UserID, want UserState) error {
	r := u.Room()
	if !clientRequestable[want] {
		return apperr.InvalidStateChange("user state %s is server-managed", want)
	}
	user := r.UserByID(userID)
	if user == nil {
		return apperr.NotFound("user %d not in room %d", userID, r.ID)
	}
	if user.State == want {
		return nil
	}

	wasGameplay := inGameplaySubgroup(user.State)
	user.State = want
	nowGameplay := inGameplaySubgroup(user.State)

	r.recomputeState()
	r.emit(sink, EventUserStateChanged, nil, user)
	if wasGameplay && !nowGameplay {
		// FinishedPlay (or any other exit) drops the user from the
		// gameplay subgroup; no further event needed beyond the state
		// change above — subgroup membership is derived, not stored.
	}
	return nil
}

func inGameplaySubgroup(s UserState) bool {
	switch s {
	case UserWaitingForLoad, UserLoaded, UserPlaying:
		return true
	default:
		return false
	}
}

// StartMatch promotes every Ready user to WaitingForLoad and emits
// LoadRequested to that subgroup only. Requires the host to be Ready and
// at least one Ready user; fails InvalidState if the match already
// started (room not Open).
func StartMatch(u *Usage, sink eventSink, hostID ports.UserID) error {
	r := u.Room()
	if !r.IsHost(hostID) {
		return apperr.NotAuthorized("user %d is not host of room %d", hostID, r.ID)
	}
	if r.State != StateOpen {
		return apperr.InvalidState("room %d already started", r.ID)
	}
	host := r.UserByID(hostID)
	if host == nil || host.State != UserReady {
		return apperr.InvalidState("host must be ready to start the match")
	}

	var promoted []ports.UserID
	for _, usr := range r.Users {
		if usr.State == UserReady {
			usr.State = UserWaitingForLoad
			promoted = append(promoted, usr.UserID)
		}
	}
	if len(promoted) == 0 {
		return apperr.InvalidState("no ready users to start")
	}

	r.recomputeState()
	r.emit(sink, EventLoadRequested, promoted, nil)
	return nil
}

// MarkLoaded transitions a WaitingForLoad user to Loaded. If every
// WaitingForLoad user has backed out to Idle instead, the caller's
// separate disconnect/ChangeState(Idle) path already returns the room to
// Open via recomputeState; MarkLoaded itself only ever moves forward.
func MarkLoaded(u *Usage, sink eventSink, userID ports.UserID) error {
	r := u.Room()
	user := r.UserByID(userID)
	if user == nil {
		return apperr.NotFound("user %d not in room %d", userID, r.ID)
	}
	if user.State != UserWaitingForLoad {
		return apperr.InvalidState("user %d is not waiting for load", userID)
	}
	user.State = UserLoaded
	r.recomputeState()
	r.emit(sink, EventUserStateChanged, nil, user)
	return nil
}

// AdvanceToPlaying transitions every Loaded user to Playing once the
// gameplay subgroup is ready (all loaded, or the force-start countdown
// elapsed); called by the hub once its readiness policy decides to.
func AdvanceToPlaying(u *Usage, sink eventSink) {
	advanceToPlaying(u.Room(), sink)
}

// advanceToPlaying is the Room-based form used by countdown completions,
// which re-acquire a *Usage of their own and hand the callback only a
// *Room (see Manager.run).
func advanceToPlaying(r *Room, sink eventSink) {
	for _, usr := range r.Users {
		if usr.State == UserLoaded {
			usr.State = UserPlaying
		}
	}
	r.recomputeState()
	r.emit(sink, EventUserStateChanged, nil, nil)
}

// MatchComplete reports whether a match is in progress and every user
// still engaged in it has reached FinishedPlay (none remain Playing).
func (r *Room) MatchComplete() bool {
	any := false
	for _, u := range r.Users {
		switch u.State {
		case UserPlaying:
			return false
		case UserFinishedPlay:
			any = true
		}
	}
	return any
}

// AggregateResults delegates to the room's match-type strategy to decide
// which FinishedPlay users advance to Results, per the FinishedPlay ->
// (all finished) -> Results aggregate transition in §4.3.
func AggregateResults(u *Usage, sink eventSink) []ports.UserID {
	r := u.Room()
	promoted := r.strategy.AggregateResults(r)
	r.recomputeState()
	for _, id := range promoted {
		r.emit(sink, EventUserStateChanged, []ports.UserID{id}, r.UserByID(id))
	}
	return promoted
}

// JoinRoom adds a new user to the room, assigning host if the room was
// empty, and delegates role assignment to the active match-type strategy.
func JoinRoom(u *Usage, sink eventSink, userID ports.UserID) (*RoomUser, error) {
	r := u.Room()
	if r.State == StateClosed {
		return nil, apperr.InvalidState("room %d is closed", r.ID)
	}
	if r.UserByID(userID) != nil {
		return nil, apperr.InvalidState("user %d already in room %d", userID, r.ID)
	}

	user := &RoomUser{UserID: userID, State: UserIdle}
	r.Users = append(r.Users, user)
	if len(r.Users) == 1 {
		r.HostUserID = userID
	}
	if r.strategy != nil {
		r.strategy.OnUserJoined(r, user)
	}
	r.recomputeState()
	r.emit(sink, EventRoomUpdated, nil, r)
	return user, nil
}

// LeaveRoom removes a user (or treats a disconnect identically): the user
// is first forced to Idle, then removed from Users, host is reassigned to
// the next user in insertion order if needed, and state invariants are
// restored.
func LeaveRoom(u *Usage, sink eventSink, userID ports.UserID) error {
	r := u.Room()
	user := r.UserByID(userID)
	if user == nil {
		return apperr.NotFound("user %d not in room %d", userID, r.ID)
	}
	user.State = UserIdle

	for i, usr := range r.Users {
		if usr.UserID == userID {
			r.Users = append(r.Users[:i], r.Users[i+1:]...)
			break
		}
	}
	if r.strategy != nil {
		r.strategy.OnUserLeft(r, user)
	}
	if r.HostUserID == userID {
		if len(r.Users) > 0 {
			r.HostUserID = r.Users[0].UserID
		} else {
			r.HostUserID = 0
		}
	}
	r.recomputeState()
	r.emit(sink, EventRoomUpdated, nil, r)
	return nil
}
