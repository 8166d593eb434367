// Package room implements the per-room multiplayer state machine: user
// membership, playlist queue, countdowns, and match-type strategies. All
// mutation happens under a Usage obtained from the Registry (registry.go).
package room

import (
	"time"

	"github.com/harmonicarena/roomsrv/internal/ports"
)

// State is the aggregate room state derived from the set of RoomUser
// states; recomputeState keeps the two in step.
type State int

const (
	StateOpen State = iota
	StateWaitingForLoad
	StatePlaying
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateWaitingForLoad:
		return "waiting_for_load"
	case StatePlaying:
		return "playing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// UserState is the set of states a RoomUser may occupy.
type UserState int

const (
	UserIdle UserState = iota
	UserReady
	UserWaitingForLoad
	UserLoaded
	UserReadyForGameplay
	UserPlaying
	UserFinishedPlay
	UserResults
	UserSpectating
)

func (s UserState) String() string {
	switch s {
	case UserIdle:
		return "idle"
	case UserReady:
		return "ready"
	case UserWaitingForLoad:
		return "waiting_for_load"
	case UserLoaded:
		return "loaded"
	case UserReadyForGameplay:
		return "ready_for_gameplay"
	case UserPlaying:
		return "playing"
	case UserFinishedPlay:
		return "finished_play"
	case UserResults:
		return "results"
	case UserSpectating:
		return "spectating"
	default:
		return "unknown"
	}
}

// clientRequestable is the subset of states a client may request directly
// via ChangeState; WaitingForLoad/Playing/Results are server-only.
var clientRequestable = map[UserState]bool{
	UserIdle:             true,
	UserReady:            true,
	UserLoaded:           true,
	UserReadyForGameplay: true,
	UserFinishedPlay:     true,
	UserSpectating:       true,
}

// BeatmapAvailability tracks whether a user has the current beatmap
// locally. It is stored on RoomUser only: no transition consults it
// (the WaitingForLoad -> Playing promotion looks at user states alone),
// and it adds no room-level invariants.
type BeatmapAvailability int

const (
	BeatmapAvailabilityUnknown BeatmapAvailability = iota
	BeatmapAvailabilityLocallyAvailable
	BeatmapAvailabilityDownloading
)

// QueueMode governs who may add playlist items and the order they play.
type QueueMode int

const (
	QueueHostOnly QueueMode = iota
	QueueAllPlayers
	QueueAllPlayersRoundRobin
)

// MatchType selects the per-match-type assignment/aggregation strategy.
type MatchType int

const (
	MatchHeadToHead MatchType = iota
	MatchTeamVersus
)

// MaxLegacyRulesetID bounds PlaylistItem.RulesetID per the data model.
const MaxLegacyRulesetID = 3

// Settings is the room's mutable configuration, changeable by the host
// only while the room is Open.
type Settings struct {
	Name              string
	PasswordHash      string `json:"-"` // never serialized back to clients
	MatchType         MatchType
	QueueMode         QueueMode
	PlaylistItemID    ports.PlaylistItemID
	AutoStartEnabled  bool
	AutoStartDuration time.Duration
}

// RoomUser is a single occupant of a room. MatchRoleData is owned and
// interpreted by the active match-type strategy only.
type RoomUser struct {
	UserID              ports.UserID
	State               UserState
	BeatmapAvailability BeatmapAvailability
	RulesetID           int
	MatchRoleData       any
}

// PlaylistItem is the in-memory mirror of ports.PlaylistItemRecord, with
// fields the hub needs that are not persisted verbatim (RequiredMods /
// AllowedMods content is opaque to the room engine).
type PlaylistItem struct {
	ID              ports.PlaylistItemID
	OwnerUserID     ports.UserID
	BeatmapID       ports.BeatmapID
	BeatmapChecksum string
	RulesetID       int
	RequiredMods    []string
	AllowedMods     []string
	Expired         bool
	PlayedAt        time.Time
}

// Room is the full per-room aggregate. Every field must only be read or
// mutated while a Usage for this room is held (see registry.go).
type Room struct {
	ID               ports.RoomID
	State            State
	Settings         Settings
	Users            []*RoomUser
	Playlist         []*PlaylistItem
	HostUserID       ports.UserID
	ActiveCountdowns []*Countdown
	nextItemID       ports.PlaylistItemID

	strategy matchStrategy
}

// NewRoom constructs an empty, Open room with the given settings and hub
// context, wiring the match-type strategy selected by settings.MatchType.
func NewRoom(settings Settings, ctx HubContext) *Room {
	r := &Room{
		State:    StateOpen,
		Settings: settings,
	}
	r.strategy = newStrategy(settings.MatchType, ctx)
	return r
}

// UserByID returns the RoomUser for id, or nil.
func (r *Room) UserByID(id ports.UserID) *RoomUser {
	for _, u := range r.Users {
		if u.UserID == id {
			return u
		}
	}
	return nil
}

// IsHost reports whether id is the room's current host.
func (r *Room) IsHost(id ports.UserID) bool {
	return r.HostUserID == id
}

// CurrentItem returns the unexpired item matching Settings.PlaylistItemID,
// or nil if none (an empty or fully-expired playlist).
func (r *Room) CurrentItem() *PlaylistItem {
	for _, it := range r.Playlist {
		if it.ID == r.Settings.PlaylistItemID && !it.Expired {
			return it
		}
	}
	return nil
}

func (r *Room) itemByID(id ports.PlaylistItemID) *PlaylistItem {
	for _, it := range r.Playlist {
		if it.ID == id {
			return it
		}
	}
	return nil
}

// recomputeState restores the §3 invariant tying aggregate State to the
// set of RoomUser states. Must be called at the end of every mutation
// that can change a user's state or the user set.
func (r *Room) recomputeState() {
	if r.State == StateClosed {
		return
	}
	var anyPlaying, anyLoaded, anyWaiting bool
	for _, u := range r.Users {
		switch u.State {
		case UserPlaying:
			anyPlaying = true
		case UserLoaded:
			anyLoaded = true
		case UserWaitingForLoad:
			anyWaiting = true
		}
	}
	switch {
	case anyLoaded || anyPlaying:
		r.State = StatePlaying
	case anyWaiting:
		r.State = StateWaitingForLoad
	default:
		r.State = StateOpen
	}
}

// gameplaySubgroup returns users currently in the fan-out subgroup used
// for LoadRequested and other gameplay-scoped broadcasts.
func (r *Room) gameplaySubgroup() []ports.UserID {
	var out []ports.UserID
	for _, u := range r.Users {
		switch u.State {
		case UserWaitingForLoad, UserLoaded, UserPlaying:
			out = append(out, u.UserID)
		}
	}
	return out
}
