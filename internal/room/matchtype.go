package room

import "github.com/harmonicarena/roomsrv/internal/ports"

// HubContext is the narrow capability a match-type strategy is given at
// construction instead of a back-pointer to the room or the hub. Per the
// cyclic-reference design note, a strategy may notify observers and read
// the room it belongs to, nothing more.
type HubContext interface {
	NotifyRoomUpdated(roomID ports.RoomID)
	GetRoom(roomID ports.RoomID) *Room
}

// matchStrategy implements per-match-type rules: assignment of newly
// joined users to roles, and aggregation of gameplay results. Both
// HeadToHead and TeamVersus are stateless beyond MatchRoleData stored on
// each RoomUser, so each variant is a small value type holding only its
// HubContext; newStrategy picks one by MatchType.
type matchStrategy interface {
	Type() MatchType
	OnUserJoined(r *Room, u *RoomUser)
	OnUserLeft(r *Room, u *RoomUser)

	// AggregateResults decides which FinishedPlay users may advance to
	// Results, mutates their state, and returns the promoted ids.
	AggregateResults(r *Room) []ports.UserID
}

// headToHeadStrategy assigns no team; every user is independent.
type headToHeadStrategy struct{ ctx HubContext }

func (headToHeadStrategy) Type() MatchType                 { return MatchHeadToHead }
func (headToHeadStrategy) OnUserJoined(_ *Room, _ *RoomUser) {}
func (headToHeadStrategy) OnUserLeft(_ *Room, _ *RoomUser)   {}

// AggregateResults promotes every FinishedPlay user independently; a
// head-to-head match has no cross-user dependency to wait on.
func (headToHeadStrategy) AggregateResults(r *Room) []ports.UserID {
	var promoted []ports.UserID
	for _, u := range r.Users {
		if u.State == UserFinishedPlay {
			u.State = UserResults
			promoted = append(promoted, u.UserID)
		}
	}
	return promoted
}

// TeamRole is the MatchRoleData shape for TeamVersus rooms.
type TeamRole struct {
	Team int // 0 or 1
}

// teamVersusStrategy assigns incoming users to the smaller-sized team,
// breaking ties toward team 0.
type teamVersusStrategy struct{ ctx HubContext }

func (teamVersusStrategy) Type() MatchType { return MatchTeamVersus }

func (s teamVersusStrategy) OnUserJoined(r *Room, u *RoomUser) {
	var counts [2]int
	for _, other := range r.Users {
		if other.UserID == u.UserID {
			continue
		}
		if role, ok := other.MatchRoleData.(TeamRole); ok {
			counts[role.Team]++
		}
	}
	team := 0
	if counts[1] < counts[0] {
		team = 1
	}
	u.MatchRoleData = TeamRole{Team: team}
}

func (teamVersusStrategy) OnUserLeft(_ *Room, _ *RoomUser) {}

// AggregateResults holds a team's FinishedPlay users back until every
// member of that team has finished, so teammates see Results together
// rather than staggered.
func (teamVersusStrategy) AggregateResults(r *Room) []ports.UserID {
	var teamSize, teamFinished [2]int
	for _, u := range r.Users {
		role, ok := u.MatchRoleData.(TeamRole)
		if !ok {
			continue
		}
		teamSize[role.Team]++
		if u.State == UserFinishedPlay {
			teamFinished[role.Team]++
		}
	}

	var promoted []ports.UserID
	for _, u := range r.Users {
		role, ok := u.MatchRoleData.(TeamRole)
		if !ok || u.State != UserFinishedPlay {
			continue
		}
		if teamFinished[role.Team] == teamSize[role.Team] {
			u.State = UserResults
			promoted = append(promoted, u.UserID)
		}
	}
	return promoted
}

// newStrategy constructs the strategy for t, bound to ctx. ctx may be nil
// in tests that don't exercise notification.
func newStrategy(t MatchType, ctx HubContext) matchStrategy {
	switch t {
	case MatchTeamVersus:
		return teamVersusStrategy{ctx: ctx}
	default:
		return headToHeadStrategy{ctx: ctx}
	}
}
