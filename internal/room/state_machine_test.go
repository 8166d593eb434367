package room

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestOnlyReadiedUpUsersTransitionToPlay covers scenario 6.
func TestOnlyReadiedUpUsersTransitionToPlay(t *testing.T) {
	u := newTestUsage(t, Settings{})
	_, err := JoinRoom(u, nil, 1) // host
	require.NoError(t, err)
	_, err = JoinRoom(u, nil, 2)
	require.NoError(t, err)

	require.NoError(t, ChangeState(u, nil, 1, UserReady))

	require.NoError(t, StartMatch(u, nil, 1))
	r := u.Room()
	assert.Equal(t, UserWaitingForLoad, r.UserByID(1).State)
	assert.Equal(t, UserIdle, r.UserByID(2).State)
	assert.Equal(t, StateWaitingForLoad, r.State)

	require.NoError(t, MarkLoaded(u, nil, 1))
	AdvanceToPlaying(u, nil)
	assert.Equal(t, UserPlaying, r.UserByID(1).State)
	assert.Equal(t, UserIdle, r.UserByID(2).State)
}

// TestAllUsersBackingOutCancelsTransitionToPlay covers scenario 7.
func TestAllUsersBackingOutCancelsTransitionToPlay(t *testing.T) {
	u := newTestUsage(t, Settings{})
	_, _ = JoinRoom(u, nil, 1)
	_, _ = JoinRoom(u, nil, 2)
	require.NoError(t, ChangeState(u, nil, 1, UserReady))
	require.NoError(t, ChangeState(u, nil, 2, UserReady))
	require.NoError(t, StartMatch(u, nil, 1))

	require.NoError(t, ChangeState(u, nil, 1, UserIdle))
	require.NoError(t, ChangeState(u, nil, 2, UserIdle))

	assert.Equal(t, StateOpen, u.Room().State)
}

func TestChangeState_RejectsServerOnlyStates(t *testing.T) {
	u := newTestUsage(t, Settings{})
	_, _ = JoinRoom(u, nil, 1)
	err := ChangeState(u, nil, 1, UserWaitingForLoad)
	assert.ErrorContains(t, err, "server-managed")
}

// TestChangeState_IdempotentNoOp covers invariant I6.
func TestChangeState_IdempotentNoOp(t *testing.T) {
	u := newTestUsage(t, Settings{})
	_, _ = JoinRoom(u, nil, 1)
	require.NoError(t, ChangeState(u, nil, 1, UserReady))
	require.NoError(t, ChangeState(u, nil, 1, UserReady))
	assert.Equal(t, UserReady, u.Room().UserByID(1).State)
}

func TestLeaveRoom_ReassignsHost(t *testing.T) {
	u := newTestUsage(t, Settings{})
	_, _ = JoinRoom(u, nil, 1)
	_, _ = JoinRoom(u, nil, 2)
	require.Equal(t, uint64(1), uint64(u.Room().HostUserID))

	require.NoError(t, LeaveRoom(u, nil, 1))
	assert.Equal(t, uint64(2), uint64(u.Room().HostUserID))
}

func TestStartMatch_RequiresHostReady(t *testing.T) {
	u := newTestUsage(t, Settings{})
	_, _ = JoinRoom(u, nil, 1)
	err := StartMatch(u, nil, 1)
	assert.ErrorContains(t, err, "ready")
}
