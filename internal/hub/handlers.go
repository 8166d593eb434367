package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/harmonicarena/roomsrv/internal/apperr"
	"github.com/harmonicarena/roomsrv/internal/logging"
	"github.com/harmonicarena/roomsrv/internal/ports"
	"github.com/harmonicarena/roomsrv/internal/room"
	"github.com/harmonicarena/roomsrv/internal/spectator"
)

// fanoutSink translates room.Event notifications emitted while usage is
// held into wire broadcasts. It reads recipients through usage.Room(), so
// it must only be used while a Usage on that room is held: the one it was
// constructed with, or the fresh Usage a countdown continuation re-acquires.
type fanoutSink struct {
	hub   *Hub
	usage *room.Usage
}

func (s *fanoutSink) Emit(e room.Event) {
	recipients := e.Recipient
	if recipients == nil {
		for _, u := range s.usage.Room().Users {
			recipients = append(recipients, u.UserID)
		}
	}
	s.hub.broadcastRoom(e.RoomID, e.Kind, recipients, e.Payload)
}

// dispatch routes one inbound envelope to the matching room operation.
// Room branches acquire a fresh Usage and mutate under it; events they
// emit through fanoutSink are fanned out while that Usage is still held,
// and it is released when the handler returns (handleSendMatchRequest
// releases before its relay).
func (h *Hub) dispatch(c *Client, msg envelope) {
	ctx := context.Background()

	var err error
	switch msg.Event {
	case "join_room":
		err = h.handleJoinRoom(ctx, c, msg.Data)
	case "leave_room":
		err = h.handleLeaveRoom(ctx, c)
	case "change_settings":
		err = h.handleChangeSettings(ctx, c, msg.Data)
	case "change_state":
		err = h.handleChangeState(ctx, c, msg.Data)
	case "start_match":
		err = h.handleStartMatch(ctx, c)
	case "add_playlist_item":
		err = h.handleAddPlaylistItem(ctx, c, msg.Data)
	case "remove_playlist_item":
		err = h.handleRemovePlaylistItem(ctx, c, msg.Data)
	case "send_match_request":
		err = h.handleSendMatchRequest(ctx, c, msg.Data)
	case "invoke_match_request":
		err = h.handleInvokeMatchRequest(ctx, c, msg.Data)
	case "begin_play_session":
		err = h.handleBeginPlaySession(c, msg.Data)
	case "send_frame_data":
		err = h.handleSendFrameData(c, msg.Data)
	case "end_play_session":
		err = h.handleEndPlaySession(c, msg.Data)
	default:
		err = apperr.InvalidState("unknown event %q", msg.Event)
	}

	if err != nil {
		logging.Warn(ctx, "rpc failed",
			zap.String("event", msg.Event),
			zap.Uint64("userID", uint64(c.userID)),
			zap.String("code", string(apperr.WireCode(err))),
			zap.Error(err))
		c.sendError(msg.Event, err)
	}
}

type joinRoomRequest struct {
	RoomID ports.RoomID `json:"room_id"`
}

func (h *Hub) handleJoinRoom(ctx context.Context, c *Client, data json.RawMessage) error {
	var req joinRoomRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return apperr.InvalidState("malformed join_room request: %v", err)
	}

	u, err := h.registry.TryCreate(ctx, req.RoomID, func() *room.Room {
		return room.NewRoom(room.Settings{
			Name:      fmt.Sprintf("Room %d", req.RoomID),
			MatchType: room.MatchHeadToHead,
			QueueMode: room.QueueHostOnly,
		}, h)
	})
	if err != nil {
		return err
	}
	defer u.Release()

	isNewRoom := len(u.Room().Users) == 0
	sink := &fanoutSink{hub: h, usage: u}
	if _, err := room.JoinRoom(u, sink, c.userID); err != nil {
		return err
	}

	if isNewRoom {
		rec := &ports.RoomRecord{
			ID:                req.RoomID,
			HostUserID:        c.userID,
			Name:              u.Room().Settings.Name,
			StartedAtUnixNano: time.Now().UnixNano(),
		}
		if err := h.db.CreateRoom(ctx, rec); err != nil {
			logging.Error(ctx, "failed to persist new room", zap.Uint64("roomID", uint64(req.RoomID)), zap.Error(err))
		}
	}

	c.setRoom(req.RoomID)
	// JoinRoom's broadcast went out before this client was marked as
	// joined, so the joiner is sent its own snapshot of the room here.
	c.sendEvent(string(room.EventRoomUpdated), u.Room())
	return nil
}

func (h *Hub) handleLeaveRoom(ctx context.Context, c *Client) error {
	roomID, ok := c.currentRoom()
	if !ok {
		return apperr.InvalidState("not currently in a room")
	}

	u, err := h.registry.GetForUse(ctx, roomID)
	if err != nil {
		return err
	}
	defer u.Release()

	sink := &fanoutSink{hub: h, usage: u}
	wasEmpty := len(u.Room().Users) == 0
	if err := room.LeaveRoom(u, sink, c.userID); err != nil {
		return err
	}
	c.clearRoom()

	if !wasEmpty && len(u.Room().Users) == 0 {
		if err := h.db.MarkRoomEnded(ctx, roomID, time.Now().UnixNano()); err != nil {
			logging.Error(ctx, "failed to mark room ended", zap.Uint64("roomID", uint64(roomID)), zap.Error(err))
		}
	}
	return nil
}

type changeSettingsRequest struct {
	Name              string        `json:"name"`
	QueueMode         room.QueueMode `json:"queue_mode"`
	AutoStartEnabled  bool          `json:"auto_start_enabled"`
	AutoStartDuration time.Duration `json:"auto_start_duration"`
}

func (h *Hub) handleChangeSettings(ctx context.Context, c *Client, data json.RawMessage) error {
	roomID, ok := c.currentRoom()
	if !ok {
		return apperr.InvalidState("not currently in a room")
	}

	var req changeSettingsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return apperr.InvalidState("malformed change_settings request: %v", err)
	}

	u, err := h.registry.GetForUse(ctx, roomID)
	if err != nil {
		return err
	}
	defer u.Release()

	r := u.Room()
	if !r.IsHost(c.userID) {
		return apperr.NotAuthorized("user %d is not host of room %d", c.userID, roomID)
	}
	if r.State != room.StateOpen {
		return apperr.InvalidState("settings may only change while the room is open")
	}

	r.Settings.Name = req.Name
	r.Settings.QueueMode = req.QueueMode
	r.Settings.AutoStartEnabled = req.AutoStartEnabled
	r.Settings.AutoStartDuration = req.AutoStartDuration

	sink := &fanoutSink{hub: h, usage: u}
	sink.Emit(room.Event{Kind: room.EventRoomUpdated, RoomID: roomID, Payload: r})
	return nil
}

type changeStateRequest struct {
	State room.UserState `json:"state"`
}

func (h *Hub) handleChangeState(ctx context.Context, c *Client, data json.RawMessage) error {
	roomID, ok := c.currentRoom()
	if !ok {
		return apperr.InvalidState("not currently in a room")
	}

	var req changeStateRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return apperr.InvalidState("malformed change_state request: %v", err)
	}

	u, err := h.registry.GetForUse(ctx, roomID)
	if err != nil {
		return err
	}
	defer u.Release()

	sink := &fanoutSink{hub: h, usage: u}

	switch req.State {
	case room.UserLoaded:
		if err := room.MarkLoaded(u, sink, c.userID); err != nil {
			return err
		}
		h.countdowns.AdvanceIfReady(u, sink)
		return nil
	case room.UserFinishedPlay:
		if err := room.ChangeState(u, sink, c.userID, req.State); err != nil {
			return err
		}
		if u.Room().MatchComplete() {
			room.AggregateResults(u, sink)
			room.FinishCurrentItem(ctx, u, h.db, sink)
		}
		return nil
	default:
		if err := room.ChangeState(u, sink, c.userID, req.State); err != nil {
			return err
		}
		h.countdowns.MaybeStartAutoStartCountdown(u, sink)
		return nil
	}
}

func (h *Hub) handleStartMatch(ctx context.Context, c *Client) error {
	roomID, ok := c.currentRoom()
	if !ok {
		return apperr.InvalidState("not currently in a room")
	}

	u, err := h.registry.GetForUse(ctx, roomID)
	if err != nil {
		return err
	}
	defer u.Release()

	sink := &fanoutSink{hub: h, usage: u}
	return room.StartMatch(u, sink, c.userID)
}

type addPlaylistItemRequest struct {
	BeatmapID       ports.BeatmapID `json:"beatmap_id"`
	BeatmapChecksum string          `json:"beatmap_checksum"`
	RulesetID       int             `json:"ruleset_id"`
	RequiredMods    []string        `json:"required_mods"`
	AllowedMods     []string        `json:"allowed_mods"`
}

func (h *Hub) handleAddPlaylistItem(ctx context.Context, c *Client, data json.RawMessage) error {
	roomID, ok := c.currentRoom()
	if !ok {
		return apperr.InvalidState("not currently in a room")
	}

	var req addPlaylistItemRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return apperr.InvalidState("malformed add_playlist_item request: %v", err)
	}

	u, err := h.registry.GetForUse(ctx, roomID)
	if err != nil {
		return err
	}
	defer u.Release()

	item := &room.PlaylistItem{
		BeatmapID:       req.BeatmapID,
		BeatmapChecksum: req.BeatmapChecksum,
		RulesetID:       req.RulesetID,
		RequiredMods:    req.RequiredMods,
		AllowedMods:     req.AllowedMods,
	}

	sink := &fanoutSink{hub: h, usage: u}
	_, err = room.AddItem(ctx, u, h.db, sink, c.userID, item)
	return err
}

type removePlaylistItemRequest struct {
	ItemID ports.PlaylistItemID `json:"item_id"`
}

func (h *Hub) handleRemovePlaylistItem(ctx context.Context, c *Client, data json.RawMessage) error {
	roomID, ok := c.currentRoom()
	if !ok {
		return apperr.InvalidState("not currently in a room")
	}

	var req removePlaylistItemRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return apperr.InvalidState("malformed remove_playlist_item request: %v", err)
	}

	u, err := h.registry.GetForUse(ctx, roomID)
	if err != nil {
		return err
	}
	defer u.Release()

	sink := &fanoutSink{hub: h, usage: u}
	return room.RemoveItem(ctx, u, h.db, sink, c.userID, req.ItemID)
}

// handleSendMatchRequest relays an opaque match-type-specific request
// (e.g. a team change) to every other user in the room; it is advisory
// only and does not itself mutate room state.
func (h *Hub) handleSendMatchRequest(ctx context.Context, c *Client, data json.RawMessage) error {
	roomID, ok := c.currentRoom()
	if !ok {
		return apperr.InvalidState("not currently in a room")
	}

	u, err := h.registry.GetForUse(ctx, roomID)
	if err != nil {
		return err
	}
	var recipients []ports.UserID
	for _, usr := range u.Room().Users {
		if usr.UserID != c.userID {
			recipients = append(recipients, usr.UserID)
		}
	}
	u.Release()

	h.broadcastRoom(roomID, "match_request", recipients, map[string]any{
		"from": c.userID,
		"data": json.RawMessage(data),
	})
	return nil
}

// handleInvokeMatchRequest is host-only. It applies no match request and
// mutates nothing: it re-emits the current room as a room_updated
// notification so clients refresh role assignments.
func (h *Hub) handleInvokeMatchRequest(ctx context.Context, c *Client, data json.RawMessage) error {
	roomID, ok := c.currentRoom()
	if !ok {
		return apperr.InvalidState("not currently in a room")
	}

	u, err := h.registry.GetForUse(ctx, roomID)
	if err != nil {
		return err
	}
	defer u.Release()

	r := u.Room()
	if !r.IsHost(c.userID) {
		return apperr.NotAuthorized("user %d is not host of room %d", c.userID, roomID)
	}

	sink := &fanoutSink{hub: h, usage: u}
	sink.Emit(room.Event{Kind: room.EventRoomUpdated, RoomID: roomID, Payload: r})
	return nil
}

type beginPlaySessionRequest struct {
	Token ports.ScoreToken `json:"token"`
	Score ports.Score      `json:"score"`
}

func (h *Hub) handleBeginPlaySession(c *Client, data json.RawMessage) error {
	var req beginPlaySessionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return apperr.InvalidState("malformed begin_play_session request: %v", err)
	}
	score := req.Score
	h.spectators.BeginPlaySession(c.userID, req.Token, &score)
	return nil
}

type sendFrameDataRequest struct {
	Data []byte `json:"data"`
}

func (h *Hub) handleSendFrameData(c *Client, data json.RawMessage) error {
	var req sendFrameDataRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return apperr.InvalidState("malformed send_frame_data request: %v", err)
	}
	h.spectators.SendFrameData(c.userID, spectator.Frame{Data: req.Data})
	return nil
}

type endPlaySessionRequest struct {
	Quit bool `json:"quit"`
}

func (h *Hub) handleEndPlaySession(c *Client, data json.RawMessage) error {
	var req endPlaySessionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return apperr.InvalidState("malformed end_play_session request: %v", err)
	}
	reason := spectator.EndCompleted
	if req.Quit {
		reason = spectator.EndQuit
	}
	h.spectators.EndPlaySession(c.userID, reason)
	return nil
}

func (c *Client) currentRoom() (ports.RoomID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID, c.joined
}
