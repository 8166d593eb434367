package room

import "github.com/harmonicarena/roomsrv/internal/ports"

// EventKind tags the events a room emits while a Usage is held. The hub
// translates these into wire fan-outs; the room package itself has no
// knowledge of the transport.
type EventKind string

const (
	EventPlaylistItemAdded   EventKind = "playlist_item_added"
	EventPlaylistItemRemoved EventKind = "playlist_item_removed"
	EventPlaylistItemChanged EventKind = "playlist_item_changed"
	EventCountdownStarted    EventKind = "countdown_started"
	EventCountdownStopped    EventKind = "countdown_stopped"
	EventUserStateChanged    EventKind = "user_state_changed"
	EventLoadRequested       EventKind = "load_requested"
	EventRoomUpdated         EventKind = "room_updated"
	EventBeatmapSetsUpdated  EventKind = "beatmap_sets_updated"
)

// Event is a single notification emitted during a mutation. Event
// deliberately carries no transport concerns — whatever sits above the
// registry (the hub) supplies the eventSink that delivers it.
type Event struct {
	Kind      EventKind
	RoomID    ports.RoomID
	Recipient []ports.UserID // nil means "room group" (all current users)
	Payload   any
}

// eventSink receives each event as soon as the mutation emits it, while
// the caller's Usage is still held; nothing is queued or batched.
type eventSink interface {
	Emit(Event)
}

func (r *Room) emit(sink eventSink, kind EventKind, recipients []ports.UserID, payload any) {
	if sink == nil {
		return
	}
	sink.Emit(Event{Kind: kind, RoomID: r.ID, Recipient: recipients, Payload: payload})
}
