package room

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/harmonicarena/roomsrv/internal/apperr"
	"github.com/harmonicarena/roomsrv/internal/ports"
)

var nextItemSeq uint64

func newItemID() ports.PlaylistItemID {
	return ports.PlaylistItemID(atomic.AddUint64(&nextItemSeq, 1))
}

// AddItem validates the beatmap checksum against the database port and,
// on success, appends the item under queue-mode policy. Must be called
// with the caller's Usage held; db is consulted while the Usage is held,
// matching the design's "DB I/O ordering is unspecified relative to
// event emission" note — the mutation and its event happen together.
func AddItem(ctx context.Context, u *Usage, db ports.DatabaseAccess, sink eventSink, userID ports.UserID, it *PlaylistItem) (*PlaylistItem, error) {
	r := u.Room()

	if r.Settings.QueueMode == QueueHostOnly && !r.IsHost(userID) {
		return nil, apperr.NotAuthorized("only the host may add items in host-only queue mode")
	}
	if it.RulesetID < 0 || it.RulesetID > MaxLegacyRulesetID {
		return nil, apperr.InvalidState("ruleset id %d out of range", it.RulesetID)
	}

	checksum, err := db.GetBeatmapChecksum(ctx, it.BeatmapID)
	if err != nil {
		return nil, apperr.DatabaseUnavailable(err, "looking up beatmap checksum for %d", it.BeatmapID)
	}
	if checksum == nil || *checksum != it.BeatmapChecksum {
		return nil, apperr.InvalidState("beatmap checksum mismatch for beatmap %d", it.BeatmapID)
	}

	it.ID = newItemID()
	it.OwnerUserID = userID
	r.Playlist = append(r.Playlist, it)
	if r.CurrentItem() == nil {
		r.Settings.PlaylistItemID = it.ID
	}

	if err := db.AddPlaylistItem(ctx, toRecord(r.ID, it)); err != nil {
		// best-effort mirror; swallow per the read/write asymmetry in the
		// error-handling design (surfaced only for reads).
	}

	r.emit(sink, EventPlaylistItemAdded, nil, it)
	return it, nil
}

// RemoveItem enforces ownership/host authority and refuses to remove the
// current or an already-expired item.
func RemoveItem(ctx context.Context, u *Usage, db ports.DatabaseAccess, sink eventSink, userID ports.UserID, itemID ports.PlaylistItemID) error {
	r := u.Room()
	it := r.itemByID(itemID)
	if it == nil {
		return apperr.NotFound("playlist item %d not in room %d", itemID, r.ID)
	}
	if it.Expired {
		return apperr.InvalidState("playlist item %d already expired", itemID)
	}
	if r.Settings.PlaylistItemID == itemID {
		return apperr.InvalidState("playlist item %d is the current item", itemID)
	}
	if it.OwnerUserID != userID && !r.IsHost(userID) {
		return apperr.NotAuthorized("user %d may not remove item %d owned by %d", userID, itemID, it.OwnerUserID)
	}

	for i, p := range r.Playlist {
		if p.ID == itemID {
			r.Playlist = append(r.Playlist[:i], r.Playlist[i+1:]...)
			break
		}
	}
	if err := db.RemovePlaylistItem(ctx, r.ID, itemID); err != nil {
		_ = err // best-effort mirror, swallowed
	}
	r.emit(sink, EventPlaylistItemRemoved, nil, itemID)
	return nil
}

// EditItem applies the same authority rules as RemoveItem and forbids
// editing an expired or the current item.
func EditItem(ctx context.Context, u *Usage, db ports.DatabaseAccess, sink eventSink, userID ports.UserID, patched *PlaylistItem) error {
	r := u.Room()
	existing := r.itemByID(patched.ID)
	if existing == nil {
		return apperr.NotFound("playlist item %d not in room %d", patched.ID, r.ID)
	}
	if existing.Expired {
		return apperr.InvalidState("playlist item %d already expired", patched.ID)
	}
	if r.Settings.PlaylistItemID == patched.ID {
		return apperr.InvalidState("playlist item %d is the current item", patched.ID)
	}
	if existing.OwnerUserID != userID && !r.IsHost(userID) {
		return apperr.NotAuthorized("user %d may not edit item %d owned by %d", userID, patched.ID, existing.OwnerUserID)
	}
	if patched.RulesetID < 0 || patched.RulesetID > MaxLegacyRulesetID {
		return apperr.InvalidState("ruleset id %d out of range", patched.RulesetID)
	}

	checksum, err := db.GetBeatmapChecksum(ctx, patched.BeatmapID)
	if err != nil {
		return apperr.DatabaseUnavailable(err, "looking up beatmap checksum for %d", patched.BeatmapID)
	}
	if checksum == nil || *checksum != patched.BeatmapChecksum {
		return apperr.InvalidState("beatmap checksum mismatch for beatmap %d", patched.BeatmapID)
	}

	existing.BeatmapID = patched.BeatmapID
	existing.BeatmapChecksum = patched.BeatmapChecksum
	existing.RulesetID = patched.RulesetID
	existing.RequiredMods = patched.RequiredMods
	existing.AllowedMods = patched.AllowedMods

	if err := db.UpdatePlaylistItem(ctx, toRecord(r.ID, existing)); err != nil {
		_ = err
	}
	r.emit(sink, EventPlaylistItemChanged, nil, existing)
	return nil
}

// FinishCurrentItem expires the current item and advances
// Settings.PlaylistItemID to the next item per queue-mode ordering.
func FinishCurrentItem(ctx context.Context, u *Usage, db ports.DatabaseAccess, sink eventSink) {
	r := u.Room()
	cur := r.CurrentItem()
	if cur == nil {
		return
	}
	cur.Expired = true
	cur.PlayedAt = time.Now()
	if err := db.UpdatePlaylistItem(ctx, toRecord(r.ID, cur)); err != nil {
		_ = err
	}

	next := nextItem(r, cur)
	if next != nil {
		r.Settings.PlaylistItemID = next.ID
	}
	r.emit(sink, EventPlaylistItemChanged, nil, cur)
}

// nextItem selects the following unexpired item per queue-mode ordering:
// HostOnly always picks the next item authored by the host; AllPlayers
// follows enqueue order; AllPlayersRoundRobin rotates owner.
func nextItem(r *Room, cur *PlaylistItem) *PlaylistItem {
	switch r.Settings.QueueMode {
	case QueueHostOnly:
		for _, it := range r.Playlist {
			if !it.Expired && it.OwnerUserID == r.HostUserID {
				return it
			}
		}
		return nil
	case QueueAllPlayersRoundRobin:
		return nextRoundRobin(r, cur)
	default: // QueueAllPlayers
		for _, it := range r.Playlist {
			if !it.Expired {
				return it
			}
		}
		return nil
	}
}

func nextRoundRobin(r *Room, cur *PlaylistItem) *PlaylistItem {
	var unexpired []*PlaylistItem
	for _, it := range r.Playlist {
		if !it.Expired {
			unexpired = append(unexpired, it)
		}
	}
	if len(unexpired) == 0 {
		return nil
	}
	// Prefer the earliest-enqueued item from an owner other than cur's
	// owner; fall back to the earliest overall if every remaining item
	// shares the same owner.
	for _, it := range unexpired {
		if it.OwnerUserID != cur.OwnerUserID {
			return it
		}
	}
	return unexpired[0]
}

func toRecord(roomID ports.RoomID, it *PlaylistItem) *ports.PlaylistItemRecord {
	return &ports.PlaylistItemRecord{
		ID:               it.ID,
		RoomID:           roomID,
		OwnerUserID:      it.OwnerUserID,
		BeatmapID:        it.BeatmapID,
		BeatmapChecksum:  it.BeatmapChecksum,
		RulesetID:        it.RulesetID,
		Expired:          it.Expired,
		PlayedAtUnixNano: it.PlayedAt.UnixNano(),
	}
}
