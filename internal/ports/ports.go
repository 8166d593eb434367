// Package ports declares the external collaborators of the room
// coordinator: the relational database and the blob store. Per spec
// section 1 these are out of scope as implementations — the room engine,
// hub, and upload pipeline depend only on these interfaces.
package ports

import "context"

// ScoreToken is a server-issued handle for a play session, later redeemed
// against the database for online identity.
type ScoreToken uint64

// BeatmapID identifies a beatmap (the specific chart within a beatmap set).
type BeatmapID uint64

// RoomID identifies a multiplayer room.
type RoomID uint64

// UserID identifies a user.
type UserID uint64

// PlaylistItemID is per-room monotonic.
type PlaylistItemID uint64

// ResolvedScore is the database's answer to "what online identity does
// this score token correspond to".
type ResolvedScore struct {
	OnlineID UserID
	Passed   bool
}

// APIUser is the subset of user identity fields carried on a score,
// filled in locally by the client and preserved (not overwritten) by the
// upload pipeline's merge step.
type APIUser struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
}

// ScoreInfo is the mutable part of a score merged with DB-resolved
// identity before upload.
type ScoreInfo struct {
	OnlineID UserID  `json:"online_id"`
	Passed   bool    `json:"passed"`
	User     APIUser `json:"user"`
}

// Score is the full score payload captured client-side and persisted by
// the storage port on upload.
type Score struct {
	ScoreInfo
	BeatmapID      BeatmapID      `json:"beatmap_id"`
	RulesetID      int            `json:"ruleset_id"`
	TotalScore     int64          `json:"total_score"`
	MaxCombo       int            `json:"max_combo"`
	Replay         []byte         `json:"replay,omitempty"`
	PlaylistItemID PlaylistItemID `json:"playlist_item_id"`
}

// PlaylistItemRecord is the DB-mirrored form of a room's playlist item,
// written on every mutation per spec section 6.
type PlaylistItemRecord struct {
	ID               PlaylistItemID
	RoomID           RoomID
	OwnerUserID      UserID
	BeatmapID        BeatmapID
	BeatmapChecksum  string
	RulesetID        int
	Expired          bool
	PlayedAtUnixNano int64
}

// RoomRecord is the DB-backed record created on first JoinRoom and marked
// ended when the last user leaves.
type RoomRecord struct {
	ID           RoomID
	HostUserID   UserID
	Name         string
	StartedAtUnixNano int64
	EndedAtUnixNano   int64 // zero means still active
}

// BeatmapSetUpdate is the result of polling for beatmap metadata changes.
type BeatmapSetUpdate struct {
	LastProcessedQueueID uint32
	BeatmapSetIDs        []uint64
}

// DatabaseAccess is the relational database port (C1). Implementations
// must map driver failures to apperr.ErrDatabaseUnavailable; callers
// retry at most once per call site with jitter per spec section 7.
type DatabaseAccess interface {
	GetScoreFromToken(ctx context.Context, token ScoreToken) (*ResolvedScore, error)
	GetBeatmapChecksum(ctx context.Context, beatmapID BeatmapID) (*string, error)
	GetRoom(ctx context.Context, roomID RoomID) (*RoomRecord, error)
	CreateRoom(ctx context.Context, rec *RoomRecord) error
	MarkRoomEnded(ctx context.Context, roomID RoomID, endedAtUnixNano int64) error
	AddPlaylistItem(ctx context.Context, item *PlaylistItemRecord) error
	RemovePlaylistItem(ctx context.Context, roomID RoomID, itemID PlaylistItemID) error
	UpdatePlaylistItem(ctx context.Context, item *PlaylistItemRecord) error
	GetAllPlaylistItems(ctx context.Context, roomID RoomID) ([]PlaylistItemRecord, error)
	GetUpdatedBeatmapSets(ctx context.Context, since *uint32) (*BeatmapSetUpdate, error)
}

// ScoreStorage is the blob storage port (C2). Any error is terminal for
// the item being written; the caller never retries.
type ScoreStorage interface {
	Write(ctx context.Context, score *Score) error
}
