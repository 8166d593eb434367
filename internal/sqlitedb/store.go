// Package sqlitedb implements ports.DatabaseAccess over a pure-Go SQLite
// driver, circuit-broken the same way the rest of this service wraps
// external collaborators.
package sqlitedb

import (
	"context"
	"database/sql"
	"math/rand"
	"time"

	"github.com/sony/gobreaker"
	_ "modernc.org/sqlite"

	"github.com/harmonicarena/roomsrv/internal/apperr"
	"github.com/harmonicarena/roomsrv/internal/ports"
)

// Store implements ports.DatabaseAccess.
type Store struct {
	db *sql.DB
	cb *gobreaker.CircuitBreaker
}

// Open opens (and migrates) the SQLite database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid pool contention on a single file

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	st := gobreaker.Settings{
		Name:        "sqlitedb",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
	}
	return &Store{db: db, cb: gobreaker.NewCircuitBreaker(st)}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping satisfies health.DatabasePinger.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS rooms (
	id INTEGER PRIMARY KEY,
	host_user_id INTEGER NOT NULL,
	name TEXT NOT NULL,
	started_at_ns INTEGER NOT NULL,
	ended_at_ns INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS playlist_items (
	id INTEGER PRIMARY KEY,
	room_id INTEGER NOT NULL,
	owner_user_id INTEGER NOT NULL,
	beatmap_id INTEGER NOT NULL,
	beatmap_checksum TEXT NOT NULL,
	ruleset_id INTEGER NOT NULL,
	expired INTEGER NOT NULL DEFAULT 0,
	played_at_ns INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS beatmaps (
	beatmap_id INTEGER PRIMARY KEY,
	checksum TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS score_tokens (
	token INTEGER PRIMARY KEY,
	online_id INTEGER NOT NULL,
	passed INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS beatmapset_queue (
	queue_id INTEGER PRIMARY KEY AUTOINCREMENT,
	beatmapset_id INTEGER NOT NULL
);
`)
	return err
}

// withRetry runs fn through the circuit breaker with a single jittered
// retry on failure, per the DatabaseUnavailable propagation rule.
func withRetry[T any](ctx context.Context, cb *gobreaker.CircuitBreaker, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	res, err := cb.Execute(func() (any, error) { return fn(ctx) })
	if err == nil {
		return res.(T), nil
	}
	if err == gobreaker.ErrOpenState {
		return zero, apperr.DatabaseUnavailable(err, "circuit open")
	}

	time.Sleep(time.Duration(25+rand.Intn(75)) * time.Millisecond)
	res, err = cb.Execute(func() (any, error) { return fn(ctx) })
	if err != nil {
		return zero, apperr.DatabaseUnavailable(err, "query failed after retry")
	}
	return res.(T), nil
}

func (s *Store) GetScoreFromToken(ctx context.Context, token ports.ScoreToken) (*ports.ResolvedScore, error) {
	return withRetry(ctx, s.cb, func(ctx context.Context) (*ports.ResolvedScore, error) {
		var r ports.ResolvedScore
		err := s.db.QueryRowContext(ctx, `SELECT online_id, passed FROM score_tokens WHERE token = ?`, token).
			Scan(&r.OnlineID, &r.Passed)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &r, nil
	})
}

func (s *Store) GetBeatmapChecksum(ctx context.Context, beatmapID ports.BeatmapID) (*string, error) {
	return withRetry(ctx, s.cb, func(ctx context.Context) (*string, error) {
		var checksum string
		err := s.db.QueryRowContext(ctx, `SELECT checksum FROM beatmaps WHERE beatmap_id = ?`, beatmapID).Scan(&checksum)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &checksum, nil
	})
}

func (s *Store) GetRoom(ctx context.Context, roomID ports.RoomID) (*ports.RoomRecord, error) {
	return withRetry(ctx, s.cb, func(ctx context.Context) (*ports.RoomRecord, error) {
		var r ports.RoomRecord
		err := s.db.QueryRowContext(ctx,
			`SELECT id, host_user_id, name, started_at_ns, ended_at_ns FROM rooms WHERE id = ?`, roomID,
		).Scan(&r.ID, &r.HostUserID, &r.Name, &r.StartedAtUnixNano, &r.EndedAtUnixNano)
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("room %d not found", roomID)
		}
		if err != nil {
			return nil, err
		}
		return &r, nil
	})
}

func (s *Store) CreateRoom(ctx context.Context, rec *ports.RoomRecord) error {
	_, err := withRetry(ctx, s.cb, func(ctx context.Context) (struct{}, error) {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO rooms (id, host_user_id, name, started_at_ns) VALUES (?, ?, ?, ?)`,
			rec.ID, rec.HostUserID, rec.Name, rec.StartedAtUnixNano)
		return struct{}{}, err
	})
	return err
}

func (s *Store) MarkRoomEnded(ctx context.Context, roomID ports.RoomID, endedAtUnixNano int64) error {
	_, err := withRetry(ctx, s.cb, func(ctx context.Context) (struct{}, error) {
		_, err := s.db.ExecContext(ctx, `UPDATE rooms SET ended_at_ns = ? WHERE id = ?`, endedAtUnixNano, roomID)
		return struct{}{}, err
	})
	return err
}

func (s *Store) AddPlaylistItem(ctx context.Context, item *ports.PlaylistItemRecord) error {
	_, err := withRetry(ctx, s.cb, func(ctx context.Context) (struct{}, error) {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO playlist_items (id, room_id, owner_user_id, beatmap_id, beatmap_checksum, ruleset_id, expired, played_at_ns)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID, item.RoomID, item.OwnerUserID, item.BeatmapID, item.BeatmapChecksum, item.RulesetID, item.Expired, item.PlayedAtUnixNano)
		return struct{}{}, err
	})
	return err
}

func (s *Store) RemovePlaylistItem(ctx context.Context, roomID ports.RoomID, itemID ports.PlaylistItemID) error {
	_, err := withRetry(ctx, s.cb, func(ctx context.Context) (struct{}, error) {
		_, err := s.db.ExecContext(ctx, `DELETE FROM playlist_items WHERE room_id = ? AND id = ?`, roomID, itemID)
		return struct{}{}, err
	})
	return err
}

func (s *Store) UpdatePlaylistItem(ctx context.Context, item *ports.PlaylistItemRecord) error {
	_, err := withRetry(ctx, s.cb, func(ctx context.Context) (struct{}, error) {
		_, err := s.db.ExecContext(ctx,
			`UPDATE playlist_items SET beatmap_id=?, beatmap_checksum=?, ruleset_id=?, expired=?, played_at_ns=? WHERE id = ? AND room_id = ?`,
			item.BeatmapID, item.BeatmapChecksum, item.RulesetID, item.Expired, item.PlayedAtUnixNano, item.ID, item.RoomID)
		return struct{}{}, err
	})
	return err
}

func (s *Store) GetAllPlaylistItems(ctx context.Context, roomID ports.RoomID) ([]ports.PlaylistItemRecord, error) {
	return withRetry(ctx, s.cb, func(ctx context.Context) ([]ports.PlaylistItemRecord, error) {
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, room_id, owner_user_id, beatmap_id, beatmap_checksum, ruleset_id, expired, played_at_ns FROM playlist_items WHERE room_id = ?`,
			roomID)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []ports.PlaylistItemRecord
		for rows.Next() {
			var r ports.PlaylistItemRecord
			if err := rows.Scan(&r.ID, &r.RoomID, &r.OwnerUserID, &r.BeatmapID, &r.BeatmapChecksum, &r.RulesetID, &r.Expired, &r.PlayedAtUnixNano); err != nil {
				return nil, err
			}
			out = append(out, r)
		}
		return out, rows.Err()
	})
}

func (s *Store) GetUpdatedBeatmapSets(ctx context.Context, since *uint32) (*ports.BeatmapSetUpdate, error) {
	return withRetry(ctx, s.cb, func(ctx context.Context) (*ports.BeatmapSetUpdate, error) {
		var sinceID uint32
		if since != nil {
			sinceID = *since
		}
		rows, err := s.db.QueryContext(ctx,
			`SELECT queue_id, beatmapset_id FROM beatmapset_queue WHERE queue_id > ? ORDER BY queue_id`, sinceID)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		update := &ports.BeatmapSetUpdate{LastProcessedQueueID: sinceID}
		for rows.Next() {
			var qid uint32
			var setID uint64
			if err := rows.Scan(&qid, &setID); err != nil {
				return nil, err
			}
			update.LastProcessedQueueID = qid
			update.BeatmapSetIDs = append(update.BeatmapSetIDs, setID)
		}
		return update, rows.Err()
	})
}
