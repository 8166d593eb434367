// Package blobstore implements ports.ScoreStorage over an embedded
// Badger key-value store, keyed by OnlineID and playlist item id.
package blobstore

import (
	"context"
	"encoding/binary"
	"encoding/json"

	"github.com/dgraph-io/badger/v4"

	"github.com/harmonicarena/roomsrv/internal/apperr"
	"github.com/harmonicarena/roomsrv/internal/ports"
)

// Store implements ports.ScoreStorage.
type Store struct {
	db *badger.DB
}

// Open opens (creating if absent) a Badger database rooted at dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping satisfies health.StoragePinger by checking the underlying Badger
// instance hasn't been closed.
func (s *Store) Ping(context.Context) error {
	return s.db.View(func(txn *badger.Txn) error { return nil })
}

// Write persists score under a key derived from OnlineID and the
// playlist item it was played on, so replays from distinct items never
// collide under the same user.
func (s *Store) Write(_ context.Context, score *ports.Score) error {
	payload, err := json.Marshal(score)
	if err != nil {
		return apperr.StorageUnavailable(err, "encoding score")
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(scoreKey(score.OnlineID, score.PlaylistItemID), payload)
	})
	if err != nil {
		return apperr.StorageUnavailable(err, "writing score for user %d", score.OnlineID)
	}
	return nil
}

func scoreKey(onlineID ports.UserID, itemID ports.PlaylistItemID) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[:8], uint64(onlineID))
	binary.BigEndian.PutUint64(key[8:], uint64(itemID))
	return key
}
