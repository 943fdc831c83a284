// storage package contains all the artifacts that are stored in the database,
// but also is an abstraction of a queue for the processing of them by different
// services. The storage package includes a prefixed key-value store that allows
// to store the different types of artifacts in the database. The following
// prefixes are used:
//   - 'p/' for polls
//   - 'r/' for vote receipts (keyed by poll id + voter)
//   - 'pc/' for computations submitted by the poll program and not yet applied
//   - 'ca/' for computations whose callback has been applied
//   - 'cq/' for the computation queue (queued, keyed by sequence number)
//   - 'cs/' for every computation identifier ever accepted
//   - 'cb/' for computation callbacks
//   - 'k/' for the cluster key
//
// Note: Not all the prefixes support queue operations, only the ones that are
// used in the processing of the artifacts.
package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/vocdoni/confidential-polls/log"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"
)

var (
	// ErrNotFound is returned when the requested artifact does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNoMoreElements is returned when a queue has nothing left to hand out.
	ErrNoMoreElements = errors.New("no more elements")
	// ErrExists is returned when an artifact that must be unique is stored
	// twice.
	ErrExists = errors.New("already exists")
)

var (
	// Prefixes for the keys in the database.
	pollPrefix             = []byte("p/")
	receiptPrefix          = []byte("r/")
	pendingPrefix          = []byte("pc/")
	appliedPrefix          = []byte("ca/")
	queuePrefix            = []byte("cq/")
	queueReservationPrefix = []byte("cqr/")
	seenPrefix             = []byte("cs/")
	callbackPrefix         = []byte("cb/")
	keyPrefix              = []byte("k/")
	metaPrefix             = []byte("m/")
)

// Storage wraps the key-value database with typed accessors for every
// artifact of the node.
type Storage struct {
	db db.Database
	// globalLock serializes queue operations (reservations, sequence
	// numbers) and read-modify-write sequences on unique artifacts.
	globalLock sync.Mutex
}

// New creates a new Storage instance.
func New(db db.Database) *Storage {
	return &Storage{db: db}
}

// Close closes the storage.
func (s *Storage) Close() {
	if err := s.db.Close(); err != nil {
		log.Errorw(err, "error closing storage")
	}
}

// getArtifact decodes the artifact stored under prefix+key into out. It
// returns ErrNotFound if the key does not exist.
func (s *Storage) getArtifact(prefix, key []byte, out any) error {
	rd := prefixeddb.NewPrefixedReader(s.db, prefix)
	data, err := rd.Get(key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("get artifact: %w", err)
	}
	if err := decodeArtifact(data, out); err != nil {
		return fmt.Errorf("decode artifact: %w", err)
	}
	return nil
}

// hasArtifact reports whether prefix+key exists.
func (s *Storage) hasArtifact(prefix, key []byte) (bool, error) {
	rd := prefixeddb.NewPrefixedReader(s.db, prefix)
	if _, err := rd.Get(key); err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// setArtifact encodes and stores the artifact under prefix+key.
func (s *Storage) setArtifact(prefix, key []byte, artifact any) error {
	data, err := encodeArtifact(artifact)
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	wTx := prefixeddb.NewPrefixedWriteTx(s.db.WriteTx(), prefix)
	if err := wTx.Set(key, data); err != nil {
		wTx.Discard()
		return err
	}
	return wTx.Commit()
}

// deleteArtifact removes prefix+key. It returns ErrNotFound if the key does
// not exist.
func (s *Storage) deleteArtifact(prefix, key []byte) error {
	found, err := s.hasArtifact(prefix, key)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	wTx := prefixeddb.NewPrefixedWriteTx(s.db.WriteTx(), prefix)
	if err := wTx.Delete(key); err != nil {
		wTx.Discard()
		return err
	}
	return wTx.Commit()
}

// listArtifacts returns the keys stored under prefix, with the prefix
// stripped.
func (s *Storage) listArtifacts(prefix []byte) ([][]byte, error) {
	rd := prefixeddb.NewPrefixedReader(s.db, prefix)
	var keys [][]byte
	if err := rd.Iterate(nil, func(k, _ []byte) bool {
		keys = append(keys, copyBytes(k))
		return true
	}); err != nil {
		return nil, err
	}
	return keys, nil
}

// setReservation marks key as reserved under the reservation prefix.
func (s *Storage) setReservation(prefix, key []byte) error {
	wTx := prefixeddb.NewPrefixedWriteTx(s.db.WriteTx(), prefix)
	if err := wTx.Set(key, []byte{1}); err != nil {
		wTx.Discard()
		return err
	}
	return wTx.Commit()
}

// isReserved reports whether key is reserved under the reservation prefix.
func (s *Storage) isReserved(prefix, key []byte) bool {
	found, err := s.hasArtifact(prefix, key)
	return err == nil && found
}

// clearReservations removes every reservation under prefix. Reservations do
// not survive a restart since nothing is processing them anymore.
func (s *Storage) clearReservations(prefix []byte) (int, error) {
	keys, err := s.listArtifacts(prefix)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	wTx := prefixeddb.NewPrefixedWriteTx(s.db.WriteTx(), prefix)
	for _, k := range keys {
		if err := wTx.Delete(k); err != nil {
			wTx.Discard()
			return 0, err
		}
	}
	return len(keys), wTx.Commit()
}
