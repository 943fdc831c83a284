package storage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/vocdoni/confidential-polls/log"
	"github.com/vocdoni/confidential-polls/types"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"
)

var seqCounterKey = []byte("queueSeq")

// nextSeq returns the next queue sequence number. Must be called with the
// globalLock held.
func (s *Storage) nextSeq() (uint64, error) {
	rd := prefixeddb.NewPrefixedReader(s.db, metaPrefix)
	data, err := rd.Get(seqCounterKey)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return 1, nil
		}
		return 0, err
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("corrupted queue sequence counter")
	}
	return binary.BigEndian.Uint64(data) + 1, nil
}

// PushComputation appends a computation request to the queue. Requests are
// handed out in the order they were pushed. Identifiers are unique for the
// whole lifetime of the database: pushing an identifier that was ever
// accepted before returns ErrExists, even if it was already executed.
func (s *Storage) PushComputation(req *types.ComputationRequest) error {
	if req == nil || req.ID == "" {
		return fmt.Errorf("invalid computation request")
	}
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	seen, err := s.hasArtifact(seenPrefix, []byte(req.ID))
	if err != nil {
		return fmt.Errorf("check computation id: %w", err)
	}
	if seen {
		return ErrExists
	}
	seq, err := s.nextSeq()
	if err != nil {
		return fmt.Errorf("queue sequence: %w", err)
	}
	key := seqKey(seq)
	val, err := encodeArtifact(&queuedComputation{Seq: seq, Request: req})
	if err != nil {
		return fmt.Errorf("encode computation: %w", err)
	}

	tx := s.db.WriteTx()
	if err := prefixeddb.NewPrefixedWriteTx(tx, queuePrefix).Set(key, val); err != nil {
		tx.Discard()
		return err
	}
	if err := prefixeddb.NewPrefixedWriteTx(tx, seenPrefix).Set([]byte(req.ID), key); err != nil {
		tx.Discard()
		return err
	}
	if err := prefixeddb.NewPrefixedWriteTx(tx, metaPrefix).Set(seqCounterKey, key); err != nil {
		tx.Discard()
		return err
	}
	return tx.Commit()
}

// NextComputation returns the oldest non-reserved computation request for
// which skip returns false, creates a reservation, and returns it together
// with its queue key. If no request is available, returns ErrNoMoreElements.
// The key is used to mark the request as done after processing.
func (s *Storage) NextComputation(skip func(*types.ComputationRequest) bool) (*types.ComputationRequest, []byte, error) {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	pr := prefixeddb.NewPrefixedReader(s.db, queuePrefix)
	var chosenKey []byte
	var chosen *types.ComputationRequest
	if err := pr.Iterate(nil, func(k, v []byte) bool {
		if s.isReserved(queueReservationPrefix, k) {
			return true
		}
		var qc queuedComputation
		if err := decodeArtifact(v, &qc); err != nil {
			log.Warnw("failed to decode queued computation", "key", fmt.Sprintf("%x", k), "error", err.Error())
			return true
		}
		if skip != nil && skip(qc.Request) {
			return true
		}
		chosenKey = copyBytes(k)
		chosen = qc.Request
		return false
	}); err != nil {
		return nil, nil, fmt.Errorf("iterate computations: %w", err)
	}
	if chosen == nil {
		return nil, nil, ErrNoMoreElements
	}

	// set reservation
	if err := s.setReservation(queueReservationPrefix, chosenKey); err != nil {
		return nil, nil, ErrNoMoreElements
	}
	return chosen, chosenKey, nil
}

// ReleaseComputation removes the reservation of a queued request so it can
// be handed out again.
func (s *Storage) ReleaseComputation(key []byte) error {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	if err := s.deleteArtifact(queueReservationPrefix, key); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete reservation: %w", err)
	}
	return nil
}

// MarkComputationDone is called after the request has been executed. It
// removes the request from the queue and stores its callback, pending
// delivery, in a single transaction.
func (s *Storage) MarkComputationDone(key []byte, cb *types.ComputationCallback) error {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	val, err := encodeArtifact(&storedCallback{Callback: cb})
	if err != nil {
		return fmt.Errorf("encode callback: %w", err)
	}
	tx := s.db.WriteTx()
	if err := prefixeddb.NewPrefixedWriteTx(tx, queueReservationPrefix).Delete(key); err != nil {
		tx.Discard()
		return fmt.Errorf("delete reservation: %w", err)
	}
	if err := prefixeddb.NewPrefixedWriteTx(tx, queuePrefix).Delete(key); err != nil {
		tx.Discard()
		return fmt.Errorf("delete queued computation: %w", err)
	}
	if err := prefixeddb.NewPrefixedWriteTx(tx, callbackPrefix).Set([]byte(cb.ID), val); err != nil {
		tx.Discard()
		return fmt.Errorf("store callback: %w", err)
	}
	return tx.Commit()
}

// MarkCallbackDelivered records that the callback reached its slot handler.
func (s *Storage) MarkCallbackDelivered(id string) error {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	sc := &storedCallback{}
	if err := s.getArtifact(callbackPrefix, []byte(id), sc); err != nil {
		return err
	}
	sc.Delivered = true
	return s.setArtifact(callbackPrefix, []byte(id), sc)
}

// Callback returns the stored callback of a computation and whether it has
// been delivered. It returns ErrNotFound if the computation has not been
// executed.
func (s *Storage) Callback(id string) (*types.ComputationCallback, bool, error) {
	sc := &storedCallback{}
	if err := s.getArtifact(callbackPrefix, []byte(id), sc); err != nil {
		return nil, false, err
	}
	return sc.Callback, sc.Delivered, nil
}

// UndeliveredCallbacks returns the callbacks that were stored but never
// reached their slot handler.
func (s *Storage) UndeliveredCallbacks() ([]*types.ComputationCallback, error) {
	rd := prefixeddb.NewPrefixedReader(s.db, callbackPrefix)
	var res []*types.ComputationCallback
	if err := rd.Iterate(nil, func(k, v []byte) bool {
		var sc storedCallback
		if err := decodeArtifact(v, &sc); err != nil {
			log.Warnw("failed to decode callback", "id", string(k), "error", err.Error())
			return true
		}
		if !sc.Delivered {
			res = append(res, sc.Callback)
		}
		return true
	}); err != nil {
		return nil, fmt.Errorf("iterate callbacks: %w", err)
	}
	return res, nil
}

// ComputationSeen reports whether a request with this identifier was ever
// accepted into the queue.
func (s *Storage) ComputationSeen(id string) (bool, error) {
	return s.hasArtifact(seenPrefix, []byte(id))
}

// CountQueuedComputations returns the number of requests waiting in the
// queue, reserved or not.
func (s *Storage) CountQueuedComputations() int {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	rd := prefixeddb.NewPrefixedReader(s.db, queuePrefix)
	count := 0
	if err := rd.Iterate(nil, func(_, _ []byte) bool {
		count++
		return true
	}); err != nil {
		log.Warnw("failed to count queued computations", "error", err.Error())
	}
	return count
}

// ClearComputationReservations drops every queue reservation. It is called
// when the executor starts, since no reservation can be held by a worker at
// that point.
func (s *Storage) ClearComputationReservations() (int, error) {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	return s.clearReservations(queueReservationPrefix)
}
