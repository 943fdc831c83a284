package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vocdoni/confidential-polls/types"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"
)

// Batch groups writes over several kinds of artifacts into a single
// database transaction, so either all of them are stored or none is. The
// first failing write is remembered and returned by Commit.
type Batch struct {
	tx  db.WriteTx
	err error
}

// NewBatch starts a new batch. It must be finished with Commit or Discard.
func (s *Storage) NewBatch() *Batch {
	return &Batch{tx: s.db.WriteTx()}
}

func (b *Batch) set(prefix, key []byte, artifact any) {
	if b.err != nil {
		return
	}
	data, err := encodeArtifact(artifact)
	if err != nil {
		b.err = fmt.Errorf("encode artifact: %w", err)
		return
	}
	if err := prefixeddb.NewPrefixedWriteTx(b.tx, prefix).Set(key, data); err != nil {
		b.err = err
	}
}

func (b *Batch) delete(prefix, key []byte) {
	if b.err != nil {
		return
	}
	if err := prefixeddb.NewPrefixedWriteTx(b.tx, prefix).Delete(key); err != nil {
		b.err = err
	}
}

// SetPoll stores the poll.
func (b *Batch) SetPoll(p *types.Poll) {
	b.set(pollPrefix, p.ID, p)
}

// DeletePoll removes a poll. Polls are never deleted once they are live, it
// only undoes a creation whose tally initialization could not be queued.
func (b *Batch) DeletePoll(pollID []byte) {
	b.delete(pollPrefix, pollID)
}

// SetReceipt stores the vote receipt.
func (b *Batch) SetReceipt(r *types.VoteReceipt) {
	b.set(receiptPrefix, receiptKey(r.PollID, r.Voter), r)
}

// DeleteReceipt removes the receipt of voter on the poll.
func (b *Batch) DeleteReceipt(pollID []byte, voter common.Address) {
	b.delete(receiptPrefix, receiptKey(pollID, voter))
}

// SetPending stores the pending computation record.
func (b *Batch) SetPending(pc *PendingComputation) {
	b.set(pendingPrefix, []byte(pc.ID), pc)
}

// DeletePending removes the pending computation record.
func (b *Batch) DeletePending(id string) {
	b.delete(pendingPrefix, []byte(id))
}

// MarkApplied leaves the applied marker of a computation.
func (b *Batch) MarkApplied(a *AppliedComputation) {
	b.set(appliedPrefix, []byte(a.ID), a)
}

// Commit writes every operation of the batch. If any of them failed, the
// batch is discarded and the error returned.
func (b *Batch) Commit() error {
	if b.err != nil {
		b.tx.Discard()
		return b.err
	}
	return b.tx.Commit()
}

// Discard drops the batch.
func (b *Batch) Discard() {
	b.tx.Discard()
}
