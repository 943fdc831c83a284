package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vocdoni/confidential-polls/log"
	"github.com/vocdoni/confidential-polls/types"
	"go.vocdoni.io/dvote/db/prefixeddb"
)

func receiptKey(pollID []byte, voter common.Address) []byte {
	return joinKey(pollID, voter.Bytes())
}

// Receipt returns the vote receipt of voter on the poll, or ErrNotFound.
func (s *Storage) Receipt(pollID []byte, voter common.Address) (*types.VoteReceipt, error) {
	r := &types.VoteReceipt{}
	if err := s.getArtifact(receiptPrefix, receiptKey(pollID, voter), r); err != nil {
		return nil, err
	}
	return r, nil
}

// Receipts returns every vote receipt of the poll, ordered by voter address.
func (s *Storage) Receipts(pollID []byte) ([]*types.VoteReceipt, error) {
	rd := prefixeddb.NewPrefixedReader(s.db, receiptPrefix)
	var receipts []*types.VoteReceipt
	var decodeErr error
	if err := rd.Iterate(pollID, func(k, v []byte) bool {
		r := &types.VoteReceipt{}
		if err := decodeArtifact(v, r); err != nil {
			decodeErr = fmt.Errorf("decode receipt %x: %w", k, err)
			return false
		}
		receipts = append(receipts, r)
		return true
	}); err != nil {
		return nil, fmt.Errorf("iterate receipts: %w", err)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	return receipts, nil
}

// CountReceipts returns the number of receipts of the poll per status.
func (s *Storage) CountReceipts(pollID []byte) map[types.ReceiptStatus]int {
	counts := make(map[types.ReceiptStatus]int)
	receipts, err := s.Receipts(pollID)
	if err != nil {
		log.Warnw("failed to count receipts", "poll", fmt.Sprintf("%x", pollID), "error", err.Error())
		return counts
	}
	for _, r := range receipts {
		counts[r.Status]++
	}
	return counts
}
