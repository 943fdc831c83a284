package storage

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vocdoni/confidential-polls/types"
)

// PendingComputation links a computation submitted by the poll program to
// the poll (and voter, for votes) its callback must be applied to.
type PendingComputation struct {
	ID          string          `json:"id"              cbor:"0,keyasint"`
	Operation   string          `json:"operation"       cbor:"1,keyasint"`
	PollID      types.HexBytes  `json:"pollId"          cbor:"2,keyasint"`
	Voter       *common.Address `json:"voter,omitempty" cbor:"3,keyasint,omitempty"`
	SubmittedAt time.Time       `json:"submittedAt"     cbor:"4,keyasint"`
}

// AppliedComputation is the marker left once the callback of a computation
// has been applied to the ledger.
type AppliedComputation struct {
	ID        string               `json:"id"        cbor:"0,keyasint"`
	Status    types.CallbackStatus `json:"status"    cbor:"1,keyasint"`
	AppliedAt time.Time            `json:"appliedAt" cbor:"2,keyasint"`
}

// queuedComputation is the queue entry of a computation request.
type queuedComputation struct {
	Seq     uint64                    `cbor:"0,keyasint"`
	Request *types.ComputationRequest `cbor:"1,keyasint"`
}

// storedCallback is a callback together with its delivery state.
type storedCallback struct {
	Callback  *types.ComputationCallback `cbor:"0,keyasint"`
	Delivered bool                       `cbor:"1,keyasint"`
}
