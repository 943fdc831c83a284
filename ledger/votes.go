package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vocdoni/confidential-polls/circuit"
	"github.com/vocdoni/confidential-polls/computation"
	"github.com/vocdoni/confidential-polls/crypto/envelope"
	"github.com/vocdoni/confidential-polls/events"
	"github.com/vocdoni/confidential-polls/log"
	"github.com/vocdoni/confidential-polls/storage"
	"github.com/vocdoni/confidential-polls/types"
)

// CastVote accepts the sealed ballot of voter and queues its accumulation
// into the poll tally. The receipt of the voter is stored as pending together
// with the request; it becomes counted or failed when the callback lands. A
// voter whose previous vote failed may vote again.
func (p *Program) CastVote(ctx context.Context, pollID []byte, voter common.Address,
	ballot *envelope.Envelope,
) (*types.VoteReceipt, error) {
	unlock := p.lockPoll(pollID)
	defer unlock()

	poll, err := p.Poll(pollID)
	if err != nil {
		return nil, err
	}
	now := p.now()
	if poll.Finalized {
		return nil, ErrFinalized
	}
	if now.Before(poll.Window.Start) {
		return nil, ErrVotingNotStarted
	}
	if !now.Before(poll.Window.End) {
		return nil, ErrTimeExceeded
	}
	prev, err := p.stg.Receipt(pollID, voter)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load receipt: %w", err)
	}
	if prev != nil && prev.Status.Blocks() {
		return nil, ErrAlreadyVoted
	}
	if err := ballot.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBallot, err)
	}
	if ballot.Context.Kind != envelope.ContextShared {
		return nil, fmt.Errorf("%w: ballot must be sealed in shared context", ErrMalformedBallot)
	}
	if poll.TallyStatus == types.TallyFailed {
		return nil, fmt.Errorf("%w: tally initialization failed", ErrTallyNotReady)
	}

	receipt := &types.VoteReceipt{
		PollID:        poll.ID,
		Voter:         voter,
		Status:        types.ReceiptPending,
		ComputationID: computation.NewID(),
		Attempts:      1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if prev != nil {
		receipt.Attempts = prev.Attempts + 1
		receipt.CreatedAt = prev.CreatedAt
	}
	b := p.stg.NewBatch()
	b.SetReceipt(receipt)
	b.SetPending(&storage.PendingComputation{
		ID:          receipt.ComputationID,
		Operation:   types.OpVote,
		PollID:      poll.ID,
		Voter:       &voter,
		SubmittedAt: now,
	})
	if err := b.Commit(); err != nil {
		return nil, fmt.Errorf("store receipt: %w", err)
	}

	req := p.request(receipt.ComputationID, types.OpVote, circuit.VoteArguments(ballot, poll.ID))
	if err := p.bridge.Submit(ctx, req); err != nil {
		rb := p.stg.NewBatch()
		if prev != nil {
			rb.SetReceipt(prev)
		} else {
			rb.DeleteReceipt(poll.ID, voter)
		}
		rb.DeletePending(receipt.ComputationID)
		if rerr := rb.Commit(); rerr != nil {
			log.Errorw(rerr, "failed to roll back receipt", "poll", poll.ID.String(), "voter", voter.Hex())
		}
		return nil, fmt.Errorf("submit vote: %w", err)
	}

	p.events.Emit(&events.VoteCast{Poll: poll.ID, Voter: voter, Timestamp: now})
	return receipt, nil
}
