package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/vocdoni/confidential-polls/circuit"
	"github.com/vocdoni/confidential-polls/events"
	"github.com/vocdoni/confidential-polls/log"
	"github.com/vocdoni/confidential-polls/storage"
	"github.com/vocdoni/confidential-polls/types"
)

// ApplyCallback applies the result of a computation submitted by the
// program. It implements computation.CallbackHandler. Applying the same
// callback twice is a no-op, and every application commits the poll, the
// receipt, the applied marker and the removal of the pending record in a
// single transaction.
func (p *Program) ApplyCallback(ctx context.Context, cb *types.ComputationCallback) error {
	if cb == nil {
		return fmt.Errorf("%w: nil callback", ErrUnknownComputation)
	}
	pc, err := p.stg.Pending(cb.ID)
	if errors.Is(err, storage.ErrNotFound) {
		if p.replayed(cb) {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrUnknownComputation, cb.ID)
	}
	if err != nil {
		return fmt.Errorf("load pending computation: %w", err)
	}
	if pc.Operation != cb.Operation {
		return fmt.Errorf("%w: %s was submitted as %s, callback is %s",
			ErrUnknownComputation, cb.ID, pc.Operation, cb.Operation)
	}

	unlock := p.lockPoll(pc.PollID)
	defer unlock()
	return p.applyLocked(pc, cb)
}

// applyLocked applies cb to the poll of pc. The poll lock must be held.
func (p *Program) applyLocked(pc *storage.PendingComputation, cb *types.ComputationCallback) error {
	// a concurrent delivery may have applied it while we waited for the lock
	if p.replayed(cb) {
		return nil
	}
	poll, err := p.Poll(pc.PollID)
	if err != nil {
		return fmt.Errorf("load poll: %w", err)
	}

	b := p.stg.NewBatch()
	var emit events.Event
	switch cb.Operation {
	case types.OpInitTally:
		p.applyInit(poll, cb)
	case types.OpVote:
		if err := p.applyVote(b, poll, pc, cb); err != nil {
			b.Discard()
			return err
		}
	case types.OpRevealResult:
		emit = p.applyReveal(poll, cb)
	default:
		b.Discard()
		return fmt.Errorf("%w: operation %s", ErrUnknownComputation, cb.Operation)
	}
	b.SetPoll(poll)
	b.MarkApplied(&storage.AppliedComputation{ID: cb.ID, Status: cb.Status, AppliedAt: p.now()})
	b.DeletePending(cb.ID)
	if err := b.Commit(); err != nil {
		return fmt.Errorf("commit callback: %w", err)
	}
	log.Debugw("callback applied",
		"poll", poll.ID.String(),
		"operation", cb.Operation,
		"id", cb.ID,
		"status", cb.Status.String(),
	)
	if emit != nil {
		p.events.Emit(emit)
	}
	return nil
}

// replayed reports whether the callback was already applied.
func (p *Program) replayed(cb *types.ComputationCallback) bool {
	if _, err := p.stg.Applied(cb.ID); err != nil {
		return false
	}
	log.Debugw("ignoring callback", "id", cb.ID, "operation", cb.Operation, "reason", ErrCallbackReplayed.Error())
	return true
}

func (p *Program) applyInit(poll *types.Poll, cb *types.ComputationCallback) {
	if cb.ID != poll.InitID || poll.TallyStatus != types.TallyPending {
		log.Warnw("stale tally initialization", "poll", poll.ID.String(), "id", cb.ID)
		return
	}
	if !cb.Succeeded() {
		log.Warnw("tally initialization aborted", "poll", poll.ID.String(), "reason", cb.Reason)
		poll.TallyStatus = types.TallyFailed
		return
	}
	tally, err := circuit.DecodeTallyOutput(cb.Output)
	if err != nil {
		log.Errorw(err, "invalid tally initialization output", "poll", poll.ID.String())
		poll.TallyStatus = types.TallyFailed
		return
	}
	poll.Tally = tally
	poll.TallyStatus = types.TallyReady
}

func (p *Program) applyVote(b *storage.Batch, poll *types.Poll, pc *storage.PendingComputation,
	cb *types.ComputationCallback,
) error {
	if pc.Voter == nil {
		return fmt.Errorf("%w: vote %s without voter", ErrUnknownComputation, cb.ID)
	}
	receipt, err := p.stg.Receipt(poll.ID, *pc.Voter)
	if err != nil {
		return fmt.Errorf("load receipt: %w", err)
	}
	if receipt.ComputationID != cb.ID || receipt.Status != types.ReceiptPending {
		log.Warnw("stale vote callback", "poll", poll.ID.String(), "voter", pc.Voter.Hex(), "id", cb.ID)
		return nil
	}
	receipt.UpdatedAt = p.now()
	fail := func(reason string) {
		receipt.Status = types.ReceiptFailed
		receipt.Reason = reason
		b.SetReceipt(receipt)
	}

	if !cb.Succeeded() {
		log.Warnw("vote aborted", "poll", poll.ID.String(), "voter", pc.Voter.Hex(), "reason", cb.Reason)
		fail(cb.Reason)
		return nil
	}
	tally, err := circuit.DecodeTallyOutput(cb.Output)
	if err != nil {
		log.Errorw(err, "invalid vote output", "poll", poll.ID.String(), "id", cb.ID)
		fail(err.Error())
		return nil
	}
	if poll.VotesCounted == math.MaxUint64 {
		log.Errorw(ErrOverflow, "vote not counted", "poll", poll.ID.String())
		fail(ErrOverflow.Error())
		return nil
	}
	poll.Tally = tally
	poll.VotesCounted++
	receipt.Status = types.ReceiptCounted
	receipt.Reason = ""
	b.SetReceipt(receipt)
	return nil
}

func (p *Program) applyReveal(poll *types.Poll, cb *types.ComputationCallback) events.Event {
	if cb.ID != poll.RevealID || poll.Finalized {
		log.Warnw("stale reveal callback", "poll", poll.ID.String(), "id", cb.ID)
		return nil
	}
	if !cb.Succeeded() {
		log.Warnw("reveal aborted", "poll", poll.ID.String(), "reason", cb.Reason)
		poll.RevealID = ""
		return nil
	}
	outcome, err := circuit.DecodeRevealOutput(cb.Output)
	if err != nil {
		log.Errorw(err, "invalid reveal output", "poll", poll.ID.String())
		poll.RevealID = ""
		return nil
	}
	now := p.now()
	poll.Finalized = true
	poll.Outcome = &outcome
	poll.FinalizedAt = &now
	log.Infow("poll finalized", "poll", poll.ID.String(), "outcome", outcome, "votes", poll.VotesCounted)
	return &events.VoteFinalized{Poll: poll.ID, Outcome: outcome, TotalVotes: poll.VotesCounted}
}
