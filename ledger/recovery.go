package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/vocdoni/confidential-polls/log"
	"github.com/vocdoni/confidential-polls/storage"
	"github.com/vocdoni/confidential-polls/types"
)

// ReasonLostRequest is the abort reason recorded for computations whose
// request never reached the queue.
const ReasonLostRequest = "request was not queued"

// Reconcile aborts every pending computation whose request never reached the
// computation queue. It happens when the node stops between storing the
// pending record and submitting the request. The abort is applied like any
// other callback, so a lost vote leaves a failed receipt the voter can
// replace. Lost tally initializations and reveals can be requested again by
// the authority.
//
// It returns the number of computations aborted. It must run before the node
// accepts requests, but it is safe at any time since every check runs under
// the poll lock that the submitting operation holds until the request is
// queued.
func (p *Program) Reconcile(ctx context.Context) (int, error) {
	pcs, err := p.stg.PendingComputations()
	if err != nil {
		return 0, fmt.Errorf("list pending computations: %w", err)
	}
	aborted := 0
	for _, pc := range pcs {
		if err := ctx.Err(); err != nil {
			return aborted, err
		}
		lost, err := p.reconcile(pc)
		if err != nil {
			return aborted, fmt.Errorf("reconcile %s: %w", pc.ID, err)
		}
		if lost {
			aborted++
		}
	}
	if aborted > 0 {
		log.Warnw("aborted lost computations", "count", aborted)
	}
	return aborted, nil
}

func (p *Program) reconcile(pc *storage.PendingComputation) (bool, error) {
	unlock := p.lockPoll(pc.PollID)
	defer unlock()

	// the callback may have been applied while we waited for the lock
	if _, err := p.stg.Pending(pc.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	seen, err := p.stg.ComputationSeen(pc.ID)
	if err != nil {
		return false, err
	}
	if seen {
		return false, nil
	}
	log.Warnw("computation request lost", "id", pc.ID, "operation", pc.Operation, "poll", pc.PollID.String())
	return true, p.applyLocked(pc, &types.ComputationCallback{
		ID:         pc.ID,
		Operation:  pc.Operation,
		Slot:       SlotName,
		Status:     types.CallbackAborted,
		Reason:     ReasonLostRequest,
		ExecutedAt: p.now(),
		Account:    pc.PollID,
	})
}
