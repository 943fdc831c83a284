// Package ledger implements the poll program: the public record of every poll
// and its voters, and the orchestration of the confidential tally through the
// computation bridge.
//
// Every operation on a poll runs under the lock of that poll, so two
// mutations of the same poll never interleave. Operations that need the
// confidential tally only queue a computation; its effect is applied later by
// ApplyCallback, when the bridge delivers the result.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vocdoni/confidential-polls/computation"
	"github.com/vocdoni/confidential-polls/crypto/envelope"
	"github.com/vocdoni/confidential-polls/events"
	"github.com/vocdoni/confidential-polls/storage"
	"github.com/vocdoni/confidential-polls/types"
)

const (
	// SlotName is the computation slot the program receives callbacks on.
	SlotName = "confidential-polls"
	// ProgramID identifies the program as the owner of its slot.
	ProgramID = "poll-program"
)

// Submitter queues computation requests. It is implemented by
// *computation.Queue.
type Submitter interface {
	Submit(ctx context.Context, req *types.ComputationRequest) error
}

// Program is the poll program.
type Program struct {
	stg    *storage.Storage
	bridge Submitter
	events events.Sink
	now    func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// Option configures a Program.
type Option func(*Program)

// WithClock replaces the wall clock used for the voting window checks.
func WithClock(now func() time.Time) Option {
	return func(p *Program) {
		p.now = now
	}
}

// WithEvents sets the sink of the audit events. By default events are
// written to the log.
func WithEvents(sink events.Sink) Option {
	return func(p *Program) {
		p.events = sink
	}
}

// New creates the poll program.
func New(stg *storage.Storage, bridge Submitter, opts ...Option) (*Program, error) {
	if stg == nil {
		return nil, fmt.Errorf("storage cannot be nil")
	}
	if bridge == nil {
		return nil, fmt.Errorf("computation bridge cannot be nil")
	}
	p := &Program{
		stg:    stg,
		bridge: bridge,
		events: events.LogSink{},
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Slot returns the computation slot of the program, to be registered in the
// computation queue.
func (p *Program) Slot() *computation.Slot {
	return &computation.Slot{
		Name:     SlotName,
		Owner:    ProgramID,
		Handler:  p,
		Accounts: p,
	}
}

// lockPoll locks the poll and returns the unlock function.
func (p *Program) lockPoll(pollID []byte) func() {
	p.locksMu.Lock()
	l, ok := p.locks[string(pollID)]
	if !ok {
		l = &sync.Mutex{}
		p.locks[string(pollID)] = l
	}
	p.locksMu.Unlock()
	l.Lock()
	return l.Unlock
}

func (p *Program) request(id, operation string, args []types.Argument) *types.ComputationRequest {
	return &types.ComputationRequest{
		ID:          id,
		Operation:   operation,
		Arguments:   args,
		Slot:        SlotName,
		Submitter:   ProgramID,
		SubmittedAt: p.now(),
	}
}

// Poll returns the public record of a poll.
func (p *Program) Poll(pollID []byte) (*types.Poll, error) {
	poll, err := p.stg.Poll(pollID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrPollNotFound
		}
		return nil, err
	}
	return poll, nil
}

// Polls returns every poll.
func (p *Program) Polls() ([]*types.Poll, error) {
	ids, err := p.stg.ListPolls()
	if err != nil {
		return nil, err
	}
	polls := make([]*types.Poll, 0, len(ids))
	for _, id := range ids {
		poll, err := p.stg.Poll(id)
		if err != nil {
			return nil, fmt.Errorf("poll %x: %w", id, err)
		}
		polls = append(polls, poll)
	}
	return polls, nil
}

// Receipt returns the receipt of voter on the poll.
func (p *Program) Receipt(pollID []byte, voter common.Address) (*types.VoteReceipt, error) {
	r, err := p.stg.Receipt(pollID, voter)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrReceiptNotFound
		}
		return nil, err
	}
	return r, nil
}

// Receipts returns every receipt of the poll.
func (p *Program) Receipts(pollID []byte) ([]*types.VoteReceipt, error) {
	if _, err := p.Poll(pollID); err != nil {
		return nil, err
	}
	return p.stg.Receipts(pollID)
}

// ReadAccount implements computation.AccountReader. The account of a poll is
// its id and holds its sealed tally.
func (p *Program) ReadAccount(ref []byte) (*envelope.Envelope, error) {
	poll, err := p.stg.Poll(ref)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: poll %x", computation.ErrAccountNotFound, ref)
		}
		return nil, err
	}
	if poll.TallyStatus != types.TallyReady || poll.Tally == nil {
		return nil, fmt.Errorf("%w: poll %x is %s", ErrTallyNotReady, ref, poll.TallyStatus)
	}
	return poll.Tally, nil
}
