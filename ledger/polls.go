package ledger

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vocdoni/confidential-polls/circuit"
	"github.com/vocdoni/confidential-polls/computation"
	"github.com/vocdoni/confidential-polls/log"
	"github.com/vocdoni/confidential-polls/storage"
	"github.com/vocdoni/confidential-polls/types"
)

// CreatePoll stores a new poll of authority and queues the initialization of
// its tally. The poll is readable right away, but its tally is only usable
// once the init_tally callback lands. Votes cast before that are queued
// behind the initialization.
func (p *Program) CreatePoll(ctx context.Context, authority common.Address, nonce uint64,
	question string, window types.Window,
) (*types.Poll, error) {
	if !window.Valid() {
		return nil, ErrInvalidWindow
	}
	if len(question) == 0 || len(question) > types.MaxQuestionLength || !utf8.ValidString(question) {
		return nil, fmt.Errorf("%w: must be valid UTF-8 of 1 to %d bytes", ErrInvalidQuestion, types.MaxQuestionLength)
	}
	pid := &types.PollID{Authority: authority, Nonce: nonce}
	id := pid.Marshal()

	unlock := p.lockPoll(id)
	defer unlock()

	exists, err := p.stg.HasPoll(id)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrPollExists
	}

	now := p.now()
	poll := &types.Poll{
		ID:          id,
		Authority:   authority,
		Nonce:       nonce,
		Question:    question,
		Window:      window,
		TallyStatus: types.TallyPending,
		InitID:      computation.NewID(),
		CreatedAt:   now,
	}
	pending := &storage.PendingComputation{
		ID:          poll.InitID,
		Operation:   types.OpInitTally,
		PollID:      id,
		SubmittedAt: now,
	}
	b := p.stg.NewBatch()
	b.SetPoll(poll)
	b.SetPending(pending)
	if err := b.Commit(); err != nil {
		return nil, fmt.Errorf("store poll: %w", err)
	}

	req := p.request(poll.InitID, types.OpInitTally, circuit.InitTallyArguments(id))
	if err := p.bridge.Submit(ctx, req); err != nil {
		rb := p.stg.NewBatch()
		rb.DeletePending(poll.InitID)
		rb.DeletePoll(poll.ID)
		if rerr := rb.Commit(); rerr != nil {
			log.Errorw(rerr, "failed to roll back poll creation", "poll", pid.String())
		}
		return nil, fmt.Errorf("submit tally initialization: %w", err)
	}
	log.Infow("poll created",
		"poll", pid.String(),
		"authority", authority.Hex(),
		"start", window.Start,
		"end", window.End,
	)
	return poll, nil
}

// RetryTallyInit queues the initialization of the tally again, after the
// previous one aborted. Only the authority may call it.
func (p *Program) RetryTallyInit(ctx context.Context, pollID []byte, requester common.Address) (*types.Poll, error) {
	unlock := p.lockPoll(pollID)
	defer unlock()

	poll, err := p.Poll(pollID)
	if err != nil {
		return nil, err
	}
	if requester != poll.Authority {
		return nil, ErrInvalidAuthority
	}
	if poll.TallyStatus != types.TallyFailed {
		return nil, fmt.Errorf("%w: tally is %s", ErrTallyNotFailed, poll.TallyStatus)
	}

	prev := *poll
	poll.InitID = computation.NewID()
	poll.TallyStatus = types.TallyPending
	if err := p.submitWithPoll(ctx, poll, &prev, types.OpInitTally, poll.InitID,
		circuit.InitTallyArguments(poll.ID)); err != nil {
		return nil, err
	}
	log.Infow("tally initialization requeued", "poll", poll.ID.String())
	return poll, nil
}

// RequestReveal queues the reveal of the outcome of a poll. Only the
// authority may request it, strictly after the voting window ended.
func (p *Program) RequestReveal(ctx context.Context, pollID []byte, requester common.Address) (string, error) {
	unlock := p.lockPoll(pollID)
	defer unlock()

	poll, err := p.Poll(pollID)
	if err != nil {
		return "", err
	}
	if requester != poll.Authority {
		return "", ErrInvalidAuthority
	}
	if !p.now().After(poll.Window.End) {
		return "", ErrWaitTillEndTime
	}
	if poll.Finalized {
		return "", ErrFinalized
	}
	if poll.RevealInFlight() {
		return "", fmt.Errorf("%w: computation %s", ErrRevealPending, poll.RevealID)
	}
	if poll.TallyStatus != types.TallyReady {
		return "", fmt.Errorf("%w: tally is %s", ErrTallyNotReady, poll.TallyStatus)
	}

	prev := *poll
	poll.RevealID = computation.NewID()
	if err := p.submitWithPoll(ctx, poll, &prev, types.OpRevealResult, poll.RevealID,
		circuit.RevealResultArguments(poll.ID)); err != nil {
		return "", err
	}
	log.Infow("reveal requested", "poll", poll.ID.String(), "computation", poll.RevealID)
	return poll.RevealID, nil
}

// submitWithPoll stores the updated poll together with the pending record of
// the computation, then submits it. If the bridge rejects the request the
// previous poll is restored.
func (p *Program) submitWithPoll(ctx context.Context, poll, prev *types.Poll, op, id string,
	args []types.Argument,
) error {
	b := p.stg.NewBatch()
	b.SetPoll(poll)
	b.SetPending(&storage.PendingComputation{
		ID:          id,
		Operation:   op,
		PollID:      poll.ID,
		SubmittedAt: p.now(),
	})
	if err := b.Commit(); err != nil {
		return fmt.Errorf("store poll: %w", err)
	}
	if err := p.bridge.Submit(ctx, p.request(id, op, args)); err != nil {
		rb := p.stg.NewBatch()
		rb.SetPoll(prev)
		rb.DeletePending(id)
		if rerr := rb.Commit(); rerr != nil {
			log.Errorw(rerr, "failed to roll back poll update", "poll", poll.ID.String(), "operation", op)
		}
		return fmt.Errorf("submit %s: %w", op, err)
	}
	return nil
}
