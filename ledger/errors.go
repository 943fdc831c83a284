package ledger

import (
	"errors"
	"fmt"

	"github.com/vocdoni/confidential-polls/computation"
)

// Validation errors. They are returned synchronously, before anything is
// queued, and leave no side effects.
var (
	ErrPollNotFound     = errors.New("poll not found")
	ErrReceiptNotFound  = errors.New("receipt not found")
	ErrPollExists       = errors.New("poll already exists")
	ErrInvalidWindow    = errors.New("invalid voting window: end must be after start")
	ErrInvalidQuestion  = errors.New("invalid question")
	ErrFinalized        = errors.New("poll already finalized")
	ErrVotingNotStarted = errors.New("voting has not started")
	ErrTimeExceeded     = errors.New("voting time exceeded")
	ErrAlreadyVoted     = errors.New("voter already voted")
	ErrMalformedBallot  = errors.New("malformed ballot")
	ErrInvalidAuthority = errors.New("requester is not the poll authority")
	ErrWaitTillEndTime  = errors.New("poll voting window has not ended")
	ErrRevealPending    = errors.New("reveal already requested")
	ErrTallyNotReady    = errors.New("poll tally is not ready")
	ErrTallyNotFailed   = errors.New("poll tally initialization has not failed")
)

var (
	// ErrUnknownComputation is returned for callbacks of computations the
	// program never submitted.
	ErrUnknownComputation = fmt.Errorf("unknown computation: %w", computation.ErrCallbackRejected)
	// ErrCallbackReplayed is logged when a callback that was already applied
	// is delivered again. The replay is ignored.
	ErrCallbackReplayed = errors.New("callback already applied")
	// ErrOverflow is returned when the vote counter of a poll would wrap.
	ErrOverflow = errors.New("vote counter overflow")
)
