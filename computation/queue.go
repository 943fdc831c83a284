package computation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vocdoni/confidential-polls/log"
	"github.com/vocdoni/confidential-polls/storage"
	"github.com/vocdoni/confidential-polls/types"
)

// CallbackHandler receives the callbacks of the requests submitted to a slot.
// Returning an error wrapping ErrCallbackRejected drops the callback, any
// other error keeps it pending for redelivery.
type CallbackHandler interface {
	ApplyCallback(ctx context.Context, cb *types.ComputationCallback) error
}

// Slot is a callback target. Only its owner may submit requests to it.
type Slot struct {
	Name     string
	Owner    string
	Handler  CallbackHandler
	Accounts AccountReader
}

// Queue accepts computation requests and persists them until the Executor
// picks them up.
type Queue struct {
	stg      *storage.Storage
	registry *Registry

	mu    sync.RWMutex
	slots map[string]*Slot

	wake chan struct{}
}

// NewQueue creates a queue on top of the storage. Operations are looked up in
// the registry.
func NewQueue(stg *storage.Storage, registry *Registry) (*Queue, error) {
	if stg == nil {
		return nil, fmt.Errorf("storage cannot be nil")
	}
	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	return &Queue{
		stg:      stg,
		registry: registry,
		slots:    make(map[string]*Slot),
		wake:     make(chan struct{}, 1),
	}, nil
}

// NewID returns a fresh random computation identifier.
func NewID() string {
	return uuid.New().String()
}

// RegisterSlot registers a callback target.
func (q *Queue) RegisterSlot(s *Slot) error {
	if s == nil || s.Name == "" || s.Owner == "" || s.Handler == nil {
		return fmt.Errorf("invalid slot")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.slots[s.Name]; ok {
		return fmt.Errorf("slot %q already registered", s.Name)
	}
	q.slots[s.Name] = s
	return nil
}

func (q *Queue) slot(name string) (*Slot, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	s, ok := q.slots[name]
	return s, ok
}

// Submit validates the request and appends it to the queue. Once Submit
// returns nil the request can not be withdrawn and exactly one callback will
// be delivered to its slot.
func (q *Queue) Submit(ctx context.Context, req *types.ComputationRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if req == nil {
		return fmt.Errorf("%w: nil request", ErrMalformedArgument)
	}
	if _, err := uuid.Parse(req.ID); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidID, req.ID)
	}
	slot, ok := q.slot(req.Slot)
	if !ok {
		return fmt.Errorf("%w: slot %q is not registered", ErrUnauthorized, req.Slot)
	}
	if slot.Owner != req.Submitter {
		return fmt.Errorf("%w: %q does not own slot %q", ErrUnauthorized, req.Submitter, req.Slot)
	}
	def, ok := q.registry.Definition(req.Operation)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownOperation, req.Operation)
	}
	if err := validateArguments(def.Params, req.Arguments); err != nil {
		return err
	}
	if req.SubmittedAt.IsZero() {
		req.SubmittedAt = time.Now()
	}
	if err := q.stg.PushComputation(req); err != nil {
		if errors.Is(err, storage.ErrExists) {
			return fmt.Errorf("%w: %s", ErrDuplicateID, req.ID)
		}
		return fmt.Errorf("queue computation: %w", err)
	}
	log.Debugw("computation queued",
		"id", req.ID,
		"operation", req.Operation,
		"slot", req.Slot,
		"account", req.Account().String(),
	)
	q.notify()
	return nil
}

// notify wakes the executor loop without blocking.
func (q *Queue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Status returns the callback of a computation once it has been delivered to
// its slot. A nil callback and nil error means the request is still queued,
// running or waiting for delivery. Unknown identifiers return
// ErrCallbackNotFound.
func (q *Queue) Status(id string) (*types.ComputationCallback, error) {
	cb, delivered, err := q.stg.Callback(id)
	if err == nil {
		if !delivered {
			return nil, nil
		}
		return cb, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	seen, err := q.stg.ComputationSeen(id)
	if err != nil {
		return nil, err
	}
	if !seen {
		return nil, ErrCallbackNotFound
	}
	return nil, nil
}

// Pending returns the number of requests waiting for execution.
func (q *Queue) Pending() int {
	return q.stg.CountQueuedComputations()
}
