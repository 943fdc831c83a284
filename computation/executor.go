package computation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/vocdoni/confidential-polls/log"
	"github.com/vocdoni/confidential-polls/storage"
	"github.com/vocdoni/confidential-polls/types"
)

const (
	// DefaultWorkers is the default number of concurrent executions.
	DefaultWorkers = 4
	// DefaultTickInterval is the default polling interval of the executor
	// when the queue is idle.
	DefaultTickInterval = time.Second
)

// Executor runs the queued requests and delivers their callbacks. Requests
// referencing the same account run one at a time in submission order, and
// the callback of a request is delivered before the next request on its
// account starts, so every execution observes the state left by the previous
// one. Requests on different accounts run concurrently on a worker pool.
type Executor struct {
	queue        *Queue
	stg          *storage.Storage
	workers      int
	tickInterval time.Duration

	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}
	pool     *workerpool.WorkerPool
	sem      chan struct{}

	// claimLock serializes the selection of the next request with the
	// update of the busy set.
	claimLock sync.Mutex
	mu        sync.Mutex
	busy      map[string]struct{}
	// stuck maps accounts to the callback whose delivery failed. No other
	// request on the account runs until it is delivered.
	stuck map[string]string
}

// NewExecutor creates an executor for the queue. Zero values for workers or
// tickInterval select the defaults.
func NewExecutor(q *Queue, workers int, tickInterval time.Duration) (*Executor, error) {
	if q == nil {
		return nil, fmt.Errorf("queue cannot be nil")
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if tickInterval <= 0 {
		tickInterval = DefaultTickInterval
	}
	return &Executor{
		queue:        q,
		stg:          q.stg,
		workers:      workers,
		tickInterval: tickInterval,
		busy:         make(map[string]struct{}),
		stuck:        make(map[string]string),
	}, nil
}

// Start delivers the callbacks left undelivered by a previous run and starts
// the background execution loop.
func (e *Executor) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("context cannot be nil")
	}
	if e.cancel != nil {
		return fmt.Errorf("executor already running")
	}
	if n, err := e.stg.ClearComputationReservations(); err != nil {
		return fmt.Errorf("clear reservations: %w", err)
	} else if n > 0 {
		log.Infow("cleared stale computation reservations", "count", n)
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.recoverCallbacks(e.ctx)

	e.pool = workerpool.New(e.workers)
	e.sem = make(chan struct{}, e.workers)
	e.loopDone = make(chan struct{})
	go e.loop()
	log.Infow("computation executor started", "workers", e.workers)
	return nil
}

// Stop cancels the execution loop and waits for the running executions.
func (e *Executor) Stop() error {
	if e.cancel == nil {
		return nil
	}
	e.cancel()
	<-e.loopDone
	e.pool.StopWait()
	e.cancel = nil
	log.Infow("computation executor stopped")
	return nil
}

func (e *Executor) loop() {
	defer close(e.loopDone)
	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()
	for {
		for e.dispatch() {
		}
		select {
		case <-e.ctx.Done():
			return
		case <-e.queue.wake:
		case <-ticker.C:
			e.retryStuck(e.ctx)
		}
	}
}

// dispatch hands the next runnable request to the worker pool. It returns
// false if there is no free worker or no runnable request.
func (e *Executor) dispatch() bool {
	select {
	case e.sem <- struct{}{}:
	default:
		return false
	}
	req, key, err := e.claim()
	if err != nil {
		<-e.sem
		if !errors.Is(err, storage.ErrNoMoreElements) {
			log.Errorw(err, "failed to get next computation")
		}
		return false
	}
	ctx := e.ctx
	e.pool.Submit(func() {
		// the freed worker and account may unblock queued requests
		defer e.queue.notify()
		defer func() { <-e.sem }()
		e.run(ctx, req, key)
	})
	return true
}

// ExecutePending runs every runnable request synchronously in the calling
// goroutine, until the queue has nothing left to run. It returns the number
// of requests executed.
func (e *Executor) ExecutePending(ctx context.Context) (int, error) {
	count := 0
	for {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		req, key, err := e.claim()
		if err != nil {
			if errors.Is(err, storage.ErrNoMoreElements) {
				return count, nil
			}
			return count, err
		}
		e.run(ctx, req, key)
		count++
	}
}

func (e *Executor) claim() (*types.ComputationRequest, []byte, error) {
	e.claimLock.Lock()
	defer e.claimLock.Unlock()
	req, key, err := e.stg.NextComputation(e.blocked)
	if err != nil {
		return nil, nil, err
	}
	if acc := req.Account(); len(acc) > 0 {
		e.mu.Lock()
		e.busy[string(acc)] = struct{}{}
		e.mu.Unlock()
	}
	return req, key, nil
}

func (e *Executor) blocked(req *types.ComputationRequest) bool {
	acc := req.Account()
	if len(acc) == 0 {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, busy := e.busy[string(acc)]
	_, stuck := e.stuck[string(acc)]
	return busy || stuck
}

func (e *Executor) releaseAccount(acc []byte) {
	if len(acc) == 0 {
		return
	}
	e.mu.Lock()
	delete(e.busy, string(acc))
	e.mu.Unlock()
}

// run executes a claimed request, stores its callback and delivers it.
func (e *Executor) run(ctx context.Context, req *types.ComputationRequest, key []byte) {
	acc := req.Account()
	defer e.releaseAccount(acc)

	startTime := time.Now()
	cb := e.execute(ctx, req)
	if err := e.stg.MarkComputationDone(key, cb); err != nil {
		log.Errorw(err, "failed to store computation callback", "id", req.ID)
		if err := e.stg.ReleaseComputation(key); err != nil {
			log.Errorw(err, "failed to release computation", "id", req.ID)
		}
		return
	}
	log.Debugw("computation executed",
		"id", req.ID,
		"operation", req.Operation,
		"status", cb.Status.String(),
		"duration", time.Since(startTime).String(),
	)
	e.deliverOrHold(ctx, cb)
}

func (e *Executor) execute(ctx context.Context, req *types.ComputationRequest) *types.ComputationCallback {
	cb := &types.ComputationCallback{
		ID:        req.ID,
		Operation: req.Operation,
		Slot:      req.Slot,
		Account:   req.Account(),
	}
	out, err := e.executeOperation(ctx, req)
	cb.ExecutedAt = time.Now()
	if err != nil {
		cb.Status = types.CallbackAborted
		cb.Reason = err.Error()
		log.Warnw("computation aborted", "id", req.ID, "operation", req.Operation, "error", err.Error())
		return cb
	}
	cb.Status = types.CallbackSuccess
	cb.Output = out
	return cb
}

func (e *Executor) executeOperation(ctx context.Context, req *types.ComputationRequest) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation %s panicked: %v", req.Operation, r)
		}
	}()
	def, ok := e.queue.registry.Definition(req.Operation)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, req.Operation)
	}
	slot, ok := e.queue.slot(req.Slot)
	if !ok {
		return nil, fmt.Errorf("%w: slot %q is not registered", ErrUnauthorized, req.Slot)
	}
	if err := validateArguments(def.Params, req.Arguments); err != nil {
		return nil, err
	}
	return def.Execute(ctx, NewInputs(req.Arguments, slot.Accounts))
}

// deliver hands the callback to its slot handler and records the delivery.
func (e *Executor) deliver(ctx context.Context, cb *types.ComputationCallback) error {
	slot, ok := e.queue.slot(cb.Slot)
	if !ok {
		return fmt.Errorf("slot %q is not registered", cb.Slot)
	}
	if err := slot.Handler.ApplyCallback(ctx, cb); err != nil {
		if !errors.Is(err, ErrCallbackRejected) {
			return err
		}
		log.Warnw("callback rejected", "id", cb.ID, "slot", cb.Slot, "error", err.Error())
	}
	return e.stg.MarkCallbackDelivered(cb.ID)
}

// deliverOrHold delivers the callback. If the delivery fails, the account of
// the request is held until the callback is delivered again.
func (e *Executor) deliverOrHold(ctx context.Context, cb *types.ComputationCallback) {
	if err := e.deliver(ctx, cb); err != nil {
		log.Errorw(err, "failed to deliver callback", "id", cb.ID, "slot", cb.Slot)
		if len(cb.Account) > 0 {
			e.mu.Lock()
			e.stuck[string(cb.Account)] = cb.ID
			e.mu.Unlock()
		}
	}
}

// Redeliver sends the stored callback of an executed computation to its slot
// handler again. Handlers must apply callbacks idempotently.
func (e *Executor) Redeliver(ctx context.Context, id string) error {
	cb, _, err := e.stg.Callback(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrCallbackNotFound, id)
		}
		return err
	}
	if err := e.deliver(ctx, cb); err != nil {
		return err
	}
	if len(cb.Account) > 0 {
		e.mu.Lock()
		if e.stuck[string(cb.Account)] == id {
			delete(e.stuck, string(cb.Account))
		}
		e.mu.Unlock()
		e.queue.notify()
	}
	log.Infow("callback redelivered", "id", id, "slot", cb.Slot)
	return nil
}

func (e *Executor) retryStuck(ctx context.Context) {
	e.mu.Lock()
	ids := make([]string, 0, len(e.stuck))
	for _, id := range e.stuck {
		ids = append(ids, id)
	}
	e.mu.Unlock()
	for _, id := range ids {
		if err := e.Redeliver(ctx, id); err != nil {
			log.Warnw("callback still undeliverable", "id", id, "error", err.Error())
		}
	}
}

// recoverCallbacks delivers the callbacks stored but not delivered before the
// previous shutdown.
func (e *Executor) recoverCallbacks(ctx context.Context) {
	cbs, err := e.stg.UndeliveredCallbacks()
	if err != nil {
		log.Errorw(err, "failed to list undelivered callbacks")
		return
	}
	for _, cb := range cbs {
		e.deliverOrHold(ctx, cb)
	}
	if len(cbs) > 0 {
		log.Infow("recovered undelivered callbacks", "count", len(cbs))
	}
}
