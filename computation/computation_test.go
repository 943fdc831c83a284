package computation

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/confidential-polls/crypto/envelope"
	"github.com/vocdoni/confidential-polls/storage"
	"github.com/vocdoni/confidential-polls/types"
	"go.vocdoni.io/dvote/db/metadb"
)

const (
	testSlot  = "counter"
	testOwner = "counter-program"
	opAdd     = "add"
	opFail    = "fail"
)

// counterHandler keeps a plaintext counter per account. The add operation
// returns the account counter plus the argument, so a lost update would show
// in the final value.
type counterHandler struct {
	mu        sync.Mutex
	counters  map[string]uint64
	delivered []string
	failNext  bool
}

func newCounterHandler() *counterHandler {
	return &counterHandler{counters: make(map[string]uint64)}
}

func (h *counterHandler) ApplyCallback(_ context.Context, cb *types.ComputationCallback) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failNext {
		h.failNext = false
		return fmt.Errorf("handler unavailable")
	}
	h.delivered = append(h.delivered, cb.ID)
	if cb.Succeeded() {
		h.counters[string(cb.Account)] = binary.BigEndian.Uint64(cb.Output)
	}
	return nil
}

func (h *counterHandler) ReadAccount(ref []byte) (*envelope.Envelope, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v := make([]byte, 8)
	binary.BigEndian.PutUint64(v, h.counters[string(ref)])
	return &envelope.Envelope{Ciphertext: v}, nil
}

func (h *counterHandler) counter(acc string) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counters[acc]
}

func (h *counterHandler) deliveries() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.delivered...)
}

func testRegistry(c *qt.C) *Registry {
	r := NewRegistry()
	c.Assert(r.Register(
		&Definition{
			Name:   opAdd,
			Params: []types.ArgKind{types.ArgPlaintextU64, types.ArgAccount},
			Execute: func(_ context.Context, in *Inputs) ([]byte, error) {
				acc, err := in.ReadAccount(1)
				if err != nil {
					return nil, err
				}
				// make concurrent executions on the same account overlap
				time.Sleep(time.Millisecond)
				sum := binary.BigEndian.Uint64(acc.Ciphertext) + binary.BigEndian.Uint64(in.Arg(0))
				out := make([]byte, 8)
				binary.BigEndian.PutUint64(out, sum)
				return out, nil
			},
		},
		&Definition{
			Name:   opFail,
			Params: []types.ArgKind{types.ArgAccount},
			Execute: func(context.Context, *Inputs) ([]byte, error) {
				return nil, fmt.Errorf("circuit failure")
			},
		},
	), qt.IsNil)
	return r
}

func testQueue(c *qt.C, t *testing.T) (*Queue, *counterHandler) {
	q, err := NewQueue(storage.New(metadb.NewTest(t)), testRegistry(c))
	c.Assert(err, qt.IsNil)
	h := newCounterHandler()
	c.Assert(q.RegisterSlot(&Slot{Name: testSlot, Owner: testOwner, Handler: h, Accounts: h}), qt.IsNil)
	return q, h
}

func addRequest(id string, n uint64, acc string) *types.ComputationRequest {
	v := make([]byte, 8)
	binary.BigEndian.PutUint64(v, n)
	return &types.ComputationRequest{
		ID:        id,
		Operation: opAdd,
		Slot:      testSlot,
		Submitter: testOwner,
		Arguments: []types.Argument{
			{Kind: types.ArgPlaintextU64, Value: v},
			{Kind: types.ArgAccount, Value: types.HexBytes(acc)},
		},
	}
}

func TestRegistry(t *testing.T) {
	c := qt.New(t)
	r := testRegistry(c)

	_, ok := r.Definition(opAdd)
	c.Assert(ok, qt.IsTrue)
	_, ok = r.Definition("missing")
	c.Assert(ok, qt.IsFalse)
	c.Assert(r.Register(&Definition{Name: opAdd, Execute: func(context.Context, *Inputs) ([]byte, error) { return nil, nil }}), qt.IsNotNil)
	c.Assert(r.Register(&Definition{Name: "noexec"}), qt.IsNotNil)
}

func TestSubmitRejections(t *testing.T) {
	c := qt.New(t)
	q, _ := testQueue(c, t)
	ctx := context.Background()

	req := addRequest(NewID(), 1, "a")
	c.Assert(q.Submit(ctx, req), qt.IsNil)
	c.Assert(q.Submit(ctx, req), qt.ErrorIs, ErrDuplicateID)

	c.Assert(q.Submit(ctx, addRequest("not-a-uuid", 1, "a")), qt.ErrorIs, ErrInvalidID)

	unknownSlot := addRequest(NewID(), 1, "a")
	unknownSlot.Slot = "other"
	c.Assert(q.Submit(ctx, unknownSlot), qt.ErrorIs, ErrUnauthorized)

	intruder := addRequest(NewID(), 1, "a")
	intruder.Submitter = "intruder"
	c.Assert(q.Submit(ctx, intruder), qt.ErrorIs, ErrUnauthorized)

	unknownOp := addRequest(NewID(), 1, "a")
	unknownOp.Operation = "mul"
	c.Assert(q.Submit(ctx, unknownOp), qt.ErrorIs, ErrUnknownOperation)

	missingArg := addRequest(NewID(), 1, "a")
	missingArg.Arguments = missingArg.Arguments[:1]
	c.Assert(q.Submit(ctx, missingArg), qt.ErrorIs, ErrMalformedArgument)

	wrongKind := addRequest(NewID(), 1, "a")
	wrongKind.Arguments[0].Kind = types.ArgNonce
	c.Assert(q.Submit(ctx, wrongKind), qt.ErrorIs, ErrMalformedArgument)

	wrongSize := addRequest(NewID(), 1, "a")
	wrongSize.Arguments[0].Value = []byte{1}
	c.Assert(q.Submit(ctx, wrongSize), qt.ErrorIs, ErrMalformedArgument)

	emptyAccount := addRequest(NewID(), 1, "")
	c.Assert(q.Submit(ctx, emptyAccount), qt.ErrorIs, ErrMalformedArgument)

	// rejected requests leave nothing behind
	c.Assert(q.Pending(), qt.Equals, 1)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	c.Assert(q.Submit(cancelled, addRequest(NewID(), 1, "a")), qt.ErrorIs, context.Canceled)
}

func TestExecuteInOrder(t *testing.T) {
	c := qt.New(t)
	q, h := testQueue(c, t)
	ctx := context.Background()
	e, err := NewExecutor(q, 2, 0)
	c.Assert(err, qt.IsNil)

	var ids []string
	for i := 1; i <= 4; i++ {
		id := NewID()
		ids = append(ids, id)
		c.Assert(q.Submit(ctx, addRequest(id, uint64(i), "a")), qt.IsNil)
	}
	n, err := e.ExecutePending(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, 4)
	c.Assert(h.counter("a"), qt.Equals, uint64(10))
	c.Assert(h.deliveries(), qt.DeepEquals, ids)
	c.Assert(q.Pending(), qt.Equals, 0)

	// every request has exactly one stored callback
	for _, id := range ids {
		cb, err := q.Status(id)
		c.Assert(err, qt.IsNil)
		c.Assert(cb.Status, qt.Equals, types.CallbackSuccess)
	}
	_, err = q.Status(NewID())
	c.Assert(err, qt.ErrorIs, ErrCallbackNotFound)
}

func TestExecutorLoop(t *testing.T) {
	c := qt.New(t)
	q, h := testQueue(c, t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e, err := NewExecutor(q, 4, 10*time.Millisecond)
	c.Assert(err, qt.IsNil)
	c.Assert(e.Start(ctx), qt.IsNil)
	c.Assert(e.Start(ctx), qt.IsNotNil)
	defer func() { c.Assert(e.Stop(), qt.IsNil) }()

	// two accounts, interleaved submissions
	for i := 0; i < 20; i++ {
		acc := "a"
		if i%2 == 1 {
			acc = "b"
		}
		c.Assert(q.Submit(ctx, addRequest(NewID(), 1, acc)), qt.IsNil)
	}

	deadline := time.Now().Add(10 * time.Second)
	for len(h.deliveries()) < 20 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	c.Assert(h.deliveries(), qt.HasLen, 20)
	// no update was lost even with several workers
	c.Assert(h.counter("a"), qt.Equals, uint64(10))
	c.Assert(h.counter("b"), qt.Equals, uint64(10))
}

func TestSameAccountDrainsWithoutTicks(t *testing.T) {
	c := qt.New(t)
	q, h := testQueue(c, t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// the ticker never fires during the test, so only finished executions
	// can wake the loop for the next request on the account
	e, err := NewExecutor(q, 4, time.Hour)
	c.Assert(err, qt.IsNil)
	for i := 0; i < 6; i++ {
		c.Assert(q.Submit(ctx, addRequest(NewID(), 1, "a")), qt.IsNil)
	}
	c.Assert(e.Start(ctx), qt.IsNil)
	defer func() { c.Assert(e.Stop(), qt.IsNil) }()

	deadline := time.Now().Add(5 * time.Second)
	for len(h.deliveries()) < 6 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	c.Assert(h.deliveries(), qt.HasLen, 6)
	c.Assert(h.counter("a"), qt.Equals, uint64(6))
}

func TestAbortedComputation(t *testing.T) {
	c := qt.New(t)
	q, h := testQueue(c, t)
	ctx := context.Background()
	e, err := NewExecutor(q, 1, 0)
	c.Assert(err, qt.IsNil)

	id := NewID()
	c.Assert(q.Submit(ctx, &types.ComputationRequest{
		ID:        id,
		Operation: opFail,
		Slot:      testSlot,
		Submitter: testOwner,
		Arguments: []types.Argument{{Kind: types.ArgAccount, Value: types.HexBytes("a")}},
	}), qt.IsNil)
	_, err = e.ExecutePending(ctx)
	c.Assert(err, qt.IsNil)

	cb, err := q.Status(id)
	c.Assert(err, qt.IsNil)
	c.Assert(cb.Status, qt.Equals, types.CallbackAborted)
	c.Assert(cb.Reason, qt.Contains, "circuit failure")
	c.Assert(h.deliveries(), qt.DeepEquals, []string{id})
}

func TestRedeliver(t *testing.T) {
	c := qt.New(t)
	q, h := testQueue(c, t)
	ctx := context.Background()
	e, err := NewExecutor(q, 1, 0)
	c.Assert(err, qt.IsNil)

	first, second := NewID(), NewID()
	c.Assert(q.Submit(ctx, addRequest(first, 5, "a")), qt.IsNil)
	c.Assert(q.Submit(ctx, addRequest(second, 1, "a")), qt.IsNil)

	// the first delivery fails: the account is held and the second request
	// must not run on a stale counter
	h.failNext = true
	n, err := e.ExecutePending(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, 1)
	c.Assert(h.counter("a"), qt.Equals, uint64(0))
	c.Assert(q.Pending(), qt.Equals, 1)

	c.Assert(e.Redeliver(ctx, first), qt.IsNil)
	c.Assert(h.counter("a"), qt.Equals, uint64(5))

	n, err = e.ExecutePending(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, 1)
	c.Assert(h.counter("a"), qt.Equals, uint64(6))

	c.Assert(e.Redeliver(ctx, NewID()), qt.ErrorIs, ErrCallbackNotFound)
}

func TestRecoverOnStart(t *testing.T) {
	c := qt.New(t)
	q, h := testQueue(c, t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e, err := NewExecutor(q, 1, time.Hour)
	c.Assert(err, qt.IsNil)
	id := NewID()
	c.Assert(q.Submit(ctx, addRequest(id, 3, "a")), qt.IsNil)
	h.failNext = true
	_, err = e.ExecutePending(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(h.counter("a"), qt.Equals, uint64(0))

	// a new executor over the same storage delivers the pending callback
	restarted, err := NewExecutor(q, 1, time.Hour)
	c.Assert(err, qt.IsNil)
	c.Assert(restarted.Start(ctx), qt.IsNil)
	defer func() { c.Assert(restarted.Stop(), qt.IsNil) }()
	c.Assert(h.counter("a"), qt.Equals, uint64(3))
}

func TestCallbackRejected(t *testing.T) {
	c := qt.New(t)
	q, err := NewQueue(storage.New(metadb.NewTest(t)), testRegistry(c))
	c.Assert(err, qt.IsNil)
	reject := callbackFunc(func(context.Context, *types.ComputationCallback) error {
		return fmt.Errorf("%w: unknown id", ErrCallbackRejected)
	})
	h := newCounterHandler()
	c.Assert(q.RegisterSlot(&Slot{Name: testSlot, Owner: testOwner, Handler: reject, Accounts: h}), qt.IsNil)
	c.Assert(q.RegisterSlot(&Slot{Name: testSlot, Owner: testOwner, Handler: reject}), qt.IsNotNil)

	e, err := NewExecutor(q, 1, 0)
	c.Assert(err, qt.IsNil)
	ctx := context.Background()
	c.Assert(q.Submit(ctx, addRequest(NewID(), 1, "a")), qt.IsNil)
	c.Assert(q.Submit(ctx, addRequest(NewID(), 1, "a")), qt.IsNil)

	// rejected callbacks count as delivered, the account is not held
	n, err := e.ExecutePending(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, 2)
	c.Assert(q.Pending(), qt.Equals, 0)
}

type callbackFunc func(context.Context, *types.ComputationCallback) error

func (f callbackFunc) ApplyCallback(ctx context.Context, cb *types.ComputationCallback) error {
	return f(ctx, cb)
}
