package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/arbo/memdb"
	"github.com/vocdoni/confidential-polls/circuit"
	"github.com/vocdoni/confidential-polls/computation"
	"github.com/vocdoni/confidential-polls/crypto/envelope"
	"github.com/vocdoni/confidential-polls/events"
	"github.com/vocdoni/confidential-polls/storage"
	"github.com/vocdoni/confidential-polls/types"
)

var (
	authority = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	t0        = time.Unix(1_700_000_000, 0).UTC()
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type testNode struct {
	stg    *storage.Storage
	prog   *Program
	queue  *computation.Queue
	exec   *computation.Executor
	key    *envelope.ClusterKey
	clock  *testClock
	events *events.Recorder
}

func newTestNode(c *qt.C) *testNode {
	stg := storage.New(memdb.New())
	key, err := envelope.GenerateClusterKey()
	c.Assert(err, qt.IsNil)
	circ, err := circuit.New(key)
	c.Assert(err, qt.IsNil)
	registry := computation.NewRegistry()
	c.Assert(registry.Register(circ.Definitions()...), qt.IsNil)
	queue, err := computation.NewQueue(stg, registry)
	c.Assert(err, qt.IsNil)

	clock := &testClock{now: t0}
	rec := &events.Recorder{}
	prog, err := New(stg, queue, WithClock(clock.Now), WithEvents(rec))
	c.Assert(err, qt.IsNil)
	c.Assert(queue.RegisterSlot(prog.Slot()), qt.IsNil)

	exec, err := computation.NewExecutor(queue, 4, 10*time.Millisecond)
	c.Assert(err, qt.IsNil)
	return &testNode{
		stg:    stg,
		prog:   prog,
		queue:  queue,
		exec:   exec,
		key:    key,
		clock:  clock,
		events: rec,
	}
}

// run executes every queued computation and delivers the callbacks.
func (n *testNode) run(c *qt.C) int {
	count, err := n.exec.ExecutePending(context.Background())
	c.Assert(err, qt.IsNil)
	return count
}

// createPoll creates a poll with window [t0, t0+100s) and initializes its
// tally.
func (n *testNode) createPoll(c *qt.C, nonce uint64) *types.Poll {
	poll, err := n.prog.CreatePoll(context.Background(), authority, nonce, "Should we ship it?",
		types.Window{Start: t0, End: t0.Add(100 * time.Second)})
	c.Assert(err, qt.IsNil)
	n.run(c)
	poll, err = n.prog.Poll(poll.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(poll.TallyStatus, qt.Equals, types.TallyReady)
	return poll
}

// ballot seals a ballot with a fresh voter key.
func (n *testNode) ballot(c *qt.C, vote bool) *envelope.Envelope {
	return sealBallot(c, n.key.PublicKey(), vote)
}

func sealBallot(c *qt.C, cluster envelope.PublicKey, vote bool) *envelope.Envelope {
	voter, err := envelope.GenerateSubmitterKey()
	c.Assert(err, qt.IsNil)
	cipher, err := voter.SharedCipher(cluster)
	c.Assert(err, qt.IsNil)
	b, err := circuit.SealBallot(cipher, vote)
	c.Assert(err, qt.IsNil)
	return b
}

func voterAddr(i int) common.Address {
	return common.HexToAddress(fmt.Sprintf("0x%040x", 0x1000+i))
}

// captureBridge records submissions without executing them.
type captureBridge struct {
	mu   sync.Mutex
	reqs []*types.ComputationRequest
	err  error
}

func (b *captureBridge) Submit(_ context.Context, req *types.ComputationRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.reqs = append(b.reqs, req)
	return nil
}

func (b *captureBridge) last() *types.ComputationRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reqs[len(b.reqs)-1]
}

func newCaptureProgram(c *qt.C) (*Program, *captureBridge, *testClock) {
	bridge := &captureBridge{}
	clock := &testClock{now: t0}
	prog, err := New(storage.New(memdb.New()), bridge, WithClock(clock.Now), WithEvents(&events.Recorder{}))
	c.Assert(err, qt.IsNil)
	return prog, bridge, clock
}

func testClusterKey(c *qt.C) envelope.PublicKey {
	key, err := envelope.GenerateClusterKey()
	c.Assert(err, qt.IsNil)
	return key.PublicKey()
}
