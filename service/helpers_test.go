package service

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/arbo/memdb"
	"github.com/vocdoni/confidential-polls/circuit"
	"github.com/vocdoni/confidential-polls/computation"
	"github.com/vocdoni/confidential-polls/crypto/envelope"
	"github.com/vocdoni/confidential-polls/ledger"
	"github.com/vocdoni/confidential-polls/storage"
)

type testStack struct {
	stg     *storage.Storage
	key     *envelope.ClusterKey
	queue   *computation.Queue
	program *ledger.Program
}

func newTestStack(t *testing.T, opts ...ledger.Option) *testStack {
	c := qt.New(t)
	stg := storage.New(memdb.New())
	t.Cleanup(stg.Close)
	key, err := envelope.GenerateClusterKey()
	c.Assert(err, qt.IsNil)
	circ, err := circuit.New(key)
	c.Assert(err, qt.IsNil)
	registry := computation.NewRegistry()
	c.Assert(registry.Register(circ.Definitions()...), qt.IsNil)
	queue, err := computation.NewQueue(stg, registry)
	c.Assert(err, qt.IsNil)
	program, err := ledger.New(stg, queue, opts...)
	c.Assert(err, qt.IsNil)
	c.Assert(queue.RegisterSlot(program.Slot()), qt.IsNil)
	return &testStack{stg: stg, key: key, queue: queue, program: program}
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(c *qt.C, timeout time.Duration, cond func() bool) {
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			c.Fatalf("condition not met after %s", timeout)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
