package tests

import (
	"context"
	"fmt"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/confidential-polls/api/client"
	"github.com/vocdoni/confidential-polls/circuit"
	"github.com/vocdoni/confidential-polls/computation"
	"github.com/vocdoni/confidential-polls/crypto/envelope"
	"github.com/vocdoni/confidential-polls/crypto/ethereum"
	"github.com/vocdoni/confidential-polls/ledger"
	"github.com/vocdoni/confidential-polls/service"
	"github.com/vocdoni/confidential-polls/storage"
	"go.vocdoni.io/dvote/db/metadb"
)

// testNode is a full poll node: storage, computation executor, poll program
// and API.
type testNode struct {
	storage      *storage.Storage
	queue        *computation.Queue
	program      *ledger.Program
	computations *service.ComputationService
	api          *service.APIService
}

// NewTestService starts a poll node on a fresh database and returns it
// together with an API client connected to it.
func NewTestService(t *testing.T, ctx context.Context) (*testNode, *client.HTTPclient) {
	c := qt.New(t)
	stg := storage.New(metadb.NewTest(t))

	key, err := envelope.GenerateClusterKey()
	c.Assert(err, qt.IsNil)
	c.Assert(stg.SetClusterKey(key.Bytes()), qt.IsNil)
	circ, err := circuit.New(key)
	c.Assert(err, qt.IsNil)
	registry := computation.NewRegistry()
	c.Assert(registry.Register(circ.Definitions()...), qt.IsNil)
	queue, err := computation.NewQueue(stg, registry)
	c.Assert(err, qt.IsNil)
	program, err := ledger.New(stg, queue)
	c.Assert(err, qt.IsNil)
	c.Assert(queue.RegisterSlot(program.Slot()), qt.IsNil)
	_, err = program.Reconcile(ctx)
	c.Assert(err, qt.IsNil)

	computations, err := service.NewComputationService(queue, 4, 50*time.Millisecond)
	c.Assert(err, qt.IsNil)
	c.Assert(computations.Start(ctx), qt.IsNil)
	t.Cleanup(computations.Stop)

	apiSrv := service.NewAPI(program, queue, key.PublicKey(), "127.0.0.1", 0)
	c.Assert(apiSrv.Start(ctx), qt.IsNil)
	t.Cleanup(apiSrv.Stop)

	_, port := apiSrv.HostPort()
	cli, err := client.New(fmt.Sprintf("http://127.0.0.1:%d", port))
	c.Assert(err, qt.IsNil)
	return &testNode{
		storage:      stg,
		queue:        queue,
		program:      program,
		computations: computations,
		api:          apiSrv,
	}, cli
}

// NewTestSigner creates and initializes a new ethereum signer for testing.
func NewTestSigner(c *qt.C) *ethereum.SignKeys {
	signer := ethereum.NewSignKeys()
	c.Assert(signer.Generate(), qt.IsNil)
	return signer
}

// sealBallot seals a yes/no ballot to the cluster key published by the node.
func sealBallot(c *qt.C, cli *client.HTTPclient, vote bool) *envelope.Envelope {
	info, err := cli.Info()
	c.Assert(err, qt.IsNil)
	sk, err := envelope.GenerateSubmitterKey()
	c.Assert(err, qt.IsNil)
	cipher, err := sk.SharedCipher(info.ClusterPublicKey)
	c.Assert(err, qt.IsNil)
	ballot, err := circuit.SealBallot(cipher, vote)
	c.Assert(err, qt.IsNil)
	return ballot
}

// waitComputation waits until the computation is executed and applied.
func waitComputation(c *qt.C, cli *client.HTTPclient, id string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	comp, err := cli.WaitComputation(ctx, id, 50*time.Millisecond)
	c.Assert(err, qt.IsNil)
	return comp.Status
}
