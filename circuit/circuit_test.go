package circuit

import (
	"context"
	"math"
	"math/rand"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/fxamacker/cbor/v2"
	"github.com/vocdoni/confidential-polls/computation"
	"github.com/vocdoni/confidential-polls/crypto/envelope"
	"github.com/vocdoni/confidential-polls/types"
)

type testEnv struct {
	key     *envelope.ClusterKey
	circuit *Circuit
	owner   *envelope.Cipher
}

func newTestEnv(c *qt.C) *testEnv {
	key, err := envelope.GenerateClusterKey()
	c.Assert(err, qt.IsNil)
	circ, err := New(key)
	c.Assert(err, qt.IsNil)
	owner, err := key.OwnerCipher()
	c.Assert(err, qt.IsNil)
	return &testEnv{key: key, circuit: circ, owner: owner}
}

func (e *testEnv) ballot(c *qt.C, vote bool) *envelope.Envelope {
	voter, err := envelope.GenerateSubmitterKey()
	c.Assert(err, qt.IsNil)
	cipher, err := voter.SharedCipher(e.key.PublicKey())
	c.Assert(err, qt.IsNil)
	b, err := SealBallot(cipher, vote)
	c.Assert(err, qt.IsNil)
	return b
}

func (e *testEnv) open(c *qt.C, tally *envelope.Envelope) Tally {
	plain, err := e.owner.Open(tally)
	c.Assert(err, qt.IsNil)
	var t Tally
	c.Assert(cbor.Unmarshal(plain, &t), qt.IsNil)
	return t
}

func (e *testEnv) seal(c *qt.C, t Tally) *envelope.Envelope {
	tally, err := e.circuit.sealTally(t)
	c.Assert(err, qt.IsNil)
	return tally
}

func TestInitialize(t *testing.T) {
	c := qt.New(t)
	env := newTestEnv(c)

	tally, err := env.circuit.Initialize()
	c.Assert(err, qt.IsNil)
	c.Assert(tally.Context, qt.Equals, envelope.OwnerContext())
	c.Assert(env.open(c, tally), qt.Equals, Tally{})
}

func TestAccumulateAnyOrder(t *testing.T) {
	c := qt.New(t)
	env := newTestEnv(c)

	const yes, no = 7, 5
	var ballots []*envelope.Envelope
	for i := 0; i < yes; i++ {
		ballots = append(ballots, env.ballot(c, true))
	}
	for i := 0; i < no; i++ {
		ballots = append(ballots, env.ballot(c, false))
	}

	for round := 0; round < 5; round++ {
		rand.Shuffle(len(ballots), func(i, j int) { ballots[i], ballots[j] = ballots[j], ballots[i] })
		tally, err := env.circuit.Initialize()
		c.Assert(err, qt.IsNil)
		for _, b := range ballots {
			tally, err = env.circuit.Accumulate(b, tally)
			c.Assert(err, qt.IsNil)
			c.Assert(tally.Context, qt.Equals, envelope.OwnerContext())
		}
		c.Assert(env.open(c, tally), qt.Equals, Tally{Yes: yes, No: no})
	}
}

func TestReveal(t *testing.T) {
	c := qt.New(t)
	env := newTestEnv(c)

	for _, tc := range []struct {
		tally Tally
		want  bool
	}{
		{Tally{Yes: 5, No: 3}, true},
		{Tally{Yes: 3, No: 5}, false},
		{Tally{Yes: 4, No: 4}, false},
		{Tally{}, false},
	} {
		got, err := env.circuit.Reveal(env.seal(c, tc.tally))
		c.Assert(err, qt.IsNil)
		c.Assert(got, qt.Equals, tc.want, qt.Commentf("tally %+v", tc.tally))
	}
}

func TestOverflow(t *testing.T) {
	c := qt.New(t)
	env := newTestEnv(c)

	full := env.seal(c, Tally{Yes: math.MaxUint64, No: 1})
	_, err := env.circuit.Accumulate(env.ballot(c, true), full)
	c.Assert(err, qt.ErrorIs, ErrOverflow)

	// the other counter still has room
	next, err := env.circuit.Accumulate(env.ballot(c, false), full)
	c.Assert(err, qt.IsNil)
	c.Assert(env.open(c, next), qt.Equals, Tally{Yes: math.MaxUint64, No: 2})

	_, err = Tally{No: math.MaxUint64}.Add(Ballot{Vote: false})
	c.Assert(err, qt.ErrorIs, ErrOverflow)
}

func TestForeignCiphertext(t *testing.T) {
	c := qt.New(t)
	env := newTestEnv(c)
	tally, err := env.circuit.Initialize()
	c.Assert(err, qt.IsNil)

	// ballot sealed for another cluster
	other := newTestEnv(c)
	_, err = env.circuit.Accumulate(other.ballot(c, true), tally)
	c.Assert(err, qt.ErrorIs, envelope.ErrForeignCiphertext)

	// tally of another cluster
	foreignTally, err := other.circuit.Initialize()
	c.Assert(err, qt.IsNil)
	_, err = env.circuit.Accumulate(env.ballot(c, true), foreignTally)
	c.Assert(err, qt.ErrorIs, envelope.ErrForeignCiphertext)
	_, err = env.circuit.Reveal(foreignTally)
	c.Assert(err, qt.ErrorIs, envelope.ErrForeignCiphertext)

	// ballot and tally swapped
	_, err = env.circuit.Accumulate(tally, env.ballot(c, true))
	c.Assert(err, qt.ErrorIs, envelope.ErrContextMismatch)

	// a ciphertext that does not hold a ballot
	voter, err := envelope.GenerateSubmitterKey()
	c.Assert(err, qt.IsNil)
	cipher, err := voter.SharedCipher(env.key.PublicKey())
	c.Assert(err, qt.IsNil)
	garbage, err := cipher.Seal([]byte{0xff, 0xff})
	c.Assert(err, qt.IsNil)
	_, err = env.circuit.Accumulate(garbage, tally)
	c.Assert(err, qt.ErrorIs, ErrMalformedPlaintext)

	// ballots can only be sealed in shared context
	_, err = SealBallot(env.owner, true)
	c.Assert(err, qt.ErrorIs, envelope.ErrContextMismatch)
}

// accountMap serves sealed tallies by account reference.
type accountMap map[string]*envelope.Envelope

func (m accountMap) ReadAccount(ref []byte) (*envelope.Envelope, error) {
	e, ok := m[string(ref)]
	if !ok {
		return nil, computation.ErrAccountNotFound
	}
	return e, nil
}

func TestDefinitions(t *testing.T) {
	c := qt.New(t)
	env := newTestEnv(c)
	ctx := context.Background()

	registry := computation.NewRegistry()
	c.Assert(registry.Register(env.circuit.Definitions()...), qt.IsNil)
	def := func(name string) *computation.Definition {
		d, ok := registry.Definition(name)
		c.Assert(ok, qt.IsTrue)
		return d
	}
	account := []byte("poll")
	accounts := accountMap{}

	out, err := def(types.OpInitTally).Execute(ctx, computation.NewInputs(InitTallyArguments(account), accounts))
	c.Assert(err, qt.IsNil)
	tally, err := DecodeTallyOutput(out)
	c.Assert(err, qt.IsNil)
	accounts[string(account)] = tally

	for _, vote := range []bool{true, true, false} {
		args := VoteArguments(env.ballot(c, vote), account)
		out, err := def(types.OpVote).Execute(ctx, computation.NewInputs(args, accounts))
		c.Assert(err, qt.IsNil)
		tally, err := DecodeTallyOutput(out)
		c.Assert(err, qt.IsNil)
		accounts[string(account)] = tally
	}
	c.Assert(env.open(c, accounts[string(account)]), qt.Equals, Tally{Yes: 2, No: 1})

	out, err = def(types.OpRevealResult).Execute(ctx, computation.NewInputs(RevealResultArguments(account), accounts))
	c.Assert(err, qt.IsNil)
	majority, err := DecodeRevealOutput(out)
	c.Assert(err, qt.IsNil)
	c.Assert(majority, qt.IsTrue)

	// unknown account aborts
	_, err = def(types.OpRevealResult).Execute(ctx, computation.NewInputs(RevealResultArguments([]byte("x")), accounts))
	c.Assert(err, qt.ErrorIs, computation.ErrAccountNotFound)

	_, err = DecodeRevealOutput([]byte{2})
	c.Assert(err, qt.ErrorIs, ErrMalformedPlaintext)
	_, err = DecodeTallyOutput([]byte{0x01})
	c.Assert(err, qt.ErrorIs, ErrMalformedPlaintext)
}
