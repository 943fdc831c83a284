// Package circuit implements the confidential tally executed by the
// computation cluster. The tally {yes, no} only exists in plaintext inside
// the operations of this package: it is received and returned sealed under
// the owner context, and ballots are received sealed under the context shared
// between the voter and the cluster.
package circuit

import (
	"errors"
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"
	"github.com/vocdoni/confidential-polls/crypto/envelope"
)

var (
	// ErrOverflow is returned when a counter would wrap.
	ErrOverflow = errors.New("tally counter overflow")
	// ErrMalformedPlaintext is returned when an opened envelope does not
	// hold the expected value.
	ErrMalformedPlaintext = errors.New("malformed plaintext")
)

var encMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor encoding mode: %v", err))
	}
	return em
}()

// Ballot is the plaintext choice of a voter.
type Ballot struct {
	Vote bool `cbor:"0,keyasint"`
}

// Tally holds the running counters of a poll.
type Tally struct {
	Yes uint64 `cbor:"0,keyasint"`
	No  uint64 `cbor:"1,keyasint"`
}

// Add returns the tally with the ballot counted.
func (t Tally) Add(b Ballot) (Tally, error) {
	if b.Vote {
		if t.Yes == math.MaxUint64 {
			return t, fmt.Errorf("%w: yes", ErrOverflow)
		}
		t.Yes++
		return t, nil
	}
	if t.No == math.MaxUint64 {
		return t, fmt.Errorf("%w: no", ErrOverflow)
	}
	t.No++
	return t, nil
}

// Majority reports whether yes beat no. Ties are not a majority.
func (t Tally) Majority() bool {
	return t.Yes > t.No
}

// Circuit executes the tally operations with the cluster key.
type Circuit struct {
	key   *envelope.ClusterKey
	owner *envelope.Cipher
}

// New returns a circuit operating with the given cluster key.
func New(key *envelope.ClusterKey) (*Circuit, error) {
	if key == nil {
		return nil, fmt.Errorf("cluster key cannot be nil")
	}
	owner, err := key.OwnerCipher()
	if err != nil {
		return nil, err
	}
	return &Circuit{key: key, owner: owner}, nil
}

// Initialize returns a zero tally sealed under the owner context.
func (c *Circuit) Initialize() (*envelope.Envelope, error) {
	return c.sealTally(Tally{})
}

// Accumulate opens the ballot under its shared context and the tally under
// the owner context, counts the ballot, and seals the new tally under the
// owner context. Any failure leaves the caller without a new tally.
func (c *Circuit) Accumulate(ballot, tally *envelope.Envelope) (*envelope.Envelope, error) {
	b, err := c.openBallot(ballot)
	if err != nil {
		return nil, fmt.Errorf("open ballot: %w", err)
	}
	t, err := c.openTally(tally)
	if err != nil {
		return nil, fmt.Errorf("open tally: %w", err)
	}
	next, err := t.Add(b)
	if err != nil {
		return nil, err
	}
	return c.sealTally(next)
}

// Reveal opens the tally and returns whether yes has the majority. It is the
// only output that leaves the circuit in plaintext.
func (c *Circuit) Reveal(tally *envelope.Envelope) (bool, error) {
	t, err := c.openTally(tally)
	if err != nil {
		return false, fmt.Errorf("open tally: %w", err)
	}
	return t.Majority(), nil
}

func (c *Circuit) openBallot(e *envelope.Envelope) (Ballot, error) {
	var b Ballot
	if err := e.Validate(); err != nil {
		return b, err
	}
	if e.Context.Kind != envelope.ContextShared {
		return b, fmt.Errorf("%w: ballot sealed in %s context", envelope.ErrContextMismatch, e.Context)
	}
	cipher, err := c.key.CipherFor(e.Context)
	if err != nil {
		return b, err
	}
	plain, err := cipher.Open(e)
	if err != nil {
		return b, err
	}
	if err := cbor.Unmarshal(plain, &b); err != nil {
		return b, fmt.Errorf("%w: %v", ErrMalformedPlaintext, err)
	}
	return b, nil
}

func (c *Circuit) openTally(e *envelope.Envelope) (Tally, error) {
	var t Tally
	plain, err := c.owner.Open(e)
	if err != nil {
		return t, err
	}
	if err := cbor.Unmarshal(plain, &t); err != nil {
		return t, fmt.Errorf("%w: %v", ErrMalformedPlaintext, err)
	}
	return t, nil
}

func (c *Circuit) sealTally(t Tally) (*envelope.Envelope, error) {
	plain, err := encMode.Marshal(t)
	if err != nil {
		return nil, err
	}
	return c.owner.Seal(plain)
}

// SealBallot seals a ballot with a voter cipher. It is used by clients.
func SealBallot(cipher *envelope.Cipher, vote bool) (*envelope.Envelope, error) {
	if cipher.Context().Kind != envelope.ContextShared {
		return nil, fmt.Errorf("%w: ballots are sealed in shared context", envelope.ErrContextMismatch)
	}
	plain, err := encMode.Marshal(Ballot{Vote: vote})
	if err != nil {
		return nil, err
	}
	return cipher.Seal(plain)
}
