package envelope

import (
	"encoding/json"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestOwnerContext(t *testing.T) {
	c := qt.New(t)

	cluster, err := GenerateClusterKey()
	c.Assert(err, qt.IsNil)
	owner, err := cluster.OwnerCipher()
	c.Assert(err, qt.IsNil)
	c.Assert(owner.Context(), qt.Equals, OwnerContext())

	env, err := owner.Seal([]byte("tally"))
	c.Assert(err, qt.IsNil)
	c.Assert(env.Context.Kind, qt.Equals, ContextOwner)
	c.Assert(env.Validate(), qt.IsNil)

	plain, err := owner.Open(env)
	c.Assert(err, qt.IsNil)
	c.Assert(string(plain), qt.Equals, "tally")

	// the same cluster restored from its private bytes opens it too
	restored, err := NewClusterKey(cluster.Bytes())
	c.Assert(err, qt.IsNil)
	c.Assert(restored.PublicKey(), qt.Equals, cluster.PublicKey())
	restoredOwner, err := restored.OwnerCipher()
	c.Assert(err, qt.IsNil)
	plain, err = restoredOwner.Open(env)
	c.Assert(err, qt.IsNil)
	c.Assert(string(plain), qt.Equals, "tally")

	// another cluster cannot
	other, err := GenerateClusterKey()
	c.Assert(err, qt.IsNil)
	otherOwner, err := other.OwnerCipher()
	c.Assert(err, qt.IsNil)
	_, err = otherOwner.Open(env)
	c.Assert(err, qt.ErrorIs, ErrForeignCiphertext)
}

func TestSharedContext(t *testing.T) {
	c := qt.New(t)

	cluster, err := GenerateClusterKey()
	c.Assert(err, qt.IsNil)
	voter, err := GenerateSubmitterKey()
	c.Assert(err, qt.IsNil)

	voterCipher, err := voter.SharedCipher(cluster.PublicKey())
	c.Assert(err, qt.IsNil)
	c.Assert(voterCipher.Context(), qt.Equals, SharedContext(voter.PublicKey()))

	env, err := voterCipher.Seal([]byte{1})
	c.Assert(err, qt.IsNil)

	clusterCipher, err := cluster.CipherFor(env.Context)
	c.Assert(err, qt.IsNil)
	plain, err := clusterCipher.Open(env)
	c.Assert(err, qt.IsNil)
	c.Assert(plain, qt.DeepEquals, []byte{1})

	// the submitter can open values the cluster seals in the shared context
	back, err := clusterCipher.Seal([]byte{2})
	c.Assert(err, qt.IsNil)
	plain, err = voterCipher.Open(back)
	c.Assert(err, qt.IsNil)
	c.Assert(plain, qt.DeepEquals, []byte{2})
}

func TestWrongContext(t *testing.T) {
	c := qt.New(t)

	cluster, err := GenerateClusterKey()
	c.Assert(err, qt.IsNil)
	voter, err := GenerateSubmitterKey()
	c.Assert(err, qt.IsNil)
	voterCipher, err := voter.SharedCipher(cluster.PublicKey())
	c.Assert(err, qt.IsNil)
	owner, err := cluster.OwnerCipher()
	c.Assert(err, qt.IsNil)

	ballot, err := voterCipher.Seal([]byte{1})
	c.Assert(err, qt.IsNil)

	// opening a shared envelope with the owner cipher is rejected
	_, err = owner.Open(ballot)
	c.Assert(err, qt.ErrorIs, ErrContextMismatch)

	// relabeling the context does not help, the tag is authenticated
	relabeled := *ballot
	relabeled.Context = OwnerContext()
	_, err = owner.Open(&relabeled)
	c.Assert(err, qt.ErrorIs, ErrForeignCiphertext)

	// a ballot claiming another submitter does not open either
	intruder, err := GenerateSubmitterKey()
	c.Assert(err, qt.IsNil)
	spoofed := *ballot
	spoofed.Context = SharedContext(intruder.PublicKey())
	intruderCipher, err := cluster.CipherFor(spoofed.Context)
	c.Assert(err, qt.IsNil)
	_, err = intruderCipher.Open(&spoofed)
	c.Assert(err, qt.ErrorIs, ErrForeignCiphertext)

	// tampered ciphertext
	tampered := *ballot
	tampered.Ciphertext = append([]byte(nil), ballot.Ciphertext...)
	tampered.Ciphertext[0] ^= 0xff
	clusterCipher, err := cluster.CipherFor(ballot.Context)
	c.Assert(err, qt.IsNil)
	_, err = clusterCipher.Open(&tampered)
	c.Assert(err, qt.ErrorIs, ErrForeignCiphertext)
}

func TestReseal(t *testing.T) {
	c := qt.New(t)

	cluster, err := GenerateClusterKey()
	c.Assert(err, qt.IsNil)
	voter, err := GenerateSubmitterKey()
	c.Assert(err, qt.IsNil)
	voterCipher, err := voter.SharedCipher(cluster.PublicKey())
	c.Assert(err, qt.IsNil)
	shared, err := cluster.SharedCipher(voter.PublicKey())
	c.Assert(err, qt.IsNil)
	owner, err := cluster.OwnerCipher()
	c.Assert(err, qt.IsNil)

	env, err := voterCipher.Seal([]byte("value"))
	c.Assert(err, qt.IsNil)
	moved, err := Reseal(shared, owner, env)
	c.Assert(err, qt.IsNil)
	c.Assert(moved.Context, qt.Equals, OwnerContext())

	plain, err := owner.Open(moved)
	c.Assert(err, qt.IsNil)
	c.Assert(string(plain), qt.Equals, "value")

	_, err = Reseal(owner, shared, env)
	c.Assert(err, qt.ErrorIs, ErrContextMismatch)
}

func TestValidate(t *testing.T) {
	c := qt.New(t)

	var nilEnv *Envelope
	c.Assert(nilEnv.Validate(), qt.ErrorIs, ErrMalformedEnvelope)
	c.Assert((&Envelope{Context: Context{Kind: 9}}).Validate(), qt.ErrorIs, ErrMalformedEnvelope)
	c.Assert((&Envelope{Context: OwnerContext(), Nonce: []byte{1}}).Validate(), qt.ErrorIs, ErrMalformedEnvelope)
	c.Assert((&Envelope{
		Context:    SharedContext(PublicKey{}),
		Nonce:      make([]byte, NonceSize),
		Ciphertext: make([]byte, 32),
	}).Validate(), qt.ErrorIs, ErrMalformedEnvelope)

	_, err := PublicKeyFromBytes([]byte{1, 2})
	c.Assert(err, qt.ErrorIs, ErrInvalidKey)
	_, err = NewClusterKey([]byte{1})
	c.Assert(err, qt.ErrorIs, ErrInvalidKey)
}

func TestEnvelopeJSON(t *testing.T) {
	c := qt.New(t)

	voter, err := GenerateSubmitterKey()
	c.Assert(err, qt.IsNil)
	cluster, err := GenerateClusterKey()
	c.Assert(err, qt.IsNil)
	voterCipher, err := voter.SharedCipher(cluster.PublicKey())
	c.Assert(err, qt.IsNil)
	env, err := voterCipher.Seal([]byte{0})
	c.Assert(err, qt.IsNil)

	data, err := json.Marshal(env)
	c.Assert(err, qt.IsNil)
	decoded := &Envelope{}
	c.Assert(json.Unmarshal(data, decoded), qt.IsNil)
	c.Assert(decoded.Equal(env), qt.IsTrue)
}
