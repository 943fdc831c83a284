// Package envelope implements the encrypted value envelopes exchanged with the
// computation cluster. An envelope is a XChaCha20-Poly1305 ciphertext tagged
// with the context that can open it:
//
//   - owner context: only the cluster holding the owner key can open it. The
//     running tally lives in this context.
//   - shared context: the submitter and the cluster can open it. The key is
//     derived from an X25519 exchange between the submitter key and the
//     cluster key, so ballots are sealed in this context by voters.
//
// The context tag is bound to the ciphertext as additional data, so an
// envelope never opens under a context other than the one it was sealed for.
// Sealing and opening only happen through a *Cipher, a capability bound to a
// single context.
package envelope

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
)

const (
	// KeySize is the size of the X25519 keys in bytes.
	KeySize = curve25519.ScalarSize
	// NonceSize is the size of the envelope nonce in bytes.
	NonceSize = chacha20poly1305.NonceSizeX
)

var (
	// ErrContextMismatch is returned when an envelope is opened with a cipher
	// bound to a different context.
	ErrContextMismatch = errors.New("envelope context mismatch")
	// ErrForeignCiphertext is returned when the ciphertext does not
	// authenticate under the cipher key.
	ErrForeignCiphertext = errors.New("foreign or corrupted ciphertext")
	// ErrMalformedEnvelope is returned for structurally invalid envelopes.
	ErrMalformedEnvelope = errors.New("malformed envelope")
	// ErrInvalidKey is returned for unusable key material.
	ErrInvalidKey = errors.New("invalid key")
)

// ContextKind identifies who can open an envelope.
type ContextKind uint8

const (
	ContextOwner ContextKind = iota + 1
	ContextShared
)

func (k ContextKind) String() string {
	switch k {
	case ContextOwner:
		return "owner"
	case ContextShared:
		return "shared"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// PublicKey is an X25519 public key.
type PublicKey [KeySize]byte

// PublicKeyFromBytes copies b into a PublicKey.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	var pk PublicKey
	if len(b) != KeySize {
		return pk, fmt.Errorf("%w: public key length %d", ErrInvalidKey, len(b))
	}
	copy(pk[:], b)
	return pk, nil
}

// IsZero reports whether the key is all zeroes.
func (pk PublicKey) IsZero() bool {
	return pk == PublicKey{}
}

func (pk PublicKey) String() string {
	return hex.EncodeToString(pk[:])
}

// MarshalText implements encoding.TextMarshaler.
func (pk PublicKey) MarshalText() ([]byte, error) {
	return []byte(pk.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (pk *PublicKey) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(strings.TrimPrefix(string(text), "0x"))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	k, err := PublicKeyFromBytes(b)
	if err != nil {
		return err
	}
	*pk = k
	return nil
}

// Context is the encryption context tag of an envelope.
type Context struct {
	Kind      ContextKind `json:"kind"                cbor:"0,keyasint"`
	Submitter PublicKey   `json:"submitter,omitempty" cbor:"1,keyasint,omitempty"`
}

// OwnerContext returns the computation-owner context.
func OwnerContext() Context {
	return Context{Kind: ContextOwner}
}

// SharedContext returns the context shared between the given submitter and
// the cluster.
func SharedContext(submitter PublicKey) Context {
	return Context{Kind: ContextShared, Submitter: submitter}
}

// Valid reports whether the context is well formed.
func (c Context) Valid() bool {
	switch c.Kind {
	case ContextOwner:
		return c.Submitter.IsZero()
	case ContextShared:
		return !c.Submitter.IsZero()
	default:
		return false
	}
}

// Bytes returns the canonical encoding used as AEAD additional data.
func (c Context) Bytes() []byte {
	b := make([]byte, 0, 4+KeySize)
	b = append(b, "ctx"...)
	b = append(b, byte(c.Kind))
	return append(b, c.Submitter[:]...)
}

func (c Context) String() string {
	if c.Kind == ContextShared {
		return fmt.Sprintf("shared(%s)", c.Submitter)
	}
	return c.Kind.String()
}

// Envelope is a sealed value tagged with its encryption context.
type Envelope struct {
	Context    Context `json:"context"    cbor:"0,keyasint"`
	Nonce      []byte  `json:"nonce"      cbor:"1,keyasint"`
	Ciphertext []byte  `json:"ciphertext" cbor:"2,keyasint"`
}

// Validate checks the envelope structure without opening it.
func (e *Envelope) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil envelope", ErrMalformedEnvelope)
	}
	if !e.Context.Valid() {
		return fmt.Errorf("%w: invalid context %s", ErrMalformedEnvelope, e.Context)
	}
	if len(e.Nonce) != NonceSize {
		return fmt.Errorf("%w: nonce length %d", ErrMalformedEnvelope, len(e.Nonce))
	}
	if len(e.Ciphertext) < chacha20poly1305.Overhead {
		return fmt.Errorf("%w: ciphertext too short", ErrMalformedEnvelope)
	}
	return nil
}

// Equal reports whether both envelopes carry the same sealed bytes.
func (e *Envelope) Equal(o *Envelope) bool {
	if e == nil || o == nil {
		return e == o
	}
	return e.Context == o.Context &&
		bytes.Equal(e.Nonce, o.Nonce) &&
		bytes.Equal(e.Ciphertext, o.Ciphertext)
}

// Cipher seals and opens envelopes of a single context.
type Cipher struct {
	ctx  Context
	aead cipher.AEAD
}

func newCipher(ctx Context, key []byte) (*Cipher, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &Cipher{ctx: ctx, aead: aead}, nil
}

// Context returns the context this cipher is bound to.
func (c *Cipher) Context() Context {
	return c.ctx
}

// Seal encrypts plaintext under a fresh random nonce.
func (c *Cipher) Seal(plaintext []byte) (*Envelope, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return c.SealWithNonce(nonce, plaintext)
}

// SealWithNonce encrypts plaintext using the provided nonce. Callers must
// never reuse a nonce with the same cipher.
func (c *Cipher) SealWithNonce(nonce, plaintext []byte) (*Envelope, error) {
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: nonce length %d", ErrMalformedEnvelope, len(nonce))
	}
	return &Envelope{
		Context:    c.ctx,
		Nonce:      append([]byte(nil), nonce...),
		Ciphertext: c.aead.Seal(nil, nonce, plaintext, c.ctx.Bytes()),
	}, nil
}

// Open decrypts the envelope. It fails with ErrContextMismatch if the
// envelope was tagged for another context and with ErrForeignCiphertext if
// the ciphertext does not authenticate.
func (c *Cipher) Open(e *Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if e.Context != c.ctx {
		return nil, fmt.Errorf("%w: envelope is %s, cipher is %s", ErrContextMismatch, e.Context, c.ctx)
	}
	plaintext, err := c.aead.Open(nil, e.Nonce, e.Ciphertext, c.ctx.Bytes())
	if err != nil {
		return nil, ErrForeignCiphertext
	}
	return plaintext, nil
}

// Reseal opens e with from and seals the plaintext again with to. It is the
// only way to move a value between contexts.
func Reseal(from, to *Cipher, e *Envelope) (*Envelope, error) {
	plaintext, err := from.Open(e)
	if err != nil {
		return nil, err
	}
	return to.Seal(plaintext)
}
