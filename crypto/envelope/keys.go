package envelope

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

var (
	ownerKeyInfo  = []byte("confidential-polls/owner")
	sharedKeyInfo = []byte("confidential-polls/shared")
)

// ClusterKey is the key material of the computation cluster. It owns the
// owner context and takes part in every shared context.
type ClusterKey struct {
	priv     [KeySize]byte
	pub      PublicKey
	ownerKey []byte
}

// GenerateClusterKey creates a new random cluster key.
func GenerateClusterKey() (*ClusterKey, error) {
	priv := make([]byte, KeySize)
	if _, err := rand.Read(priv); err != nil {
		return nil, fmt.Errorf("generate cluster key: %w", err)
	}
	return NewClusterKey(priv)
}

// NewClusterKey loads a cluster key from its private scalar.
func NewClusterKey(priv []byte) (*ClusterKey, error) {
	if len(priv) != KeySize {
		return nil, fmt.Errorf("%w: private key length %d", ErrInvalidKey, len(priv))
	}
	k := &ClusterKey{}
	copy(k.priv[:], priv)
	pub, err := curve25519.X25519(k.priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	copy(k.pub[:], pub)
	k.ownerKey, err = deriveKey(k.priv[:], ownerKeyInfo)
	if err != nil {
		return nil, err
	}
	return k, nil
}

// PublicKey returns the cluster public key that submitters seal to.
func (k *ClusterKey) PublicKey() PublicKey {
	return k.pub
}

// Bytes returns the private scalar, for persistence.
func (k *ClusterKey) Bytes() []byte {
	return append([]byte(nil), k.priv[:]...)
}

// OwnerCipher returns the cipher of the owner context.
func (k *ClusterKey) OwnerCipher() (*Cipher, error) {
	return newCipher(OwnerContext(), k.ownerKey)
}

// SharedCipher returns the cipher of the context shared with submitter.
func (k *ClusterKey) SharedCipher(submitter PublicKey) (*Cipher, error) {
	key, err := sharedKey(k.priv[:], submitter, submitter, k.pub)
	if err != nil {
		return nil, err
	}
	return newCipher(SharedContext(submitter), key)
}

// CipherFor returns the cluster cipher for any valid context.
func (k *ClusterKey) CipherFor(ctx Context) (*Cipher, error) {
	switch {
	case !ctx.Valid():
		return nil, fmt.Errorf("%w: invalid context %s", ErrMalformedEnvelope, ctx)
	case ctx.Kind == ContextOwner:
		return k.OwnerCipher()
	default:
		return k.SharedCipher(ctx.Submitter)
	}
}

// SubmitterKey is a client side X25519 key used to seal values in a shared
// context with the cluster.
type SubmitterKey struct {
	priv [KeySize]byte
	pub  PublicKey
}

// GenerateSubmitterKey creates a new random submitter key.
func GenerateSubmitterKey() (*SubmitterKey, error) {
	priv := make([]byte, KeySize)
	if _, err := rand.Read(priv); err != nil {
		return nil, fmt.Errorf("generate submitter key: %w", err)
	}
	k := &SubmitterKey{}
	copy(k.priv[:], priv)
	pub, err := curve25519.X25519(k.priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	copy(k.pub[:], pub)
	return k, nil
}

// PublicKey returns the submitter public key.
func (k *SubmitterKey) PublicKey() PublicKey {
	return k.pub
}

// SharedCipher returns the cipher of the context shared with the cluster
// identified by its public key.
func (k *SubmitterKey) SharedCipher(cluster PublicKey) (*Cipher, error) {
	key, err := sharedKey(k.priv[:], cluster, k.pub, cluster)
	if err != nil {
		return nil, err
	}
	return newCipher(SharedContext(k.pub), key)
}

func sharedKey(priv []byte, peer, submitter, cluster PublicKey) ([]byte, error) {
	secret, err := curve25519.X25519(priv, peer[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	info := make([]byte, 0, len(sharedKeyInfo)+2*KeySize)
	info = append(info, sharedKeyInfo...)
	info = append(info, submitter[:]...)
	info = append(info, cluster[:]...)
	return deriveKey(secret, info)
}

func deriveKey(secret, info []byte) ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, info), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}
