package types

import (
	"fmt"
	"time"
)

// ArgKind is the type of a computation argument.
type ArgKind uint8

const (
	// ArgPublicKey is the X25519 public key of the submitter that sealed the
	// following ciphertext.
	ArgPublicKey ArgKind = iota + 1
	// ArgNonce is the nonce of the following ciphertext.
	ArgNonce
	// ArgCiphertext is a sealed value.
	ArgCiphertext
	// ArgPlaintextU64 is a big endian unsigned 64 bit plaintext value.
	ArgPlaintextU64
	// ArgAccount is a reference to a sealed value stored by the slot owner.
	// Requests carrying the same account are executed one at a time.
	ArgAccount
)

var argKindNames = map[ArgKind]string{
	ArgPublicKey:    "publicKey",
	ArgNonce:        "nonce",
	ArgCiphertext:   "ciphertext",
	ArgPlaintextU64: "plaintextU64",
	ArgAccount:      "account",
}

func (k ArgKind) String() string {
	if name, ok := argKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(k))
}

// Argument is a single typed argument of a computation request.
type Argument struct {
	Kind  ArgKind  `json:"kind"  cbor:"0,keyasint"`
	Value HexBytes `json:"value" cbor:"1,keyasint"`
}

// ComputationRequest is a request submitted to the computation bridge. The
// callback for the request is delivered to the handler of Slot and carries
// the same ID.
type ComputationRequest struct {
	ID          string     `json:"id"          cbor:"0,keyasint"`
	Operation   string     `json:"operation"   cbor:"1,keyasint"`
	Arguments   []Argument `json:"arguments"   cbor:"2,keyasint"`
	Slot        string     `json:"slot"        cbor:"3,keyasint"`
	Submitter   string     `json:"submitter"   cbor:"4,keyasint"`
	SubmittedAt time.Time  `json:"submittedAt" cbor:"5,keyasint"`
}

// Account returns the first account referenced by the request, or nil.
func (r *ComputationRequest) Account() HexBytes {
	for _, arg := range r.Arguments {
		if arg.Kind == ArgAccount {
			return arg.Value
		}
	}
	return nil
}

// CallbackStatus is the result tag of a computation callback.
type CallbackStatus uint8

const (
	CallbackSuccess CallbackStatus = iota + 1
	CallbackAborted
)

func (s CallbackStatus) String() string {
	switch s {
	case CallbackSuccess:
		return "success"
	case CallbackAborted:
		return "aborted"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s CallbackStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *CallbackStatus) UnmarshalText(text []byte) error {
	switch string(text) {
	case "success":
		*s = CallbackSuccess
	case "aborted":
		*s = CallbackAborted
	default:
		return fmt.Errorf("unknown callback status %q", text)
	}
	return nil
}

// ComputationCallback is the single result delivered for an accepted
// computation request. Account is the account the request was serialized on,
// if any.
type ComputationCallback struct {
	ID         string         `json:"id"                cbor:"0,keyasint"`
	Operation  string         `json:"operation"         cbor:"1,keyasint"`
	Slot       string         `json:"slot"              cbor:"2,keyasint"`
	Status     CallbackStatus `json:"status"            cbor:"3,keyasint"`
	Output     HexBytes       `json:"output,omitempty"  cbor:"4,keyasint,omitempty"`
	Reason     string         `json:"reason,omitempty"  cbor:"5,keyasint,omitempty"`
	ExecutedAt time.Time      `json:"executedAt"        cbor:"6,keyasint"`
	Account    HexBytes       `json:"account,omitempty" cbor:"7,keyasint,omitempty"`
}

// Succeeded reports whether the computation succeeded.
func (cb *ComputationCallback) Succeeded() bool {
	return cb.Status == CallbackSuccess
}
