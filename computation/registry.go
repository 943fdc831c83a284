// Package computation implements the bridge between the poll program and the
// confidential computation cluster. Requests are submitted to a persistent
// FIFO queue and executed out of band by the Executor, which delivers exactly
// one callback per accepted request to the slot the request was addressed to.
package computation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vocdoni/confidential-polls/crypto/envelope"
	"github.com/vocdoni/confidential-polls/types"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	// ErrDuplicateID is returned when the request identifier was already
	// accepted once.
	ErrDuplicateID = errors.New("duplicate computation identifier")
	// ErrInvalidID is returned when the request identifier is not a UUID.
	ErrInvalidID = errors.New("invalid computation identifier")
	// ErrUnknownOperation is returned for operations missing from the registry.
	ErrUnknownOperation = errors.New("unknown operation")
	// ErrMalformedArgument is returned when the arguments do not match the
	// operation parameters.
	ErrMalformedArgument = errors.New("malformed argument")
	// ErrUnauthorized is returned when the slot is not registered or the
	// submitter does not own it.
	ErrUnauthorized = errors.New("unauthorized submitter")
	// ErrCallbackRejected must be wrapped by slot handlers for callbacks that
	// can never be applied. Such callbacks are not delivered again.
	ErrCallbackRejected = errors.New("callback rejected by slot handler")
	// ErrCallbackNotFound is returned by Redeliver for computations that have
	// not been executed.
	ErrCallbackNotFound = errors.New("callback not found")
	// ErrAccountNotFound is returned by account readers for unknown accounts.
	ErrAccountNotFound = errors.New("account not found")
)

// AccountReader resolves account arguments into the sealed values they hold.
type AccountReader interface {
	ReadAccount(ref []byte) (*envelope.Envelope, error)
}

// Inputs are the arguments handed to an operation when it is executed.
type Inputs struct {
	Args     []types.Argument
	accounts AccountReader
}

// NewInputs builds the inputs of an execution. Account arguments are
// resolved through accounts.
func NewInputs(args []types.Argument, accounts AccountReader) *Inputs {
	return &Inputs{Args: args, accounts: accounts}
}

// Arg returns the i-th argument value. The arguments are validated against
// the operation parameters before execution, so i is always in range for the
// declared parameters.
func (in *Inputs) Arg(i int) []byte {
	return in.Args[i].Value
}

// ReadAccount resolves the account referenced by the i-th argument.
func (in *Inputs) ReadAccount(i int) (*envelope.Envelope, error) {
	if in.accounts == nil {
		return nil, fmt.Errorf("%w: slot has no account reader", ErrAccountNotFound)
	}
	return in.accounts.ReadAccount(in.Args[i].Value)
}

// ExecuteFunc runs an operation. The returned output is delivered in the
// success callback; an error produces an aborted callback.
type ExecuteFunc func(ctx context.Context, in *Inputs) ([]byte, error)

// Definition describes an operation the cluster can execute.
type Definition struct {
	Name    string
	Params  []types.ArgKind
	Execute ExecuteFunc
}

// Registry holds the operation definitions known by the cluster.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Register adds a definition. Names must be unique.
func (r *Registry) Register(defs ...*Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range defs {
		if d == nil || d.Name == "" || d.Execute == nil {
			return fmt.Errorf("invalid operation definition")
		}
		if _, ok := r.defs[d.Name]; ok {
			return fmt.Errorf("operation %q already registered", d.Name)
		}
		r.defs[d.Name] = d
	}
	return nil
}

// Definition returns the definition of the named operation.
func (r *Registry) Definition(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[name]
	return d, ok
}

// validateArguments checks the argument list against the parameters of the
// operation: same count, same kinds in the same order and well formed values.
func validateArguments(params []types.ArgKind, args []types.Argument) error {
	if len(params) != len(args) {
		return fmt.Errorf("%w: expected %d arguments, got %d", ErrMalformedArgument, len(params), len(args))
	}
	for i, arg := range args {
		if arg.Kind != params[i] {
			return fmt.Errorf("%w: argument %d is %s, expected %s", ErrMalformedArgument, i, arg.Kind, params[i])
		}
		if err := validateValue(arg); err != nil {
			return fmt.Errorf("%w: argument %d: %v", ErrMalformedArgument, i, err)
		}
	}
	return nil
}

func validateValue(arg types.Argument) error {
	n := len(arg.Value)
	switch arg.Kind {
	case types.ArgPublicKey:
		if n != envelope.KeySize {
			return fmt.Errorf("public key length %d", n)
		}
	case types.ArgNonce:
		if n != envelope.NonceSize {
			return fmt.Errorf("nonce length %d", n)
		}
	case types.ArgCiphertext:
		if n < chacha20poly1305.Overhead {
			return fmt.Errorf("ciphertext length %d", n)
		}
	case types.ArgPlaintextU64:
		if n != 8 {
			return fmt.Errorf("u64 length %d", n)
		}
	case types.ArgAccount:
		if n == 0 {
			return fmt.Errorf("empty account reference")
		}
	default:
		return fmt.Errorf("unknown kind %s", arg.Kind)
	}
	return nil
}
