package circuit

import (
	"context"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/vocdoni/confidential-polls/computation"
	"github.com/vocdoni/confidential-polls/crypto/envelope"
	"github.com/vocdoni/confidential-polls/types"
)

var (
	initTallyParams    = []types.ArgKind{types.ArgAccount}
	voteParams         = []types.ArgKind{types.ArgPublicKey, types.ArgNonce, types.ArgCiphertext, types.ArgAccount}
	revealResultParams = []types.ArgKind{types.ArgAccount}
)

// Definitions returns the operations of the circuit, ready to be added to a
// computation registry.
func (c *Circuit) Definitions() []*computation.Definition {
	return []*computation.Definition{
		{
			Name:    types.OpInitTally,
			Params:  initTallyParams,
			Execute: c.executeInit,
		},
		{
			Name:    types.OpVote,
			Params:  voteParams,
			Execute: c.executeVote,
		},
		{
			Name:    types.OpRevealResult,
			Params:  revealResultParams,
			Execute: c.executeReveal,
		},
	}
}

// executeInit ignores the account, which is only there to order the
// initialization before the votes of the same poll.
func (c *Circuit) executeInit(_ context.Context, _ *computation.Inputs) ([]byte, error) {
	tally, err := c.Initialize()
	if err != nil {
		return nil, err
	}
	return encMode.Marshal(tally)
}

func (c *Circuit) executeVote(_ context.Context, in *computation.Inputs) ([]byte, error) {
	submitter, err := envelope.PublicKeyFromBytes(in.Arg(0))
	if err != nil {
		return nil, err
	}
	ballot := &envelope.Envelope{
		Context:    envelope.SharedContext(submitter),
		Nonce:      in.Arg(1),
		Ciphertext: in.Arg(2),
	}
	tally, err := in.ReadAccount(3)
	if err != nil {
		return nil, fmt.Errorf("read tally: %w", err)
	}
	next, err := c.Accumulate(ballot, tally)
	if err != nil {
		return nil, err
	}
	return encMode.Marshal(next)
}

func (c *Circuit) executeReveal(_ context.Context, in *computation.Inputs) ([]byte, error) {
	tally, err := in.ReadAccount(0)
	if err != nil {
		return nil, fmt.Errorf("read tally: %w", err)
	}
	majority, err := c.Reveal(tally)
	if err != nil {
		return nil, err
	}
	if majority {
		return []byte{1}, nil
	}
	return []byte{0}, nil
}

// InitTallyArguments builds the arguments of an init_tally request.
func InitTallyArguments(account []byte) []types.Argument {
	return []types.Argument{{Kind: types.ArgAccount, Value: account}}
}

// VoteArguments builds the arguments of a vote request from a sealed ballot.
func VoteArguments(ballot *envelope.Envelope, account []byte) []types.Argument {
	return []types.Argument{
		{Kind: types.ArgPublicKey, Value: ballot.Context.Submitter[:]},
		{Kind: types.ArgNonce, Value: ballot.Nonce},
		{Kind: types.ArgCiphertext, Value: ballot.Ciphertext},
		{Kind: types.ArgAccount, Value: account},
	}
}

// RevealResultArguments builds the arguments of a reveal_result request.
func RevealResultArguments(account []byte) []types.Argument {
	return []types.Argument{{Kind: types.ArgAccount, Value: account}}
}

// DecodeTallyOutput decodes the output of init_tally and vote.
func DecodeTallyOutput(out []byte) (*envelope.Envelope, error) {
	tally := &envelope.Envelope{}
	if err := cbor.Unmarshal(out, tally); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPlaintext, err)
	}
	if err := tally.Validate(); err != nil {
		return nil, err
	}
	if tally.Context.Kind != envelope.ContextOwner {
		return nil, fmt.Errorf("%w: tally sealed in %s context", envelope.ErrContextMismatch, tally.Context)
	}
	return tally, nil
}

// DecodeRevealOutput decodes the output of reveal_result.
func DecodeRevealOutput(out []byte) (bool, error) {
	if len(out) != 1 || out[0] > 1 {
		return false, fmt.Errorf("%w: reveal output %x", ErrMalformedPlaintext, out)
	}
	return out[0] == 1, nil
}
