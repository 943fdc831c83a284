package client

import (
	"context"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vocdoni/confidential-polls/api"
	"github.com/vocdoni/confidential-polls/crypto/envelope"
	"github.com/vocdoni/confidential-polls/crypto/ethereum"
	"github.com/vocdoni/confidential-polls/types"
)

// Info returns the node info.
func (c *HTTPclient) Info() (*api.Info, error) {
	info := &api.Info{}
	if err := c.call(http.MethodGet, nil, info, api.InfoEndpoint); err != nil {
		return nil, err
	}
	return info, nil
}

// CreatePoll creates a poll with the signer as authority.
func (c *HTTPclient) CreatePoll(signer *ethereum.SignKeys, nonce uint64, question string,
	start, end time.Time,
) (*api.Poll, error) {
	req := &api.NewPoll{
		Nonce:    nonce,
		Question: question,
		Start:    start.Unix(),
		End:      end.Unix(),
	}
	sig, err := signer.SignEthereum(api.NewPollMessage(req.Nonce, req.Question, req.Start, req.End))
	if err != nil {
		return nil, err
	}
	req.Signature = sig
	poll := &api.Poll{}
	if err := c.call(http.MethodPost, req, poll, api.PollsEndpoint); err != nil {
		return nil, err
	}
	return poll, nil
}

// Poll returns a poll.
func (c *HTTPclient) Poll(pollID types.HexBytes) (*api.Poll, error) {
	poll := &api.Poll{}
	if err := c.call(http.MethodGet, nil, poll, "polls", pollID.String()); err != nil {
		return nil, err
	}
	return poll, nil
}

// Polls lists the polls of the node.
func (c *HTTPclient) Polls() ([]*api.Poll, error) {
	polls := &api.Polls{}
	if err := c.call(http.MethodGet, nil, polls, api.PollsEndpoint); err != nil {
		return nil, err
	}
	return polls.Polls, nil
}

// CastVote casts a ballot signed by the voter.
func (c *HTTPclient) CastVote(voter *ethereum.SignKeys, pollID types.HexBytes,
	ballot *envelope.Envelope,
) (*types.VoteReceipt, error) {
	sig, err := voter.SignEthereum(api.VoteMessage(pollID, ballot))
	if err != nil {
		return nil, err
	}
	receipt := &types.VoteReceipt{}
	if err := c.call(http.MethodPost, &api.Vote{Ballot: ballot, Signature: sig}, receipt,
		"polls", pollID.String(), "votes"); err != nil {
		return nil, err
	}
	return receipt, nil
}

// Receipt returns the receipt of a voter.
func (c *HTTPclient) Receipt(pollID types.HexBytes, voter common.Address) (*types.VoteReceipt, error) {
	receipt := &types.VoteReceipt{}
	if err := c.call(http.MethodGet, nil, receipt, "polls", pollID.String(), "receipts", voter.Hex()); err != nil {
		return nil, err
	}
	return receipt, nil
}

// RequestReveal asks for the reveal of the poll outcome and returns the
// identifier of the queued computation.
func (c *HTTPclient) RequestReveal(signer *ethereum.SignKeys, pollID types.HexBytes) (string, error) {
	sig, err := signer.SignEthereum(api.RevealMessage(pollID))
	if err != nil {
		return "", err
	}
	resp := &api.Reveal{}
	if err := c.call(http.MethodPost, &api.SignedRequest{Signature: sig}, resp,
		"polls", pollID.String(), "reveal"); err != nil {
		return "", err
	}
	return resp.ComputationID, nil
}

// RetryTallyInit requeues a failed tally initialization.
func (c *HTTPclient) RetryTallyInit(signer *ethereum.SignKeys, pollID types.HexBytes) (*api.Poll, error) {
	sig, err := signer.SignEthereum(api.RetryTallyMessage(pollID))
	if err != nil {
		return nil, err
	}
	poll := &api.Poll{}
	if err := c.call(http.MethodPost, &api.SignedRequest{Signature: sig}, poll,
		"polls", pollID.String(), "tally", "retry"); err != nil {
		return nil, err
	}
	return poll, nil
}

// Computation returns the status of a computation.
func (c *HTTPclient) Computation(id string) (*api.Computation, error) {
	comp := &api.Computation{}
	if err := c.call(http.MethodGet, nil, comp, "computations", id); err != nil {
		return nil, err
	}
	return comp, nil
}

// WaitComputation polls the status of a computation until it is done or the
// context is canceled.
func (c *HTTPclient) WaitComputation(ctx context.Context, id string, interval time.Duration) (*api.Computation, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		comp, err := c.Computation(id)
		if err != nil {
			return nil, err
		}
		if comp.Done() {
			return comp, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
