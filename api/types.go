package api

import (
	"time"

	"github.com/vocdoni/confidential-polls/crypto/envelope"
	"github.com/vocdoni/confidential-polls/types"
)

// Info is the response of the info endpoint.
type Info struct {
	ClusterPublicKey envelope.PublicKey `json:"clusterPublicKey"`
}

// NewPoll is the request to create a poll. The authority of the poll is the
// signer of the NewPollMessage. Start and End are unix timestamps in
// seconds.
type NewPoll struct {
	Nonce     uint64         `json:"nonce"`
	Question  string         `json:"question"`
	Start     int64          `json:"start"`
	End       int64          `json:"end"`
	Signature types.HexBytes `json:"signature"`
}

// Window returns the voting window of the request.
func (p *NewPoll) Window() types.Window {
	return types.Window{
		Start: time.Unix(p.Start, 0).UTC(),
		End:   time.Unix(p.End, 0).UTC(),
	}
}

// Poll is the public view of a poll.
type Poll struct {
	*types.Poll
	State types.PollState `json:"state"`
}

// Polls is the response of the poll list endpoint.
type Polls struct {
	Polls []*Poll `json:"polls"`
}

// Vote is the request to cast a vote. The voter is the signer of the
// VoteMessage.
type Vote struct {
	Ballot    *envelope.Envelope `json:"ballot"`
	Signature types.HexBytes     `json:"signature"`
}

// SignedRequest is the body of the authority-only poll operations.
type SignedRequest struct {
	Signature types.HexBytes `json:"signature"`
}

// Reveal is the response of the reveal endpoint.
type Reveal struct {
	ComputationID string `json:"computationId"`
}

// Computation status values.
const (
	ComputationQueued  = "queued"
	ComputationSuccess = "success"
	ComputationAborted = "aborted"
)

// Computation reports the status of a queued computation.
type Computation struct {
	ID         string     `json:"id"`
	Operation  string     `json:"operation,omitempty"`
	Status     string     `json:"status"`
	Reason     string     `json:"reason,omitempty"`
	ExecutedAt *time.Time `json:"executedAt,omitempty"`
}

// Done reports whether the computation has a terminal status.
func (c *Computation) Done() bool {
	return c.Status != ComputationQueued
}
