package api

import (
	"encoding/json"
	"net/http"

	"github.com/vocdoni/confidential-polls/crypto/ethereum"
)

// newVote casts a sealed ballot. The voter is recovered from the signature
// and a voter gets a single counted ballot per poll.
// POST /polls/{pollId}/votes
func (a *API) newVote(w http.ResponseWriter, r *http.Request) {
	pid, err := urlPollID(r)
	if err != nil {
		ErrMalformedPollID.WithErr(err).Write(w)
		return
	}
	vote := &Vote{}
	if err := json.NewDecoder(r.Body).Decode(vote); err != nil {
		ErrMalformedBody.Withf("could not decode request body: %v", err).Write(w)
		return
	}
	if vote.Ballot == nil {
		ErrMalformedBallot.With("missing ballot").Write(w)
		return
	}
	voter, err := ethereum.AddrFromSignature(VoteMessage(pid, vote.Ballot), vote.Signature)
	if err != nil {
		ErrInvalidSignature.Withf("could not extract address from signature: %v", err).Write(w)
		return
	}
	receipt, err := a.program.CastVote(r.Context(), pid, voter, vote.Ballot)
	if err != nil {
		apiError(err).Write(w)
		return
	}
	httpWriteJSON(w, receipt)
}

// receipt returns the vote receipt of an address.
// GET /polls/{pollId}/receipts/{address}
func (a *API) receipt(w http.ResponseWriter, r *http.Request) {
	pid, err := urlPollID(r)
	if err != nil {
		ErrMalformedPollID.WithErr(err).Write(w)
		return
	}
	voter, err := urlAddress(r)
	if err != nil {
		ErrMalformedAddress.WithErr(err).Write(w)
		return
	}
	receipt, err := a.program.Receipt(pid, voter)
	if err != nil {
		apiError(err).Write(w)
		return
	}
	httpWriteJSON(w, receipt)
}
