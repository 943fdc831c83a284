package api

import (
	"encoding/json"
	"net/http"

	"github.com/vocdoni/confidential-polls/crypto/ethereum"
	"github.com/vocdoni/confidential-polls/log"
	"github.com/vocdoni/confidential-polls/types"
)

// newPoll creates a new poll. The authority is recovered from the signature.
// POST /polls
func (a *API) newPoll(w http.ResponseWriter, r *http.Request) {
	p := &NewPoll{}
	if err := json.NewDecoder(r.Body).Decode(p); err != nil {
		ErrMalformedBody.Withf("could not decode request body: %v", err).Write(w)
		return
	}
	authority, err := ethereum.AddrFromSignature(NewPollMessage(p.Nonce, p.Question, p.Start, p.End), p.Signature)
	if err != nil {
		ErrInvalidSignature.Withf("could not extract address from signature: %v", err).Write(w)
		return
	}
	poll, err := a.program.CreatePoll(r.Context(), authority, p.Nonce, p.Question, p.Window())
	if err != nil {
		apiError(err).Write(w)
		return
	}
	log.Debugw("new poll", "pollId", poll.ID.String(), "authority", authority.Hex())
	httpWriteJSON(w, a.pollView(poll))
}

// polls lists every poll.
// GET /polls
func (a *API) polls(w http.ResponseWriter, r *http.Request) {
	polls, err := a.program.Polls()
	if err != nil {
		apiError(err).Write(w)
		return
	}
	resp := &Polls{Polls: make([]*Poll, 0, len(polls))}
	for _, p := range polls {
		resp.Polls = append(resp.Polls, a.pollView(p))
	}
	httpWriteJSON(w, resp)
}

// poll returns the public record of a poll.
// GET /polls/{pollId}
func (a *API) poll(w http.ResponseWriter, r *http.Request) {
	pid, err := urlPollID(r)
	if err != nil {
		ErrMalformedPollID.WithErr(err).Write(w)
		return
	}
	poll, err := a.program.Poll(pid)
	if err != nil {
		apiError(err).Write(w)
		return
	}
	httpWriteJSON(w, a.pollView(poll))
}

// reveal queues the reveal of the poll outcome. Only the poll authority can
// request it.
// POST /polls/{pollId}/reveal
func (a *API) reveal(w http.ResponseWriter, r *http.Request) {
	pid, err := urlPollID(r)
	if err != nil {
		ErrMalformedPollID.WithErr(err).Write(w)
		return
	}
	req := &SignedRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		ErrMalformedBody.Withf("could not decode request body: %v", err).Write(w)
		return
	}
	requester, err := ethereum.AddrFromSignature(RevealMessage(pid), req.Signature)
	if err != nil {
		ErrInvalidSignature.Withf("could not extract address from signature: %v", err).Write(w)
		return
	}
	id, err := a.program.RequestReveal(r.Context(), pid, requester)
	if err != nil {
		apiError(err).Write(w)
		return
	}
	httpWriteJSON(w, &Reveal{ComputationID: id})
}

// retryTally requeues the initialization of a tally that failed.
// POST /polls/{pollId}/tally/retry
func (a *API) retryTally(w http.ResponseWriter, r *http.Request) {
	pid, err := urlPollID(r)
	if err != nil {
		ErrMalformedPollID.WithErr(err).Write(w)
		return
	}
	req := &SignedRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		ErrMalformedBody.Withf("could not decode request body: %v", err).Write(w)
		return
	}
	requester, err := ethereum.AddrFromSignature(RetryTallyMessage(pid), req.Signature)
	if err != nil {
		ErrInvalidSignature.Withf("could not extract address from signature: %v", err).Write(w)
		return
	}
	poll, err := a.program.RetryTallyInit(r.Context(), pid, requester)
	if err != nil {
		apiError(err).Write(w)
		return
	}
	httpWriteJSON(w, a.pollView(poll))
}

func (a *API) pollView(p *types.Poll) *Poll {
	return &Poll{Poll: p, State: p.State(a.now())}
}
