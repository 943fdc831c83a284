package api

import (
	"errors"
	"net/http"

	"github.com/vocdoni/confidential-polls/computation"
)

// computation returns the status of a queued computation, so clients can
// learn the outcome of the requests accepted by the other endpoints.
// GET /computations/{computationId}
func (a *API) computation(w http.ResponseWriter, r *http.Request) {
	id, err := urlComputationID(r)
	if err != nil {
		ErrMalformedComputationID.WithErr(err).Write(w)
		return
	}
	cb, err := a.queue.Status(id)
	if err != nil {
		if errors.Is(err, computation.ErrCallbackNotFound) {
			ErrComputationNotFound.Write(w)
			return
		}
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	resp := &Computation{ID: id, Status: ComputationQueued}
	if cb != nil {
		resp.Operation = cb.Operation
		resp.Status = ComputationSuccess
		if !cb.Succeeded() {
			resp.Status = ComputationAborted
			resp.Reason = cb.Reason
		}
		executedAt := cb.ExecutedAt
		resp.ExecutedAt = &executedAt
	}
	httpWriteJSON(w, resp)
}
