//nolint:lll
package api

import (
	"fmt"
	"net/http"
)

// The custom Error type satisfies the error interface.
// Error() returns a human-readable description of the error.
//
// Error codes in the 40001-49999 range are the user's fault,
// and they return HTTP Status 400, 403, 404 or 409, whatever is most appropriate.
//
// Error codes 50001-59999 are the server's fault
// and they return HTTP Status 500 or 503, or something else if appropriate.
//
// NEVER change any of the current error codes, only append new errors after the current last 4XXXX or 5XXXX.
// If you notice there's a gap (say, error code 40010, 40011 and 40013 exist, 40012 is missing) DON'T fill in the gap,
// that code was used in the past for some error (not anymore) and shouldn't be reused.
// There's no correlation between Code and HTTP Status.
var (
	ErrResourceNotFound       = Error{Code: 40001, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("resource not found")}
	ErrMalformedBody          = Error{Code: 40004, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed JSON body")}
	ErrInvalidSignature       = Error{Code: 40005, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("invalid signature")}
	ErrMalformedPollID        = Error{Code: 40006, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed poll ID")}
	ErrPollNotFound           = Error{Code: 40007, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("poll not found")}
	ErrMalformedAddress       = Error{Code: 40008, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed address")}
	ErrReceiptNotFound        = Error{Code: 40009, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("receipt not found")}
	ErrPollExists             = Error{Code: 40010, HTTPstatus: http.StatusConflict, Err: fmt.Errorf("poll already exists")}
	ErrInvalidWindow          = Error{Code: 40011, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("invalid voting window")}
	ErrInvalidQuestion        = Error{Code: 40012, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("invalid question")}
	ErrPollFinalized          = Error{Code: 40013, HTTPstatus: http.StatusConflict, Err: fmt.Errorf("poll already finalized")}
	ErrVotingNotStarted       = Error{Code: 40014, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("voting has not started")}
	ErrVotingTimeExceeded     = Error{Code: 40015, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("voting time exceeded")}
	ErrAlreadyVoted           = Error{Code: 40016, HTTPstatus: http.StatusConflict, Err: fmt.Errorf("voter already voted")}
	ErrMalformedBallot        = Error{Code: 40017, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed ballot")}
	ErrInvalidAuthority       = Error{Code: 40018, HTTPstatus: http.StatusForbidden, Err: fmt.Errorf("requester is not the poll authority")}
	ErrWaitTillEndTime        = Error{Code: 40019, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("poll voting window has not ended")}
	ErrRevealPending          = Error{Code: 40020, HTTPstatus: http.StatusConflict, Err: fmt.Errorf("reveal already requested")}
	ErrTallyNotReady          = Error{Code: 40021, HTTPstatus: http.StatusConflict, Err: fmt.Errorf("poll tally is not ready")}
	ErrTallyNotFailed         = Error{Code: 40022, HTTPstatus: http.StatusConflict, Err: fmt.Errorf("poll tally initialization has not failed")}
	ErrComputationNotFound    = Error{Code: 40023, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("computation not found")}
	ErrMalformedComputationID = Error{Code: 40024, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed computation ID")}

	ErrMarshalingServerJSONFailed = Error{Code: 50001, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("marshaling (server-side) JSON failed")}
	ErrGenericInternalServerError = Error{Code: 50002, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("internal server error")}
	ErrComputationQueueFailed     = Error{Code: 50003, HTTPstatus: http.StatusServiceUnavailable, Err: fmt.Errorf("computation could not be queued")}
)
