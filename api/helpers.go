package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/vocdoni/confidential-polls/log"
	"github.com/vocdoni/confidential-polls/types"
)

// httpWriteJSON helper function allows to write a JSON response.
func httpWriteJSON(w http.ResponseWriter, data any) {
	jdata, err := json.Marshal(data)
	if err != nil {
		ErrMarshalingServerJSONFailed.WithErr(err).Write(w)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	n, err := w.Write(jdata)
	if err != nil {
		log.Warnw("failed to write http response", "error", err)
	}
	if _, err := w.Write([]byte("\n")); err != nil {
		log.Warnw("failed to write on response", "error", err)
	}
	log.Debugw("api response", "bytes", n, "data", strings.ReplaceAll(string(jdata), "\"", ""))
}

// httpWriteOK helper function allows to write an OK response.
func httpWriteOK(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("\n")); err != nil {
		log.Warnw("failed to write on response", "error", err)
	}
}

// urlPollID parses the poll id URL parameter.
func urlPollID(r *http.Request) (types.HexBytes, error) {
	pid, err := types.PollIDFromString(chi.URLParam(r, PollURLParam))
	if err != nil {
		return nil, err
	}
	return pid.Marshal(), nil
}

// urlAddress parses the address URL parameter.
func urlAddress(r *http.Request) (common.Address, error) {
	s := chi.URLParam(r, AddressURLParam)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// urlComputationID parses the computation id URL parameter.
func urlComputationID(r *http.Request) (string, error) {
	id, err := uuid.Parse(chi.URLParam(r, ComputationURLParam))
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
