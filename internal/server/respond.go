package server

import (
	"encoding/json"
	"net/http"

	"codeberg.org/mutker/vramwatch/internal/errors"
	"codeberg.org/mutker/vramwatch/internal/logger"
	"codeberg.org/mutker/vramwatch/internal/store"
	"codeberg.org/mutker/vramwatch/internal/timeseries"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// writeError maps domain error codes onto HTTP statuses. Anything without a
// mapping is a 500, logged with its code so the cause is traceable.
func writeError(w http.ResponseWriter, log logger.Logger, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.HasCode(err, ErrInvalidRequest),
		errors.HasCode(err, timeseries.ErrUnknownMetric),
		errors.HasCode(err, errors.ErrInvalidConfig):
		status = http.StatusBadRequest
	case errors.HasCode(err, store.ErrNodeNotFound),
		errors.HasCode(err, store.ErrSnapshotNotFound),
		errors.HasCode(err, timeseries.ErrNoData):
		status = http.StatusNotFound
	case errors.HasCode(err, store.ErrDuplicateNode):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("Request failed")
	}

	resp := errorResponse{Error: err.Error()}
	var domainErr errors.Error
	if errors.As(err, &domainErr) {
		resp.Code = string(domainErr.Code())
	}

	writeJSON(w, status, resp)
}
