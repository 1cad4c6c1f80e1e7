package v1

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/tinoosan/shopledger/internal/errs"
)

// retryAfterSeconds is advertised on 503 after a transaction timeout.
const retryAfterSeconds = 2

// errorResponse is the standard error payload for the API.
type errorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Details map[string]string `json:"details,omitempty"`
	// Counts lists the records blocking a delete.
	Counts map[string]int `json:"counts,omitempty"`
}

func writeErr(w http.ResponseWriter, status int, msg, code string) {
	toJSON(w, status, errorResponse{Error: msg, Code: code})
}

func badRequest(w http.ResponseWriter, msg string) { writeErr(w, http.StatusBadRequest, msg, "bad_request") }

// writeServiceError maps domain errors onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var inUse *errs.InUseError
	switch {
	case errors.As(err, &inUse):
		toJSON(w, http.StatusConflict, errorResponse{Error: inUse.Error(), Code: "in_use", Counts: inUse.Counts})
	case errors.Is(err, errs.ErrInvalid):
		writeErr(w, http.StatusUnprocessableEntity, err.Error(), "validation_error")
	case errors.Is(err, errs.ErrNotFound):
		writeErr(w, http.StatusNotFound, err.Error(), "not_found")
	case errors.Is(err, errs.ErrSystemAccount):
		writeErr(w, http.StatusForbidden, err.Error(), "system_account")
	case errors.Is(err, errs.ErrForbidden):
		writeErr(w, http.StatusForbidden, err.Error(), "forbidden")
	case errors.Is(err, errs.ErrConflict):
		writeErr(w, http.StatusConflict, err.Error(), "conflict")
	case errors.Is(err, errs.ErrTxTimeout), errors.Is(err, context.DeadlineExceeded):
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
		writeErr(w, http.StatusServiceUnavailable, "transaction timed out; retry", "tx_timeout")
	case errors.Is(err, errs.ErrDrift):
		writeErr(w, http.StatusServiceUnavailable, err.Error(), "drift")
	default:
		s.log.Error("request failed", "req_id", chimw.GetReqID(r.Context()), "method", r.Method, "path", r.URL.Path, "err", err)
		writeErr(w, http.StatusInternalServerError, "internal error", "internal")
	}
}
