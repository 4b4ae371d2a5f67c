package web

// errors.go turns service errors into HTTP responses.
//
// Every error is:
//   - logged with its technical detail and the request ID
//   - returned as a JSON body carrying core.MapError's message and code
//   - given a status derived from its core.Kind

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/JonMunkholm/sheetload/internal/core"
	"github.com/JonMunkholm/sheetload/internal/logging"
	"github.com/JonMunkholm/sheetload/internal/upload"
)

// ErrorResponse is the body of every error response. Outcome is set when an
// import stopped part-way and some rows were already handled.
type ErrorResponse struct {
	Error   string              `json:"error"`
	Message string              `json:"message"`
	Action  string              `json:"action,omitempty"`
	Code    string              `json:"code"`
	Outcome *core.ImportOutcome `json:"outcome,omitempty"`
}

// statusFor maps an error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, upload.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}

	switch core.KindOf(err) {
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindInvalidInput:
		return http.StatusBadRequest
	case core.KindBusy, core.KindConnectionFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes its user-facing form.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	respondImportError(w, r, err, nil)
}

// respondImportError is respondError with the partial outcome of an import
// that stopped early.
func respondImportError(w http.ResponseWriter, r *http.Request, err error, outcome *core.ImportOutcome) {
	status := statusFor(err)
	uerr := core.NewUserError(err)
	msg := uerr.User

	logger := logging.FromContext(r.Context())
	log := logger.Warn
	if status >= http.StatusInternalServerError {
		log = logger.Error
	}
	log("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", uerr.Technical.Error(),
		"kind", core.KindOf(err).String(),
		"code", msg.Code,
	)

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "30")
	}

	writeJSONStatus(w, status, ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
		Outcome: outcome,
	})
}

// writeJSON writes v with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

// writeJSONStatus encodes v as the response body. Encoding errors are only
// logged since the header is already sent.
func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(context.Background()).Error("json encode error", "error", err)
	}
}
