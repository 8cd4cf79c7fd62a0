// Package httpx provides JSON responders and the fixed error envelope shared
// by every API handler.
package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// ErrorBody is the documented error envelope.
type ErrorBody struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

type errorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// JSON writes the value with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Error maps a domain error onto the envelope. Unknown errors become
// INTERNAL_ERROR with the message suppressed.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	body := ErrorBody{Code: code, Message: err.Error()}
	if status == http.StatusInternalServerError {
		body.Message = "internal error"
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		body.Details = ve.Fields
	}
	if r != nil {
		body.RequestID = middleware.GetReqID(r.Context())
	}
	JSON(w, status, errorEnvelope{Error: body})
}

// ErrorWithCode writes the envelope for a fixed code/status pair, bypassing
// error mapping. Used by middleware that never sees domain errors.
func ErrorWithCode(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	body := ErrorBody{Code: code, Message: message}
	if r != nil {
		body.RequestID = middleware.GetReqID(r.Context())
	}
	JSON(w, status, errorEnvelope{Error: body})
}
