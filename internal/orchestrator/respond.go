package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/local/pdfdispatcher/internal/filetype"
	"github.com/local/pdfdispatcher/internal/operation"
	"github.com/local/pdfdispatcher/internal/selection"
)

// Error codes returned in the error envelope.
const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeUnsupportedType  = "UNSUPPORTED_FILE_TYPE"
	CodeTooLarge         = "FILE_TOO_LARGE"
	CodeNotFound         = "NOT_FOUND"
	CodeQueueFull        = "QUEUE_FULL"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeInternal         = "INTERNAL_ERROR"
)

// RequestError is a client mistake detected before any record exists.
type RequestError struct {
	Status  int
	Code    string
	Message string
}

func (e *RequestError) Error() string { return e.Message }

func badRequest(format string, args ...any) *RequestError {
	return &RequestError{Status: http.StatusBadRequest, Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...any) *RequestError {
	return &RequestError{Status: http.StatusNotFound, Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResp struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("write response")
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResp{Error: errorBody{Code: code, Message: msg}})
}

// writeErr maps err onto the error envelope. Unknown errors become a 500
// without leaking their text.
func writeErr(w http.ResponseWriter, err error) {
	var reqErr *RequestError
	var typeErr *filetype.UnsupportedTypeError
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &reqErr):
		writeError(w, reqErr.Status, reqErr.Code, reqErr.Message)
	case errors.As(err, &typeErr):
		writeError(w, http.StatusBadRequest, CodeUnsupportedType, typeErr.Error())
	case errors.As(err, &maxErr):
		writeError(w, http.StatusRequestEntityTooLarge, CodeTooLarge, "request body too large")
	case errors.Is(err, selection.ErrInvalidSelection):
		writeError(w, http.StatusBadRequest, CodeValidation, err.Error())
	case errors.Is(err, operation.ErrNotFound):
		writeError(w, http.StatusNotFound, CodeNotFound, "operation not found")
	default:
		log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal server error")
	}
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	writeError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, r.Method+" not allowed")
	return false
}
