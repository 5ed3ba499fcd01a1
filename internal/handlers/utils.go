package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"lazythumb/internal/item"
)

// errorResponse is the JSON body of every failed request.
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// writeJSON encodes v as JSON and writes it to the response writer.
// Any encoding or write errors are logged since we typically cannot
// recover from them in an HTTP handler context.
func writeJSON(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("failed to encode JSON response: %v", err)
	}
}

// writeJSONCode writes v as JSON with the given status code.
func writeJSONCode(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	writeJSON(w, v)
}

// writeJSONError writes an error response as JSON with the given status code.
func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	writeJSONCode(w, statusCode, errorResponse{Error: message})
}

// writeJSONStatus writes a simple status response as JSON.
func writeJSONStatus(w http.ResponseWriter, statusCode int, status string) {
	writeJSONCode(w, statusCode, map[string]string{"status": status})
}

// fail maps err to a status code through the item error taxonomy.
func fail(w http.ResponseWriter, op string, err error) {
	code := statusCode(err)
	if code >= http.StatusInternalServerError {
		log.Error("%s: %v", op, err)
	} else {
		log.Debug("%s: %v", op, err)
	}
	writeJSONCode(w, code, errorResponse{Error: err.Error(), Kind: item.ErrorKind(err)})
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, errInvalidPath):
		return http.StatusBadRequest
	case errors.Is(err, item.ErrItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, item.ErrProviderUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
