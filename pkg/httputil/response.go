package httputil

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the body of every error response
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// WriteJSON encodes data as the response body with the given status
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes {"error": message} with status
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteErrorDetails(w, status, message, nil)
}

// WriteErrorDetails writes an error body carrying structured details, such
// as the permissions a denied caller is missing
func WriteErrorDetails(w http.ResponseWriter, status int, message string, details map[string]interface{}) {
	_ = WriteJSON(w, status, ErrorResponse{Error: message, Details: details})
}

// WriteInternalError writes a 500. err is never sent to the client; callers
// log it.
func WriteInternalError(w http.ResponseWriter, err error) {
	WriteError(w, http.StatusInternalServerError, "internal server error")
}

func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
