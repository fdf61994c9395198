package responder

import (
	"encoding/json"
	"log"
	"net/http"
)

type successEnvelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type errorEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// New writes a 200 response with the standard success envelope
func New(w http.ResponseWriter, data any) {
	write(w, http.StatusOK, successEnvelope{Success: true, Data: data})
}

// Error writes an error response with the given status and message
func Error(w http.ResponseWriter, status int, message string) {
	write(w, status, errorEnvelope{Error: message})
}

// ErrorWithCause logs the underlying error server-side and writes the
// public message to the client. The cause never reaches the response body.
func ErrorWithCause(w http.ResponseWriter, status int, message string, cause error) {
	log.Printf("%s: %v", message, cause)
	Error(w, status, message)
}

func write(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}
