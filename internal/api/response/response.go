package response

import (
	"encoding/json"
	"net/http"
)

type envelope struct {
	Data any `json:"data"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// AckBody is what providers receive from a webhook. Providers only act on the
// HTTP status, so business errors are reported here under a 200.
type AckBody struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func JSON(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Data: data})
}

func Accepted(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusAccepted, envelope{Data: data})
}

// Plain writes v without the data envelope.
func Plain(w http.ResponseWriter, status int, v any) {
	writeJSON(w, status, v)
}

func Ack(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, AckBody{Status: "ok"})
}

func AckError(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, AckBody{Status: "error", Message: message})
}

func Error(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
