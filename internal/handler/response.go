package handler

import (
	"encoding/json"
	"net/http"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

type errorResponse struct {
	Error  string `json:"error"`
	Origin string `json:"origin,omitempty"`
	Status string `json:"status"`
}

type membershipResponse struct {
	Message        string   `json:"message,omitempty"`
	CurrentNumbers []string `json:"current_numbers"`
	Status         string   `json:"status"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message, origin string) {
	writeJSON(w, code, errorResponse{Error: message, Origin: origin, Status: statusError})
}
