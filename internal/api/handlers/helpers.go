package handlers

import (
	"encoding/json"
	"net/http"
)

// detailBody is the error envelope of every non-2xx response.
type detailBody struct {
	Detail errorDetail `json:"detail"`
}

type errorDetail struct {
	Response string `json:"response"`
	Cause    string `json:"cause"`
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"detail":{"response":"failed to encode response"}}`, http.StatusInternalServerError)
	}
}

// writeError writes the {"detail":{"response","cause"}} envelope.
func writeError(w http.ResponseWriter, statusCode int, response, cause string) {
	writeJSON(w, statusCode, detailBody{Detail: errorDetail{Response: response, Cause: cause}})
}
