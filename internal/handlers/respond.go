package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/parley-chat/backend/internal/models"
)

// retryLater is shown for store failures; details stay in the logs.
const retryLater = "Something went wrong, please try again later"

// writeJSON is a helper function to write JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes the {"error": msg} body used by every failure.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, models.ErrorResponse{Error: msg})
}

// internalError logs err under tag and answers with a generic 500.
func internalError(w http.ResponseWriter, tag string, err error) {
	log.Printf("[%s] %v", tag, err)
	writeError(w, http.StatusInternalServerError, retryLater)
}
