package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/parley-chat/backend/internal/models"
)

// UserTokenSigner mints development user tokens.
type UserTokenSigner interface {
	SignUserToken(profile models.Profile, lifetime time.Duration) (string, error)
}

// DevLogin handles POST /dev/login on the memory backend. It trusts the
// posted uid and returns a bearer token for it.
func DevLogin(signer UserTokenSigner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.Profile
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.UID) == "" {
			writeError(w, http.StatusBadRequest, "uid is required")
			return
		}
		token, err := signer.SignUserToken(req, time.Hour)
		if err != nil {
			internalError(w, "Dev", err)
			return
		}
		writeJSON(w, http.StatusOK, models.TokenResponse{Token: token})
	}
}
