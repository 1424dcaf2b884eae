package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/parley-chat/backend/internal/capability"
	"github.com/parley-chat/backend/internal/models"
)

// remoteVerifier checks a capability token by presenting it to the
// backend, which holds the signing key.
type remoteVerifier struct {
	baseURL    string
	httpClient *http.Client
}

var _ capability.Verifier = (*remoteVerifier)(nil)

func newRemoteVerifier(baseURL string, client *http.Client) *remoteVerifier {
	return &remoteVerifier{baseURL: strings.TrimRight(baseURL, "/"), httpClient: client}
}

// Verify implements capability.Verifier using GET /spectator/rooms.
func (v *remoteVerifier) Verify(ctx context.Context, token string) (*capability.Claims, error) {
	if token == "" {
		return nil, capability.ErrInvalidToken
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/spectator/rooms", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		var body models.ErrorResponse
		json.NewDecoder(resp.Body).Decode(&body)
		return nil, fmt.Errorf("%w: %s", capability.ErrInvalidToken, body.Error)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("verifying token: unexpected status %d", resp.StatusCode)
	}

	var rooms models.SpectatorRoomsResponse
	if err := json.NewDecoder(resp.Body).Decode(&rooms); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	access := make(map[string]bool, len(rooms.Rooms))
	for _, r := range rooms.Rooms {
		access[r] = true
	}
	return &capability.Claims{
		UID:        rooms.UID,
		Role:       capability.RoleSpectator,
		RoomAccess: access,
		ExpiresAt:  rooms.ExpiresAt,
	}, nil
}
