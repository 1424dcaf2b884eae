package models

// SpectatorTokenRequest is the request body for POST /spectator-token
type SpectatorTokenRequest struct {
	RoomIDs []string `json:"roomIds"`
}

// TokenResponse carries a freshly minted capability token
type TokenResponse struct {
	Token string `json:"token"`
}

// SpectatorRoomsResponse lists the rooms a capability grants read access to
type SpectatorRoomsResponse struct {
	UID       string   `json:"uid"`
	Rooms     []string `json:"rooms"`
	ExpiresAt int64    `json:"expiresAt"`
}
