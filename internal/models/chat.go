package models

// Profile is the minimal identity kept for a signed-in user, stored at
// users/{uid} and cached client-side.
type Profile struct {
	UID   string `json:"uid"`
	Email string `json:"email,omitempty"`
}

// StartChatRequest is the request body for POST /start-chat
type StartChatRequest struct {
	OtherUID string `json:"otherUid"`
}

// StartChatResponse is returned once both membership indices are written
type StartChatResponse struct {
	ChatID  string `json:"chatId"`
	Success bool   `json:"success"`
}
