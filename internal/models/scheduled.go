package models

// DeferredMessage is a persisted request to send a chat message at a
// future instant. It lives at scheduledMessages/{ownerUid}/{id}; the
// owner and id come from the path, not the stored value.
type DeferredMessage struct {
	// ID is the store-generated key
	ID string `json:"id,omitempty"`

	// OwnerUID is the user who scheduled the message
	OwnerUID string `json:"-"`

	// ChatID is the destination room
	ChatID string `json:"chatId"`

	// Text is the body that will be sent
	Text string `json:"text"`

	// ScheduledAt is the epoch-millisecond deadline; dispatch never happens before it
	ScheduledAt int64 `json:"scheduledAt"`

	// CreatedAt is the epoch-millisecond creation time, for audit only
	CreatedAt int64 `json:"createdAt"`
}

// ScheduleMessageRequest is the request body for POST /schedule-message
type ScheduleMessageRequest struct {
	ChatID      string `json:"chatId"`
	Text        string `json:"text"`
	ScheduledAt int64  `json:"scheduledAt"`
	UID         string `json:"uid"`
}

// SuccessResponse acknowledges a write
type SuccessResponse struct {
	Success bool `json:"success"`
}

// ScheduledMessagesResponse lists an owner's pending deferred messages
type ScheduledMessagesResponse struct {
	Messages []DeferredMessage `json:"messages"`
}
