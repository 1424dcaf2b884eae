package models

// Message is one entry in a room's append-only log, stored at
// chats/{chatId}/messages/{msgId}. Messages are immutable once appended.
type Message struct {
	// ID is the store-generated key; it is not part of the stored value
	ID string `json:"id,omitempty"`

	// Text is the message body
	Text string `json:"text"`

	// From is the sender's uid
	From string `json:"from"`

	// Timestamp is when the message was appended, in epoch milliseconds
	Timestamp int64 `json:"timestamp"`
}

// SendMessageRequest is the request body for appending to a chat
type SendMessageRequest struct {
	Text string `json:"text"`
}

// SendMessageResponse is returned after a message is appended
type SendMessageResponse struct {
	ID string `json:"id"`
}

// GetMessagesResponse is the response for reading a room's log
type GetMessagesResponse struct {
	Messages []Message `json:"messages"`
}

// ErrorResponse is the body of every non-2xx JSON response
type ErrorResponse struct {
	Error string `json:"error"`
}
