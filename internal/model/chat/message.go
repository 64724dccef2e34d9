package chat

import "time"

// DisplayTimeLayout renders message timestamps the way the chat bubbles show them.
const DisplayTimeLayout = "03:04 PM"

// Message is a single append-only entry of a conversation transcript.
type Message struct {
	ID             string    `json:"id"`
	Seq            uint64    `json:"seq"`
	ConversationID string    `json:"conversationId"`
	AuthorID       string    `json:"senderId"`
	FromOperator   bool      `json:"isMe"`
	Body           string    `json:"text"`
	CreatedAt      time.Time `json:"createdAt"`
	Timestamp      string    `json:"timestamp"`
}
