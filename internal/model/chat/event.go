package chat

// EventType names a conversation change pushed to subscribers.
type EventType string

const (
	EventMessage   EventType = "message"
	EventTyping    EventType = "typing"
	EventRecording EventType = "recording"
	EventClosed    EventType = "closed"
)

// Event is published by the conversation store after every state change.
type Event struct {
	Type           EventType `json:"event"`
	ConversationID string    `json:"conversationId"`
	Message        *Message  `json:"message,omitempty"`
	Typing         bool      `json:"isTyping,omitempty"`
	Composer       *Composer `json:"composer,omitempty"`
}
