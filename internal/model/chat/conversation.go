package chat

import (
	"time"

	"github.com/zhouzirui/instachat/backend/internal/model/persona"
)

// Conversation binds one operator session to one persona.
type Conversation struct {
	ID        string          `json:"id"`
	SessionID string          `json:"sessionId"`
	Operator  persona.Persona `json:"operator"`
	Persona   persona.Persona `json:"friend"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Snapshot is a read-only copy of a conversation and its composer state.
type Snapshot struct {
	Conversation  Conversation `json:"conversation"`
	Messages      []Message    `json:"messages"`
	Composer      Composer     `json:"composer"`
	AwaitingReply bool         `json:"isTyping"`
}
