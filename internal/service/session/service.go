package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/instachat/backend/internal/model/chat"
	"github.com/zhouzirui/instachat/backend/internal/model/persona"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrMissingIdentity = errors.New("name and username are required")
	ErrNotOwner        = errors.New("conversation belongs to another session")
)

// Session is one signed-in operator. It owns at most one open conversation at a time.
type Session struct {
	ID             string          `json:"sessionId"`
	Operator       persona.Persona `json:"operator"`
	ConversationID string          `json:"conversationId,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// Conversations is the part of the conversation store sessions manage.
type Conversations interface {
	Open(ctx context.Context, sessionID string, operator, friend persona.Persona) (chat.Snapshot, error)
	Get(ctx context.Context, id string) (chat.Conversation, error)
	Close(ctx context.Context, id string) error
	CloseSession(ctx context.Context, sessionID string) int
}

// Service keeps signed-in sessions in memory.
type Service struct {
	mu            sync.Mutex
	sessions      map[string]*Session
	conversations Conversations
	logger        *zap.Logger
}

// NewService creates the session registry on top of the conversation store.
func NewService(conversations Conversations, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		sessions:      make(map[string]*Session),
		conversations: conversations,
		logger:        logger.Named("session"),
	}
}

// Login accepts any non-empty name and username. There is no credential check.
func (s *Service) Login(_ context.Context, name, handle string) (Session, error) {
	name = strings.TrimSpace(name)
	handle = persona.NormalizeHandle(handle)
	if name == "" || handle == "" {
		return Session{}, ErrMissingIdentity
	}

	sess := &Session{
		ID:        uuid.NewString(),
		Operator:  persona.NewOperator(name, handle),
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	s.logger.Info("operator signed in", zap.String("session_id", sess.ID), zap.String("handle", handle))
	return *sess, nil
}

// Get returns a copy of the session.
func (s *Service) Get(_ context.Context, id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return *sess, nil
}

// Logout ends the session and discards every conversation it owns.
func (s *Service) Logout(ctx context.Context, id string) error {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}

	closed := s.conversations.CloseSession(ctx, id)
	s.logger.Info("operator signed out", zap.String("session_id", id), zap.Int("closed_conversations", closed))
	return nil
}

// OpenConversation starts a conversation with friend, discarding the one the session had
// open before.
func (s *Service) OpenConversation(ctx context.Context, id string, friend persona.Persona) (chat.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return chat.Snapshot{}, ErrSessionNotFound
	}

	if sess.ConversationID != "" {
		if err := s.conversations.Close(ctx, sess.ConversationID); err != nil {
			s.logger.Debug("previous conversation already gone",
				zap.String("conversation_id", sess.ConversationID), zap.Error(err))
		}
		sess.ConversationID = ""
	}

	snap, err := s.conversations.Open(ctx, id, sess.Operator, friend)
	if err != nil {
		return chat.Snapshot{}, err
	}
	sess.ConversationID = snap.Conversation.ID
	return snap, nil
}

// CloseConversation discards a conversation owned by the session.
func (s *Service) CloseConversation(ctx context.Context, id, conversationID string) error {
	if err := s.Authorize(ctx, id, conversationID); err != nil {
		return err
	}

	s.mu.Lock()
	if sess, ok := s.sessions[id]; ok && sess.ConversationID == conversationID {
		sess.ConversationID = ""
	}
	s.mu.Unlock()

	return s.conversations.Close(ctx, conversationID)
}

// Authorize reports whether the conversation exists and belongs to the session.
func (s *Service) Authorize(ctx context.Context, id, conversationID string) error {
	conv, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.SessionID != id {
		return ErrNotOwner
	}
	return nil
}
