package chat

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
	ErrPersonaRequired      = errors.New("persona is required")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrEmptyMessage         = errors.New("message is empty")
	ErrUnknownAuthor        = errors.New("author is not part of the conversation")
	ErrComposerBusy         = errors.New("composer has pending text")
	ErrRecordingActive      = errors.New("recording already in progress")
	ErrNotRecording         = errors.New("no recording in progress")
	ErrReplyPending         = errors.New("reply already pending")
)

const (
	subscriberBufferSize = 64
	defaultRecordingTick = time.Second
)

// Option customises a Service.
type Option func(*Service)

// WithRecordingTick sets how often elapsed recording time advances. Zero disables the
// background ticker; callers then drive Tick themselves.
func WithRecordingTick(d time.Duration) Option {
	return func(s *Service) { s.tick = d }
}

// WithClock overrides the time source used for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// Service owns every open conversation and its composer state. Each conversation is
// guarded by its own lock; nothing is shared between conversations.
type Service struct {
	mu            sync.RWMutex
	conversations map[string]*conversation

	tick   time.Duration
	now    func() time.Time
	logger *zap.Logger
}

type conversation struct {
	mu          sync.Mutex
	info        chat.Conversation
	messages    []chat.Message
	composer    chat.Composer
	awaiting    bool
	reserved    bool
	closed      bool
	stopTicker  chan struct{}
	subscribers map[string]chan chat.Event
}

// NewService bootstraps the in-memory conversation store.
func NewService(opts ...Option) *Service {
	s := &Service{
		conversations: make(map[string]*conversation),
		tick:          defaultRecordingTick,
		now:           time.Now,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("chat")
	return s
}

// Open creates a conversation between the operator and a persona. The transcript starts
// with the persona's greeting addressed to the operator's first name.
func (s *Service) Open(_ context.Context, sessionID string, operator, friend persona.Persona) (chat.Snapshot, error) {
	if friend.ID == "" {
		return chat.Snapshot{}, ErrPersonaRequired
	}

	c := &conversation{
		info: chat.Conversation{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			Operator:  operator,
			Persona:   friend,
			CreatedAt: s.now().UTC(),
		},
		messages:    make([]chat.Message, 0, 16),
		composer:    chat.Composer{Recording: chat.RecordingIdle},
		subscribers: make(map[string]chan chat.Event),
	}
	c.appendLocked(s, friend.ID, chat.GreetingBody(operator.FirstName()))
	snap := c.snapshotLocked()

	s.mu.Lock()
	s.conversations[c.info.ID] = c
	s.mu.Unlock()

	s.logger.Debug("conversation opened",
		zap.String("conversation_id", c.info.ID),
		zap.String("session_id", sessionID),
		zap.String("persona_id", friend.ID))

	return snap, nil
}

// Close discards a conversation. Subscribers get a closed event and their channels close.
func (s *Service) Close(_ context.Context, id string) error {
	s.mu.Lock()
	c, ok := s.conversations[id]
	delete(s.conversations, id)
	s.mu.Unlock()
	if !ok {
		return ErrConversationNotFound
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.stopRecordingLocked()
	c.publishLocked(s, chat.Event{Type: chat.EventClosed, ConversationID: id})
	for subID, ch := range c.subscribers {
		close(ch)
		delete(c.subscribers, subID)
	}

	s.logger.Debug("conversation closed", zap.String("conversation_id", id))
	return nil
}

// CloseSession discards every conversation owned by a session and returns how many were open.
func (s *Service) CloseSession(ctx context.Context, sessionID string) int {
	s.mu.RLock()
	ids := make([]string, 0, 1)
	for id, c := range s.conversations {
		if c.info.SessionID == sessionID {
			ids = append(ids, id)
		}
	}
	s.mu.RUnlock()

	closed := 0
	for _, id := range ids {
		if err := s.Close(ctx, id); err == nil {
			closed++
		}
	}
	return closed
}

// Get returns the conversation record.
func (s *Service) Get(_ context.Context, id string) (chat.Conversation, error) {
	c, err := s.lock(id)
	if err != nil {
		return chat.Conversation{}, err
	}
	defer c.mu.Unlock()
	return c.info, nil
}

// Snapshot returns copies of the transcript and composer state.
func (s *Service) Snapshot(_ context.Context, id string) (chat.Snapshot, error) {
	c, err := s.lock(id)
	if err != nil {
		return chat.Snapshot{}, err
	}
	defer c.mu.Unlock()
	return c.snapshotLocked(), nil
}

// Transcript returns the ordered messages of a conversation.
func (s *Service) Transcript(_ context.Context, id string) ([]chat.Message, error) {
	c, err := s.lock(id)
	if err != nil {
		return nil, err
	}
	defer c.mu.Unlock()
	return append([]chat.Message(nil), c.messages...), nil
}

// Append adds a message at the tail of the transcript. Whitespace-only text is refused
// unless the operator is recording, in which case the recording is finished instead.
func (s *Service) Append(_ context.Context, id, authorID, text string) (chat.Message, error) {
	c, err := s.lock(id)
	if err != nil {
		return chat.Message{}, err
	}
	defer c.mu.Unlock()

	if authorID != c.info.Operator.ID && authorID != c.info.Persona.ID {
		return chat.Message{}, ErrUnknownAuthor
	}

	operator := authorID == c.info.Operator.ID
	if strings.TrimSpace(text) == "" {
		if operator && c.composer.IsRecording() {
			return c.finishRecordingLocked(s), nil
		}
		return chat.Message{}, ErrEmptyMessage
	}

	msg := c.appendLocked(s, authorID, text)
	if operator {
		c.composer.Draft = ""
	}
	return msg, nil
}

// SetDraft stores the free-text composition.
func (s *Service) SetDraft(_ context.Context, id, text string) error {
	c, err := s.lock(id)
	if err != nil {
		return err
	}
	defer c.mu.Unlock()
	c.composer.Draft = text
	return nil
}

// BeginRecording moves the composer from idle to recording. It is refused while draft
// text is pending.
func (s *Service) BeginRecording(_ context.Context, id string) error {
	c, err := s.lock(id)
	if err != nil {
		return err
	}
	defer c.mu.Unlock()

	if c.composer.IsRecording() {
		return ErrRecordingActive
	}
	if strings.TrimSpace(c.composer.Draft) != "" {
		return ErrComposerBusy
	}

	c.composer.Recording = chat.RecordingActive
	c.composer.ElapsedSeconds = 0
	if s.tick > 0 {
		c.stopTicker = make(chan struct{})
		go s.runRecordingTicker(id, c.stopTicker)
	}
	c.publishComposerLocked(s)
	return nil
}

// Tick advances the elapsed recording time by one second.
func (s *Service) Tick(_ context.Context, id string) error {
	c, err := s.lock(id)
	if err != nil {
		return err
	}
	defer c.mu.Unlock()

	if !c.composer.IsRecording() {
		return ErrNotRecording
	}
	c.composer.ElapsedSeconds++
	c.publishComposerLocked(s)
	return nil
}

// CancelRecording discards the recording without appending anything.
func (s *Service) CancelRecording(_ context.Context, id string) error {
	c, err := s.lock(id)
	if err != nil {
		return err
	}
	defer c.mu.Unlock()

	if !c.composer.IsRecording() {
		return ErrNotRecording
	}
	c.stopRecordingLocked()
	c.publishComposerLocked(s)
	return nil
}

// FinishRecording appends the voice message as the operator and returns to idle.
func (s *Service) FinishRecording(_ context.Context, id string) (chat.Message, error) {
	c, err := s.lock(id)
	if err != nil {
		return chat.Message{}, err
	}
	defer c.mu.Unlock()

	if !c.composer.IsRecording() {
		return chat.Message{}, ErrNotRecording
	}
	return c.finishRecordingLocked(s), nil
}

// AttachFile appends an attachment marker for filename as the operator. The file itself
// is never transmitted or stored.
func (s *Service) AttachFile(_ context.Context, id, filename string) (chat.Message, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return chat.Message{}, ErrEmptyMessage
	}

	c, err := s.lock(id)
	if err != nil {
		return chat.Message{}, err
	}
	defer c.mu.Unlock()
	return c.appendLocked(s, c.info.Operator.ID, chat.AttachmentBody(filename)), nil
}

// SetAwaitingReply toggles the typing indicator.
func (s *Service) SetAwaitingReply(_ context.Context, id string, awaiting bool) error {
	c, err := s.lock(id)
	if err != nil {
		return err
	}
	defer c.mu.Unlock()
	c.setAwaitingLocked(s, awaiting)
	return nil
}

// ReserveReply claims the single reply slot of a conversation, failing with
// ErrReplyPending while another reply is outstanding. It does not touch the typing
// indicator; callers flip that with SetAwaitingReply once the operator message is in.
func (s *Service) ReserveReply(_ context.Context, id string) error {
	c, err := s.lock(id)
	if err != nil {
		return err
	}
	defer c.mu.Unlock()

	if c.reserved {
		return ErrReplyPending
	}
	c.reserved = true
	return nil
}

// ReleaseReply gives the reply slot back without a reply, e.g. after a refused send.
func (s *Service) ReleaseReply(_ context.Context, id string) error {
	c, err := s.lock(id)
	if err != nil {
		return err
	}
	defer c.mu.Unlock()

	c.reserved = false
	c.setAwaitingLocked(s, false)
	return nil
}

// CompleteReply appends the persona's reply, frees the reply slot and turns the typing
// indicator off in one step.
func (s *Service) CompleteReply(_ context.Context, id, body string) (chat.Message, error) {
	c, err := s.lock(id)
	if err != nil {
		return chat.Message{}, err
	}
	defer c.mu.Unlock()

	msg := c.appendLocked(s, c.info.Persona.ID, body)
	c.reserved = false
	c.setAwaitingLocked(s, false)
	return msg, nil
}

// Subscribe streams events of a conversation until ctx is done or the conversation closes.
func (s *Service) Subscribe(ctx context.Context, id string) (<-chan chat.Event, error) {
	c, err := s.lock(id)
	if err != nil {
		return nil, err
	}
	subID := uuid.NewString()
	ch := make(chan chat.Event, subscriberBufferSize)
	c.subscribers[subID] = ch
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subscribers[subID]; ok {
			close(sub)
			delete(c.subscribers, subID)
		}
	}()

	return ch, nil
}

// lock returns the live conversation with its mutex held.
func (s *Service) lock(id string) (*conversation, error) {
	s.mu.RLock()
	c, ok := s.conversations[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrConversationNotFound
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrConversationNotFound
	}
	return c, nil
}

func (s *Service) runRecordingTicker(id string, stop <-chan struct{}) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := s.Tick(context.Background(), id); err != nil {
				return
			}
		}
	}
}

func (c *conversation) appendLocked(s *Service, authorID, body string) chat.Message {
	now := s.now()
	msg := chat.Message{
		ID:             newMessageID(),
		Seq:            uint64(len(c.messages)) + 1,
		ConversationID: c.info.ID,
		AuthorID:       authorID,
		FromOperator:   authorID == c.info.Operator.ID,
		Body:           body,
		CreatedAt:      now.UTC(),
		Timestamp:      now.Format(chat.DisplayTimeLayout),
	}
	c.messages = append(c.messages, msg)

	published := msg
	c.publishLocked(s, chat.Event{Type: chat.EventMessage, ConversationID: c.info.ID, Message: &published})
	return msg
}

func (c *conversation) finishRecordingLocked(s *Service) chat.Message {
	body := chat.VoiceMessageBody(c.composer.ElapsedSeconds)
	c.stopRecordingLocked()
	msg := c.appendLocked(s, c.info.Operator.ID, body)
	c.publishComposerLocked(s)
	return msg
}

func (c *conversation) stopRecordingLocked() {
	if c.stopTicker != nil {
		close(c.stopTicker)
		c.stopTicker = nil
	}
	c.composer.Recording = chat.RecordingIdle
	c.composer.ElapsedSeconds = 0
}

func (c *conversation) setAwaitingLocked(s *Service, awaiting bool) {
	if c.awaiting == awaiting {
		return
	}
	c.awaiting = awaiting
	c.publishLocked(s, chat.Event{Type: chat.EventTyping, ConversationID: c.info.ID, Typing: awaiting})
}

func (c *conversation) publishComposerLocked(s *Service) {
	composer := c.composer
	c.publishLocked(s, chat.Event{Type: chat.EventRecording, ConversationID: c.info.ID, Composer: &composer})
}

// publishLocked never blocks; events are dropped for subscribers whose buffer is full.
func (c *conversation) publishLocked(s *Service, event chat.Event) {
	for subID, ch := range c.subscribers {
		select {
		case ch <- event:
		default:
			s.logger.Warn("dropping event for slow subscriber",
				zap.String("conversation_id", c.info.ID),
				zap.String("sub_id", subID),
				zap.String("event", string(event.Type)))
		}
	}
}

func (c *conversation) snapshotLocked() chat.Snapshot {
	return chat.Snapshot{
		Conversation:  c.info,
		Messages:      append([]chat.Message(nil), c.messages...),
		Composer:      c.composer,
		AwaitingReply: c.awaiting,
	}
}

func newMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
