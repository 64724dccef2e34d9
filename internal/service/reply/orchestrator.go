package reply

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/zhouzirui/instachat/backend/internal/model/chat"
	"github.com/zhouzirui/instachat/backend/internal/model/persona"
)

const (
	// FillerReply replaces an empty generation.
	FillerReply = "Sorry, I missed that! What was that again?"
	// FallbackReply replaces a failed generation.
	FallbackReply = "Hey, I'm having some trouble connecting right now. Talk soon!"
)

// Generator is the external text-generation capability.
type Generator interface {
	Generate(ctx context.Context, friend, operator persona.Persona, history []chat.Message) (string, error)
}

// Store is the part of the conversation store the orchestrator drives.
type Store interface {
	Get(ctx context.Context, id string) (chat.Conversation, error)
	Transcript(ctx context.Context, id string) ([]chat.Message, error)
	Append(ctx context.Context, id, authorID, text string) (chat.Message, error)
	FinishRecording(ctx context.Context, id string) (chat.Message, error)
	AttachFile(ctx context.Context, id, filename string) (chat.Message, error)
	ReserveReply(ctx context.Context, id string) error
	ReleaseReply(ctx context.Context, id string) error
	SetAwaitingReply(ctx context.Context, id string, awaiting bool) error
	CompleteReply(ctx context.Context, id, body string) (chat.Message, error)
}

// Result is the outcome of an operator action. Reply yields the persona's message once and
// then closes; it closes without a value when no reply is due or the conversation is gone.
type Result struct {
	Message chat.Message
	Reply   <-chan chat.Message
}

// Orchestrator turns operator actions into exactly one persona reply each, keeping at most
// one generation in flight per conversation.
type Orchestrator struct {
	store     Store
	generator Generator
	logger    *zap.Logger
	wg        sync.WaitGroup
}

// New creates an Orchestrator. A nil generator makes every reply the fallback message.
func New(store Store, generator Generator, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:     store,
		generator: generator,
		logger:    logger.Named("reply"),
	}
}

// Send appends the operator's text and requests a reply.
func (o *Orchestrator) Send(ctx context.Context, id, text string) (Result, error) {
	return o.submit(ctx, id, func(ctx context.Context, conv chat.Conversation) (chat.Message, error) {
		return o.store.Append(ctx, id, conv.Operator.ID, text)
	})
}

// FinishRecording appends the recorded voice message and requests a reply.
func (o *Orchestrator) FinishRecording(ctx context.Context, id string) (Result, error) {
	return o.submit(ctx, id, func(ctx context.Context, _ chat.Conversation) (chat.Message, error) {
		return o.store.FinishRecording(ctx, id)
	})
}

// AttachFile appends the attachment marker and requests a reply.
func (o *Orchestrator) AttachFile(ctx context.Context, id, filename string) (Result, error) {
	return o.submit(ctx, id, func(ctx context.Context, _ chat.Conversation) (chat.Message, error) {
		return o.store.AttachFile(ctx, id, filename)
	})
}

// Wait blocks until every started generation has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) submit(ctx context.Context, id string, action func(context.Context, chat.Conversation) (chat.Message, error)) (Result, error) {
	conv, err := o.store.Get(ctx, id)
	if err != nil {
		return Result{}, err
	}

	if !conv.Persona.Generated() {
		msg, err := action(ctx, conv)
		if err != nil {
			return Result{}, err
		}
		return Result{Message: msg, Reply: closedReply()}, nil
	}

	if err := o.store.ReserveReply(ctx, id); err != nil {
		return Result{}, err
	}

	msg, err := action(ctx, conv)
	if err != nil {
		if releaseErr := o.store.ReleaseReply(ctx, id); releaseErr != nil {
			o.logger.Debug("failed to release reply slot",
				zap.String("conversation_id", id), zap.Error(releaseErr))
		}
		return Result{}, err
	}
	if err := o.store.SetAwaitingReply(ctx, id, true); err != nil {
		return Result{}, err
	}

	reply := make(chan chat.Message, 1)
	o.wg.Add(1)
	go o.respond(context.WithoutCancel(ctx), conv, reply)

	return Result{Message: msg, Reply: reply}, nil
}

// respond runs the single generation for a conversation and records its outcome. The reply
// is only appended if the conversation is still open.
func (o *Orchestrator) respond(ctx context.Context, conv chat.Conversation, reply chan<- chat.Message) {
	defer o.wg.Done()
	defer close(reply)

	history, err := o.store.Transcript(ctx, conv.ID)
	if err != nil {
		o.logger.Debug("conversation gone before generation", zap.String("conversation_id", conv.ID), zap.Error(err))
		return
	}

	body := o.generate(ctx, conv, history)

	msg, err := o.store.CompleteReply(ctx, conv.ID, body)
	if err != nil {
		o.logger.Debug("dropping late reply", zap.String("conversation_id", conv.ID), zap.Error(err))
		return
	}
	reply <- msg
}

// generate never fails: provider errors become the fallback reply, empty output the filler.
func (o *Orchestrator) generate(ctx context.Context, conv chat.Conversation, history []chat.Message) (body string) {
	if o.generator == nil {
		o.logger.Warn("no text generation provider configured", zap.String("persona_id", conv.Persona.ID))
		return FallbackReply
	}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("text generation panicked",
				zap.String("conversation_id", conv.ID),
				zap.String("panic", fmt.Sprint(r)))
			body = FallbackReply
		}
	}()

	text, err := o.generator.Generate(ctx, conv.Persona, conv.Operator, history)
	if err != nil {
		o.logger.Warn("text generation failed",
			zap.String("conversation_id", conv.ID),
			zap.String("persona_id", conv.Persona.ID),
			zap.Error(err))
		return FallbackReply
	}
	if strings.TrimSpace(text) == "" {
		return FillerReply
	}
	return text
}

func closedReply() <-chan chat.Message {
	ch := make(chan chat.Message)
	close(ch)
	return ch
}
