package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/instachat/backend/internal/config"
	"github.com/zhouzirui/instachat/backend/internal/model/chat"
	"github.com/zhouzirui/instachat/backend/internal/model/persona"
)

// ErrEmptyResponse is returned when the provider answers without a message.
var ErrEmptyResponse = errors.New("provider returned no message")

// Sampling holds the randomness settings sent with every call.
type Sampling struct {
	Temperature float32
	TopP        float32
}

// DefaultSampling keeps replies varied but coherent.
var DefaultSampling = Sampling{Temperature: 0.8, TopP: 0.9}

// Service generates persona replies through an eino chain.
type Service struct {
	chatModel model.BaseChatModel
	chain     compose.Runnable[map[string]any, *schema.Message]
	prompts   *PromptBuilder
	sampling  Sampling
	logger    *zap.Logger
}

// NewService creates the chat model described by cfg and wraps it.
func NewService(ctx context.Context, cfg config.AIConfig, prompts *PromptBuilder, logger *zap.Logger) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	sampling := DefaultSampling
	if cfg.Temperature != nil {
		sampling.Temperature = float32(*cfg.Temperature)
	}
	if cfg.TopP != nil {
		sampling.TopP = float32(*cfg.TopP)
	}

	return NewServiceWithModel(ctx, chatModel, prompts, sampling, logger)
}

// NewServiceWithModel compiles the reply chain around an existing chat model.
func NewServiceWithModel(ctx context.Context, chatModel model.BaseChatModel, prompts *PromptBuilder, sampling Sampling, logger *zap.Logger) (*Service, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}
	if prompts == nil {
		prompts = NewPromptBuilder(DefaultCounterpart())
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", false),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chatModel: chatModel,
		chain:     runnable,
		prompts:   prompts,
		sampling:  sampling,
		logger:    logger.Named("ai"),
	}, nil
}

// Generate produces the next reply of friend for the ordered transcript. Any error is a
// provider error; callers decide how to degrade.
func (s *Service) Generate(ctx context.Context, friend, operator persona.Persona, history []chat.Message) (string, error) {
	input := map[string]any{
		"system":  s.prompts.BuildSystemPrompt(friend, operator),
		"history": BuildTurns(history),
	}

	response, err := s.chain.Invoke(ctx, input, compose.WithChatModelOption(
		model.WithTemperature(s.sampling.Temperature),
		model.WithTopP(s.sampling.TopP),
	))
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}
	if response == nil {
		return "", ErrEmptyResponse
	}

	s.logger.Debug("generated reply",
		zap.String("persona_id", friend.ID),
		zap.Int("turns", len(history)),
		zap.Int("length", len(response.Content)))
	return response.Content, nil
}

// BuildTurns maps the transcript one-to-one onto chat turns: operator messages become user
// turns and persona messages assistant turns, in order. An empty transcript yields a single
// opening user turn so the provider never sees zero turns.
func BuildTurns(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 {
		return []*schema.Message{schema.UserMessage(EmptyHistoryOpener)}
	}

	turns := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.FromOperator {
			turns = append(turns, schema.UserMessage(msg.Body))
		} else {
			turns = append(turns, schema.AssistantMessage(msg.Body, nil))
		}
	}
	return turns
}
