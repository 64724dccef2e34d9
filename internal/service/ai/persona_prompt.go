package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/instachat/backend/internal/model/persona"
)

// EmptyHistoryOpener stands in for the transcript when there is nothing to send.
const EmptyHistoryOpener = "Hey!"

// PromptBuilder renders grounding instructions for generated personas.
type PromptBuilder struct {
	counterpart persona.Persona
	rules       []string
}

// DefaultCounterpart is who personas believe they are talking to when the operator has no
// usable identity.
func DefaultCounterpart() persona.Persona {
	return persona.NewOperator("Alex Rivera", "creative_soul")
}

// NewPromptBuilder returns a builder that falls back to counterpart for anonymous operators.
func NewPromptBuilder(counterpart persona.Persona) *PromptBuilder {
	return &PromptBuilder{
		counterpart: counterpart,
		rules: []string{
			"Maintain your persona, keep replies relatively short and casual, like an Instagram DM.",
			"Use emojis naturally.",
		},
	}
}

// BuildSystemPrompt names the persona, states its bio verbatim, names who it is chatting
// with and sets the direct-message register.
func (b *PromptBuilder) BuildSystemPrompt(friend, operator persona.Persona) string {
	counterpart := operator
	if strings.TrimSpace(counterpart.Name) == "" || strings.TrimSpace(counterpart.Handle) == "" {
		counterpart = b.counterpart
	}

	var builder strings.Builder
	fmt.Fprintf(&builder, "You are %s (username: @%s).\n", friend.Name, friend.Handle)
	fmt.Fprintf(&builder, "Your bio is: %s\n", friend.Bio)
	fmt.Fprintf(&builder, "You are chatting with your friend %s (@%s) on a social media app.\n", counterpart.Name, counterpart.Handle)
	builder.WriteString(strings.Join(b.rules, "\n"))
	return builder.String()
}
