package services

import (
	"context"
	"strings"

	"github.com/9963KK/aiedu-backend/internal/apierr"
	"github.com/9963KK/aiedu-backend/internal/logger"
	"github.com/9963KK/aiedu-backend/internal/sse"
	"github.com/9963KK/aiedu-backend/internal/types"
)

// maxHistoryTurns caps how much prior conversation is replayed to the
// provider. Older turns are dropped silently.
const maxHistoryTurns = 10

// LLMService is the caller-facing chat surface. It owns conversation
// construction and the guarantee that a streamed reply is never empty.
type LLMService interface {
	BuildMessages(systemPrompt string, history []types.ChatMessage, current string) ([]types.ChatMessage, error)
	GenerateMessage(ctx context.Context, messages []types.ChatMessage, opts types.CompletionOptions) (*types.CompletionResult, error)
	StreamMessage(ctx context.Context, sessionID, messageID string, messages []types.ChatMessage, opts types.CompletionOptions, sink EventSink) error
	Model() string
}

type llmService struct {
	log        *logger.Logger
	provider   CompletionProvider
	normalizer *StreamNormalizer
}

func NewLLMService(log *logger.Logger, provider CompletionProvider) LLMService {
	serviceLog := log.With("service", "LLMService")
	return &llmService{
		log:        serviceLog,
		provider:   provider,
		normalizer: NewStreamNormalizer(log, provider),
	}
}

func (s *llmService) Model() string { return s.provider.Model() }

// BuildMessages assembles the provider conversation: optional system prompt,
// then at most the ten most recent prior turns, then the current user
// message last. Turns with blank text are dropped; an unknown role is the
// caller's mistake and rejects the request.
func (s *llmService) BuildMessages(systemPrompt string, history []types.ChatMessage, current string) ([]types.ChatMessage, error) {
	if strings.TrimSpace(current) == "" {
		return nil, apierr.Invalid("message must not be empty")
	}

	kept := make([]types.ChatMessage, 0, len(history))
	for _, turn := range history {
		switch turn.Role {
		case types.RoleSystem, types.RoleUser, types.RoleAssistant:
		default:
			return nil, apierr.Invalid("invalid message role %q", turn.Role)
		}
		if strings.TrimSpace(turn.Content) == "" {
			continue
		}
		kept = append(kept, turn)
	}
	if len(kept) > maxHistoryTurns {
		kept = kept[len(kept)-maxHistoryTurns:]
	}

	messages := make([]types.ChatMessage, 0, len(kept)+2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, types.ChatMessage{Role: types.RoleSystem, Content: systemPrompt})
	}
	messages = append(messages, kept...)
	messages = append(messages, types.ChatMessage{Role: types.RoleUser, Content: current})
	return messages, nil
}

func (s *llmService) GenerateMessage(ctx context.Context, messages []types.ChatMessage, opts types.CompletionOptions) (*types.CompletionResult, error) {
	return s.provider.Generate(ctx, messages, opts)
}

// StreamMessage streams the canonical event sequence into sink. When the
// upstream stream ends without producing a single token, the reply is
// retried through the non-streaming endpoint and delivered as one synthetic
// token before the end event, so callers always see content or an error.
func (s *llmService) StreamMessage(ctx context.Context, sessionID, messageID string, messages []types.ChatMessage, opts types.CompletionOptions, sink EventSink) error {
	tokens := 0
	wrapped := func(event sse.StreamEvent) error {
		switch event.Type {
		case sse.EventToken:
			tokens++
		case sse.EventEnd:
			if tokens == 0 {
				return s.fallback(ctx, messages, opts, event, sink)
			}
		}
		return sink(event)
	}
	return s.normalizer.Run(ctx, sessionID, messageID, messages, opts, wrapped)
}

func (s *llmService) fallback(ctx context.Context, messages []types.ChatMessage, opts types.CompletionOptions, end sse.StreamEvent, sink EventSink) error {
	s.log.Warn("stream produced no tokens, falling back to non-streaming completion", "message_id", end.MessageID)
	result, err := s.provider.Generate(ctx, messages, opts)
	if err != nil {
		s.log.Error("fallback completion failed", "message_id", end.MessageID, "error", err)
		return sink(sse.Error(err.Error()))
	}
	if err := sink(sse.Token(result.Content)); err != nil {
		return err
	}
	if result.Model != "" {
		end.Model = result.Model
	}
	if result.Usage != nil {
		tt := result.Usage.TotalTokens
		end.TotalTokens = &tt
	}
	return sink(end)
}
