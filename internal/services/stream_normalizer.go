package services

import (
	"context"

	"github.com/9963KK/aiedu-backend/internal/logger"
	"github.com/9963KK/aiedu-backend/internal/sse"
	"github.com/9963KK/aiedu-backend/internal/types"
)

// EventSink receives canonical stream events in order. A sink returning an
// error stops the stream; the usual cause is the client hanging up.
type EventSink func(sse.StreamEvent) error

// CompletionProvider is the port for the upstream chat completion API in
// both streaming and one-shot form.
type CompletionProvider interface {
	Stream(ctx context.Context, messages []types.ChatMessage, opts types.CompletionOptions, emit func(types.CompletionDelta) error) error
	Generate(ctx context.Context, messages []types.ChatMessage, opts types.CompletionOptions) (*types.CompletionResult, error)
	Model() string
}

// StreamNormalizer converts the provider's frame stream into the canonical
// event sequence: exactly one start event first, then zero or more token
// events, then exactly one terminal event (end or error), regardless of what
// the upstream connection does.
type StreamNormalizer struct {
	log      *logger.Logger
	provider CompletionProvider
}

func NewStreamNormalizer(log *logger.Logger, provider CompletionProvider) *StreamNormalizer {
	return &StreamNormalizer{log: log.With("service", "StreamNormalizer"), provider: provider}
}

func (n *StreamNormalizer) Run(ctx context.Context, sessionID, messageID string, messages []types.ChatMessage, opts types.CompletionOptions, sink EventSink) error {
	if err := sink(sse.Start(sessionID, messageID)); err != nil {
		return err
	}

	model := n.provider.Model()
	if opts.Model != "" {
		model = opts.Model
	}
	var totalTokens *int
	ended := false

	err := n.provider.Stream(ctx, messages, opts, func(delta types.CompletionDelta) error {
		if delta.Model != "" {
			model = delta.Model
		}
		if delta.Content != "" {
			if err := sink(sse.Token(delta.Content)); err != nil {
				return err
			}
		}
		if delta.Usage != nil {
			tt := delta.Usage.TotalTokens
			totalTokens = &tt
		}
		if delta.Terminal() && !ended {
			ended = true
			return sink(sse.End(messageID, model, totalTokens))
		}
		return nil
	})
	if err != nil {
		if ended {
			// Terminal already went out; late provider errors only get logged.
			n.log.Warn("provider error after terminal event", "message_id", messageID, "error", err)
			return nil
		}
		n.log.Error("completion stream failed", "message_id", messageID, "error", err)
		return sink(sse.Error(err.Error()))
	}
	if !ended {
		// Upstream closed without a finish reason or usage frame. The
		// sequence still has to terminate cleanly.
		return sink(sse.End(messageID, model, totalTokens))
	}
	return nil
}
