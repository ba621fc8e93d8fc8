package services

import (
	"context"
	"testing"

	"github.com/9963KK/aiedu-backend/internal/apierr"
	"github.com/9963KK/aiedu-backend/internal/logger"
	"github.com/9963KK/aiedu-backend/internal/sse"
	"github.com/9963KK/aiedu-backend/internal/types"
)

// fakeProvider replays a scripted sequence of deltas, then returns err.
type fakeProvider struct {
	deltas    []types.CompletionDelta
	streamErr error
	generated *types.CompletionResult
	genErr    error
	genCalls  int
}

func (f *fakeProvider) Stream(ctx context.Context, messages []types.ChatMessage, opts types.CompletionOptions, emit func(types.CompletionDelta) error) error {
	for _, d := range f.deltas {
		if err := emit(d); err != nil {
			return err
		}
		if d.Terminal() {
			return nil
		}
	}
	return f.streamErr
}

func (f *fakeProvider) Generate(ctx context.Context, messages []types.ChatMessage, opts types.CompletionOptions) (*types.CompletionResult, error) {
	f.genCalls++
	return f.generated, f.genErr
}

func (f *fakeProvider) Model() string { return "test-model" }

func collectEvents(t *testing.T, provider CompletionProvider) []sse.StreamEvent {
	t.Helper()
	var events []sse.StreamEvent
	n := NewStreamNormalizer(logger.NewNop(), provider)
	err := n.Run(context.Background(), "sess-1", "msg-1", []types.ChatMessage{{Role: types.RoleUser, Content: "hi"}}, types.CompletionOptions{}, func(e sse.StreamEvent) error {
		events = append(events, e)
		return nil
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	return events
}

func checkCanonical(t *testing.T, events []sse.StreamEvent) {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("no events emitted")
	}
	if events[0].Type != sse.EventStart {
		t.Errorf("first event = %q, want start", events[0].Type)
	}
	for i, e := range events[:len(events)-1] {
		if i > 0 && e.Terminal() {
			t.Errorf("event %d is terminal but not last", i)
		}
	}
	if !events[len(events)-1].Terminal() {
		t.Errorf("last event = %q, want terminal", events[len(events)-1].Type)
	}
}

func TestNormalizerHappyPath(t *testing.T) {
	tokens42 := 42
	provider := &fakeProvider{deltas: []types.CompletionDelta{
		{Content: "Hello"},
		{Content: " world"},
		{FinishReason: "stop", Usage: &types.TokenUsage{TotalTokens: tokens42}},
	}}
	events := collectEvents(t, provider)
	checkCanonical(t, events)

	if len(events) != 4 {
		t.Fatalf("got %d events, want 4", len(events))
	}
	if events[1].Content != "Hello" || events[2].Content != " world" {
		t.Errorf("token contents = %q, %q", events[1].Content, events[2].Content)
	}
	end := events[3]
	if end.Type != sse.EventEnd {
		t.Fatalf("last event = %q, want end", end.Type)
	}
	if end.TotalTokens == nil || *end.TotalTokens != 42 {
		t.Errorf("totalTokens = %v, want 42", end.TotalTokens)
	}
	if end.MessageID != "msg-1" {
		t.Errorf("messageId = %q, want msg-1", end.MessageID)
	}
}

func TestNormalizerTerminalOnUsageOnly(t *testing.T) {
	provider := &fakeProvider{deltas: []types.CompletionDelta{
		{Content: "x"},
		{Usage: &types.TokenUsage{TotalTokens: 7}},
	}}
	events := collectEvents(t, provider)
	checkCanonical(t, events)
	if events[len(events)-1].Type != sse.EventEnd {
		t.Errorf("terminal = %q, want end", events[len(events)-1].Type)
	}
}

func TestNormalizerSynthesizesEndOnSilentClose(t *testing.T) {
	// Upstream closed without finish reason, usage, or [DONE].
	provider := &fakeProvider{deltas: []types.CompletionDelta{
		{Content: "partial"},
	}}
	events := collectEvents(t, provider)
	checkCanonical(t, events)
	if events[len(events)-1].Type != sse.EventEnd {
		t.Errorf("terminal = %q, want synthesized end", events[len(events)-1].Type)
	}
}

func TestNormalizerEmitsErrorOnStreamFailure(t *testing.T) {
	provider := &fakeProvider{
		deltas:    []types.CompletionDelta{{Content: "a"}},
		streamErr: apierr.UpstreamCall("connection reset"),
	}
	events := collectEvents(t, provider)
	checkCanonical(t, events)
	last := events[len(events)-1]
	if last.Type != sse.EventError {
		t.Fatalf("terminal = %q, want error", last.Type)
	}
	if last.Message == "" {
		t.Error("error event has no message")
	}
}

func TestNormalizerModelFromDelta(t *testing.T) {
	provider := &fakeProvider{deltas: []types.CompletionDelta{
		{Content: "a", Model: "upstream-model"},
		{FinishReason: "stop"},
	}}
	events := collectEvents(t, provider)
	if got := events[len(events)-1].Model; got != "upstream-model" {
		t.Errorf("end model = %q, want upstream-model", got)
	}
}
