package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/9963KK/aiedu-backend/internal/apierr"
	"github.com/9963KK/aiedu-backend/internal/logger"
	"github.com/9963KK/aiedu-backend/internal/services"
	"github.com/9963KK/aiedu-backend/internal/sse"
	"github.com/9963KK/aiedu-backend/internal/types"
)

type fakeLLMService struct {
	result *types.CompletionResult
	genErr error
	events []sse.StreamEvent
}

func (f *fakeLLMService) BuildMessages(systemPrompt string, history []types.ChatMessage, current string) ([]types.ChatMessage, error) {
	if strings.TrimSpace(current) == "" {
		return nil, apierr.Invalid("message must not be empty")
	}
	for _, turn := range history {
		switch turn.Role {
		case types.RoleSystem, types.RoleUser, types.RoleAssistant:
		default:
			return nil, apierr.Invalid("invalid message role %q", turn.Role)
		}
	}
	return []types.ChatMessage{{Role: types.RoleUser, Content: current}}, nil
}

func (f *fakeLLMService) GenerateMessage(ctx context.Context, messages []types.ChatMessage, opts types.CompletionOptions) (*types.CompletionResult, error) {
	return f.result, f.genErr
}

func (f *fakeLLMService) StreamMessage(ctx context.Context, sessionID, messageID string, messages []types.ChatMessage, opts types.CompletionOptions, sink services.EventSink) error {
	for _, e := range f.events {
		if e.Type == sse.EventStart {
			e.SessionID = sessionID
			e.MessageID = messageID
		}
		if err := sink(e); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeLLMService) Model() string { return "test-model" }

func newLLMRouter(svc services.LLMService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	handler := NewLLMHandler(logger.NewNop(), svc)
	router.POST("/api/llm/messages", handler.Message)
	router.POST("/api/llm/messages/stream", handler.StreamMessage)
	return router
}

func TestMessageEndpoint(t *testing.T) {
	svc := &fakeLLMService{result: &types.CompletionResult{
		Content: "hello there",
		Model:   "m-1",
		Usage:   &types.TokenUsage{PromptTokens: 2, CompletionTokens: 3, TotalTokens: 5},
	}}
	router := newLLMRouter(svc)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/llm/messages", strings.NewReader(`{"message":"hi","sessionId":"sess-9"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		SessionID  string `json:"sessionId"`
		MessageID  string `json:"messageId"`
		Content    string `json:"content"`
		TokensUsed *struct {
			Total *int `json:"total"`
		} `json:"tokensUsed"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.SessionID != "sess-9" || resp.Content != "hello there" || resp.MessageID == "" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.TokensUsed == nil || resp.TokensUsed.Total == nil || *resp.TokensUsed.Total != 5 {
		t.Errorf("tokensUsed = %+v, want total 5", resp.TokensUsed)
	}
}

func TestMessageEndpointValidation(t *testing.T) {
	router := newLLMRouter(&fakeLLMService{})

	tests := []struct {
		name string
		body string
	}{
		{"missing message", `{}`},
		{"blank message", `{"message":"   "}`},
		{"invalid role", `{"message":"hi","context":{"previousMessages":[{"role":"tool","content":"x"}]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/llm/messages", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			router.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400, body = %s", w.Code, w.Body.String())
			}
			var envelope ErrorEnvelope
			if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
				t.Fatal(err)
			}
			if envelope.Error.Message == "" {
				t.Error("error envelope has no message")
			}
		})
	}
}

func TestStreamEndpointEmitsCanonicalSSE(t *testing.T) {
	tokens := 5
	svc := &fakeLLMService{events: []sse.StreamEvent{
		sse.Start("", ""),
		sse.Token("hel"),
		sse.Token("lo"),
		sse.End("", "m-1", &tokens),
	}}
	router := newLLMRouter(svc)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/llm/messages/stream", strings.NewReader(`{"message":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("content type = %q", got)
	}
	if got := w.Header().Get("Cache-Control"); got != "no-cache" {
		t.Errorf("cache control = %q", got)
	}

	frames := strings.Split(strings.TrimSpace(w.Body.String()), "\n\n")
	if len(frames) != 4 {
		t.Fatalf("got %d frames, want 4: %q", len(frames), w.Body.String())
	}
	var first sse.StreamEvent
	if err := json.Unmarshal([]byte(strings.TrimPrefix(frames[0], "data: ")), &first); err != nil {
		t.Fatal(err)
	}
	if first.Type != sse.EventStart || first.SessionID == "" || first.MessageID == "" {
		t.Errorf("first frame = %+v, want populated start", first)
	}
	var last sse.StreamEvent
	if err := json.Unmarshal([]byte(strings.TrimPrefix(frames[3], "data: ")), &last); err != nil {
		t.Fatal(err)
	}
	if last.Type != sse.EventEnd || last.TotalTokens == nil || *last.TotalTokens != 5 {
		t.Errorf("last frame = %+v, want end with totalTokens 5", last)
	}
}
