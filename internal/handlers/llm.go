package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/9963KK/aiedu-backend/internal/apierr"
	"github.com/9963KK/aiedu-backend/internal/logger"
	"github.com/9963KK/aiedu-backend/internal/services"
	"github.com/9963KK/aiedu-backend/internal/sse"
	"github.com/9963KK/aiedu-backend/internal/types"
)

type LLMHandler struct {
	log        *logger.Logger
	llmService services.LLMService
}

func NewLLMHandler(log *logger.Logger, llmService services.LLMService) *LLMHandler {
	return &LLMHandler{
		log:        log.With("handler", "LLMHandler"),
		llmService: llmService,
	}
}

type chatContext struct {
	PreviousMessages []types.ChatMessage    `json:"previousMessages"`
	Metadata         map[string]interface{} `json:"metadata"`
}

type generationOptions struct {
	Model       string   `json:"model"`
	Temperature *float64 `json:"temperature"`
}

type messageRequest struct {
	Message   string             `json:"message" binding:"required"`
	SessionID string             `json:"sessionId"`
	Context   *chatContext       `json:"context"`
	Options   *generationOptions `json:"options"`
}

type tokensUsed struct {
	Prompt     *int `json:"prompt,omitempty"`
	Completion *int `json:"completion,omitempty"`
	Total      *int `json:"total,omitempty"`
}

type messageResponse struct {
	SessionID  string                 `json:"sessionId"`
	MessageID  string                 `json:"messageId"`
	Content    string                 `json:"content"`
	TokensUsed *tokensUsed            `json:"tokensUsed,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

func (r *messageRequest) completionOptions() types.CompletionOptions {
	if r.Options == nil {
		return types.CompletionOptions{}
	}
	return types.CompletionOptions{Model: r.Options.Model, Temperature: r.Options.Temperature}
}

func (r *messageRequest) systemPrompt() string {
	if r.Context == nil || r.Context.Metadata == nil {
		return ""
	}
	if prompt, ok := r.Context.Metadata["systemPrompt"].(string); ok {
		return prompt
	}
	return ""
}

func (r *messageRequest) history() []types.ChatMessage {
	if r.Context == nil {
		return nil
	}
	return r.Context.PreviousMessages
}

func (h *LLMHandler) buildRequest(c *gin.Context) (*messageRequest, []types.ChatMessage, string, bool) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondAPIError(c, apierr.Invalid("invalid request body: %v", err))
		return nil, nil, "", false
	}
	messages, err := h.llmService.BuildMessages(req.systemPrompt(), req.history(), req.Message)
	if err != nil {
		RespondAPIError(c, err)
		return nil, nil, "", false
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return &req, messages, sessionID, true
}

// POST /api/llm/messages
func (h *LLMHandler) Message(c *gin.Context) {
	req, messages, sessionID, ok := h.buildRequest(c)
	if !ok {
		return
	}
	messageID := uuid.NewString()

	result, err := h.llmService.GenerateMessage(c.Request.Context(), messages, req.completionOptions())
	if err != nil {
		RespondAPIError(c, err)
		return
	}

	resp := messageResponse{
		SessionID: sessionID,
		MessageID: messageID,
		Content:   result.Content,
		Metadata:  map[string]interface{}{"model": result.Model},
	}
	if result.Usage != nil {
		resp.TokensUsed = &tokensUsed{
			Prompt:     &result.Usage.PromptTokens,
			Completion: &result.Usage.CompletionTokens,
			Total:      &result.Usage.TotalTokens,
		}
	}
	RespondOK(c, resp)
}

// POST /api/llm/messages/stream
// SSE: one canonical event per frame, exactly one terminal event.
func (h *LLMHandler) StreamMessage(c *gin.Context) {
	req, messages, sessionID, ok := h.buildRequest(c)
	if !ok {
		return
	}
	messageID := uuid.NewString()

	writer, err := sse.NewWriter(c.Writer)
	if err != nil {
		RespondAPIError(c, err)
		return
	}

	sink := func(event sse.StreamEvent) error {
		return writer.Send(event)
	}
	if err := h.llmService.StreamMessage(c.Request.Context(), sessionID, messageID, messages, req.completionOptions(), sink); err != nil {
		// Headers are already out; nothing more can be sent on this response.
		h.log.Warn("stream aborted", "message_id", messageID, "error", err)
	}
}
