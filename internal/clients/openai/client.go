package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/9963KK/aiedu-backend/internal/apierr"
	"github.com/9963KK/aiedu-backend/internal/logger"
	"github.com/9963KK/aiedu-backend/internal/types"
	"github.com/9963KK/aiedu-backend/internal/utils"
)

// Client talks to an OpenAI-compatible chat completions endpoint, in both
// streaming and one-shot form.
type Client struct {
	log         *logger.Logger
	baseURL     string
	apiKey      string
	model       string
	temperature *float64
	httpClient  *http.Client
}

func New(log *logger.Logger) *Client {
	clientLog := log.With("client", "OpenAIClient")
	timeout := utils.GetEnvAsInt("REQUEST_TIMEOUT_SECONDS", 120, log)
	// Negative means unset; the provider picks its own default then.
	var temperature *float64
	if t := utils.GetEnvAsFloat("OPENAI_TEMPERATURE", -1, log); t >= 0 {
		temperature = &t
	}
	return &Client{
		log:         clientLog,
		baseURL:     strings.TrimRight(utils.GetEnv("OPENAI_BASE_URL", "https://api.openai.com/v1", log), "/"),
		apiKey:      utils.GetEnv("OPENAI_API_KEY", "", nil),
		model:       utils.GetEnv("OPENAI_MODEL", "gpt-4o-mini", log),
		temperature: temperature,
		httpClient:  &http.Client{Timeout: time.Duration(timeout) * time.Second},
	}
}

func (c *Client) Model() string { return c.model }

func (c *Client) buildPayload(messages []types.ChatMessage, opts types.CompletionOptions, stream bool) map[string]interface{} {
	model := opts.Model
	if model == "" {
		model = c.model
	}
	payload := map[string]interface{}{
		"model":    model,
		"messages": messages,
		"stream":   stream,
	}
	temperature := opts.Temperature
	if temperature == nil {
		temperature = c.temperature
	}
	if temperature != nil {
		payload["temperature"] = *temperature
	}
	if stream {
		payload["stream_options"] = map[string]bool{"include_usage": true}
	}
	return payload
}

func (c *Client) post(ctx context.Context, payload map[string]interface{}) (*http.Response, error) {
	if c.apiKey == "" {
		return nil, apierr.Configuration("OPENAI_API_KEY is not set")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, apierr.Invalid("encode request: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, apierr.UpstreamCall("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apierr.UpstreamCall("chat completions request: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, apierr.UpstreamCall("chat completions returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return resp, nil
}

// Generate performs a non-streaming completion. It distinguishes a body that
// is not JSON at all from a well-formed envelope that lacks message content.
func (c *Client) Generate(ctx context.Context, messages []types.ChatMessage, opts types.CompletionOptions) (*types.CompletionResult, error) {
	resp, err := c.post(ctx, c.buildPayload(messages, opts, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierr.UpstreamCall("read response: %v", err)
	}

	var envelope struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content *string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage *struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, apierr.UpstreamProtocol("decode completion response: %v", err)
	}
	if len(envelope.Choices) == 0 || envelope.Choices[0].Message.Content == nil {
		return nil, apierr.UpstreamProtocol("completion response missing content")
	}

	result := &types.CompletionResult{
		Content: *envelope.Choices[0].Message.Content,
		Model:   envelope.Model,
	}
	if result.Model == "" {
		result.Model = c.model
	}
	if envelope.Usage != nil {
		result.Usage = &types.TokenUsage{
			PromptTokens:     envelope.Usage.PromptTokens,
			CompletionTokens: envelope.Usage.CompletionTokens,
			TotalTokens:      envelope.Usage.TotalTokens,
		}
	}
	return result, nil
}

// Stream performs a streaming completion, calling emit once per decoded
// frame. It returns after the upstream sends [DONE], after a frame carries a
// terminal signal, or when the connection closes. A connection that closes
// without a terminal frame is not an error here; the caller decides how to
// finish the sequence.
func (c *Client) Stream(ctx context.Context, messages []types.ChatMessage, opts types.CompletionOptions, emit func(types.CompletionDelta) error) error {
	resp, err := c.post(ctx, c.buildPayload(messages, opts, true))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		data, ok := decodeFrame(scanner.Bytes())
		if !ok {
			continue
		}
		if data == nil {
			return nil // [DONE]
		}
		if err := emit(*data); err != nil {
			return err
		}
		if data.Terminal() {
			return nil
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return apierr.UpstreamCall("stream read: %v", err)
	}
	return ctx.Err()
}

// decodeFrame turns one SSE line into a delta. It returns (nil, true) for the
// [DONE] sentinel and (nil, false) for lines that carry nothing usable:
// blank lines, non-data fields, heartbeats with no choices and no usage, and
// payloads that fail to parse.
func decodeFrame(line []byte) (*types.CompletionDelta, bool) {
	line = bytes.TrimSpace(line)
	if !bytes.HasPrefix(line, []byte("data:")) {
		return nil, false
	}
	payload := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
	if len(payload) == 0 {
		return nil, false
	}
	if bytes.Equal(payload, []byte("[DONE]")) {
		return nil, true
	}

	var frame struct {
		Model   string `json:"model"`
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
			FinishReason *string `json:"finish_reason"`
		} `json:"choices"`
		Usage *struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(payload, &frame); err != nil {
		return nil, false
	}

	delta := types.CompletionDelta{Model: frame.Model}
	if frame.Usage != nil {
		delta.Usage = &types.TokenUsage{
			PromptTokens:     frame.Usage.PromptTokens,
			CompletionTokens: frame.Usage.CompletionTokens,
			TotalTokens:      frame.Usage.TotalTokens,
		}
	}
	if len(frame.Choices) == 0 {
		if delta.Usage == nil {
			return nil, false
		}
		return &delta, true
	}
	delta.Content = frame.Choices[0].Delta.Content
	if fr := frame.Choices[0].FinishReason; fr != nil {
		delta.FinishReason = *fr
	}
	return &delta, true
}
