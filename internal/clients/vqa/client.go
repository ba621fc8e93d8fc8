package vqa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/9963KK/aiedu-backend/internal/logger"
	"github.com/9963KK/aiedu-backend/internal/types"
	"github.com/9963KK/aiedu-backend/internal/utils"
)

// Degrade ladder: the three confidence values distinguish why the router
// fell back to "diagram". Callers and tests depend on the exact numbers.
const (
	confUnconfigured = 0.55
	confUpstreamErr  = 0.51
	confParseErr     = 0.52
)

// Client classifies an image into a coarse category by asking a VLM through
// an OpenAI-compatible chat endpoint. Classify never fails: every error path
// degrades to "diagram" at a ladder-specific confidence.
type Client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

func New(log *logger.Logger) *Client {
	clientLog := log.With("client", "VQAClient")
	timeout := utils.GetEnvAsInt("REQUEST_TIMEOUT_SECONDS", 30, log)
	return &Client{
		log:        clientLog,
		baseURL:    strings.TrimRight(utils.GetEnv("VQA_BASE_URL", "", log), "/"),
		apiKey:     utils.GetEnv("VQA_API_KEY", "", nil),
		model:      utils.GetEnv("VQA_MODEL", "", log),
		httpClient: &http.Client{Timeout: time.Duration(timeout) * time.Second},
	}
}

// Configured reports whether the remote classifier can be called at all.
func (c *Client) Configured() bool {
	return c.baseURL != "" && c.model != ""
}

func (c *Client) Classify(ctx context.Context, content []byte, filename string) types.Classification {
	if !c.Configured() {
		return types.Classification{Label: types.LabelDiagram, Confidence: confUnconfigured}
	}

	payload := map[string]interface{}{
		"model": c.model,
		"messages": []map[string]interface{}{
			{
				"role": "user",
				"content": []map[string]interface{}{
					{
						"type": "text",
						"text": `Classify this image into exactly one of: text_heavy, table, diagram, chart, photo. Reply with JSON {"label": "...", "confidence": 0.0}.`,
					},
					{
						"type": "image_url",
						"image_url": map[string]string{
							"url": "data:" + mimeForFilename(filename) + ";base64," + base64.StdEncoding.EncodeToString(content),
						},
					},
				},
			},
		},
		"temperature": 0,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		c.log.Warn("vqa request encode failed", "error", err)
		return types.Classification{Label: types.LabelDiagram, Confidence: confParseErr}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		c.log.Warn("vqa request build failed", "error", err)
		return types.Classification{Label: types.LabelDiagram, Confidence: confUpstreamErr}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn("vqa request failed", "error", err)
		return types.Classification{Label: types.LabelDiagram, Confidence: confUpstreamErr}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.log.Warn("vqa response read failed", "error", err)
		return types.Classification{Label: types.LabelDiagram, Confidence: confUpstreamErr}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Warn("vqa request failed", "status", resp.StatusCode, "body", string(raw))
		return types.Classification{Label: types.LabelDiagram, Confidence: confUpstreamErr}
	}

	cls, err := decodeClassification(raw)
	if err != nil {
		c.log.Warn("vqa response parse failed", "error", err)
		return types.Classification{Label: types.LabelDiagram, Confidence: confParseErr}
	}
	return cls
}

func decodeClassification(raw []byte) (types.Classification, error) {
	var envelope struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return types.Classification{}, fmt.Errorf("decode envelope: %w", err)
	}
	if len(envelope.Choices) == 0 {
		return types.Classification{}, fmt.Errorf("empty choices")
	}

	content := envelope.Choices[0].Message.Content
	// Models occasionally wrap the JSON answer in a code fence.
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var answer struct {
		Label      string  `json:"label"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &answer); err != nil {
		return types.Classification{}, fmt.Errorf("decode answer: %w", err)
	}
	if !validLabel(answer.Label) {
		return types.Classification{}, fmt.Errorf("unknown label %q", answer.Label)
	}
	if answer.Confidence < 0 || answer.Confidence > 1 {
		return types.Classification{}, fmt.Errorf("confidence %v out of range", answer.Confidence)
	}
	return types.Classification{Label: answer.Label, Confidence: answer.Confidence}, nil
}

func validLabel(label string) bool {
	switch label {
	case types.LabelTextHeavy, types.LabelTable, types.LabelDiagram, types.LabelChart, types.LabelPhoto:
		return true
	}
	return false
}

func mimeForFilename(filename string) string {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".png"):
		return "image/png"
	default:
		return "image/jpeg"
	}
}
