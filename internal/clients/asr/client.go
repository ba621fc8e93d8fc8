package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/9963KK/aiedu-backend/internal/apierr"
	"github.com/9963KK/aiedu-backend/internal/logger"
	"github.com/9963KK/aiedu-backend/internal/types"
	"github.com/9963KK/aiedu-backend/internal/utils"
)

// Client talks to an OpenAI-compatible /audio/transcriptions endpoint and
// returns time-aligned transcript segments.
type Client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

func New(log *logger.Logger) *Client {
	clientLog := log.With("client", "ASRClient")
	timeout := utils.GetEnvAsInt("REQUEST_TIMEOUT_SECONDS", 60, log)
	return &Client{
		log:        clientLog,
		baseURL:    strings.TrimRight(utils.GetEnv("ASR_BASE_URL", "", log), "/"),
		apiKey:     utils.GetEnv("ASR_API_KEY", "", nil),
		model:      utils.GetEnv("ASR_MODEL", "whisper-1", log),
		httpClient: &http.Client{Timeout: time.Duration(timeout) * time.Second},
	}
}

func (c *Client) Transcribe(ctx context.Context, content []byte, filename string) (*types.TranscriptResult, error) {
	if c.baseURL == "" {
		return nil, apierr.Configuration("ASR_BASE_URL must be set to transcribe audio")
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(content); err != nil {
		return nil, err
	}
	_ = mw.WriteField("model", c.model)
	_ = mw.WriteField("response_format", "verbose_json")
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apierr.UpstreamCall("asr request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierr.UpstreamCall("asr response read failed: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apierr.UpstreamCall("asr request failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		Text     string `json:"text"`
		Segments []struct {
			Start float64 `json:"start"`
			End   float64 `json:"end"`
			Text  string  `json:"text"`
		} `json:"segments"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, apierr.UpstreamProtocol("asr response decode failed: %v", err)
	}

	out := &types.TranscriptResult{}
	for _, seg := range decoded.Segments {
		out.Segments = append(out.Segments, types.TranscriptSegment{
			Start: seg.Start,
			End:   seg.End,
			Text:  strings.TrimSpace(seg.Text),
		})
	}
	// Some providers return only the flat transcript.
	if len(out.Segments) == 0 && strings.TrimSpace(decoded.Text) != "" {
		out.Segments = append(out.Segments, types.TranscriptSegment{Text: strings.TrimSpace(decoded.Text)})
	}
	return out, nil
}
