package mineru

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

const defaultBaseURL = "https://mineru.net"

// Client wraps the MinerU parsing API for documents and images.
type Client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func New(log *logger.Logger) *Client {
	clientLog := log.With("client", "MinerUClient")
	timeout := utils.GetEnvAsInt("REQUEST_TIMEOUT_SECONDS", 60, log)
	return &Client{
		log:        clientLog,
		baseURL:    strings.TrimRight(utils.GetEnv("MINERU_BASE_URL", defaultBaseURL, log), "/"),
		apiKey:     utils.GetEnv("MINERU_API_KEY", "", nil),
		httpClient: &http.Client{Timeout: time.Duration(timeout) * time.Second},
	}
}

// ParseDocument sends the whole document (pdf/ppt/pptx/doc/docx) for parsing
// and returns the provider-normalized pages and tables.
func (c *Client) ParseDocument(ctx context.Context, content []byte, filename, docType string) (*types.DocumentParseResult, error) {
	var out types.DocumentParseResult
	if err := c.postFile(ctx, "/parse/"+docType, content, filename, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ParseImage runs OCR/table extraction on a single image.
func (c *Client) ParseImage(ctx context.Context, content []byte, filename string) (*types.ImageParseResult, error) {
	var out types.ImageParseResult
	if err := c.postFile(ctx, "/parse/image", content, filename, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) postFile(ctx context.Context, path string, content []byte, filename string, out interface{}) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := part.Write(content); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apierr.UpstreamCall("mineru request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return apierr.UpstreamCall("mineru response read failed: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apierr.UpstreamCall("mineru request failed (%d): %s", resp.StatusCode, extractErrorDetail(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apierr.UpstreamProtocol("mineru response decode failed: %v", err)
	}
	return nil
}

// extractErrorDetail pulls a human-readable message out of a provider error
// body, falling back to the raw text.
func extractErrorDetail(body []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if envelope.Error.Message != "" {
			return envelope.Error.Message
		}
		if envelope.Detail != "" {
			return envelope.Detail
		}
		if envelope.Message != "" {
			return envelope.Message
		}
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return "no response body"
	}
	return text
}
