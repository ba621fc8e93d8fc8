package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/9963KK/aiedu-backend/internal/apierr"
	"github.com/9963KK/aiedu-backend/internal/logger"
	"github.com/9963KK/aiedu-backend/internal/types"
)

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		wantSkip bool
		wantDone bool
		check    func(t *testing.T, d *types.CompletionDelta)
	}{
		{
			name:     "blank line skipped",
			line:     "",
			wantSkip: true,
		},
		{
			name:     "comment line skipped",
			line:     ": keep-alive",
			wantSkip: true,
		},
		{
			name:     "event field skipped",
			line:     "event: message",
			wantSkip: true,
		},
		{
			name:     "done sentinel",
			line:     "data: [DONE]",
			wantDone: true,
		},
		{
			name:     "malformed json skipped",
			line:     `data: {"choices": [`,
			wantSkip: true,
		},
		{
			name:     "heartbeat with no choices skipped",
			line:     `data: {"choices": []}`,
			wantSkip: true,
		},
		{
			name: "content delta",
			line: `data: {"model":"m1","choices":[{"delta":{"content":"hi"},"finish_reason":null}]}`,
			check: func(t *testing.T, d *types.CompletionDelta) {
				if d.Content != "hi" || d.Terminal() {
					t.Errorf("delta = %+v, want non-terminal content", d)
				}
				if d.Model != "m1" {
					t.Errorf("model = %q, want m1", d.Model)
				}
			},
		},
		{
			name: "finish reason terminal",
			line: `data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`,
			check: func(t *testing.T, d *types.CompletionDelta) {
				if !d.Terminal() || d.FinishReason != "stop" {
					t.Errorf("delta = %+v, want terminal stop", d)
				}
			},
		},
		{
			name: "usage only frame terminal",
			line: `data: {"choices":[],"usage":{"prompt_tokens":3,"completion_tokens":5,"total_tokens":8}}`,
			check: func(t *testing.T, d *types.CompletionDelta) {
				if !d.Terminal() || d.Usage == nil || d.Usage.TotalTokens != 8 {
					t.Errorf("delta = %+v, want terminal usage 8", d)
				}
			},
		},
		{
			name: "content with trailing finish reason",
			line: `data: {"choices":[{"delta":{"content":"bye"},"finish_reason":"length"}]}`,
			check: func(t *testing.T, d *types.CompletionDelta) {
				if d.Content != "bye" || d.FinishReason != "length" {
					t.Errorf("delta = %+v", d)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delta, ok := decodeFrame([]byte(tt.line))
			if tt.wantSkip {
				if ok {
					t.Fatalf("decodeFrame(%q) = %+v, want skip", tt.line, delta)
				}
				return
			}
			if tt.wantDone {
				if !ok || delta != nil {
					t.Fatalf("decodeFrame(%q) = (%+v, %v), want done sentinel", tt.line, delta, ok)
				}
				return
			}
			if !ok || delta == nil {
				t.Fatalf("decodeFrame(%q) = (%+v, %v), want delta", tt.line, delta, ok)
			}
			tt.check(t, delta)
		})
	}
}

func testClient(url string) *Client {
	return &Client{
		log:        logger.NewNop(),
		baseURL:    url,
		apiKey:     "test-key",
		model:      "test-model",
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func TestGenerateSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"model":"gpt-x","choices":[{"message":{"content":"answer"}}],"usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}}`))
	}))
	defer srv.Close()

	result, err := testClient(srv.URL).Generate(context.Background(), []types.ChatMessage{{Role: types.RoleUser, Content: "q"}}, types.CompletionOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Content != "answer" || result.Model != "gpt-x" {
		t.Errorf("result = %+v", result)
	}
	if result.Usage == nil || result.Usage.TotalTokens != 3 {
		t.Errorf("usage = %+v, want total 3", result.Usage)
	}
}

func TestBuildPayloadTemperature(t *testing.T) {
	requested := 0.2
	configured := 0.7
	tests := []struct {
		name   string
		client *float64
		opts   *float64
		want   *float64
	}{
		{name: "omitted when nowhere set"},
		{name: "configured default applies", client: &configured, want: &configured},
		{name: "request override wins", client: &configured, opts: &requested, want: &requested},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := testClient("http://unused")
			client.temperature = tt.client
			payload := client.buildPayload(nil, types.CompletionOptions{Temperature: tt.opts}, false)
			got, ok := payload["temperature"]
			if tt.want == nil {
				if ok {
					t.Fatalf("temperature = %v, want omitted", got)
				}
				return
			}
			if !ok || got.(float64) != *tt.want {
				t.Fatalf("temperature = %v, want %v", got, *tt.want)
			}
		})
	}
}

func TestNewReadsTemperatureFromEnv(t *testing.T) {
	t.Setenv("OPENAI_TEMPERATURE", "0.3")
	client := New(logger.NewNop())
	if client.temperature == nil || *client.temperature != 0.3 {
		t.Fatalf("temperature = %v, want 0.3", client.temperature)
	}
}

func TestGenerateNonJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>gateway error</html>"))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Generate(context.Background(), nil, types.CompletionOptions{})
	if !apierr.IsCode(err, apierr.CodeUpstreamProtocol) {
		t.Fatalf("err = %v, want upstream_protocol_error", err)
	}
	if !strings.Contains(err.Error(), "decode") {
		t.Errorf("err = %v, want decode failure description", err)
	}
}

func TestGenerateMissingContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{}}]}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Generate(context.Background(), nil, types.CompletionOptions{})
	if !apierr.IsCode(err, apierr.CodeUpstreamProtocol) {
		t.Fatalf("err = %v, want upstream_protocol_error", err)
	}
	if !strings.Contains(err.Error(), "missing content") {
		t.Errorf("err = %v, want missing content description", err)
	}
}

func TestGenerateUpstreamHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Generate(context.Background(), nil, types.CompletionOptions{})
	if !apierr.IsCode(err, apierr.CodeUpstreamCall) {
		t.Fatalf("err = %v, want upstream_call_error", err)
	}
}

func TestGenerateWithoutAPIKey(t *testing.T) {
	client := testClient("http://unused")
	client.apiKey = ""
	_, err := client.Generate(context.Background(), nil, types.CompletionOptions{})
	if !apierr.IsCode(err, apierr.CodeConfiguration) {
		t.Fatalf("err = %v, want configuration_error", err)
	}
}

func TestStreamEmitsDecodedFrames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(
			"data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n" +
				": heartbeat\n\n" +
				"data: {\"choices\":[]}\n\n" +
				"data: not-json\n\n" +
				"data: {\"choices\":[{\"delta\":{\"content\":\"b\"},\"finish_reason\":\"stop\"}]}\n\n" +
				"data: [DONE]\n\n"))
	}))
	defer srv.Close()

	var got []types.CompletionDelta
	err := testClient(srv.URL).Stream(context.Background(), nil, types.CompletionOptions{}, func(d types.CompletionDelta) error {
		got = append(got, d)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d deltas, want 2 (heartbeats and junk skipped)", len(got))
	}
	if got[0].Content != "a" || got[1].Content != "b" || !got[1].Terminal() {
		t.Errorf("deltas = %+v", got)
	}
}

func TestStreamStopsAtDoneWithoutTerminalFrame(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\ndata: [DONE]\n\n"))
	}))
	defer srv.Close()

	var got []types.CompletionDelta
	err := testClient(srv.URL).Stream(context.Background(), nil, types.CompletionOptions{}, func(d types.CompletionDelta) error {
		got = append(got, d)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Terminal() {
		t.Errorf("deltas = %+v, want one non-terminal delta", got)
	}
}
