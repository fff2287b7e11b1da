package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOpenAICompleteSendsSystemAndUserMessages(t *testing.T) {
	var got struct {
		Model          string `json:"model"`
		ResponseFormat *struct {
			Type string `json:"type"`
		} `json:"response_format"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4-turbo",
"choices":[{"index":0,"message":{"role":"assistant","content":"{\"operation_type\":\"SELECT\"}"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	provider, err := NewOpenAI(Config{BaseURL: srv.URL, APIKey: "sk-test", Model: "gpt-4-turbo"})
	if err != nil {
		t.Fatalf("NewOpenAI() error = %v", err)
	}
	text, err := provider.Complete(context.Background(), Request{
		Stage:  StageIntent,
		System: "system prompt",
		User:   "list users",
		JSON:   true,
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if text != `{"operation_type":"SELECT"}` {
		t.Fatalf("text = %q", text)
	}
	if gotPath != "/v1/chat/completions" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("authorization = %q", gotAuth)
	}
	if got.Model != "gpt-4-turbo" || len(got.Messages) != 2 {
		t.Fatalf("request = %+v", got)
	}
	if got.Messages[0].Role != "system" || got.Messages[1].Content != "list users" {
		t.Fatalf("messages = %+v", got.Messages)
	}
	if got.ResponseFormat == nil || got.ResponseFormat.Type != "json_object" {
		t.Fatalf("response_format = %+v", got.ResponseFormat)
	}
}

func TestOpenAIClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"bad key","type":"invalid_request_error","code":"invalid_api_key"}}`)
	}))
	defer srv.Close()

	provider, err := NewOpenAI(Config{BaseURL: srv.URL, APIKey: "sk-bad"})
	if err != nil {
		t.Fatalf("NewOpenAI() error = %v", err)
	}
	_, err = provider.Complete(context.Background(), Request{Stage: StageSQL, System: "s", User: "u"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestOpenAIServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error":{"message":"overloaded","type":"server_error"}}`)
	}))
	defer srv.Close()

	provider, err := NewOpenAI(Config{BaseURL: srv.URL, APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("NewOpenAI() error = %v", err)
	}
	_, err = provider.Complete(context.Background(), Request{Stage: StageSQL, System: "s", User: "u"})
	if err == nil || IsPermanent(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}

func TestAnthropicCompleteReturnsFirstTextBlock(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		System   string `json:"system"`
		Messages []struct {
			Role string `json:"role"`
		} `json:"messages"`
	}
	var gotPath, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-Api-Key")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
"content":[{"type":"text","text":"SELECT 1;"}],"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":2}}`)
	}))
	defer srv.Close()

	provider, err := NewAnthropic(Config{BaseURL: srv.URL, APIKey: "sk-ant", Model: "claude-test"})
	if err != nil {
		t.Fatalf("NewAnthropic() error = %v", err)
	}
	text, err := provider.Complete(context.Background(), Request{Stage: StageSQL, System: "generate sql", User: "count"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if text != "SELECT 1;" {
		t.Fatalf("text = %q", text)
	}
	if !strings.HasSuffix(gotPath, "/messages") {
		t.Fatalf("path = %q", gotPath)
	}
	if gotKey != "sk-ant" {
		t.Fatalf("x-api-key = %q", gotKey)
	}
	if got.Model != "claude-test" || got.System != "generate sql" || len(got.Messages) != 1 {
		t.Fatalf("request = %+v", got)
	}
}

func TestAnthropicClientErrorIsPermanent(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{"authentication", http.StatusUnauthorized, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`},
		{"unknown model", http.StatusNotFound, `{"type":"error","error":{"type":"not_found_error","message":"model: nope"}}`},
		{"unstructured", http.StatusBadRequest, `bad request`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}))
			defer srv.Close()

			provider, err := NewAnthropic(Config{BaseURL: srv.URL, APIKey: "sk-ant-bad"})
			if err != nil {
				t.Fatalf("NewAnthropic() error = %v", err)
			}
			_, err = provider.Complete(context.Background(), Request{Stage: StageSQL, System: "s", User: "u"})
			if err == nil || !IsPermanent(err) {
				t.Fatalf("expected permanent error, got %v", err)
			}
		})
	}
}

func TestAnthropicRateLimitAndOverloadAreRetryable(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{"rate limited", http.StatusTooManyRequests, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`},
		{"overloaded", 529, `{"type":"error","error":{"type":"overloaded_error","message":"overloaded"}}`},
		{"unstructured 429", http.StatusTooManyRequests, `too many`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}))
			defer srv.Close()

			provider, err := NewAnthropic(Config{BaseURL: srv.URL, APIKey: "sk-ant"})
			if err != nil {
				t.Fatalf("NewAnthropic() error = %v", err)
			}
			_, err = provider.Complete(context.Background(), Request{Stage: StageSQL, System: "s", User: "u"})
			if err == nil || IsPermanent(err) {
				t.Fatalf("expected retryable error, got %v", err)
			}
		})
	}
}
