package aiopenai_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Abraxas-365/rollout/pkg/ai/llm"
	"github.com/Abraxas-365/rollout/pkg/ai/providers/aiopenai"
)

const completionBody = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "qwen",
  "choices": [{
    "index": 0,
    "finish_reason": "stop",
    "message": {"role": "assistant", "content": "<answer>Otis</answer>"},
    "logprobs": {"content": [
      {"token": "Otis", "logprob": -0.1, "bytes": null,
       "top_logprobs": [{"token": "Otis", "logprob": -0.1, "bytes": null}, {"token": "Eiffel", "logprob": -2.4, "bytes": null}]}
    ]}
  }],
  "usage": {"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16}
}`

func newServer(t *testing.T, status int, body string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, seen)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestChat_MapsResponseAndLogprobs(t *testing.T) {
	var req map[string]any
	srv := newServer(t, http.StatusOK, completionBody, &req)
	p := aiopenai.NewOpenAIProvider("test-key", aiopenai.WithBaseURL(srv.URL), aiopenai.WithDefaultModel("qwen"))

	resp, err := p.Chat(context.Background(),
		[]llm.Message{llm.NewSystemMessage("sys"), llm.NewUserMessage("who?")},
		llm.WithTopLogprobs(5), llm.WithMaxTokens(64))
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Message.Content != "<answer>Otis</answer>" || resp.Message.Role != llm.RoleAssistant {
		t.Fatalf("unexpected message %+v", resp.Message)
	}
	if resp.Usage.TotalTokens != 16 || resp.FinishReason != "stop" {
		t.Fatalf("unexpected usage or finish reason %+v", resp)
	}
	if len(resp.Logprobs) != 1 || len(resp.Logprobs[0].TopLogprobs) != 2 {
		t.Fatalf("unexpected logprobs %+v", resp.Logprobs)
	}
	if req["logprobs"] != true || req["top_logprobs"] != float64(5) || req["model"] != "qwen" {
		t.Fatalf("request missing logprob params: %v", req)
	}
}

func TestChat_EmptyContentIsEmptyResponse(t *testing.T) {
	body := `{"id":"x","object":"chat.completion","created":1,"model":"m",
	  "choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"  "}}]}`
	srv := newServer(t, http.StatusOK, body, nil)
	p := aiopenai.NewOpenAIProvider("test-key", aiopenai.WithBaseURL(srv.URL))

	_, err := p.Chat(context.Background(), []llm.Message{llm.NewUserMessage("q")})
	if llm.Classify(err) != llm.FailureEmpty {
		t.Fatalf("expected empty response failure, got %v", err)
	}
}

func TestChat_ClassifiesStatus(t *testing.T) {
	cases := []struct {
		status int
		want   llm.Failure
	}{
		{http.StatusTooManyRequests, llm.FailureTransport},
		{http.StatusBadGateway, llm.FailureTransport},
		{http.StatusBadRequest, llm.FailureRejected},
		{http.StatusUnauthorized, llm.FailureRejected},
	}
	for _, tc := range cases {
		srv := newServer(t, tc.status, `{"error":{"message":"nope","type":"invalid_request_error","code":"bad"}}`, nil)
		p := aiopenai.NewOpenAIProvider("test-key", aiopenai.WithBaseURL(srv.URL))
		_, err := p.Chat(context.Background(), []llm.Message{llm.NewUserMessage("q")})
		if got := llm.Classify(err); got != tc.want {
			t.Fatalf("status %d: expected %q, got %q (%v)", tc.status, tc.want, got, err)
		}
	}
}

func TestChat_ValidatesInput(t *testing.T) {
	p := aiopenai.NewOpenAIProvider("test-key", aiopenai.WithBaseURL("http://127.0.0.1:1"))
	if _, err := p.Chat(context.Background(), nil); err == nil {
		t.Fatalf("expected error for empty messages")
	}
	if _, err := p.Chat(context.Background(), []llm.Message{{Role: "tool", Content: "x"}}); err == nil {
		t.Fatalf("expected error for unsupported role")
	}
}
