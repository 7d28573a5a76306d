package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around", `Claro, aquí está: {"a":{"b":2}} espero ayude`, `{"a":{"b":2}}`},
		{"brace in string", `{"a":"x}y"}`, `{"a":"x}y"}`},
		{"unbalanced", `{"a":1`, ""},
		{"none", "sin json", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractJSON(tt.in); got != tt.want {
				t.Errorf("ExtractJSON(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func newTestGateway(url string) *GatewayClient {
	g := NewGatewayClient(GatewayConfig{BaseURL: url, APIKey: "k", Model: "m", EmbeddingModel: "e"}, nil)
	g.newBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
	}
	return g
}

func TestGateway_Complete(t *testing.T) {
	var got chatPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  Resumen de la llamada. "}}]}`))
	}))
	defer srv.Close()

	out, err := newTestGateway(srv.URL).Complete(context.Background(), ChatRequest{
		System: "sys", Prompt: "hola", Temperature: 0.2, JSON: true,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "Resumen de la llamada." {
		t.Errorf("out = %q", out)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "hola" {
		t.Errorf("messages = %+v", got.Messages)
	}
	if got.Model != "m" || got.Temperature != 0.2 || got.ResponseFormat["type"] != "json_object" {
		t.Errorf("payload = %+v", got)
	}
}

func TestGateway_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	out, err := newTestGateway(srv.URL).Complete(context.Background(), ChatRequest{Prompt: "x"})
	if err != nil || out != "ok" {
		t.Fatalf("Complete = %q, %v", out, err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestGateway_ClientErrorIsPermanent(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, `{"error":"bad model"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newTestGateway(srv.URL).Complete(context.Background(), ChatRequest{Prompt: "x"})
	if err == nil || !strings.Contains(err.Error(), "status 400") {
		t.Fatalf("err = %v, want status 400", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestGateway_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if r.URL.Path != "/embeddings" || body["model"] != "e" || body["input"] != "texto" {
			t.Errorf("path=%s body=%v", r.URL.Path, body)
		}
		w.Write([]byte(`{"data":[{"embedding":[0.5,-1,2]}]}`))
	}))
	defer srv.Close()

	vec, err := newTestGateway(srv.URL).Embed(context.Background(), "texto")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 || vec[0] != 0.5 || vec[1] != -1 {
		t.Errorf("vec = %v", vec)
	}
}

func TestAnthropic_Complete(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
			"content":[{"type":"text","text":"{\"score\": 80}"}],
			"stop_reason":"end_turn","usage":{"input_tokens":10,"output_tokens":5}}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient("key", "claude-test", nil, option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	out, err := c.Complete(context.Background(), ChatRequest{System: "Eres un evaluador.", Prompt: "evalúa", JSON: true})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != `{"score": 80}` {
		t.Errorf("out = %q", out)
	}
	if got["model"] != "claude-test" {
		t.Errorf("model = %v", got["model"])
	}
	system, _ := json.Marshal(got["system"])
	if !strings.Contains(string(system), "objeto JSON") {
		t.Errorf("system = %s, want json instruction", system)
	}
}
