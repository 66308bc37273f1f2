package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/kestrel-ai/banter/internal/secrets"
	"go.uber.org/zap"
)

type fixedKeys struct {
	keys secrets.KeySet
}

func (f *fixedKeys) Fetch(_ context.Context) (secrets.KeySet, error) {
	return f.keys, nil
}

func newTestRouter(keys secrets.KeySet) *Router {
	cache := secrets.NewCache(&fixedKeys{keys: keys}, zap.NewNop())
	return NewRouter(cache, zap.NewNop())
}

func TestSelectModelCode(t *testing.T) {
	ctx := context.Background()

	// With a valid Anthropic key, the first code-capable entry wins.
	r := newTestRouter(secrets.KeySet{"anthropic": "sk-ant-api03-real-key"})
	if got := r.SelectModel(ctx, TaskCode); got != "anthropic" {
		t.Errorf("got %q, want anthropic", got)
	}

	// With no valid keys, code falls back to the deepseek default.
	r = newTestRouter(secrets.KeySet{})
	if got := r.SelectModel(ctx, TaskCode); got != "deepseek" {
		t.Errorf("got %q, want deepseek", got)
	}
}

func TestSelectModelRegistryOrder(t *testing.T) {
	ctx := context.Background()
	r := newTestRouter(secrets.KeySet{
		"deepseek":  "sk-deep-0123456789abc",
		"anthropic": "sk-ant-api03-real-key",
	})
	// Both are code-capable; anthropic precedes deepseek in the registry.
	if got := r.SelectModel(ctx, TaskCode); got != "anthropic" {
		t.Errorf("got %q, want anthropic (registry order)", got)
	}
}

func TestListModelsRejectsPlaceholders(t *testing.T) {
	ctx := context.Background()
	r := newTestRouter(secrets.KeySet{
		"anthropic":  "demo-key",
		"deepseek":   "test-key",
		"openrouter": "short",
	})
	for _, m := range r.ListModels(ctx) {
		if m.ID == DemoModelID {
			if !m.Available {
				t.Error("demo model must always be available")
			}
			continue
		}
		if m.Available {
			t.Errorf("model %s available with placeholder credential", m.ID)
		}
	}
}

func TestInvokeDegradesToDemo(t *testing.T) {
	r := newTestRouter(secrets.KeySet{})

	resp, err := r.Invoke(context.Background(), "anthropic", &ChatRequest{
		Messages: []Message{{Role: "user", Content: "hello there"}},
		TaskType: TaskGeneral,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Demo {
		t.Error("expected a demo-labeled response")
	}
	if resp.ModelID != DemoModelID {
		t.Errorf("got model id %q, want %q", resp.ModelID, DemoModelID)
	}
	if resp.Content == "" {
		t.Error("demo response must be displayable")
	}
}

func TestInvokeUnknownModel(t *testing.T) {
	r := newTestRouter(secrets.KeySet{})
	_, err := r.Invoke(context.Background(), "nonexistent", &ChatRequest{})
	if !errors.Is(err, ErrUnknownModel) {
		t.Errorf("got %v, want ErrUnknownModel", err)
	}
}

func TestInvokeUpstream(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-deep-0123456789abc" {
			t.Errorf("got auth header %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"model": "deepseek-chat",
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "hi"}, "finish_reason": "stop"},
			},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r := newTestRouter(secrets.KeySet{"deepseek": "sk-deep-0123456789abc"})
	// Point the deepseek entry at the test server.
	cfg := r.registry.byID["deepseek"]
	cfg.Endpoint = srv.URL
	r.registry.byID["deepseek"] = cfg

	resp, err := r.Invoke(context.Background(), "deepseek", &ChatRequest{
		Messages: []Message{{Role: "user", Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hi" {
		t.Errorf("got content %q, want hi", resp.Content)
	}
	if resp.ModelID != "deepseek" {
		t.Errorf("got model id %q, want deepseek", resp.ModelID)
	}
}

func TestInvokeUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	r := newTestRouter(secrets.KeySet{"deepseek": "sk-deep-0123456789abc"})
	cfg := r.registry.byID["deepseek"]
	cfg.Endpoint = srv.URL
	r.registry.byID["deepseek"] = cfg

	_, err := r.Invoke(context.Background(), "deepseek", &ChatRequest{
		Messages: []Message{{Role: "user", Content: "hello"}},
	})
	var callErr *CallError
	if !errors.As(err, &callErr) {
		t.Fatalf("got %v, want *CallError", err)
	}
	if callErr.ModelID != "deepseek" {
		t.Errorf("got model id %q, want deepseek", callErr.ModelID)
	}
}

func TestClassifyTask(t *testing.T) {
	cases := []struct {
		message string
		want    TaskType
	}{
		{"please fix this code:\n```go\nfunc main(){}\n```", TaskCode},
		{"search the web for today's headlines", TaskWebSearch},
		{"what is in this image?", TaskVision},
		{"hello, how are you?", TaskGeneral},
	}
	for _, tc := range cases {
		if got := ClassifyTask(tc.message); got != tc.want {
			t.Errorf("ClassifyTask(%q) = %q, want %q", tc.message, got, tc.want)
		}
	}
}

func TestDemoEchoTruncatesOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("ü", 100)
	resp, err := (&DemoClient{}).Chat(context.Background(), "", ModelConfig{}, &ChatRequest{
		Messages: []Message{{Role: "user", Content: long}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if !utf8.ValidString(resp.Content) {
		t.Errorf("demo reply is not valid UTF-8: %q", resp.Content)
	}
}
