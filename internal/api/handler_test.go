package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/kestrel-ai/banter/internal/command"
	"github.com/kestrel-ai/banter/internal/memory"
	"github.com/kestrel-ai/banter/internal/orchestrator"
	"github.com/kestrel-ai/banter/internal/persona"
	"github.com/kestrel-ai/banter/internal/provider"
	"github.com/kestrel-ai/banter/internal/session"
	"github.com/kestrel-ai/banter/internal/tools"
)

type fakeRouter struct{}

func (fakeRouter) SelectModel(context.Context, provider.TaskType) string { return "anthropic" }

func (fakeRouter) Invoke(_ context.Context, _ string, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	last := req.Messages[len(req.Messages)-1]
	return &provider.ChatResponse{ModelID: "anthropic", Content: "echo: " + last.Content}, nil
}

type fakeMemory struct {
	matches []memory.Match
	saved   int
}

func (f *fakeMemory) Search(context.Context, string, int, float64, memory.Filters) ([]memory.Match, error) {
	return f.matches, nil
}

func (f *fakeMemory) Save(context.Context, string, map[string]any, memory.Type, string) (string, error) {
	f.saved++
	return "mem-1", nil
}

func (f *fakeMemory) TouchAll(context.Context, []string) {}

type fakeModels struct{}

func (fakeModels) ListModels(context.Context) []provider.ModelInfo {
	return []provider.ModelInfo{
		{ModelConfig: provider.ModelConfig{ID: "anthropic"}, Available: true},
		{ModelConfig: provider.ModelConfig{ID: provider.DemoModelID}, Available: true},
	}
}

type memLocal struct {
	data map[string][]byte
}

func (m *memLocal) SaveSession(id string, payload []byte) error {
	m.data[id] = payload
	return nil
}
func (m *memLocal) LoadSession(id string) ([]byte, error) { return m.data[id], nil }
func (m *memLocal) DeleteSession(id string) error         { delete(m.data, id); return nil }

type memSettings struct {
	data map[string]tools.Settings
}

func (m *memSettings) LoadSettings(id string) (tools.Settings, error) {
	if s, ok := m.data[id]; ok {
		return s, nil
	}
	return tools.DefaultSettings(), nil
}

func (m *memSettings) SaveSettings(id string, s tools.Settings) error {
	m.data[id] = s
	return nil
}

// newTestServer wires a handler with in-memory deps, no external stores.
func newTestServer(t *testing.T) (*httptest.Server, *fakeMemory) {
	t.Helper()
	logger := zap.NewNop()

	mem := &fakeMemory{}
	sessions := session.NewManager(&memLocal{data: make(map[string][]byte)}, nil, logger)
	personas := persona.NewRegistry()
	orch := orchestrator.New(fakeRouter{}, mem, nil, sessions, personas, nil, logger)

	commands := command.NewRegistry()
	command.RegisterBuiltins(commands)

	h := NewHandler(Config{
		Orchestrator: orch,
		Sessions:     sessions,
		Personas:     personas,
		Memory:       mem,
		Models:       fakeModels{},
		Selector:     fakeRouter{},
		Settings:     &memSettings{data: make(map[string]tools.Settings)},
		Commands:     commands,
		Logger:       logger,
	})
	ts := httptest.NewServer(h.Router())
	t.Cleanup(ts.Close)
	return ts, mem
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body any) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health: %v", err)
	}
	var body map[string]any
	decodeJSON(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("got status %v", body["status"])
	}
	if body["models_available"] != float64(2) {
		t.Errorf("got models_available %v", body["models_available"])
	}
}

func TestChatTurn(t *testing.T) {
	ts, mem := newTestServer(t)

	resp := postJSON(t, ts, "/api/chat", map[string]string{"message": "hello there"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d", resp.StatusCode)
	}
	var body struct {
		ConversationID string `json:"conversationId"`
		Reply          string `json:"reply"`
		Model          string `json:"model"`
	}
	decodeJSON(t, resp, &body)
	if body.ConversationID == "" {
		t.Error("missing conversation id")
	}
	if body.Reply != "echo: hello there" {
		t.Errorf("got reply %q", body.Reply)
	}
	if mem.saved != 1 {
		t.Errorf("got %d write-backs, want 1", mem.saved)
	}

	// A follow-up on the same conversation accumulates history.
	resp = postJSON(t, ts, "/api/chat", map[string]string{
		"message":        "second message",
		"conversationId": body.ConversationID,
	})
	var second struct {
		ConversationID string `json:"conversationId"`
	}
	decodeJSON(t, resp, &second)
	if second.ConversationID != body.ConversationID {
		t.Errorf("conversation id changed: %q vs %q", second.ConversationID, body.ConversationID)
	}

	histResp, err := http.Get(ts.URL + "/api/sessions/" + body.ConversationID)
	if err != nil {
		t.Fatalf("GET session: %v", err)
	}
	var hist struct {
		Messages []session.Message `json:"messages"`
	}
	decodeJSON(t, histResp, &hist)
	if len(hist.Messages) != 4 {
		t.Errorf("got %d messages, want 4", len(hist.Messages))
	}
}

func TestChatValidation(t *testing.T) {
	ts, _ := newTestServer(t)
	resp := postJSON(t, ts, "/api/chat", map[string]string{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("got status %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestChatSlashCommand(t *testing.T) {
	ts, _ := newTestServer(t)
	resp := postJSON(t, ts, "/api/chat", map[string]string{"message": "/help"})
	var body struct {
		Reply string `json:"reply"`
	}
	decodeJSON(t, resp, &body)
	if body.Reply == "" || !bytes.Contains([]byte(body.Reply), []byte("/persona")) {
		t.Errorf("got help output %q", body.Reply)
	}
}

func TestClearSession(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts, "/api/chat", map[string]string{"message": "hi"})
	var body struct {
		ConversationID string `json:"conversationId"`
	}
	decodeJSON(t, resp, &body)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/sessions/"+body.ConversationID, nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE session: %v", err)
	}
	var cleared map[string]string
	decodeJSON(t, delResp, &cleared)
	if cleared["conversationId"] == "" || cleared["conversationId"] == body.ConversationID {
		t.Errorf("got new id %q", cleared["conversationId"])
	}

	histResp, err := http.Get(ts.URL + "/api/sessions/" + body.ConversationID)
	if err != nil {
		t.Fatalf("GET session: %v", err)
	}
	if histResp.StatusCode != http.StatusNotFound {
		t.Errorf("old session returned %d, want 404", histResp.StatusCode)
	}
	histResp.Body.Close()
}

func TestSearchMemoryEndpoint(t *testing.T) {
	ts, mem := newTestServer(t)
	mem.matches = []memory.Match{
		{Entry: memory.Entry{ID: "m1", Title: "note"}, Similarity: 0.92},
	}

	resp := postJSON(t, ts, "/api/memory/search", map[string]any{"query": "note"})
	var body struct {
		Memories []memory.Match `json:"memories"`
	}
	decodeJSON(t, resp, &body)
	if len(body.Memories) != 1 || body.Memories[0].ID != "m1" {
		t.Errorf("got %v", body.Memories)
	}
}

func TestToolSettingsRoundTrip(t *testing.T) {
	ts, _ := newTestServer(t)

	b, _ := json.Marshal(tools.Settings{ConnectionEnabled: true, DisabledTools: []string{"execute_sql"}})
	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/api/tools/settings?session=s1", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT settings: %v", err)
	}
	resp.Body.Close()

	getResp, err := http.Get(ts.URL + "/api/tools/settings?session=s1")
	if err != nil {
		t.Fatalf("GET settings: %v", err)
	}
	var settings tools.Settings
	decodeJSON(t, getResp, &settings)
	if !settings.Disabled("execute_sql") {
		t.Errorf("got %+v", settings)
	}
}

func TestSelectModelEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts, "/api/models/select", map[string]string{"taskType": "code"})
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["model"] != "anthropic" {
		t.Errorf("got model %q, want anthropic", body["model"])
	}
	if body["taskType"] != "code" {
		t.Errorf("got taskType %q, want code", body["taskType"])
	}

	// An empty task type defaults to general.
	resp = postJSON(t, ts, "/api/models/select", map[string]string{})
	decodeJSON(t, resp, &body)
	if body["taskType"] != "general" {
		t.Errorf("got taskType %q, want general", body["taskType"])
	}
}

func TestRelatedMemoriesWithoutGraph(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/memory/m1/related")
	if err != nil {
		t.Fatalf("GET related: %v", err)
	}
	var body struct {
		Related []string `json:"related"`
	}
	decodeJSON(t, resp, &body)
	if len(body.Related) != 0 {
		t.Errorf("got %v, want empty", body.Related)
	}
}

func TestCallToolWithoutGateway(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts, "/api/tools/call", map[string]any{"tool_name": "execute_sql"})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("got status %d, want 503", resp.StatusCode)
	}
	resp.Body.Close()
}
