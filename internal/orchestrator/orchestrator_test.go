package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/kestrel-ai/banter/internal/memory"
	"github.com/kestrel-ai/banter/internal/persona"
	"github.com/kestrel-ai/banter/internal/provider"
	"github.com/kestrel-ai/banter/internal/session"
	"github.com/kestrel-ai/banter/internal/tools"
)

type memLocal struct {
	data map[string][]byte
}

func (m *memLocal) SaveSession(id string, payload []byte) error {
	m.data[id] = payload
	return nil
}
func (m *memLocal) LoadSession(id string) ([]byte, error) { return m.data[id], nil }
func (m *memLocal) DeleteSession(id string) error         { delete(m.data, id); return nil }

type scriptedRouter struct {
	responses []*provider.ChatResponse
	errs      []error
	calls     int
	requests  []*provider.ChatRequest
}

func (r *scriptedRouter) SelectModel(context.Context, provider.TaskType) string { return "anthropic" }

func (r *scriptedRouter) Invoke(_ context.Context, _ string, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	i := r.calls
	r.calls++
	r.requests = append(r.requests, req)
	if i < len(r.errs) && r.errs[i] != nil {
		return nil, r.errs[i]
	}
	if i < len(r.responses) {
		return r.responses[i], nil
	}
	return &provider.ChatResponse{ModelID: "anthropic", Content: "ok"}, nil
}

type fakeMemory struct {
	matches   []memory.Match
	searchErr error
	saveErr   error
	saved     []string
	touched   []string
}

func (f *fakeMemory) Search(context.Context, string, int, float64, memory.Filters) ([]memory.Match, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.matches, nil
}

func (f *fakeMemory) Save(_ context.Context, text string, _ map[string]any, _ memory.Type, _ string) (string, error) {
	if f.saveErr != nil {
		return "", f.saveErr
	}
	f.saved = append(f.saved, text)
	return "mem-1", nil
}

func (f *fakeMemory) TouchAll(_ context.Context, ids []string) {
	f.touched = append(f.touched, ids...)
}

type fakeGateway struct {
	descriptors []tools.Descriptor
	results     map[string]string
	errs        map[string]error
	calls       []string
}

func (f *fakeGateway) Call(_ context.Context, _, name string, _ map[string]any) (json.RawMessage, error) {
	f.calls = append(f.calls, name)
	if err := f.errs[name]; err != nil {
		return nil, err
	}
	return json.RawMessage(f.results[name]), nil
}

func (f *fakeGateway) Tools() []tools.Descriptor { return f.descriptors }
func (f *fakeGateway) State() tools.State        { return tools.StateOnline }

func newTestOrchestrator(router ModelRouter, mem MemoryStore, gw ToolGateway) (*Orchestrator, *session.Session) {
	local := &memLocal{data: make(map[string][]byte)}
	mgr := session.NewManager(local, nil, zap.NewNop())
	o := New(router, mem, gw, mgr, persona.NewRegistry(), nil, zap.NewNop())
	return o, session.New("user-1", persona.DefaultID)
}

func TestHandleTurn(t *testing.T) {
	router := &scriptedRouter{responses: []*provider.ChatResponse{
		{ModelID: "anthropic", Content: "the answer"},
	}}
	mem := &fakeMemory{matches: []memory.Match{
		{Entry: memory.Entry{ID: "m1", Title: "past note"}, Similarity: 0.91},
	}}
	o, sess := newTestOrchestrator(router, mem, nil)

	result, err := o.HandleTurn(context.Background(), sess, "what did we decide?")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if result.Reply != "the answer" {
		t.Errorf("got reply %q", result.Reply)
	}
	if len(result.MemoryContext) != 1 || result.MemoryContext[0].ID != "m1" {
		t.Errorf("got memory context %v", result.MemoryContext)
	}
	if len(mem.touched) != 1 || mem.touched[0] != "m1" {
		t.Errorf("touched %v, want [m1]", mem.touched)
	}
	if len(mem.saved) != 1 {
		t.Errorf("got %d write-backs, want 1", len(mem.saved))
	}

	msgs := sess.Messages()
	if len(msgs) != 2 || msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Fatalf("got messages %v", msgs)
	}
	if msgs[1].Content != "the answer" || msgs[1].ModelID != "anthropic" {
		t.Errorf("assistant message %+v", msgs[1])
	}
}

func TestMemoryFailureDegrades(t *testing.T) {
	router := &scriptedRouter{}
	mem := &fakeMemory{searchErr: errors.New("pg down")}
	o, sess := newTestOrchestrator(router, mem, nil)

	result, err := o.HandleTurn(context.Background(), sess, "hello")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if len(result.Notices) == 0 {
		t.Error("expected a degradation notice")
	}
	if len(result.MemoryContext) != 0 {
		t.Errorf("got memory context %v, want none", result.MemoryContext)
	}
}

func TestPrimaryProviderFailureAborts(t *testing.T) {
	router := &scriptedRouter{errs: []error{&provider.CallError{ModelID: "anthropic", Message: "rate limited"}}}
	o, sess := newTestOrchestrator(router, &fakeMemory{}, nil)

	_, err := o.HandleTurn(context.Background(), sess, "hello")
	var callErr *provider.CallError
	if !errors.As(err, &callErr) {
		t.Fatalf("got %v, want *provider.CallError", err)
	}

	msgs := sess.Messages()
	if len(msgs) != 1 || msgs[0].Role != "user" {
		t.Errorf("got messages %v, want only the user message", msgs)
	}
}

func TestToolRound(t *testing.T) {
	router := &scriptedRouter{responses: []*provider.ChatResponse{
		{
			ModelID:      "anthropic",
			FinishReason: "tool_calls",
			ToolCalls: []provider.ToolCall{{
				ID:   "call_1",
				Type: "function",
				Function: provider.ToolCallFunction{
					Name:      "execute_sql",
					Arguments: `{"query":"select 1"}`,
				},
			}},
		},
		{ModelID: "anthropic", Content: "one row returned"},
	}}
	gw := &fakeGateway{
		descriptors: []tools.Descriptor{{Name: "execute_sql"}},
		results:     map[string]string{"execute_sql": `{"rows":[[1]]}`},
	}
	o, sess := newTestOrchestrator(router, &fakeMemory{}, gw)

	result, err := o.HandleTurn(context.Background(), sess, "run select 1")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if result.Reply != "one row returned" {
		t.Errorf("got reply %q", result.Reply)
	}
	if len(result.ToolCalls) != 1 || result.ToolCalls[0].Name != "execute_sql" {
		t.Fatalf("got tool calls %v", result.ToolCalls)
	}
	if result.ToolCalls[0].Error != "" {
		t.Errorf("unexpected tool error %q", result.ToolCalls[0].Error)
	}
	if router.calls != 2 {
		t.Errorf("got %d provider calls, want 2", router.calls)
	}

	// The follow-up request must carry the tool result message.
	second := router.requests[1]
	last := second.Messages[len(second.Messages)-1]
	if last.Role != "tool" || last.ToolCallID != "call_1" {
		t.Errorf("follow-up last message %+v", last)
	}
}

func TestToolFailureIsVisibleNotFatal(t *testing.T) {
	router := &scriptedRouter{responses: []*provider.ChatResponse{
		{
			ModelID:      "anthropic",
			FinishReason: "tool_calls",
			ToolCalls: []provider.ToolCall{{
				ID:       "call_1",
				Function: provider.ToolCallFunction{Name: "execute_sql", Arguments: `{}`},
			}},
		},
		{ModelID: "anthropic", Content: "could not run that"},
	}}
	gw := &fakeGateway{
		descriptors: []tools.Descriptor{{Name: "execute_sql"}},
		errs:        map[string]error{"execute_sql": tools.ErrDisabled},
	}
	o, sess := newTestOrchestrator(router, &fakeMemory{}, gw)

	result, err := o.HandleTurn(context.Background(), sess, "run select 1")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if len(result.ToolCalls) != 1 || result.ToolCalls[0].Error == "" {
		t.Errorf("got tool calls %v, want one visible error", result.ToolCalls)
	}
	if result.Reply != "could not run that" {
		t.Errorf("got reply %q", result.Reply)
	}
}

func TestDemoResponseSkipsWriteBack(t *testing.T) {
	router := &scriptedRouter{responses: []*provider.ChatResponse{
		{ModelID: provider.DemoModelID, Content: "[demo mode] hi", Demo: true},
	}}
	mem := &fakeMemory{}
	o, sess := newTestOrchestrator(router, mem, nil)

	result, err := o.HandleTurn(context.Background(), sess, "hello")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if !result.Demo {
		t.Error("result should be marked demo")
	}
	if len(mem.saved) != 0 {
		t.Errorf("demo turns should not write memory, saved %v", mem.saved)
	}
}

func TestWakeWordSwitchesPersona(t *testing.T) {
	router := &scriptedRouter{}
	o, sess := newTestOrchestrator(router, &fakeMemory{}, nil)

	result, err := o.HandleTurn(context.Background(), sess, "hey bella, how are you?")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if result.Persona != "bella" {
		t.Errorf("persona = %q, want bella", result.Persona)
	}

	var sawSwitch bool
	for _, m := range sess.Messages() {
		if m.Role == "system" {
			sawSwitch = true
		}
	}
	if !sawSwitch {
		t.Error("persona switch should insert a synthetic system message")
	}
}

func TestWriteBackFailureIsNotice(t *testing.T) {
	router := &scriptedRouter{}
	mem := &fakeMemory{saveErr: errors.New("pg down")}
	o, sess := newTestOrchestrator(router, mem, nil)

	result, err := o.HandleTurn(context.Background(), sess, "hello")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if len(result.Notices) == 0 {
		t.Error("expected a write-back notice")
	}
	if got := len(sess.Messages()); got != 2 {
		t.Errorf("got %d messages, want 2", got)
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	// "héllo" is 6 bytes; a cut at 2 lands mid-rune and must back
	// off to the rune boundary instead of emitting a broken byte.
	got := truncate("héllo", 2)
	if got != "h..." {
		t.Errorf("truncate = %q, want %q", got, "h...")
	}
	if !utf8.ValidString(truncate("日本語のテキスト", 10)) {
		t.Error("truncated string is not valid UTF-8")
	}
	if got := truncate("short", 400); got != "short" {
		t.Errorf("truncate = %q, want unchanged", got)
	}
}
