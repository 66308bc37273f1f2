package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/kestrel-ai/banter/internal/feed"
	"github.com/kestrel-ai/banter/internal/memory"
	"github.com/kestrel-ai/banter/internal/persona"
	"github.com/kestrel-ai/banter/internal/provider"
	"github.com/kestrel-ai/banter/internal/session"
	"github.com/kestrel-ai/banter/internal/tools"
)

// ModelRouter selects and invokes providers.
type ModelRouter interface {
	SelectModel(ctx context.Context, task provider.TaskType) string
	Invoke(ctx context.Context, modelID string, req *provider.ChatRequest) (*provider.ChatResponse, error)
}

// MemoryStore is the retrieval and write-back surface the turn uses.
type MemoryStore interface {
	Search(ctx context.Context, query string, limit int, threshold float64, f memory.Filters) ([]memory.Match, error)
	Save(ctx context.Context, text string, metadata map[string]any, typ memory.Type, topicName string) (string, error)
	TouchAll(ctx context.Context, ids []string)
}

// ToolGateway dispatches tool calls.
type ToolGateway interface {
	Call(ctx context.Context, sessionID, name string, args map[string]any) (json.RawMessage, error)
	Tools() []tools.Descriptor
	State() tools.State
}

// TurnResult is what one completed turn hands back to the caller.
type TurnResult struct {
	Reply         string                   `json:"reply"`
	ModelID       string                   `json:"model"`
	Persona       string                   `json:"persona"`
	Demo          bool                     `json:"demo,omitempty"`
	Notices       []string                 `json:"notices,omitempty"`
	MemoryContext []session.MemoryRef      `json:"memoryContext,omitempty"`
	ToolCalls     []session.ToolCallRecord `json:"toolCallsExecuted,omitempty"`
}

// Orchestrator runs one conversation turn at a time per session:
// recall, provider call, at most one tool round, write-back, persist.
// Everything below the primary provider call degrades to a visible
// notice instead of aborting the turn.
type Orchestrator struct {
	router   ModelRouter
	memory   MemoryStore
	gateway  ToolGateway
	sessions *session.Manager
	personas *persona.Registry
	feed     *feed.Feed
	logger   *zap.Logger
}

// New wires an orchestrator. mem, gateway, and feed may be nil.
func New(router ModelRouter, mem MemoryStore, gateway ToolGateway, sessions *session.Manager, personas *persona.Registry, f *feed.Feed, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		router:   router,
		memory:   mem,
		gateway:  gateway,
		sessions: sessions,
		personas: personas,
		feed:     f,
		logger:   logger,
	}
}

// HandleTurn processes one inbound user message on the session. The
// caller owns the session for the duration of the turn. Only a primary
// provider failure (or cancellation) returns an error; on cancellation
// no assistant message is appended.
func (o *Orchestrator) HandleTurn(ctx context.Context, sess *session.Session, userMsg string) (*TurnResult, error) {
	var notices []string

	// Persona wake words may switch the persona before the turn runs.
	if id := o.personas.Detect(userMsg, sess.Persona()); id != sess.Persona() {
		p := o.personas.Get(id)
		sess.SwitchPersona(p.ID, "Persona switched to "+p.Name)
		o.logger.Info("persona switched",
			zap.String("session", sess.ID()), zap.String("persona", p.ID))
	}
	pers := o.personas.Get(sess.Persona())

	sess.Append(session.Message{Role: "user", Content: userMsg})

	// Memory recall degrades to an empty context, never blocks.
	var matches []memory.Match
	if o.memory != nil {
		var err error
		matches, err = o.memory.Search(ctx, userMsg, memory.DefaultSearchLimit, memory.DefaultThreshold, memory.Filters{})
		if err != nil {
			o.logger.Warn("memory recall failed", zap.String("session", sess.ID()), zap.Error(err))
			notices = append(notices, "memory recall unavailable for this turn")
			matches = nil
		}
	}
	memoryRefs := make([]session.MemoryRef, 0, len(matches))
	usedIDs := make([]string, 0, len(matches))
	for _, m := range matches {
		memoryRefs = append(memoryRefs, session.MemoryRef{
			ID: m.ID, Title: m.Title, Similarity: m.Similarity,
		})
		usedIDs = append(usedIDs, m.ID)
	}
	if len(usedIDs) > 0 {
		o.memory.TouchAll(ctx, usedIDs)
	}

	task := provider.ClassifyTask(userMsg)
	modelID := o.router.SelectModel(ctx, task)

	req := o.buildRequest(sess, pers, matches, task)

	resp, err := o.router.Invoke(ctx, modelID, req)
	if err != nil {
		// Primary provider failure aborts the turn; no assistant
		// message is appended, the user message stays in history.
		return nil, fmt.Errorf("provider %s: %w", modelID, err)
	}

	reply := resp.Content
	var toolRecords []session.ToolCallRecord
	if len(resp.ToolCalls) > 0 && o.gateway != nil {
		reply, toolRecords, notices = o.toolRound(ctx, sess, modelID, req, resp, notices)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	sess.SetModel(resp.ModelID)
	sess.Append(session.Message{
		Role:              "assistant",
		Content:           reply,
		ModelID:           resp.ModelID,
		MemoryContext:     memoryRefs,
		ToolCallsExecuted: toolRecords,
	})

	// Turn write-back and persistence are best-effort.
	if !resp.Demo && o.memory != nil {
		summary := turnSummary(userMsg, reply)
		if _, err := o.memory.Save(ctx, summary,
			map[string]any{"owner_id": sess.UserID()},
			memory.TypeConversation, pers.Name); err != nil {
			o.logger.Warn("memory write-back failed", zap.String("session", sess.ID()), zap.Error(err))
			notices = append(notices, "this turn could not be saved to memory")
		} else {
			o.feed.Publish(ctx, feed.KindMemoryStored, sess.ID(), nil)
		}
	}

	if err := o.sessions.Persist(ctx, sess); err != nil {
		o.logger.Warn("session persist failed", zap.String("session", sess.ID()), zap.Error(err))
		notices = append(notices, "conversation history could not be saved")
	}

	o.feed.Publish(ctx, feed.KindTurnCompleted, sess.ID(), map[string]any{
		"model": resp.ModelID,
		"tools": len(toolRecords),
	})

	return &TurnResult{
		Reply:         reply,
		ModelID:       resp.ModelID,
		Persona:       pers.ID,
		Demo:          resp.Demo,
		Notices:       notices,
		MemoryContext: memoryRefs,
		ToolCalls:     toolRecords,
	}, nil
}

// toolRound executes the single round of tool-augmented completion.
// Individual tool failures become visible error records; a failed
// follow-up provider call degrades to the first response's content.
func (o *Orchestrator) toolRound(ctx context.Context, sess *session.Session, modelID string, req *provider.ChatRequest, resp *provider.ChatResponse, notices []string) (string, []session.ToolCallRecord, []string) {
	req.Messages = append(req.Messages, provider.Message{
		Role:      "assistant",
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
	})

	records := make([]session.ToolCallRecord, 0, len(resp.ToolCalls))
	for _, tc := range resp.ToolCalls {
		args := map[string]any{}
		if len(tc.Function.Arguments) > 0 {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				o.logger.Warn("unparseable tool arguments", zap.String("tool", tc.Function.Name))
			}
		}

		rec := session.ToolCallRecord{Name: tc.Function.Name, Args: args}
		result, err := o.gateway.Call(ctx, sess.ID(), tc.Function.Name, args)
		content := string(result)
		if err != nil {
			rec.Error = err.Error()
			content = fmt.Sprintf(`{"error":%q}`, err.Error())
		} else {
			rec.Result = truncate(content, 2000)
		}
		records = append(records, rec)
		o.feed.Publish(ctx, feed.KindToolCalled, sess.ID(), map[string]any{
			"tool": tc.Function.Name, "ok": err == nil,
		})

		req.Messages = append(req.Messages, provider.Message{
			Role:       "tool",
			Content:    content,
			ToolCallID: tc.ID,
		})
	}

	// One follow-up completion carries the tool results back. Its
	// failure does not abort the turn.
	second, err := o.router.Invoke(ctx, modelID, req)
	if err != nil {
		o.logger.Warn("tool follow-up call failed", zap.String("session", sess.ID()), zap.Error(err))
		notices = append(notices, "tool results could not be folded into the reply")
		if resp.Content != "" {
			return resp.Content, records, notices
		}
		return "I ran the requested tools but could not complete the follow-up reply.", records, notices
	}
	return second.Content, records, notices
}

func (o *Orchestrator) buildRequest(sess *session.Session, pers persona.Persona, matches []memory.Match, task provider.TaskType) *provider.ChatRequest {
	system := pers.SystemPrompt
	if block := memoryContextBlock(matches); block != "" {
		system += "\n\n" + block
	}

	messages := []provider.Message{{Role: "system", Content: system}}
	for _, m := range sess.Window() {
		if m.Role == "system" {
			continue
		}
		messages = append(messages, provider.Message{Role: m.Role, Content: m.Content})
	}

	req := &provider.ChatRequest{
		Messages: messages,
		TaskType: task,
	}
	if o.gateway != nil && o.gateway.State() == tools.StateOnline {
		for _, d := range o.gateway.Tools() {
			req.Tools = append(req.Tools, provider.Tool{
				Type: "function",
				Function: provider.ToolFunction{
					Name:        d.Name,
					Description: d.Description,
					Parameters:  d.InputSchema,
				},
			})
		}
		if len(req.Tools) > 0 {
			req.ToolChoice = "auto"
		}
	}
	return req
}

func memoryContextBlock(matches []memory.Match) string {
	if len(matches) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Relevant context from memory:\n")
	for _, m := range matches {
		fmt.Fprintf(&sb, "- %s\n", truncate(m.Content, 300))
	}
	return sb.String()
}

func turnSummary(userMsg, reply string) string {
	return "User: " + truncate(userMsg, 400) + "\nAssistant: " + truncate(reply, 400)
}

// truncate caps s at max bytes without splitting a multi-byte rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
