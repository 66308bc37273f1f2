package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/kestrel-ai/banter/internal/command"
	"github.com/kestrel-ai/banter/internal/feed"
	"github.com/kestrel-ai/banter/internal/memory"
	"github.com/kestrel-ai/banter/internal/orchestrator"
	"github.com/kestrel-ai/banter/internal/persona"
	"github.com/kestrel-ai/banter/internal/provider"
	"github.com/kestrel-ai/banter/internal/session"
	"github.com/kestrel-ai/banter/internal/tools"
)

// AuditLog reads back recorded tool calls.
type AuditLog interface {
	RecentRecords(n int) ([]tools.Record, error)
}

// ModelSelector picks a model id for a task type.
type ModelSelector interface {
	SelectModel(ctx context.Context, task provider.TaskType) string
}

// RelatedFinder looks up memory ids that share a topic with the given one.
type RelatedFinder interface {
	Related(ctx context.Context, memoryID string, limit int) ([]string, error)
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	orch     *orchestrator.Orchestrator
	sessions *session.Manager
	personas *persona.Registry
	memory   command.MemoryAPI
	models   command.ModelAPI
	selector ModelSelector
	related  RelatedFinder
	gateway  *tools.Gateway
	settings tools.SettingsStore
	audit    AuditLog
	feed     *feed.Feed
	commands *command.Registry
	logger   *zap.Logger

	mu     sync.Mutex
	active map[string]*activeSession
}

// activeSession serializes turns per conversation: one writer at a time.
type activeSession struct {
	mu   sync.Mutex
	sess *session.Session
}

// Config bundles the handler's collaborators.
type Config struct {
	Orchestrator *orchestrator.Orchestrator
	Sessions     *session.Manager
	Personas     *persona.Registry
	Memory       command.MemoryAPI
	Models       command.ModelAPI
	Selector     ModelSelector
	Related      RelatedFinder
	Gateway      *tools.Gateway
	Settings     tools.SettingsStore
	Audit        AuditLog
	Feed         *feed.Feed
	Commands     *command.Registry
	Logger       *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		orch:     cfg.Orchestrator,
		sessions: cfg.Sessions,
		personas: cfg.Personas,
		memory:   cfg.Memory,
		models:   cfg.Models,
		selector: cfg.Selector,
		related:  cfg.Related,
		gateway:  cfg.Gateway,
		settings: cfg.Settings,
		audit:    cfg.Audit,
		feed:     cfg.Feed,
		commands: cfg.Commands,
		logger:   cfg.Logger,
		active:   make(map[string]*activeSession),
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Post("/chat", h.chat)

		r.Get("/models", h.listModels)
		r.Post("/models/select", h.selectModel)
		r.Get("/personas", h.listPersonas)

		r.Get("/sessions/{id}", h.getSessionHistory)
		r.Delete("/sessions/{id}", h.clearSession)

		r.Post("/memory/search", h.searchMemory)
		r.Post("/memory", h.storeMemory)
		r.Get("/memory/{id}/related", h.relatedMemories)

		r.Get("/tools", h.listTools)
		r.Post("/tools/connect", h.connectTools)
		r.Post("/tools/call", h.callTool)
		r.Get("/tools/settings", h.getToolSettings)
		r.Put("/tools/settings", h.putToolSettings)
		r.Get("/tools/audit", h.toolAudit)

		r.Get("/feed", h.recentFeed)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"status": "ok"}
	if h.gateway != nil {
		status["tool_gateway"] = string(h.gateway.State())
	}
	if h.models != nil {
		available := 0
		for _, m := range h.models.ListModels(r.Context()) {
			if m.Available {
				available++
			}
		}
		status["models_available"] = available
	}
	writeJSON(w, http.StatusOK, status)
}

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId,omitempty"`
	UserID         string `json:"userId,omitempty"`
}

type chatResponse struct {
	ConversationID string `json:"conversationId"`
	*orchestrator.TurnResult
}

func (h *Handler) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
		return
	}

	active := h.session(r.Context(), req.ConversationID, req.UserID)
	active.mu.Lock()
	defer active.mu.Unlock()

	if command.IsCommand(req.Message) {
		result, err := h.commands.Dispatch(r.Context(), req.Message, &command.Context{
			SessionID: active.sess.ID(),
			UserID:    active.sess.UserID(),
			Deps:      h.commandDeps(),
		})
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"conversationId": active.sess.ID(),
			"reply":          result.Content,
			"data":           result.Data,
		})
		return
	}

	result, err := h.orch.HandleTurn(r.Context(), active.sess, req.Message)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{
		ConversationID: active.sess.ID(),
		TurnResult:     result,
	})
}

// session finds or creates the conversation's single-writer holder.
func (h *Handler) session(ctx context.Context, id, userID string) *activeSession {
	h.mu.Lock()
	defer h.mu.Unlock()

	if id != "" {
		if a, ok := h.active[id]; ok {
			return a
		}
		if restored := h.sessions.Restore(ctx, id); restored != nil {
			a := &activeSession{sess: restored}
			h.active[restored.ID()] = a
			return a
		}
	}

	if userID == "" {
		userID = "local"
	}
	sess := session.New(userID, persona.DefaultID)
	a := &activeSession{sess: sess}
	h.active[sess.ID()] = a
	return a
}

func (h *Handler) commandDeps() *command.Deps {
	return &command.Deps{
		Personas: h.personas,
		Memory:   h.memory,
		Models:   h.models,
		Sessions: h,
		Gateway:  h.gateway,
		Settings: h.settings,
	}
}

// ClearSession implements command.SessionAPI.
func (h *Handler) ClearSession(ctx context.Context, sessionID string) (string, error) {
	h.mu.Lock()
	a, ok := h.active[sessionID]
	h.mu.Unlock()
	if !ok {
		// Nothing in memory; still remove any durable copy.
		sess := h.sessions.Restore(ctx, sessionID)
		if sess == nil {
			return "", nil
		}
		a = &activeSession{sess: sess}
	}

	old := a.sess.ID()
	if err := h.sessions.Clear(ctx, a.sess); err != nil {
		return "", err
	}

	h.mu.Lock()
	delete(h.active, old)
	h.active[a.sess.ID()] = a
	h.mu.Unlock()
	return a.sess.ID(), nil
}

// SwitchPersona implements command.SessionAPI.
func (h *Handler) SwitchPersona(sessionID, personaID string) error {
	h.mu.Lock()
	a, ok := h.active[sessionID]
	h.mu.Unlock()
	if !ok {
		return nil
	}
	p := h.personas.Get(personaID)
	a.sess.SwitchPersona(p.ID, "Persona switched to "+p.Name)
	return nil
}

func (h *Handler) listModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.models.ListModels(r.Context()))
}

func (h *Handler) listPersonas(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.personas.List())
}

func (h *Handler) getSessionHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	h.mu.Lock()
	a, ok := h.active[id]
	h.mu.Unlock()

	var sess *session.Session
	if ok {
		sess = a.sess
	} else {
		sess = h.sessions.Restore(r.Context(), id)
	}
	if sess == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversationId": sess.ID(),
		"persona":        sess.Persona(),
		"model":          sess.Model(),
		"messages":       sess.Messages(),
	})
}

func (h *Handler) clearSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	newID, err := h.ClearSession(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if newID == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"conversationId": newID})
}

type searchRequest struct {
	Query      string  `json:"query"`
	Limit      int     `json:"limit,omitempty"`
	Threshold  float64 `json:"threshold,omitempty"`
	MemoryType string  `json:"memory_type,omitempty"`
}

func (h *Handler) searchMemory(w http.ResponseWriter, r *http.Request) {
	if h.memory == nil {
		writeJSON(w, http.StatusOK, map[string]any{"memories": []memory.Match{}})
		return
	}
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Limit <= 0 {
		req.Limit = memory.DefaultSearchLimit
	}
	if req.Threshold == 0 {
		req.Threshold = memory.DefaultThreshold
	}

	matches, err := h.memory.Search(r.Context(), req.Query, req.Limit, req.Threshold,
		memory.Filters{Type: memory.Type(req.MemoryType)})
	if err != nil {
		h.logger.Warn("memory search failed", zap.Error(err))
		matches = nil
	}
	if matches == nil {
		matches = []memory.Match{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"memories": matches})
}

type storeRequest struct {
	Text       string         `json:"text"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	MemoryType string         `json:"memory_type,omitempty"`
	TopicName  string         `json:"topic_name,omitempty"`
}

func (h *Handler) storeMemory(w http.ResponseWriter, r *http.Request) {
	if h.memory == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "memory store is not configured"})
		return
	}
	var req storeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Text == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text is required"})
		return
	}
	typ := memory.TypeConversation
	if req.MemoryType != "" {
		typ = memory.Type(req.MemoryType)
	}

	id, err := h.memory.Save(r.Context(), req.Text, req.Metadata, typ, req.TopicName)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *Handler) selectModel(w http.ResponseWriter, r *http.Request) {
	if h.selector == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "model router not configured"})
		return
	}
	var req struct {
		TaskType string `json:"taskType"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	task := provider.TaskType(req.TaskType)
	if task == "" {
		task = provider.TaskGeneral
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"model":    h.selector.SelectModel(r.Context(), task),
		"taskType": string(task),
	})
}

func (h *Handler) relatedMemories(w http.ResponseWriter, r *http.Request) {
	if h.related == nil {
		writeJSON(w, http.StatusOK, map[string]any{"related": []string{}})
		return
	}
	ids, err := h.related.Related(r.Context(), chi.URLParam(r, "id"), 10)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"related": ids})
}

func (h *Handler) callTool(w http.ResponseWriter, r *http.Request) {
	if h.gateway == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "tool gateway not configured"})
		return
	}
	var req struct {
		ToolName string         `json:"tool_name"`
		ToolArgs map[string]any `json:"tool_args"`
		Session  string         `json:"session,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.ToolName == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tool_name is required"})
		return
	}

	result, err := h.gateway.Call(r.Context(), req.Session, req.ToolName, req.ToolArgs)
	if err != nil {
		// Policy rejections and executor errors are part of the tool
		// contract; transport failures are not.
		var execErr *tools.ExecError
		if errors.As(err, &execErr) || errors.Is(err, tools.ErrDisabled) || errors.Is(err, tools.ErrUnavailable) {
			writeJSON(w, http.StatusOK, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(result)
}

func (h *Handler) listTools(w http.ResponseWriter, r *http.Request) {
	if h.gateway == nil {
		writeJSON(w, http.StatusOK, map[string]any{"state": "offline", "tools": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state": h.gateway.State(),
		"tools": h.gateway.Tools(),
	})
}

func (h *Handler) connectTools(w http.ResponseWriter, r *http.Request) {
	if h.gateway == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "tool gateway not configured"})
		return
	}
	descriptors, err := h.gateway.Connect(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"ok":    false,
			"tools": []any{},
			"error": err.Error(),
		})
		return
	}
	names := make([]string, len(descriptors))
	for i, d := range descriptors {
		names[i] = d.Name
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "tools": names})
}

func (h *Handler) getToolSettings(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	settings, err := h.settings.LoadSettings(sessionID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *Handler) putToolSettings(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	var settings tools.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := h.settings.SaveSettings(sessionID, settings); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *Handler) toolAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	records, err := h.audit.RecentRecords(50)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if records == nil {
		records = []tools.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) recentFeed(w http.ResponseWriter, r *http.Request) {
	entries, err := h.feed.Recent(r.Context(), 50)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if entries == nil {
		entries = []feed.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
