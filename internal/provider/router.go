package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/kestrel-ai/banter/internal/secrets"
	"go.uber.org/zap"
)

// DefaultTimeout bounds a single provider call.
const DefaultTimeout = 30 * time.Second

// Router selects a model for a task and dispatches chat requests to the
// matching provider client. Safe for concurrent use: the registry is
// immutable and the key cache hands out snapshots.
type Router struct {
	registry *Registry
	keys     *secrets.Cache
	clients  map[string]Client
	timeout  time.Duration
	logger   *zap.Logger
}

// NewRouter creates a router over the fixed registry with the default
// HTTP clients for every keyed model family.
func NewRouter(keys *secrets.Cache, logger *zap.Logger) *Router {
	r := &Router{
		registry: NewRegistry(),
		keys:     keys,
		clients:  make(map[string]Client),
		timeout:  DefaultTimeout,
		logger:   logger,
	}
	r.clients["anthropic"] = NewAnthropicClient(logger)
	openai := NewOpenAIClient(logger)
	r.clients["openrouter"] = openai
	r.clients["perplexity"] = openai
	r.clients["deepseek"] = openai
	r.clients[DemoModelID] = NewDemoClient()
	return r
}

// SetClient overrides the client for a model id. Used by tests and by
// mains that point a model at a compatible local endpoint.
func (r *Router) SetClient(modelID string, c Client) {
	r.clients[modelID] = c
}

// Registry exposes the fixed model set.
func (r *Router) Registry() *Registry { return r.registry }

// ListModels returns every registry entry with availability computed
// fresh from the key cache.
func (r *Router) ListModels(ctx context.Context) []ModelInfo {
	ks := r.keys.Get(ctx)
	out := make([]ModelInfo, 0, len(r.registry.models))
	for _, m := range r.registry.All() {
		out = append(out, ModelInfo{
			ModelConfig: m,
			Available:   r.available(m, ks),
		})
	}
	return out
}

func (r *Router) available(m ModelConfig, ks secrets.KeySet) bool {
	if !m.RequiresKey {
		return true
	}
	return secrets.Valid(ks.Get(m.ID))
}

// SelectModel picks a model id for the task: first available registry
// entry with the required capability, else the task default, else the
// zero-credential demo model.
func (r *Router) SelectModel(ctx context.Context, task TaskType) string {
	ks := r.keys.Get(ctx)
	for _, m := range r.registry.All() {
		if m.Capabilities.Supports(task) && r.available(m, ks) {
			return m.ID
		}
	}
	if def, ok := taskDefaults[task]; ok {
		return def
	}
	return DemoModelID
}

// Invoke dispatches a chat request to the given model. A missing or
// invalid credential never surfaces as an error: the call degrades to
// the clearly labeled demo reply so the caller always has something to
// display. Upstream failures return *CallError and abort the turn.
func (r *Router) Invoke(ctx context.Context, modelID string, req *ChatRequest) (*ChatResponse, error) {
	cfg, ok := r.registry.Get(modelID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}

	apiKey := ""
	if cfg.RequiresKey {
		apiKey = r.keys.Get(ctx).Get(cfg.ID)
		if !secrets.Valid(apiKey) {
			r.logger.Warn("credential invalid, serving demo reply",
				zap.String("model", cfg.ID))
			return r.demoReply(ctx, req)
		}
	}

	client, ok := r.clients[cfg.ID]
	if !ok {
		return nil, fmt.Errorf("%w: no client for %s", ErrUnknownModel, cfg.ID)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := client.Chat(callCtx, apiKey, cfg, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &CallError{ModelID: cfg.ID, Message: err.Error()}
	}
	resp.ModelID = cfg.ID
	return resp, nil
}

func (r *Router) demoReply(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	cfg, _ := r.registry.Get(DemoModelID)
	resp, err := r.clients[DemoModelID].Chat(ctx, "", cfg, req)
	if err != nil {
		return nil, &CallError{ModelID: DemoModelID, Message: err.Error()}
	}
	resp.ModelID = DemoModelID
	return resp, nil
}
