package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/kestrel-ai/banter/internal/memory"
	"github.com/kestrel-ai/banter/internal/persona"
	"github.com/kestrel-ai/banter/internal/provider"
	"github.com/kestrel-ai/banter/internal/tools"
)

// MemoryAPI is the memory surface commands use.
type MemoryAPI interface {
	Search(ctx context.Context, query string, limit int, threshold float64, f memory.Filters) ([]memory.Match, error)
	Save(ctx context.Context, text string, metadata map[string]any, typ memory.Type, topicName string) (string, error)
}

// ModelAPI lists the model registry with availability.
type ModelAPI interface {
	ListModels(ctx context.Context) []provider.ModelInfo
}

// SessionAPI lets commands act on the caller's session.
type SessionAPI interface {
	ClearSession(ctx context.Context, sessionID string) (string, error)
	SwitchPersona(sessionID, personaID string) error
}

// Deps holds everything the built-in commands reach for. Nil fields
// disable the commands that need them.
type Deps struct {
	Personas *persona.Registry
	Memory   MemoryAPI
	Models   ModelAPI
	Sessions SessionAPI
	Gateway  *tools.Gateway
	Settings tools.SettingsStore
}

// RegisterBuiltins installs the standard command set.
func RegisterBuiltins(r *Registry) {
	r.Register(&Command{
		Name:        "help",
		Description: "List available commands",
		Usage:       "/help",
		Handler:     helpHandler(r),
	})
	r.Register(&Command{
		Name:        "persona",
		Description: "List personas or switch to one",
		Usage:       "/persona [id]",
		Handler:     personaHandler,
	})
	r.Register(&Command{
		Name:        "memory",
		Description: "Search stored memories",
		Usage:       "/memory <query>",
		Handler:     memoryHandler,
	})
	r.Register(&Command{
		Name:        "remember",
		Description: "Save a note to memory",
		Usage:       "/remember <text>",
		Handler:     rememberHandler,
	})
	r.Register(&Command{
		Name:        "tools",
		Description: "Show or change tool availability",
		Usage:       "/tools [connect|on|off|enable <name>|disable <name>]",
		Handler:     toolsHandler,
	})
	r.Register(&Command{
		Name:        "models",
		Description: "List models and their availability",
		Usage:       "/models",
		Handler:     modelsHandler,
	})
	r.Register(&Command{
		Name:        "clear",
		Description: "Clear the conversation and start fresh",
		Usage:       "/clear",
		Handler:     clearHandler,
	})
}

func helpHandler(r *Registry) Handler {
	return func(_ context.Context, _ string, _ *Context) (*Result, error) {
		var sb strings.Builder
		sb.WriteString("Available commands:\n")
		for _, cmd := range r.List() {
			fmt.Fprintf(&sb, "  %s — %s\n", cmd.Usage, cmd.Description)
		}
		return &Result{Content: sb.String()}, nil
	}
}

func personaHandler(_ context.Context, args string, cc *Context) (*Result, error) {
	deps := cc.Deps
	if deps == nil || deps.Personas == nil {
		return &Result{Content: "Personas are not configured."}, nil
	}
	if args == "" {
		var sb strings.Builder
		sb.WriteString("Personas:\n")
		for _, p := range deps.Personas.List() {
			fmt.Fprintf(&sb, "  %s — %s\n", p.ID, p.Personality)
		}
		return &Result{Content: sb.String()}, nil
	}

	id := strings.ToLower(strings.Fields(args)[0])
	p := deps.Personas.Get(id)
	if p.ID != id {
		return &Result{Content: fmt.Sprintf("Unknown persona %q.", id)}, nil
	}
	if deps.Sessions != nil {
		if err := deps.Sessions.SwitchPersona(cc.SessionID, p.ID); err != nil {
			return nil, err
		}
	}
	return &Result{Content: p.Greeting}, nil
}

func memoryHandler(ctx context.Context, args string, cc *Context) (*Result, error) {
	deps := cc.Deps
	if deps == nil || deps.Memory == nil {
		return &Result{Content: "Memory is not configured."}, nil
	}
	if args == "" {
		return &Result{Content: "Usage: /memory <query>"}, nil
	}

	matches, err := deps.Memory.Search(ctx, args, memory.DefaultSearchLimit, 0.5, memory.Filters{})
	if err != nil {
		return &Result{Content: "Memory search is unavailable right now."}, nil
	}
	if len(matches) == 0 {
		return &Result{Content: "No matching memories."}, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d memories:\n", len(matches))
	for _, m := range matches {
		fmt.Fprintf(&sb, "  [%.2f] %s\n", m.Similarity, m.Title)
	}
	return &Result{Content: sb.String(), Data: matches}, nil
}

func rememberHandler(ctx context.Context, args string, cc *Context) (*Result, error) {
	deps := cc.Deps
	if deps == nil || deps.Memory == nil {
		return &Result{Content: "Memory is not configured."}, nil
	}
	if args == "" {
		return &Result{Content: "Usage: /remember <text>"}, nil
	}

	id, err := deps.Memory.Save(ctx, args,
		map[string]any{"owner_id": cc.UserID}, memory.TypeKnowledge, "notes")
	if err != nil {
		return nil, err
	}
	return &Result{Content: "Saved.", Data: map[string]string{"id": id}}, nil
}

func toolsHandler(ctx context.Context, args string, cc *Context) (*Result, error) {
	deps := cc.Deps
	if deps == nil || deps.Gateway == nil {
		return &Result{Content: "Tool gateway is not configured."}, nil
	}

	fields := strings.Fields(args)
	if len(fields) == 0 {
		var sb strings.Builder
		fmt.Fprintf(&sb, "Gateway: %s\n", deps.Gateway.State())
		for _, d := range deps.Gateway.Tools() {
			fmt.Fprintf(&sb, "  %s — %s\n", d.Name, d.Description)
		}
		return &Result{Content: sb.String()}, nil
	}

	switch fields[0] {
	case "connect":
		descriptors, err := deps.Gateway.Connect(ctx)
		if err != nil {
			return &Result{Content: "Connection failed: " + err.Error()}, nil
		}
		return &Result{Content: fmt.Sprintf("Connected. %d tools available.", len(descriptors))}, nil
	case "on", "off":
		return setConnectionEnabled(cc, fields[0] == "on")
	case "enable", "disable":
		if len(fields) < 2 {
			return &Result{Content: "Usage: /tools " + fields[0] + " <name>"}, nil
		}
		return setToolDisabled(cc, fields[1], fields[0] == "disable")
	default:
		return &Result{Content: "Usage: /tools [connect|on|off|enable <name>|disable <name>]"}, nil
	}
}

func setConnectionEnabled(cc *Context, enabled bool) (*Result, error) {
	deps := cc.Deps
	if deps.Settings == nil {
		return &Result{Content: "Tool settings are not configured."}, nil
	}
	settings, err := deps.Settings.LoadSettings(cc.SessionID)
	if err != nil {
		settings = tools.DefaultSettings()
	}
	settings.ConnectionEnabled = enabled
	if err := deps.Settings.SaveSettings(cc.SessionID, settings); err != nil {
		return nil, err
	}
	if enabled {
		return &Result{Content: "Tool connection enabled."}, nil
	}
	return &Result{Content: "Tool connection disabled."}, nil
}

func setToolDisabled(cc *Context, name string, disabled bool) (*Result, error) {
	deps := cc.Deps
	if deps.Settings == nil {
		return &Result{Content: "Tool settings are not configured."}, nil
	}
	settings, err := deps.Settings.LoadSettings(cc.SessionID)
	if err != nil {
		settings = tools.DefaultSettings()
	}

	kept := settings.DisabledTools[:0]
	for _, t := range settings.DisabledTools {
		if t != name {
			kept = append(kept, t)
		}
	}
	settings.DisabledTools = kept
	if disabled {
		settings.DisabledTools = append(settings.DisabledTools, name)
	}

	if err := deps.Settings.SaveSettings(cc.SessionID, settings); err != nil {
		return nil, err
	}
	if disabled {
		return &Result{Content: fmt.Sprintf("Tool %s disabled.", name)}, nil
	}
	return &Result{Content: fmt.Sprintf("Tool %s enabled.", name)}, nil
}

func modelsHandler(ctx context.Context, _ string, cc *Context) (*Result, error) {
	deps := cc.Deps
	if deps == nil || deps.Models == nil {
		return &Result{Content: "Model registry is not configured."}, nil
	}
	var sb strings.Builder
	sb.WriteString("Models:\n")
	for _, m := range deps.Models.ListModels(ctx) {
		status := "unavailable"
		if m.Available {
			status = "available"
		}
		fmt.Fprintf(&sb, "  %s (%s) — %s\n", m.ID, m.Model, status)
	}
	return &Result{Content: sb.String()}, nil
}

func clearHandler(ctx context.Context, _ string, cc *Context) (*Result, error) {
	deps := cc.Deps
	if deps == nil || deps.Sessions == nil {
		return &Result{Content: "Sessions are not configured."}, nil
	}
	newID, err := deps.Sessions.ClearSession(ctx, cc.SessionID)
	if err != nil {
		return nil, err
	}
	return &Result{
		Content: "Conversation cleared.",
		Data:    map[string]string{"conversationId": newID},
	}, nil
}
