package persona

import "strings"

// Persona defines a named behavioral profile for the assistant role.
// It affects system framing only; it never changes routing or memory.
type Persona struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	WakeWords    []string `json:"wake_words"`
	Personality  string   `json:"personality"`
	Greeting     string   `json:"greeting"`
	SystemPrompt string   `json:"system_prompt"`
}

// DefaultID is the persona used when nothing else is selected.
const DefaultID = "banks"

// Registry holds the available personas in declaration order.
type Registry struct {
	personas []Persona
	byID     map[string]Persona
}

// NewRegistry creates a registry with the built-in personas.
func NewRegistry() *Registry {
	r := &Registry{byID: make(map[string]Persona)}
	for _, p := range builtins {
		r.personas = append(r.personas, p)
		r.byID[p.ID] = p
	}
	return r
}

// Get returns the persona with the given id, falling back to the default.
func (r *Registry) Get(id string) Persona {
	if p, ok := r.byID[id]; ok {
		return p
	}
	return r.byID[DefaultID]
}

// List returns all personas in declaration order.
func (r *Registry) List() []Persona {
	out := make([]Persona, len(r.personas))
	copy(out, r.personas)
	return out
}

// Detect scans a message for wake words and returns the matching persona
// id, or current when no wake word is present.
func (r *Registry) Detect(message, current string) string {
	lower := strings.ToLower(message)
	for _, p := range r.personas {
		for _, w := range p.WakeWords {
			if strings.Contains(lower, w) {
				return p.ID
			}
		}
	}
	return current
}

var builtins = []Persona{
	{
		ID:          "banks",
		Name:        "Banks",
		WakeWords:   []string{"hey banks", "agent banks", "banks,"},
		Personality: "Professional, efficient assistant focused on business tasks and getting things done.",
		Greeting:    "Banks here. Ready to handle your business needs efficiently.",
		SystemPrompt: "You are Banks, a professional AI assistant. Be direct, efficient, " +
			"and focus on productivity. Keep responses concise and actionable.",
	},
	{
		ID:          "bella",
		Name:        "Bella",
		WakeWords:   []string{"hey bella", "hi bella", "bella,"},
		Personality: "Friendly, conversational assistant for personal tasks and casual interactions.",
		Greeting:    "Hi! I'm Bella, your friendly AI assistant. How can I help you today?",
		SystemPrompt: "You are Bella, a friendly and warm AI assistant. Be conversational, " +
			"empathetic, and helpful. Use a casual tone while remaining professional.",
	},
}
