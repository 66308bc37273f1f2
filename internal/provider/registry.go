package provider

import "fmt"

// DemoModelID is the always-available zero-credential default.
const DemoModelID = "demo"

// registryOrder is the fixed model set. Order matters: SelectModel
// returns the first available capability match in this order.
var registryOrder = []ModelConfig{
	{
		ID:        "anthropic",
		Name:      "Anthropic Claude",
		Endpoint:  "https://api.anthropic.com/v1",
		Model:     "claude-3-5-sonnet-20241022",
		MaxTokens: 4096,
		Capabilities: Capability{
			Text: true, Vision: true, FunctionCalling: true,
			Code: true, Reasoning: true, Multimodal: true,
		},
		CostTier:    CostPremium,
		RequiresKey: true,
	},
	{
		ID:        "openrouter",
		Name:      "OpenRouter",
		Endpoint:  "https://openrouter.ai/api/v1",
		Model:     "anthropic/claude-3.5-sonnet",
		MaxTokens: 4096,
		Capabilities: Capability{
			Text: true, Vision: true, FunctionCalling: true,
			Code: true, Multimodal: true,
		},
		CostTier:    CostMedium,
		RequiresKey: true,
	},
	{
		ID:        "perplexity",
		Name:      "Perplexity",
		Endpoint:  "https://api.perplexity.ai",
		Model:     "sonar-pro",
		MaxTokens: 4096,
		Capabilities: Capability{
			Text: true, WebSearch: true, RealTime: true,
		},
		CostTier:    CostMedium,
		RequiresKey: true,
	},
	{
		ID:        "deepseek",
		Name:      "DeepSeek",
		Endpoint:  "https://api.deepseek.com/v1",
		Model:     "deepseek-chat",
		MaxTokens: 4096,
		Capabilities: Capability{
			Text: true, FunctionCalling: true, Code: true, Reasoning: true,
		},
		CostTier:    CostLow,
		RequiresKey: true,
	},
	{
		ID:           DemoModelID,
		Name:         "Demo",
		Model:        "demo",
		MaxTokens:    1024,
		Capabilities: Capability{Text: true},
		CostTier:     CostFree,
		RequiresKey:  false,
	},
}

// taskDefaults maps a task type to its fallback model id, consulted when
// no registry entry with the required capability is available.
var taskDefaults = map[TaskType]string{
	TaskCode:            "deepseek",
	TaskWebSearch:       "perplexity",
	TaskVision:          "openrouter",
	TaskReasoning:       "anthropic",
	TaskFunctionCalling: "anthropic",
	TaskMultimodal:      "openrouter",
	TaskRealTime:        "perplexity",
	TaskGeneral:         "anthropic",
}

// Registry holds the fixed model set.
type Registry struct {
	models []ModelConfig
	byID   map[string]ModelConfig
}

// NewRegistry builds and validates the fixed registry. It panics on a
// malformed built-in entry, which can only happen from a bad edit here.
func NewRegistry() *Registry {
	r := &Registry{byID: make(map[string]ModelConfig, len(registryOrder))}
	for _, m := range registryOrder {
		if err := validate(m); err != nil {
			panic(fmt.Sprintf("model registry: %v", err))
		}
		r.models = append(r.models, m)
		r.byID[m.ID] = m
	}
	return r
}

func validate(m ModelConfig) error {
	if m.ID == "" {
		return fmt.Errorf("model with empty id")
	}
	if !m.Capabilities.Text {
		return fmt.Errorf("model %s: every model must support text", m.ID)
	}
	if m.RequiresKey && m.Endpoint == "" {
		return fmt.Errorf("model %s: keyed model without endpoint", m.ID)
	}
	return nil
}

// Get returns the config for a model id.
func (r *Registry) Get(id string) (ModelConfig, bool) {
	m, ok := r.byID[id]
	return m, ok
}

// All returns the registry entries in fixed order.
func (r *Registry) All() []ModelConfig {
	out := make([]ModelConfig, len(r.models))
	copy(out, r.models)
	return out
}
