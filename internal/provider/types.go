package provider

import "context"

// TaskType classifies what an inbound message needs from a model.
type TaskType string

const (
	TaskGeneral         TaskType = "general"
	TaskCode            TaskType = "code"
	TaskVision          TaskType = "vision"
	TaskWebSearch       TaskType = "web_search"
	TaskReasoning       TaskType = "reasoning"
	TaskFunctionCalling TaskType = "function_calling"
	TaskMultimodal      TaskType = "multimodal"
	TaskRealTime        TaskType = "real_time"
)

// Capability describes what a model can do. Flags are fixed per model;
// availability is a separate, credential-derived property.
type Capability struct {
	Text            bool `json:"text"`
	Vision          bool `json:"vision"`
	FunctionCalling bool `json:"function_calling"`
	WebSearch       bool `json:"web_search"`
	Code            bool `json:"code"`
	Reasoning       bool `json:"reasoning"`
	Multimodal      bool `json:"multimodal"`
	RealTime        bool `json:"real_time"`
}

// Supports reports whether this capability set covers the given task.
func (c Capability) Supports(task TaskType) bool {
	switch task {
	case TaskCode:
		return c.Code
	case TaskVision:
		return c.Vision
	case TaskWebSearch:
		return c.WebSearch
	case TaskReasoning:
		return c.Reasoning
	case TaskFunctionCalling:
		return c.FunctionCalling
	case TaskMultimodal:
		return c.Multimodal
	case TaskRealTime:
		return c.RealTime
	default:
		return c.Text
	}
}

// CostTier orders models by rough price per token.
type CostTier string

const (
	CostFree    CostTier = "free"
	CostLow     CostTier = "low"
	CostMedium  CostTier = "medium"
	CostPremium CostTier = "premium"
)

// ModelConfig describes one entry of the fixed model registry.
type ModelConfig struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Endpoint     string     `json:"endpoint"`
	Model        string     `json:"model"`
	MaxTokens    int        `json:"max_tokens"`
	Capabilities Capability `json:"capabilities"`
	CostTier     CostTier   `json:"cost_tier"`
	RequiresKey  bool       `json:"requires_key"`
}

// ModelInfo is a ModelConfig plus its credential-derived availability.
type ModelInfo struct {
	ModelConfig
	Available bool `json:"available"`
}

// Message represents a chat message sent to a provider.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ChatRequest represents a request routed to a provider.
type ChatRequest struct {
	Messages   []Message `json:"messages"`
	MaxTokens  int       `json:"max_tokens,omitempty"`
	Tools      []Tool    `json:"tools,omitempty"`
	ToolChoice string    `json:"tool_choice,omitempty"`
	TaskType   TaskType  `json:"task_type,omitempty"`
}

// ChatResponse represents a provider reply.
type ChatResponse struct {
	ModelID      string     `json:"model_id"`
	Model        string     `json:"model"`
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason,omitempty"`
	Usage        Usage      `json:"usage"`
	Demo         bool       `json:"demo,omitempty"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Tool defines a callable tool advertised to the model.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction describes a callable function.
type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall represents a model's request to call a tool.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction contains the function name and raw JSON arguments.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Client performs the actual upstream call for one provider family.
// The API key is resolved per call from the key cache.
type Client interface {
	Chat(ctx context.Context, apiKey string, cfg ModelConfig, req *ChatRequest) (*ChatResponse, error)
}
