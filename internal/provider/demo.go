package provider

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

// DemoClient is the zero-credential fallback. It produces a clearly
// labeled stub reply so the conversation surface always renders
// something, even with no live provider configured.
type DemoClient struct{}

// NewDemoClient creates the demo client.
func NewDemoClient() *DemoClient {
	return &DemoClient{}
}

// Chat echoes a labeled canned reply built from the last user message.
func (c *DemoClient) Chat(_ context.Context, _ string, _ ModelConfig, req *ChatRequest) (*ChatResponse, error) {
	last := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			last = req.Messages[i].Content
			break
		}
	}
	if len(last) > 120 {
		cut := 120
		for cut > 0 && !utf8.RuneStart(last[cut]) {
			cut--
		}
		last = last[:cut] + "..."
	}

	var b strings.Builder
	b.WriteString("[demo mode] No live AI provider is configured, so this is a stub reply. ")
	b.WriteString("Add a provider API key to get real responses.")
	if last != "" {
		fmt.Fprintf(&b, " You said: %q", last)
	}

	return &ChatResponse{
		Model:        "demo",
		Content:      b.String(),
		FinishReason: "stop",
		Demo:         true,
	}, nil
}
