package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ProbeTimeout bounds the connectivity probe.
const ProbeTimeout = 5 * time.Second

// Client speaks the tool gateway wire protocol: one handshake call to
// discover the advertised tools, then one HTTP round trip per tool call.
type Client struct {
	endpoint   string
	statusPath string
	http       *http.Client
	logger     *zap.Logger
}

// NewClient creates a client for the given gateway endpoint. statusPath
// is the GET path used by Probe, relative to the endpoint.
func NewClient(endpoint, statusPath string, logger *zap.Logger) *Client {
	return &Client{
		endpoint:   endpoint,
		statusPath: statusPath,
		http:       &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
	}
}

// Handshake discovers the advertised tool set. The response lists tools
// either as bare names or as full descriptors.
func (c *Client) Handshake(ctx context.Context) ([]Descriptor, error) {
	raw, err := c.post(ctx, map[string]any{"input": "hello"})
	if err != nil {
		return nil, fmt.Errorf("tool handshake: %w", err)
	}

	var resp struct {
		AvailableTools []json.RawMessage `json:"available_tools"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("parse handshake: %w", err)
	}

	out := make([]Descriptor, 0, len(resp.AvailableTools))
	for _, item := range resp.AvailableTools {
		var name string
		if err := json.Unmarshal(item, &name); err == nil {
			out = append(out, Descriptor{Name: name})
			continue
		}
		var d Descriptor
		if err := json.Unmarshal(item, &d); err != nil {
			return nil, fmt.Errorf("parse handshake tool entry: %w", err)
		}
		out = append(out, d)
	}
	return out, nil
}

// Call invokes a tool and returns its raw result payload. An {error}
// response body becomes an *ExecError.
func (c *Client) Call(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	raw, err := c.post(ctx, map[string]any{
		"tool_name": name,
		"tool_args": args,
	})
	if err != nil {
		return nil, fmt.Errorf("tool call %s: %w", name, err)
	}

	var errResp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &errResp); err == nil && errResp.Error != "" {
		return nil, &ExecError{Tool: name, Args: args, Message: errResp.Error}
	}
	return raw, nil
}

// Probe checks the gateway status endpoint. Bounded to 5s regardless of
// the caller's context.
func (c *Client) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+c.statusPath, nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

func (c *Client) post(ctx context.Context, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway status %d: %s", resp.StatusCode, truncate(string(data), 200))
	}
	return data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
