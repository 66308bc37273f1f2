package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
)

// EnvFetcher reads credentials from environment variables. The mapping
// is provider id -> variable name.
type EnvFetcher struct {
	vars map[string]string
}

// DefaultEnvVars maps the built-in provider ids to their conventional
// environment variables.
func DefaultEnvVars() map[string]string {
	return map[string]string{
		"anthropic":  "ANTHROPIC_API_KEY",
		"openrouter": "OPENROUTER_API_KEY",
		"perplexity": "PERPLEXITY_API_KEY",
		"deepseek":   "DEEPSEEK_API_KEY",
	}
}

// NewEnvFetcher creates a fetcher over the given provider->env mapping.
func NewEnvFetcher(vars map[string]string) *EnvFetcher {
	if vars == nil {
		vars = DefaultEnvVars()
	}
	return &EnvFetcher{vars: vars}
}

// Fetch reads all mapped environment variables. It never fails.
func (f *EnvFetcher) Fetch(_ context.Context) (KeySet, error) {
	ks := make(KeySet, len(f.vars))
	for provider, envVar := range f.vars {
		ks[provider] = os.Getenv(envVar)
	}
	return ks, nil
}

// HTTPFetcher retrieves credentials from a key service endpoint that
// returns {"keys": {"<provider>": "<credential>", ...}}.
type HTTPFetcher struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewHTTPFetcher creates a fetcher for the given key service URL.
func NewHTTPFetcher(endpoint string, logger *zap.Logger) *HTTPFetcher {
	return &HTTPFetcher{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 5 * time.Second},
		logger:   logger,
	}
}

// Fetch calls the key service and decodes the credential map.
func (f *HTTPFetcher) Fetch(ctx context.Context) (KeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create key request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch keys: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("key service status %d", resp.StatusCode)
	}

	var body struct {
		Keys map[string]string `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode key response: %w", err)
	}
	return KeySet(body.Keys), nil
}
