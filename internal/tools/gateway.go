package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
)

// State is the gateway connection state.
type State string

const (
	StateOffline    State = "offline"
	StateConnecting State = "connecting"
	StateOnline     State = "online"
)

// DefaultCacheTTL bounds how long a tool result may be served from cache.
const DefaultCacheTTL = 30 * time.Second

// Gateway dispatches tool calls against the advertised set, gated by
// per-session settings reloaded on every call. Reconnection is
// caller-initiated: a failed handshake leaves the gateway offline until
// Connect is called again.
type Gateway struct {
	client   *Client
	settings SettingsStore
	recorder Recorder
	cache    *ristretto.Cache
	cacheTTL time.Duration
	logger   *zap.Logger

	mu         sync.RWMutex
	state      State
	advertised map[string]Descriptor
	order      []string
}

// NewGateway creates an offline gateway. Call Connect to perform the
// handshake and go online.
func NewGateway(client *Client, settings SettingsStore, recorder Recorder, cacheTTL time.Duration, logger *zap.Logger) (*Gateway, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     1 << 22,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("tool result cache: %w", err)
	}
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &Gateway{
		client:     client,
		settings:   settings,
		recorder:   recorder,
		cache:      cache,
		cacheTTL:   cacheTTL,
		logger:     logger,
		state:      StateOffline,
		advertised: make(map[string]Descriptor),
	}, nil
}

// State returns the current connection state.
func (g *Gateway) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// Tools returns the advertised descriptors in handshake order. Empty
// while offline.
func (g *Gateway) Tools() []Descriptor {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Descriptor, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, g.advertised[name])
	}
	return out
}

// Connect performs the handshake and transitions to online. On failure
// the gateway is offline with an empty advertised set.
func (g *Gateway) Connect(ctx context.Context) ([]Descriptor, error) {
	g.mu.Lock()
	g.state = StateConnecting
	g.mu.Unlock()

	descriptors, err := g.client.Handshake(ctx)
	g.mu.Lock()
	defer g.mu.Unlock()
	if err != nil {
		g.state = StateOffline
		g.advertised = make(map[string]Descriptor)
		g.order = nil
		g.logger.Warn("tool gateway handshake failed", zap.Error(err))
		return nil, err
	}

	g.state = StateOnline
	g.advertised = make(map[string]Descriptor, len(descriptors))
	g.order = g.order[:0]
	for _, d := range descriptors {
		g.advertised[d.Name] = d
		g.order = append(g.order, d.Name)
	}
	g.cache.Clear()
	g.logger.Info("tool gateway online", zap.Int("tools", len(descriptors)))
	return descriptors, nil
}

// Disconnect transitions to offline and drops the advertised set.
func (g *Gateway) Disconnect() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = StateOffline
	g.advertised = make(map[string]Descriptor)
	g.order = nil
	g.cache.Clear()
}

// Probe checks the gateway's status endpoint.
func (g *Gateway) Probe(ctx context.Context) bool {
	return g.client.Probe(ctx)
}

// Call dispatches one tool call for a session. Settings are reloaded on
// every call, so a disable takes effect immediately without reconnect.
// Every call emits an audit record, including rejected and failed ones.
func (g *Gateway) Call(ctx context.Context, sessionID, name string, args map[string]any) (result json.RawMessage, err error) {
	defer func() {
		g.recorder.Record(newRecord(name, args, result, err, time.Now()))
	}()

	settings := g.loadSettings(sessionID)
	if !settings.ConnectionEnabled || settings.Disabled(name) {
		return nil, fmt.Errorf("%w: %s", ErrDisabled, name)
	}

	g.mu.RLock()
	state := g.state
	_, known := g.advertised[name]
	g.mu.RUnlock()
	if state != StateOnline {
		return nil, fmt.Errorf("%w: gateway is %s", ErrUnavailable, state)
	}
	if !known {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, name)
	}

	key := cacheKey(name, args)
	if cached, ok := g.cache.Get(key); ok {
		if payload, ok := cached.(json.RawMessage); ok {
			return payload, nil
		}
	}

	result, err = g.client.Call(ctx, name, args)
	if err != nil {
		// An executor error is scoped to the call; a transport error
		// takes the whole connection offline. Going offline drops the
		// advertised set; only Connect brings it back.
		var execErr *ExecError
		if !errors.As(err, &execErr) {
			g.mu.Lock()
			g.state = StateOffline
			g.advertised = make(map[string]Descriptor)
			g.order = nil
			g.mu.Unlock()
			g.cache.Clear()
		}
		return nil, err
	}

	g.cache.SetWithTTL(key, result, int64(len(result)), g.cacheTTL)
	return result, nil
}

func (g *Gateway) loadSettings(sessionID string) Settings {
	if g.settings == nil {
		return DefaultSettings()
	}
	s, err := g.settings.LoadSettings(sessionID)
	if err != nil {
		g.logger.Warn("tool settings load failed, using defaults",
			zap.String("session", sessionID), zap.Error(err))
		return DefaultSettings()
	}
	return s
}

func cacheKey(name string, args map[string]any) string {
	data, err := json.Marshal(args)
	if err != nil {
		return name
	}
	return name + ":" + string(data)
}
