package tools

// Descriptor describes a tool advertised by the gateway endpoint.
type Descriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// Settings gates tool execution for a session. The zero value means
// the connection is disabled; stores that have no saved record should
// return DefaultSettings instead.
type Settings struct {
	ConnectionEnabled bool     `json:"connectionEnabled"`
	DisabledTools     []string `json:"disabledTools"`
}

// DefaultSettings is used when no settings record exists yet.
func DefaultSettings() Settings {
	return Settings{ConnectionEnabled: true}
}

// Disabled reports whether the named tool is explicitly disabled.
func (s Settings) Disabled(name string) bool {
	for _, t := range s.DisabledTools {
		if t == name {
			return true
		}
	}
	return false
}

// SettingsStore persists per-session tool settings. The gateway
// reloads settings on every call so a change takes effect immediately.
type SettingsStore interface {
	LoadSettings(sessionID string) (Settings, error)
	SaveSettings(sessionID string, s Settings) error
}
