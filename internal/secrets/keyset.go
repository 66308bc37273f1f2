package secrets

import "strings"

// KeySet maps a provider id to its credential. An absent or empty value
// means no credential is configured for that provider.
type KeySet map[string]string

// Get returns the credential for a provider, or "" if none is set.
func (ks KeySet) Get(provider string) string {
	if ks == nil {
		return ""
	}
	return ks[provider]
}

// placeholder values that ship in sample configs and must never be
// treated as live credentials.
var placeholders = map[string]bool{
	"demo-key":    true,
	"test-key":    true,
	"placeholder": true,
}

// Valid reports whether a credential is usable: non-empty, longer than
// 10 characters, and not a known placeholder.
func Valid(key string) bool {
	if key == "" || len(key) <= 10 {
		return false
	}
	if placeholders[key] {
		return false
	}
	if strings.HasPrefix(key, "sk-placeholder") {
		return false
	}
	return true
}
