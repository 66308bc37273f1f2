package persona

import "testing"

func TestDetectWakeWord(t *testing.T) {
	r := NewRegistry()

	cases := []struct {
		message string
		current string
		want    string
	}{
		{"Hey Banks, schedule the call", "bella", "banks"},
		{"hi bella! how are you", "banks", "bella"},
		{"just a normal message", "banks", "banks"},
		{"just a normal message", "bella", "bella"},
	}
	for _, tc := range cases {
		if got := r.Detect(tc.message, tc.current); got != tc.want {
			t.Errorf("Detect(%q, %q) = %q, want %q", tc.message, tc.current, got, tc.want)
		}
	}
}

func TestGetFallsBackToDefault(t *testing.T) {
	r := NewRegistry()
	if got := r.Get("nonexistent"); got.ID != DefaultID {
		t.Errorf("got persona %q, want default %q", got.ID, DefaultID)
	}
}
