package session

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

type memLocal struct {
	data map[string][]byte
}

func newMemLocal() *memLocal {
	return &memLocal{data: make(map[string][]byte)}
}

func (m *memLocal) SaveSession(id string, payload []byte) error {
	m.data[id] = append([]byte(nil), payload...)
	return nil
}

func (m *memLocal) LoadSession(id string) ([]byte, error) {
	return m.data[id], nil
}

func (m *memLocal) DeleteSession(id string) error {
	delete(m.data, id)
	return nil
}

func TestAppendOrderPreserved(t *testing.T) {
	s := New("user-1", "banks")
	s.Append(Message{Role: "user", Content: "first"})
	s.Append(Message{Role: "assistant", Content: "second"})
	s.Append(Message{Role: "user", Content: "third"})

	msgs := s.Messages()
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	for i, want := range []string{"first", "second", "third"} {
		if msgs[i].Content != want {
			t.Errorf("message %d = %q, want %q", i, msgs[i].Content, want)
		}
	}
	if msgs[0].Timestamp.IsZero() {
		t.Error("append should stamp messages")
	}
}

func TestWindowCapsHistory(t *testing.T) {
	s := New("user-1", "banks")
	for i := 0; i < HistoryWindow+10; i++ {
		s.Append(Message{Role: "user", Content: "m"})
	}
	if got := len(s.Window()); got != HistoryWindow {
		t.Errorf("window = %d, want %d", got, HistoryWindow)
	}
	if got := len(s.Messages()); got != HistoryWindow+10 {
		t.Errorf("full history = %d, want %d", got, HistoryWindow+10)
	}
}

func TestSwitchPersonaInsertsSystemMessage(t *testing.T) {
	s := New("user-1", "banks")
	s.Append(Message{Role: "user", Content: "hello"})
	s.SwitchPersona("bella", "Persona switched to Bella")

	msgs := s.Messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Content != "hello" {
		t.Error("prior message was altered")
	}
	if msgs[1].Role != "system" {
		t.Errorf("got role %q, want system", msgs[1].Role)
	}
	if s.Persona() != "bella" {
		t.Errorf("persona = %q, want bella", s.Persona())
	}

	// Switching to the current persona is a no-op.
	s.SwitchPersona("bella", "again")
	if got := len(s.Messages()); got != 2 {
		t.Errorf("got %d messages after no-op switch, want 2", got)
	}
}

func TestPersistRestoreRoundTrip(t *testing.T) {
	local := newMemLocal()
	m := NewManager(local, nil, zap.NewNop())

	s := New("user-1", "banks")
	s.SetModel("anthropic")
	s.Append(Message{Role: "user", Content: "remember me"})
	if err := m.Persist(context.Background(), s); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	got := m.Restore(context.Background(), s.ID())
	if got == nil {
		t.Fatal("Restore returned nil for a persisted session")
	}
	if got.ID() != s.ID() || got.Persona() != "banks" || got.Model() != "anthropic" {
		t.Errorf("restored id=%s persona=%s model=%s", got.ID(), got.Persona(), got.Model())
	}
	msgs := got.Messages()
	if len(msgs) != 1 || msgs[0].Content != "remember me" {
		t.Errorf("restored messages %v", msgs)
	}
}

func TestRestoreAbsentReturnsNil(t *testing.T) {
	m := NewManager(newMemLocal(), nil, zap.NewNop())
	if got := m.Restore(context.Background(), "no-such-session"); got != nil {
		t.Errorf("got %v, want nil", got)
	}
}

func TestRestoreCorruptReturnsNil(t *testing.T) {
	local := newMemLocal()
	local.data["broken"] = []byte("{ not json")
	m := NewManager(local, nil, zap.NewNop())
	if got := m.Restore(context.Background(), "broken"); got != nil {
		t.Errorf("got %v, want nil", got)
	}
}

func TestClearThenRestoreOldID(t *testing.T) {
	local := newMemLocal()
	m := NewManager(local, nil, zap.NewNop())

	s := New("user-1", "banks")
	s.Append(Message{Role: "user", Content: "gone soon"})
	if err := m.Persist(context.Background(), s); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	oldID := s.ID()

	if err := m.Clear(context.Background(), s); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if s.ID() == oldID {
		t.Error("clear should issue a fresh identity")
	}
	if got := len(s.Messages()); got != 0 {
		t.Errorf("got %d messages after clear, want 0", got)
	}
	if got := m.Restore(context.Background(), oldID); got != nil {
		t.Error("old session id should not restore after clear")
	}
}
