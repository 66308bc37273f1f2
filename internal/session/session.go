package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// HistoryWindow caps how many trailing messages a provider request
// carries.
const HistoryWindow = 20

// MemoryRef records one memory entry actually used in a turn.
type MemoryRef struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Similarity float64 `json:"similarity"`
}

// ToolCallRecord records one executed tool call, success or failure.
type ToolCallRecord struct {
	Name   string         `json:"name"`
	Args   map[string]any `json:"args,omitempty"`
	Result string         `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Message is one chat message. Immutable once appended.
type Message struct {
	Role              string           `json:"role"`
	Content           string           `json:"content"`
	Timestamp         time.Time        `json:"timestamp"`
	ModelID           string           `json:"model,omitempty"`
	MemoryContext     []MemoryRef      `json:"memoryContext,omitempty"`
	ToolCallsExecuted []ToolCallRecord `json:"toolCallsExecuted,omitempty"`
}

// Session holds one conversation: an append-only message sequence plus
// persona and model selection. A session has a single writer; the
// mutex guards readers that race the orchestrator, such as the API's
// history endpoint.
type Session struct {
	mu       sync.RWMutex
	id       string
	userID   string
	persona  string
	model    string
	messages []Message
}

// New creates an empty session with a fresh identity.
func New(userID, persona string) *Session {
	return &Session{
		id:      uuid.New().String(),
		userID:  userID,
		persona: persona,
	}
}

// ID returns the session identity.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// UserID returns the owning user.
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// Persona returns the selected persona id.
func (s *Session) Persona() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.persona
}

// Model returns the last selected model id.
func (s *Session) Model() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}

// SetModel records the model used for the latest turn.
func (s *Session) SetModel(modelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = modelID
}

// Append adds a message. Messages are never edited or removed short of
// a full clear.
func (s *Session) Append(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
}

// SwitchPersona changes the persona and appends a synthetic system
// message recording the transition. Prior messages are untouched.
func (s *Session) SwitchPersona(personaID, note string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.persona == personaID {
		return
	}
	s.persona = personaID
	s.messages = append(s.messages, Message{
		Role:      "system",
		Content:   note,
		Timestamp: time.Now().UTC(),
	})
}

// Messages returns a copy of the full history.
func (s *Session) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Window returns a copy of the trailing history used for provider
// requests.
func (s *Session) Window() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := 0
	if len(s.messages) > HistoryWindow {
		start = len(s.messages) - HistoryWindow
	}
	out := make([]Message, len(s.messages)-start)
	copy(out, s.messages[start:])
	return out
}

// reset discards all state and issues a fresh identity.
func (s *Session) reset() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.id
	s.id = uuid.New().String()
	s.messages = nil
	return old
}

// record is the durable snapshot shape.
type record struct {
	ConversationID string    `json:"conversationId"`
	Messages       []Message `json:"messages"`
	Timestamp      string    `json:"timestamp"`
	UserID         string    `json:"userId"`
	Model          string    `json:"model"`
	Persona        string    `json:"persona"`
}

func (s *Session) snapshot() record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := make([]Message, len(s.messages))
	copy(msgs, s.messages)
	return record{
		ConversationID: s.id,
		Messages:       msgs,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		UserID:         s.userID,
		Model:          s.model,
		Persona:        s.persona,
	}
}

func fromRecord(rec record) *Session {
	return &Session{
		id:       rec.ConversationID,
		userID:   rec.UserID,
		persona:  rec.Persona,
		model:    rec.Model,
		messages: rec.Messages,
	}
}
