package memory

import (
	"errors"
	"time"
)

// Type classifies what a memory entry holds.
type Type string

const (
	TypeConversation Type = "conversation"
	TypeKnowledge    Type = "knowledge"
	TypeProject      Type = "project"
	TypeContext      Type = "context"
	TypeReference    Type = "reference"
)

// Status is the entry lifecycle state. Only active entries are
// retrievable by similarity search.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
	StatusDraft    Status = "draft"
	StatusDeleted  Status = "deleted"
)

// Entry is one stored memory.
type Entry struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Content        string     `json:"content"`
	Summary        string     `json:"summary,omitempty"`
	Embedding      []float32  `json:"-"`
	Type           Type       `json:"memory_type"`
	Status         Status     `json:"status"`
	RelevanceScore float64    `json:"relevance_score"`
	Tags           []string   `json:"tags,omitempty"`
	AccessCount    int        `json:"access_count"`
	LastAccessed   *time.Time `json:"last_accessed,omitempty"`
	OwnerID        string     `json:"owner_id,omitempty"`
	TopicID        string     `json:"topic_id,omitempty"`
	ProjectID      string     `json:"project_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Topic groups memories. Parents form a tree; a reparent that would
// close a cycle is rejected.
type Topic struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parent_id,omitempty"`
	Color    string `json:"color,omitempty"`
	Icon     string `json:"icon,omitempty"`
	IsSystem bool   `json:"is_system"`
}

// Match is a search hit: an entry plus its similarity to the query,
// where similarity = 1 - cosine distance.
type Match struct {
	Entry
	Similarity float64 `json:"similarity"`
}

// Filters narrow a search. Empty fields mean no constraint; set fields
// are ANDed.
type Filters struct {
	TopicID   string
	ProjectID string
	Type      Type
}

var (
	// ErrWrite marks persistence failures on the write path. Read
	// failures never carry it: retrieval degrades to empty results.
	ErrWrite = errors.New("memory write failed")

	// ErrNotFound means no entry with the given id exists.
	ErrNotFound = errors.New("memory not found")

	// ErrTopicCycle means a parent assignment would close a cycle.
	ErrTopicCycle = errors.New("topic parent would create a cycle")
)

// Defaults used by the orchestrator's retrieval step.
const (
	DefaultSearchLimit    = 5
	DefaultThreshold      = 0.7
	DefaultRelevanceScore = 0.5
)
