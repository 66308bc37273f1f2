package memory

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/kestrel-ai/banter/internal/embedding"
)

// Backend is the durable store behind the adapter.
type Backend interface {
	SearchByEmbedding(ctx context.Context, embedding []float32, limit int, threshold float64, f Filters) ([]Match, error)
	FetchByIDs(ctx context.Context, ids []string) ([]Entry, error)
	Insert(ctx context.Context, e *Entry) (string, error)
	Touch(ctx context.Context, id string) error
	SetStatus(ctx context.Context, id string, status Status) error
	GetOrCreateTopic(ctx context.Context, name string) (Topic, error)
}

// Index is an optional ANN index consulted before the backend. Hits
// carry cosine similarity directly.
type Index interface {
	Upsert(ctx context.Context, id string, vector []float32, payload map[string]any) error
	Search(ctx context.Context, vector []float32, limit int) ([]IndexHit, error)
}

// IndexHit is one ANN index result.
type IndexHit struct {
	ID         string
	Similarity float64
}

// Mirror receives write events for secondary representations, such as
// a knowledge graph. Mirror failures never fail the write.
type Mirror interface {
	MemoryStored(ctx context.Context, e *Entry, topic *Topic) error
}

// Adapter is the memory store facade: it computes embeddings, searches
// the backend (index-first when an index is configured), and writes
// entries back with topic get-or-create.
type Adapter struct {
	backend Backend
	embed   embedding.Provider
	index   Index
	mirror  Mirror
	logger  *zap.Logger
}

// NewAdapter creates an adapter. index and mirror may be nil.
func NewAdapter(backend Backend, embed embedding.Provider, index Index, mirror Mirror, logger *zap.Logger) *Adapter {
	return &Adapter{backend: backend, embed: embed, index: index, mirror: mirror, logger: logger}
}

// Search embeds the query and returns matches above the threshold,
// ordered by similarity descending then recency. On any failure it
// returns an empty list along with the error; retrieval must never
// block a conversation turn.
func (a *Adapter) Search(ctx context.Context, query string, limit int, threshold float64, f Filters) ([]Match, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	vectors, err := a.embed.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embed query: empty result")
	}
	qv := vectors[0]

	if a.index != nil {
		matches, err := a.searchViaIndex(ctx, qv, limit, threshold, f)
		if err == nil {
			return matches, nil
		}
		a.logger.Warn("index search failed, falling back to backend", zap.Error(err))
	}
	return a.backend.SearchByEmbedding(ctx, qv, limit, threshold, f)
}

// searchViaIndex queries the ANN index and hydrates rows from the
// backend, re-applying the status, threshold, and filter rules.
func (a *Adapter) searchViaIndex(ctx context.Context, qv []float32, limit int, threshold float64, f Filters) ([]Match, error) {
	hits, err := a.index.Search(ctx, qv, limit*4)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(hits))
	sim := make(map[string]float64, len(hits))
	for _, h := range hits {
		ids = append(ids, h.ID)
		sim[h.ID] = h.Similarity
	}

	entries, err := a.backend.FetchByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	var matches []Match
	for _, h := range hits {
		for _, e := range entries {
			if e.ID != h.ID {
				continue
			}
			if e.Status != StatusActive || len(e.Embedding) == 0 {
				break
			}
			if h.Similarity <= threshold {
				break
			}
			if !f.matches(&e) {
				break
			}
			matches = append(matches, Match{Entry: e, Similarity: h.Similarity})
			break
		}
	}
	// The index returns its own order; restore similarity descending
	// with recency breaking ties, like the backend does.
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (f Filters) matches(e *Entry) bool {
	if f.TopicID != "" && e.TopicID != f.TopicID {
		return false
	}
	if f.ProjectID != "" && e.ProjectID != f.ProjectID {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	return true
}

// Save embeds the text and stores a new entry, reusing or creating the
// named topic. Metadata keys understood: title, summary, tags,
// owner_id, project_id, relevance_score.
func (a *Adapter) Save(ctx context.Context, text string, metadata map[string]any, typ Type, topicName string) (string, error) {
	vectors, err := a.embed.Embed(ctx, []string{text})
	if err != nil || len(vectors) == 0 {
		return "", fmt.Errorf("%w: embed: %v", ErrWrite, err)
	}

	e := entryFromMetadata(text, metadata, typ)
	e.Embedding = vectors[0]

	var topic *Topic
	if topicName != "" {
		t, err := a.backend.GetOrCreateTopic(ctx, topicName)
		if err != nil {
			return "", fmt.Errorf("%w: topic: %v", ErrWrite, err)
		}
		topic = &t
		e.TopicID = t.ID
	}

	id, err := a.backend.Insert(ctx, e)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrWrite, err)
	}

	if a.index != nil {
		payload := map[string]any{
			"memory_type": string(e.Type),
			"topic_id":    e.TopicID,
			"project_id":  e.ProjectID,
		}
		if err := a.index.Upsert(ctx, id, e.Embedding, payload); err != nil {
			a.logger.Warn("index upsert failed", zap.String("id", id), zap.Error(err))
		}
	}
	if a.mirror != nil {
		if err := a.mirror.MemoryStored(ctx, e, topic); err != nil {
			a.logger.Warn("graph mirror failed", zap.String("id", id), zap.Error(err))
		}
	}
	return id, nil
}

// Touch marks one retrieved entry as used. Called once per retrieval
// use, not once per search candidate.
func (a *Adapter) Touch(ctx context.Context, id string) error {
	return a.backend.Touch(ctx, id)
}

// TouchAll touches every used entry, logging failures instead of
// propagating them.
func (a *Adapter) TouchAll(ctx context.Context, ids []string) {
	for _, id := range ids {
		if err := a.backend.Touch(ctx, id); err != nil {
			a.logger.Warn("touch failed", zap.String("id", id), zap.Error(err))
		}
	}
}

// Archive moves an entry out of the searchable set without deleting it.
func (a *Adapter) Archive(ctx context.Context, id string) error {
	if err := a.backend.SetStatus(ctx, id, StatusArchived); err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return nil
}

// Delete soft-deletes an entry. Hard deletion only happens through the
// backend's cleanup policy.
func (a *Adapter) Delete(ctx context.Context, id string) error {
	if err := a.backend.SetStatus(ctx, id, StatusDeleted); err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return nil
}

func entryFromMetadata(text string, metadata map[string]any, typ Type) *Entry {
	if typ == "" {
		typ = TypeConversation
	}
	e := &Entry{
		Title:   titleFor(text),
		Content: text,
		Type:    typ,
		Status:  StatusActive,
	}
	if metadata == nil {
		return e
	}
	if v, ok := metadata["title"].(string); ok && v != "" {
		e.Title = v
	}
	if v, ok := metadata["summary"].(string); ok {
		e.Summary = v
	}
	if v, ok := metadata["owner_id"].(string); ok {
		e.OwnerID = v
	}
	if v, ok := metadata["project_id"].(string); ok {
		e.ProjectID = v
	}
	if v, ok := metadata["relevance_score"].(float64); ok {
		e.RelevanceScore = v
	}
	switch tags := metadata["tags"].(type) {
	case []string:
		e.Tags = tags
	case []any:
		for _, t := range tags {
			if s, ok := t.(string); ok {
				e.Tags = append(e.Tags, s)
			}
		}
	}
	return e
}

func titleFor(text string) string {
	const max = 80
	if len(text) <= max {
		return text
	}
	return text[:max]
}
