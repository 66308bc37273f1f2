package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeEmbed struct {
	vec   []float32
	fail  bool
	empty bool
}

func (f *fakeEmbed) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.fail {
		return nil, errors.New("embedding endpoint down")
	}
	if f.empty {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

func (f *fakeEmbed) Dimension() int { return len(f.vec) }

type fakeBackend struct {
	entries map[string]*Entry
	topics  map[string]Topic
	touched map[string]int
	matches []Match
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		entries: make(map[string]*Entry),
		topics:  make(map[string]Topic),
		touched: make(map[string]int),
	}
}

func (b *fakeBackend) SearchByEmbedding(_ context.Context, _ []float32, limit int, threshold float64, _ Filters) ([]Match, error) {
	var out []Match
	for _, m := range b.matches {
		if m.Similarity > threshold && m.Status == StatusActive {
			out = append(out, m)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (b *fakeBackend) FetchByIDs(_ context.Context, ids []string) ([]Entry, error) {
	var out []Entry
	for _, id := range ids {
		if e, ok := b.entries[id]; ok {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (b *fakeBackend) Insert(_ context.Context, e *Entry) (string, error) {
	if e.ID == "" {
		e.ID = "mem-" + time.Now().Format("150405.000000000")
	}
	b.entries[e.ID] = e
	return e.ID, nil
}

func (b *fakeBackend) Touch(_ context.Context, id string) error {
	e, ok := b.entries[id]
	if !ok {
		return ErrNotFound
	}
	e.AccessCount++
	b.touched[id]++
	return nil
}

func (b *fakeBackend) SetStatus(_ context.Context, id string, status Status) error {
	e, ok := b.entries[id]
	if !ok {
		return ErrNotFound
	}
	e.Status = status
	return nil
}

func (b *fakeBackend) GetOrCreateTopic(_ context.Context, name string) (Topic, error) {
	if t, ok := b.topics[name]; ok {
		return t, nil
	}
	t := Topic{ID: "topic-" + name, Name: name}
	b.topics[name] = t
	return t, nil
}

type fakeIndex struct {
	hits []IndexHit
}

func (f *fakeIndex) Upsert(_ context.Context, id string, vec []float32, _ map[string]any) error {
	f.hits = append(f.hits, IndexHit{ID: id, Similarity: 1})
	return nil
}

func (f *fakeIndex) Search(_ context.Context, _ []float32, _ int) ([]IndexHit, error) {
	return f.hits, nil
}

func TestSearchEmbedFailure(t *testing.T) {
	a := NewAdapter(newFakeBackend(), &fakeEmbed{fail: true}, nil, nil, zap.NewNop())
	matches, err := a.Search(context.Background(), "anything", 5, DefaultThreshold, Filters{})
	if err == nil {
		t.Fatal("expected error from failed embedding")
	}
	if len(matches) != 0 {
		t.Errorf("got %d matches, want 0", len(matches))
	}
}

func TestSearchThresholdStrict(t *testing.T) {
	// Cosine distances 0.1, 0.4, 0.9 from the query give similarities
	// 0.9, 0.6, 0.1. With threshold 0.7 only the first qualifies.
	backend := newFakeBackend()
	index := &fakeIndex{}
	for _, h := range []IndexHit{
		{ID: "near", Similarity: 0.9},
		{ID: "mid", Similarity: 0.6},
		{ID: "far", Similarity: 0.1},
	} {
		backend.entries[h.ID] = &Entry{
			ID: h.ID, Status: StatusActive, Embedding: []float32{1, 0},
		}
		index.hits = append(index.hits, h)
	}

	a := NewAdapter(backend, &fakeEmbed{vec: []float32{1, 0}}, index, nil, zap.NewNop())
	matches, err := a.Search(context.Background(), "query", 5, 0.7, Filters{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}
	if matches[0].ID != "near" {
		t.Errorf("got match %s, want near", matches[0].ID)
	}
}

func TestSearchSkipsInactiveAndUnembedded(t *testing.T) {
	backend := newFakeBackend()
	backend.entries["archived"] = &Entry{ID: "archived", Status: StatusArchived, Embedding: []float32{1}}
	backend.entries["hollow"] = &Entry{ID: "hollow", Status: StatusActive}
	backend.entries["good"] = &Entry{ID: "good", Status: StatusActive, Embedding: []float32{1}}
	index := &fakeIndex{hits: []IndexHit{
		{ID: "archived", Similarity: 0.99},
		{ID: "hollow", Similarity: 0.98},
		{ID: "good", Similarity: 0.9},
	}}

	a := NewAdapter(backend, &fakeEmbed{vec: []float32{1}}, index, nil, zap.NewNop())
	matches, err := a.Search(context.Background(), "query", 5, 0.5, Filters{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "good" {
		t.Errorf("got %v, want only good", matches)
	}
}

func TestSearchOrdersTiesByRecency(t *testing.T) {
	// The index may return equal-similarity hits in any order; the
	// result must still come back newest first within a tie.
	backend := newFakeBackend()
	backend.entries["older"] = &Entry{
		ID: "older", Status: StatusActive, Embedding: []float32{1},
		CreatedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	backend.entries["newer"] = &Entry{
		ID: "newer", Status: StatusActive, Embedding: []float32{1},
		CreatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	index := &fakeIndex{hits: []IndexHit{
		{ID: "older", Similarity: 0.9},
		{ID: "newer", Similarity: 0.9},
	}}

	a := NewAdapter(backend, &fakeEmbed{vec: []float32{1}}, index, nil, zap.NewNop())
	matches, err := a.Search(context.Background(), "query", 5, 0.5, Filters{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
	if matches[0].ID != "newer" || matches[1].ID != "older" {
		t.Errorf("got order [%s %s], want [newer older]", matches[0].ID, matches[1].ID)
	}
}

func TestSearchEmptyEmbeddingIsError(t *testing.T) {
	a := NewAdapter(newFakeBackend(), &fakeEmbed{empty: true}, nil, nil, zap.NewNop())
	matches, err := a.Search(context.Background(), "anything", 5, DefaultThreshold, Filters{})
	if err == nil {
		t.Fatal("expected error when embedder returns no vectors")
	}
	if len(matches) != 0 {
		t.Errorf("got %d matches, want 0", len(matches))
	}
}

func TestSearchFilters(t *testing.T) {
	backend := newFakeBackend()
	backend.entries["a"] = &Entry{ID: "a", Status: StatusActive, Embedding: []float32{1}, TopicID: "t1", ProjectID: "p1"}
	backend.entries["b"] = &Entry{ID: "b", Status: StatusActive, Embedding: []float32{1}, TopicID: "t2", ProjectID: "p1"}
	index := &fakeIndex{hits: []IndexHit{
		{ID: "a", Similarity: 0.9},
		{ID: "b", Similarity: 0.9},
	}}

	a := NewAdapter(backend, &fakeEmbed{vec: []float32{1}}, index, nil, zap.NewNop())
	matches, err := a.Search(context.Background(), "query", 5, 0.5, Filters{TopicID: "t1", ProjectID: "p1"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "a" {
		t.Errorf("got %v, want only a", matches)
	}
}

func TestSaveAndTouchOnce(t *testing.T) {
	backend := newFakeBackend()
	a := NewAdapter(backend, &fakeEmbed{vec: []float32{0.5, 0.5}}, nil, nil, zap.NewNop())

	id, err := a.Save(context.Background(), "go interfaces are satisfied implicitly",
		map[string]any{"tags": []string{"go"}}, TypeKnowledge, "programming")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	e := backend.entries[id]
	if e == nil {
		t.Fatal("entry not inserted")
	}
	if e.TopicID != "topic-programming" {
		t.Errorf("got topic %q", e.TopicID)
	}
	if e.Type != TypeKnowledge || e.Status != StatusActive {
		t.Errorf("got type=%s status=%s", e.Type, e.Status)
	}
	if len(e.Embedding) != 2 {
		t.Errorf("embedding not stored")
	}

	// One retrieval use means exactly one increment.
	if err := a.Touch(context.Background(), id); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if got := e.AccessCount; got != 1 {
		t.Errorf("access_count = %d, want 1", got)
	}
}

func TestSaveTopicIdempotent(t *testing.T) {
	backend := newFakeBackend()
	a := NewAdapter(backend, &fakeEmbed{vec: []float32{1}}, nil, nil, zap.NewNop())

	id1, err := a.Save(context.Background(), "first", nil, TypeConversation, "daily")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	id2, err := a.Save(context.Background(), "second", nil, TypeConversation, "daily")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if backend.entries[id1].TopicID != backend.entries[id2].TopicID {
		t.Error("same topic name should reuse the topic")
	}
	if len(backend.topics) != 1 {
		t.Errorf("got %d topics, want 1", len(backend.topics))
	}
}

func TestDeleteIsSoft(t *testing.T) {
	backend := newFakeBackend()
	a := NewAdapter(backend, &fakeEmbed{vec: []float32{1}}, nil, nil, zap.NewNop())

	id, err := a.Save(context.Background(), "ephemeral", nil, TypeContext, "")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := a.Delete(context.Background(), id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got := backend.entries[id].Status; got != StatusDeleted {
		t.Errorf("status = %s, want deleted", got)
	}
}

func TestSaveEmbedFailureIsWriteError(t *testing.T) {
	a := NewAdapter(newFakeBackend(), &fakeEmbed{fail: true}, nil, nil, zap.NewNop())
	_, err := a.Save(context.Background(), "text", nil, TypeConversation, "")
	if !errors.Is(err, ErrWrite) {
		t.Errorf("got %v, want ErrWrite", err)
	}
}
