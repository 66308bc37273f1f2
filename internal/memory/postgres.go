package memory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PGStore is the primary memory backend: PostgreSQL with the pgvector
// extension ranking entries by cosine distance.
type PGStore struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPGStore creates a store over an existing connection pool.
func NewPGStore(db *pgxpool.Pool, logger *zap.Logger) *PGStore {
	return &PGStore{db: db, logger: logger}
}

const matchColumns = `
	id, title, content, COALESCE(summary, ''), memory_type, status,
	relevance_score, tags, access_count, last_accessed,
	COALESCE(owner_id, ''), COALESCE(topic_id::text, ''),
	COALESCE(project_id, ''), created_at`

// SearchByEmbedding returns active entries with similarity strictly
// above the threshold, ordered by similarity then recency. The limit
// applies after ordering.
func (s *PGStore) SearchByEmbedding(ctx context.Context, embedding []float32, limit int, threshold float64, f Filters) ([]Match, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	var sb strings.Builder
	sb.WriteString(`SELECT` + matchColumns + `,
		1 - (embedding <=> $1::vector) AS similarity
		FROM memories
		WHERE status = 'active' AND embedding IS NOT NULL
		AND 1 - (embedding <=> $1::vector) > $2`)

	args := []any{vectorLiteral(embedding), threshold}
	if f.TopicID != "" {
		args = append(args, f.TopicID)
		fmt.Fprintf(&sb, " AND topic_id = $%d", len(args))
	}
	if f.ProjectID != "" {
		args = append(args, f.ProjectID)
		fmt.Fprintf(&sb, " AND project_id = $%d", len(args))
	}
	if f.Type != "" {
		args = append(args, string(f.Type))
		fmt.Fprintf(&sb, " AND memory_type = $%d", len(args))
	}
	args = append(args, limit)
	fmt.Fprintf(&sb, " ORDER BY similarity DESC, created_at DESC LIMIT $%d", len(args))

	rows, err := s.db.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := scanMatch(rows, &m); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func scanMatch(rows pgx.Rows, m *Match) error {
	return rows.Scan(
		&m.ID, &m.Title, &m.Content, &m.Summary, &m.Type, &m.Status,
		&m.RelevanceScore, &m.Tags, &m.AccessCount, &m.LastAccessed,
		&m.OwnerID, &m.TopicID, &m.ProjectID, &m.CreatedAt,
		&m.Similarity,
	)
}

// FetchByIDs loads entries by id, embeddings included, in no
// particular order. Missing ids are skipped.
func (s *PGStore) FetchByIDs(ctx context.Context, ids []string) ([]Entry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT`+matchColumns+`, embedding::text
		FROM memories WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch memories: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var vec *string
		if err := rows.Scan(
			&e.ID, &e.Title, &e.Content, &e.Summary, &e.Type, &e.Status,
			&e.RelevanceScore, &e.Tags, &e.AccessCount, &e.LastAccessed,
			&e.OwnerID, &e.TopicID, &e.ProjectID, &e.CreatedAt, &vec,
		); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		if vec != nil {
			e.Embedding = parseVector(*vec)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Insert stores a new entry and returns its id.
func (s *PGStore) Insert(ctx context.Context, e *Entry) (string, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Status == "" {
		e.Status = StatusActive
	}
	if e.RelevanceScore == 0 {
		e.RelevanceScore = DefaultRelevanceScore
	}

	var topicID any
	if e.TopicID != "" {
		topicID = e.TopicID
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO memories
			(id, title, content, summary, embedding, memory_type, status,
			 relevance_score, tags, owner_id, topic_id, project_id)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5::vector, $6, $7,
			$8, $9, NULLIF($10, ''), $11, NULLIF($12, ''))`,
		e.ID, e.Title, e.Content, e.Summary, vectorLiteral(e.Embedding),
		string(e.Type), string(e.Status), e.RelevanceScore, e.Tags,
		e.OwnerID, topicID, e.ProjectID,
	)
	if err != nil {
		return "", fmt.Errorf("insert memory: %w", err)
	}
	return e.ID, nil
}

// Touch increments access_count and refreshes last_accessed.
func (s *PGStore) Touch(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE memories
		SET access_count = access_count + 1, last_accessed = now()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touch memory: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("touch memory %s: %w", id, ErrNotFound)
	}
	return nil
}

// SetStatus moves an entry between lifecycle states (soft delete,
// archive, restore).
func (s *PGStore) SetStatus(ctx context.Context, id string, status Status) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE memories SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("set memory status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set status on %s: %w", id, ErrNotFound)
	}
	return nil
}

// Cleanup hard-deletes soft-deleted entries older than the cutoff and
// returns how many were removed. This is the only hard-delete path.
func (s *PGStore) Cleanup(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM memories
		WHERE status = 'deleted' AND created_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("cleanup memories: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		s.logger.Info("memory cleanup", zap.Int64("removed", n))
		return n, nil
	}
	return 0, nil
}

// GetOrCreateTopic returns the topic with the given name, creating it
// if absent. Lookup by name is idempotent.
func (s *PGStore) GetOrCreateTopic(ctx context.Context, name string) (Topic, error) {
	var t Topic
	var parent *string
	err := s.db.QueryRow(ctx, `
		INSERT INTO topics (id, name) VALUES (gen_random_uuid(), $1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name, parent_id::text, COALESCE(color, ''),
			COALESCE(icon, ''), is_system`,
		name,
	).Scan(&t.ID, &t.Name, &parent, &t.Color, &t.Icon, &t.IsSystem)
	if err != nil {
		return Topic{}, fmt.Errorf("get or create topic: %w", err)
	}
	if parent != nil {
		t.ParentID = *parent
	}
	return t, nil
}

// ListTopics returns all topics ordered by name.
func (s *PGStore) ListTopics(ctx context.Context) ([]Topic, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, parent_id::text, COALESCE(color, ''),
			COALESCE(icon, ''), is_system
		FROM topics ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	defer rows.Close()

	var topics []Topic
	for rows.Next() {
		var t Topic
		var parent *string
		if err := rows.Scan(&t.ID, &t.Name, &parent, &t.Color, &t.Icon, &t.IsSystem); err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		if parent != nil {
			t.ParentID = *parent
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

// SetTopicParent reparents a topic, rejecting assignments that would
// close a cycle. The check walks the would-be ancestor chain.
func (s *PGStore) SetTopicParent(ctx context.Context, topicID, parentID string) error {
	if topicID == parentID {
		return ErrTopicCycle
	}

	// Track visited ids so a cycle already present in the table
	// terminates the walk instead of looping.
	seen := map[string]bool{topicID: true}
	current := parentID
	for current != "" {
		if seen[current] {
			return ErrTopicCycle
		}
		seen[current] = true
		var next *string
		err := s.db.QueryRow(ctx,
			`SELECT parent_id::text FROM topics WHERE id = $1`, current).Scan(&next)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("topic %s: %w", current, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("walk topic ancestry: %w", err)
		}
		if next == nil {
			break
		}
		current = *next
	}

	_, err := s.db.Exec(ctx,
		`UPDATE topics SET parent_id = $2 WHERE id = $1`, topicID, parentID)
	if err != nil {
		return fmt.Errorf("set topic parent: %w", err)
	}
	return nil
}

// parseVector reads a pgvector text literal back into a slice.
func parseVector(s string) []float32 {
	s = strings.Trim(s, "[]")
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]float32, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil
		}
		out = append(out, float32(f))
	}
	return out
}

// vectorLiteral renders an embedding as a pgvector input literal.
func vectorLiteral(v []float32) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(x), 'f', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}
