package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// mirrorTTL bounds how long a remote session copy outlives its last
// write.
const mirrorTTL = 7 * 24 * time.Hour

// Local is the durable local-first session storage.
type Local interface {
	SaveSession(id string, payload []byte) error
	LoadSession(id string) ([]byte, error)
	DeleteSession(id string) error
}

// Manager persists and restores sessions: local SQLite first, with an
// optional Redis mirror for remote visibility.
type Manager struct {
	local  Local
	mirror *redis.Client
	logger *zap.Logger
}

// NewManager creates a manager. mirror may be nil.
func NewManager(local Local, mirror *redis.Client, logger *zap.Logger) *Manager {
	return &Manager{local: local, mirror: mirror, logger: logger}
}

func mirrorKey(id string) string { return "banter:session:" + id }

// Persist writes the session snapshot locally, then mirrors it. A
// mirror failure is logged, not surfaced: the local copy is the source
// of truth.
func (m *Manager) Persist(ctx context.Context, s *Session) error {
	rec := s.snapshot()
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := m.local.SaveSession(rec.ConversationID, payload); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	if m.mirror != nil {
		if err := m.mirror.Set(ctx, mirrorKey(rec.ConversationID), payload, mirrorTTL).Err(); err != nil {
			m.logger.Warn("session mirror failed",
				zap.String("session", rec.ConversationID), zap.Error(err))
		}
	}
	return nil
}

// Restore loads a session by id. Returns nil for an absent session and
// nil for a corrupt payload: a bad snapshot must never crash restore.
func (m *Manager) Restore(ctx context.Context, id string) *Session {
	payload, err := m.local.LoadSession(id)
	if err != nil {
		m.logger.Warn("session load failed", zap.String("session", id), zap.Error(err))
		return nil
	}
	if payload == nil && m.mirror != nil {
		data, err := m.mirror.Get(ctx, mirrorKey(id)).Bytes()
		if err == nil {
			payload = data
		}
	}
	if payload == nil {
		return nil
	}

	var rec record
	if err := json.Unmarshal(payload, &rec); err != nil || rec.ConversationID == "" {
		m.logger.Warn("corrupt session payload, starting fresh", zap.String("session", id))
		return nil
	}
	return fromRecord(rec)
}

// Clear discards the session's state and durable copies, and issues a
// fresh identity. Restoring the old id afterwards yields nothing.
func (m *Manager) Clear(ctx context.Context, s *Session) error {
	old := s.reset()
	if err := m.local.DeleteSession(old); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	if m.mirror != nil {
		if err := m.mirror.Del(ctx, mirrorKey(old)).Err(); err != nil {
			m.logger.Warn("session mirror delete failed",
				zap.String("session", old), zap.Error(err))
		}
	}
	return nil
}
