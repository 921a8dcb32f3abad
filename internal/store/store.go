// internal/store/store.go
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ludoroyale/server/internal/models"
)

var (
	// ErrNotFound means no session exists for the given id or room code.
	ErrNotFound = errors.New("session not found")

	// ErrVersionConflict means a Save lost an optimistic-concurrency race;
	// callers should re-load, re-check, and retry.
	ErrVersionConflict = errors.New("session version conflict")
)

// SessionStore abstracts persisted session records. Implementations must
// provide optimistic saves: a Save with a stale Version is refused, never
// silently applied.
type SessionStore interface {
	Load(ctx context.Context, id uuid.UUID) (*models.Session, error)
	LoadByCode(ctx context.Context, roomCode string) (*models.Session, error)
	Save(ctx context.Context, s *models.Session) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindWaitingByVariant(ctx context.Context, variant models.Variant, gameTypeID string) ([]*models.Session, error)
	FindByStatus(ctx context.Context, status models.SessionStatus) ([]*models.Session, error)
	// ActiveSessionFor returns the non-terminal session the user is seated
	// in, or ErrNotFound.
	ActiveSessionFor(ctx context.Context, userID uuid.UUID) (*models.Session, error)
}

// MemoryStore is a mutex-guarded in-memory SessionStore with versioned
// compare-and-swap saves. It hands out deep copies, never its internal
// records.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*models.Session
	byCode   map[string]uuid.UUID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[uuid.UUID]*models.Session),
		byCode:   make(map[string]uuid.UUID),
	}
}

func (m *MemoryStore) Load(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) LoadByCode(ctx context.Context, roomCode string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byCode[roomCode]
	if !ok {
		return nil, ErrNotFound
	}
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

// Save applies a compare-and-swap on Session.Version: the incoming version
// must match the stored one. On success the stored version is bumped and
// the caller's copy updated to match.
func (m *MemoryStore) Save(ctx context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, exists := m.sessions[s.ID]
	if exists && cur.Version != s.Version {
		return ErrVersionConflict
	}
	cp := s.Clone()
	cp.Version++
	m.sessions[s.ID] = cp
	m.byCode[cp.RoomCode] = cp.ID
	s.Version = cp.Version
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.byCode, s.RoomCode)
	delete(m.sessions, id)
	return nil
}

func (m *MemoryStore) FindWaitingByVariant(ctx context.Context, variant models.Variant, gameTypeID string) ([]*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Session
	for _, s := range m.sessions {
		if s.Status != models.StatusWaiting || s.Config.Variant != variant {
			continue
		}
		if gameTypeID != "" && s.Config.GameTypeID != gameTypeID {
			continue
		}
		out = append(out, s.Clone())
	}
	sortByCreation(out)
	return out, nil
}

func (m *MemoryStore) FindByStatus(ctx context.Context, status models.SessionStatus) ([]*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Session
	for _, s := range m.sessions {
		if s.Status == status {
			out = append(out, s.Clone())
		}
	}
	sortByCreation(out)
	return out, nil
}

func (m *MemoryStore) ActiveSessionFor(ctx context.Context, userID uuid.UUID) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.Status == models.StatusCompleted {
			continue
		}
		if s.Slot(userID) != nil {
			return s.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func sortByCreation(sessions []*models.Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID.String() < sessions[j].ID.String()
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
}

// Touch is a test helper that backdates a session's CreatedAt.
func (m *MemoryStore) Touch(id uuid.UUID, createdAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.CreatedAt = createdAt
	}
}
