package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/inward-app/inward/internal/storage"
)

// ErrNotFound is returned by Get when a user has no stored profile yet.
var ErrNotFound = errors.New("profile not found")

// ProfileStore defines the storage operations the Manager needs.
// Implemented by storage.Store.
type ProfileStore interface {
	GetLearningProfile(userID string) (storage.LearningProfileRow, error)
	UpsertLearningProfile(storage.LearningProfileRow) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type cacheEntry struct {
	profile  LearningProfile
	cachedAt time.Time
}

// Manager provides cached, single-writer-per-user access to learning
// profiles. Reads serve from a short-lived per-user cache; every write goes
// through Mutate, which serializes read-modify-write per user so concurrent
// feedback events cannot lose counter increments.
type Manager struct {
	store ProfileStore
	clock Clock
	ttl   time.Duration

	mu     sync.RWMutex
	cached map[string]cacheEntry

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewManager creates a Manager with a 30-second cache TTL.
func NewManager(store ProfileStore) *Manager {
	return NewManagerWithClock(store, realClock{}, 30*time.Second)
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store ProfileStore, clock Clock, ttl time.Duration) *Manager {
	return &Manager{
		store:  store,
		clock:  clock,
		ttl:    ttl,
		cached: make(map[string]cacheEntry),
		locks:  make(map[string]*sync.Mutex),
	}
}

// Get returns the user's profile, or ErrNotFound if none exists yet.
// The returned profile is a copy; mutating it does not affect the cache.
func (m *Manager) Get(userID string) (LearningProfile, error) {
	m.mu.RLock()
	if e, ok := m.cached[userID]; ok && m.clock.Now().Before(e.cachedAt.Add(m.ttl)) {
		p := e.profile.Clone()
		m.mu.RUnlock()
		return p, nil
	}
	m.mu.RUnlock()

	row, err := m.store.GetLearningProfile(userID)
	if errors.Is(err, storage.ErrNotFound) {
		return LearningProfile{}, ErrNotFound
	}
	if err != nil {
		return LearningProfile{}, fmt.Errorf("loading profile for %s: %w", userID, err)
	}

	p, err := fromRow(row)
	if err != nil {
		return LearningProfile{}, err
	}

	m.mu.Lock()
	m.cached[userID] = cacheEntry{profile: p.Clone(), cachedAt: m.clock.Now()}
	m.mu.Unlock()
	return p, nil
}

// Mutate runs fn over the user's current profile (nil if none exists) under
// that user's write lock and persists the result as a single upsert. The
// cache entry is refreshed on success and untouched on a failed write, so a
// failed persist never fabricates an update.
func (m *Manager) Mutate(userID string, fn func(current *LearningProfile) (LearningProfile, error)) (LearningProfile, error) {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	var current *LearningProfile
	row, err := m.store.GetLearningProfile(userID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		// Lazy creation: fn sees nil and starts from defaults.
	case err != nil:
		return LearningProfile{}, fmt.Errorf("loading profile for %s: %w", userID, err)
	default:
		p, convErr := fromRow(row)
		if convErr != nil {
			return LearningProfile{}, convErr
		}
		current = &p
	}

	updated, err := fn(current)
	if err != nil {
		return LearningProfile{}, err
	}
	updated.UserID = userID

	if err := m.store.UpsertLearningProfile(toRow(updated)); err != nil {
		return LearningProfile{}, fmt.Errorf("persisting profile for %s: %w", userID, err)
	}

	m.mu.Lock()
	m.cached[userID] = cacheEntry{profile: updated.Clone(), cachedAt: m.clock.Now()}
	m.mu.Unlock()
	return updated, nil
}

// Invalidate drops the cache entry for userID.
func (m *Manager) Invalidate(userID string) {
	m.mu.Lock()
	delete(m.cached, userID)
	m.mu.Unlock()
}

// userLock returns the mutex serializing writes for one user. Locks are
// never evicted; the map is bounded by the number of active users.
func (m *Manager) userLock(userID string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[userID] = l
	}
	return l
}

func toRow(p LearningProfile) storage.LearningProfileRow {
	types, err := json.Marshal(p.EffectiveInterventionTypes)
	if err != nil {
		types = []byte("[]")
	}
	rates, err := json.Marshal(p.ProtocolSuccessRates)
	if err != nil {
		rates = []byte("{}")
	}
	return storage.LearningProfileRow{
		UserID:                     p.UserID,
		EffectiveInterventionTypes: string(types),
		ProtocolSuccessRates:       string(rates),
		TotalInteractions:          p.TotalInteractions,
		SuccessfulInterventions:    p.SuccessfulInterventions,
		LearningConfidence:         p.LearningConfidence,
	}
}

func fromRow(row storage.LearningProfileRow) (LearningProfile, error) {
	p := NewLearningProfile(row.UserID)
	p.TotalInteractions = row.TotalInteractions
	p.SuccessfulInterventions = row.SuccessfulInterventions
	p.LearningConfidence = row.LearningConfidence

	// Malformed collections degrade to empty rather than failing the read.
	if row.EffectiveInterventionTypes != "" {
		if err := json.Unmarshal([]byte(row.EffectiveInterventionTypes), &p.EffectiveInterventionTypes); err != nil {
			slog.Warn("malformed effective_intervention_types, treating as empty", "user", row.UserID, "error", err)
			p.EffectiveInterventionTypes = []string{}
		}
	}
	if row.ProtocolSuccessRates != "" {
		if err := json.Unmarshal([]byte(row.ProtocolSuccessRates), &p.ProtocolSuccessRates); err != nil {
			slog.Warn("malformed protocol_success_rates, treating as empty", "user", row.UserID, "error", err)
			p.ProtocolSuccessRates = map[string]float64{}
		}
	}
	return p, nil
}
