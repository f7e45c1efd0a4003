package effectiveness

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/inward-app/inward/internal/profile"
	"github.com/inward-app/inward/internal/storage"
)

// --- Mocks ---

type mockJobStore struct {
	mu sync.Mutex

	jobs      []*storage.Job
	totals    map[string][]storage.EffectivenessTotals
	userIDs   []string
	completed []string
	failed    map[string]string

	claimErr  error
	totalsErr error
}

func newMockJobStore() *mockJobStore {
	return &mockJobStore{
		totals: make(map[string][]storage.EffectivenessTotals),
		failed: make(map[string]string),
	}
}

func (m *mockJobStore) ClaimNextJob(types []string) (*storage.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimErr != nil {
		return nil, m.claimErr
	}
	if len(m.jobs) == 0 {
		return nil, nil
	}
	job := m.jobs[0]
	m.jobs = m.jobs[1:]
	return job, nil
}

func (m *mockJobStore) CompleteJob(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, id)
	return nil
}

func (m *mockJobStore) FailJob(id string, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed[id] = errMsg
	return nil
}

func (m *mockJobStore) EffectivenessByType(userID string) ([]storage.EffectivenessTotals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.totalsErr != nil {
		return nil, m.totalsErr
	}
	return m.totals[userID], nil
}

func (m *mockJobStore) ListProfileUserIDs() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userIDs, nil
}

type mockMutator struct {
	mu       sync.Mutex
	profiles map[string]profile.LearningProfile
	err      error
}

func newMockMutator() *mockMutator {
	return &mockMutator{profiles: make(map[string]profile.LearningProfile)}
}

func (m *mockMutator) Mutate(userID string, fn func(current *profile.LearningProfile) (profile.LearningProfile, error)) (profile.LearningProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return profile.LearningProfile{}, m.err
	}
	var current *profile.LearningProfile
	if p, ok := m.profiles[userID]; ok {
		cp := p.Clone()
		current = &cp
	}
	updated, err := fn(current)
	if err != nil {
		return profile.LearningProfile{}, err
	}
	updated.UserID = userID
	m.profiles[userID] = updated
	return updated, nil
}

// --- Tests ---

func TestRecompute_DerivesRates(t *testing.T) {
	store := newMockJobStore()
	store.totals["u1"] = []storage.EffectivenessTotals{
		{InterventionType: "breathwork", Total: 4, Successful: 3},
		{InterventionType: "journaling", Total: 2, Successful: 0},
	}
	profiles := newMockMutator()
	existing := profile.NewLearningProfile("u1")
	existing.TotalInteractions = 6
	existing.SuccessfulInterventions = 3
	existing.ProtocolSuccessRates = map[string]float64{"stale": 0.9}
	profiles.profiles["u1"] = existing

	w := NewWorker(store, profiles, 0)
	if err := w.Recompute("u1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := profiles.profiles["u1"]
	if got.ProtocolSuccessRates["breathwork"] != 0.75 {
		t.Errorf("breathwork rate = %v, want 0.75", got.ProtocolSuccessRates["breathwork"])
	}
	if got.ProtocolSuccessRates["journaling"] != 0 {
		t.Errorf("journaling rate = %v, want 0", got.ProtocolSuccessRates["journaling"])
	}
	if _, ok := got.ProtocolSuccessRates["stale"]; ok {
		t.Error("stale rate survived the recompute")
	}
	// Counters belong to the feedback path, not the rollup.
	if got.TotalInteractions != 6 || got.SuccessfulInterventions != 3 {
		t.Errorf("counters = %d/%d, want 3/6", got.SuccessfulInterventions, got.TotalInteractions)
	}
}

func TestRecompute_NoRecordsCreatesEmptyRates(t *testing.T) {
	store := newMockJobStore()
	profiles := newMockMutator()

	w := NewWorker(store, profiles, 0)
	if err := w.Recompute("u1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, ok := profiles.profiles["u1"]
	if !ok {
		t.Fatal("no profile written")
	}
	if len(got.ProtocolSuccessRates) != 0 {
		t.Errorf("rates = %v, want empty", got.ProtocolSuccessRates)
	}
}

func TestRunOnce_NoJobs(t *testing.T) {
	w := NewWorker(newMockJobStore(), newMockMutator(), 0)

	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if done {
		t.Error("RunOnce reported work with an empty queue")
	}
}

func TestRunOnce_ProcessesRollup(t *testing.T) {
	store := newMockJobStore()
	store.jobs = []*storage.Job{{ID: "j1", Type: JobTypeRollup, PayloadJSON: `{"user_id":"u1"}`}}
	store.totals["u1"] = []storage.EffectivenessTotals{{InterventionType: "breathwork", Total: 1, Successful: 1}}
	profiles := newMockMutator()

	w := NewWorker(store, profiles, 0)
	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !done {
		t.Fatal("expected a processed job")
	}

	if len(store.completed) != 1 || store.completed[0] != "j1" {
		t.Errorf("completed = %v, want [j1]", store.completed)
	}
	if profiles.profiles["u1"].ProtocolSuccessRates["breathwork"] != 1.0 {
		t.Errorf("rates = %v", profiles.profiles["u1"].ProtocolSuccessRates)
	}
}

func TestRunOnce_MalformedPayloadFailsJob(t *testing.T) {
	store := newMockJobStore()
	store.jobs = []*storage.Job{{ID: "j1", Type: JobTypeRollup, PayloadJSON: `not json`}}

	w := NewWorker(store, newMockMutator(), 0)
	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !done {
		t.Fatal("expected the job to be consumed")
	}
	if _, ok := store.failed["j1"]; !ok {
		t.Errorf("failed jobs = %v, want j1 marked failed", store.failed)
	}
	if len(store.completed) != 0 {
		t.Errorf("completed = %v, want none", store.completed)
	}
}

func TestRunOnce_MissingUserIDFailsJob(t *testing.T) {
	store := newMockJobStore()
	store.jobs = []*storage.Job{{ID: "j1", Type: JobTypeRollup, PayloadJSON: `{}`}}

	w := NewWorker(store, newMockMutator(), 0)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := store.failed["j1"]; !ok {
		t.Errorf("failed jobs = %v, want j1 marked failed", store.failed)
	}
}

func TestRunOnce_ClaimError(t *testing.T) {
	store := newMockJobStore()
	store.claimErr = errors.New("db locked")

	w := NewWorker(store, newMockMutator(), 0)
	if _, err := w.RunOnce(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestRecomputeAll(t *testing.T) {
	store := newMockJobStore()
	store.userIDs = []string{"u1", "u2", "u3"}
	for _, id := range store.userIDs {
		store.totals[id] = []storage.EffectivenessTotals{{InterventionType: "breathwork", Total: 2, Successful: 1}}
	}
	profiles := newMockMutator()

	w := NewWorker(store, profiles, 0)
	if err := w.RecomputeAll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, id := range store.userIDs {
		p, ok := profiles.profiles[id]
		if !ok {
			t.Errorf("no profile written for %s", id)
			continue
		}
		if p.ProtocolSuccessRates["breathwork"] != 0.5 {
			t.Errorf("%s rate = %v, want 0.5", id, p.ProtocolSuccessRates["breathwork"])
		}
	}
}

func TestRecomputeAll_PropagatesError(t *testing.T) {
	store := newMockJobStore()
	store.userIDs = []string{"u1"}
	store.totalsErr = errors.New("db gone")

	w := NewWorker(store, newMockMutator(), 0)
	if err := w.RecomputeAll(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
