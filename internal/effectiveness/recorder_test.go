package effectiveness

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/inward-app/inward/internal/storage"
)

type mockRecordStore struct {
	records   []storage.EffectivenessRecord
	jobs      []storage.Job
	appendErr error
	queueErr  error
}

func (m *mockRecordStore) AppendEffectiveness(rec storage.EffectivenessRecord) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *mockRecordStore) EnqueueJobUnique(job storage.Job) error {
	if m.queueErr != nil {
		return m.queueErr
	}
	m.jobs = append(m.jobs, job)
	return nil
}

func TestRecord(t *testing.T) {
	store := &mockRecordStore{}
	rec := NewRecorder(store)

	if err := rec.Record("u1", "breathwork", 5, "it helped"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(store.records) != 1 {
		t.Fatalf("got %d records, want 1", len(store.records))
	}
	got := store.records[0]
	if got.ID == "" {
		t.Error("record ID not set")
	}
	if got.UserID != "u1" || got.InterventionType != "breathwork" || got.Satisfaction != 5 || got.Notes != "it helped" {
		t.Errorf("record = %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
	if got.CreatedAt.Location() != time.UTC {
		t.Errorf("CreatedAt location = %v, want UTC", got.CreatedAt.Location())
	}
}

func TestRecord_StoreError(t *testing.T) {
	store := &mockRecordStore{appendErr: errors.New("disk full")}
	rec := NewRecorder(store)

	if err := rec.Record("u1", "breathwork", 5, ""); err == nil {
		t.Fatal("expected error")
	}
}

func TestScheduleRollup(t *testing.T) {
	store := &mockRecordStore{}
	rec := NewRecorder(store)

	if err := rec.ScheduleRollup("u1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(store.jobs) != 1 {
		t.Fatalf("got %d jobs, want 1", len(store.jobs))
	}
	job := store.jobs[0]
	if job.Type != JobTypeRollup {
		t.Errorf("job type = %q, want %q", job.Type, JobTypeRollup)
	}
	if job.ID == "" {
		t.Error("job ID not set")
	}

	var payload rollupPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		t.Fatalf("payload parse error: %v", err)
	}
	if payload.UserID != "u1" {
		t.Errorf("payload user = %q, want u1", payload.UserID)
	}
}

func TestScheduleRollup_DeterministicPayload(t *testing.T) {
	store := &mockRecordStore{}
	rec := NewRecorder(store)

	// The queue coalesces on (type, payload), so two rollups for the same
	// user must produce byte-identical payloads.
	if err := rec.ScheduleRollup("u1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := rec.ScheduleRollup("u1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.jobs[0].PayloadJSON != store.jobs[1].PayloadJSON {
		t.Errorf("payloads differ: %q vs %q", store.jobs[0].PayloadJSON, store.jobs[1].PayloadJSON)
	}
}
