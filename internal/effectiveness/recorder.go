package effectiveness

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/inward-app/inward/internal/storage"
)

// JobTypeRollup is the queue job type for per-user success-rate recomputes.
const JobTypeRollup = "effectiveness_rollup"

// RecordStore defines the storage operations the Recorder needs.
// Implemented by storage.Store.
type RecordStore interface {
	AppendEffectiveness(storage.EffectivenessRecord) error
	EnqueueJobUnique(storage.Job) error
}

// Recorder appends coaching-effectiveness records and schedules rollup jobs.
// The log is write-only from the engine's perspective; only the rollup
// worker reads it back.
type Recorder struct {
	store RecordStore
}

func NewRecorder(store RecordStore) *Recorder {
	return &Recorder{store: store}
}

// Record appends one effectiveness record.
func (r *Recorder) Record(userID, interventionType string, satisfaction int, notes string) error {
	rec := storage.EffectivenessRecord{
		ID:               uuid.New().String(),
		UserID:           userID,
		InterventionType: interventionType,
		Satisfaction:     satisfaction,
		Notes:            notes,
		CreatedAt:        time.Now().UTC(),
	}
	if err := r.store.AppendEffectiveness(rec); err != nil {
		return fmt.Errorf("appending effectiveness record: %w", err)
	}
	return nil
}

// ScheduleRollup enqueues a success-rate recompute for userID. Pending
// rollups for the same user are coalesced.
func (r *Recorder) ScheduleRollup(userID string) error {
	payload, err := json.Marshal(rollupPayload{UserID: userID})
	if err != nil {
		return fmt.Errorf("marshalling rollup payload: %w", err)
	}
	return r.store.EnqueueJobUnique(storage.Job{
		ID:          uuid.New().String(),
		Type:        JobTypeRollup,
		PayloadJSON: string(payload),
	})
}

type rollupPayload struct {
	UserID string `json:"user_id"`
}
