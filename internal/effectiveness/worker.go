package effectiveness

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/inward-app/inward/internal/profile"
	"github.com/inward-app/inward/internal/storage"
)

const recomputeConcurrency = 4

// JobStore abstracts the job queue and aggregate queries the worker needs.
// Implemented by storage.Store.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	EffectivenessByType(userID string) ([]storage.EffectivenessTotals, error)
	ListProfileUserIDs() ([]string, error)
}

// ProfileMutator applies a serialized read-modify-write to one user's profile.
// Implemented by profile.Manager.
type ProfileMutator interface {
	Mutate(userID string, fn func(current *profile.LearningProfile) (profile.LearningProfile, error)) (profile.LearningProfile, error)
}

// Worker processes effectiveness_rollup jobs: it recomputes a user's
// per-category success rates from the coaching-effectiveness log and writes
// them back into the learning profile. This is the sole producer of
// protocol_success_rates; the scorer only ever reads them through the
// profile it is handed.
type Worker struct {
	store    JobStore
	profiles ProfileMutator
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, profiles ProfileMutator, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:    store,
		profiles: profiles,
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single rollup job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobTypeRollup})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(job); err != nil {
		w.logger.Warn("rollup job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(job *storage.Job) error {
	var payload rollupPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if payload.UserID == "" {
		return fmt.Errorf("rollup payload without user_id")
	}
	return w.Recompute(payload.UserID)
}

// Recompute rebuilds one user's protocol_success_rates from the log and
// persists them. Counters and confidence are left untouched.
func (w *Worker) Recompute(userID string) error {
	totals, err := w.store.EffectivenessByType(userID)
	if err != nil {
		return fmt.Errorf("aggregating effectiveness for %s: %w", userID, err)
	}

	rates := make(map[string]float64, len(totals))
	for _, t := range totals {
		if t.Total == 0 {
			continue
		}
		rates[t.InterventionType] = float64(t.Successful) / float64(t.Total)
	}

	_, err = w.profiles.Mutate(userID, func(current *profile.LearningProfile) (profile.LearningProfile, error) {
		var p profile.LearningProfile
		if current == nil {
			p = profile.NewLearningProfile(userID)
		} else {
			p = current.Clone()
		}
		p.ProtocolSuccessRates = rates
		return p, nil
	})
	if err != nil {
		return fmt.Errorf("writing success rates for %s: %w", userID, err)
	}

	w.logger.Debug("recomputed success rates", "user", userID, "categories", len(rates))
	return nil
}

// RecomputeAll rebuilds success rates for every stored profile, a bounded
// number of users at a time. Used at server startup to repair rates after
// missed rollups.
func (w *Worker) RecomputeAll(ctx context.Context) error {
	userIDs, err := w.store.ListProfileUserIDs()
	if err != nil {
		return fmt.Errorf("listing profile users: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(recomputeConcurrency)
	for _, id := range userIDs {
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return w.Recompute(id)
		})
	}
	return g.Wait()
}
