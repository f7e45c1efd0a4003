package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for learning profiles, the
// coaching catalog, effectiveness records, and background jobs.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "inward.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Learning Profiles ---

// GetLearningProfile returns the stored profile for userID, or ErrNotFound
// if no feedback has ever been recorded for that user.
func (s *Store) GetLearningProfile(userID string) (LearningProfileRow, error) {
	var p LearningProfileRow
	var updatedAt string
	err := s.db.QueryRow(`
		SELECT user_id, effective_intervention_types, protocol_success_rates,
		       total_interactions, successful_interventions, learning_confidence, updated_at
		FROM learning_profiles WHERE user_id = ?`, userID,
	).Scan(&p.UserID, &p.EffectiveInterventionTypes, &p.ProtocolSuccessRates,
		&p.TotalInteractions, &p.SuccessfulInterventions, &p.LearningConfidence, &updatedAt)
	if err == sql.ErrNoRows {
		return LearningProfileRow{}, ErrNotFound
	}
	if err != nil {
		return LearningProfileRow{}, err
	}
	t, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return LearningProfileRow{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	p.UpdatedAt = t
	return p, nil
}

// UpsertLearningProfile writes the full profile row for its user in one
// statement. Callers are responsible for serializing writes per user.
func (s *Store) UpsertLearningProfile(p LearningProfileRow) error {
	_, err := s.db.Exec(`
		INSERT INTO learning_profiles
			(user_id, effective_intervention_types, protocol_success_rates,
			 total_interactions, successful_interventions, learning_confidence, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			effective_intervention_types = excluded.effective_intervention_types,
			protocol_success_rates = excluded.protocol_success_rates,
			total_interactions = excluded.total_interactions,
			successful_interventions = excluded.successful_interventions,
			learning_confidence = excluded.learning_confidence,
			updated_at = excluded.updated_at`,
		p.UserID, p.EffectiveInterventionTypes, p.ProtocolSuccessRates,
		p.TotalInteractions, p.SuccessfulInterventions, p.LearningConfidence,
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// ListProfileUserIDs returns every user id with a stored profile.
func (s *Store) ListProfileUserIDs() ([]string, error) {
	rows, err := s.db.Query("SELECT user_id FROM learning_profiles ORDER BY user_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Coaching Effectiveness ---

func (s *Store) AppendEffectiveness(rec EffectivenessRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO coaching_effectiveness (id, user_id, intervention_type, satisfaction, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.InterventionType, rec.Satisfaction, rec.Notes,
		rec.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) RecentEffectiveness(userID string, limit int) ([]EffectivenessRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, intervention_type, satisfaction, notes, created_at
		FROM coaching_effectiveness WHERE user_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []EffectivenessRecord
	for rows.Next() {
		var r EffectivenessRecord
		var createdAt string
		if err := rows.Scan(&r.ID, &r.UserID, &r.InterventionType, &r.Satisfaction, &r.Notes, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		r.CreatedAt = t
		results = append(results, r)
	}
	return results, rows.Err()
}

// EffectivenessByType aggregates one user's outcomes per intervention type.
// A satisfaction of 4 or 5 counts as successful.
func (s *Store) EffectivenessByType(userID string) ([]EffectivenessTotals, error) {
	rows, err := s.db.Query(`
		SELECT intervention_type,
		       COUNT(*),
		       COALESCE(SUM(CASE WHEN satisfaction >= 4 THEN 1 ELSE 0 END), 0)
		FROM coaching_effectiveness WHERE user_id = ?
		GROUP BY intervention_type ORDER BY intervention_type`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []EffectivenessTotals
	for rows.Next() {
		var t EffectivenessTotals
		if err := rows.Scan(&t.InterventionType, &t.Total, &t.Successful); err != nil {
			return nil, err
		}
		results = append(results, t)
	}
	return results, rows.Err()
}

// --- Protocol Catalog ---

func (s *Store) UpsertProtocol(p ProtocolRow) error {
	_, err := s.db.Exec(`
		INSERT INTO protocols (name, category, conditions, emotions, mood_indicators, position, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			category = excluded.category,
			conditions = excluded.conditions,
			emotions = excluded.emotions,
			mood_indicators = excluded.mood_indicators,
			position = excluded.position,
			updated_at = excluded.updated_at`,
		p.Name, p.Category, p.Conditions, p.Emotions, p.MoodIndicators, p.Position,
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// ListProtocols returns the catalog in stable catalog order (position, then name).
func (s *Store) ListProtocols() ([]ProtocolRow, error) {
	rows, err := s.db.Query(`
		SELECT name, category, conditions, emotions, mood_indicators, position, updated_at
		FROM protocols ORDER BY position ASC, name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ProtocolRow
	for rows.Next() {
		var p ProtocolRow
		var updatedAt string
		if err := rows.Scan(&p.Name, &p.Category, &p.Conditions, &p.Emotions, &p.MoodIndicators, &p.Position, &updatedAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, updatedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		p.UpdatedAt = t
		results = append(results, p)
	}
	return results, rows.Err()
}

// --- Adaptive Rules ---

func (s *Store) UpsertAdaptiveRule(r AdaptiveRuleRow) error {
	_, err := s.db.Exec(`
		INSERT INTO adaptive_rules
			(name, priority, stress_indicators, habit_completion,
			 adj_protocol_preference, adj_tone, adj_pacing, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			priority = excluded.priority,
			stress_indicators = excluded.stress_indicators,
			habit_completion = excluded.habit_completion,
			adj_protocol_preference = excluded.adj_protocol_preference,
			adj_tone = excluded.adj_tone,
			adj_pacing = excluded.adj_pacing,
			updated_at = excluded.updated_at`,
		r.Name, r.Priority, r.StressIndicators, r.HabitCompletion,
		r.AdjProtocolPreference, r.AdjTone, r.AdjPacing,
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// ListAdaptiveRules returns rules ordered by priority ascending, name ascending.
func (s *Store) ListAdaptiveRules() ([]AdaptiveRuleRow, error) {
	rows, err := s.db.Query(`
		SELECT name, priority, stress_indicators, habit_completion,
		       adj_protocol_preference, adj_tone, adj_pacing, updated_at
		FROM adaptive_rules ORDER BY priority ASC, name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []AdaptiveRuleRow
	for rows.Next() {
		var r AdaptiveRuleRow
		var updatedAt string
		if err := rows.Scan(&r.Name, &r.Priority, &r.StressIndicators, &r.HabitCompletion,
			&r.AdjProtocolPreference, &r.AdjTone, &r.AdjPacing, &updatedAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, updatedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		r.UpdatedAt = t
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- Jobs ---

func (s *Store) EnqueueJob(job Job) error {
	now := time.Now().UTC().Format(time.RFC3339)
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = job.RunAfter.UTC().Format(time.RFC3339)
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.PayloadJSON, maxAttempts, runAfter, now, now,
	)
	return err
}

// EnqueueJobUnique enqueues a job unless an identical pending job (same type
// and payload) already exists. Used to coalesce per-user rollups so a burst
// of feedback events schedules a single recompute.
func (s *Store) EnqueueJobUnique(job Job) error {
	var pending int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM jobs WHERE status = 'pending' AND type = ? AND payload_json = ?`,
		job.Type, job.PayloadJSON,
	).Scan(&pending)
	if err != nil {
		return fmt.Errorf("checking pending jobs: %w", err)
	}
	if pending > 0 {
		return nil
	}
	return s.EnqueueJob(job)
}

func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	placeholders := strings.Repeat(",?", len(types)-1)
	query := `SELECT id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error
		FROM jobs
		WHERE status = 'pending' AND run_after <= ? AND type IN (?` + placeholders + `)
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`

	args := make([]interface{}, 0, len(types)+1)
	args = append(args, now)
	for _, t := range types {
		args = append(args, t)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err = tx.QueryRow(query, args...).Scan(
		&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError,
	)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.Exec(`UPDATE jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, now, j.ID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = "running"
	j.LastError = lastError.String
	if j.RunAfter, err = time.Parse(time.RFC3339, runAfter); err != nil {
		return nil, fmt.Errorf("parsing run_after for job %s: %w", j.ID, err)
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339, now); err != nil {
		return nil, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return &j, nil
}

func (s *Store) CompleteJob(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE jobs SET status = 'completed', updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) FailJob(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++

	if attempts >= maxAttempts {
		_, err = tx.Exec(`UPDATE jobs SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, now.Format(time.RFC3339), id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		runAfter := now.Add(backoff)
		_, err = tx.Exec(`UPDATE jobs SET status = 'pending', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, runAfter.Format(time.RFC3339), now.Format(time.RFC3339), id)
	}

	if err != nil {
		return err
	}

	return tx.Commit()
}
