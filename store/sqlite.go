package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store on a single SQLite database file.
type SQLiteStore struct {
	db *sql.DB

	mu     sync.Mutex
	closed bool
}

// NewSQLiteStore opens (creating if necessary) the database at path and
// ensures the schema exists. Use ":memory:" for an ephemeral store.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, wrapError("init", fmt.Errorf("database path cannot be empty"))
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=10000")
	if err != nil {
		return nil, wrapError("init", fmt.Errorf("failed to open database: %w", err))
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	s := &SQLiteStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, wrapError("init", err)
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS causal_edges (
		id TEXT PRIMARY KEY,
		from_id INTEGER NOT NULL,
		from_type TEXT NOT NULL DEFAULT '',
		to_id INTEGER NOT NULL,
		to_type TEXT NOT NULL DEFAULT '',
		similarity REAL NOT NULL DEFAULT 0,
		uplift REAL,
		confidence REAL NOT NULL DEFAULT 0,
		sample_size INTEGER,
		evidence_ids TEXT NOT NULL DEFAULT '[]',
		confounder_score REAL,
		mechanism TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE(from_id, to_id)
	);
	CREATE INDEX IF NOT EXISTS idx_causal_edges_confidence ON causal_edges(confidence);

	CREATE TABLE IF NOT EXISTS causal_experiments (
		id TEXT PRIMARY KEY,
		hypothesis TEXT NOT NULL DEFAULT '',
		treatment_id INTEGER NOT NULL,
		control_id INTEGER,
		start_time DATETIME NOT NULL,
		end_time DATETIME,
		sample_size INTEGER NOT NULL DEFAULT 0,
		treatment_mean REAL NOT NULL DEFAULT 0,
		control_mean REAL NOT NULL DEFAULT 0,
		uplift REAL NOT NULL DEFAULT 0,
		p_value REAL NOT NULL DEFAULT 0,
		ci_low REAL NOT NULL DEFAULT 0,
		ci_high REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS causal_observations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		experiment_id TEXT NOT NULL,
		episode_id INTEGER NOT NULL,
		is_treatment INTEGER NOT NULL,
		outcome_value REAL NOT NULL,
		outcome_type TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_causal_observations_experiment ON causal_observations(experiment_id);

	CREATE TABLE IF NOT EXISTS causal_episodes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		from_id INTEGER NOT NULL,
		to_id INTEGER NOT NULL,
		context BLOB NOT NULL,
		treated INTEGER NOT NULL,
		outcome REAL NOT NULL,
		covariates TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_causal_episodes_pair ON causal_episodes(from_id, to_id);

	CREATE TABLE IF NOT EXISTS content (
		hash TEXT PRIMARY KEY,
		parent_hash TEXT NOT NULL DEFAULT '',
		data BLOB,
		created_at DATETIME NOT NULL
	);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

func (s *SQLiteStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// UpsertEdge inserts or overwrites the edge keyed by (FromID, ToID). The id
// of a previously stored pair is retained.
func (s *SQLiteStore) UpsertEdge(ctx context.Context, e *Edge) (string, error) {
	if s.isClosed() {
		return "", wrapError("upsert_edge", ErrClosed)
	}

	evidence, err := json.Marshal(e.EvidenceIDs)
	if err != nil {
		return "", wrapError("upsert_edge", err)
	}

	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO causal_edges
			(id, from_id, from_type, to_id, to_type, similarity, uplift, confidence,
			 sample_size, evidence_ids, confounder_score, mechanism, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(from_id, to_id) DO UPDATE SET
			from_type = excluded.from_type,
			to_type = excluded.to_type,
			similarity = excluded.similarity,
			uplift = excluded.uplift,
			confidence = excluded.confidence,
			sample_size = excluded.sample_size,
			evidence_ids = excluded.evidence_ids,
			confounder_score = excluded.confounder_score,
			mechanism = excluded.mechanism,
			updated_at = excluded.updated_at`,
		e.ID, e.FromID, e.FromType, e.ToID, e.ToType, e.Similarity, e.Uplift,
		e.Confidence, e.SampleSize, string(evidence), e.ConfounderScore,
		e.Mechanism, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return "", wrapError("upsert_edge", err)
	}

	var id string
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM causal_edges WHERE from_id = ? AND to_id = ?`,
		e.FromID, e.ToID).Scan(&id)
	if err != nil {
		return "", wrapError("upsert_edge", err)
	}
	e.ID = id
	return id, nil
}

const edgeColumns = `id, from_id, from_type, to_id, to_type, similarity, uplift,
	confidence, sample_size, evidence_ids, confounder_score, mechanism,
	created_at, updated_at`

func scanEdge(row interface{ Scan(...any) error }) (*Edge, error) {
	var (
		e        Edge
		evidence string
	)
	err := row.Scan(&e.ID, &e.FromID, &e.FromType, &e.ToID, &e.ToType,
		&e.Similarity, &e.Uplift, &e.Confidence, &e.SampleSize, &evidence,
		&e.ConfounderScore, &e.Mechanism, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(evidence), &e.EvidenceIDs); err != nil {
		return nil, err
	}
	return &e, nil
}

// GetEdge fetches one edge by id.
func (s *SQLiteStore) GetEdge(ctx context.Context, id string) (*Edge, error) {
	if s.isClosed() {
		return nil, wrapError("get_edge", ErrClosed)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+edgeColumns+` FROM causal_edges WHERE id = ?`, id)
	e, err := scanEdge(row)
	if err == sql.ErrNoRows {
		return nil, wrapError("get_edge", ErrNotFound)
	}
	if err != nil {
		return nil, wrapError("get_edge", err)
	}
	return e, nil
}

// ListEdges returns edges matching the filter, most confident first.
func (s *SQLiteStore) ListEdges(ctx context.Context, f EdgeFilter) ([]*Edge, error) {
	if s.isClosed() {
		return nil, wrapError("list_edges", ErrClosed)
	}

	query := `SELECT ` + edgeColumns + ` FROM causal_edges WHERE confidence >= ?`
	args := []any{f.MinConfidence}
	if f.FromID != nil {
		query += ` AND from_id = ?`
		args = append(args, *f.FromID)
	}
	if f.ToID != nil {
		query += ` AND to_id = ?`
		args = append(args, *f.ToID)
	}
	if f.MinUplift != nil {
		query += ` AND uplift IS NOT NULL AND uplift >= ?`
		args = append(args, *f.MinUplift)
	}
	query += ` ORDER BY confidence DESC, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapError("list_edges", err)
	}
	defer rows.Close()

	var edges []*Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, wrapError("list_edges", err)
		}
		edges = append(edges, e)
	}
	return edges, wrapError("list_edges", rows.Err())
}

// DeleteEdges removes the edges with the given ids.
func (s *SQLiteStore) DeleteEdges(ctx context.Context, ids []string) error {
	if s.isClosed() {
		return wrapError("delete_edges", ErrClosed)
	}
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM causal_edges WHERE id IN (`+placeholders+`)`, args...)
	return wrapError("delete_edges", err)
}

// CreateExperiment registers a new experiment row.
func (s *SQLiteStore) CreateExperiment(ctx context.Context, exp *Experiment) error {
	if s.isClosed() {
		return wrapError("create_experiment", ErrClosed)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO causal_experiments
			(id, hypothesis, treatment_id, control_id, start_time, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		exp.ID, exp.Hypothesis, exp.TreatmentID, exp.ControlID, exp.StartTime, exp.Status)
	return wrapError("create_experiment", err)
}

// GetExperiment fetches one experiment by id.
func (s *SQLiteStore) GetExperiment(ctx context.Context, id string) (*Experiment, error) {
	if s.isClosed() {
		return nil, wrapError("get_experiment", ErrClosed)
	}

	var exp Experiment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, hypothesis, treatment_id, control_id, start_time, end_time,
			sample_size, treatment_mean, control_mean, uplift, p_value,
			ci_low, ci_high, status
		FROM causal_experiments WHERE id = ?`, id).Scan(
		&exp.ID, &exp.Hypothesis, &exp.TreatmentID, &exp.ControlID,
		&exp.StartTime, &exp.EndTime, &exp.SampleSize, &exp.TreatmentMean,
		&exp.ControlMean, &exp.Uplift, &exp.PValue, &exp.CILow, &exp.CIHigh,
		&exp.Status)
	if err == sql.ErrNoRows {
		return nil, wrapError("get_experiment", ErrNotFound)
	}
	if err != nil {
		return nil, wrapError("get_experiment", err)
	}
	return &exp, nil
}

// CompleteExperiment freezes the summary statistics iff the experiment is
// still running. The WHERE clause is the compare-and-swap: exactly one
// concurrent completion wins.
func (s *SQLiteStore) CompleteExperiment(ctx context.Context, exp *Experiment) (bool, error) {
	if s.isClosed() {
		return false, wrapError("complete_experiment", ErrClosed)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE causal_experiments SET
			end_time = ?, sample_size = ?, treatment_mean = ?, control_mean = ?,
			uplift = ?, p_value = ?, ci_low = ?, ci_high = ?, status = ?
		WHERE id = ? AND status = ?`,
		exp.EndTime, exp.SampleSize, exp.TreatmentMean, exp.ControlMean,
		exp.Uplift, exp.PValue, exp.CILow, exp.CIHigh, exp.Status,
		exp.ID, StatusRunning)
	if err != nil {
		return false, wrapError("complete_experiment", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapError("complete_experiment", err)
	}
	return n == 1, nil
}

// InsertObservation appends one observation row. The insert is guarded on
// the experiment still being running, so an observation racing a completion
// cannot land after the statistics are frozen.
func (s *SQLiteStore) InsertObservation(ctx context.Context, obs *Observation) error {
	if s.isClosed() {
		return wrapError("insert_observation", ErrClosed)
	}
	if obs.CreatedAt.IsZero() {
		obs.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO causal_observations
			(experiment_id, episode_id, is_treatment, outcome_value, outcome_type, created_at)
		SELECT ?, ?, ?, ?, ?, ?
		WHERE EXISTS (
			SELECT 1 FROM causal_experiments WHERE id = ? AND status = ?
		)`,
		obs.ExperimentID, obs.EpisodeID, obs.IsTreatment, obs.OutcomeValue,
		obs.OutcomeType, obs.CreatedAt, obs.ExperimentID, StatusRunning)
	if err != nil {
		return wrapError("insert_observation", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return wrapError("insert_observation", ErrNotRunning)
	}
	if id, err := res.LastInsertId(); err == nil {
		obs.ID = id
	}
	return nil
}

// ListObservations returns all observations for an experiment in insertion order.
func (s *SQLiteStore) ListObservations(ctx context.Context, experimentID string) ([]*Observation, error) {
	if s.isClosed() {
		return nil, wrapError("list_observations", ErrClosed)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, experiment_id, episode_id, is_treatment, outcome_value, outcome_type, created_at
		FROM causal_observations WHERE experiment_id = ? ORDER BY id`, experimentID)
	if err != nil {
		return nil, wrapError("list_observations", err)
	}
	defer rows.Close()

	var out []*Observation
	for rows.Next() {
		var obs Observation
		if err := rows.Scan(&obs.ID, &obs.ExperimentID, &obs.EpisodeID,
			&obs.IsTreatment, &obs.OutcomeValue, &obs.OutcomeType, &obs.CreatedAt); err != nil {
			return nil, wrapError("list_observations", err)
		}
		out = append(out, &obs)
	}
	return out, wrapError("list_observations", rows.Err())
}

// InsertEpisode appends one discovery episode.
func (s *SQLiteStore) InsertEpisode(ctx context.Context, ep *Episode) error {
	if s.isClosed() {
		return wrapError("insert_episode", ErrClosed)
	}
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = time.Now().UTC()
	}

	covariates, err := json.Marshal(ep.Covariates)
	if err != nil {
		return wrapError("insert_episode", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO causal_episodes (from_id, to_id, context, treated, outcome, covariates, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ep.FromID, ep.ToID, EncodeVector(ep.Context), ep.Treated, ep.Outcome,
		string(covariates), ep.CreatedAt)
	if err != nil {
		return wrapError("insert_episode", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		ep.ID = id
	}
	return nil
}

// ListEpisodes returns all episodes for a (from, to) pair in insertion order.
func (s *SQLiteStore) ListEpisodes(ctx context.Context, fromID, toID uint64) ([]*Episode, error) {
	if s.isClosed() {
		return nil, wrapError("list_episodes", ErrClosed)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, from_id, to_id, context, treated, outcome, covariates, created_at
		FROM causal_episodes WHERE from_id = ? AND to_id = ? ORDER BY id`, fromID, toID)
	if err != nil {
		return nil, wrapError("list_episodes", err)
	}
	defer rows.Close()

	var out []*Episode
	for rows.Next() {
		var (
			ep         Episode
			contextRaw []byte
			covariates string
		)
		if err := rows.Scan(&ep.ID, &ep.FromID, &ep.ToID, &contextRaw,
			&ep.Treated, &ep.Outcome, &covariates, &ep.CreatedAt); err != nil {
			return nil, wrapError("list_episodes", err)
		}
		if ep.Context, err = DecodeVector(contextRaw); err != nil {
			return nil, wrapError("list_episodes", err)
		}
		if err := json.Unmarshal([]byte(covariates), &ep.Covariates); err != nil {
			return nil, wrapError("list_episodes", err)
		}
		out = append(out, &ep)
	}
	return out, wrapError("list_episodes", rows.Err())
}

// PutContent upserts a content row keyed by hash.
func (s *SQLiteStore) PutContent(ctx context.Context, c *Content) error {
	if s.isClosed() {
		return wrapError("put_content", ErrClosed)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO content (hash, parent_hash, data, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET
			parent_hash = excluded.parent_hash,
			data = excluded.data`,
		c.Hash, c.ParentHash, c.Data, c.CreatedAt)
	return wrapError("put_content", err)
}

// Counts returns aggregate row counts for the stats surface.
func (s *SQLiteStore) Counts(ctx context.Context) (*Counts, error) {
	if s.isClosed() {
		return nil, wrapError("counts", ErrClosed)
	}

	var c Counts
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(AVG(confidence), 0) FROM causal_edges`).
		Scan(&c.Edges, &c.AvgConfidence)
	if err != nil {
		return nil, wrapError("counts", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM causal_experiments GROUP BY status`)
	if err != nil {
		return nil, wrapError("counts", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status ExperimentStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, wrapError("counts", err)
		}
		switch status {
		case StatusRunning:
			c.ExperimentsRunning = n
		case StatusCompleted:
			c.ExperimentsCompleted = n
		case StatusFailed:
			c.ExperimentsFailed = n
		}
	}
	return &c, wrapError("counts", rows.Err())
}

// GetContent fetches a content row by hash.
func (s *SQLiteStore) GetContent(ctx context.Context, hash string) (*Content, error) {
	if s.isClosed() {
		return nil, wrapError("get_content", ErrClosed)
	}

	var c Content
	err := s.db.QueryRowContext(ctx, `
		SELECT hash, parent_hash, data, created_at FROM content WHERE hash = ?`,
		hash).Scan(&c.Hash, &c.ParentHash, &c.Data, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, wrapError("get_content", ErrNotFound)
	}
	if err != nil {
		return nil, wrapError("get_content", err)
	}
	return &c, nil
}
