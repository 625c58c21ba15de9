package results

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openhazard/engine/internal/calc"
	"github.com/openhazard/engine/internal/source"
)

// #region schema

const pgSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	job_id      TEXT PRIMARY KEY,
	description TEXT NOT NULL,
	status      TEXT NOT NULL,
	n_levels    INTEGER NOT NULL,
	n_models    INTEGER NOT NULL,
	time_span   DOUBLE PRECISION NOT NULL,
	created_at  TEXT NOT NULL,
	stopped_at  TEXT
);

CREATE TABLE IF NOT EXISTS curve_groups (
	job_id       TEXT NOT NULL REFERENCES jobs(job_id),
	grp_id       INTEGER NOT NULL,
	weight       DOUBLE PRECISION NOT NULL,
	eff_ruptures BIGINT NOT NULL,
	PRIMARY KEY (job_id, grp_id)
);

CREATE TABLE IF NOT EXISTS curves (
	job_id  TEXT NOT NULL REFERENCES jobs(job_id),
	grp_id  INTEGER NOT NULL,
	site_id INTEGER NOT NULL,
	poes    BYTEA NOT NULL,
	PRIMARY KEY (job_id, grp_id, site_id)
);

CREATE TABLE IF NOT EXISTS source_info (
	id           BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	job_id       TEXT NOT NULL REFERENCES jobs(job_id),
	source_id    TEXT NOT NULL,
	branch       INTEGER NOT NULL,
	grp_id       INTEGER NOT NULL,
	kind         TEXT NOT NULL,
	weight       DOUBLE PRECISION NOT NULL,
	num_ruptures INTEGER NOT NULL,
	serial       BIGINT NOT NULL,
	sites        INTEGER NOT NULL,
	seconds      DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS run_events (
	id         BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	job_id     TEXT NOT NULL REFERENCES jobs(job_id),
	level      TEXT NOT NULL,
	message    TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_curves_job ON curves (job_id);
CREATE INDEX IF NOT EXISTS idx_source_info_job ON source_info (job_id);
CREATE INDEX IF NOT EXISTS idx_run_events_job ON run_events (job_id);
`

// #endregion schema

// #region pg-store

// PostgresStore keeps run results in a shared PostgreSQL database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// OpenPostgres connects a pool and verifies the server is reachable.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// EnsureSchema creates the tables; safe to call on every start.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, pgSchema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// #endregion pg-store

// #region jobs

// CreateJob inserts a new job record.
func (s *PostgresStore) CreateJob(ctx context.Context, job Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (job_id, description, status, n_levels, n_models, time_span, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.Description, job.Status, job.Levels, job.Models, job.TimeSpan,
		job.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// FinishJob stamps the terminal status and stop time.
func (s *PostgresStore) FinishJob(ctx context.Context, jobID, status string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, stopped_at = $2 WHERE job_id = $3`,
		status, time.Now().UTC().Format(time.RFC3339Nano), jobID,
	)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s not found", jobID)
	}
	return nil
}

// GetJob reads one job record.
func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT job_id, description, status, n_levels, n_models, time_span, created_at, stopped_at
		 FROM jobs WHERE job_id = $1`, jobID)
	return scanJob(row.Scan)
}

// ListJobs returns the most recent jobs.
func (s *PostgresStore) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT job_id, description, status, n_levels, n_models, time_span, created_at, stopped_at
		 FROM jobs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// #endregion jobs

// #region output

// SaveOutput writes a run's groups, curves, and source diagnostics in one
// transaction.
func (s *PostgresStore) SaveOutput(ctx context.Context, jobID string, out *calc.Output) error {
	groups, crs := outputRows(out)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, g := range groups {
		_, err = tx.Exec(ctx,
			`INSERT INTO curve_groups (job_id, grp_id, weight, eff_ruptures) VALUES ($1, $2, $3, $4)`,
			jobID, g.grp, g.weight, g.eff,
		)
		if err != nil {
			return fmt.Errorf("insert group %d: %w", g.grp, err)
		}
	}
	for _, cr := range crs {
		_, err = tx.Exec(ctx,
			`INSERT INTO curves (job_id, grp_id, site_id, poes) VALUES ($1, $2, $3, $4)`,
			jobID, cr.grp, cr.site, cr.poes,
		)
		if err != nil {
			return fmt.Errorf("insert curve (%d, %d): %w", cr.grp, cr.site, err)
		}
	}
	for _, info := range out.SourceInfo {
		_, err = tx.Exec(ctx,
			`INSERT INTO source_info (job_id, source_id, branch, grp_id, kind, weight, num_ruptures, serial, sites, seconds)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			jobID, info.SourceID, info.Branch, info.GroupID, string(info.Kind),
			info.Weight, info.NumRuptures, info.Serial, info.Sites, info.Seconds,
		)
		if err != nil {
			return fmt.Errorf("insert source info %s: %w", info.SourceID, err)
		}
	}
	return tx.Commit(ctx)
}

// GroupResults reads back every group of a job with its curves.
func (s *PostgresStore) GroupResults(ctx context.Context, jobID string) ([]GroupResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT grp_id, weight, eff_ruptures FROM curve_groups WHERE job_id = $1 ORDER BY grp_id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var out []GroupResult
	for rows.Next() {
		var gr GroupResult
		if err := rows.Scan(&gr.GroupID, &gr.Weight, &gr.EffRuptures); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		gr.Curves = make(map[int][]float64)
		out = append(out, gr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	byGrp := make(map[int]*GroupResult, len(out))
	for i := range out {
		byGrp[out[i].GroupID] = &out[i]
	}

	crows, err := s.pool.Query(ctx,
		`SELECT grp_id, site_id, poes FROM curves WHERE job_id = $1 ORDER BY grp_id, site_id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list curves: %w", err)
	}
	defer crows.Close()
	for crows.Next() {
		var grp, site int
		var blob []byte
		if err := crows.Scan(&grp, &site, &blob); err != nil {
			return nil, fmt.Errorf("scan curve: %w", err)
		}
		gr, ok := byGrp[grp]
		if !ok {
			return nil, fmt.Errorf("curve references unknown group %d", grp)
		}
		gr.Curves[site] = decodeCurve(blob)
	}
	return out, crows.Err()
}

// SourceInfo reads back the per-source diagnostics, in serial order.
func (s *PostgresStore) SourceInfo(ctx context.Context, jobID string) ([]calc.SourceInfo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT source_id, branch, grp_id, kind, weight, num_ruptures, serial, sites, seconds
		 FROM source_info WHERE job_id = $1 ORDER BY serial`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list source info: %w", err)
	}
	defer rows.Close()

	var out []calc.SourceInfo
	for rows.Next() {
		var info calc.SourceInfo
		var kind string
		if err := rows.Scan(&info.SourceID, &info.Branch, &info.GroupID, &kind,
			&info.Weight, &info.NumRuptures, &info.Serial, &info.Sites, &info.Seconds); err != nil {
			return nil, fmt.Errorf("scan source info: %w", err)
		}
		info.Kind = source.Kind(kind)
		out = append(out, info)
	}
	return out, rows.Err()
}

// CurveCount returns the number of stored curves of a job.
func (s *PostgresStore) CurveCount(ctx context.Context, jobID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM curves WHERE job_id = $1`, jobID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count curves: %w", err)
	}
	return n, nil
}

// #endregion output

// #region events

// LogEvent appends one run log line.
func (s *PostgresStore) LogEvent(ctx context.Context, jobID, level, message string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO run_events (job_id, level, message, created_at) VALUES ($1, $2, $3, $4)`,
		jobID, level, message, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log event: %w", err)
	}
	return nil
}

// Events returns a job's log lines in insertion order.
func (s *PostgresStore) Events(ctx context.Context, jobID string) ([]Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, level, message, created_at FROM run_events WHERE job_id = $1 ORDER BY id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var createdStr string
		if err := rows.Scan(&ev.ID, &ev.JobID, &ev.Level, &ev.Message, &createdStr); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// #endregion events
