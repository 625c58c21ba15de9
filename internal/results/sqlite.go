package results

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/openhazard/engine/internal/calc"
	"github.com/openhazard/engine/internal/source"
	_ "modernc.org/sqlite"
)

// #region schema

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	job_id      TEXT PRIMARY KEY,
	description TEXT NOT NULL,
	status      TEXT NOT NULL,
	n_levels    INTEGER NOT NULL,
	n_models    INTEGER NOT NULL,
	time_span   REAL NOT NULL,
	created_at  TEXT NOT NULL,
	stopped_at  TEXT
);

CREATE TABLE IF NOT EXISTS curve_groups (
	job_id       TEXT NOT NULL,
	grp_id       INTEGER NOT NULL,
	weight       REAL NOT NULL,
	eff_ruptures INTEGER NOT NULL,
	PRIMARY KEY (job_id, grp_id),
	FOREIGN KEY (job_id) REFERENCES jobs(job_id)
);

CREATE TABLE IF NOT EXISTS curves (
	job_id  TEXT NOT NULL,
	grp_id  INTEGER NOT NULL,
	site_id INTEGER NOT NULL,
	poes    BLOB NOT NULL,
	PRIMARY KEY (job_id, grp_id, site_id),
	FOREIGN KEY (job_id) REFERENCES jobs(job_id)
);

CREATE TABLE IF NOT EXISTS source_info (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id       TEXT NOT NULL,
	source_id    TEXT NOT NULL,
	branch       INTEGER NOT NULL,
	grp_id       INTEGER NOT NULL,
	kind         TEXT NOT NULL,
	weight       REAL NOT NULL,
	num_ruptures INTEGER NOT NULL,
	serial       INTEGER NOT NULL,
	sites        INTEGER NOT NULL,
	seconds      REAL NOT NULL,
	FOREIGN KEY (job_id) REFERENCES jobs(job_id)
);

CREATE TABLE IF NOT EXISTS run_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id     TEXT NOT NULL,
	level      TEXT NOT NULL,
	message    TEXT NOT NULL,
	created_at TEXT NOT NULL,
	FOREIGN KEY (job_id) REFERENCES jobs(job_id)
);

CREATE INDEX IF NOT EXISTS idx_curves_job ON curves (job_id);
CREATE INDEX IF NOT EXISTS idx_source_info_job ON source_info (job_id);
CREATE INDEX IF NOT EXISTS idx_run_events_job ON run_events (job_id);
`

// #endregion schema

// #region sqlite-store

// SQLiteStore keeps run results in an embedded SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (or creates) the database at path and applies the
// connection pragmas.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// EnsureSchema creates the tables; safe to call on every start.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// #endregion sqlite-store

// #region jobs

// CreateJob inserts a new job record.
func (s *SQLiteStore) CreateJob(ctx context.Context, job Job) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (job_id, description, status, n_levels, n_models, time_span, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Description, job.Status, job.Levels, job.Models, job.TimeSpan,
		job.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// FinishJob stamps the terminal status and stop time.
func (s *SQLiteStore) FinishJob(ctx context.Context, jobID, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, stopped_at = ? WHERE job_id = ?`,
		status, time.Now().UTC().Format(time.RFC3339Nano), jobID,
	)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("job %s not found", jobID)
	}
	return nil
}

// GetJob reads one job record.
func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT job_id, description, status, n_levels, n_models, time_span, created_at, stopped_at
		 FROM jobs WHERE job_id = ?`, jobID)
	return scanJob(row.Scan)
}

// ListJobs returns the most recent jobs.
func (s *SQLiteStore) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, description, status, n_levels, n_models, time_span, created_at, stopped_at
		 FROM jobs ORDER BY created_at DESC LIMIT ?`, limit)
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

func scanJob(scan func(dest ...any) error) (Job, error) {
	var job Job
	var createdStr string
	var stoppedStr sql.NullString
	err := scan(&job.ID, &job.Description, &job.Status, &job.Levels, &job.Models,
		&job.TimeSpan, &createdStr, &stoppedStr)
	if err != nil {
		return Job{}, fmt.Errorf("scan job: %w", err)
	}
	job.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	if stoppedStr.Valid {
		job.StoppedAt, _ = time.Parse(time.RFC3339Nano, stoppedStr.String)
	}
	return job, nil
}

// #endregion jobs

// #region output

// SaveOutput writes a run's groups, curves, and source diagnostics in one
// transaction.
func (s *SQLiteStore) SaveOutput(ctx context.Context, jobID string, out *calc.Output) error {
	groups, crs := outputRows(out)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, g := range groups {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO curve_groups (job_id, grp_id, weight, eff_ruptures) VALUES (?, ?, ?, ?)`,
			jobID, g.grp, g.weight, g.eff,
		)
		if err != nil {
			return fmt.Errorf("insert group %d: %w", g.grp, err)
		}
	}
	for _, cr := range crs {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO curves (job_id, grp_id, site_id, poes) VALUES (?, ?, ?, ?)`,
			jobID, cr.grp, cr.site, cr.poes,
		)
		if err != nil {
			return fmt.Errorf("insert curve (%d, %d): %w", cr.grp, cr.site, err)
		}
	}
	for _, info := range out.SourceInfo {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO source_info (job_id, source_id, branch, grp_id, kind, weight, num_ruptures, serial, sites, seconds)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			jobID, info.SourceID, info.Branch, info.GroupID, string(info.Kind),
			info.Weight, info.NumRuptures, info.Serial, info.Sites, info.Seconds,
		)
		if err != nil {
			return fmt.Errorf("insert source info %s: %w", info.SourceID, err)
		}
	}
	return tx.Commit()
}

// GroupResults reads back every group of a job with its curves.
func (s *SQLiteStore) GroupResults(ctx context.Context, jobID string) ([]GroupResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT grp_id, weight, eff_ruptures FROM curve_groups WHERE job_id = ? ORDER BY grp_id`, jobID)
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

	crows, err := s.db.QueryContext(ctx,
		`SELECT grp_id, site_id, poes FROM curves WHERE job_id = ? ORDER BY grp_id, site_id`, jobID)
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
func (s *SQLiteStore) SourceInfo(ctx context.Context, jobID string) ([]calc.SourceInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id, branch, grp_id, kind, weight, num_ruptures, serial, sites, seconds
		 FROM source_info WHERE job_id = ? ORDER BY serial`, jobID)
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
func (s *SQLiteStore) CurveCount(ctx context.Context, jobID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM curves WHERE job_id = ?`, jobID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count curves: %w", err)
	}
	return n, nil
}

// #endregion output

// #region events

// LogEvent appends one run log line.
func (s *SQLiteStore) LogEvent(ctx context.Context, jobID, level, message string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_events (job_id, level, message, created_at) VALUES (?, ?, ?, ?)`,
		jobID, level, message, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log event: %w", err)
	}
	return nil
}

// Events returns a job's log lines in insertion order.
func (s *SQLiteStore) Events(ctx context.Context, jobID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, level, message, created_at FROM run_events WHERE job_id = ? ORDER BY id`, jobID)
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
