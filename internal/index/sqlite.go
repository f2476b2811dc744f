package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tapesafe/internal/core"
	"tapesafe/internal/index/migrations"
	"tapesafe/internal/model"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// timeFormat is how timestamps are stored in the index. Text keeps the rows
// readable with the sqlite3 CLI during disaster recovery.
const timeFormat = time.RFC3339Nano

// SQLiteStore implements the core.Store interface using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	clock core.Clock
	path  string
}

// NewSQLiteStore creates a new SQLite-backed index store.
// path can be a file path or ":memory:" for an in-memory database.
func NewSQLiteStore(path string, clock core.Clock) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	return &SQLiteStore{
		db:    db,
		clock: clock,
		path:  path,
	}, nil
}

// NewSQLiteStoreFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteStoreFromDB(db *sql.DB, clock core.Clock) *SQLiteStore {
	return &SQLiteStore{
		db:    db,
		clock: clock,
		path:  "",
	}
}

// OpenConnection opens and configures a SQLite connection with appropriate
// PRAGMAs. Exported for tools and tests that need a raw configured connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign key constraints (SQLite default is OFF for backward compatibility)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// Tape operations

func (s *SQLiteStore) AddTape(tape *model.Tape) error {
	_, err := s.db.Exec(
		`INSERT INTO tapes (id, generation, used, encrypted, created_at, description)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		tape.ID, tape.Generation, tape.UsedCapacity, boolToInt(tape.Encrypted),
		tape.CreatedAt.UTC().Format(timeFormat), tape.Description,
	)
	if err != nil {
		return fmt.Errorf("adding tape: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetTape(tapeID string) (*model.Tape, error) {
	row := s.db.QueryRow(
		`SELECT id, generation, used, encrypted, created_at, description
		 FROM tapes WHERE id = ?`, tapeID,
	)
	tape, err := scanTape(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("getting tape: %w", err)
	}
	return tape, nil
}

func (s *SQLiteStore) ListTapes() ([]*model.Tape, error) {
	rows, err := s.db.Query(
		`SELECT id, generation, used, encrypted, created_at, description
		 FROM tapes ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing tapes: %w", err)
	}
	defer rows.Close()

	var tapes []*model.Tape
	for rows.Next() {
		tape, err := scanTape(rows)
		if err != nil {
			return nil, fmt.Errorf("listing tapes: %w", err)
		}
		tapes = append(tapes, tape)
	}
	return tapes, rows.Err()
}

func (s *SQLiteStore) SetTapeEncrypted(tapeID string, encrypted bool) error {
	if err := s.execOne(
		`UPDATE tapes SET encrypted = ? WHERE id = ?`,
		boolToInt(encrypted), tapeID,
	); err != nil {
		return fmt.Errorf("setting tape encrypted flag: %w", err)
	}
	return nil
}

// Capacity accounting

func (s *SQLiteStore) GetUsedCapacity(tapeID string) (int64, error) {
	var used int64
	err := s.db.QueryRow(`SELECT used FROM tapes WHERE id = ?`, tapeID).Scan(&used)
	if err != nil {
		return 0, fmt.Errorf("getting used capacity: %w", err)
	}
	return used, nil
}

func (s *SQLiteStore) AddUsedCapacity(tapeID string, delta int64) error {
	if err := s.execOne(
		`UPDATE tapes SET used = used + ? WHERE id = ?`, delta, tapeID,
	); err != nil {
		return fmt.Errorf("adding used capacity: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetUsedCapacity(tapeID string, total int64) error {
	if err := s.execOne(
		`UPDATE tapes SET used = ? WHERE id = ?`, total, tapeID,
	); err != nil {
		return fmt.Errorf("setting used capacity: %w", err)
	}
	return nil
}

// Job operations

func (s *SQLiteStore) CreateJob(tapeID string, action model.JobAction, backupType model.BackupType, ivHex string) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO jobs (tape_id, action, backup_type, status, started_at, iv_hex)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		tapeID, string(action), string(backupType), string(model.StatusRunning),
		s.clock.Now().UTC().Format(timeFormat), ivHex,
	)
	if err != nil {
		return 0, fmt.Errorf("creating job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("creating job: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) FinishJob(jobID int64, status model.JobStatus, size int64, tagHex string) error {
	if err := s.execOne(
		`UPDATE jobs SET status = ?, finished_at = ?, size = ?, tag_hex = ? WHERE id = ?`,
		string(status), s.clock.Now().UTC().Format(timeFormat), size, tagHex, jobID,
	); err != nil {
		return fmt.Errorf("finishing job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetJob(tapeID string, jobID int64) (*model.Job, error) {
	row := s.db.QueryRow(
		`SELECT id, tape_id, action, backup_type, status, started_at, finished_at, size, iv_hex, tag_hex
		 FROM jobs WHERE tape_id = ? AND id = ?`, tapeID, jobID,
	)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("getting job: %w", err)
	}
	return job, nil
}

func (s *SQLiteStore) ListJobs(tapeID string) ([]*model.Job, error) {
	return s.queryJobs(
		`SELECT id, tape_id, action, backup_type, status, started_at, finished_at, size, iv_hex, tag_hex
		 FROM jobs WHERE tape_id = ? ORDER BY id DESC`, tapeID,
	)
}

func (s *SQLiteStore) FindJobs(tapeID string, status model.JobStatus, action model.JobAction) ([]*model.Job, error) {
	return s.queryJobs(
		`SELECT id, tape_id, action, backup_type, status, started_at, finished_at, size, iv_hex, tag_hex
		 FROM jobs WHERE tape_id = ? AND status = ? AND action = ? ORDER BY id DESC`,
		tapeID, string(status), string(action),
	)
}

func (s *SQLiteStore) HasJob(tapeID string, jobID int64) (bool, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM jobs WHERE tape_id = ? AND id = ?`, tapeID, jobID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking for job: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) InsertJob(job *model.Job) error {
	finishedAt := sql.NullString{}
	if !job.FinishedAt.IsZero() {
		finishedAt = sql.NullString{String: job.FinishedAt.UTC().Format(timeFormat), Valid: true}
	}
	_, err := s.db.Exec(
		`INSERT INTO jobs (id, tape_id, action, backup_type, status, started_at, finished_at, size, iv_hex, tag_hex)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.TapeID, string(job.Action), string(job.BackupType), string(job.Status),
		job.StartedAt.UTC().Format(timeFormat), finishedAt, job.Size, job.IVHex, job.TagHex,
	)
	if err != nil {
		return fmt.Errorf("inserting job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SumJobSizes(tapeID string) (int64, error) {
	var total int64
	err := s.db.QueryRow(
		`SELECT COALESCE(SUM(size), 0) FROM jobs WHERE tape_id = ?`, tapeID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("summing job sizes: %w", err)
	}
	return total, nil
}

// Node operations

func (s *SQLiteStore) CommitNodes(tapeID string, jobID int64, records []model.NodeRecord) error {
	ctx := context.Background()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO nodes (tape_id, job_id, parent_id, name, is_dir, size, mtime)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("preparing node insert: %w", err)
	}
	defer stmt.Close()

	// Records reference their parent by list position; the list is ordered
	// parent-before-child so the durable id is always known by the time a
	// child needs it.
	ids := make([]int64, len(records))
	for i, rec := range records {
		parentID := sql.NullInt64{}
		if rec.ParentIdx != nil {
			parentID = sql.NullInt64{Int64: ids[*rec.ParentIdx], Valid: true}
		}
		res, err := stmt.ExecContext(ctx,
			tapeID, jobID, parentID, rec.Name, boolToInt(rec.IsDir), rec.Size, rec.Mtime,
		)
		if err != nil {
			return fmt.Errorf("inserting node %q: %w", rec.Name, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("inserting node %q: %w", rec.Name, err)
		}
		ids[i] = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing nodes: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListNodes(tapeID string, parentID *int64) ([]*model.Node, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if parentID == nil {
		rows, err = s.db.Query(
			`SELECT id, tape_id, job_id, parent_id, name, is_dir, size, mtime
			 FROM nodes WHERE tape_id = ? AND parent_id IS NULL
			 ORDER BY is_dir DESC, name`, tapeID,
		)
	} else {
		rows, err = s.db.Query(
			`SELECT id, tape_id, job_id, parent_id, name, is_dir, size, mtime
			 FROM nodes WHERE tape_id = ? AND parent_id = ?
			 ORDER BY is_dir DESC, name`, tapeID, *parentID,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("listing nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*model.Node
	for rows.Next() {
		var (
			node   model.Node
			parent sql.NullInt64
			isDir  int
		)
		if err := rows.Scan(&node.ID, &node.TapeID, &node.JobID, &parent,
			&node.Name, &isDir, &node.Size, &node.Mtime); err != nil {
			return nil, fmt.Errorf("listing nodes: %w", err)
		}
		if parent.Valid {
			p := parent.Int64
			node.ParentID = &p
		}
		node.IsDir = isDir != 0
		nodes = append(nodes, &node)
	}
	return nodes, rows.Err()
}

func (s *SQLiteStore) CountNodesForJob(tapeID string, jobID int64) (int64, error) {
	var n int64
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM nodes WHERE tape_id = ? AND job_id = ?`, tapeID, jobID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting nodes for job: %w", err)
	}
	return n, nil
}

// Per-tape key/value info

func (s *SQLiteStore) GetTapeInfo(tapeID, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(
		`SELECT value FROM tape_info WHERE tape_id = ? AND key = ?`, tapeID, key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("getting tape info %q: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) SetTapeInfo(tapeID, key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO tape_info (tape_id, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(tape_id, key) DO UPDATE SET value = excluded.value`,
		tapeID, key, value,
	)
	if err != nil {
		return fmt.Errorf("setting tape info %q: %w", key, err)
	}
	return nil
}

// Path returns the database file path (or ":memory:" for in-memory stores).
func (s *SQLiteStore) Path() string {
	return s.path
}

// CheckMigrations verifies the index schema is up-to-date.
func (s *SQLiteStore) CheckMigrations() error {
	return migrations.CheckStatus(s.db)
}

// Migrate runs all pending schema migrations.
func (s *SQLiteStore) Migrate() error {
	return migrations.Up(s.db)
}

// BackupTo creates a complete copy of the index at destPath using VACUUM INTO.
func (s *SQLiteStore) BackupTo(destPath string) error {
	_, err := s.db.Exec("VACUUM INTO ?", destPath)
	if err != nil {
		return fmt.Errorf("backing up index: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// execOne runs an UPDATE expected to touch exactly one row.
func (s *SQLiteStore) execOne(query string, args ...any) error {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *SQLiteStore) queryJobs(query string, args ...any) ([]*model.Job, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("querying jobs: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTape(row scanner) (*model.Tape, error) {
	var (
		tape      model.Tape
		encrypted int
		createdAt string
	)
	if err := row.Scan(&tape.ID, &tape.Generation, &tape.UsedCapacity,
		&encrypted, &createdAt, &tape.Description); err != nil {
		return nil, err
	}
	tape.Encrypted = encrypted != 0
	tape.CreatedAt = parseStoredTime(createdAt)
	return &tape, nil
}

func scanJob(row scanner) (*model.Job, error) {
	var (
		job        model.Job
		action     string
		backupType string
		status     string
		startedAt  string
		finishedAt sql.NullString
	)
	if err := row.Scan(&job.ID, &job.TapeID, &action, &backupType, &status,
		&startedAt, &finishedAt, &job.Size, &job.IVHex, &job.TagHex); err != nil {
		return nil, err
	}
	job.Action = model.JobAction(action)
	job.BackupType = model.BackupType(backupType)
	job.Status = model.JobStatus(status)
	job.StartedAt = parseStoredTime(startedAt)
	if finishedAt.Valid {
		job.FinishedAt = parseStoredTime(finishedAt.String)
	}
	return &job, nil
}

// parseStoredTime tolerates rows written without sub-second precision.
func parseStoredTime(s string) time.Time {
	if t, err := time.Parse(timeFormat, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Compile-time check that SQLiteStore implements the core.Store interface
var _ core.Store = (*SQLiteStore)(nil)
