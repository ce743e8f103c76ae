package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a job id has no row.
var ErrNotFound = errors.New("job not found")

// Store wraps SQLite-backed persistence for stitch jobs and their results.
type Store struct {
	DB *sql.DB // Export for direct database access
}

// New opens (or creates) the database at path and ensures schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)
	s := &Store{DB: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS processing_jobs (
            id TEXT PRIMARY KEY,
            job_type TEXT NOT NULL,
            status TEXT NOT NULL,
            input_path TEXT NOT NULL DEFAULT '',
            output_path TEXT NOT NULL DEFAULT '',
            options_json TEXT NOT NULL DEFAULT '{}',
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            started_at TIMESTAMP,
            completed_at TIMESTAMP,
            error_message TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS job_results (
            job_id TEXT,
            meta_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS pair_alignments (
            job_id TEXT NOT NULL,
            pair_index INTEGER NOT NULL,
            image_a TEXT,
            image_b TEXT,
            dx INTEGER NOT NULL,
            dy INTEGER NOT NULL,
            matches INTEGER NOT NULL,
            PRIMARY KEY (job_id, pair_index)
        );`,
		`CREATE TABLE IF NOT EXISTS image_metadata (
            job_id TEXT NOT NULL,
            file_path TEXT NOT NULL,
            focal_length REAL,
            width INTEGER,
            height INTEGER,
            warped_width INTEGER,
            features INTEGER,
            PRIMARY KEY (job_id, file_path)
        );`,
		`CREATE INDEX IF NOT EXISTS idx_processing_jobs_created ON processing_jobs(created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_job_results_job_id ON job_results(job_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// JobRecord captures persisted job info.
type JobRecord struct {
	ID          string     `json:"id"`
	JobType     string     `json:"type"`
	Status      string     `json:"status"`
	InputPath   string     `json:"input"`
	OutputPath  string     `json:"output"`
	OptionsJSON string     `json:"options"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// PairAlignment is the translation found between neighbouring images.
type PairAlignment struct {
	JobID     string `json:"-"`
	PairIndex int    `json:"pair"`
	ImageA    string `json:"image_a"`
	ImageB    string `json:"image_b"`
	DX        int    `json:"dx"`
	DY        int    `json:"dy"`
	Matches   int    `json:"matches"`
}

// ImageMetadata describes one input frame of a job.
type ImageMetadata struct {
	JobID       string  `json:"-"`
	FilePath    string  `json:"file"`
	FocalLength float64 `json:"focal"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	WarpedWidth int     `json:"warped_width"`
	Features    int     `json:"features"`
}

// RecordJobQueued inserts a pending job.
func (s *Store) RecordJobQueued(rec JobRecord) error {
	if s == nil {
		return nil
	}
	if rec.OptionsJSON == "" {
		rec.OptionsJSON = "{}"
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO processing_jobs (id, job_type, status, input_path, output_path, options_json) VALUES (?, ?, ?, ?, ?, ?);`,
		rec.ID, rec.JobType, rec.Status, rec.InputPath, rec.OutputPath, rec.OptionsJSON)
	return err
}

// RecordJobStart marks a job as running.
func (s *Store) RecordJobStart(id string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE processing_jobs SET status='running', started_at=CURRENT_TIMESTAMP WHERE id=?;`, id)
	return err
}

// RecordJobResult finalizes a job with status and meta.
func (s *Store) RecordJobResult(id string, status string, meta map[string]any, errMsg string) error {
	if s == nil {
		return nil
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	_, err = s.DB.Exec(`UPDATE processing_jobs SET status=?, completed_at=CURRENT_TIMESTAMP, error_message=? WHERE id=?;`, status, errMsg, id)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(`INSERT INTO job_results (job_id, meta_json) VALUES (?, ?);`, id, string(metaJSON))
	return err
}

const jobColumns = `id, job_type, status, input_path, output_path, options_json, created_at, started_at, completed_at, error_message`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (JobRecord, error) {
	var rec JobRecord
	var created time.Time
	var started, completed sql.NullTime
	var errorMsg sql.NullString
	if err := row.Scan(&rec.ID, &rec.JobType, &rec.Status, &rec.InputPath, &rec.OutputPath, &rec.OptionsJSON, &created, &started, &completed, &errorMsg); err != nil {
		return rec, err
	}
	rec.CreatedAt = created
	if started.Valid {
		rec.StartedAt = &started.Time
	}
	if completed.Valid {
		rec.CompletedAt = &completed.Time
	}
	if errorMsg.Valid {
		rec.Error = errorMsg.String
	}
	return rec, nil
}

// RecentJobs returns the latest jobs up to limit, newest first.
func (s *Store) RecentJobs(limit int) ([]JobRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT `+jobColumns+` FROM processing_jobs ORDER BY created_at DESC, rowid DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []JobRecord
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Job fetches a single job by id.
func (s *Store) Job(id string) (JobRecord, error) {
	if s == nil {
		return JobRecord{}, errors.New("store not initialized")
	}
	rec, err := scanJob(s.DB.QueryRow(`SELECT `+jobColumns+` FROM processing_jobs WHERE id=?;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return rec, ErrNotFound
	}
	return rec, err
}

// JobMeta fetches the last meta blob for a job.
func (s *Store) JobMeta(id string) (map[string]any, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	var metaJSON string
	err := s.DB.QueryRow(`SELECT meta_json FROM job_results WHERE job_id=? ORDER BY created_at DESC, rowid DESC LIMIT 1;`, id).Scan(&metaJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal meta: %w", err)
	}
	return meta, nil
}

// RecordAlignments replaces the pair alignments stored for a job.
func (s *Store) RecordAlignments(jobID string, recs []PairAlignment) error {
	if s == nil {
		return nil
	}
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM pair_alignments WHERE job_id=?;`, jobID); err != nil {
		return err
	}
	for _, rec := range recs {
		_, err := tx.Exec(`INSERT INTO pair_alignments (job_id, pair_index, image_a, image_b, dx, dy, matches) VALUES (?, ?, ?, ?, ?, ?, ?);`,
			jobID, rec.PairIndex, rec.ImageA, rec.ImageB, rec.DX, rec.DY, rec.Matches)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Alignments returns a job's pair alignments ordered by pair index.
func (s *Store) Alignments(jobID string) ([]PairAlignment, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT pair_index, image_a, image_b, dx, dy, matches FROM pair_alignments WHERE job_id=? ORDER BY pair_index;`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []PairAlignment
	for rows.Next() {
		rec := PairAlignment{JobID: jobID}
		if err := rows.Scan(&rec.PairIndex, &rec.ImageA, &rec.ImageB, &rec.DX, &rec.DY, &rec.Matches); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// RecordImageMetadata stores per-frame details for a job.
func (s *Store) RecordImageMetadata(meta ImageMetadata) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO image_metadata (job_id, file_path, focal_length, width, height, warped_width, features)
        VALUES (?, ?, ?, ?, ?, ?, ?);`,
		meta.JobID, meta.FilePath, meta.FocalLength, meta.Width, meta.Height, meta.WarpedWidth, meta.Features)
	return err
}

// ImageMetadataFor lists the frames recorded for a job.
func (s *Store) ImageMetadataFor(jobID string) ([]ImageMetadata, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT file_path, focal_length, width, height, warped_width, features FROM image_metadata WHERE job_id=? ORDER BY rowid;`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []ImageMetadata
	for rows.Next() {
		rec := ImageMetadata{JobID: jobID}
		if err := rows.Scan(&rec.FilePath, &rec.FocalLength, &rec.Width, &rec.Height, &rec.WarpedWidth, &rec.Features); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
