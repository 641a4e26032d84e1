package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Job statuses
const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Job is one queued or finished transcription request.
type Job struct {
	ID        string `json:"id"`
	Source    string `json:"source"`
	InputPath *string `json:"-"`
	Title     *string `json:"title,omitempty"`

	Model         string `json:"model"`
	Precision     string `json:"precision"`
	Language      *string `json:"language,omitempty"`
	Task          string `json:"task"`
	Parallel      bool   `json:"parallel"`
	UseVAD        bool   `json:"use_vad"`
	MergeSegments bool   `json:"merge_segments"`
	MaxChars      int    `json:"max_chars"`
	ConvertScript bool   `json:"convert_script"`

	Status      string  `json:"status"`
	Progress    int     `json:"progress"`
	CurrentStep *string `json:"current_step,omitempty"`
	Error       *string `json:"error,omitempty"`

	SRTPath        *string  `json:"srt_path,omitempty"`
	Warnings       int      `json:"warnings"`
	AudioSeconds   *float64 `json:"audio_seconds,omitempty"`
	ElapsedSeconds *float64 `json:"elapsed_seconds,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// JobRepository is the data access layer for jobs.
type JobRepository struct {
	db *DB
}

// NewJobRepository creates a new JobRepository.
func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, source, input_path, title, model, precision, language, task,
	parallel, use_vad, merge_segments, max_chars, convert_script,
	status, progress, current_step, error,
	srt_path, warnings, audio_seconds, elapsed_seconds,
	created_at, started_at, completed_at`

func scanJob(row interface{ Scan(...any) error }) (*Job, error) {
	var j Job
	err := row.Scan(
		&j.ID, &j.Source, &j.InputPath, &j.Title, &j.Model, &j.Precision, &j.Language, &j.Task,
		&j.Parallel, &j.UseVAD, &j.MergeSegments, &j.MaxChars, &j.ConvertScript,
		&j.Status, &j.Progress, &j.CurrentStep, &j.Error,
		&j.SRTPath, &j.Warnings, &j.AudioSeconds, &j.ElapsedSeconds,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// Create inserts a new job in queued state.
func (r *JobRepository) Create(ctx context.Context, job *Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = JobStatusQueued
	}
	if job.Task == "" {
		job.Task = "transcribe"
	}
	if job.MaxChars <= 0 {
		job.MaxChars = 80
	}
	job.CreatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transcription_jobs (
			id, source, input_path, title, model, precision, language, task,
			parallel, use_vad, merge_segments, max_chars, convert_script,
			status, progress, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		job.ID, job.Source, job.InputPath, job.Title, job.Model, job.Precision,
		job.Language, job.Task, job.Parallel, job.UseVAD, job.MergeSegments,
		job.MaxChars, job.ConvertScript, job.Status, job.CreatedAt,
	)
	return err
}

// GetByID returns a job, or nil when it does not exist.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM transcription_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

// GetNextQueued returns the oldest queued job, or nil when the queue is
// empty.
func (r *JobRepository) GetNextQueued(ctx context.Context) (*Job, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM transcription_jobs
		 WHERE status = ? ORDER BY created_at ASC LIMIT 1`, JobStatusQueued)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

// Start marks a job as running.
func (r *JobRepository) Start(ctx context.Context, id string) error {
	now := time.Now()
	_, err := r.db.ExecContext(ctx,
		`UPDATE transcription_jobs SET status = ?, started_at = ? WHERE id = ?`,
		JobStatusRunning, now, id)
	return err
}

// UpdateProgress updates the progress percent and current step.
func (r *JobRepository) UpdateProgress(ctx context.Context, id string, progress int, step string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE transcription_jobs SET progress = ?, current_step = ? WHERE id = ?`,
		progress, step, id)
	return err
}

// Complete records the finished artifact and run metrics.
func (r *JobRepository) Complete(ctx context.Context, id, srtPath string, warnings int, audioSeconds, elapsedSeconds float64) error {
	now := time.Now()
	_, err := r.db.ExecContext(ctx, `
		UPDATE transcription_jobs
		SET status = ?, progress = 100, current_step = NULL, completed_at = ?,
		    srt_path = ?, warnings = ?, audio_seconds = ?, elapsed_seconds = ?
		WHERE id = ?`,
		JobStatusCompleted, now, srtPath, warnings, audioSeconds, elapsedSeconds, id)
	return err
}

// Fail marks a job as failed with an error message.
func (r *JobRepository) Fail(ctx context.Context, id, errorMsg string) error {
	now := time.Now()
	_, err := r.db.ExecContext(ctx,
		`UPDATE transcription_jobs SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		JobStatusFailed, errorMsg, now, id)
	return err
}

// SetTitle stores the resolved title once a remote source reveals it.
func (r *JobRepository) SetTitle(ctx context.Context, id, title string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE transcription_jobs SET title = ? WHERE id = ?`, title, id)
	return err
}

// ListRecent returns the newest jobs, most recent first.
func (r *JobRepository) ListRecent(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM transcription_jobs
		 ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// CleanupCompleted deletes finished jobs older than the cutoff and returns
// how many rows went away.
func (r *JobRepository) CleanupCompleted(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM transcription_jobs
		WHERE status IN (?, ?) AND completed_at < ?`,
		JobStatusCompleted, JobStatusFailed, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Ptr returns a pointer to v, for optional columns.
func Ptr[T any](v T) *T {
	return &v
}
