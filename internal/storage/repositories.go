package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Common errors
var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record conflict")
)

// DB represents a database connection interface.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Repositories bundles all repositories over one connection.
type Repositories struct {
	Submissions   *SubmissionRepository
	Extractions   *ExtractionRepository
	Fields        *FieldExtractionRepository
	Verifications *VerificationRepository
	Jobs          *JobRepository
}

// NewRepositories creates repositories over the given connection.
func NewRepositories(db DB) *Repositories {
	return &Repositories{
		Submissions:   NewSubmissionRepository(db),
		Extractions:   NewExtractionRepository(db),
		Fields:        NewFieldExtractionRepository(db),
		Verifications: NewVerificationRepository(db),
		Jobs:          NewJobRepository(db),
	}
}

// SubmissionRepository handles document submission persistence.
type SubmissionRepository struct {
	db DB
}

// NewSubmissionRepository creates a new submission repository.
func NewSubmissionRepository(db DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

// Create creates a new submission. Seq is assigned from the owner's current
// submission count when left at zero with existing siblings.
func (r *SubmissionRepository) Create(ctx context.Context, sub *DocumentSubmission) error {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO submissions (id, owner_id, kind, format, capture, file_ref, seq, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		sub.ID.String(), sub.OwnerID.String(), sub.Kind, sub.Format,
		sub.Capture, sub.FileRef, sub.Seq, sub.CreatedAt,
	)
	return err
}

// GetByID retrieves a submission by ID.
func (r *SubmissionRepository) GetByID(ctx context.Context, id uuid.UUID) (*DocumentSubmission, error) {
	query := `
		SELECT id, owner_id, kind, format, capture, file_ref, seq, created_at
		FROM submissions WHERE id = $1
	`
	return scanSubmission(r.db.QueryRowContext(ctx, query, id.String()))
}

// ListByOwner retrieves all submissions for one owner in upload order.
func (r *SubmissionRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*DocumentSubmission, error) {
	query := `
		SELECT id, owner_id, kind, format, capture, file_ref, seq, created_at
		FROM submissions WHERE owner_id = $1 ORDER BY seq ASC
	`
	rows, err := r.db.QueryContext(ctx, query, ownerID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*DocumentSubmission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// CountByOwner returns the number of submissions for an owner.
func (r *SubmissionRepository) CountByOwner(ctx context.Context, ownerID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM submissions WHERE owner_id = $1`, ownerID.String()).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubmission(row rowScanner) (*DocumentSubmission, error) {
	var (
		sub             DocumentSubmission
		idStr, ownerStr string
	)
	err := row.Scan(&idStr, &ownerStr, &sub.Kind, &sub.Format, &sub.Capture,
		&sub.FileRef, &sub.Seq, &sub.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if sub.ID, err = uuid.Parse(idStr); err != nil {
		return nil, fmt.Errorf("parse submission id: %w", err)
	}
	if sub.OwnerID, err = uuid.Parse(ownerStr); err != nil {
		return nil, fmt.Errorf("parse owner id: %w", err)
	}
	return &sub, nil
}

// ExtractionRepository handles raw-text extraction results.
type ExtractionRepository struct {
	db DB
}

// NewExtractionRepository creates a new extraction repository.
func NewExtractionRepository(db DB) *ExtractionRepository {
	return &ExtractionRepository{db: db}
}

// Save stores the live extraction result for a submission, replacing any
// result from a superseded attempt.
func (r *ExtractionRepository) Save(ctx context.Context, res *ExtractionResult) error {
	if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now().UTC()
	}
	res.CharCount = len(res.Text)

	query := `
		INSERT INTO extraction_results (id, submission_id, text, strategy, char_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT(submission_id) DO UPDATE SET
			text = excluded.text,
			strategy = excluded.strategy,
			char_count = excluded.char_count,
			created_at = excluded.created_at
	`
	_, err := r.db.ExecContext(ctx, query,
		res.ID.String(), res.SubmissionID.String(), res.Text, res.Strategy,
		res.CharCount, res.CreatedAt,
	)
	return err
}

// GetBySubmission retrieves the live extraction result for a submission.
func (r *ExtractionRepository) GetBySubmission(ctx context.Context, submissionID uuid.UUID) (*ExtractionResult, error) {
	query := `
		SELECT id, submission_id, text, strategy, char_count, created_at
		FROM extraction_results WHERE submission_id = $1
	`
	var (
		res           ExtractionResult
		idStr, subStr string
	)
	err := r.db.QueryRowContext(ctx, query, submissionID.String()).Scan(
		&idStr, &subStr, &res.Text, &res.Strategy, &res.CharCount, &res.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	res.ID, _ = uuid.Parse(idStr)
	res.SubmissionID, _ = uuid.Parse(subStr)
	return &res, nil
}

// FieldExtractionRepository handles structured field maps.
type FieldExtractionRepository struct {
	db DB
}

// NewFieldExtractionRepository creates a new field extraction repository.
func NewFieldExtractionRepository(db DB) *FieldExtractionRepository {
	return &FieldExtractionRepository{db: db}
}

// Save stores the field extraction for a submission, replacing any earlier one.
func (r *FieldExtractionRepository) Save(ctx context.Context, fe *FieldExtraction) error {
	if fe.ID == uuid.Nil {
		fe.ID = uuid.New()
	}
	if fe.CreatedAt.IsZero() {
		fe.CreatedAt = time.Now().UTC()
	}

	fields, err := json.Marshal(fe.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}

	query := `
		INSERT INTO field_extractions (id, submission_id, class, fields, stated_percentage, derived_percentage, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT(submission_id) DO UPDATE SET
			class = excluded.class,
			fields = excluded.fields,
			stated_percentage = excluded.stated_percentage,
			derived_percentage = excluded.derived_percentage,
			created_at = excluded.created_at
	`
	_, err = r.db.ExecContext(ctx, query,
		fe.ID.String(), fe.SubmissionID.String(), fe.Class, string(fields),
		fe.StatedPercentage, fe.DerivedPercentage, fe.CreatedAt,
	)
	return err
}

// GetBySubmission retrieves the field extraction for a submission.
func (r *FieldExtractionRepository) GetBySubmission(ctx context.Context, submissionID uuid.UUID) (*FieldExtraction, error) {
	query := `
		SELECT id, submission_id, class, fields, stated_percentage, derived_percentage, created_at
		FROM field_extractions WHERE submission_id = $1
	`
	var (
		fe            FieldExtraction
		idStr, subStr string
		fields        string
	)
	err := r.db.QueryRowContext(ctx, query, submissionID.String()).Scan(
		&idStr, &subStr, &fe.Class, &fields, &fe.StatedPercentage,
		&fe.DerivedPercentage, &fe.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(fields), &fe.Fields); err != nil {
		return nil, fmt.Errorf("unmarshal fields: %w", err)
	}
	fe.ID, _ = uuid.Parse(idStr)
	fe.SubmissionID, _ = uuid.Parse(subStr)
	return &fe, nil
}

// VerificationRepository handles verification records.
type VerificationRepository struct {
	db DB
}

// NewVerificationRepository creates a new verification repository.
func NewVerificationRepository(db DB) *VerificationRepository {
	return &VerificationRepository{db: db}
}

// ReplaceForOwner atomically replaces the owner's verification records with
// the given set, preserving slice order via created_at insertion order.
func (r *VerificationRepository) ReplaceForOwner(ctx context.Context, ownerID uuid.UUID, records []*VerificationRecord) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM verification_records WHERE owner_id = $1`, ownerID.String()); err != nil {
		return err
	}

	query := `
		INSERT INTO verification_records (id, owner_id, submission_a, submission_b, comparisons, verdict, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	for i, rec := range records {
		if rec.ID == uuid.Nil {
			rec.ID = uuid.New()
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Microsecond)
		}
		comparisons, err := json.Marshal(rec.Comparisons)
		if err != nil {
			return fmt.Errorf("marshal comparisons: %w", err)
		}
		if _, err := r.db.ExecContext(ctx, query,
			rec.ID.String(), rec.OwnerID.String(), rec.SubmissionA.String(),
			rec.SubmissionB.String(), string(comparisons), rec.Verdict, rec.CreatedAt,
		); err != nil {
			return err
		}
	}
	return nil
}

// ListByOwner retrieves verification records for an owner in insertion order.
func (r *VerificationRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*VerificationRecord, error) {
	query := `
		SELECT id, owner_id, submission_a, submission_b, comparisons, verdict, created_at
		FROM verification_records WHERE owner_id = $1 ORDER BY created_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, ownerID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*VerificationRecord
	for rows.Next() {
		var (
			rec              VerificationRecord
			idStr, ownerStr  string
			subAStr, subBStr string
			comparisons      string
		)
		if err := rows.Scan(&idStr, &ownerStr, &subAStr, &subBStr,
			&comparisons, &rec.Verdict, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(comparisons), &rec.Comparisons); err != nil {
			return nil, fmt.Errorf("unmarshal comparisons: %w", err)
		}
		rec.ID, _ = uuid.Parse(idStr)
		rec.OwnerID, _ = uuid.Parse(ownerStr)
		rec.SubmissionA, _ = uuid.Parse(subAStr)
		rec.SubmissionB, _ = uuid.Parse(subBStr)
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// JobRepository handles per-submission job state.
type JobRepository struct {
	db DB
}

// NewJobRepository creates a new job repository.
func NewJobRepository(db DB) *JobRepository {
	return &JobRepository{db: db}
}

// Save upserts the job row for a submission.
func (r *JobRepository) Save(ctx context.Context, job *Job) error {
	job.UpdatedAt = time.Now().UTC()

	attempts, err := json.Marshal(job.Attempts)
	if err != nil {
		return fmt.Errorf("marshal attempts: %w", err)
	}

	query := `
		INSERT INTO jobs (submission_id, owner_id, stage, attempts, last_error, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT(submission_id) DO UPDATE SET
			stage = excluded.stage,
			attempts = excluded.attempts,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at
	`
	_, err = r.db.ExecContext(ctx, query,
		job.SubmissionID.String(), job.OwnerID.String(), job.Stage,
		string(attempts), job.LastError, job.UpdatedAt,
	)
	return err
}

// Get retrieves the job for a submission.
func (r *JobRepository) Get(ctx context.Context, submissionID uuid.UUID) (*Job, error) {
	query := `
		SELECT submission_id, owner_id, stage, attempts, last_error, updated_at
		FROM jobs WHERE submission_id = $1
	`
	var (
		job            Job
		subStr, ownStr string
		attempts       string
	)
	err := r.db.QueryRowContext(ctx, query, submissionID.String()).Scan(
		&subStr, &ownStr, &job.Stage, &attempts, &job.LastError, &job.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(attempts), &job.Attempts); err != nil {
		return nil, fmt.Errorf("unmarshal attempts: %w", err)
	}
	job.SubmissionID, _ = uuid.Parse(subStr)
	job.OwnerID, _ = uuid.Parse(ownStr)
	return &job, nil
}

// ListByOwner retrieves all jobs belonging to one owner.
func (r *JobRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*Job, error) {
	query := `
		SELECT submission_id, owner_id, stage, attempts, last_error, updated_at
		FROM jobs WHERE owner_id = $1
	`
	rows, err := r.db.QueryContext(ctx, query, ownerID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		var (
			job            Job
			subStr, ownStr string
			attempts       string
		)
		if err := rows.Scan(&subStr, &ownStr, &job.Stage, &attempts,
			&job.LastError, &job.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(attempts), &job.Attempts); err != nil {
			return nil, fmt.Errorf("unmarshal attempts: %w", err)
		}
		job.SubmissionID, _ = uuid.Parse(subStr)
		job.OwnerID, _ = uuid.Parse(ownStr)
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}
