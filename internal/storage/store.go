package storage

import (
	"context"

	"github.com/google/uuid"
)

// SQLStore exposes the repositories behind a single flat surface. The
// pipeline mutates all persisted state through this type so there is one
// logical writer per submission.
type SQLStore struct {
	repos *Repositories
}

// NewSQLStore creates a store over the given connection.
func NewSQLStore(db DB) *SQLStore {
	return &SQLStore{repos: NewRepositories(db)}
}

// CreateSubmission persists a new submission.
func (s *SQLStore) CreateSubmission(ctx context.Context, sub *DocumentSubmission) error {
	return s.repos.Submissions.Create(ctx, sub)
}

// GetSubmission retrieves a submission by ID.
func (s *SQLStore) GetSubmission(ctx context.Context, id uuid.UUID) (*DocumentSubmission, error) {
	return s.repos.Submissions.GetByID(ctx, id)
}

// ListSubmissionsByOwner lists an owner's submissions in upload order.
func (s *SQLStore) ListSubmissionsByOwner(ctx context.Context, ownerID uuid.UUID) ([]*DocumentSubmission, error) {
	return s.repos.Submissions.ListByOwner(ctx, ownerID)
}

// CountSubmissionsByOwner counts an owner's submissions.
func (s *SQLStore) CountSubmissionsByOwner(ctx context.Context, ownerID uuid.UUID) (int, error) {
	return s.repos.Submissions.CountByOwner(ctx, ownerID)
}

// SaveExtraction stores the live raw-text result for a submission.
func (s *SQLStore) SaveExtraction(ctx context.Context, res *ExtractionResult) error {
	return s.repos.Extractions.Save(ctx, res)
}

// GetExtraction retrieves the live raw-text result for a submission.
func (s *SQLStore) GetExtraction(ctx context.Context, submissionID uuid.UUID) (*ExtractionResult, error) {
	return s.repos.Extractions.GetBySubmission(ctx, submissionID)
}

// SaveFieldExtraction stores the structured field map for a submission.
func (s *SQLStore) SaveFieldExtraction(ctx context.Context, fe *FieldExtraction) error {
	return s.repos.Fields.Save(ctx, fe)
}

// GetFieldExtraction retrieves the structured field map for a submission.
func (s *SQLStore) GetFieldExtraction(ctx context.Context, submissionID uuid.UUID) (*FieldExtraction, error) {
	return s.repos.Fields.GetBySubmission(ctx, submissionID)
}

// ReplaceVerificationRecords replaces the owner's verification records.
func (s *SQLStore) ReplaceVerificationRecords(ctx context.Context, ownerID uuid.UUID, records []*VerificationRecord) error {
	return s.repos.Verifications.ReplaceForOwner(ctx, ownerID, records)
}

// ListVerificationRecords lists an owner's verification records.
func (s *SQLStore) ListVerificationRecords(ctx context.Context, ownerID uuid.UUID) ([]*VerificationRecord, error) {
	return s.repos.Verifications.ListByOwner(ctx, ownerID)
}

// SaveJob upserts a submission's job state.
func (s *SQLStore) SaveJob(ctx context.Context, job *Job) error {
	return s.repos.Jobs.Save(ctx, job)
}

// GetJob retrieves a submission's job state.
func (s *SQLStore) GetJob(ctx context.Context, submissionID uuid.UUID) (*Job, error) {
	return s.repos.Jobs.Get(ctx, submissionID)
}

// ListJobsByOwner lists the jobs of an owner's submissions.
func (s *SQLStore) ListJobsByOwner(ctx context.Context, ownerID uuid.UUID) ([]*Job, error) {
	return s.repos.Jobs.ListByOwner(ctx, ownerID)
}
