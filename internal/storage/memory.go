package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory store with the same surface as SQLStore. Used
// by unit tests and the demo path; safe for concurrent use.
type MemoryStore struct {
	mu            sync.RWMutex
	submissions   map[uuid.UUID]*DocumentSubmission
	extractions   map[uuid.UUID]*ExtractionResult
	fields        map[uuid.UUID]*FieldExtraction
	verifications map[uuid.UUID][]*VerificationRecord
	jobs          map[uuid.UUID]*Job
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		submissions:   make(map[uuid.UUID]*DocumentSubmission),
		extractions:   make(map[uuid.UUID]*ExtractionResult),
		fields:        make(map[uuid.UUID]*FieldExtraction),
		verifications: make(map[uuid.UUID][]*VerificationRecord),
		jobs:          make(map[uuid.UUID]*Job),
	}
}

// CreateSubmission persists a new submission.
func (s *MemoryStore) CreateSubmission(ctx context.Context, sub *DocumentSubmission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	if _, exists := s.submissions[sub.ID]; exists {
		return ErrConflict
	}
	cp := *sub
	s.submissions[sub.ID] = &cp
	return nil
}

// GetSubmission retrieves a submission by ID.
func (s *MemoryStore) GetSubmission(ctx context.Context, id uuid.UUID) (*DocumentSubmission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.submissions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

// ListSubmissionsByOwner lists an owner's submissions in upload order.
func (s *MemoryStore) ListSubmissionsByOwner(ctx context.Context, ownerID uuid.UUID) ([]*DocumentSubmission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var subs []*DocumentSubmission
	for _, sub := range s.submissions {
		if sub.OwnerID == ownerID {
			cp := *sub
			subs = append(subs, &cp)
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].Seq < subs[j].Seq })
	return subs, nil
}

// CountSubmissionsByOwner counts an owner's submissions.
func (s *MemoryStore) CountSubmissionsByOwner(ctx context.Context, ownerID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, sub := range s.submissions {
		if sub.OwnerID == ownerID {
			n++
		}
	}
	return n, nil
}

// SaveExtraction stores the live raw-text result for a submission.
func (s *MemoryStore) SaveExtraction(ctx context.Context, res *ExtractionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now().UTC()
	}
	res.CharCount = len(res.Text)
	cp := *res
	s.extractions[res.SubmissionID] = &cp
	return nil
}

// GetExtraction retrieves the live raw-text result for a submission.
func (s *MemoryStore) GetExtraction(ctx context.Context, submissionID uuid.UUID) (*ExtractionResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, ok := s.extractions[submissionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *res
	return &cp, nil
}

// SaveFieldExtraction stores the structured field map for a submission.
func (s *MemoryStore) SaveFieldExtraction(ctx context.Context, fe *FieldExtraction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if fe.ID == uuid.Nil {
		fe.ID = uuid.New()
	}
	if fe.CreatedAt.IsZero() {
		fe.CreatedAt = time.Now().UTC()
	}
	cp := *fe
	cp.Fields = copyFields(fe.Fields)
	s.fields[fe.SubmissionID] = &cp
	return nil
}

// GetFieldExtraction retrieves the structured field map for a submission.
func (s *MemoryStore) GetFieldExtraction(ctx context.Context, submissionID uuid.UUID) (*FieldExtraction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fe, ok := s.fields[submissionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *fe
	cp.Fields = copyFields(fe.Fields)
	return &cp, nil
}

// ReplaceVerificationRecords replaces the owner's verification records.
func (s *MemoryStore) ReplaceVerificationRecords(ctx context.Context, ownerID uuid.UUID, records []*VerificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]*VerificationRecord, 0, len(records))
	for _, rec := range records {
		if rec.ID == uuid.Nil {
			rec.ID = uuid.New()
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = time.Now().UTC()
		}
		cp := *rec
		cp.Comparisons = append([]FieldComparison(nil), rec.Comparisons...)
		stored = append(stored, &cp)
	}
	s.verifications[ownerID] = stored
	return nil
}

// ListVerificationRecords lists an owner's verification records.
func (s *MemoryStore) ListVerificationRecords(ctx context.Context, ownerID uuid.UUID) ([]*VerificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.verifications[ownerID]
	out := make([]*VerificationRecord, 0, len(records))
	for _, rec := range records {
		cp := *rec
		cp.Comparisons = append([]FieldComparison(nil), rec.Comparisons...)
		out = append(out, &cp)
	}
	return out, nil
}

// SaveJob upserts a submission's job state.
func (s *MemoryStore) SaveJob(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job.UpdatedAt = time.Now().UTC()
	cp := *job
	cp.Attempts = copyAttempts(job.Attempts)
	s.jobs[job.SubmissionID] = &cp
	return nil
}

// GetJob retrieves a submission's job state.
func (s *MemoryStore) GetJob(ctx context.Context, submissionID uuid.UUID) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[submissionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *job
	cp.Attempts = copyAttempts(job.Attempts)
	return &cp, nil
}

// ListJobsByOwner lists the jobs of an owner's submissions.
func (s *MemoryStore) ListJobsByOwner(ctx context.Context, ownerID uuid.UUID) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var jobs []*Job
	for _, job := range s.jobs {
		if job.OwnerID == ownerID {
			cp := *job
			cp.Attempts = copyAttempts(job.Attempts)
			jobs = append(jobs, &cp)
		}
	}
	return jobs, nil
}

func copyFields(in map[string]FieldValue) map[string]FieldValue {
	if in == nil {
		return nil
	}
	out := make(map[string]FieldValue, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyAttempts(in map[Stage]int) map[Stage]int {
	if in == nil {
		return nil
	}
	out := make(map[Stage]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
