package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/veridoc-ai/veridoc/internal/storage"
)

// SubmissionStatus is a point-in-time snapshot of one submission. It
// never blocks on in-flight processing.
type SubmissionStatus struct {
	SubmissionID uuid.UUID                     `json:"submission_id"`
	OwnerID      uuid.UUID                     `json:"owner_id"`
	Stage        storage.Stage                 `json:"stage"`
	Attempts     map[storage.Stage]int         `json:"attempts,omitempty"`
	LastError    *string                       `json:"last_error,omitempty"`
	Fields       map[string]storage.FieldValue `json:"fields,omitempty"`
	Verdict      *storage.Verdict              `json:"verdict,omitempty"`
}

// GroupStatus summarizes a holder's document set.
type GroupStatus struct {
	OwnerID     uuid.UUID                     `json:"owner_id"`
	Submissions []SubmissionStatus            `json:"submissions"`
	Records     []*storage.VerificationRecord `json:"records,omitempty"`
	Verdict     storage.Verdict               `json:"verdict"`
}

// Status reports the current stage of one submission, with partial
// results where available. Snapshots are cached briefly when a status
// cache is configured; a poll may lag by up to the cache TTL.
func (p *Pipeline) Status(ctx context.Context, submissionID uuid.UUID) (*SubmissionStatus, error) {
	if cached, ok := p.cachedStatus(ctx, submissionID); ok {
		return cached, nil
	}

	job, err := p.store.GetJob(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}

	status := &SubmissionStatus{
		SubmissionID: job.SubmissionID,
		OwnerID:      job.OwnerID,
		Stage:        job.Stage,
		Attempts:     job.Attempts,
		LastError:    job.LastError,
	}

	if fe, err := p.store.GetFieldExtraction(ctx, submissionID); err == nil && fe != nil {
		status.Fields = fe.Fields
	}

	if job.Stage == storage.StageComplete {
		records, err := p.store.ListVerificationRecords(ctx, job.OwnerID)
		if err == nil && len(records) > 0 {
			verdict := AggregateVerdict(records)
			status.Verdict = &verdict
		}
	}

	p.storeStatus(ctx, status)
	return status, nil
}

func statusCacheKey(id uuid.UUID) string {
	return "status:" + id.String()
}

func (p *Pipeline) cachedStatus(ctx context.Context, id uuid.UUID) (*SubmissionStatus, bool) {
	if p.statusCache == nil {
		return nil, false
	}
	raw, err := p.statusCache.Get(ctx, statusCacheKey(id))
	if err != nil {
		return nil, false
	}
	var status SubmissionStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, false
	}
	return &status, true
}

func (p *Pipeline) storeStatus(ctx context.Context, status *SubmissionStatus) {
	if p.statusCache == nil {
		return
	}
	raw, err := json.Marshal(status)
	if err != nil {
		return
	}
	_ = p.statusCache.Set(ctx, statusCacheKey(status.SubmissionID), raw, p.statusTTL)
}

// Group reports the status of every submission for an owner, plus the
// stored pair records and the aggregate verdict.
func (p *Pipeline) Group(ctx context.Context, ownerID uuid.UUID) (*GroupStatus, error) {
	jobs, err := p.store.ListJobsByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil, storage.ErrNotFound
	}

	group := &GroupStatus{OwnerID: ownerID, Verdict: storage.VerdictInconclusive}
	for _, job := range jobs {
		status, err := p.Status(ctx, job.SubmissionID)
		if err != nil {
			return nil, err
		}
		group.Submissions = append(group.Submissions, *status)
	}

	records, err := p.store.ListVerificationRecords(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list verification records: %w", err)
	}
	group.Records = records
	if len(records) > 0 {
		group.Verdict = AggregateVerdict(records)
	}
	return group, nil
}

// AggregateVerdict folds pair verdicts: any failed pair fails the
// group; otherwise at least one verified pair verifies it.
func AggregateVerdict(records []*storage.VerificationRecord) storage.Verdict {
	anyVerified := false
	for _, record := range records {
		switch record.Verdict {
		case storage.VerdictFailed:
			return storage.VerdictFailed
		case storage.VerdictVerified:
			anyVerified = true
		}
	}
	if anyVerified {
		return storage.VerdictVerified
	}
	return storage.VerdictInconclusive
}
