// Package orchestrator drives each submission through its processing
// state machine and coordinates group verification across a holder's
// documents.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veridoc-ai/veridoc/internal/cache"
	"github.com/veridoc-ai/veridoc/internal/extraction"
	"github.com/veridoc-ai/veridoc/internal/observability"
	"github.com/veridoc-ai/veridoc/internal/storage"
	"github.com/veridoc-ai/veridoc/internal/structuring"
	"github.com/veridoc-ai/veridoc/internal/verification"
)

// Store is the persistence surface the pipeline drives. All job writes
// go through the pipeline, which is the single logical writer.
type Store interface {
	CreateSubmission(ctx context.Context, sub *storage.DocumentSubmission) error
	GetSubmission(ctx context.Context, id uuid.UUID) (*storage.DocumentSubmission, error)
	ListSubmissionsByOwner(ctx context.Context, ownerID uuid.UUID) ([]*storage.DocumentSubmission, error)
	CountSubmissionsByOwner(ctx context.Context, ownerID uuid.UUID) (int, error)
	SaveExtraction(ctx context.Context, res *storage.ExtractionResult) error
	GetExtraction(ctx context.Context, submissionID uuid.UUID) (*storage.ExtractionResult, error)
	SaveFieldExtraction(ctx context.Context, fe *storage.FieldExtraction) error
	GetFieldExtraction(ctx context.Context, submissionID uuid.UUID) (*storage.FieldExtraction, error)
	ReplaceVerificationRecords(ctx context.Context, ownerID uuid.UUID, records []*storage.VerificationRecord) error
	ListVerificationRecords(ctx context.Context, ownerID uuid.UUID) ([]*storage.VerificationRecord, error)
	SaveJob(ctx context.Context, job *storage.Job) error
	GetJob(ctx context.Context, submissionID uuid.UUID) (*storage.Job, error)
	ListJobsByOwner(ctx context.Context, ownerID uuid.UUID) ([]*storage.Job, error)
}

// Loader resolves a submission's file reference to its bytes.
type Loader interface {
	Load(ctx context.Context, fileRef string) ([]byte, error)
}

// Extractor produces raw text from document bytes.
type Extractor interface {
	Extract(ctx context.Context, input *extraction.Input) (*extraction.Result, error)
}

// Structurer produces a validated field set from raw text.
type Structurer interface {
	Structure(ctx context.Context, class storage.SchemaClass, text string) (*structuring.Result, error)
}

// Verifier compares a holder's structured extractions pairwise.
type Verifier interface {
	VerifyGroup(ctx context.Context, ownerID uuid.UUID, submissions []storage.DocumentSubmission, extractions map[uuid.UUID]*storage.FieldExtraction) (*verification.GroupResult, error)
}

// Config holds pipeline tuning.
type Config struct {
	MaxAttempts       int
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	MaxConcurrentJobs int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		BackoffBase:       500 * time.Millisecond,
		BackoffMax:        10 * time.Second,
		MaxConcurrentJobs: 8,
	}
}

// Pipeline owns submission processing. One goroutine runs per active
// submission; group verification is single-flight per owner.
type Pipeline struct {
	store      Store
	loader     Loader
	extractor  Extractor
	structurer Structurer
	verifier   Verifier
	cfg        Config
	logger     *observability.Logger

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
	sem     chan struct{}

	statusCache cache.Client
	statusTTL   time.Duration

	mu         sync.Mutex
	cancels    map[uuid.UUID]context.CancelFunc
	ownerLocks map[uuid.UUID]*sync.Mutex
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithStatusCache caches status snapshots for the poll surface. Keep the
// TTL short; polls may serve a snapshot up to ttl old.
func WithStatusCache(c cache.Client, ttl time.Duration) Option {
	return func(p *Pipeline) {
		p.statusCache = c
		p.statusTTL = ttl
	}
}

// NewPipeline creates a pipeline. Call Close to drain in-flight work.
func NewPipeline(store Store, loader Loader, extractor Extractor, structurer Structurer, verifier Verifier, cfg Config, logger *observability.Logger, opts ...Option) *Pipeline {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 10 * time.Second
	}
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = 8
	}
	if logger == nil {
		logger = observability.Nop()
	}
	baseCtx, stop := context.WithCancel(context.Background())
	p := &Pipeline{
		store:      store,
		loader:     loader,
		extractor:  extractor,
		structurer: structurer,
		verifier:   verifier,
		cfg:        cfg,
		logger:     logger,
		baseCtx:    baseCtx,
		stop:       stop,
		sem:        make(chan struct{}, cfg.MaxConcurrentJobs),
		cancels:    make(map[uuid.UUID]context.CancelFunc),
		ownerLocks: make(map[uuid.UUID]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit registers a document and queues it for processing. The
// submission's sequence number is assigned from the owner's upload
// count.
func (p *Pipeline) Submit(ctx context.Context, sub *storage.DocumentSubmission) (*storage.Job, error) {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	count, err := p.store.CountSubmissionsByOwner(ctx, sub.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("count submissions: %w", err)
	}
	sub.Seq = count

	if err := p.store.CreateSubmission(ctx, sub); err != nil {
		return nil, fmt.Errorf("create submission: %w", err)
	}

	job := &storage.Job{
		SubmissionID: sub.ID,
		OwnerID:      sub.OwnerID,
		Stage:        storage.StageQueued,
		Attempts:     make(map[storage.Stage]int),
		UpdatedAt:    time.Now().UTC(),
	}
	if err := p.store.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}

	p.launch(sub.ID)
	return job, nil
}

// Recover re-launches processing for jobs that were interrupted before
// reaching a terminal stage, and re-evaluates owners stuck awaiting
// peers.
func (p *Pipeline) Recover(ctx context.Context, ownerIDs []uuid.UUID) error {
	for _, ownerID := range ownerIDs {
		jobs, err := p.store.ListJobsByOwner(ctx, ownerID)
		if err != nil {
			return fmt.Errorf("list jobs for %s: %w", ownerID, err)
		}
		for _, job := range jobs {
			if job.Terminal() {
				continue
			}
			p.launch(job.SubmissionID)
		}
	}
	return nil
}

// Cancel aborts in-flight processing for a submission. Results of the
// aborted stage are discarded; the job is marked failed.
func (p *Pipeline) Cancel(submissionID uuid.UUID) bool {
	p.mu.Lock()
	cancel, ok := p.cancels[submissionID]
	p.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Close stops accepting work and waits for in-flight goroutines.
func (p *Pipeline) Close() {
	p.stop()
	p.wg.Wait()
}

func (p *Pipeline) launch(submissionID uuid.UUID) {
	p.mu.Lock()
	if _, running := p.cancels[submissionID]; running {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(p.baseCtx)
	p.cancels[submissionID] = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			cancel()
			p.mu.Lock()
			delete(p.cancels, submissionID)
			p.mu.Unlock()
		}()

		select {
		case p.sem <- struct{}{}:
			defer func() { <-p.sem }()
		case <-ctx.Done():
			return
		}
		p.process(ctx, submissionID)
	}()
}

// process advances one submission until it parks at awaiting_peers or
// reaches a terminal stage. All stage writes happen here, keeping a
// single writer per job.
func (p *Pipeline) process(ctx context.Context, submissionID uuid.UUID) {
	job, err := p.store.GetJob(p.baseCtx, submissionID)
	if err != nil {
		p.logger.Error().Err(err).Str("submission_id", submissionID.String()).Msg("load job")
		return
	}
	sub, err := p.store.GetSubmission(p.baseCtx, submissionID)
	if err != nil {
		p.logger.Error().Err(err).Str("submission_id", submissionID.String()).Msg("load submission")
		return
	}
	log := p.logger.WithSubmission(submissionID.String()).WithOwner(sub.OwnerID.String())

	for !job.Terminal() && job.Stage != storage.StageAwaitingPeers && job.Stage != storage.StageVerifying {
		if ctx.Err() != nil {
			p.fail(job, "processing canceled")
			break
		}

		switch job.Stage {
		case storage.StageQueued:
			p.transition(job, storage.StageExtracting, nil)

		case storage.StageExtracting:
			err := p.runExtraction(ctx, sub)
			if err != nil {
				p.retryOrFail(ctx, job, storage.StageExtracting, err, true)
				continue
			}
			p.transition(job, storage.StageStructuring, nil)

		case storage.StageStructuring:
			err := p.runStructuring(ctx, sub)
			if err != nil {
				p.retryOrFail(ctx, job, storage.StageStructuring, err, structuring.IsRetryable(err))
				continue
			}
			p.transition(job, storage.StageAwaitingPeers, nil)
		}
	}

	if job.Stage == storage.StageAwaitingPeers || job.Stage == storage.StageVerifying {
		log.Info().Msg("submission parked")
	} else {
		log.Info().Str("stage", string(job.Stage)).Msg("submission finished")
	}
	p.evaluateGroup(sub.OwnerID)
}

// runExtraction loads the file and runs the strategy cascade, unless a
// previous attempt already produced text. Structuring retries never
// re-trigger extraction because the result is persisted here.
func (p *Pipeline) runExtraction(ctx context.Context, sub *storage.DocumentSubmission) error {
	if existing, err := p.store.GetExtraction(ctx, sub.ID); err == nil && existing != nil {
		return nil
	}

	data, err := p.loader.Load(ctx, sub.FileRef)
	if err != nil {
		return fmt.Errorf("load %s: %w", sub.FileRef, err)
	}
	result, err := p.extractor.Extract(ctx, &extraction.Input{
		Data:    data,
		Format:  sub.Format,
		Capture: sub.Capture,
	})
	if err != nil {
		return err
	}
	return p.store.SaveExtraction(ctx, &storage.ExtractionResult{
		ID:           uuid.New(),
		SubmissionID: sub.ID,
		Text:         result.Text,
		Strategy:     result.Strategy,
		CharCount:    result.CharCount,
		CreatedAt:    time.Now().UTC(),
	})
}

func (p *Pipeline) runStructuring(ctx context.Context, sub *storage.DocumentSubmission) error {
	extracted, err := p.store.GetExtraction(ctx, sub.ID)
	if err != nil {
		return fmt.Errorf("load extraction: %w", err)
	}
	result, err := p.structurer.Structure(ctx, storage.SchemaClassFor(sub.Kind), extracted.Text)
	if err != nil {
		return err
	}
	return p.store.SaveFieldExtraction(ctx, &storage.FieldExtraction{
		ID:                uuid.New(),
		SubmissionID:      sub.ID,
		Class:             result.Class,
		Fields:            result.Fields,
		StatedPercentage:  result.StatedPercentage,
		DerivedPercentage: result.DerivedPercentage,
		CreatedAt:         time.Now().UTC(),
	})
}

// retryOrFail records a stage failure, then either backs off for another
// try or marks the job failed. Non-retryable errors and exhausted
// attempt budgets both terminate the job.
func (p *Pipeline) retryOrFail(ctx context.Context, job *storage.Job, stage storage.Stage, cause error, retryable bool) {
	job.Attempts[stage]++
	attempts := job.Attempts[stage]

	log := p.logger.WithSubmission(job.SubmissionID.String())
	log.Warn().Err(cause).Str("stage", string(stage)).Int("attempt", attempts).Msg("stage attempt failed")

	if !retryable || attempts >= p.cfg.MaxAttempts {
		p.fail(job, cause.Error())
		return
	}

	// persist the attempt count before waiting
	p.transition(job, stage, nil)

	backoff := p.cfg.BackoffBase << (attempts - 1)
	if backoff > p.cfg.BackoffMax {
		backoff = p.cfg.BackoffMax
	}
	select {
	case <-ctx.Done():
	case <-time.After(backoff):
	}
}

func (p *Pipeline) fail(job *storage.Job, reason string) {
	p.transition(job, storage.StageFailed, &reason)
}

// transition is the single writer for job state. Illegal moves are
// programming errors and are logged, not applied.
func (p *Pipeline) transition(job *storage.Job, next storage.Stage, lastErr *string) {
	if !job.Stage.CanTransition(next) {
		p.logger.Error().
			Str("submission_id", job.SubmissionID.String()).
			Str("from", string(job.Stage)).
			Str("to", string(next)).
			Msg("illegal stage transition rejected")
		return
	}
	job.Stage = next
	job.LastError = lastErr
	job.UpdatedAt = time.Now().UTC()
	if err := p.store.SaveJob(p.baseCtx, job); err != nil {
		p.logger.Error().Err(err).Str("submission_id", job.SubmissionID.String()).Msg("persist job")
	}
}

// evaluateGroup runs group verification once every live sibling of the
// owner has parked at awaiting_peers. Failed siblings are dropped from
// the needed set so they cannot block their peers forever. Completed
// siblings rejoin the verification set with their persisted extractions,
// so a late arrival re-verifies against the whole group instead of
// erasing its pairs. Evaluations for an owner are serialized; a second
// pass after the first completed the group finds no ready jobs and is a
// no-op.
func (p *Pipeline) evaluateGroup(ownerID uuid.UUID) {
	lock := p.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	ctx := p.baseCtx
	jobs, err := p.store.ListJobsByOwner(ctx, ownerID)
	if err != nil {
		p.logger.Error().Err(err).Str("owner_id", ownerID.String()).Msg("list jobs")
		return
	}

	var ready []*storage.Job
	var members []uuid.UUID
	for _, job := range jobs {
		switch job.Stage {
		case storage.StageFailed:
		case storage.StageComplete:
			members = append(members, job.SubmissionID)
		case storage.StageAwaitingPeers, storage.StageVerifying:
			// verifying here means a previous run was interrupted mid
			// group verification; it re-verifies with its peers.
			ready = append(ready, job)
			members = append(members, job.SubmissionID)
		default:
			// a sibling is still working; verification waits
			return
		}
	}
	if len(ready) == 0 {
		return
	}

	for _, job := range ready {
		p.transition(job, storage.StageVerifying, nil)
	}

	submissions := make([]storage.DocumentSubmission, 0, len(members))
	extractions := make(map[uuid.UUID]*storage.FieldExtraction, len(members))
	for _, id := range members {
		sub, err := p.store.GetSubmission(ctx, id)
		if err != nil {
			p.failGroup(ready, fmt.Sprintf("load submission: %v", err))
			return
		}
		fe, err := p.store.GetFieldExtraction(ctx, id)
		if err != nil {
			p.failGroup(ready, fmt.Sprintf("load field extraction: %v", err))
			return
		}
		submissions = append(submissions, *sub)
		extractions[sub.ID] = fe
	}

	result, err := p.verifier.VerifyGroup(ctx, ownerID, submissions, extractions)
	if err != nil {
		p.failGroup(ready, fmt.Sprintf("group verification: %v", err))
		return
	}

	records := make([]*storage.VerificationRecord, len(result.Records))
	for i := range result.Records {
		records[i] = &result.Records[i]
	}
	if err := p.store.ReplaceVerificationRecords(ctx, ownerID, records); err != nil {
		p.failGroup(ready, fmt.Sprintf("persist verification: %v", err))
		return
	}

	for _, job := range ready {
		p.transition(job, storage.StageComplete, nil)
	}
	p.logger.Info().
		Str("owner_id", ownerID.String()).
		Str("verdict", string(result.Verdict)).
		Int("documents", len(members)).
		Msg("document group verified")
}

func (p *Pipeline) ownerLock(ownerID uuid.UUID) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.ownerLocks[ownerID]
	if !ok {
		lock = &sync.Mutex{}
		p.ownerLocks[ownerID] = lock
	}
	return lock
}

func (p *Pipeline) failGroup(jobs []*storage.Job, reason string) {
	for _, job := range jobs {
		p.fail(job, reason)
	}
}
