package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridoc-ai/veridoc/internal/cache"
	"github.com/veridoc-ai/veridoc/internal/extraction"
	"github.com/veridoc-ai/veridoc/internal/llm"
	"github.com/veridoc-ai/veridoc/internal/storage"
	"github.com/veridoc-ai/veridoc/internal/structuring"
	"github.com/veridoc-ai/veridoc/internal/verification"
)

type stubLoader struct{}

func (stubLoader) Load(_ context.Context, _ string) ([]byte, error) {
	return []byte("%PDF-1.4 test"), nil
}

type stubExtractor struct {
	mu    sync.Mutex
	calls int
	errs  []error
	block chan struct{}
}

func (s *stubExtractor) Extract(ctx context.Context, _ *extraction.Input) (*extraction.Result, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	s.calls++
	if idx < len(s.errs) && s.errs[idx] != nil {
		return nil, s.errs[idx]
	}
	return &extraction.Result{Text: "NAME BABU KHAN DOB 01-12-1987", Strategy: "pdf_text_layer", CharCount: 29}, nil
}

func (s *stubExtractor) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubStructurer struct {
	mu    sync.Mutex
	calls int
	errs  []error
	name  string
}

func (s *stubStructurer) Structure(_ context.Context, class storage.SchemaClass, _ string) (*structuring.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	s.calls++
	if idx < len(s.errs) && s.errs[idx] != nil {
		return nil, s.errs[idx]
	}
	name := s.name
	if name == "" {
		name = "BABU KHAN"
	}
	dob := "1987-12-01"
	return &structuring.Result{
		Class: class,
		Fields: map[string]storage.FieldValue{
			"name":          {Value: &name, Confidence: 0.95},
			"date_of_birth": {Value: &dob, Confidence: 0.95},
		},
	}, nil
}

func (s *stubStructurer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func testPipeline(t *testing.T, store Store, extractor Extractor, structurer Structurer) *Pipeline {
	t.Helper()
	verifier := verification.NewEngine(0.85, nil)
	p := NewPipeline(store, stubLoader{}, extractor, structurer, verifier, Config{
		MaxAttempts:       3,
		BackoffBase:       time.Millisecond,
		BackoffMax:        5 * time.Millisecond,
		MaxConcurrentJobs: 4,
	}, nil)
	t.Cleanup(p.Close)
	return p
}

func submitDoc(t *testing.T, p *Pipeline, ownerID uuid.UUID, kind storage.DocumentKind) *storage.DocumentSubmission {
	t.Helper()
	sub := &storage.DocumentSubmission{
		OwnerID: ownerID,
		Kind:    kind,
		Format:  storage.FormatPDF,
		Capture: storage.CaptureFile,
		FileRef: "doc.pdf",
	}
	_, err := p.Submit(context.Background(), sub)
	require.NoError(t, err)
	return sub
}

func waitForStage(t *testing.T, p *Pipeline, id uuid.UUID, want storage.Stage) *SubmissionStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		status, err := p.Status(context.Background(), id)
		require.NoError(t, err)
		if status.Stage == want {
			return status
		}
		time.Sleep(5 * time.Millisecond)
	}
	status, _ := p.Status(context.Background(), id)
	t.Fatalf("submission %s never reached %s (at %s)", id, want, status.Stage)
	return nil
}

func TestPipeline_SingleDocumentCompletesWithoutPairs(t *testing.T) {
	store := storage.NewMemoryStore()
	extractor := &stubExtractor{}
	structurer := &stubStructurer{}
	p := testPipeline(t, store, extractor, structurer)

	sub := submitDoc(t, p, uuid.New(), storage.KindIdentity)
	status := waitForStage(t, p, sub.ID, storage.StageComplete)

	// one document verifies trivially: no pairs, inconclusive verdict
	assert.Equal(t, 1, extractor.callCount())
	assert.Equal(t, 1, structurer.callCount())
	assert.NotNil(t, status.Fields)
}

func TestPipeline_GroupCompletesWithVerdict(t *testing.T) {
	store := storage.NewMemoryStore()
	p := testPipeline(t, store, &stubExtractor{}, &stubStructurer{})
	ownerID := uuid.New()

	identity := submitDoc(t, p, ownerID, storage.KindIdentity)
	edu := submitDoc(t, p, ownerID, storage.KindSecondaryEducation)

	waitForStage(t, p, identity.ID, storage.StageComplete)
	waitForStage(t, p, edu.ID, storage.StageComplete)

	group, err := p.Group(context.Background(), ownerID)
	require.NoError(t, err)
	assert.Equal(t, storage.VerdictVerified, group.Verdict)
	require.Len(t, group.Records, 1)
	assert.Equal(t, identity.ID, group.Records[0].SubmissionA)
}

func TestPipeline_LateArrivalReverifiesWholeGroup(t *testing.T) {
	store := storage.NewMemoryStore()
	p := testPipeline(t, store, &stubExtractor{}, &stubStructurer{})
	ownerID := uuid.New()

	identity := submitDoc(t, p, ownerID, storage.KindIdentity)
	eduA := submitDoc(t, p, ownerID, storage.KindSecondaryEducation)
	waitForStage(t, p, identity.ID, storage.StageComplete)
	waitForStage(t, p, eduA.ID, storage.StageComplete)

	group, err := p.Group(context.Background(), ownerID)
	require.NoError(t, err)
	require.Len(t, group.Records, 1)

	// a document arriving after its siblings completed re-verifies
	// against the whole group; the stored pair set grows, never shrinks
	eduB := submitDoc(t, p, ownerID, storage.KindPrimaryEducation)
	waitForStage(t, p, eduB.ID, storage.StageComplete)

	group, err = p.Group(context.Background(), ownerID)
	require.NoError(t, err)
	assert.Equal(t, storage.VerdictVerified, group.Verdict)
	require.Len(t, group.Records, 3)
	assert.Equal(t, identity.ID, group.Records[0].SubmissionA)
}

func TestPipeline_ExtractionRetriesCapAtThree(t *testing.T) {
	store := storage.NewMemoryStore()
	boom := errors.New("scanner jam")
	extractor := &stubExtractor{errs: []error{boom, boom, boom, boom}}
	p := testPipeline(t, store, extractor, &stubStructurer{})

	sub := submitDoc(t, p, uuid.New(), storage.KindIdentity)
	status := waitForStage(t, p, sub.ID, storage.StageFailed)

	assert.Equal(t, 3, extractor.callCount())
	assert.Equal(t, 3, status.Attempts[storage.StageExtracting])
	require.NotNil(t, status.LastError)
	assert.Contains(t, *status.LastError, "scanner jam")
}

func TestPipeline_TransientStructuringRetriesWithoutReextraction(t *testing.T) {
	store := storage.NewMemoryStore()
	extractor := &stubExtractor{}
	transient := fmt.Errorf("request: %w", llm.ErrTransient)
	structurer := &stubStructurer{errs: []error{transient, nil}}
	p := testPipeline(t, store, extractor, structurer)

	sub := submitDoc(t, p, uuid.New(), storage.KindIdentity)
	status := waitForStage(t, p, sub.ID, storage.StageComplete)

	assert.Equal(t, 2, structurer.callCount())
	assert.Equal(t, 1, extractor.callCount(), "structuring retry must reuse stored extraction")
	assert.Equal(t, 1, status.Attempts[storage.StageStructuring])
}

func TestPipeline_MalformedStructuringFailsImmediately(t *testing.T) {
	store := storage.NewMemoryStore()
	structurer := &stubStructurer{errs: []error{&structuring.MalformedError{Reason: "extra keys"}}}
	p := testPipeline(t, store, &stubExtractor{}, structurer)

	sub := submitDoc(t, p, uuid.New(), storage.KindIdentity)
	status := waitForStage(t, p, sub.ID, storage.StageFailed)

	assert.Equal(t, 1, structurer.callCount())
	require.NotNil(t, status.LastError)
	assert.Contains(t, *status.LastError, "malformed")
}

func TestPipeline_FailedSiblingDoesNotBlockPeers(t *testing.T) {
	store := storage.NewMemoryStore()
	transient := errors.New("always broken")
	// first submission's extraction fails every attempt
	extractor := &stubExtractor{errs: []error{transient, transient, transient}}
	p := testPipeline(t, store, extractor, &stubStructurer{})
	ownerID := uuid.New()

	broken := submitDoc(t, p, ownerID, storage.KindIdentity)
	waitForStage(t, p, broken.ID, storage.StageFailed)

	eduA := submitDoc(t, p, ownerID, storage.KindPrimaryEducation)
	eduB := submitDoc(t, p, ownerID, storage.KindSecondaryEducation)

	waitForStage(t, p, eduA.ID, storage.StageComplete)
	waitForStage(t, p, eduB.ID, storage.StageComplete)

	group, err := p.Group(context.Background(), ownerID)
	require.NoError(t, err)
	require.Len(t, group.Records, 1, "failed sibling is excluded from pairing")
}

func TestPipeline_CancelDiscardsInFlightWork(t *testing.T) {
	store := storage.NewMemoryStore()
	extractor := &stubExtractor{block: make(chan struct{})}
	p := testPipeline(t, store, extractor, &stubStructurer{})

	sub := submitDoc(t, p, uuid.New(), storage.KindIdentity)

	waitForStage(t, p, sub.ID, storage.StageExtracting)
	require.True(t, p.Cancel(sub.ID))

	status := waitForStage(t, p, sub.ID, storage.StageFailed)
	require.NotNil(t, status.LastError)

	_, err := store.GetExtraction(context.Background(), sub.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPipeline_SubmitAssignsSequence(t *testing.T) {
	store := storage.NewMemoryStore()
	p := testPipeline(t, store, &stubExtractor{}, &stubStructurer{})
	ownerID := uuid.New()

	first := submitDoc(t, p, ownerID, storage.KindIdentity)
	second := submitDoc(t, p, ownerID, storage.KindPrimaryEducation)

	a, err := store.GetSubmission(context.Background(), first.ID)
	require.NoError(t, err)
	b, err := store.GetSubmission(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, a.Seq)
	assert.Equal(t, 1, b.Seq)
}

func TestPipeline_LaunchIsIdempotent(t *testing.T) {
	store := storage.NewMemoryStore()
	extractor := &stubExtractor{block: make(chan struct{})}
	p := testPipeline(t, store, extractor, &stubStructurer{})

	sub := submitDoc(t, p, uuid.New(), storage.KindIdentity)
	waitForStage(t, p, sub.ID, storage.StageExtracting)

	// a second launch while the job is in flight is a no-op
	p.launch(sub.ID)
	close(extractor.block)

	waitForStage(t, p, sub.ID, storage.StageComplete)
	assert.Equal(t, 1, extractor.callCount())
}

func TestPipeline_StatusCache(t *testing.T) {
	store := storage.NewMemoryStore()
	cacheClient := cache.NewMemoryClient(10)
	verifier := verification.NewEngine(0.85, nil)
	p := NewPipeline(store, stubLoader{}, &stubExtractor{}, &stubStructurer{}, verifier, Config{
		MaxAttempts:       3,
		BackoffBase:       time.Millisecond,
		BackoffMax:        5 * time.Millisecond,
		MaxConcurrentJobs: 4,
	}, nil, WithStatusCache(cacheClient, time.Minute))
	t.Cleanup(p.Close)

	// A cached snapshot is served without touching the store.
	snapshot := &SubmissionStatus{
		SubmissionID: uuid.New(),
		OwnerID:      uuid.New(),
		Stage:        storage.StageComplete,
	}
	raw, err := json.Marshal(snapshot)
	require.NoError(t, err)
	require.NoError(t, cacheClient.Set(context.Background(), "status:"+snapshot.SubmissionID.String(), raw, time.Minute))

	got, err := p.Status(context.Background(), snapshot.SubmissionID)
	require.NoError(t, err)
	assert.Equal(t, storage.StageComplete, got.Stage)

	// A store-backed lookup populates the cache for subsequent polls.
	sub := submitDoc(t, p, uuid.New(), storage.KindIdentity)
	_, err = p.Status(context.Background(), sub.ID)
	require.NoError(t, err)
	_, err = cacheClient.Get(context.Background(), "status:"+sub.ID.String())
	assert.NoError(t, err)
}

func TestAggregateVerdict(t *testing.T) {
	rec := func(v storage.Verdict) *storage.VerificationRecord {
		return &storage.VerificationRecord{Verdict: v}
	}
	assert.Equal(t, storage.VerdictVerified, AggregateVerdict([]*storage.VerificationRecord{
		rec(storage.VerdictVerified), rec(storage.VerdictInconclusive),
	}))
	assert.Equal(t, storage.VerdictFailed, AggregateVerdict([]*storage.VerificationRecord{
		rec(storage.VerdictVerified), rec(storage.VerdictFailed),
	}))
	assert.Equal(t, storage.VerdictInconclusive, AggregateVerdict([]*storage.VerificationRecord{
		rec(storage.VerdictInconclusive),
	}))
	assert.Equal(t, storage.VerdictInconclusive, AggregateVerdict(nil))
}
