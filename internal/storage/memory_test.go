package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memSubmission(ownerID uuid.UUID, kind DocumentKind, seq int) *DocumentSubmission {
	return &DocumentSubmission{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Kind:      kind,
		Format:    FormatPDF,
		Capture:   CaptureFile,
		FileRef:   "doc.pdf",
		Seq:       seq,
		CreatedAt: time.Now().UTC(),
	}
}

func TestMemoryStore_SubmissionsOrderedBySeq(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	ownerID := uuid.New()

	second := memSubmission(ownerID, KindPrimaryEducation, 1)
	first := memSubmission(ownerID, KindIdentity, 0)
	require.NoError(t, store.CreateSubmission(ctx, second))
	require.NoError(t, store.CreateSubmission(ctx, first))

	subs, err := store.ListSubmissionsByOwner(ctx, ownerID)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, first.ID, subs[0].ID)
	assert.Equal(t, second.ID, subs[1].ID)

	count, err := store.CountSubmissionsByOwner(ctx, ownerID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestMemoryStore_NotFound(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.GetSubmission(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetExtraction(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetFieldExtraction(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetJob(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ExtractionReplacedOnRetry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	sub := memSubmission(uuid.New(), KindIdentity, 0)
	require.NoError(t, store.CreateSubmission(ctx, sub))

	require.NoError(t, store.SaveExtraction(ctx, &ExtractionResult{
		ID: uuid.New(), SubmissionID: sub.ID, Text: "first", Strategy: "pdf_text_layer", CharCount: 5,
	}))
	require.NoError(t, store.SaveExtraction(ctx, &ExtractionResult{
		ID: uuid.New(), SubmissionID: sub.ID, Text: "second", Strategy: "tesseract_ocr", CharCount: 6,
	}))

	got, err := store.GetExtraction(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "second", got.Text)
}

func TestMemoryStore_FieldExtractionIsolation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	sub := memSubmission(uuid.New(), KindIdentity, 0)
	require.NoError(t, store.CreateSubmission(ctx, sub))

	name := "BABU KHAN"
	fe := &FieldExtraction{
		ID:           uuid.New(),
		SubmissionID: sub.ID,
		Class:        SchemaClassIdentity,
		Fields:       map[string]FieldValue{"name": {Value: &name, Confidence: 0.9}},
	}
	require.NoError(t, store.SaveFieldExtraction(ctx, fe))

	// mutating the caller's map must not affect the stored copy
	fe.Fields["name"] = FieldValue{Value: nil, Confidence: 0}

	got, err := store.GetFieldExtraction(ctx, sub.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Fields["name"].Value)
	assert.Equal(t, "BABU KHAN", *got.Fields["name"].Value)
}

func TestMemoryStore_ReplaceVerificationRecords(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	ownerID := uuid.New()

	original := []*VerificationRecord{{
		ID: uuid.New(), OwnerID: ownerID,
		SubmissionA: uuid.New(), SubmissionB: uuid.New(),
		Verdict: VerdictVerified, CreatedAt: time.Now().UTC(),
	}}
	require.NoError(t, store.ReplaceVerificationRecords(ctx, ownerID, original))

	replacement := []*VerificationRecord{{
		ID: uuid.New(), OwnerID: ownerID,
		SubmissionA: uuid.New(), SubmissionB: uuid.New(),
		Verdict: VerdictFailed, CreatedAt: time.Now().UTC(),
	}}
	require.NoError(t, store.ReplaceVerificationRecords(ctx, ownerID, replacement))

	records, err := store.ListVerificationRecords(ctx, ownerID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, VerdictFailed, records[0].Verdict)
}

func TestMemoryStore_JobAttemptsIsolated(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	sub := memSubmission(uuid.New(), KindIdentity, 0)
	require.NoError(t, store.CreateSubmission(ctx, sub))

	job := &Job{
		SubmissionID: sub.ID,
		OwnerID:      sub.OwnerID,
		Stage:        StageExtracting,
		Attempts:     map[Stage]int{StageExtracting: 1},
		UpdatedAt:    time.Now().UTC(),
	}
	require.NoError(t, store.SaveJob(ctx, job))

	job.Attempts[StageExtracting] = 99

	got, err := store.GetJob(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempts[StageExtracting])
}
