// Package integration exercises the storage layer against a real
// Postgres instance via testcontainers.
package integration

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/veridoc-ai/veridoc/internal/storage"
)

func setupPostgres(t *testing.T) *storage.SQLStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("veridoc_test"),
		postgres.WithUsername("veridoc"),
		postgres.WithPassword("veridoc"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, storage.Migrate(ctx, db))
	return storage.NewSQLStore(db)
}

func TestPostgres_SubmissionLifecycle(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()
	ownerID := uuid.New()

	sub := &storage.DocumentSubmission{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Kind:      storage.KindIdentity,
		Format:    storage.FormatPDF,
		Capture:   storage.CaptureFile,
		FileRef:   "aadhaar.pdf",
		Seq:       0,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreateSubmission(ctx, sub))

	got, err := store.GetSubmission(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.Kind, got.Kind)
	assert.Equal(t, sub.FileRef, got.FileRef)

	count, err := store.CountSubmissionsByOwner(ctx, ownerID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = store.GetSubmission(ctx, uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPostgres_ExtractionUpsert(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()

	sub := &storage.DocumentSubmission{
		ID: uuid.New(), OwnerID: uuid.New(),
		Kind: storage.KindIdentity, Format: storage.FormatPDF,
		Capture: storage.CaptureFile, FileRef: "doc.pdf", CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreateSubmission(ctx, sub))

	first := &storage.ExtractionResult{
		ID: uuid.New(), SubmissionID: sub.ID,
		Text: "garbled", Strategy: "pdf_text_layer", CharCount: 7,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.SaveExtraction(ctx, first))

	// a retried attempt replaces the stored result
	second := &storage.ExtractionResult{
		ID: uuid.New(), SubmissionID: sub.ID,
		Text: "NAME BABU KHAN", Strategy: "tesseract_ocr", CharCount: 14,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.SaveExtraction(ctx, second))

	got, err := store.GetExtraction(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "NAME BABU KHAN", got.Text)
	assert.Equal(t, "tesseract_ocr", got.Strategy)
}

func TestPostgres_FieldExtractionRoundTrip(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()

	sub := &storage.DocumentSubmission{
		ID: uuid.New(), OwnerID: uuid.New(),
		Kind: storage.KindSecondaryEducation, Format: storage.FormatPDF,
		Capture: storage.CaptureFile, FileRef: "marksheet.pdf", CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreateSubmission(ctx, sub))

	name := "BABU KHAN"
	derived := 80.75
	fe := &storage.FieldExtraction{
		ID:           uuid.New(),
		SubmissionID: sub.ID,
		Class:        storage.SchemaClassEducation,
		Fields: map[string]storage.FieldValue{
			"name":          {Value: &name, Confidence: 0.95},
			"date_of_birth": {Value: nil, Confidence: 0},
		},
		DerivedPercentage: &derived,
		CreatedAt:         time.Now().UTC(),
	}
	require.NoError(t, store.SaveFieldExtraction(ctx, fe))

	got, err := store.GetFieldExtraction(ctx, sub.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Fields["name"].Value)
	assert.Equal(t, "BABU KHAN", *got.Fields["name"].Value)
	assert.Nil(t, got.Fields["date_of_birth"].Value)
	require.NotNil(t, got.DerivedPercentage)
	assert.InDelta(t, 80.75, *got.DerivedPercentage, 1e-9)
}

func TestPostgres_VerificationRecordsReplace(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()
	ownerID := uuid.New()

	subA, subB := uuid.New(), uuid.New()
	for _, id := range []uuid.UUID{subA, subB} {
		require.NoError(t, store.CreateSubmission(ctx, &storage.DocumentSubmission{
			ID: id, OwnerID: ownerID,
			Kind: storage.KindIdentity, Format: storage.FormatPDF,
			Capture: storage.CaptureFile, FileRef: "doc.pdf", CreatedAt: time.Now().UTC(),
		}))
	}

	similarity := 1.0
	records := []*storage.VerificationRecord{{
		ID: uuid.New(), OwnerID: ownerID,
		SubmissionA: subA, SubmissionB: subB,
		Comparisons: []storage.FieldComparison{
			{Field: "name", Applicable: true, Match: true, Similarity: &similarity},
		},
		Verdict:   storage.VerdictVerified,
		CreatedAt: time.Now().UTC(),
	}}
	require.NoError(t, store.ReplaceVerificationRecords(ctx, ownerID, records))

	// a re-run replaces rather than appends
	replacement := []*storage.VerificationRecord{{
		ID: uuid.New(), OwnerID: ownerID,
		SubmissionA: subA, SubmissionB: subB,
		Comparisons: []storage.FieldComparison{
			{Field: "name", Applicable: true, Match: false},
		},
		Verdict:   storage.VerdictFailed,
		CreatedAt: time.Now().UTC(),
	}}
	require.NoError(t, store.ReplaceVerificationRecords(ctx, ownerID, replacement))

	got, err := store.ListVerificationRecords(ctx, ownerID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, storage.VerdictFailed, got[0].Verdict)
	require.Len(t, got[0].Comparisons, 1)
	assert.Equal(t, "name", got[0].Comparisons[0].Field)
}

func TestPostgres_JobAttemptsPersist(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()

	sub := &storage.DocumentSubmission{
		ID: uuid.New(), OwnerID: uuid.New(),
		Kind: storage.KindIdentity, Format: storage.FormatPDF,
		Capture: storage.CaptureFile, FileRef: "doc.pdf", CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreateSubmission(ctx, sub))

	job := &storage.Job{
		SubmissionID: sub.ID,
		OwnerID:      sub.OwnerID,
		Stage:        storage.StageExtracting,
		Attempts:     map[storage.Stage]int{storage.StageExtracting: 2},
		UpdatedAt:    time.Now().UTC(),
	}
	require.NoError(t, store.SaveJob(ctx, job))

	job.Stage = storage.StageStructuring
	require.NoError(t, store.SaveJob(ctx, job))

	got, err := store.GetJob(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StageStructuring, got.Stage)
	assert.Equal(t, 2, got.Attempts[storage.StageExtracting])

	jobs, err := store.ListJobsByOwner(ctx, sub.OwnerID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
}
