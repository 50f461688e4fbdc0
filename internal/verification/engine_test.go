package verification

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridoc-ai/veridoc/internal/cache"
	"github.com/veridoc-ai/veridoc/internal/storage"
)

func strp(s string) *string { return &s }

func extraction(class storage.SchemaClass, name, dob *string) *storage.FieldExtraction {
	fields := map[string]storage.FieldValue{
		"name":          {Value: name, Confidence: 0.9},
		"date_of_birth": {Value: dob, Confidence: 0.9},
	}
	return &storage.FieldExtraction{
		ID:     uuid.New(),
		Class:  class,
		Fields: fields,
	}
}

func TestNormalizeName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"BABU KHAN", "babu khan"},
		{"babu   khan", "babu khan"},
		{"Mr. Babu Khan", "babu khan"},
		{"Dr Babu Khan Jr.", "babu khan"},
		{"  RAM  KUMAR  ", "ram kumar"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizeName(tc.in), "input %q", tc.in)
	}
}

func TestNamesMatch(t *testing.T) {
	match, sim := NamesMatch("BABU KHAN", "babu   khan", 0.85)
	assert.True(t, match)
	assert.Equal(t, 1.0, sim)

	// Middle name dropped on one document.
	match, _ = NamesMatch("BABU AHMED KHAN", "Babu Khan", 0.85)
	assert.True(t, match)

	// Minor OCR variance clears the similarity threshold.
	match, sim = NamesMatch("BABU KHAN", "BABU KHAAN", 0.85)
	assert.True(t, match)
	assert.Greater(t, sim, 0.85)

	// Different person.
	match, _ = NamesMatch("BABU KHAN", "RAM KUMAR", 0.85)
	assert.False(t, match)

	match, _ = NamesMatch("", "BABU KHAN", 0.85)
	assert.False(t, match)
}

func TestDOBMatch(t *testing.T) {
	assert.True(t, DOBMatch("1987-12-01", "01-12-1987"))
	assert.True(t, DOBMatch("1987-12-01", "1 December 1987"))
	assert.False(t, DOBMatch("1987-12-01", "1987-12-02"))
	assert.True(t, DOBMatch("unknown", "unknown"))
	assert.False(t, DOBMatch("unknown", "1987-12-01"))
}

func TestComparePair_Verified(t *testing.T) {
	engine := NewEngine(0.85, nil)
	a := extraction(storage.SchemaClassIdentity, strp("BABU KHAN"), strp("1987-12-01"))
	b := extraction(storage.SchemaClassEducation, strp("babu   khan"), strp("01-12-1987"))

	comparisons, verdict := engine.ComparePair(a, b)
	assert.Equal(t, storage.VerdictVerified, verdict)
	require.Len(t, comparisons, 2)
	for _, cmp := range comparisons {
		assert.True(t, cmp.Applicable)
		assert.True(t, cmp.Match)
	}
}

func TestComparePair_NameMismatchFails(t *testing.T) {
	engine := NewEngine(0.85, nil)
	a := extraction(storage.SchemaClassIdentity, strp("BABU KHAN"), strp("1987-12-01"))
	b := extraction(storage.SchemaClassEducation, strp("RAM KUMAR"), strp("1987-12-01"))

	comparisons, verdict := engine.ComparePair(a, b)
	assert.Equal(t, storage.VerdictFailed, verdict)
	assert.False(t, comparisons[0].Match)
	assert.True(t, comparisons[1].Match)
}

func TestComparePair_MissingFieldNotApplicable(t *testing.T) {
	engine := NewEngine(0.85, nil)
	a := extraction(storage.SchemaClassIdentity, strp("BABU KHAN"), strp("1987-12-01"))
	b := extraction(storage.SchemaClassEducation, strp("BABU KHAN"), nil)

	comparisons, verdict := engine.ComparePair(a, b)
	assert.Equal(t, storage.VerdictVerified, verdict)
	assert.True(t, comparisons[0].Applicable)
	assert.False(t, comparisons[1].Applicable)
	assert.False(t, comparisons[1].Match)
}

func TestComparePair_AllMissingIsInconclusive(t *testing.T) {
	engine := NewEngine(0.85, nil)
	a := extraction(storage.SchemaClassIdentity, nil, nil)
	b := extraction(storage.SchemaClassEducation, nil, nil)

	_, verdict := engine.ComparePair(a, b)
	assert.Equal(t, storage.VerdictInconclusive, verdict)
}

func groupFixture(names [3]string) (uuid.UUID, []storage.DocumentSubmission, map[uuid.UUID]*storage.FieldExtraction) {
	ownerID := uuid.New()
	identity := storage.DocumentSubmission{ID: uuid.New(), OwnerID: ownerID, Kind: storage.KindIdentity, Seq: 2}
	eduA := storage.DocumentSubmission{ID: uuid.New(), OwnerID: ownerID, Kind: storage.KindPrimaryEducation, Seq: 0}
	eduB := storage.DocumentSubmission{ID: uuid.New(), OwnerID: ownerID, Kind: storage.KindSecondaryEducation, Seq: 1}

	extractions := map[uuid.UUID]*storage.FieldExtraction{
		identity.ID: extraction(storage.SchemaClassIdentity, strp(names[0]), strp("1987-12-01")),
		eduA.ID:     extraction(storage.SchemaClassEducation, strp(names[1]), strp("01-12-1987")),
		eduB.ID:     extraction(storage.SchemaClassEducation, strp(names[2]), strp("1 December 1987")),
	}
	return ownerID, []storage.DocumentSubmission{eduA, eduB, identity}, extractions
}

func TestVerifyGroup_AllPairsVerified(t *testing.T) {
	engine := NewEngine(0.85, nil)
	ownerID, submissions, extractions := groupFixture([3]string{"BABU KHAN", "babu   khan", "Babu Khan"})

	result, err := engine.VerifyGroup(context.Background(), ownerID, submissions, extractions)
	require.NoError(t, err)

	assert.Equal(t, storage.VerdictVerified, result.Verdict)
	require.Len(t, result.Records, 3)
	for _, record := range result.Records {
		assert.Equal(t, storage.VerdictVerified, record.Verdict)
	}

	// Identity document leads despite its later upload order.
	identityID := submissions[2].ID
	assert.Equal(t, identityID, result.Records[0].SubmissionA)
	assert.Equal(t, identityID, result.Records[1].SubmissionA)
}

func TestVerifyGroup_OneAliasFailsGroup(t *testing.T) {
	engine := NewEngine(0.85, nil)
	ownerID, submissions, extractions := groupFixture([3]string{"BABU KHAN", "BABU KHAN", "RAM KUMAR"})

	result, err := engine.VerifyGroup(context.Background(), ownerID, submissions, extractions)
	require.NoError(t, err)
	assert.Equal(t, storage.VerdictFailed, result.Verdict)

	failed := 0
	for _, record := range result.Records {
		if record.Verdict == storage.VerdictFailed {
			failed++
		}
	}
	assert.Equal(t, 2, failed)
}

func TestVerifyGroup_DeterministicOrder(t *testing.T) {
	engine := NewEngine(0.85, nil)
	ownerID, submissions, extractions := groupFixture([3]string{"BABU KHAN", "BABU KHAN", "BABU KHAN"})

	first, err := engine.VerifyGroup(context.Background(), ownerID, submissions, extractions)
	require.NoError(t, err)
	second, err := engine.VerifyGroup(context.Background(), ownerID, submissions, extractions)
	require.NoError(t, err)

	require.Len(t, second.Records, len(first.Records))
	for i := range first.Records {
		assert.Equal(t, first.Records[i].SubmissionA, second.Records[i].SubmissionA)
		assert.Equal(t, first.Records[i].SubmissionB, second.Records[i].SubmissionB)
	}
}

func TestVerifyGroup_MissingExtractionErrors(t *testing.T) {
	engine := NewEngine(0.85, nil)
	ownerID, submissions, extractions := groupFixture([3]string{"A B", "A B", "A B"})
	delete(extractions, submissions[0].ID)

	_, err := engine.VerifyGroup(context.Background(), ownerID, submissions, extractions)
	require.Error(t, err)
}

func TestVerifyGroup_UsesCache(t *testing.T) {
	memCache := cache.NewMemoryClient(100)
	defer memCache.Close()
	engine := NewEngine(0.85, nil, WithCache(memCache, time.Minute))

	ownerID, submissions, extractions := groupFixture([3]string{"BABU KHAN", "BABU KHAN", "BABU KHAN"})

	first, err := engine.VerifyGroup(context.Background(), ownerID, submissions, extractions)
	require.NoError(t, err)
	second, err := engine.VerifyGroup(context.Background(), ownerID, submissions, extractions)
	require.NoError(t, err)

	// Cached records keep their original IDs.
	for i := range first.Records {
		assert.Equal(t, first.Records[i].ID, second.Records[i].ID)
	}
}
