package verification

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/veridoc-ai/veridoc/internal/cache"
	"github.com/veridoc-ai/veridoc/internal/observability"
	"github.com/veridoc-ai/veridoc/internal/storage"
)

// comparedFields are the cross-document fields checked for every pair.
var comparedFields = []string{"name", "date_of_birth"}

// Engine compares structured extractions pairwise and aggregates
// verdicts for a holder's document group.
type Engine struct {
	threshold float64
	cache     cache.Client
	cacheTTL  time.Duration
	logger    *observability.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache enables pair-result caching.
func WithCache(c cache.Client, ttl time.Duration) Option {
	return func(e *Engine) {
		e.cache = c
		e.cacheTTL = ttl
	}
}

// NewEngine creates a verification engine. threshold is the minimum
// name similarity accepted as a match.
func NewEngine(threshold float64, logger *observability.Logger, opts ...Option) *Engine {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.85
	}
	if logger == nil {
		logger = observability.Nop()
	}
	e := &Engine{threshold: threshold, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ComparePair compares the shared fields of two extractions. A field
// missing on either side is recorded as not applicable and cannot fail
// the pair. The pair verdict is inconclusive only when no field was
// applicable.
func (e *Engine) ComparePair(a, b *storage.FieldExtraction) ([]storage.FieldComparison, storage.Verdict) {
	comparisons := make([]storage.FieldComparison, 0, len(comparedFields))
	applicable := 0
	failed := false

	for _, field := range comparedFields {
		valA, valB := a.Field(field), b.Field(field)
		cmp := storage.FieldComparison{Field: field, ValueA: valA, ValueB: valB}

		if valA == nil || valB == nil {
			cmp.Detail = "value missing on at least one document"
			comparisons = append(comparisons, cmp)
			continue
		}
		cmp.Applicable = true
		applicable++

		switch field {
		case "name":
			match, similarity := NamesMatch(*valA, *valB, e.threshold)
			cmp.Match = match
			cmp.Similarity = &similarity
			if !match {
				cmp.Detail = fmt.Sprintf("similarity %.3f below threshold %.2f", similarity, e.threshold)
			}
		case "date_of_birth":
			cmp.Match = DOBMatch(*valA, *valB)
			if !cmp.Match {
				cmp.Detail = "dates differ after normalization"
			}
		}
		if !cmp.Match {
			failed = true
		}
		comparisons = append(comparisons, cmp)
	}

	switch {
	case applicable == 0:
		return comparisons, storage.VerdictInconclusive
	case failed:
		return comparisons, storage.VerdictFailed
	default:
		return comparisons, storage.VerdictVerified
	}
}

// GroupResult is the outcome of verifying a holder's full document set.
type GroupResult struct {
	Records []storage.VerificationRecord
	Verdict storage.Verdict
}

// VerifyGroup compares every unordered pair of the holder's submissions.
// Records are ordered deterministically: identity documents lead, then
// upload order. The aggregate verdict is verified when every pair is
// verified or inconclusive, with at least one verified pair.
func (e *Engine) VerifyGroup(ctx context.Context, ownerID uuid.UUID, submissions []storage.DocumentSubmission, extractions map[uuid.UUID]*storage.FieldExtraction) (*GroupResult, error) {
	ordered := make([]storage.DocumentSubmission, len(submissions))
	copy(ordered, submissions)
	sort.SliceStable(ordered, func(i, j int) bool {
		ki, kj := ordered[i].Kind == storage.KindIdentity, ordered[j].Kind == storage.KindIdentity
		if ki != kj {
			return ki
		}
		return ordered[i].Seq < ordered[j].Seq
	})

	result := &GroupResult{Verdict: storage.VerdictInconclusive}
	anyVerified := false
	anyFailed := false

	for i := 0; i < len(ordered); i++ {
		for j := i + 1; j < len(ordered); j++ {
			subA, subB := ordered[i], ordered[j]
			extA, okA := extractions[subA.ID]
			extB, okB := extractions[subB.ID]
			if !okA || !okB {
				return nil, fmt.Errorf("missing extraction for pair %s/%s", subA.ID, subB.ID)
			}

			record, hit := e.cachedPair(ctx, subA.ID, subB.ID)
			if !hit {
				comparisons, verdict := e.ComparePair(extA, extB)
				record = storage.VerificationRecord{
					ID:          uuid.New(),
					OwnerID:     ownerID,
					SubmissionA: subA.ID,
					SubmissionB: subB.ID,
					Comparisons: comparisons,
					Verdict:     verdict,
					CreatedAt:   time.Now().UTC(),
				}
				e.storePair(ctx, record)
			}

			switch record.Verdict {
			case storage.VerdictVerified:
				anyVerified = true
			case storage.VerdictFailed:
				anyFailed = true
			}
			result.Records = append(result.Records, record)
		}
	}

	switch {
	case anyFailed:
		result.Verdict = storage.VerdictFailed
	case anyVerified:
		result.Verdict = storage.VerdictVerified
	}

	e.logger.Info().
		Str("owner_id", ownerID.String()).
		Int("pairs", len(result.Records)).
		Str("verdict", string(result.Verdict)).
		Msg("group verification complete")
	return result, nil
}

func pairCacheKey(a, b uuid.UUID) string {
	if b.String() < a.String() {
		a, b = b, a
	}
	return "verify:pair:" + a.String() + ":" + b.String()
}

func (e *Engine) cachedPair(ctx context.Context, a, b uuid.UUID) (storage.VerificationRecord, bool) {
	var record storage.VerificationRecord
	if e.cache == nil {
		return record, false
	}
	raw, err := e.cache.Get(ctx, pairCacheKey(a, b))
	if err != nil {
		return record, false
	}
	if err := json.Unmarshal(raw, &record); err != nil {
		return record, false
	}
	return record, true
}

func (e *Engine) storePair(ctx context.Context, record storage.VerificationRecord) {
	if e.cache == nil {
		return
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, pairCacheKey(record.SubmissionA, record.SubmissionB), raw, e.cacheTTL); err != nil {
		e.logger.Debug().Err(err).Msg("pair cache write failed")
	}
}
