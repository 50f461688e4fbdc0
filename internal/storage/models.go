// Package storage provides database models and repositories for veridoc.
package storage

import (
	"time"

	"github.com/google/uuid"
)

// DocumentKind classifies a submitted document.
type DocumentKind string

const (
	KindIdentity           DocumentKind = "identity"
	KindPrimaryEducation   DocumentKind = "primary_education"
	KindSecondaryEducation DocumentKind = "secondary_education"
	KindOther              DocumentKind = "other"
)

// IsEducation reports whether the kind is one of the education documents.
func (k DocumentKind) IsEducation() bool {
	return k == KindPrimaryEducation || k == KindSecondaryEducation
}

// DocumentFormat is the declared on-disk format of a submission.
type DocumentFormat string

const (
	FormatPDF   DocumentFormat = "pdf"
	FormatImage DocumentFormat = "image"
)

// CaptureMethod records how the document reached us.
type CaptureMethod string

const (
	CaptureFile   CaptureMethod = "file"
	CaptureCamera CaptureMethod = "camera"
)

// Stage is one phase of a submission's processing state machine.
type Stage string

const (
	StageQueued        Stage = "queued"
	StageExtracting    Stage = "extracting"
	StageStructuring   Stage = "structuring"
	StageAwaitingPeers Stage = "awaiting_peers"
	StageVerifying     Stage = "verifying"
	StageComplete      Stage = "complete"
	StageFailed        Stage = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageFailed
}

// rank orders stages for the monotonic-forward invariant.
func (s Stage) rank() int {
	switch s {
	case StageQueued:
		return 0
	case StageExtracting:
		return 1
	case StageStructuring:
		return 2
	case StageAwaitingPeers:
		return 3
	case StageVerifying:
		return 4
	case StageComplete:
		return 5
	case StageFailed:
		return 6
	default:
		return -1
	}
}

// CanTransition reports whether a move from s to next is legal: forward only,
// same-stage re-entry allowed (retries), failed reachable from any
// non-terminal stage.
func (s Stage) CanTransition(next Stage) bool {
	if s.Terminal() {
		return false
	}
	if next == StageFailed {
		return true
	}
	return next.rank() >= s.rank() && next.rank() <= s.rank()+1
}

// Verdict is the outcome of comparing documents' structured data.
type Verdict string

const (
	VerdictVerified     Verdict = "verified"
	VerdictFailed       Verdict = "failed"
	VerdictInconclusive Verdict = "inconclusive"
)

// SchemaClass selects one of the fixed extraction schemas.
type SchemaClass string

const (
	SchemaClassIdentity  SchemaClass = "identity"
	SchemaClassEducation SchemaClass = "education"
)

// SchemaClassFor maps a document kind to its extraction schema.
func SchemaClassFor(kind DocumentKind) SchemaClass {
	if kind.IsEducation() {
		return SchemaClassEducation
	}
	return SchemaClassIdentity
}

// DocumentSubmission is one uploaded document instance tied to an owner.
// Seq preserves original upload order within the owner group.
type DocumentSubmission struct {
	ID        uuid.UUID      `json:"id" db:"id"`
	OwnerID   uuid.UUID      `json:"owner_id" db:"owner_id"`
	Kind      DocumentKind   `json:"kind" db:"kind"`
	Format    DocumentFormat `json:"format" db:"format"`
	Capture   CaptureMethod  `json:"capture" db:"capture"`
	FileRef   string         `json:"file_ref" db:"file_ref"`
	Seq       int            `json:"seq" db:"seq"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}

// ExtractionResult is the raw text produced for one submission. At most one
// live result exists per submission; a retried attempt replaces it.
type ExtractionResult struct {
	ID           uuid.UUID `json:"id" db:"id"`
	SubmissionID uuid.UUID `json:"submission_id" db:"submission_id"`
	Text         string    `json:"text" db:"text"`
	Strategy     string    `json:"strategy" db:"strategy"`
	CharCount    int       `json:"char_count" db:"char_count"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// FieldValue pairs a nullable field value with its confidence.
type FieldValue struct {
	Value      *string `json:"value"`
	Confidence float64 `json:"confidence"`
}

// FieldExtraction is the schema-conformant field map for one submission.
// Fields always carries exactly the declared schema's keys. The stated and
// derived percentages live beside the map; neither ever overwrites the other.
type FieldExtraction struct {
	ID                uuid.UUID             `json:"id" db:"id"`
	SubmissionID      uuid.UUID             `json:"submission_id" db:"submission_id"`
	Class             SchemaClass           `json:"class" db:"class"`
	Fields            map[string]FieldValue `json:"fields" db:"fields"`
	StatedPercentage  *float64              `json:"stated_percentage,omitempty" db:"stated_percentage"`
	DerivedPercentage *float64              `json:"derived_percentage,omitempty" db:"derived_percentage"`
	CreatedAt         time.Time             `json:"created_at" db:"created_at"`
}

// Field returns the value for key, or nil when absent or null.
func (f *FieldExtraction) Field(key string) *string {
	if f == nil {
		return nil
	}
	if fv, ok := f.Fields[key]; ok {
		return fv.Value
	}
	return nil
}

// FieldComparison is one per-field comparison inside a verification record.
type FieldComparison struct {
	Field      string   `json:"field"`
	ValueA     *string  `json:"value_a"`
	ValueB     *string  `json:"value_b"`
	Applicable bool     `json:"applicable"`
	Match      bool     `json:"match"`
	Similarity *float64 `json:"similarity,omitempty"`
	Detail     string   `json:"detail,omitempty"`
}

// VerificationRecord compares an unordered pair of submissions.
type VerificationRecord struct {
	ID          uuid.UUID         `json:"id" db:"id"`
	OwnerID     uuid.UUID         `json:"owner_id" db:"owner_id"`
	SubmissionA uuid.UUID         `json:"submission_a" db:"submission_a"`
	SubmissionB uuid.UUID         `json:"submission_b" db:"submission_b"`
	Comparisons []FieldComparison `json:"comparisons"`
	Verdict     Verdict           `json:"verdict" db:"verdict"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
}

// Job is the per-submission state-machine instance.
type Job struct {
	SubmissionID uuid.UUID     `json:"submission_id" db:"submission_id"`
	OwnerID      uuid.UUID     `json:"owner_id" db:"owner_id"`
	Stage        Stage         `json:"stage" db:"stage"`
	Attempts     map[Stage]int `json:"attempts"`
	LastError    *string       `json:"last_error,omitempty" db:"last_error"`
	UpdatedAt    time.Time     `json:"updated_at" db:"updated_at"`
}

// Terminal reports whether the job can no longer advance.
func (j *Job) Terminal() bool {
	return j.Stage.Terminal()
}
