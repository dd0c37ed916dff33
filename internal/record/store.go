package record

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/medflow-ops/claimbridge/internal/shared/types"
)

// Backlog identifies which pending-work query a batch walks.
type Backlog string

const (
	// BacklogExtraction selects visits whose fields still need to be
	// scraped from the clinical system, date-range driven.
	BacklogExtraction Backlog = "extraction"
	// BacklogDetails selects visits missing the clinic-internal patient
	// number, patient-number driven enrichment.
	BacklogDetails Backlog = "details"
	// BacklogSubmission selects completed visits with no submission
	// outcome and a payer code.
	BacklogSubmission Backlog = "submission"
)

// PendingFilter scopes a backlog query. Unscoped queries (zero Range,
// AllPending false) are refused by the store.
type PendingFilter struct {
	Range         types.DateRange
	IncludeFailed bool // re-queue failed items under the retry ceiling
	RetryCeiling  int
	AllPending    bool // explicit opt-in for an unscoped query
	Limit         int  // 0 means no cap
}

// WorkItemUpdate is a partial update; nil fields are left untouched.
// Each update is scoped to a single item ID, there are no multi-item
// read-modify-write transactions in the core.
type WorkItemUpdate struct {
	PatientName      *string
	PatientID        *string
	PatientNumber    *string
	Diagnosis        *string
	Treatment        *string
	LineItems        []string
	ConsultationFee  *float64
	IncapacityDays   *int
	ExtractionStatus *ExtractionStatus
	AttemptCount     *int
	LastAttemptAt    *time.Time
	LastError        *string
	FieldSources     map[string]string
	SourceMissing    []string
	SubmissionStatus *SubmissionStatus
	SubmittedAt      *time.Time
	SubmissionResult map[string]any
}

// RunUpdate is a partial update for a run record.
type RunUpdate struct {
	Status       *RunStatus
	FinishedAt   *time.Time
	Total        *int
	Succeeded    *int
	Failed       *int
	ErrorMessage *string
}

// Store is the record-store contract the core consumes. The core does not
// depend on how rows are persisted, only on these operations.
type Store interface {
	GetPending(ctx context.Context, backlog Backlog, f PendingFilter) ([]WorkItem, error)
	GetByID(ctx context.Context, id uuid.UUID) (*WorkItem, error)
	Update(ctx context.Context, id uuid.UUID, u WorkItemUpdate) error
	CreateRun(ctx context.Context, kind RunKind, metadata map[string]any) (*RunRecord, error)
	UpdateRun(ctx context.Context, id uuid.UUID, u RunUpdate) error
}
