package record

import (
	"time"

	"github.com/google/uuid"
)

// ExtractionStatus tracks a visit through the extraction pipeline
type ExtractionStatus string

const (
	ExtractionPending    ExtractionStatus = "pending"
	ExtractionInProgress ExtractionStatus = "in_progress"
	ExtractionCompleted  ExtractionStatus = "completed"
	ExtractionFailed     ExtractionStatus = "failed"
)

// SubmissionStatus tracks a visit through claim submission. The empty string
// means the visit has not been routed to a portal yet.
type SubmissionStatus string

const (
	SubmissionNone      SubmissionStatus = ""
	SubmissionDraft     SubmissionStatus = "draft"
	SubmissionSubmitted SubmissionStatus = "submitted"
	SubmissionError     SubmissionStatus = "error"
)

// RunKind identifies what a run was doing
type RunKind string

const (
	RunSourceExtraction RunKind = "source_extraction"
	RunClaimSubmission  RunKind = "claim_submission"
)

// RunStatus is the lifecycle state of a run
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// WorkItem is one clinical encounter tracked through extraction and
// submission. It is a durable ledger row: the core updates it but never
// deletes it.
type WorkItem struct {
	ID uuid.UUID `json:"id"`

	// Patient identity
	PatientName   string `json:"patient_name"`
	PatientID     string `json:"patient_id"`     // national identity number
	PatientNumber string `json:"patient_number"` // clinic-internal numeric ID, optional

	// Encounter
	VisitDate       time.Time `json:"visit_date"`
	Diagnosis       string    `json:"diagnosis"`
	Treatment       string    `json:"treatment"`
	LineItems       []string  `json:"line_items"`
	ConsultationFee *float64  `json:"consultation_fee,omitempty"`
	IncapacityDays  *int      `json:"incapacity_days,omitempty"`
	PayerCode       string    `json:"payer_code"`

	// Extraction state
	ExtractionStatus ExtractionStatus  `json:"extraction_status"`
	AttemptCount     int               `json:"attempt_count"`
	LastAttemptAt    *time.Time        `json:"last_attempt_at,omitempty"`
	LastError        string            `json:"last_error,omitempty"`
	FieldSources     map[string]string `json:"field_sources,omitempty"`
	SourceMissing    []string          `json:"source_missing,omitempty"`

	// Submission state
	SubmissionStatus SubmissionStatus `json:"submission_status"`
	SubmittedAt      *time.Time       `json:"submitted_at,omitempty"`
	SubmissionResult map[string]any   `json:"submission_result,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasSourceMissing reports whether a field was annotated as absent at the
// source. Absence at the source is a terminal outcome, distinct from an
// extraction failure.
func (w *WorkItem) HasSourceMissing(field string) bool {
	for _, f := range w.SourceMissing {
		if f == field {
			return true
		}
	}
	return false
}

// Submittable reports whether the item is eligible for claim submission.
func (w *WorkItem) Submittable() bool {
	return w.ExtractionStatus == ExtractionCompleted &&
		w.SubmissionStatus == SubmissionNone &&
		w.PayerCode != ""
}

// RunRecord is one row per batch or submission invocation.
type RunRecord struct {
	ID           uuid.UUID      `json:"id"`
	Kind         RunKind        `json:"kind"`
	Status       RunStatus      `json:"status"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
	Total        int            `json:"total"`
	Succeeded    int            `json:"succeeded"`
	Failed       int            `json:"failed"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Finalized reports whether the run reached a terminal status.
func (r *RunRecord) Finalized() bool {
	return r.Status == RunCompleted || r.Status == RunFailed
}
