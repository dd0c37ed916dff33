// Package portal defines the contract every insurer-portal adapter
// implements and the routing table that selects one by payer code. Adding a
// portal means adding an adapter implementation and a registry entry;
// orchestration logic never changes.
package portal

import (
	"context"
	"time"

	"github.com/medflow-ops/claimbridge/internal/browser"
	"github.com/medflow-ops/claimbridge/internal/record"
	"github.com/medflow-ops/claimbridge/internal/shared/types"
)

// Field names passed to FillField, one call per logical claim field.
const (
	FieldVisitType        = "visit_type"
	FieldIncapacityDays   = "incapacity_days"
	FieldDiagnosis        = "diagnosis"
	FieldConsultationFee  = "consultation_fee"
	FieldServiceLineItems = "service_line_items"
)

// SubmittedVisit is one normalized row from a portal's own claim-history
// view, used only by reconciliation.
type SubmittedVisit struct {
	VisitDate   time.Time `json:"visit_date"`
	PatientName string    `json:"patient_name"`
	Reference   string    `json:"reference"`
	StatusLabel string    `json:"status_label"`
}

// Outcome is the structured result of routing one work item to a portal.
type Outcome struct {
	Success   bool                    `json:"success"`
	Reason    string                  `json:"reason,omitempty"`
	Status    record.SubmissionStatus `json:"status,omitempty"`
	Reference string                  `json:"reference,omitempty"`
	Fields    map[string]any          `json:"fields,omitempty"`
}

// NotImplemented is the outcome for a payer code with no registered adapter.
// An unsupported payer is an expected, reportable state, not an exception.
func NotImplemented() Outcome {
	return Outcome{Success: false, Reason: "not_implemented"}
}

// Adapter drives one insurer portal family.
type Adapter interface {
	// PortalName identifies the portal family in logs and reports.
	PortalName() string

	// SessionToken reads the bearer token the portal stored client-side
	// on a previous login, or "" when none survives. Callers use it to
	// skip Login when the token is still fresh.
	SessionToken(ctx context.Context, page *browser.Page) (string, error)

	// Login authenticates the page. Failure is run-fatal for submission.
	Login(ctx context.Context, page *browser.Page) error

	// LocatePatient searches the portal for a patient by identity number.
	// Not-found is a result, not an error.
	LocatePatient(ctx context.Context, page *browser.Page, patientID types.PatientID) (bool, error)

	// StartVisitForm opens a fresh claim form for the located patient.
	StartVisitForm(ctx context.Context, page *browser.Page) error

	// FillField fills one logical claim field.
	FillField(ctx context.Context, page *browser.Page, name string, value string) error

	// SaveDraft persists the form recoverably. The default behavior.
	SaveDraft(ctx context.Context, page *browser.Page) error

	// Submit performs the irreversible final submission. Only called when
	// final submission is explicitly enabled.
	Submit(ctx context.Context, page *browser.Page) error

	// ListSubmittedVisits queries the portal's claim-history view by date
	// range and patient key, returning normalized rows.
	ListSubmittedVisits(ctx context.Context, page *browser.Page, rng types.DateRange, patientKey types.PatientID) ([]SubmittedVisit, error)
}

// Registry routes payer codes to adapters.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry creates a registry from payer-code keyed adapters.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register maps a payer code to an adapter. Later registrations win, which
// keeps test doubles simple.
func (r *Registry) Register(payerCode string, a Adapter) {
	r.adapters[payerCode] = a
}

// Resolve returns the adapter for a payer code, or false when the code has
// no adapter.
func (r *Registry) Resolve(payerCode string) (Adapter, bool) {
	a, ok := r.adapters[payerCode]
	return a, ok
}

// Codes returns the registered payer codes.
func (r *Registry) Codes() []string {
	codes := make([]string, 0, len(r.adapters))
	for code := range r.adapters {
		codes = append(codes, code)
	}
	return codes
}
