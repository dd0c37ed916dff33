// Package batch walks a backlog of pending visits through the source
// adapter. Processing is strictly sequential: one browser session, one
// logical flow through the clinical system at a time.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/medflow-ops/claimbridge/internal/record"
	"github.com/medflow-ops/claimbridge/internal/run"
	"github.com/medflow-ops/claimbridge/internal/shared/errors"
	"github.com/medflow-ops/claimbridge/internal/shared/metrics"
	"github.com/medflow-ops/claimbridge/internal/shared/types"
	"github.com/medflow-ops/claimbridge/internal/source"
)

// VisitSource is the slice of the source adapter the orchestrator needs.
type VisitSource interface {
	EnsureReady(ctx context.Context) error
	ExtractVisit(ctx context.Context, item *record.WorkItem) (*source.Extraction, error)
}

// Selector identifies one run's backlog.
type Selector struct {
	Backlog      record.Backlog
	Range        types.DateRange
	RetryFailed  bool
	RetryCeiling int
	AllPending   bool
	MaxItems     int
}

// Orchestrator runs one extraction batch at a time.
type Orchestrator struct {
	store   record.Store
	src     VisitSource
	tracker *run.Tracker
	log     *slog.Logger
}

// New creates an orchestrator.
func New(store record.Store, src VisitSource, tracker *run.Tracker, log *slog.Logger) *Orchestrator {
	return &Orchestrator{store: store, src: src, tracker: tracker, log: log}
}

// Run processes the selected backlog and always leaves a finalized run
// record behind. Item-scoped failures are recorded on the item and the
// batch continues; run-fatal failures finalize the run as failed and abort.
func (o *Orchestrator) Run(ctx context.Context, sel Selector) (*record.RunRecord, error) {
	runRec, err := o.tracker.Begin(ctx, record.RunSourceExtraction, map[string]any{
		"backlog":      string(sel.Backlog),
		"range":        sel.Range.String(),
		"retry_failed": sel.RetryFailed,
	})
	if err != nil {
		return nil, err
	}

	items, err := o.store.GetPending(ctx, sel.Backlog, record.PendingFilter{
		Range:         sel.Range,
		IncludeFailed: sel.RetryFailed,
		RetryCeiling:  sel.RetryCeiling,
		AllPending:    sel.AllPending,
		Limit:         sel.MaxItems,
	})
	if err != nil {
		return o.abort(ctx, runRec, errors.Wrap(err, "backlog query failed"))
	}
	if err := o.tracker.SetTotal(ctx, len(items)); err != nil {
		o.log.Warn("failed to record backlog size", "run_id", runRec.ID, "error", err)
	}
	if len(items) == 0 {
		o.log.Info("backlog empty, nothing to do", "run_id", runRec.ID)
		return runRec, o.tracker.Finalize(ctx, record.RunCompleted, "")
	}

	if err := o.src.EnsureReady(ctx); err != nil {
		return o.abort(ctx, runRec, err)
	}

	for i := range items {
		item := &items[i]
		start := time.Now()

		if err := o.markInProgress(ctx, item); err != nil {
			// The store is the one shared resource; if it rejects a
			// single-item write the run cannot make reliable progress.
			return o.abort(ctx, runRec, errors.Wrap(err, "failed to mark item in progress"))
		}

		ex, err := o.src.ExtractVisit(ctx, item)
		if err != nil {
			if errors.IsRunFatal(err) {
				o.markItemFailed(ctx, item, err)
				return o.abort(ctx, runRec, err)
			}
			o.markItemFailed(ctx, item, err)
			o.tracker.ItemFailed(ctx, item.ID, err.Error())
			metrics.RecordItem(string(runRec.Kind), "failed", time.Since(start))
			continue
		}

		if err := o.persistExtraction(ctx, item, ex); err != nil {
			return o.abort(ctx, runRec, errors.Wrap(err, "failed to persist extraction"))
		}
		o.tracker.ItemSucceeded(ctx, item.ID)
		metrics.RecordItem(string(runRec.Kind), "succeeded", time.Since(start))
	}

	return runRec, o.tracker.Finalize(ctx, record.RunCompleted, "")
}

func (o *Orchestrator) abort(ctx context.Context, runRec *record.RunRecord, cause error) (*record.RunRecord, error) {
	if err := o.tracker.Finalize(ctx, record.RunFailed, cause.Error()); err != nil {
		o.log.Error("failed to finalize aborted run", "run_id", runRec.ID, "error", err)
	}
	return runRec, cause
}

func (o *Orchestrator) markInProgress(ctx context.Context, item *record.WorkItem) error {
	status := record.ExtractionInProgress
	attempts := item.AttemptCount + 1
	now := time.Now()
	item.AttemptCount = attempts
	return o.store.Update(ctx, item.ID, record.WorkItemUpdate{
		ExtractionStatus: &status,
		AttemptCount:     &attempts,
		LastAttemptAt:    &now,
	})
}

func (o *Orchestrator) markItemFailed(ctx context.Context, item *record.WorkItem, cause error) {
	status := record.ExtractionFailed
	message := cause.Error()
	if err := o.store.Update(ctx, item.ID, record.WorkItemUpdate{
		ExtractionStatus: &status,
		LastError:        &message,
	}); err != nil {
		o.log.Error("failed to record item failure", "item_id", item.ID, "error", err)
	}
	o.log.Warn("item failed", "item_id", item.ID, "attempt", item.AttemptCount, "error", message)
}

// persistExtraction writes validated fields and marks the item completed.
// Rejected fields stay absent; their reasons land in last_error for manual
// triage. Fields missing at the source are annotated, not failed.
func (o *Orchestrator) persistExtraction(ctx context.Context, item *record.WorkItem, ex *source.Extraction) error {
	status := record.ExtractionCompleted
	lastError := summarizeRejections(ex.Rejections)

	update := record.WorkItemUpdate{
		ExtractionStatus: &status,
		LastError:        &lastError,
		FieldSources:     ex.FieldSources,
		SourceMissing:    ex.SourceMissing,
	}
	if ex.Fields.IdentityNumber != "" {
		update.PatientID = &ex.Fields.IdentityNumber
	}
	if ex.PatientNumber != "" {
		update.PatientNumber = &ex.PatientNumber
	}
	if ex.Fields.Diagnosis != "" {
		update.Diagnosis = &ex.Fields.Diagnosis
	}
	if ex.Fields.Treatment != "" {
		update.Treatment = &ex.Fields.Treatment
	}
	if ex.Fields.LineItems != nil {
		update.LineItems = ex.Fields.LineItems
	}
	if ex.Fields.ConsultationFee != nil {
		update.ConsultationFee = ex.Fields.ConsultationFee
	}
	if ex.Fields.IncapacityDays != nil {
		update.IncapacityDays = ex.Fields.IncapacityDays
	}

	for field, reason := range ex.Rejections {
		metrics.RecordFieldRejection(field, reason)
	}
	return o.store.Update(ctx, item.ID, update)
}

// summarizeRejections flattens rejection reasons into the last-error field,
// in stable field order.
func summarizeRejections(rejections map[string]string) string {
	if len(rejections) == 0 {
		return ""
	}
	fields := make([]string, 0, len(rejections))
	for field := range rejections {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, rejections[field]))
	}
	return "rejected " + strings.Join(parts, "; ")
}
