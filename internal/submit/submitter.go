// Package submit routes completed visits to their insurer portal and
// records the outcome. The default behavior is a recoverable draft save;
// final submission is an explicit opt-in.
package submit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/medflow-ops/claimbridge/internal/browser"
	"github.com/medflow-ops/claimbridge/internal/portal"
	"github.com/medflow-ops/claimbridge/internal/record"
	"github.com/medflow-ops/claimbridge/internal/run"
	"github.com/medflow-ops/claimbridge/internal/shared/config"
	"github.com/medflow-ops/claimbridge/internal/shared/errors"
	"github.com/medflow-ops/claimbridge/internal/shared/metrics"
	"github.com/medflow-ops/claimbridge/internal/shared/types"
)

// PageOpener hands out portal pages. Implemented by *browser.Session.
type PageOpener interface {
	NewPage(site string) (*browser.Page, error)
}

// Filter scopes one submission run.
type Filter struct {
	Range      types.DateRange
	AllPending bool
	MaxItems   int
}

// Submitter runs one claim-submission batch at a time.
type Submitter struct {
	store    record.Store
	registry *portal.Registry
	pages    PageOpener
	tracker  *run.Tracker
	cfg      config.SubmissionConfig
	log      *slog.Logger

	// one page per portal, logged in on first use
	portalPages map[string]*browser.Page
}

// New creates a submitter.
func New(store record.Store, registry *portal.Registry, pages PageOpener, tracker *run.Tracker, cfg config.SubmissionConfig, log *slog.Logger) *Submitter {
	return &Submitter{
		store:       store,
		registry:    registry,
		pages:       pages,
		tracker:     tracker,
		cfg:         cfg,
		log:         log,
		portalPages: map[string]*browser.Page{},
	}
}

// SubmitPending routes every pending claim to its portal adapter. A single
// item's failure never aborts the run; only adapter login failure is
// run-fatal.
func (s *Submitter) SubmitPending(ctx context.Context, f Filter) (*record.RunRecord, error) {
	runRec, err := s.tracker.Begin(ctx, record.RunClaimSubmission, map[string]any{
		"range":        f.Range.String(),
		"final_submit": s.cfg.FinalSubmit,
	})
	if err != nil {
		return nil, err
	}

	items, err := s.store.GetPending(ctx, record.BacklogSubmission, record.PendingFilter{
		Range:      f.Range,
		AllPending: f.AllPending,
		Limit:      f.MaxItems,
	})
	if err != nil {
		return s.abort(ctx, runRec, errors.Wrap(err, "pending-claims query failed"))
	}
	if err := s.tracker.SetTotal(ctx, len(items)); err != nil {
		s.log.Warn("failed to record backlog size", "run_id", runRec.ID, "error", err)
	}

	for i := range items {
		item := &items[i]
		start := time.Now()

		outcome, err := s.submitItem(ctx, item)
		if err != nil {
			if errors.IsRunFatal(err) {
				return s.abort(ctx, runRec, err)
			}
			outcome = portal.Outcome{Success: false, Reason: err.Error()}
		}

		if persistErr := s.persistOutcome(ctx, item, outcome); persistErr != nil {
			return s.abort(ctx, runRec, errors.Wrap(persistErr, "failed to persist submission outcome"))
		}

		if outcome.Success {
			s.tracker.ItemSucceeded(ctx, item.ID)
			metrics.RecordItem(string(runRec.Kind), "succeeded", time.Since(start))
		} else {
			s.tracker.ItemFailed(ctx, item.ID, outcome.Reason)
			metrics.RecordItem(string(runRec.Kind), "failed", time.Since(start))
		}
	}

	return runRec, s.tracker.Finalize(ctx, record.RunCompleted, "")
}

func (s *Submitter) abort(ctx context.Context, runRec *record.RunRecord, cause error) (*record.RunRecord, error) {
	if err := s.tracker.Finalize(ctx, record.RunFailed, cause.Error()); err != nil {
		s.log.Error("failed to finalize aborted run", "run_id", runRec.ID, "error", err)
	}
	return runRec, cause
}

// submitItem routes one visit. An unmapped payer code is an expected,
// reportable outcome, never an error.
func (s *Submitter) submitItem(ctx context.Context, item *record.WorkItem) (portal.Outcome, error) {
	adapter, ok := s.registry.Resolve(item.PayerCode)
	if !ok {
		s.log.Info("no adapter for payer code", "item_id", item.ID, "payer_code", item.PayerCode)
		return portal.NotImplemented(), nil
	}

	patientID, err := types.ParsePatientID(item.PatientID)
	if err != nil {
		return portal.Outcome{Success: false, Reason: "invalid_identity_number"}, nil
	}

	page, err := s.portalPage(ctx, adapter)
	if err != nil {
		return portal.Outcome{}, err
	}

	found, err := adapter.LocatePatient(ctx, page, patientID)
	if err != nil {
		return portal.Outcome{}, err
	}
	if !found {
		return portal.Outcome{Success: false, Reason: "patient_not_found"}, nil
	}

	if err := adapter.StartVisitForm(ctx, page); err != nil {
		return portal.Outcome{}, err
	}

	filled, err := s.fillClaim(ctx, adapter, page, item)
	if err != nil {
		return portal.Outcome{}, err
	}

	status := record.SubmissionDraft
	if s.cfg.FinalSubmit {
		if err := adapter.Submit(ctx, page); err != nil {
			return portal.Outcome{}, err
		}
		status = record.SubmissionSubmitted
	} else {
		if err := adapter.SaveDraft(ctx, page); err != nil {
			return portal.Outcome{}, err
		}
	}

	return portal.Outcome{
		Success: true,
		Status:  status,
		Fields:  filled,
	}, nil
}

// fillClaim fills the portal form field by field. Fields the item has no
// value for stay blank: a blank field is reviewable in the portal, a guessed
// one is not. Returns which fields were filled for the outcome payload.
func (s *Submitter) fillClaim(ctx context.Context, adapter portal.Adapter, page *browser.Page, item *record.WorkItem) (map[string]any, error) {
	filled := map[string]any{}

	fill := func(name, value string) error {
		if value == "" {
			return nil
		}
		if err := adapter.FillField(ctx, page, name, value); err != nil {
			return err
		}
		filled[name] = value
		return nil
	}

	if err := fill(portal.FieldVisitType, "outpatient"); err != nil {
		return nil, err
	}
	if item.IncapacityDays != nil {
		if err := fill(portal.FieldIncapacityDays, strconv.Itoa(*item.IncapacityDays)); err != nil {
			return nil, err
		}
	}
	if err := fill(portal.FieldDiagnosis, item.Diagnosis); err != nil {
		return nil, err
	}
	if item.ConsultationFee != nil {
		if err := fill(portal.FieldConsultationFee, fmt.Sprintf("%.2f", *item.ConsultationFee)); err != nil {
			return nil, err
		}
	}
	if len(item.LineItems) > 0 {
		if err := fill(portal.FieldServiceLineItems, strings.Join(item.LineItems, "\n")); err != nil {
			return nil, err
		}
	}
	return filled, nil
}

// portalPage returns the logged-in page for a portal, opening and
// authenticating it on first use. A bearer token a previous login left in
// the browser profile skips the credential flow while it stays fresh.
// Login failure is run-fatal.
func (s *Submitter) portalPage(ctx context.Context, adapter portal.Adapter) (*browser.Page, error) {
	name := adapter.PortalName()
	if page, ok := s.portalPages[name]; ok {
		return page, nil
	}

	page, err := s.pages.NewPage(name)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open portal page")
	}

	token, err := adapter.SessionToken(ctx, page)
	if err != nil {
		// Unreadable token only costs us the reuse; log in normally.
		s.log.Warn("failed to read stored portal token", "portal", name, "error", err)
	} else if browser.TokenFresh(token, browser.DefaultTokenSkew) {
		s.log.Info("reusing stored portal session", "portal", name)
		s.portalPages[name] = page
		return page, nil
	}

	if err := adapter.Login(ctx, page); err != nil {
		return nil, err
	}
	s.portalPages[name] = page
	return page, nil
}

// persistOutcome writes the submission fields for one item.
func (s *Submitter) persistOutcome(ctx context.Context, item *record.WorkItem, outcome portal.Outcome) error {
	result := map[string]any{
		"success": outcome.Success,
	}
	if outcome.Reason != "" {
		result["reason"] = outcome.Reason
	}
	if outcome.Reference != "" {
		result["reference"] = outcome.Reference
	}
	if len(outcome.Fields) > 0 {
		result["fields"] = outcome.Fields
	}

	update := record.WorkItemUpdate{SubmissionResult: result}
	if outcome.Success {
		status := outcome.Status
		now := time.Now()
		update.SubmissionStatus = &status
		update.SubmittedAt = &now
	} else if outcome.Reason != "not_implemented" {
		status := record.SubmissionError
		update.SubmissionStatus = &status
	}
	// not_implemented leaves the submission status untouched so the item
	// surfaces again once an adapter exists for its payer.

	return s.store.Update(ctx, item.ID, update)
}
