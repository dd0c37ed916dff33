// Package source scrapes visit data out of the clinical record system. The
// system is an interactive web UI with no API; every extraction is a
// hardcoded, validated navigation sequence.
package source

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/medflow-ops/claimbridge/internal/browser"
	"github.com/medflow-ops/claimbridge/internal/record"
	"github.com/medflow-ops/claimbridge/internal/shared/config"
	"github.com/medflow-ops/claimbridge/internal/shared/errors"
	"github.com/medflow-ops/claimbridge/internal/shared/types"
	"github.com/medflow-ops/claimbridge/internal/validate"
)

// PatientResolver resolves a clinic-internal patient number ahead of the
// browser flow. Implemented by hisdb.Lookup; nil disables the fast path.
type PatientResolver interface {
	PatientNumber(ctx context.Context, patientID types.PatientID) (string, error)
}

// Extraction is the structured result of scraping one visit: validated
// values plus provenance.
type Extraction struct {
	Fields        validate.VisitFields
	FieldSources  map[string]string // field -> scraped region that produced it
	SourceMissing []string          // fields genuinely absent at the source
	Rejections    map[string]string // field -> validation rejection reason
	PatientNumber string            // resolved clinic number, when found
}

// Adapter drives the clinical system for one run.
type Adapter struct {
	cfg      config.SourceConfig
	page     *browser.Page
	resolver PatientResolver
	log      *slog.Logger

	ready bool
}

// New creates a source adapter bound to one page. resolver may be nil.
func New(cfg config.SourceConfig, page *browser.Page, resolver PatientResolver, log *slog.Logger) *Adapter {
	return &Adapter{cfg: cfg, page: page, resolver: resolver, log: log}
}

// EnsureReady logs in and reaches the patient listing. Any failure here is
// run-fatal: no item can be processed without it.
func (a *Adapter) EnsureReady(ctx context.Context) error {
	if a.ready {
		return nil
	}

	err := a.page.Run(ctx, "source_login",
		chromedp.Navigate(a.cfg.BaseURL+"/login"),
		chromedp.WaitVisible(`form#login`, chromedp.ByQuery),
		chromedp.SendKeys(`form#login input[name="user"]`, a.cfg.Username, chromedp.ByQuery),
		chromedp.SendKeys(`form#login input[name="pass"]`, a.cfg.Password, chromedp.ByQuery),
		chromedp.Click(`form#login button[type="submit"]`, chromedp.ByQuery),
		chromedp.WaitVisible(`#mainMenu`, chromedp.ByID),
	)
	if err != nil {
		return errors.Authentication("clinical system", err)
	}

	err = a.page.Run(ctx, "source_patient_listing",
		chromedp.Navigate(a.cfg.BaseURL+"/patients"),
		chromedp.WaitVisible(`#patientSearch`, chromedp.ByID),
	)
	if err != nil {
		return errors.NavigationFatal("patient listing", err)
	}

	a.ready = true
	return nil
}

// ExtractVisit walks the per-item state machine: locate patient, open the
// visit record, extract and validate each field. Item-scoped failures come
// back as errors; fields absent at the source come back annotated, not
// failed.
func (a *Adapter) ExtractVisit(ctx context.Context, item *record.WorkItem) (*Extraction, error) {
	if !a.ready {
		return nil, errors.NavigationFatal("extract before ready", fmt.Errorf("EnsureReady not called"))
	}

	number, err := a.locatePatient(ctx, item)
	if err != nil {
		return nil, err
	}

	if err := a.openVisit(ctx, item); err != nil {
		return nil, err
	}

	ex := &Extraction{
		FieldSources:  map[string]string{},
		Rejections:    map[string]string{},
		PatientNumber: number,
	}

	a.extractIdentityNumber(ctx, ex)
	a.extractClinicalNote(ctx, ex, "diagnosis")
	a.extractClinicalNote(ctx, ex, "treatment")
	a.extractLineItems(ctx, ex)
	a.extractConsultationFee(ctx, ex)
	a.extractIncapacityDays(ctx, ex)

	return ex, nil
}

// locatePatient prefers the clinic-internal number (direct, reliable) and
// falls back to name search. Returns the number when one was resolved.
func (a *Adapter) locatePatient(ctx context.Context, item *record.WorkItem) (string, error) {
	number := item.PatientNumber

	if number == "" && a.resolver != nil && item.PatientID != "" {
		if pid, err := types.ParsePatientID(item.PatientID); err == nil {
			resolved, err := a.resolver.PatientNumber(ctx, pid)
			if err != nil {
				// Fast path only; fall through to name search
				a.log.Warn("HIS patient lookup failed, falling back to name search",
					"item_id", item.ID, "error", err)
			} else {
				number = resolved
			}
		}
	}

	if number != "" {
		err := a.page.Run(ctx, "source_locate_by_number",
			chromedp.SetValue(`#patientSearch input[name="patientNo"]`, number, chromedp.ByQuery),
			chromedp.Click(`#patientSearch button.go`, chromedp.ByQuery),
			chromedp.WaitVisible(`#patientFile`, chromedp.ByID),
		)
		if err == nil {
			return number, nil
		}
		a.log.Warn("number-based location failed, retrying by name",
			"item_id", item.ID, "error", err)
	}

	err := a.page.Run(ctx, "source_locate_by_name",
		chromedp.Navigate(a.cfg.BaseURL+"/patients"),
		chromedp.WaitVisible(`#patientSearch`, chromedp.ByID),
		chromedp.SetValue(`#patientSearch input[name="name"]`, item.PatientName, chromedp.ByQuery),
		chromedp.Click(`#patientSearch button.go`, chromedp.ByQuery),
		chromedp.WaitVisible(`#searchResults`, chromedp.ByID),
	)
	if err != nil {
		return "", err
	}

	var matches int
	err = a.page.Run(ctx, "source_locate_results",
		chromedp.Evaluate(`document.querySelectorAll('#searchResults tr.patient').length`, &matches),
	)
	if err != nil {
		return "", err
	}
	if matches == 0 {
		return "", errors.NotFound("patient", item.PatientName)
	}

	return number, a.page.Run(ctx, "source_open_patient",
		chromedp.Click(`#searchResults tr.patient:first-child a`, chromedp.ByQuery),
		chromedp.WaitVisible(`#patientFile`, chromedp.ByID),
	)
}

// openVisit opens the visit record matching the item's encounter date.
func (a *Adapter) openVisit(ctx context.Context, item *record.WorkItem) error {
	dateLabel := item.VisitDate.Format("02/01/2006")
	err := a.page.Run(ctx, "source_open_visit",
		chromedp.Click(`#patientFile a.visits-tab`, chromedp.ByQuery),
		chromedp.WaitVisible(`#visitList`, chromedp.ByID),
		chromedp.Click(fmt.Sprintf(`#visitList tr[data-date="%s"] a.open`, dateLabel), chromedp.ByQuery),
		chromedp.WaitVisible(`#visitDetail`, chromedp.ByID),
	)
	if err != nil {
		return errors.NotFound("visit", dateLabel)
	}
	return nil
}

func (a *Adapter) extractIdentityNumber(ctx context.Context, ex *Extraction) {
	var raw string
	err := a.page.Run(ctx, "source_identity_number",
		chromedp.Text(`#patientFile span.id-card-no`, &raw, chromedp.ByQuery),
	)
	if err != nil {
		ex.SourceMissing = append(ex.SourceMissing, "identity_number")
		return
	}

	if v := validate.IdentityNumber(raw); v.Valid {
		ex.Fields.IdentityNumber = v.Cleaned
		ex.FieldSources["identity_number"] = "patient_header"
	} else {
		ex.Rejections["identity_number"] = v.Reason
	}
}

// noteSelectors are tried in priority order before the scored fallback:
// named fields first, then class hints.
var noteSelectors = map[string][]string{
	"diagnosis": {
		`#visitDetail textarea[name="diagnosis"]`,
		`#visitDetail [id*="diagnosis"]`,
		`#visitDetail .diagnosis-text`,
	},
	"treatment": {
		`#visitDetail textarea[name="treatment"]`,
		`#visitDetail [id*="treatment"]`,
		`#visitDetail .treatment-text`,
	},
}

// extractClinicalNote fills one clinical-text field. The absence of a note
// at the source is a legitimate terminal outcome: the field is annotated as
// source-missing, never guessed, and the item does not fail.
func (a *Adapter) extractClinicalNote(ctx context.Context, ex *Extraction, field string) {
	for _, selector := range noteSelectors[field] {
		var raw string
		err := a.page.Run(ctx, "source_note_"+field,
			chromedp.Value(selector, &raw, chromedp.ByQuery),
		)
		if err != nil || strings.TrimSpace(raw) == "" {
			continue
		}
		v := validate.ClinicalText(raw)
		if v.Valid {
			ex.setField(field, v.Cleaned, "named_field")
			return
		}
		ex.Rejections[field] = v.Reason
	}

	// Scored fallback across all visible text blocks. Naive longest-text
	// scraping grabs modal or navigation chrome; scoring plus validation
	// keeps that out.
	var blocks []string
	err := a.page.Run(ctx, "source_note_fallback_"+field,
		chromedp.Evaluate(`Array.from(document.querySelectorAll('#visitDetail p, #visitDetail td, #visitDetail div'))
			.filter(el => el.children.length === 0)
			.map(el => el.textContent.trim())
			.filter(t => t.length > 0)`, &blocks),
	)
	if err == nil {
		if text, ok := bestClinicalCandidate(blocks); ok {
			ex.setField(field, text, "scored_fallback")
			return
		}
	}

	ex.SourceMissing = append(ex.SourceMissing, field)
}

func (a *Adapter) extractLineItems(ctx context.Context, ex *Extraction) {
	var entries []string
	err := a.page.Run(ctx, "source_line_items",
		chromedp.Evaluate(`Array.from(document.querySelectorAll('#visitDetail table.billing td'))
			.map(td => td.textContent.trim())`, &entries),
	)
	if err != nil || len(entries) == 0 {
		ex.SourceMissing = append(ex.SourceMissing, "line_items")
		return
	}

	v := validate.LineItems(entries)
	if len(v.Cleaned) == 0 {
		ex.SourceMissing = append(ex.SourceMissing, "line_items")
		return
	}
	ex.Fields.LineItems = v.Cleaned
	ex.FieldSources["line_items"] = "billing_table"
}

func (a *Adapter) extractConsultationFee(ctx context.Context, ex *Extraction) {
	var raw string
	err := a.page.Run(ctx, "source_consultation_fee",
		chromedp.Text(`#visitDetail .fee-total`, &raw, chromedp.ByQuery),
	)
	if err != nil || strings.TrimSpace(raw) == "" {
		ex.SourceMissing = append(ex.SourceMissing, "consultation_fee")
		return
	}

	if v := validate.Amount(raw, validate.DefaultAmountMin, validate.DefaultAmountMax); v.Valid {
		fee := v.Cleaned
		ex.Fields.ConsultationFee = &fee
		ex.FieldSources["consultation_fee"] = "fee_total"
	} else {
		ex.Rejections["consultation_fee"] = v.Reason
	}
}

// extractIncapacityDays reads the sick-leave certificate block. Most visits
// carry no certificate, so an absent or empty field is skipped without a
// source-missing annotation.
func (a *Adapter) extractIncapacityDays(ctx context.Context, ex *Extraction) {
	var raw string
	err := a.page.Run(ctx, "source_incapacity_days",
		chromedp.Text(`#visitDetail .sick-leave-days`, &raw, chromedp.ByQuery),
	)
	if err != nil || strings.TrimSpace(raw) == "" {
		return
	}

	if v := validate.DayCount(raw); v.Valid {
		days := v.Cleaned
		ex.Fields.IncapacityDays = &days
		ex.FieldSources["incapacity_days"] = "sick_leave_block"
	} else {
		ex.Rejections["incapacity_days"] = v.Reason
	}
}

func (ex *Extraction) setField(field, value, sourceTag string) {
	switch field {
	case "diagnosis":
		ex.Fields.Diagnosis = value
	case "treatment":
		ex.Fields.Treatment = value
	}
	ex.FieldSources[field] = sourceTag
	delete(ex.Rejections, field)
}
