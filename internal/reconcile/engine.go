// Package reconcile cross-checks locally recorded submission state against
// each portal's own claim-history view. The output distinguishes "we
// recorded it but the portal has no trace" from "the portal has it but we
// never recorded it", two failure modes a run history alone cannot
// separate.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/medflow-ops/claimbridge/internal/browser"
	"github.com/medflow-ops/claimbridge/internal/portal"
	"github.com/medflow-ops/claimbridge/internal/record"
	"github.com/medflow-ops/claimbridge/internal/shared/errors"
	"github.com/medflow-ops/claimbridge/internal/shared/metrics"
	"github.com/medflow-ops/claimbridge/internal/shared/types"
)

// Classification labels for reconciliation rows.
const (
	ClassAligned             = "aligned"
	ClassRecordedNotInPortal = "recorded_not_in_portal"
	ClassInPortalNotRecorded = "in_portal_not_recorded"
	ClassSkippedAllowlist    = "skipped_allowlist"
	ClassNoAdapter           = "no_adapter"
)

// Row is one reconciliation result. Report artifact only, never persisted.
type Row struct {
	ItemID         uuid.UUID               `json:"item_id"`
	PatientName    string                  `json:"patient_name"`
	VisitDate      string                  `json:"visit_date"`
	PayerCode      string                  `json:"payer_code"`
	LocalStatus    record.SubmissionStatus `json:"local_status"`
	FoundInPortal  bool                    `json:"found_in_portal"`
	PortalStatus   string                  `json:"portal_status,omitempty"`
	PortalRef      string                  `json:"portal_ref,omitempty"`
	Classification string                  `json:"classification"`
}

// Summary holds derived totals, recomputed synchronously from the rows.
type Summary struct {
	Total               int `json:"total"`
	Aligned             int `json:"aligned"`
	RecordedNotInPortal int `json:"recorded_not_in_portal"`
	InPortalNotRecorded int `json:"in_portal_not_recorded"`
	Skipped             int `json:"skipped"`
	NoAdapter           int `json:"no_adapter"`
}

// VisitLister is the slice of the record store reconciliation needs.
type VisitLister interface {
	ListByRange(ctx context.Context, rng types.DateRange) ([]record.WorkItem, error)
}

// PageOpener hands out portal pages. Implemented by *browser.Session.
type PageOpener interface {
	NewPage(site string) (*browser.Page, error)
}

// Engine runs one reconciliation pass at a time.
type Engine struct {
	store    VisitLister
	registry *portal.Registry
	pages    PageOpener
	log      *slog.Logger

	// Allowlist names individual items or identity numbers whose mismatch
	// has been manually accepted. It suppresses classification for those
	// exact entries only, never for a class of items.
	allowlist map[string]bool

	portalPages map[string]*browser.Page
}

// New creates a reconciliation engine. allowlist entries are item UUIDs or
// identity numbers.
func New(store VisitLister, registry *portal.Registry, pages PageOpener, allowlist []string, log *slog.Logger) *Engine {
	allowed := make(map[string]bool, len(allowlist))
	for _, entry := range allowlist {
		allowed[entry] = true
	}
	return &Engine{
		store:       store,
		registry:    registry,
		pages:       pages,
		log:         log,
		allowlist:   allowed,
		portalPages: map[string]*browser.Page{},
	}
}

type portalKey struct {
	portal    string
	patientID string
}

// Reconcile compares local records in range against portal claim history and
// classifies every item.
func (e *Engine) Reconcile(ctx context.Context, rng types.DateRange) ([]Row, Summary, error) {
	items, err := e.store.ListByRange(ctx, rng)
	if err != nil {
		return nil, Summary{}, errors.Wrap(err, "failed to list local visits")
	}

	// One portal query per (portal, patient) covers every visit in range.
	listings := map[portalKey][]portal.SubmittedVisit{}

	rows := make([]Row, 0, len(items))
	for i := range items {
		item := &items[i]

		row := Row{
			ItemID:      item.ID,
			PatientName: item.PatientName,
			VisitDate:   item.VisitDate.Format("2006-01-02"),
			PayerCode:   item.PayerCode,
			LocalStatus: item.SubmissionStatus,
		}

		adapter, ok := e.registry.Resolve(item.PayerCode)
		if !ok {
			row.Classification = ClassNoAdapter
			rows = append(rows, row)
			continue
		}

		visits, err := e.portalListing(ctx, adapter, listings, rng, item)
		if err != nil {
			return nil, Summary{}, err
		}

		match := matchVisit(visits, item)
		if match != nil {
			row.FoundInPortal = true
			row.PortalStatus = match.StatusLabel
			row.PortalRef = match.Reference
		}
		row.Classification = e.classify(item, row.FoundInPortal)
		rows = append(rows, row)
		metrics.RecordReconciliationRow(row.Classification)
	}

	// Derived totals are an explicit recompute over the finished rows, not
	// a side effect of building them.
	return rows, summarize(rows), nil
}

func (e *Engine) portalListing(ctx context.Context, adapter portal.Adapter, cache map[portalKey][]portal.SubmittedVisit, rng types.DateRange, item *record.WorkItem) ([]portal.SubmittedVisit, error) {
	patientID, err := types.ParsePatientID(item.PatientID)
	if err != nil {
		// No usable identity number: the portal search key is missing, so
		// the item can only match by absence.
		return nil, nil
	}

	key := portalKey{portal: adapter.PortalName(), patientID: patientID.String()}
	if visits, ok := cache[key]; ok {
		return visits, nil
	}

	page, err := e.portalPage(ctx, adapter)
	if err != nil {
		return nil, err
	}
	visits, err := adapter.ListSubmittedVisits(ctx, page, rng, patientID)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("claim-history query failed for %s", adapter.PortalName()))
	}
	cache[key] = visits
	return visits, nil
}

// portalPage opens and authenticates one page per portal. A still-fresh
// bearer token from a previous login skips the credential flow.
func (e *Engine) portalPage(ctx context.Context, adapter portal.Adapter) (*browser.Page, error) {
	name := adapter.PortalName()
	if page, ok := e.portalPages[name]; ok {
		return page, nil
	}
	page, err := e.pages.NewPage(name)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open portal page")
	}

	token, err := adapter.SessionToken(ctx, page)
	if err != nil {
		e.log.Warn("failed to read stored portal token", "portal", name, "error", err)
	} else if browser.TokenFresh(token, browser.DefaultTokenSkew) {
		e.log.Info("reusing stored portal session", "portal", name)
		e.portalPages[name] = page
		return page, nil
	}

	if err := adapter.Login(ctx, page); err != nil {
		return nil, err
	}
	e.portalPages[name] = page
	return page, nil
}

// classify applies the mismatch rules, with the allowlist suppressing named
// items only.
func (e *Engine) classify(item *record.WorkItem, found bool) string {
	recorded := item.SubmissionStatus == record.SubmissionDraft ||
		item.SubmissionStatus == record.SubmissionSubmitted

	var class string
	switch {
	case recorded && !found:
		class = ClassRecordedNotInPortal
	case !recorded && found:
		class = ClassInPortalNotRecorded
	default:
		return ClassAligned
	}

	if e.allowlist[item.ID.String()] || e.allowlist[item.PatientID] {
		e.log.Info("mismatch suppressed by allowlist",
			"item_id", item.ID, "classification", class)
		return ClassSkippedAllowlist
	}
	return class
}

// matchVisit finds the portal row for an item by visit date and normalized
// patient name.
func matchVisit(visits []portal.SubmittedVisit, item *record.WorkItem) *portal.SubmittedVisit {
	wantDate := item.VisitDate.Format("2006-01-02")
	wantName := portal.NormalizePatientName(item.PatientName)
	for i := range visits {
		v := &visits[i]
		if v.VisitDate.Format("2006-01-02") != wantDate {
			continue
		}
		if portal.NormalizePatientName(v.PatientName) == wantName {
			return v
		}
	}
	return nil
}

// summarize recomputes the derived totals from scratch.
func summarize(rows []Row) Summary {
	s := Summary{Total: len(rows)}
	for _, row := range rows {
		switch row.Classification {
		case ClassAligned:
			s.Aligned++
		case ClassRecordedNotInPortal:
			s.RecordedNotInPortal++
		case ClassInPortalNotRecorded:
			s.InPortalNotRecorded++
		case ClassSkippedAllowlist:
			s.Skipped++
		case ClassNoAdapter:
			s.NoAdapter++
		}
	}
	return s
}
