package reconcile

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/medflow-ops/claimbridge/internal/browser"
	"github.com/medflow-ops/claimbridge/internal/portal"
	"github.com/medflow-ops/claimbridge/internal/record"
	"github.com/medflow-ops/claimbridge/internal/shared/types"
)

type fakeLister struct {
	items []record.WorkItem
}

func (f *fakeLister) ListByRange(context.Context, types.DateRange) ([]record.WorkItem, error) {
	return f.items, nil
}

type nilPageOpener struct{}

func (nilPageOpener) NewPage(string) (*browser.Page, error) { return nil, nil }

// fakePortal serves a canned claim-history listing and counts queries.
type fakePortal struct {
	visits      []portal.SubmittedVisit
	storedToken string
	queries     int
	loggedIn    bool
}

func (p *fakePortal) PortalName() string { return "fake" }

func (p *fakePortal) SessionToken(context.Context, *browser.Page) (string, error) {
	return p.storedToken, nil
}

func (p *fakePortal) Login(context.Context, *browser.Page) error {
	p.loggedIn = true
	return nil
}

func (p *fakePortal) LocatePatient(context.Context, *browser.Page, types.PatientID) (bool, error) {
	return true, nil
}

func (p *fakePortal) StartVisitForm(context.Context, *browser.Page) error { return nil }

func (p *fakePortal) FillField(context.Context, *browser.Page, string, string) error { return nil }

func (p *fakePortal) SaveDraft(context.Context, *browser.Page) error { return nil }

func (p *fakePortal) Submit(context.Context, *browser.Page) error { return nil }

func (p *fakePortal) ListSubmittedVisits(context.Context, *browser.Page, types.DateRange, types.PatientID) ([]portal.SubmittedVisit, error) {
	p.queries++
	return p.visits, nil
}

func recordedItem(status record.SubmissionStatus) record.WorkItem {
	return record.WorkItem{
		ID:               uuid.New(),
		PatientName:      "Maria Borg",
		PatientID:        "M1234567A",
		VisitDate:        time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
		PayerCode:        "MHC",
		ExtractionStatus: record.ExtractionCompleted,
		SubmissionStatus: status,
	}
}

func portalRow(date time.Time, name string) portal.SubmittedVisit {
	return portal.SubmittedVisit{
		VisitDate:   date,
		PatientName: name,
		Reference:   "CLM-0042",
		StatusLabel: "Received",
	}
}

func mustRange(t *testing.T) types.DateRange {
	t.Helper()
	rng, err := types.ParseDateRange("2026-01-01", "2026-01-31")
	if err != nil {
		t.Fatalf("ParseDateRange() error = %v", err)
	}
	return rng
}

func testEngine(lister *fakeLister, p portal.Adapter, allowlist []string) *Engine {
	reg := portal.NewRegistry()
	reg.Register("MHC", p)
	return New(lister, reg, nilPageOpener{}, allowlist, slog.New(slog.DiscardHandler))
}

func TestReconcileAligned(t *testing.T) {
	item := recordedItem(record.SubmissionDraft)
	p := &fakePortal{visits: []portal.SubmittedVisit{portalRow(item.VisitDate, "Maria Borg")}}
	e := testEngine(&fakeLister{items: []record.WorkItem{item}}, p, nil)

	rows, summary, err := e.Reconcile(context.Background(), mustRange(t))
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0].Classification != ClassAligned {
		t.Errorf("classification = %q, want %q", rows[0].Classification, ClassAligned)
	}
	if !rows[0].FoundInPortal || rows[0].PortalRef != "CLM-0042" {
		t.Errorf("portal match not carried onto row: %+v", rows[0])
	}
	if summary.Aligned != 1 || summary.Total != 1 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestReconcileRecordedNotInPortal(t *testing.T) {
	item := recordedItem(record.SubmissionSubmitted)
	p := &fakePortal{} // portal has no trace
	e := testEngine(&fakeLister{items: []record.WorkItem{item}}, p, nil)

	rows, summary, err := e.Reconcile(context.Background(), mustRange(t))
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if rows[0].Classification != ClassRecordedNotInPortal {
		t.Errorf("classification = %q, want %q", rows[0].Classification, ClassRecordedNotInPortal)
	}
	if summary.RecordedNotInPortal != 1 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestReconcileInPortalNotRecorded(t *testing.T) {
	item := recordedItem(record.SubmissionNone)
	p := &fakePortal{visits: []portal.SubmittedVisit{portalRow(item.VisitDate, "Maria Borg")}}
	e := testEngine(&fakeLister{items: []record.WorkItem{item}}, p, nil)

	rows, summary, err := e.Reconcile(context.Background(), mustRange(t))
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if rows[0].Classification != ClassInPortalNotRecorded {
		t.Errorf("classification = %q, want %q", rows[0].Classification, ClassInPortalNotRecorded)
	}
	if summary.InPortalNotRecorded != 1 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestReconcileNameMatchingIsNormalized(t *testing.T) {
	item := recordedItem(record.SubmissionDraft)
	item.PatientName = "Mrs. Maria Borg"
	p := &fakePortal{visits: []portal.SubmittedVisit{portalRow(item.VisitDate, "MARIA  BORG")}}
	e := testEngine(&fakeLister{items: []record.WorkItem{item}}, p, nil)

	rows, _, err := e.Reconcile(context.Background(), mustRange(t))
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if rows[0].Classification != ClassAligned {
		t.Errorf("classification = %q, want %q", rows[0].Classification, ClassAligned)
	}
}

func TestReconcileAllowlistSuppressesNamedItemOnly(t *testing.T) {
	allowed := recordedItem(record.SubmissionDraft)
	other := recordedItem(record.SubmissionDraft)
	other.PatientID = "B7654321Z"
	other.PatientName = "John Vella"

	p := &fakePortal{} // neither visit present in the portal
	e := testEngine(&fakeLister{items: []record.WorkItem{allowed, other}}, p, []string{allowed.ID.String()})

	rows, summary, err := e.Reconcile(context.Background(), mustRange(t))
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if rows[0].Classification != ClassSkippedAllowlist {
		t.Errorf("allowed item classification = %q, want %q", rows[0].Classification, ClassSkippedAllowlist)
	}
	if rows[1].Classification != ClassRecordedNotInPortal {
		t.Errorf("other item classification = %q, want %q", rows[1].Classification, ClassRecordedNotInPortal)
	}
	if summary.Skipped != 1 || summary.RecordedNotInPortal != 1 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestReconcileNoAdapter(t *testing.T) {
	item := recordedItem(record.SubmissionDraft)
	item.PayerCode = "UNKNOWN"
	p := &fakePortal{}
	e := testEngine(&fakeLister{items: []record.WorkItem{item}}, p, nil)

	rows, summary, err := e.Reconcile(context.Background(), mustRange(t))
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if rows[0].Classification != ClassNoAdapter {
		t.Errorf("classification = %q, want %q", rows[0].Classification, ClassNoAdapter)
	}
	if summary.NoAdapter != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if p.queries != 0 {
		t.Errorf("portal queried %d times for an unmapped payer", p.queries)
	}
}

func TestReconcileCachesPortalListingPerPatient(t *testing.T) {
	first := recordedItem(record.SubmissionDraft)
	second := recordedItem(record.SubmissionDraft)
	second.ID = uuid.New()
	second.VisitDate = time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)

	p := &fakePortal{visits: []portal.SubmittedVisit{
		portalRow(first.VisitDate, "Maria Borg"),
		portalRow(second.VisitDate, "Maria Borg"),
	}}
	e := testEngine(&fakeLister{items: []record.WorkItem{first, second}}, p, nil)

	rows, _, err := e.Reconcile(context.Background(), mustRange(t))
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if p.queries != 1 {
		t.Errorf("portal queried %d times for one patient, want 1", p.queries)
	}
	for _, row := range rows {
		if row.Classification != ClassAligned {
			t.Errorf("row %s classification = %q, want %q", row.VisitDate, row.Classification, ClassAligned)
		}
	}
}

func TestReconcileReusesStoredPortalSession(t *testing.T) {
	item := recordedItem(record.SubmissionSubmitted)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	raw, err := token.SignedString([]byte("portal-secret"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	p := &fakePortal{
		visits:      []portal.SubmittedVisit{portalRow(item.VisitDate, "Maria Borg")},
		storedToken: raw,
	}
	e := testEngine(&fakeLister{items: []record.WorkItem{item}}, p, nil)

	rows, _, err := e.Reconcile(context.Background(), mustRange(t))
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if p.loggedIn {
		t.Error("credential login ran despite a fresh stored token")
	}
	if len(rows) != 1 || rows[0].Classification != ClassAligned {
		t.Fatalf("rows = %+v, want one aligned row", rows)
	}
}
