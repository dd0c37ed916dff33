// Package mhc drives the MHC insurer portal family. The navigation sequence
// is hardcoded against the portal's current markup; selectors live here and
// nowhere else.
package mhc

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/medflow-ops/claimbridge/internal/browser"
	"github.com/medflow-ops/claimbridge/internal/portal"
	"github.com/medflow-ops/claimbridge/internal/shared/config"
	"github.com/medflow-ops/claimbridge/internal/shared/errors"
	"github.com/medflow-ops/claimbridge/internal/shared/types"
)

// Adapter implements portal.Adapter for the MHC portal family.
type Adapter struct {
	cfg config.PortalCredentials
	log *slog.Logger
}

// New creates an MHC adapter.
func New(cfg config.PortalCredentials, log *slog.Logger) *Adapter {
	return &Adapter{cfg: cfg, log: log}
}

// PortalName identifies the portal family.
func (a *Adapter) PortalName() string {
	return "mhc"
}

// diagnosisVocabulary is the portal's fixed diagnosis dropdown, keyed by the
// keywords that map scraped clinical text onto each option.
var diagnosisVocabulary = []portal.VocabularyEntry{
	{Label: "Upper respiratory tract infection", Keywords: []string{"respiratory", "throat", "cough", "urti"}},
	{Label: "Gastroenteritis", Keywords: []string{"gastro", "vomit", "diarrhoea", "diarrhea"}},
	{Label: "Musculoskeletal injury", Keywords: []string{"sprain", "strain", "muscle", "back pain"}},
	{Label: "Hypertension review", Keywords: []string{"hypertension", "blood pressure"}},
	{Label: "Dermatological condition", Keywords: []string{"rash", "derma", "eczema", "skin"}},
	{Label: "Migraine", Keywords: []string{"migraine", "headache"}},
	{Label: "General consultation", Keywords: []string{"review", "consultation", "follow up"}},
}

// SessionToken reads the bearer token a previous login left in the
// portal's local storage. Local storage is origin-scoped, so the page
// navigates to the portal origin before reading.
func (a *Adapter) SessionToken(ctx context.Context, page *browser.Page) (string, error) {
	var token string
	err := page.Run(ctx, "mhc_session_token",
		chromedp.Navigate(a.cfg.BaseURL+"/provider"),
		chromedp.Evaluate(`window.localStorage.getItem('mhc.providerToken') || ''`, &token),
	)
	if err != nil {
		return "", err
	}
	return token, nil
}

// Login authenticates against the portal and waits for the dashboard.
func (a *Adapter) Login(ctx context.Context, page *browser.Page) error {
	err := page.Run(ctx, "mhc_login",
		chromedp.Navigate(a.cfg.BaseURL+"/provider/login"),
		chromedp.WaitVisible(`#loginForm`, chromedp.ByID),
		chromedp.SendKeys(`#username`, a.cfg.Username, chromedp.ByID),
		chromedp.SendKeys(`#password`, a.cfg.Password, chromedp.ByID),
		chromedp.Click(`#loginForm button[type="submit"]`, chromedp.ByQuery),
		chromedp.WaitVisible(`nav.provider-dashboard`, chromedp.ByQuery),
	)
	if err != nil {
		return errors.Authentication("mhc portal", err)
	}
	return nil
}

// LocatePatient searches the member lookup by identity number.
func (a *Adapter) LocatePatient(ctx context.Context, page *browser.Page, patientID types.PatientID) (bool, error) {
	err := page.Run(ctx, "mhc_member_search",
		chromedp.Navigate(a.cfg.BaseURL+"/provider/members"),
		chromedp.WaitVisible(`#memberSearch`, chromedp.ByID),
		chromedp.SetValue(`#memberSearch input[name="idNumber"]`, patientID.String(), chromedp.ByQuery),
		chromedp.Click(`#memberSearch button.search`, chromedp.ByQuery),
		chromedp.WaitVisible(`#memberResults`, chromedp.ByID),
	)
	if err != nil {
		return false, err
	}

	var resultCount int
	err = page.Run(ctx, "mhc_member_results",
		chromedp.Evaluate(`document.querySelectorAll('#memberResults tr.member-row').length`, &resultCount),
	)
	if err != nil {
		return false, err
	}
	if resultCount == 0 {
		a.log.Info("member not found in portal", "portal", "mhc", "patient_id", patientID.Masked())
		return false, nil
	}

	return true, page.Run(ctx, "mhc_member_open",
		chromedp.Click(`#memberResults tr.member-row:first-child a.open-member`, chromedp.ByQuery),
		chromedp.WaitVisible(`#memberDetail`, chromedp.ByID),
	)
}

// StartVisitForm opens a fresh outpatient claim form for the open member.
func (a *Adapter) StartVisitForm(ctx context.Context, page *browser.Page) error {
	return page.Run(ctx, "mhc_new_claim",
		chromedp.Click(`#memberDetail a.new-outpatient-claim`, chromedp.ByQuery),
		chromedp.WaitVisible(`#claimForm`, chromedp.ByID),
	)
}

// fieldSelectors maps logical claim fields onto the form's inputs.
var fieldSelectors = map[string]string{
	portal.FieldVisitType:        `#claimForm select[name="visitType"]`,
	portal.FieldIncapacityDays:   `#claimForm input[name="incapacityDays"]`,
	portal.FieldDiagnosis:        `#claimForm select[name="diagnosis"]`,
	portal.FieldConsultationFee:  `#claimForm input[name="consultationFee"]`,
	portal.FieldServiceLineItems: `#claimForm textarea[name="services"]`,
}

// FillField fills one logical claim field. Diagnosis values are mapped onto
// the portal's fixed vocabulary; an unmatched diagnosis leaves the field
// blank rather than guessing.
func (a *Adapter) FillField(ctx context.Context, page *browser.Page, name string, value string) error {
	selector, ok := fieldSelectors[name]
	if !ok {
		return fmt.Errorf("mhc claim form has no field %q", name)
	}

	if name == portal.FieldDiagnosis {
		label, confidence, ok := portal.MatchDiagnosis(value, diagnosisVocabulary)
		if !ok {
			a.log.Info("no confident diagnosis match, leaving field blank",
				"portal", "mhc", "confidence", confidence)
			return nil
		}
		return page.Run(ctx, "mhc_fill_"+name,
			chromedp.SetAttributeValue(selector, "data-autofilled", "1", chromedp.ByQuery),
			chromedp.SetValue(selector, label, chromedp.ByQuery),
		)
	}

	return page.Run(ctx, "mhc_fill_"+name,
		chromedp.SetValue(selector, value, chromedp.ByQuery),
	)
}

// SaveDraft saves the claim recoverably.
func (a *Adapter) SaveDraft(ctx context.Context, page *browser.Page) error {
	return page.Run(ctx, "mhc_save_draft",
		chromedp.Click(`#claimForm button.save-draft`, chromedp.ByQuery),
		chromedp.WaitVisible(`.claim-saved-banner`, chromedp.ByQuery),
	)
}

// Submit performs the final, irreversible submission.
func (a *Adapter) Submit(ctx context.Context, page *browser.Page) error {
	return page.Run(ctx, "mhc_submit",
		chromedp.Click(`#claimForm button.submit-claim`, chromedp.ByQuery),
		chromedp.WaitVisible(`.claim-submitted-banner`, chromedp.ByQuery),
	)
}

type historyRow struct {
	Date      string `json:"date"`
	Member    string `json:"member"`
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

// ListSubmittedVisits queries the portal claim-history view by date range
// and identity number, returning normalized rows.
func (a *Adapter) ListSubmittedVisits(ctx context.Context, page *browser.Page, rng types.DateRange, patientKey types.PatientID) ([]portal.SubmittedVisit, error) {
	err := page.Run(ctx, "mhc_claim_history",
		chromedp.Navigate(a.cfg.BaseURL+"/provider/claims/history"),
		chromedp.WaitVisible(`#historyFilter`, chromedp.ByID),
		chromedp.SetValue(`#historyFilter input[name="from"]`, rng.From.Format("02/01/2006"), chromedp.ByQuery),
		chromedp.SetValue(`#historyFilter input[name="to"]`, rng.To.Format("02/01/2006"), chromedp.ByQuery),
		chromedp.SetValue(`#historyFilter input[name="idNumber"]`, patientKey.String(), chromedp.ByQuery),
		chromedp.Click(`#historyFilter button.apply`, chromedp.ByQuery),
		chromedp.WaitVisible(`#historyResults`, chromedp.ByID),
	)
	if err != nil {
		return nil, err
	}

	var rows []historyRow
	err = page.Run(ctx, "mhc_claim_history_rows",
		chromedp.Evaluate(`Array.from(document.querySelectorAll('#historyResults tr.claim-row')).map(tr => ({
			date: tr.querySelector('td.date')?.textContent?.trim() ?? '',
			member: tr.querySelector('td.member')?.textContent?.trim() ?? '',
			reference: tr.querySelector('td.reference')?.textContent?.trim() ?? '',
			status: tr.querySelector('td.status')?.textContent?.trim() ?? ''
		}))`, &rows),
	)
	if err != nil {
		return nil, err
	}

	visits := make([]portal.SubmittedVisit, 0, len(rows))
	for _, row := range rows {
		date, err := time.Parse("02/01/2006", strings.TrimSpace(row.Date))
		if err != nil {
			a.log.Warn("skipping history row with unparsable date", "portal", "mhc", "raw", row.Date)
			continue
		}
		visits = append(visits, portal.SubmittedVisit{
			VisitDate:   date,
			PatientName: row.Member,
			Reference:   row.Reference,
			StatusLabel: row.Status,
		})
	}
	return visits, nil
}
