// Package allianz drives the Allianz provider portal. The portal is a
// single-page application: navigation waits key on rendered components, not
// page loads.
package allianz

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/medflow-ops/claimbridge/internal/browser"
	"github.com/medflow-ops/claimbridge/internal/portal"
	"github.com/medflow-ops/claimbridge/internal/shared/config"
	"github.com/medflow-ops/claimbridge/internal/shared/errors"
	"github.com/medflow-ops/claimbridge/internal/shared/types"
)

// Adapter implements portal.Adapter for the Allianz provider portal.
type Adapter struct {
	cfg config.PortalCredentials
	log *slog.Logger
}

// New creates an Allianz adapter.
func New(cfg config.PortalCredentials, log *slog.Logger) *Adapter {
	return &Adapter{cfg: cfg, log: log}
}

// PortalName identifies the portal family.
func (a *Adapter) PortalName() string {
	return "allianz"
}

var diagnosisVocabulary = []portal.VocabularyEntry{
	{Label: "Respiratory infection", Keywords: []string{"respiratory", "bronchitis", "cough", "pneumonia"}},
	{Label: "Digestive disorder", Keywords: []string{"gastro", "abdominal", "nausea", "stomach"}},
	{Label: "Injury / trauma", Keywords: []string{"fracture", "wound", "injury", "trauma", "sprain"}},
	{Label: "Cardiovascular", Keywords: []string{"hypertension", "cardiac", "chest pain", "blood pressure"}},
	{Label: "Endocrine / metabolic", Keywords: []string{"diabetes", "thyroid", "metabolic"}},
	{Label: "Allergy", Keywords: []string{"allergy", "allergic", "anaphyla"}},
	{Label: "Other outpatient consultation", Keywords: []string{"consultation", "review", "check"}},
}

// SessionToken reads the access token the SPA keeps in local storage
// across logins. Local storage is origin-scoped, so the page navigates to
// the portal origin before reading.
func (a *Adapter) SessionToken(ctx context.Context, page *browser.Page) (string, error) {
	var token string
	err := page.Run(ctx, "allianz_session_token",
		chromedp.Navigate(a.cfg.BaseURL+"/provider-portal"),
		chromedp.Evaluate(`window.localStorage.getItem('az.accessToken') || ''`, &token),
	)
	if err != nil {
		return "", err
	}
	return token, nil
}

// Login authenticates and waits for the SPA shell to hydrate.
func (a *Adapter) Login(ctx context.Context, page *browser.Page) error {
	err := page.Run(ctx, "allianz_login",
		chromedp.Navigate(a.cfg.BaseURL+"/provider-portal"),
		chromedp.WaitVisible(`input[data-testid="login-email"]`, chromedp.ByQuery),
		chromedp.SendKeys(`input[data-testid="login-email"]`, a.cfg.Username, chromedp.ByQuery),
		chromedp.SendKeys(`input[data-testid="login-password"]`, a.cfg.Password, chromedp.ByQuery),
		chromedp.Click(`button[data-testid="login-submit"]`, chromedp.ByQuery),
		chromedp.WaitVisible(`[data-testid="portal-shell"]`, chromedp.ByQuery),
	)
	if err != nil {
		return errors.Authentication("allianz portal", err)
	}
	return nil
}

// LocatePatient searches insured members by identity number.
func (a *Adapter) LocatePatient(ctx context.Context, page *browser.Page, patientID types.PatientID) (bool, error) {
	err := page.Run(ctx, "allianz_member_search",
		chromedp.Click(`[data-testid="nav-members"]`, chromedp.ByQuery),
		chromedp.WaitVisible(`input[data-testid="member-search-input"]`, chromedp.ByQuery),
		chromedp.SetValue(`input[data-testid="member-search-input"]`, patientID.String(), chromedp.ByQuery),
		chromedp.Click(`button[data-testid="member-search-go"]`, chromedp.ByQuery),
		// The SPA renders either a result list or an empty-state card
		chromedp.WaitVisible(`[data-testid="member-results"], [data-testid="member-empty"]`, chromedp.ByQuery),
	)
	if err != nil {
		return false, err
	}

	var empty bool
	err = page.Run(ctx, "allianz_member_results",
		chromedp.Evaluate(`!!document.querySelector('[data-testid="member-empty"]')`, &empty),
	)
	if err != nil {
		return false, err
	}
	if empty {
		a.log.Info("member not found in portal", "portal", "allianz", "patient_id", patientID.Masked())
		return false, nil
	}

	return true, page.Run(ctx, "allianz_member_open",
		chromedp.Click(`[data-testid="member-results"] [data-testid="member-card"]:first-child`, chromedp.ByQuery),
		chromedp.WaitVisible(`[data-testid="member-profile"]`, chromedp.ByQuery),
	)
}

// StartVisitForm opens the outpatient claim wizard.
func (a *Adapter) StartVisitForm(ctx context.Context, page *browser.Page) error {
	return page.Run(ctx, "allianz_new_claim",
		chromedp.Click(`button[data-testid="start-outpatient-claim"]`, chromedp.ByQuery),
		chromedp.WaitVisible(`form[data-testid="claim-wizard"]`, chromedp.ByQuery),
	)
}

var fieldSelectors = map[string]string{
	portal.FieldVisitType:        `select[data-testid="claim-visit-type"]`,
	portal.FieldIncapacityDays:   `input[data-testid="claim-incapacity-days"]`,
	portal.FieldDiagnosis:        `input[data-testid="claim-diagnosis"]`,
	portal.FieldConsultationFee:  `input[data-testid="claim-fee"]`,
	portal.FieldServiceLineItems: `textarea[data-testid="claim-services"]`,
}

// FillField fills one wizard field. Diagnosis goes through the fixed
// vocabulary; no confident match leaves the field blank.
func (a *Adapter) FillField(ctx context.Context, page *browser.Page, name string, value string) error {
	selector, ok := fieldSelectors[name]
	if !ok {
		return fmt.Errorf("allianz claim wizard has no field %q", name)
	}

	if name == portal.FieldDiagnosis {
		label, confidence, ok := portal.MatchDiagnosis(value, diagnosisVocabulary)
		if !ok {
			a.log.Info("no confident diagnosis match, leaving field blank",
				"portal", "allianz", "confidence", confidence)
			return nil
		}
		value = label
	}

	return page.Run(ctx, "allianz_fill_"+name,
		chromedp.SetValue(selector, value, chromedp.ByQuery),
	)
}

// SaveDraft saves the wizard state recoverably.
func (a *Adapter) SaveDraft(ctx context.Context, page *browser.Page) error {
	return page.Run(ctx, "allianz_save_draft",
		chromedp.Click(`button[data-testid="claim-save-draft"]`, chromedp.ByQuery),
		chromedp.WaitVisible(`[data-testid="claim-draft-toast"]`, chromedp.ByQuery),
	)
}

// Submit performs the final, irreversible submission, including the portal's
// confirmation dialog.
func (a *Adapter) Submit(ctx context.Context, page *browser.Page) error {
	return page.Run(ctx, "allianz_submit",
		chromedp.Click(`button[data-testid="claim-submit"]`, chromedp.ByQuery),
		chromedp.WaitVisible(`[data-testid="claim-confirm-dialog"]`, chromedp.ByQuery),
		chromedp.Click(`button[data-testid="claim-confirm-yes"]`, chromedp.ByQuery),
		chromedp.WaitVisible(`[data-testid="claim-submitted-toast"]`, chromedp.ByQuery),
	)
}

type claimRow struct {
	Date      string `json:"date"`
	Insured   string `json:"insured"`
	ClaimRef  string `json:"claimRef"`
	StateText string `json:"stateText"`
}

// ListSubmittedVisits reads the claim overview filtered by date and member.
func (a *Adapter) ListSubmittedVisits(ctx context.Context, page *browser.Page, rng types.DateRange, patientKey types.PatientID) ([]portal.SubmittedVisit, error) {
	err := page.Run(ctx, "allianz_claim_overview",
		chromedp.Click(`[data-testid="nav-claims"]`, chromedp.ByQuery),
		chromedp.WaitVisible(`[data-testid="claims-filter"]`, chromedp.ByQuery),
		chromedp.SetValue(`input[data-testid="claims-filter-from"]`, rng.From.Format("2006-01-02"), chromedp.ByQuery),
		chromedp.SetValue(`input[data-testid="claims-filter-to"]`, rng.To.Format("2006-01-02"), chromedp.ByQuery),
		chromedp.SetValue(`input[data-testid="claims-filter-member"]`, patientKey.String(), chromedp.ByQuery),
		chromedp.Click(`button[data-testid="claims-filter-apply"]`, chromedp.ByQuery),
		chromedp.WaitVisible(`[data-testid="claims-table"], [data-testid="claims-empty"]`, chromedp.ByQuery),
	)
	if err != nil {
		return nil, err
	}

	var rows []claimRow
	err = page.Run(ctx, "allianz_claim_overview_rows",
		chromedp.Evaluate(`Array.from(document.querySelectorAll('[data-testid="claims-table"] [data-testid="claim-row"]')).map(el => ({
			date: el.querySelector('[data-col="date"]')?.textContent?.trim() ?? '',
			insured: el.querySelector('[data-col="insured"]')?.textContent?.trim() ?? '',
			claimRef: el.querySelector('[data-col="ref"]')?.textContent?.trim() ?? '',
			stateText: el.querySelector('[data-col="state"]')?.textContent?.trim() ?? ''
		}))`, &rows),
	)
	if err != nil {
		return nil, err
	}

	visits := make([]portal.SubmittedVisit, 0, len(rows))
	for _, row := range rows {
		date, err := time.Parse("2006-01-02", row.Date)
		if err != nil {
			a.log.Warn("skipping claim row with unparsable date", "portal", "allianz", "raw", row.Date)
			continue
		}
		visits = append(visits, portal.SubmittedVisit{
			VisitDate:   date,
			PatientName: row.Insured,
			Reference:   row.ClaimRef,
			StatusLabel: row.StateText,
		})
	}
	return visits, nil
}
