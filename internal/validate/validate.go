// Package validate holds the pure field validators applied to raw scraped
// values before anything is written to the record store. An invalid field is
// recorded as absent, never guessed.
package validate

import (
	"math"
	"strconv"
	"strings"

	"github.com/medflow-ops/claimbridge/internal/shared/types"
)

// Rejection reasons
const (
	ReasonInvalidFormat = "invalid_format"
	ReasonDenylisted    = "denylisted_text"
	ReasonTooShort      = "too_short"
	ReasonNotNumeric    = "not_numeric"
	ReasonBelowMinimum  = "below_minimum"
	ReasonAboveMaximum  = "above_maximum"
)

// Amount bounds
const (
	DefaultAmountMin = 0.0
	DefaultAmountMax = 100000.0
)

// MaxIncapacityDays caps sick-leave certificates; anything above it is a
// scrape artifact, not a prescription.
const MaxIncapacityDays = 365

const minClinicalTextLen = 10

// denylist holds UI/boilerplate phrases that naive "longest visible text"
// scraping captures instead of the clinical note.
var denylist = []string{
	"are you sure you want to",
	"session has expired",
	"please log in",
	"sign in to continue",
	"forgot your password",
	"this site uses cookies",
	"accept all cookies",
	"unsaved changes will be lost",
	"loading, please wait",
	"no records found",
	"terms and conditions",
}

// clinicalKeywords mark text as plausibly clinical even when short.
var clinicalKeywords = []string{
	"pain", "fever", "cough", "infection", "acute", "chronic",
	"diagnosis", "treatment", "therapy", "prescribed", "examination",
	"fracture", "wound", "injury", "hypertension", "diabetes",
	"allergy", "swelling", "rash", "nausea", "migraine",
}

// tableHeaderLabels are known grid headers scraped alongside line items.
var tableHeaderLabels = []string{
	"description", "item", "quantity", "qty", "unit price",
	"price", "amount", "total", "service", "code", "date",
}

// StringResult is the outcome of validating a string field.
type StringResult struct {
	Valid   bool
	Cleaned string
	Reason  string
}

// FloatResult is the outcome of validating a numeric field.
type FloatResult struct {
	Valid   bool
	Cleaned float64
	Reason  string
}

// IntResult is the outcome of validating an integer field.
type IntResult struct {
	Valid   bool
	Cleaned int
	Reason  string
}

// ListResult is the outcome of validating a line-item list.
type ListResult struct {
	Valid   bool
	Cleaned []string
	Reason  string
}

// IdentityNumber normalizes and validates a national identity number:
// one letter from the allowed series, seven digits, one letter.
func IdentityNumber(raw string) StringResult {
	id, err := types.ParsePatientID(raw)
	if err != nil {
		return StringResult{Reason: ReasonInvalidFormat}
	}
	return StringResult{Valid: true, Cleaned: id.String()}
}

// ClinicalText validates a scraped diagnosis or treatment note. Denylisted
// boilerplate is always rejected; short strings are rejected unless they
// contain a clinical keyword.
func ClinicalText(raw string) StringResult {
	cleaned := collapseWhitespace(raw)
	if cleaned == "" {
		return StringResult{Reason: ReasonTooShort}
	}

	lower := strings.ToLower(cleaned)
	for _, phrase := range denylist {
		if strings.Contains(lower, phrase) {
			return StringResult{Reason: ReasonDenylisted}
		}
	}

	if len(cleaned) < minClinicalTextLen && !containsClinicalKeyword(lower) {
		return StringResult{Reason: ReasonTooShort}
	}
	return StringResult{Valid: true, Cleaned: cleaned}
}

// Amount validates a monetary value against [min, max] and rounds to two
// decimal places. The rejection reason names the violated bound.
func Amount(raw string, min, max float64) FloatResult {
	cleaned := strings.TrimSpace(strings.NewReplacer("€", "", "$", "", ",", "").Replace(raw))
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return FloatResult{Reason: ReasonNotNumeric}
	}
	if v < min {
		return FloatResult{Reason: ReasonBelowMinimum}
	}
	if v > max {
		return FloatResult{Reason: ReasonAboveMaximum}
	}
	return FloatResult{Valid: true, Cleaned: math.Round(v*100) / 100}
}

// DayCount validates a days-of-incapacity value. Trailing unit words like
// "days" are tolerated; negative and implausibly large counts are rejected.
func DayCount(raw string) IntResult {
	cleaned := strings.TrimSpace(strings.ToLower(raw))
	for _, suffix := range []string{"days", "day", "d"} {
		cleaned = strings.TrimSpace(strings.TrimSuffix(cleaned, suffix))
	}
	v, err := strconv.Atoi(cleaned)
	if err != nil {
		return IntResult{Reason: ReasonNotNumeric}
	}
	if v < 0 {
		return IntResult{Reason: ReasonBelowMinimum}
	}
	if v > MaxIncapacityDays {
		return IntResult{Reason: ReasonAboveMaximum}
	}
	return IntResult{Valid: true, Cleaned: v}
}

// LineItems filters out table headers, purely numeric or currency-only
// entries, and anything shorter than two characters, then deduplicates
// preserving order. An empty result is still valid: a visit can have no
// billable line items.
func LineItems(entries []string) ListResult {
	seen := make(map[string]bool, len(entries))
	var cleaned []string
	for _, entry := range entries {
		v := collapseWhitespace(entry)
		if len(v) < 2 {
			continue
		}
		if isTableHeader(v) || isNumericOrCurrency(v) {
			continue
		}
		key := strings.ToLower(v)
		if seen[key] {
			continue
		}
		seen[key] = true
		cleaned = append(cleaned, v)
	}
	return ListResult{Valid: true, Cleaned: cleaned}
}

// ContainsClinicalKeyword reports whether the text carries at least one
// clinical keyword. Exposed for the source adapter's candidate scoring.
func ContainsClinicalKeyword(text string) bool {
	return containsClinicalKeyword(strings.ToLower(text))
}

// MatchesDenylist reports whether the text matches the UI boilerplate
// denylist. Exposed for the source adapter's candidate scoring.
func MatchesDenylist(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range denylist {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func containsClinicalKeyword(lower string) bool {
	for _, kw := range clinicalKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func isTableHeader(v string) bool {
	lower := strings.ToLower(v)
	for _, label := range tableHeaderLabels {
		if lower == label {
			return true
		}
	}
	return false
}

func isNumericOrCurrency(v string) bool {
	hasOther := false
	for _, r := range v {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',', r == ' ':
		case r == '€', r == '$', r == '£':
		default:
			hasOther = true
		}
	}
	return !hasOther
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
