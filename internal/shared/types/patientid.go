package types

import (
	"fmt"
	"regexp"
	"strings"
)

// PatientID represents a national identity number as the insurer portals
// expect it: one letter from the allowed series, seven digits, one letter.
type PatientID string

var patientIDRegex = regexp.MustCompile(`^[A-Z]\d{7}[A-Z]$`)

// allowedSeries are the valid leading letters for an identity number.
const allowedSeries = "ABGHLMPZ"

// ParsePatientID normalizes and validates an identity number. Input case and
// interior whitespace are tolerated; the canonical form is upper-case with no
// spaces.
func ParsePatientID(s string) (PatientID, error) {
	normalized := strings.ToUpper(strings.Join(strings.Fields(s), ""))
	if !patientIDRegex.MatchString(normalized) {
		return "", fmt.Errorf("identity number must match letter + 7 digits + letter")
	}
	if !strings.ContainsRune(allowedSeries, rune(normalized[0])) {
		return "", fmt.Errorf("identity number series %q not in allowed set", normalized[0])
	}
	return PatientID(normalized), nil
}

// String returns the string representation
func (p PatientID) String() string {
	return string(p)
}

// Masked returns a masked version for logs (series letter and last letter visible)
func (p PatientID) Masked() string {
	if len(p) != 9 {
		return "*********"
	}
	return string(p)[:1] + "*******" + string(p)[8:]
}

// IsZero checks if the identity number is empty
func (p PatientID) IsZero() bool {
	return p == ""
}
