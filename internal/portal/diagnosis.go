package portal

import (
	"sort"
	"strings"
)

// VocabularyEntry is one option in a portal's fixed diagnosis dropdown.
type VocabularyEntry struct {
	Label    string
	Keywords []string
}

// MinDiagnosisConfidence is the score a vocabulary match must clear before
// the diagnosis field is filled. Below it the field stays blank: a blank
// diagnosis is reviewable, a wrong one is not.
const MinDiagnosisConfidence = 0.34

// MatchDiagnosis maps scraped clinical text onto a portal's fixed diagnosis
// vocabulary by keyword overlap. Returns the best label and its confidence;
// ok is false when no entry clears the minimum confidence.
func MatchDiagnosis(clinicalText string, vocabulary []VocabularyEntry) (label string, confidence float64, ok bool) {
	text := strings.ToLower(clinicalText)
	if strings.TrimSpace(text) == "" || len(vocabulary) == 0 {
		return "", 0, false
	}

	type scored struct {
		label string
		score float64
	}
	var results []scored
	for _, entry := range vocabulary {
		if len(entry.Keywords) == 0 {
			continue
		}
		hits := 0
		for _, kw := range entry.Keywords {
			if strings.Contains(text, strings.ToLower(kw)) {
				hits++
			}
		}
		if hits > 0 {
			results = append(results, scored{
				label: entry.Label,
				score: float64(hits) / float64(len(entry.Keywords)),
			})
		}
	}
	if len(results) == 0 {
		return "", 0, false
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})
	best := results[0]
	if best.score < MinDiagnosisConfidence {
		return "", best.score, false
	}
	return best.label, best.score, true
}

// NormalizePatientName produces the key reconciliation matches on: portal
// display prefixes stripped, non-alphanumerics collapsed, lower case.
func NormalizePatientName(name string) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	for _, prefix := range []string{"mr ", "mr. ", "mrs ", "mrs. ", "ms ", "ms. ", "dr ", "dr. "} {
		lower = strings.TrimPrefix(lower, prefix)
	}

	var b strings.Builder
	for _, r := range lower {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
