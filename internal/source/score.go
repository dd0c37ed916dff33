package source

import (
	"sort"

	"github.com/medflow-ops/claimbridge/internal/validate"
)

// Plausible length window for a clinical note. Candidates inside the window
// get a length bonus; far outside it they are probably navigation chrome or
// a whole-page dump.
const (
	noteLengthMin = 20
	noteLengthMax = 2000
)

// scoreClinicalCandidate ranks one visible-text block as a clinical-note
// candidate. Keyword presence and plausible length score up; a denylist
// match is penalized hard enough that it can never win against a real note.
func scoreClinicalCandidate(text string) float64 {
	if text == "" {
		return -1
	}

	var score float64
	if validate.ContainsClinicalKeyword(text) {
		score += 5
	}

	n := len(text)
	switch {
	case n >= noteLengthMin && n <= noteLengthMax:
		score += 2
	case n < noteLengthMin:
		score -= 1
	default:
		score -= 2
	}

	if validate.MatchesDenylist(text) {
		score -= 100
	}
	return score
}

// bestClinicalCandidate orders candidates by score and returns the first one
// that also passes the clinical-text validator. Returns ok false when no
// candidate both scores positively and validates; the caller records the
// field as missing at the source.
func bestClinicalCandidate(candidates []string) (string, bool) {
	type scored struct {
		text  string
		score float64
	}
	ranked := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		ranked = append(ranked, scored{text: c, score: scoreClinicalCandidate(c)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	for _, c := range ranked {
		if c.score <= 0 {
			break
		}
		if v := validate.ClinicalText(c.text); v.Valid {
			return v.Cleaned, true
		}
	}
	return "", false
}
