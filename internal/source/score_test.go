package source

import "testing"

func TestScoreClinicalCandidate(t *testing.T) {
	note := "Patient presented with acute lower back pain, prescribed rest and analgesics."
	dialog := "Are you sure you want to leave this page? Unsaved changes will be lost."

	if got := scoreClinicalCandidate(note); got <= 0 {
		t.Errorf("real note scored %.1f, want positive", got)
	}
	if got := scoreClinicalCandidate(dialog); got >= 0 {
		t.Errorf("denylisted dialog scored %.1f, want negative", got)
	}
	if got := scoreClinicalCandidate(""); got >= 0 {
		t.Errorf("empty candidate scored %.1f, want negative", got)
	}
}

func TestScorePrefersKeywordsOverLength(t *testing.T) {
	clinical := "Chronic hypertension follow-up, medication reviewed."
	longFiller := "This page lists all upcoming appointments for the selected department and allows filtering by practitioner, room and week. Use the controls above to adjust the view."

	if scoreClinicalCandidate(clinical) <= scoreClinicalCandidate(longFiller) {
		t.Error("keyword-free filler outranked a clinical note")
	}
}

func TestBestClinicalCandidate(t *testing.T) {
	candidates := []string{
		"Loading, please wait",
		"Next appointment",
		"Persistent dry cough for two weeks, chest examination clear, viral infection suspected.",
		"Print",
	}
	got, ok := bestClinicalCandidate(candidates)
	if !ok {
		t.Fatal("no candidate selected")
	}
	if got != "Persistent dry cough for two weeks, chest examination clear, viral infection suspected." {
		t.Errorf("selected %q", got)
	}
}

func TestBestClinicalCandidateNoneUsable(t *testing.T) {
	candidates := []string{
		"Are you sure you want to continue?",
		"OK",
		"Cancel",
	}
	if got, ok := bestClinicalCandidate(candidates); ok {
		t.Errorf("selected %q from pure UI chrome", got)
	}
}

func TestBestClinicalCandidateEmptyInput(t *testing.T) {
	if _, ok := bestClinicalCandidate(nil); ok {
		t.Error("selected a candidate from empty input")
	}
}
