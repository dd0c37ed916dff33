package portal

import "testing"

var testVocabulary = []VocabularyEntry{
	{Label: "Respiratory infection", Keywords: []string{"cough", "bronchitis", "respiratory"}},
	{Label: "Musculoskeletal pain", Keywords: []string{"back pain", "joint", "muscle"}},
	{Label: "Hypertension", Keywords: []string{"hypertension", "blood pressure"}},
}

func TestMatchDiagnosis(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantLabel string
		wantOK    bool
	}{
		{
			name:      "single strong keyword",
			text:      "Patient diagnosed with acute bronchitis, persistent cough.",
			wantLabel: "Respiratory infection",
			wantOK:    true,
		},
		{
			name:      "different entry wins",
			text:      "Elevated blood pressure, known hypertension.",
			wantLabel: "Hypertension",
			wantOK:    true,
		},
		{
			name:   "no keyword overlap",
			text:   "Routine follow-up, no complaints.",
			wantOK: false,
		},
		{
			name:   "empty text",
			text:   "   ",
			wantOK: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			label, confidence, ok := MatchDiagnosis(tt.text, testVocabulary)
			if ok != tt.wantOK {
				t.Fatalf("MatchDiagnosis() ok = %v (confidence %.2f), want %v", ok, confidence, tt.wantOK)
			}
			if ok && label != tt.wantLabel {
				t.Errorf("label = %q, want %q", label, tt.wantLabel)
			}
			if ok && confidence < MinDiagnosisConfidence {
				t.Errorf("confidence %.2f below the fill threshold", confidence)
			}
		})
	}
}

func TestMatchDiagnosisBelowConfidenceStaysBlank(t *testing.T) {
	// One hit out of three keywords is below the threshold; the field must
	// stay blank rather than guess.
	vocab := []VocabularyEntry{
		{Label: "Broad entry", Keywords: []string{"joint", "swelling", "stiffness", "mobility"}},
	}
	if label, _, ok := MatchDiagnosis("mild joint discomfort", vocab); ok {
		t.Errorf("low-confidence match filled the field with %q", label)
	}
}

func TestMatchDiagnosisEmptyVocabulary(t *testing.T) {
	if _, _, ok := MatchDiagnosis("acute bronchitis", nil); ok {
		t.Error("match reported against an empty vocabulary")
	}
}

func TestNormalizePatientName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Maria Borg", "mariaborg"},
		{"  MARIA  BORG  ", "mariaborg"},
		{"Mrs. Maria Borg", "mariaborg"},
		{"Dr Maria Borg", "mariaborg"},
		{"O'Brien, John", "obrienjohn"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizePatientName(tt.in); got != tt.want {
			t.Errorf("NormalizePatientName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
