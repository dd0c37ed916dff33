package types

import "testing"

func TestParsePatientID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    PatientID
		wantErr bool
	}{
		{"canonical", "M1234567A", "M1234567A", false},
		{"lowercase", "b7654321z", "B7654321Z", false},
		{"interior spaces", "A 1234567 B", "A1234567B", false},
		{"leading and trailing spaces", "  L0000001H  ", "L0000001H", false},
		{"series not allowed", "X1234567A", "", true},
		{"second letter in digits", "M12A4567A", "", true},
		{"six digits", "M123456A", "", true},
		{"eight digits", "M12345678A", "", true},
		{"empty", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePatientID(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePatientID(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParsePatientID(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestPatientIDMasked(t *testing.T) {
	id, err := ParsePatientID("M1234567A")
	if err != nil {
		t.Fatalf("ParsePatientID() error = %v", err)
	}
	if got := id.Masked(); got != "M*******A" {
		t.Errorf("Masked() = %q, want %q", got, "M*******A")
	}
	var zero PatientID
	if got := zero.Masked(); got != "*********" {
		t.Errorf("zero Masked() = %q, want %q", got, "*********")
	}
}

func TestDateRange(t *testing.T) {
	rng, err := ParseDateRange("2026-01-01", "2026-01-31")
	if err != nil {
		t.Fatalf("ParseDateRange() error = %v", err)
	}
	if rng.IsZero() {
		t.Error("parsed range reported zero")
	}
	if got := rng.String(); got != "2026-01-01..2026-01-31" {
		t.Errorf("String() = %q", got)
	}

	if _, err := ParseDateRange("2026-01-31", "2026-01-01"); err == nil {
		t.Error("inverted range accepted")
	}
	if _, err := ParseDateRange("31/01/2026", "2026-02-01"); err == nil {
		t.Error("non-ISO date accepted")
	}
}
