package validate

// Candidate carries the raw values scraped for one visit, before validation.
type Candidate struct {
	IdentityNumber  string
	Diagnosis       string
	Treatment       string
	LineItems       []string
	ConsultationFee string
	IncapacityDays  string
}

// VisitFields holds the validated values. Fields the validator rejected are
// left at their zero value and explained in Result.Errors.
type VisitFields struct {
	IdentityNumber  string
	Diagnosis       string
	Treatment       string
	LineItems       []string
	ConsultationFee *float64
	IncapacityDays  *int
}

// Result is the combined outcome for one visit candidate.
type Result struct {
	IsValid   bool // true when every populated candidate field validated
	Validated VisitFields
	Errors    map[string]string // field name -> rejection reason
}

// Visit runs every field validator over a candidate. Empty candidate fields
// are skipped: absence at the source is annotated by the caller, not treated
// as a validation failure here.
func Visit(c Candidate) Result {
	r := Result{IsValid: true, Errors: map[string]string{}}

	if c.IdentityNumber != "" {
		if v := IdentityNumber(c.IdentityNumber); v.Valid {
			r.Validated.IdentityNumber = v.Cleaned
		} else {
			r.reject("identity_number", v.Reason)
		}
	}
	if c.Diagnosis != "" {
		if v := ClinicalText(c.Diagnosis); v.Valid {
			r.Validated.Diagnosis = v.Cleaned
		} else {
			r.reject("diagnosis", v.Reason)
		}
	}
	if c.Treatment != "" {
		if v := ClinicalText(c.Treatment); v.Valid {
			r.Validated.Treatment = v.Cleaned
		} else {
			r.reject("treatment", v.Reason)
		}
	}
	if len(c.LineItems) > 0 {
		if v := LineItems(c.LineItems); v.Valid {
			r.Validated.LineItems = v.Cleaned
		} else {
			r.reject("line_items", v.Reason)
		}
	}
	if c.ConsultationFee != "" {
		if v := Amount(c.ConsultationFee, DefaultAmountMin, DefaultAmountMax); v.Valid {
			fee := v.Cleaned
			r.Validated.ConsultationFee = &fee
		} else {
			r.reject("consultation_fee", v.Reason)
		}
	}
	if c.IncapacityDays != "" {
		if v := DayCount(c.IncapacityDays); v.Valid {
			days := v.Cleaned
			r.Validated.IncapacityDays = &days
		} else {
			r.reject("incapacity_days", v.Reason)
		}
	}
	return r
}

func (r *Result) reject(field, reason string) {
	r.IsValid = false
	r.Errors[field] = reason
}
