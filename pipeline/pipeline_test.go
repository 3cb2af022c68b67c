package pipeline

import (
	"testing"

	"github.com/shahryar908/visa-scraper/models"
)

func rawRecord(visaType string) models.RawRecord {
	return models.RawRecord{
		"country":         "Whatever the model said",
		"visa_type":       visaType,
		"requirements":    "Passport, Photo",
		"processing_time": "2 weeks",
		"validity":        "90 days",
		"fees":            "€80",
		"entry_type":      "Multiple entry",
		"allowed_stay":    "90 days",
	}
}

func TestIsDuplicateIsReadOnly(t *testing.T) {
	seen := make(SeenSet)
	key := Key{Country: "Germany", VisaType: "Student"}

	if IsDuplicate(key, seen) {
		t.Fatalf("empty set reported duplicate")
	}
	if len(seen) != 0 {
		t.Fatalf("IsDuplicate mutated the seen-set")
	}
	seen.Add(key)
	if !IsDuplicate(key, seen) {
		t.Fatalf("expected duplicate after Add")
	}
	if IsDuplicate(Key{Country: "germany", VisaType: "Student"}, seen) {
		t.Fatalf("keys must compare exactly, without case folding")
	}
}

func TestPipelineProcessValidationAndDedup(t *testing.T) {
	state := NewRunState()
	p := NewPipeline(state, nil)

	incomplete := rawRecord("Work")
	delete(incomplete, "fees")

	accepted, outcome := p.Process("testland", []models.RawRecord{
		rawRecord("Student"),
		incomplete,
		rawRecord("Student"),
		rawRecord("Tourist"),
	})

	if len(accepted) != 2 {
		t.Fatalf("accepted = %d, want 2", len(accepted))
	}
	if outcome != (Outcome{Accepted: 2, Incomplete: 1, Duplicates: 1}) {
		t.Fatalf("outcome = %+v", outcome)
	}
	if accepted[0].Country != "Testland" || accepted[0].VisaType != "Student" {
		t.Fatalf("unexpected first record: %+v", accepted[0])
	}
	if got := accepted[0].Requirements; len(got) != 2 || got[0] != "Passport" || got[1] != "Photo" {
		t.Fatalf("requirements = %v", got)
	}
	if !IsDuplicate(Key{Country: "Testland", VisaType: "Tourist"}, state.Seen) {
		t.Fatalf("accepted record missing from seen-set")
	}
	if IsDuplicate(Key{Country: "Testland", VisaType: "Work"}, state.Seen) {
		t.Fatalf("incomplete record must not enter the seen-set")
	}

	metrics := p.GetMetrics()
	validation, ok := metrics["validation_errors"].(map[string]int)
	if !ok {
		t.Fatalf("expected validation errors map")
	}
	if validation[ReasonIncomplete] != 1 || validation[ReasonDuplicate] != 1 {
		t.Fatalf("validation errors = %v", validation)
	}
	if processed := metrics["processed_records"].(int64); processed != 2 {
		t.Fatalf("processed = %d, want 2", processed)
	}
}

func TestPipelineDedupAcrossCalls(t *testing.T) {
	state := NewRunState()
	p := NewPipeline(state, models.DefaultRequiredFields)

	first, _ := p.Process("germany", []models.RawRecord{rawRecord("Student")})
	state.Accumulate(first...)
	second, outcome := p.Process("germany", []models.RawRecord{rawRecord("Student")})
	state.Accumulate(second...)

	if len(second) != 0 || outcome.Duplicates != 1 {
		t.Fatalf("second call accepted %d records, outcome %+v", len(second), outcome)
	}
	if got := len(state.Records()); got != 1 {
		t.Fatalf("accumulated = %d, want 1", got)
	}
}

func TestPipelineCustomRequiredFields(t *testing.T) {
	p := NewPipeline(NewRunState(), []string{"country", "visa_type"})

	accepted, _ := p.Process("germany", []models.RawRecord{{"visa_type": "Transit"}})
	if len(accepted) != 1 {
		t.Fatalf("accepted = %d, want 1", len(accepted))
	}
}

func TestPipelineKeepsStructuredFieldValues(t *testing.T) {
	state := NewRunState()
	p := NewPipeline(state, nil)

	raw := rawRecord("Student")
	raw["fees"] = map[string]any{"amount": float64(75), "currency": "EUR"}
	raw["requirements"] = []any{map[string]any{"document": "Passport"}}

	accepted, outcome := p.Process("germany", []models.RawRecord{raw})
	if outcome != (Outcome{Accepted: 1}) {
		t.Fatalf("outcome = %+v, want one accepted", outcome)
	}
	if !IsDuplicate(Key{Country: "Germany", VisaType: "Student"}, state.Seen) {
		t.Fatalf("accepted record missing from seen-set")
	}
	rec := accepted[0]
	if rec.Fees != `{"amount":75,"currency":"EUR"}` {
		t.Fatalf("fees = %q", rec.Fees)
	}
	if _, ok := rec.Raw["fees"].(map[string]any); !ok {
		t.Fatalf("expected the extracted fees object in Raw, got %#v", rec.Raw["fees"])
	}
}
