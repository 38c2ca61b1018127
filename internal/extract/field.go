package extract

import "strings"

// Unknown is the sentinel carried by string fields that were not detected.
const Unknown = "Unknown"

// Field names one extractable prescription field.
type Field string

const (
	FieldMedication  Field = "medication"
	FieldDosage      Field = "dosage"
	FieldRefills     Field = "refills"
	FieldPatientName Field = "patient_name"
	FieldDate        Field = "date"
)

// AllFields lists every field in extraction order.
var AllFields = []Field{FieldMedication, FieldDosage, FieldRefills, FieldPatientName, FieldDate}

// DefaultConfidenceFields are the fields counted toward Confidence unless a
// caller overrides them.
var DefaultConfidenceFields = []Field{FieldMedication, FieldDosage, FieldRefills, FieldDate}

// ParseField maps a loosely written field name ("Patient Name", "patient-name")
// to a Field.
func ParseField(s string) (Field, bool) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	for _, f := range AllFields {
		if string(f) == norm {
			return f, true
		}
	}
	if norm == "patient" || norm == "name" {
		return FieldPatientName, true
	}
	return "", false
}

// ParseFields parses a list of field names, failing on the first unknown one.
func ParseFields(names []string) ([]Field, bool) {
	out := make([]Field, 0, len(names))
	for _, n := range names {
		f, ok := ParseField(n)
		if !ok {
			return nil, false
		}
		out = append(out, f)
	}
	return out, true
}

// Source says which kind of rule produced a field value.
type Source string

const (
	SourceLabeled    Source = "labeled"
	SourceStructural Source = "structural"
	SourceFallback   Source = "fallback"
)
