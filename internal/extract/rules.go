package extract

import (
	"regexp"
	"sort"
	"strings"
)

// PatternRule is one entry of a field's ordered rule table: a label used for
// diagnostics, the compiled pattern and the capture group holding the value.
type PatternRule struct {
	Label   string
	Pattern *regexp.Regexp
	Group   int
	Source  Source
}

// value classes captured after a label; values never span lines
const (
	classMedication  = `[\w \t\-]+`
	classDosage      = `[\w \t./\-]+`
	classRefills     = `\d+`
	classPatientName = `[\p{L} \t.]+`
	classDate        = `[\w \t./\-]+`
)

var valueClass = map[Field]string{
	FieldMedication:  classMedication,
	FieldDosage:      classDosage,
	FieldRefills:     classRefills,
	FieldPatientName: classPatientName,
	FieldDate:        classDate,
}

// DefaultLabels are the built-in labels per field, in priority order.
var DefaultLabels = map[Field][]string{
	FieldMedication:  {"medication", "med", "prescribed", "drug", "rx"},
	FieldDosage:      {"dosage", "dose", "take", "daily", "sig"},
	FieldRefills:     {"refills", "refill", "repeats", "repeat", "qty"},
	FieldPatientName: {"patient name", "name", "patient"},
	FieldDate:        {"date"},
}

// DefaultMedications is the known-medication fallback list, in priority order.
var DefaultMedications = []string{
	"Lisinopril", "Metformin", "Amlodipine", "Metoprolol", "Atorvastatin",
	"Levothyroxine", "Simvastatin", "Omeprazole", "Losartan", "Albuterol",
	"Gabapentin", "Hydrochlorothiazide", "Sertraline", "Amoxicillin",
}

var structuralRules = map[Field][]PatternRule{
	FieldDosage: {{
		Label: "dosage-shape",
		Pattern: regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?\s*(?:mg|ml|tablets?|capsules?|caps?)\b|once\s+daily|twice\s+daily|three\s+times\s+daily|every\s+\d+\s+hours?)`),
		Group:  1,
		Source: SourceStructural,
	}},
	FieldRefills: {{
		Label:   "n-refills",
		Pattern: regexp.MustCompile(`(?i)\b(\d+)\s*(?:refills?|repeats?)\b`),
		Group:   1,
		Source:  SourceStructural,
	}},
	FieldDate: {{
		Label:   "date-shape",
		Pattern: regexp.MustCompile(`\b(\d{1,2}[-/]\d{1,2}[-/]\d{2,4})\b`),
		Group:   1,
		Source:  SourceStructural,
	}},
}

// RuleSpec is the uncompiled form of a RuleSet.
type RuleSpec struct {
	Labels      map[Field][]string
	Medications []string
}

// DefaultSpec returns a copy of the built-in rule tables.
func DefaultSpec() RuleSpec {
	labels := make(map[Field][]string, len(DefaultLabels))
	for f, ls := range DefaultLabels {
		labels[f] = append([]string(nil), ls...)
	}
	return RuleSpec{
		Labels:      labels,
		Medications: append([]string(nil), DefaultMedications...),
	}
}

// RuleSet holds the compiled, read-only rule tables. It is safe for
// concurrent use.
type RuleSet struct {
	rules       map[Field][]PatternRule
	medications []string
	medsLower   []string
	// every label split into lowercase words, longest first
	labelWords [][]string
}

// Compile builds a RuleSet from spec. Labels are matched literally,
// case-insensitively and with flexible whitespace, so compilation cannot fail.
func Compile(spec RuleSpec) *RuleSet {
	rs := &RuleSet{rules: make(map[Field][]PatternRule, len(AllFields))}
	seen := map[string]bool{}

	for _, f := range AllFields {
		var rules []PatternRule
		for _, label := range spec.Labels[f] {
			words := strings.Fields(strings.ToLower(label))
			if len(words) == 0 {
				continue
			}
			rules = append(rules, PatternRule{
				Label:   strings.Join(words, " "),
				Pattern: labelPattern(words, valueClass[f]),
				Group:   1,
				Source:  SourceLabeled,
			})
			key := strings.Join(words, " ")
			if !seen[key] {
				seen[key] = true
				rs.labelWords = append(rs.labelWords, words)
			}
		}
		rules = append(rules, structuralRules[f]...)
		rs.rules[f] = rules
	}

	sort.SliceStable(rs.labelWords, func(i, j int) bool {
		return len(rs.labelWords[i]) > len(rs.labelWords[j])
	})

	for _, m := range spec.Medications {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		rs.medications = append(rs.medications, m)
		rs.medsLower = append(rs.medsLower, strings.ToLower(m))
	}
	return rs
}

// DefaultRules compiles DefaultSpec.
func DefaultRules() *RuleSet { return Compile(DefaultSpec()) }

// Rules returns the ordered rules for a field.
func (rs *RuleSet) Rules(f Field) []PatternRule { return rs.rules[f] }

// Medications returns the fallback medication list.
func (rs *RuleSet) Medications() []string { return append([]string(nil), rs.medications...) }

func labelPattern(words []string, class string) *regexp.Regexp {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`(?i)\b` + strings.Join(quoted, `\s*`) + `\s*:\s*(` + class + `)`)
}
