package extract

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxScanBytes bounds how much of the input is scanned.
const MaxScanBytes = 50000

// Options selects which fields are attempted and which count toward
// Confidence. A nil slice means the default set; an empty non-nil
// ConfidenceFields yields a confidence of 0.
type Options struct {
	Fields           []Field
	ConfidenceFields []Field
	// DefaultDate is used when no date is found. It never counts as matched.
	DefaultDate string
}

// ExtractionResult is the structured outcome of one extraction. String fields
// carry Unknown instead of "" when nothing was found.
type ExtractionResult struct {
	Medication  string           `json:"medication"`
	Dosage      string           `json:"dosage"`
	Refills     int              `json:"refills"`
	PatientName string           `json:"patient_name"`
	Date        string           `json:"date"`
	Confidence  float64          `json:"confidence"`
	Sources     map[Field]Source `json:"sources"`
}

// Matched reports whether f was extracted from the text rather than defaulted.
func (r ExtractionResult) Matched(f Field) bool {
	_, ok := r.Sources[f]
	return ok
}

// MatchedFields lists the matched fields in canonical order.
func (r ExtractionResult) MatchedFields() []Field {
	var out []Field
	for _, f := range AllFields {
		if r.Matched(f) {
			out = append(out, f)
		}
	}
	return out
}

// Missing lists the fields among want that were not matched.
func (r ExtractionResult) Missing(want []Field) []Field {
	var out []Field
	for _, f := range want {
		if !r.Matched(f) {
			out = append(out, f)
		}
	}
	return out
}

// Extractor maps OCR text to an ExtractionResult. It holds only read-only
// rule tables and is safe for concurrent use.
type Extractor struct {
	rules *RuleSet
}

// New returns an Extractor over rules, or over DefaultRules when rules is nil.
func New(rules *RuleSet) *Extractor {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Extractor{rules: rules}
}

// Rules returns the rule set the extractor runs.
func (e *Extractor) Rules() *RuleSet { return e.rules }

var defaultExtractor = New(nil)

// Extract runs the default extractor with default options.
func Extract(text string) ExtractionResult {
	return defaultExtractor.Extract(text, Options{})
}

// Extract never fails; fields that cannot be resolved degrade to sentinels.
func (e *Extractor) Extract(text string, opts Options) ExtractionResult {
	text = truncate(text)

	res := ExtractionResult{
		Medication:  Unknown,
		Dosage:      Unknown,
		PatientName: Unknown,
		Date:        Unknown,
		Sources:     make(map[Field]Source),
	}
	if d := strings.TrimSpace(opts.DefaultDate); d != "" {
		res.Date = d
	}

	fields := opts.Fields
	if fields == nil {
		fields = AllFields
	}
	attempt := make(map[Field]bool, len(fields))
	for _, f := range fields {
		attempt[f] = true
	}

	for _, f := range AllFields {
		if !attempt[f] {
			continue
		}
		value, src, ok := e.resolve(f, text)
		if !ok {
			continue
		}
		if f == FieldRefills {
			n, _ := strconv.Atoi(value)
			res.Refills = n
		} else {
			res.set(f, value)
		}
		res.Sources[f] = src
	}

	res.Confidence = confidence(res, opts.ConfidenceFields)
	return res
}

func (r *ExtractionResult) set(f Field, v string) {
	switch f {
	case FieldMedication:
		r.Medication = v
	case FieldDosage:
		r.Dosage = v
	case FieldPatientName:
		r.PatientName = v
	case FieldDate:
		r.Date = v
	}
}

func (e *Extractor) resolve(f Field, text string) (string, Source, bool) {
	if text == "" {
		return "", "", false
	}
	for _, rule := range e.rules.Rules(f) {
		if v, ok := e.apply(rule, f, text); ok {
			return v, rule.Source, true
		}
	}
	if f == FieldMedication {
		lower := strings.ToLower(text)
		for i, m := range e.rules.medsLower {
			if strings.Contains(lower, m) {
				return e.rules.medications[i], SourceFallback, true
			}
		}
	}
	return "", "", false
}

// apply returns the first non-empty capture of rule in text. A labeled capture
// that runs into the next "Label:" has that label cut off.
func (e *Extractor) apply(rule PatternRule, f Field, text string) (string, bool) {
	for _, loc := range rule.Pattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := loc[2*rule.Group], loc[2*rule.Group+1]
		if start < 0 {
			continue
		}
		v := text[start:end]
		if rule.Source == SourceLabeled && f != FieldRefills && followedByColon.MatchString(text[end:]) {
			v = e.cutTrailingLabel(v)
		}
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if f == FieldRefills {
			if _, err := strconv.Atoi(v); err != nil {
				continue
			}
		}
		return v, true
	}
	return "", false
}

var (
	followedByColon = regexp.MustCompile(`^[ \t]*:`)
	fieldSeparator  = regexp.MustCompile(`\t| {2,}`)
)

// cutTrailingLabel drops the trailing words of v that form the next label.
// Known labels are cut whole. An unknown label is cut back to the last tab or
// run of spaces; without one only its last word goes, and a single-word value
// is kept as is.
func (e *Extractor) cutTrailingLabel(v string) string {
	words := strings.Fields(v)
	if len(words) == 0 {
		return v
	}
	for _, lw := range e.rules.labelWords {
		if len(lw) > len(words) {
			continue
		}
		tail := words[len(words)-len(lw):]
		match := true
		for i := range lw {
			if !strings.EqualFold(tail[i], lw[i]) {
				match = false
				break
			}
		}
		if match {
			return cutWords(v, len(lw))
		}
	}

	body := strings.TrimRightFunc(v, unicode.IsSpace)
	if locs := fieldSeparator.FindAllStringIndex(body, -1); len(locs) > 0 {
		if head := body[:locs[len(locs)-1][0]]; strings.TrimSpace(head) != "" {
			return head
		}
	}
	if len(words) < 2 {
		return v
	}
	if r, _ := utf8.DecodeRuneInString(words[len(words)-1]); unicode.IsLetter(r) {
		return cutWords(v, 1)
	}
	return v
}

// cutWords removes the last n whitespace-separated words of s, keeping the
// original spacing of what remains.
func cutWords(s string, n int) string {
	i := len(strings.TrimRightFunc(s, unicode.IsSpace))
	for ; n > 0 && i > 0; n-- {
		i = strings.LastIndexFunc(s[:i], unicode.IsSpace) + 1
		i = len(strings.TrimRightFunc(s[:i], unicode.IsSpace))
	}
	return s[:i]
}

func confidence(r ExtractionResult, tracked []Field) float64 {
	if tracked == nil {
		tracked = DefaultConfidenceFields
	}
	seen := make(map[Field]bool, len(tracked))
	matched := 0
	for _, f := range tracked {
		if seen[f] {
			continue
		}
		seen[f] = true
		if r.Matched(f) {
			matched++
		}
	}
	if len(seen) == 0 {
		return 0
	}
	return float64(matched) / float64(len(seen))
}

func truncate(s string) string {
	if len(s) <= MaxScanBytes {
		return s
	}
	cut := MaxScanBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
