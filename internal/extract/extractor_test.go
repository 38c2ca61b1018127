package extract

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_FullyLabeled(t *testing.T) {
	res := Extract("Medication: Lisinopril Dosage: 10mg daily Refills: 3 Date: 04/10/2025")

	assert.Equal(t, "Lisinopril", res.Medication)
	assert.Equal(t, "10mg daily", res.Dosage)
	assert.Equal(t, 3, res.Refills)
	assert.Equal(t, "04/10/2025", res.Date)
	assert.Equal(t, Unknown, res.PatientName)
	assert.Equal(t, 1.0, res.Confidence)
	assert.Equal(t, SourceLabeled, res.Sources[FieldMedication])
	assert.Equal(t, SourceLabeled, res.Sources[FieldDate])
}

func TestExtract_FallbackMedication(t *testing.T) {
	res := Extract("Patient feels better, taking Metformin for diabetes")

	assert.Equal(t, "Metformin", res.Medication)
	assert.Equal(t, SourceFallback, res.Sources[FieldMedication])
	assert.Equal(t, Unknown, res.Dosage)
	assert.Equal(t, 0, res.Refills)
	assert.Equal(t, Unknown, res.Date)
	assert.Equal(t, 0.25, res.Confidence)
}

func TestExtract_Empty(t *testing.T) {
	res := Extract("")

	assert.Equal(t, Unknown, res.Medication)
	assert.Equal(t, Unknown, res.Dosage)
	assert.Equal(t, 0, res.Refills)
	assert.Equal(t, Unknown, res.PatientName)
	assert.Equal(t, Unknown, res.Date)
	assert.Equal(t, 0.0, res.Confidence)
	assert.Empty(t, res.MatchedFields())
}

func TestExtract_StructuralPatterns(t *testing.T) {
	res := Extract("Take 500mg twice daily, 2 refills")

	// leftmost dosage shape wins
	assert.Equal(t, "500mg", res.Dosage)
	assert.Equal(t, SourceStructural, res.Sources[FieldDosage])
	assert.Equal(t, 2, res.Refills)
	assert.Equal(t, SourceStructural, res.Sources[FieldRefills])
	assert.Equal(t, Unknown, res.Medication)
	assert.Equal(t, 0.5, res.Confidence)
}

func TestExtract_CaseAndWhitespaceTolerant(t *testing.T) {
	res := Extract("  MEDICATION :    aspirin  ")
	assert.Equal(t, "aspirin", res.Medication)
	assert.Equal(t, SourceLabeled, res.Sources[FieldMedication])
}

func TestExtract_LabeledBeatsFallback(t *testing.T) {
	res := Extract("Rx: Amoxicillin 250\nNotes: previously on Lisinopril")
	assert.Equal(t, "Amoxicillin 250", res.Medication)
	assert.Equal(t, SourceLabeled, res.Sources[FieldMedication])
}

func TestExtract_FallbackListOrder(t *testing.T) {
	// both names are present; list order decides
	res := Extract("switched from amoxicillin to lisinopril")
	assert.Equal(t, "Lisinopril", res.Medication)
}

func TestExtract_LabelPriority(t *testing.T) {
	res := Extract("Drug: Losartan\nMedication: Metoprolol")
	assert.Equal(t, "Metoprolol", res.Medication)
}

func TestExtract_EmptyLabeledCaptureFallsThrough(t *testing.T) {
	res := Extract("Medication:\nDosage: 20 mg\nSimvastatin tablets")
	assert.Equal(t, "Simvastatin", res.Medication)
	assert.Equal(t, SourceFallback, res.Sources[FieldMedication])
	assert.Equal(t, "20 mg", res.Dosage)
}

func TestExtract_MultilineDocument(t *testing.T) {
	text := strings.Join([]string{
		"CITY PHARMACY",
		"Patient Name: Jane A. Doe",
		"Date: 12-01-24",
		"Rx: Atorvastatin",
		"Sig: 1 tablet at bedtime",
		"Repeats: 5",
	}, "\n")

	res := Extract(text)
	assert.Equal(t, "Jane A. Doe", res.PatientName)
	assert.Equal(t, "12-01-24", res.Date)
	assert.Equal(t, "Atorvastatin", res.Medication)
	assert.Equal(t, "1 tablet at bedtime", res.Dosage)
	assert.Equal(t, 5, res.Refills)
	assert.Equal(t, 1.0, res.Confidence)
}

func TestExtract_PatientNameStopsAtNextLabel(t *testing.T) {
	res := Extract("Patient: John Smith Date: 1/2/2024")
	assert.Equal(t, "John Smith", res.PatientName)
	assert.Equal(t, "1/2/2024", res.Date)
}

func TestExtract_SingleWordBeforeColonIsKept(t *testing.T) {
	res := Extract("Medication: Aspirin: 81mg")
	assert.Equal(t, "Aspirin", res.Medication)
	assert.Equal(t, SourceLabeled, res.Sources[FieldMedication])
	assert.Equal(t, "81mg", res.Dosage)
}

func TestExtract_UnknownLabelCut(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"double space", "Medication: Lisinopril  Prescribing Doctor: Smith", "Lisinopril"},
		{"tab", "Medication: Metoprolol Tartrate\tPrescribing Doctor: Smith", "Metoprolol Tartrate"},
		{"one word label", "Medication: Lisinopril Pharmacy: CVS", "Lisinopril"},
		// without a separator only the last word of the label is dropped
		{"single spaces", "Medication: Lisinopril Prescribing Doctor: Smith", "Lisinopril Prescribing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Extract(tt.text).Medication)
		})
	}
}

func TestExtract_NumericTailIsNotALabel(t *testing.T) {
	res := Extract("Sig: 1 tablet at 8:00")
	assert.Equal(t, "1 tablet at 8", res.Dosage)
}

func TestExtract_UnlabeledDate(t *testing.T) {
	res := Extract("filled 3/14/2023 at counter")
	assert.Equal(t, "3/14/2023", res.Date)
	assert.Equal(t, SourceStructural, res.Sources[FieldDate])
}

func TestExtract_DosagePhrases(t *testing.T) {
	cases := map[string]string{
		"apply every 6 hours as needed": "every 6 hours",
		"inhale twice  daily":            "twice  daily",
		"three times daily with food":    "three times daily",
		"2.5 ml oral":                    "2.5 ml",
		"1 capsule by mouth":             "1 capsule",
		"2 capsules by mouth":            "2 capsules",
		"1 cap by mouth":                 "1 cap",
	}
	for in, want := range cases {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, Extract(in).Dosage)
		})
	}
}

func TestExtract_RefillOverflowIsIgnored(t *testing.T) {
	res := Extract("Refills: 999999999999999999999999 and 1 refill")
	assert.Equal(t, 1, res.Refills)
	assert.Equal(t, SourceStructural, res.Sources[FieldRefills])
}

func TestExtract_Options(t *testing.T) {
	e := New(nil)
	text := "Medication: Lisinopril Dosage: 10mg Patient: Ann Lee"

	t.Run("restricted fields", func(t *testing.T) {
		res := e.Extract(text, Options{Fields: []Field{FieldMedication}})
		assert.Equal(t, "Lisinopril", res.Medication)
		assert.Equal(t, Unknown, res.Dosage)
		assert.Equal(t, Unknown, res.PatientName)
		assert.Equal(t, 0.25, res.Confidence)
	})

	t.Run("three tracked fields", func(t *testing.T) {
		res := e.Extract(text, Options{ConfidenceFields: []Field{FieldMedication, FieldDosage, FieldPatientName}})
		assert.Equal(t, 1.0, res.Confidence)
	})

	t.Run("duplicate tracked fields count once", func(t *testing.T) {
		res := e.Extract(text, Options{ConfidenceFields: []Field{FieldMedication, FieldMedication, FieldDate}})
		assert.Equal(t, 0.5, res.Confidence)
	})

	t.Run("no tracked fields", func(t *testing.T) {
		res := e.Extract(text, Options{ConfidenceFields: []Field{}})
		assert.Equal(t, 0.0, res.Confidence)
	})

	t.Run("default date is not a match", func(t *testing.T) {
		res := e.Extract(text, Options{DefaultDate: "2025-10-16"})
		assert.Equal(t, "2025-10-16", res.Date)
		assert.False(t, res.Matched(FieldDate))
		assert.Equal(t, 0.5, res.Confidence)
	})
}

func TestExtract_Invariants(t *testing.T) {
	inputs := []string{
		"",
		" ",
		":::",
		"Medication:",
		"Refills: -4",
		"Dosage: ::: Date: :",
		"名前: 山田 Medication: Lisinopril",
		"\x00\xff\xfe garbage \x80",
		strings.Repeat("Medication: ", 1000),
		"Name: . Patient: ...",
	}
	for _, in := range inputs {
		res := Extract(in)
		assert.NotEmpty(t, res.Medication, in)
		assert.NotEmpty(t, res.Dosage, in)
		assert.NotEmpty(t, res.PatientName, in)
		assert.NotEmpty(t, res.Date, in)
		assert.GreaterOrEqual(t, res.Refills, 0, in)
		assert.GreaterOrEqual(t, res.Confidence, 0.0, in)
		assert.LessOrEqual(t, res.Confidence, 1.0, in)

		matched := 0
		for _, f := range DefaultConfidenceFields {
			if res.Matched(f) {
				matched++
			}
		}
		assert.Equal(t, float64(matched)/float64(len(DefaultConfidenceFields)), res.Confidence, in)
		assert.Equal(t, res, Extract(in), "extraction must be deterministic")
	}
}

func TestExtract_LengthCap(t *testing.T) {
	pad := strings.Repeat("é", MaxScanBytes/2) // two bytes each, fills the cap exactly
	res := Extract(pad + " Medication: Lisinopril")
	assert.Equal(t, Unknown, res.Medication)

	res = Extract("Medication: Lisinopril\n" + strings.Repeat("x ", MaxScanBytes))
	assert.Equal(t, "Lisinopril", res.Medication)

	odd := "a" + strings.Repeat("é", MaxScanBytes)
	cut := truncate(odd)
	assert.LessOrEqual(t, len(cut), MaxScanBytes)
	assert.True(t, strings.HasPrefix(odd, cut))
	assert.Equal(t, MaxScanBytes-1, len(cut))
}

func TestExtract_Concurrent(t *testing.T) {
	e := New(nil)
	text := "Medication: Lisinopril Dosage: 10mg daily Refills: 3 Date: 04/10/2025"
	want := e.Extract(text, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, want, e.Extract(text, Options{}))
		}()
	}
	wg.Wait()
}

func TestParseField(t *testing.T) {
	for in, want := range map[string]Field{
		"medication":   FieldMedication,
		"Patient Name": FieldPatientName,
		"patient-name": FieldPatientName,
		"name":         FieldPatientName,
		" DATE ":       FieldDate,
	} {
		got, ok := ParseField(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got)
	}

	_, ok := ParseField("pharmacy")
	assert.False(t, ok)

	fields, ok := ParseFields([]string{"dosage", "refills"})
	require.True(t, ok)
	assert.Equal(t, []Field{FieldDosage, FieldRefills}, fields)

	_, ok = ParseFields([]string{"dosage", "bogus"})
	assert.False(t, ok)
}

func TestResultMissing(t *testing.T) {
	res := Extract("Medication: Lisinopril")
	assert.Equal(t, []Field{FieldDosage, FieldRefills, FieldDate}, res.Missing(DefaultConfidenceFields))
	assert.Equal(t, []Field{FieldMedication}, res.MatchedFields())
}
