package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrescriptionStatusRule(t *testing.T) {
	tests := []struct {
		value    string
		allowAll bool
		ok       bool
	}{
		{"active", false, true},
		{" Done ", false, true},
		{"lapsed", false, true},
		{"", false, true},
		{"all", true, true},
		{"all", false, false},
		{"paused", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			fe := PrescriptionStatus(tt.allowAll)("status", tt.value)
			if tt.ok {
				assert.Nil(t, fe)
				return
			}
			require.NotNil(t, fe)
			assert.Contains(t, fe.Message, "active, completed, expired")
		})
	}
}

func TestISODateRule(t *testing.T) {
	assert.Nil(t, ISODate("from_date", "2024-02-29"))
	assert.Nil(t, ISODate("from_date", ""))
	assert.NotNil(t, ISODate("from_date", "2023-02-29"))
	assert.NotNil(t, ISODate("from_date", "03/10/2024"))
	assert.NotNil(t, ISODate("from_date", 20240310))
}

func TestConfidenceFieldsRule(t *testing.T) {
	assert.Nil(t, ConfidenceFields("confidence_fields", []string{"medication", "dosage"}))
	assert.Nil(t, ConfidenceFields("confidence_fields", []string(nil)))

	fe := ConfidenceFields("confidence_fields", []string{"medication", "pharmacy"})
	require.NotNil(t, fe)
	assert.Contains(t, fe.Message, `"pharmacy"`)
}

func TestDocumentExtensionRule(t *testing.T) {
	for _, p := range []string{"scan.PDF", "/tmp/rx.heic", "note.txt", "photo.jpeg"} {
		assert.Nil(t, DocumentExtension("path", p), p)
	}
	for _, p := range []string{"notes.csv", "README", ""} {
		assert.NotNil(t, DocumentExtension("path", p), p)
	}
}

func TestIntRangeRule(t *testing.T) {
	rule := IntRange(1, 120)
	assert.Nil(t, rule("months", 1))
	assert.Nil(t, rule("months", 120))
	assert.NotNil(t, rule("months", 0))
	assert.NotNil(t, rule("months", 121))
	assert.NotNil(t, rule("months", "12"))
}

func TestValidatorCollectsDomainRules(t *testing.T) {
	v := NewValidator().
		Field("status", "paused", PrescriptionStatus(true)).
		Field("to_date", "2024-13-01", ISODate).
		Field("path", "x.docx", Required, DocumentExtension)

	require.Len(t, v.Errors(), 3)
	assert.Equal(t, "path", v.Errors()[2].Field)
	assert.Contains(t, v.ErrorMessage(), "to_date must be a date (YYYY-MM-DD)")
}
