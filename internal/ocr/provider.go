package ocr

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"

	"github.com/joseph-ayodele/prescriptions-tracker/constants"
)

var (
	// ErrManualEntry means the document cannot be recognized automatically and
	// its fields must be entered by hand. PDFs always take this path.
	ErrManualEntry = errors.New("document requires manual entry")
	// ErrUnsupported is returned for file types no provider handles.
	ErrUnsupported = errors.New("unsupported document type")
	// ErrUnavailable marks transient provider failures worth retrying.
	ErrUnavailable = errors.New("ocr provider unavailable")
)

// Document is the input to a Provider. Either Path or Data must be set; Ext is
// derived from Path when empty.
type Document struct {
	Path        string
	Data        []byte
	Ext         string
	ContentHash string
}

// Extension returns the normalized extension without dot.
func (d Document) Extension() string {
	if d.Ext != "" {
		return constants.NormalizeExt(d.Ext)
	}
	return constants.NormalizeExt(filepath.Ext(d.Path))
}

// Format maps the extension to a DocumentFormat.
func (d Document) Format() (constants.DocumentFormat, bool) {
	return constants.MapExtToFormat(d.Extension())
}

// Bytes returns Data, reading Path when Data is empty.
func (d Document) Bytes() ([]byte, error) {
	if len(d.Data) > 0 {
		return d.Data, nil
	}
	if d.Path == "" {
		return nil, eris.New("ocr: document has neither path nor data")
	}
	b, err := os.ReadFile(d.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "ocr: read %s", d.Path)
	}
	return b, nil
}

// Hash returns ContentHash, computing the hex SHA-256 of the content when unset.
func (d Document) Hash() (string, error) {
	if d.ContentHash != "" {
		return d.ContentHash, nil
	}
	b, err := d.Bytes()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// RecognizedText is what a Provider returns. Confidence is the provider's own
// estimate in [0,1] and is unrelated to extraction confidence.
type RecognizedText struct {
	Text          string        `json:"text"`
	Confidence    float32       `json:"confidence"`
	HasConfidence bool          `json:"has_confidence"`
	Provider      string        `json:"provider"`
	Method        string        `json:"method"`
	Pages         int           `json:"pages"`
	Language      string        `json:"language,omitempty"`
	Duration      time.Duration `json:"duration"`
	Warnings      []string      `json:"warnings,omitempty"`
	Cached        bool          `json:"-"`
}

// Provider turns a document into plain text.
type Provider interface {
	Name() string
	Recognize(ctx context.Context, doc Document) (RecognizedText, error)
}

// preflight handles the formats that never reach an OCR engine. It reports
// handled=true when res/err are final.
func preflight(doc Document, provider string) (res RecognizedText, handled bool, err error) {
	format, ok := doc.Format()
	if !ok {
		return RecognizedText{}, true, eris.Wrapf(ErrUnsupported, "ocr: extension %q", doc.Extension())
	}
	switch format {
	case constants.FormatPDF:
		return RecognizedText{Provider: provider, Method: "manual"}, true, ErrManualEntry
	case constants.FormatText:
		b, err := doc.Bytes()
		if err != nil {
			return RecognizedText{}, true, err
		}
		return RecognizedText{
			Text:          Normalize(string(b)),
			Confidence:    1,
			HasConfidence: true,
			Provider:      provider,
			Method:        "plain-text",
			Pages:         1,
		}, true, nil
	}
	return RecognizedText{}, false, nil
}

// None never recognizes images; every image falls back to manual entry.
type None struct{}

func (None) Name() string { return "none" }

func (None) Recognize(_ context.Context, doc Document) (RecognizedText, error) {
	if res, handled, err := preflight(doc, "none"); handled {
		return res, err
	}
	return RecognizedText{Provider: "none", Method: "manual"}, ErrManualEntry
}
