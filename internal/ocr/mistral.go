package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	defaultMistralBaseURL = "https://api.mistral.ai/v1"
	defaultMistralModel   = "mistral-ocr-latest"
)

// Mistral recognizes images through the Mistral OCR API.
type Mistral struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewMistral creates a Mistral provider. Empty baseURL and model use the defaults.
func NewMistral(apiKey, baseURL, model string, timeout time.Duration, logger *zap.Logger) *Mistral {
	if baseURL == "" {
		baseURL = defaultMistralBaseURL
	}
	if model == "" {
		model = defaultMistralModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mistral{
		apiKey:   apiKey,
		model:    model,
		endpoint: strings.TrimRight(baseURL, "/") + "/ocr",
		client:   &http.Client{Timeout: timeout},
		logger:   logger.Named("mistral"),
	}
}

type mistralOCRRequest struct {
	Model    string             `json:"model"`
	Document mistralOCRDocument `json:"document"`
}

type mistralOCRDocument struct {
	Type     string `json:"type"`
	ImageURL string `json:"image_url"`
}

type mistralOCRResponse struct {
	Pages []mistralOCRPage `json:"pages"`
}

type mistralOCRPage struct {
	Index    int    `json:"index"`
	Markdown string `json:"markdown"`
}

func (m *Mistral) Name() string { return "mistral" }

// Recognize sends the image as a base64 data URL. 429 and 5xx responses are
// reported as ErrUnavailable so callers may retry.
func (m *Mistral) Recognize(ctx context.Context, doc Document) (RecognizedText, error) {
	start := time.Now()
	if res, handled, err := preflight(doc, m.Name()); handled {
		return res, err
	}

	data, err := doc.Bytes()
	if err != nil {
		return RecognizedText{}, err
	}

	reqBody := mistralOCRRequest{
		Model: m.model,
		Document: mistralOCRDocument{
			Type:     "image_url",
			ImageURL: "data:" + imageMIME(doc.Extension()) + ";base64," + base64.StdEncoding.EncodeToString(data),
		},
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return RecognizedText{}, eris.Wrap(err, "ocr: marshal mistral request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return RecognizedText{}, eris.Wrap(err, "ocr: create mistral request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return RecognizedText{}, eris.Wrap(ctx.Err(), "ocr: mistral API call")
		}
		return RecognizedText{}, eris.Wrapf(ErrUnavailable, "ocr: mistral API call: %v", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return RecognizedText{}, eris.Wrap(err, "ocr: read mistral response")
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return RecognizedText{}, eris.Wrapf(ErrUnavailable, "ocr: mistral API returned %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return RecognizedText{}, eris.Errorf("ocr: mistral API returned %d: %s", resp.StatusCode, truncate(string(respBody), 512))
	}

	var ocrResp mistralOCRResponse
	if err := json.Unmarshal(respBody, &ocrResp); err != nil {
		return RecognizedText{}, eris.Wrap(err, "ocr: unmarshal mistral response")
	}

	var sb strings.Builder
	for i, page := range ocrResp.Pages {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(page.Markdown)
	}
	txt := Normalize(stripMarkdown(sb.String()))

	m.logger.Debug("mistral ocr ok", zap.Int("pages", len(ocrResp.Pages)), zap.Int("chars", len(txt)))
	return RecognizedText{
		Text:       txt,
		Confidence: heuristicConfidence(txt),
		// the API reports no per-word confidence; the heuristic stands in
		HasConfidence: true,
		Provider:      m.Name(),
		Method:        "remote-ocr",
		Pages:         len(ocrResp.Pages),
		Duration:      time.Since(start),
	}, nil
}

var markdownReplacer = strings.NewReplacer("**", "", "__", "", "# ", "", "#", "", "`", "")

func stripMarkdown(s string) string { return markdownReplacer.Replace(s) }

func imageMIME(ext string) string {
	switch ext {
	case "png":
		return "image/png"
	case "heic", "heif":
		return "image/heic"
	default:
		return "image/jpeg"
	}
}
