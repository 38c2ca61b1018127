package ocr

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joseph-ayodele/prescriptions-tracker/constants"
)

// TesseractConfig configures the local tesseract engine.
type TesseractConfig struct {
	Tesseract string // binary name or absolute path; if empty -> "tesseract"
	Lang      string // default "eng"

	TessdataDir         string
	HeicConverter       string
	EnableTSVConfidence bool

	PSM int // e.g., 6 is good for uniform block of text
	OEM int // 1 = LSTM; leave 0 to use default

	ArtifactCacheDir string
}

// Tesseract recognizes images by shelling out to tesseract.
type Tesseract struct {
	cfg    TesseractConfig
	runner Runner
	logger *zap.Logger
}

// NewTesseract fills config defaults. A nil runner uses os/exec.
func NewTesseract(cfg TesseractConfig, runner Runner, logger *zap.Logger) *Tesseract {
	if logger == nil {
		logger = zap.NewNop()
	}
	if runner == nil {
		runner = execRunner{}
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Lang == "" {
		cfg.Lang = "eng"
	}
	if cfg.HeicConverter == "" {
		cfg.HeicConverter = "magick"
	}
	return &Tesseract{cfg: cfg, runner: runner, logger: logger.Named("tesseract")}
}

func (t *Tesseract) Name() string { return "tesseract" }

// Recognize runs tesseract on an image document. In-memory documents are
// spooled to a temp file first.
func (t *Tesseract) Recognize(ctx context.Context, doc Document) (RecognizedText, error) {
	start := time.Now()
	if res, handled, err := preflight(doc, t.Name()); handled {
		return res, err
	}

	path, cleanup, err := spool(doc)
	if err != nil {
		return RecognizedText{}, err
	}
	defer cleanup()

	var warns []string
	if constants.IsHEICExt(doc.Extension()) {
		hashHex, _ := doc.Hash()
		out, w, c, err := convertHEICtoPNG(ctx, t.runner, t.logger, t.cfg.HeicConverter, path, t.cfg.ArtifactCacheDir, hashHex)
		warns = append(warns, w...)
		if err != nil {
			t.logger.Error("heic conversion failed", zap.String("path", path), zap.Error(err))
			return RecognizedText{Provider: t.Name(), Warnings: warns}, err
		}
		if c != nil {
			defer c()
		}
		path = out
	}

	res, err := t.recognizeImage(ctx, path)
	res.Duration = time.Since(start)
	res.Warnings = append(res.Warnings, warns...)
	return res, err
}

func (t *Tesseract) recognizeImage(ctx context.Context, path string) (RecognizedText, error) {
	txt, warn, err := t.tesseractOCR(ctx, path)
	if err != nil {
		return RecognizedText{Provider: t.Name(), Warnings: warn}, err
	}
	txt = Normalize(txt)

	var engineConf float32
	if t.cfg.EnableTSVConfidence {
		c, w, err := t.tesseractTSVConfidence(ctx, path)
		warn = append(warn, w...)
		if err != nil {
			warn = append(warn, err.Error())
		} else {
			engineConf = c
		}
	}

	return RecognizedText{
		Text:          txt,
		Confidence:    blendConfidence(engineConf, heuristicConfidence(txt)),
		HasConfidence: true,
		Provider:      t.Name(),
		Method:        "image-ocr",
		Pages:         1,
		Language:      t.cfg.Lang,
		Warnings:      warn,
	}, nil
}

func (t *Tesseract) baseArgs(path string) []string {
	// tesseract <file> stdout -l <lang>
	args := []string{path, "stdout", "-l", t.cfg.Lang}
	if t.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(t.cfg.PSM))
	}
	if t.cfg.OEM > 0 {
		args = append(args, "--oem", strconv.Itoa(t.cfg.OEM))
	}
	if t.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", t.cfg.TessdataDir)
	}
	return args
}

func (t *Tesseract) tesseractOCR(ctx context.Context, path string) (string, []string, error) {
	out, errb, err := t.runner.Run(ctx, t.cfg.Tesseract, t.logger, t.baseArgs(path)...)
	if err != nil {
		if ctx.Err() != nil {
			return "", nil, eris.Wrap(ctx.Err(), "tesseract")
		}
		return "", []string{string(errb)}, eris.Wrap(err, "tesseract")
	}
	return string(out), nil, nil
}

// tesseractTSVConfidence runs tesseract in TSV mode and returns mean word conf in 0..1.
func (t *Tesseract) tesseractTSVConfidence(ctx context.Context, path string) (float32, []string, error) {
	args := append(t.baseArgs(path), "tsv")
	out, errb, err := t.runner.Run(ctx, t.cfg.Tesseract, t.logger, args...)
	if err != nil {
		return 0, []string{string(errb)}, eris.Wrap(err, "tesseract TSV")
	}
	return meanTSVConfidence(string(out)), nil, nil
}

// meanTSVConfidence averages the conf column of tesseract TSV output, skipping
// the header and non-word rows (conf -1).
func meanTSVConfidence(tsv string) float32 {
	var sum, n float64
	for i, ln := range strings.Split(tsv, "\n") {
		if i == 0 || ln == "" {
			continue
		}
		cols := strings.Split(ln, "\t")
		if len(cols) < 12 {
			continue
		}
		confStr := strings.TrimSpace(cols[tsvConfColumn])
		if confStr == "" || confStr == "-1" {
			continue
		}
		if v, err := strconv.ParseFloat(confStr, 64); err == nil && v >= 0 {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	mean := sum / n / 100.0
	if mean > 1 {
		mean = 1
	}
	return float32(mean)
}

// level page_num block_num par_num line_num word_num left top width height conf text
const tsvConfColumn = 10

// spool returns a filesystem path for doc, writing Data to a temp file when
// the document has no path.
func spool(doc Document) (string, func(), error) {
	if doc.Path != "" {
		return doc.Path, func() {}, nil
	}
	if len(doc.Data) == 0 {
		return "", nil, eris.New("ocr: document has neither path nor data")
	}
	f, err := os.CreateTemp("", "rx-doc-*."+doc.Extension())
	if err != nil {
		return "", nil, eris.Wrap(err, "ocr: create temp file")
	}
	name := f.Name()
	cleanup := func() { _ = os.Remove(name) }
	if _, err := f.Write(doc.Data); err != nil {
		_ = f.Close()
		cleanup()
		return "", nil, eris.Wrap(err, "ocr: write temp file")
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, eris.Wrap(err, "ocr: close temp file")
	}
	return filepath.Clean(name), cleanup, nil
}
