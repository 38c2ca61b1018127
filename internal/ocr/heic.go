package ocr

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// convertHEICtoPNG converts a HEIC/HEIF file to PNG.
// If cacheDir and hashHex are non-empty, it will persist (and reuse) the PNG at
//
//	{cacheDir}/{hashHex}.png
//
// Returns (outPath, warnings, cleanup, err). cleanup is nil when the cached
// artifact is returned.
func convertHEICtoPNG(
	ctx context.Context,
	r Runner,
	logger *zap.Logger,
	converter string,
	in string,
	cacheDir string,
	hashHex string,
) (string, []string, func(), error) {
	var cached string
	if cacheDir != "" && hashHex != "" {
		cached = filepath.Join(cacheDir, hashHex+".png")
		if st, err := os.Stat(cached); err == nil && !st.IsDir() {
			logger.Debug("using cached heic->png", zap.String("cache", cached))
			return cached, nil, nil, nil
		}
		if err := os.MkdirAll(cacheDir, 0o755); err != nil {
			return "", nil, nil, eris.Wrap(err, "ocr: create artifact cache dir")
		}
	}

	tmpDir, err := os.MkdirTemp("", "rx-heic-*")
	if err != nil {
		return "", nil, nil, eris.Wrap(err, "ocr: create temp dir")
	}
	cleanup := func() { _ = os.RemoveAll(tmpDir) }
	out := filepath.Join(tmpDir, "page.png")

	var args []string
	switch converter {
	case "heif-convert", "magick":
		args = []string{in, out}
	case "sips":
		args = []string{"-s", "format", "png", in, "--out", out}
	default:
		cleanup()
		return "", nil, nil, eris.Wrapf(ErrUnsupported, "HEIC needs ocr.heic_converter set to heif-convert | magick | sips, got %q", converter)
	}
	if _, errb, err := r.Run(ctx, converter, logger, args...); err != nil {
		cleanup()
		return "", []string{string(errb)}, nil, eris.Wrapf(err, "%s convert failed", converter)
	}
	if _, err := os.Stat(out); err != nil {
		cleanup()
		return "", nil, nil, eris.Wrap(err, "HEIC conversion produced no output")
	}

	if cached == "" {
		return out, nil, cleanup, nil
	}

	// persist into the cache; rename can fail across devices, so fall back to copy
	if err := os.Rename(out, cached); err != nil {
		if st, statErr := os.Stat(cached); statErr == nil && !st.IsDir() {
			cleanup()
			logger.Debug("cached heic->png already present", zap.String("cache", cached))
			return cached, nil, nil, nil
		}
		if err := copyFile(out, cached); err != nil {
			cleanup()
			return "", nil, nil, err
		}
	}
	cleanup()
	logger.Debug("cached heic->png", zap.String("cache", cached))
	return cached, nil, nil, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return eris.Wrap(err, "ocr: open converted png")
	}
	defer in.Close() //nolint:errcheck

	out, err := os.Create(dst)
	if err != nil {
		return eris.Wrap(err, "ocr: create cached png")
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return eris.Wrap(err, "ocr: copy cached png")
	}
	return eris.Wrap(out.Close(), "ocr: close cached png")
}
