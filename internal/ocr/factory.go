package ocr

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joseph-ayodele/prescriptions-tracker/internal/common"
)

// NewProvider builds the configured provider chain:
// engine -> rate limit and retry (remote engines) -> cache.
func NewProvider(ctx context.Context, cfg common.OCRConfig, cacheCfg common.CacheConfig, logger *zap.Logger) (Provider, func(), error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	closer := func() {}

	var p Provider
	switch cfg.Provider {
	case "tesseract", "":
		p = NewTesseract(TesseractConfig{
			Tesseract:           cfg.TesseractPath,
			Lang:                cfg.Languages,
			TessdataDir:         cfg.TessdataDir,
			HeicConverter:       cfg.HeicConverter,
			EnableTSVConfidence: cfg.UseTSV,
			PSM:                 6,
			ArtifactCacheDir:    cfg.ArtifactCacheDir,
		}, nil, logger)
	case "mistral":
		if cfg.MistralAPIKey == "" {
			return nil, closer, eris.New("ocr: mistral provider requires mistral_api_key")
		}
		retry := DefaultRetryConfig()
		retry.MaxAttempts = cfg.MaxRetries
		p = NewLimited(
			NewMistral(cfg.MistralAPIKey, cfg.MistralBaseURL, cfg.MistralModel, cfg.Timeout, logger),
			cfg.RatePerSecond, cfg.Burst, retry, logger,
		)
	case "none":
		return None{}, closer, nil
	default:
		return nil, closer, eris.Errorf("ocr: unknown provider %q", cfg.Provider)
	}

	switch cacheCfg.Backend {
	case "", "none":
		return p, closer, nil
	case "memory":
		return NewCached(p, NewMemoryCache(), cacheCfg.TTL, logger), closer, nil
	case "redis":
		client, err := DialRedis(ctx, cacheCfg.RedisAddr, cacheCfg.RedisPassword, cacheCfg.RedisDB)
		if err != nil {
			return nil, closer, err
		}
		closer = func() { _ = client.Close() }
		return NewCached(p, NewRedisCache(client, "rxtracker:"), cacheCfg.TTL, logger), closer, nil
	default:
		return nil, closer, eris.Errorf("ocr: unknown cache backend %q", cacheCfg.Backend)
	}
}
