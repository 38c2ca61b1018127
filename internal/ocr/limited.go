package ocr

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RetryConfig controls retry behavior with exponential backoff and jitter.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// JitterFraction adds ±fraction of the computed delay.
	JitterFraction float64
}

// DefaultRetryConfig returns the retry policy used for remote OCR calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}
}

func (c RetryConfig) backoff(attempt int) time.Duration {
	delay := float64(c.InitialBackoff) * math.Pow(c.Multiplier, float64(attempt))
	if delay > float64(c.MaxBackoff) {
		delay = float64(c.MaxBackoff)
	}
	if c.JitterFraction > 0 {
		jitterRange := delay * c.JitterFraction
		delay += (rand.Float64()*2 - 1) * jitterRange
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// Limited throttles and retries calls to an inner Provider. Only
// ErrUnavailable failures are retried.
type Limited struct {
	inner   Provider
	limiter *rate.Limiter
	retry   RetryConfig
	logger  *zap.Logger
}

// NewLimited wraps inner. perSecond <= 0 disables throttling.
func NewLimited(inner Provider, perSecond float64, burst int, retry RetryConfig, logger *zap.Logger) *Limited {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}
	if retry.Multiplier <= 0 {
		retry.Multiplier = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limited{
		inner:   inner,
		limiter: rate.NewLimiter(limit, burst),
		retry:   retry,
		logger:  logger,
	}
}

func (l *Limited) Name() string { return l.inner.Name() }

func (l *Limited) Recognize(ctx context.Context, doc Document) (RecognizedText, error) {
	var lastErr error
	for attempt := 0; attempt < l.retry.MaxAttempts; attempt++ {
		if err := l.limiter.Wait(ctx); err != nil {
			return RecognizedText{}, eris.Wrap(err, "ocr: rate limit wait")
		}
		res, err := l.inner.Recognize(ctx, doc)
		if err == nil || !errors.Is(err, ErrUnavailable) || ctx.Err() != nil {
			return res, err
		}
		lastErr = err
		if attempt == l.retry.MaxAttempts-1 {
			break
		}

		l.logger.Warn("retrying ocr",
			zap.String("provider", l.inner.Name()),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		timer := time.NewTimer(l.retry.backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return RecognizedText{}, lastErr
		case <-timer.C:
		}
	}
	return RecognizedText{}, lastErr
}
