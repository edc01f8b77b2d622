package detector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"redactflow/internal/logger"
	"redactflow/internal/metrics"
	"redactflow/internal/redact"
)

// Cached memoizes another detector's spans per text. Keys are SHA-256 digests
// of the text, so the store never holds the text itself. Failed detections
// are not cached, and neither are partial ones where some of inner's sources
// failed.
type Cached struct {
	inner   Detector
	store   Store
	metrics *metrics.Metrics
	log     *logger.Logger
}

// NewCached wraps inner with store. m may be nil.
func NewCached(inner Detector, store Store, m *metrics.Metrics, log *logger.Logger) *Cached {
	return &Cached{inner: inner, store: store, metrics: m, log: log}
}

// Detect implements Detector.
func (c *Cached) Detect(ctx context.Context, text string) ([]redact.Span, error) {
	key := cacheKey(text)

	if raw, ok := c.store.Get(key); ok {
		var spans []redact.Span
		if err := json.Unmarshal([]byte(raw), &spans); err == nil {
			if c.metrics != nil {
				c.metrics.CacheHits.Add(1)
			}
			return spans, nil
		}
		c.log.Warn("cache_decode", "discarding undecodable cache entry")
		c.store.Delete(key)
	}
	if c.metrics != nil {
		c.metrics.CacheMisses.Add(1)
	}

	spans, complete, err := c.detect(ctx, text)
	if err != nil {
		return nil, err
	}
	if !complete {
		c.log.Debug("cache_skip", "partial detection result not cached")
		return spans, nil
	}
	if raw, err := json.Marshal(spans); err == nil {
		c.store.Set(key, string(raw))
	}
	return spans, nil
}

func (c *Cached) detect(ctx context.Context, text string) ([]redact.Span, bool, error) {
	if pd, ok := c.inner.(partialDetector); ok {
		return pd.DetectPartial(ctx, text)
	}
	spans, err := c.inner.Detect(ctx, text)
	return spans, err == nil, err
}

// Close closes the underlying store.
func (c *Cached) Close() error {
	return c.store.Close()
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
