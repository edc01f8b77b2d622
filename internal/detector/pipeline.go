package detector

import (
	"context"
	"fmt"
	"time"

	"redactflow/internal/config"
	"redactflow/internal/logger"
	"redactflow/internal/metrics"
	"redactflow/internal/redact"
)

// Pipeline is the detector chain assembled from configuration.
type Pipeline struct {
	detector Detector
	cache    *Cached
	metrics  *metrics.Metrics
}

// FromConfig builds the configured detectors, wraps them in the detection
// cache when enabled and restricts the output to cfg.EntityTypes.
func FromConfig(cfg *config.Config, m *metrics.Metrics, log *logger.Logger) (*Pipeline, error) {
	var named []Named
	for _, name := range cfg.Detectors {
		switch name {
		case config.DetectorRegex:
			named = append(named, Named{Name: name, Detector: NewRegex(log)})
		case config.DetectorPresidio:
			named = append(named, Named{Name: name, Detector: NewPresidio(cfg.Presidio.URL, cfg.Presidio.Language, cfg.EntityTypes, cfg.Presidio.Timeout, log)})
		case config.DetectorOllama:
			named = append(named, Named{Name: name, Detector: NewOllama(cfg.Ollama.Endpoint, cfg.Ollama.Model, cfg.Ollama.Threshold, cfg.Ollama.Timeout, log)})
		default:
			return nil, fmt.Errorf("unknown detector %q", name)
		}
	}

	p := &Pipeline{metrics: m}
	var d Detector = NewMulti(log, named...)

	if cfg.DetectionCache.Capacity > 0 {
		backing := NewMemoryStore()
		if cfg.DetectionCache.Path != "" {
			var err error
			if backing, err = OpenBoltStore(cfg.DetectionCache.Path, log); err != nil {
				return nil, err
			}
		}
		p.cache = NewCached(d, NewS3FIFO(backing, cfg.DetectionCache.Capacity, log), m, log)
		d = p.cache
	}

	p.detector = Filter(d, cfg.EntityTypes)
	return p, nil
}

// NewPipeline wraps an arbitrary detector with the pipeline's instrumentation.
func NewPipeline(d Detector, m *metrics.Metrics) *Pipeline {
	return &Pipeline{detector: d, metrics: m}
}

// Detect runs the chain, recording latency and failures.
func (p *Pipeline) Detect(ctx context.Context, text string) ([]redact.Span, error) {
	start := time.Now()
	spans, err := p.detector.Detect(ctx, text)
	if p.metrics != nil {
		p.metrics.RecordDetectionLatency(time.Since(start))
		if err != nil {
			p.metrics.DetectorErrors.Add(1)
		}
	}
	return spans, err
}

// Close releases the detection cache, if any.
func (p *Pipeline) Close() error {
	if p.cache == nil {
		return nil
	}
	return p.cache.Close()
}
