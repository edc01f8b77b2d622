// Package detector finds candidate sensitive spans in text.
//
// Detection runs through a small pipeline assembled from configuration:
//  1. Regex: structured patterns (email, phone, card numbers, ...), always local.
//  2. Presidio: a Presidio analyzer service reached over HTTP.
//  3. Ollama: a local model asked for the sensitive strings verbatim.
//
// Enabled detectors run concurrently and their spans are concatenated; the
// combined result can be cached per text and is finally filtered down to the
// configured entity types. Overlap resolution is left to the sanitizer.
//
// Every detector returns byte offsets into the text it was given.
package detector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"redactflow/internal/logger"
	"redactflow/internal/redact"
	"redactflow/internal/tokenmap"
)

// Detector returns candidate spans for text. Implementations must be safe for
// concurrent use.
type Detector interface {
	Detect(ctx context.Context, text string) ([]redact.Span, error)
}

// Func adapts a function to the Detector interface.
type Func func(ctx context.Context, text string) ([]redact.Span, error)

// Detect calls f.
func (f Func) Detect(ctx context.Context, text string) ([]redact.Span, error) {
	return f(ctx, text)
}

// Error reports a failed detector call.
type Error struct {
	Detector string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("detector %s: %v", e.Detector, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Named pairs a detector with the name used in logs and errors.
type Named struct {
	Name string
	Detector
}

// partialDetector is implemented by detectors that can succeed with some of
// their sources missing. complete is false when any source failed.
type partialDetector interface {
	DetectPartial(ctx context.Context, text string) (spans []redact.Span, complete bool, err error)
}

// Multi runs several detectors concurrently. A failing detector is logged and
// skipped; Detect only fails when every detector failed or ctx was cancelled.
type Multi struct {
	detectors []Named
	log       *logger.Logger
}

// NewMulti combines detectors. Spans are returned in detector order.
func NewMulti(log *logger.Logger, detectors ...Named) *Multi {
	return &Multi{detectors: detectors, log: log}
}

// Detect implements Detector.
func (m *Multi) Detect(ctx context.Context, text string) ([]redact.Span, error) {
	spans, _, err := m.DetectPartial(ctx, text)
	return spans, err
}

// DetectPartial is Detect that also reports whether every detector answered.
func (m *Multi) DetectPartial(ctx context.Context, text string) ([]redact.Span, bool, error) {
	if len(m.detectors) == 0 {
		return nil, true, nil
	}

	results := make([][]redact.Span, len(m.detectors))
	var (
		mu       sync.Mutex
		failures []error
	)

	g, gctx := errgroup.WithContext(ctx)
	for i, d := range m.detectors {
		g.Go(func() error {
			spans, err := d.Detect(gctx, text)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				m.log.Warnf("detect", "%s failed, skipping: %v", d.Name, err)
				mu.Lock()
				failures = append(failures, &Error{Detector: d.Name, Err: err})
				mu.Unlock()
				return nil
			}
			results[i] = spans
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, false, err
	}
	if len(failures) == len(m.detectors) {
		return nil, false, errors.Join(failures...)
	}

	var out []redact.Span
	for _, spans := range results {
		out = append(out, spans...)
	}
	return out, len(failures) == 0, nil
}

// Filter returns a detector that keeps only spans whose entity type, once
// normalized, is in allowed. An empty allowed list keeps everything.
func Filter(d Detector, allowed []string) Detector {
	if len(allowed) == 0 {
		return d
	}
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		if t, ok := tokenmap.NormalizeEntityType(a); ok {
			set[t] = struct{}{}
		}
	}
	return Func(func(ctx context.Context, text string) ([]redact.Span, error) {
		spans, err := d.Detect(ctx, text)
		if err != nil {
			return nil, err
		}
		kept := spans[:0:0]
		for _, sp := range spans {
			t, _ := tokenmap.NormalizeEntityType(sp.EntityType)
			if _, ok := set[t]; ok {
				kept = append(kept, sp)
			}
		}
		return kept, nil
	})
}

// locate returns a span for every non-overlapping occurrence of value in text.
func locate(text, value, entityType string, score float64) []redact.Span {
	if value == "" {
		return nil
	}
	var out []redact.Span
	from := 0
	for {
		i := strings.Index(text[from:], value)
		if i < 0 {
			return out
		}
		start := from + i
		out = append(out, redact.Span{Start: start, End: start + len(value), EntityType: entityType, Score: score})
		from = start + len(value)
	}
}
