// Package metrics provides lightweight, lock-minimal counters for the
// redaction service.
//
// Plain counters use sync/atomic so hot paths incur no mutex contention.
// Labelled counters (per entity type, per error code) and latency statistics
// use a single mutex per dimension; they are updated at most a few times per
// request.
package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics holds all runtime counters for a running service instance.
// The zero value is usable; New additionally records the start time.
type Metrics struct {
	// HTTP request counters
	RequestsTotal atomic.Int64
	RequestsAuth  atomic.Int64 // rejected by bearer auth

	// Operation counters
	SanitizeCalls   atomic.Int64
	ManualCalls     atomic.Int64
	RevertCalls     atomic.Int64
	UpdateCalls     atomic.Int64
	DetokenizeCalls atomic.Int64

	// Session lifecycle
	SessionsCreated atomic.Int64
	SessionsDeleted atomic.Int64
	SessionsExpired atomic.Int64

	// Token volume
	OccurrencesTokenized atomic.Int64
	OccurrencesReverted  atomic.Int64
	TokensRestored       atomic.Int64
	UnknownPassthrough   atomic.Int64

	// Detection
	DetectorErrors atomic.Int64
	CacheHits      atomic.Int64
	CacheMisses    atomic.Int64

	tokensCreated labelled
	errors        labelled

	detectMu   sync.Mutex
	detectStat latencyStats

	sanitizeMu   sync.Mutex
	sanitizeStat latencyStats

	detokMu   sync.Mutex
	detokStat latencyStats

	startTime time.Time
}

// New returns a new Metrics with the start time recorded.
func New() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordTokenCreated counts a new map entry of the given entity type.
func (m *Metrics) RecordTokenCreated(entityType string) { m.tokensCreated.add(entityType) }

// RecordError counts a failed operation by its error code.
func (m *Metrics) RecordError(code string) { m.errors.add(code) }

// RecordDetectionLatency records the duration of one detector call.
func (m *Metrics) RecordDetectionLatency(d time.Duration) {
	m.detectMu.Lock()
	m.detectStat.record(ms(d))
	m.detectMu.Unlock()
}

// RecordSanitizeLatency records the duration of one sanitize operation,
// detection included.
func (m *Metrics) RecordSanitizeLatency(d time.Duration) {
	m.sanitizeMu.Lock()
	m.sanitizeStat.record(ms(d))
	m.sanitizeMu.Unlock()
}

// RecordDetokenizeLatency records the duration of one detokenize operation.
func (m *Metrics) RecordDetokenizeLatency(d time.Duration) {
	m.detokMu.Lock()
	m.detokStat.record(ms(d))
	m.detokMu.Unlock()
}

func ms(d time.Duration) float64 { return float64(d.Microseconds()) / 1000.0 }

// Snapshot returns a point-in-time copy of all metrics, safe for JSON encoding.
func (m *Metrics) Snapshot() Snapshot {
	m.detectMu.Lock()
	detect := m.detectStat.snapshot()
	m.detectMu.Unlock()

	m.sanitizeMu.Lock()
	sanitize := m.sanitizeStat.snapshot()
	m.sanitizeMu.Unlock()

	m.detokMu.Lock()
	detok := m.detokStat.snapshot()
	m.detokMu.Unlock()

	var uptime float64
	if !m.startTime.IsZero() {
		uptime = time.Since(m.startTime).Seconds()
	}

	return Snapshot{
		Requests: RequestSnapshot{
			Total: m.RequestsTotal.Load(),
			Auth:  m.RequestsAuth.Load(),
		},
		Operations: OperationSnapshot{
			Sanitize:   m.SanitizeCalls.Load(),
			Manual:     m.ManualCalls.Load(),
			Revert:     m.RevertCalls.Load(),
			Update:     m.UpdateCalls.Load(),
			Detokenize: m.DetokenizeCalls.Load(),
		},
		Sessions: SessionSnapshot{
			Created: m.SessionsCreated.Load(),
			Deleted: m.SessionsDeleted.Load(),
			Expired: m.SessionsExpired.Load(),
		},
		Tokens: TokenSnapshot{
			Created:              m.tokensCreated.snapshot(),
			OccurrencesTokenized: m.OccurrencesTokenized.Load(),
			OccurrencesReverted:  m.OccurrencesReverted.Load(),
			Restored:             m.TokensRestored.Load(),
			UnknownPassthrough:   m.UnknownPassthrough.Load(),
		},
		Detection: DetectionSnapshot{
			Errors:      m.DetectorErrors.Load(),
			CacheHits:   m.CacheHits.Load(),
			CacheMisses: m.CacheMisses.Load(),
		},
		Errors: m.errors.snapshot(),
		Latency: LatencyGroup{
			DetectionMs:  detect,
			SanitizeMs:   sanitize,
			DetokenizeMs: detok,
		},
		UptimeSecs: uptime,
	}
}

// --- JSON-serialisable snapshot types ---

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Requests   RequestSnapshot   `json:"requests"`
	Operations OperationSnapshot `json:"operations"`
	Sessions   SessionSnapshot   `json:"sessions"`
	Tokens     TokenSnapshot     `json:"tokens"`
	Detection  DetectionSnapshot `json:"detection"`
	Errors     map[string]int64  `json:"errors,omitempty"`
	Latency    LatencyGroup      `json:"latency"`
	UptimeSecs float64           `json:"uptimeSecs"`
}

// RequestSnapshot holds request-level counters.
type RequestSnapshot struct {
	Total int64 `json:"total"`
	Auth  int64 `json:"auth"`
}

// OperationSnapshot holds per-operation call counters.
type OperationSnapshot struct {
	Sanitize   int64 `json:"sanitize"`
	Manual     int64 `json:"manual"`
	Revert     int64 `json:"revert"`
	Update     int64 `json:"update"`
	Detokenize int64 `json:"detokenize"`
}

// SessionSnapshot holds session lifecycle counters.
type SessionSnapshot struct {
	Created int64 `json:"created"`
	Deleted int64 `json:"deleted"`
	Expired int64 `json:"expired"`
}

// TokenSnapshot holds token volume counters.
type TokenSnapshot struct {
	// New map entries per entity type (only types with non-zero counts appear).
	Created map[string]int64 `json:"created,omitempty"`

	OccurrencesTokenized int64 `json:"occurrencesTokenized"`
	OccurrencesReverted  int64 `json:"occurrencesReverted"`
	Restored             int64 `json:"restored"`
	UnknownPassthrough   int64 `json:"unknownPassthrough"`
}

// DetectionSnapshot holds detector and detection cache counters.
type DetectionSnapshot struct {
	Errors      int64 `json:"errors"`
	CacheHits   int64 `json:"cacheHits"`
	CacheMisses int64 `json:"cacheMisses"`
}

// LatencyGroup groups the latency dimensions.
type LatencyGroup struct {
	DetectionMs  LatencySnapshot `json:"detectionMs"`
	SanitizeMs   LatencySnapshot `json:"sanitizeMs"`
	DetokenizeMs LatencySnapshot `json:"detokenizeMs"`
}

// LatencySnapshot is a min/mean/max summary for one latency dimension.
type LatencySnapshot struct {
	Count  int64   `json:"count"`
	MinMs  float64 `json:"minMs"`
	MeanMs float64 `json:"meanMs"`
	MaxMs  float64 `json:"maxMs"`
}

// --- internal accumulators ---

// labelled is a mutex-guarded counter per free-form label.
type labelled struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (l *labelled) add(label string) {
	l.mu.Lock()
	if l.counts == nil {
		l.counts = make(map[string]int64)
	}
	l.counts[label]++
	l.mu.Unlock()
}

func (l *labelled) snapshot() map[string]int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.counts) == 0 {
		return nil
	}
	out := make(map[string]int64, len(l.counts))
	for k, v := range l.counts {
		out[k] = v
	}
	return out
}

type latencyStats struct {
	count int64
	sum   float64
	min   float64
	max   float64
}

func (s *latencyStats) record(ms float64) {
	s.count++
	s.sum += ms
	if s.count == 1 || ms < s.min {
		s.min = ms
	}
	if ms > s.max {
		s.max = ms
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func (s *latencyStats) snapshot() LatencySnapshot {
	if s.count == 0 {
		return LatencySnapshot{}
	}
	return LatencySnapshot{
		Count:  s.count,
		MinMs:  round2(s.min),
		MeanMs: round2(s.sum / float64(s.count)),
		MaxMs:  round2(s.max),
	}
}
