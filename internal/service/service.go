// Package service runs the caller-visible redaction operations against the
// session store.
//
// Every mutation loads a copy of the session, applies one redact operation to
// the copy and stores it only if the operation succeeded and the caller is
// still waiting. Mutations of one session are serialized; different sessions
// proceed in parallel.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"redactflow/internal/detector"
	"redactflow/internal/logger"
	"redactflow/internal/metrics"
	"redactflow/internal/partition"
	"redactflow/internal/redact"
	"redactflow/internal/session"
	"redactflow/internal/tokenmap"
)

// DetectionError wraps a failure of the detection pipeline.
type DetectionError struct {
	Err error
}

func (e *DetectionError) Error() string { return "detection failed: " + e.Err.Error() }

func (e *DetectionError) Unwrap() error { return e.Err }

// Service holds the collaborators of the redaction operations.
type Service struct {
	store    session.Store
	detector detector.Detector
	metrics  *metrics.Metrics
	log      *logger.Logger
	locks    keyedMutex

	wholeWord bool
}

// Options tunes operation defaults.
type Options struct {
	// WholeWordManual is the whole-word default for manual tokenization.
	WholeWordManual bool
}

// New returns a Service. det may be nil when every sanitize call supplies
// its own spans; m may be nil.
func New(store session.Store, det detector.Detector, m *metrics.Metrics, log *logger.Logger, opts Options) *Service {
	if m == nil {
		m = &metrics.Metrics{}
	}
	return &Service{
		store:     store,
		detector:  det,
		metrics:   m,
		log:       log,
		wholeWord: opts.WholeWordManual,
	}
}

// View is the caller-visible state of a session after an operation.
type View struct {
	SessionID   string
	Text        string
	Occurrences []tokenmap.Occurrence
	ExpiresAt   time.Time
}

func viewOf(s *session.Session) View {
	return View{SessionID: s.ID, Text: s.Text, Occurrences: s.Occurrences, ExpiresAt: s.ExpiresAt}
}

// SanitizeRequest is the input of Sanitize.
type SanitizeRequest struct {
	Text string
	// Entities restricts detection to these entity types; empty means all.
	Entities []string
	// Spans, when non-nil, are used instead of running detection.
	Spans []redact.Span
}

// Sanitize tokenizes req.Text and creates a session for the result.
func (s *Service) Sanitize(ctx context.Context, req SanitizeRequest) (*View, error) {
	start := time.Now()
	s.metrics.SanitizeCalls.Add(1)

	spans := req.Spans
	if spans == nil {
		if s.detector == nil {
			return nil, &DetectionError{Err: errors.New("no detector configured")}
		}
		detected, err := detector.Filter(s.detector, req.Entities).Detect(ctx, req.Text)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &DetectionError{Err: err}
		}
		spans = detected
	}

	res, err := redact.Sanitize(req.Text, spans)
	if err != nil {
		return nil, err
	}

	sess := session.New(req.Text, res.Text, res.Occurrences, res.Map)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.store.Put(ctx, sess); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}

	s.metrics.SessionsCreated.Add(1)
	s.metrics.OccurrencesTokenized.Add(int64(len(res.Occurrences)))
	for _, e := range res.Map.Entries() {
		s.metrics.RecordTokenCreated(e.EntityType)
	}
	s.metrics.RecordSanitizeLatency(time.Since(start))
	s.log.Infof("sanitize", "session %s: %d spans, %d occurrences, %d tokens",
		sess.ID, len(spans), len(res.Occurrences), res.Map.Len())

	v := viewOf(sess)
	return &v, nil
}

// ErrInvalidSelection is returned by Segments for a selection that is
// reversed or does not fall on character boundaries of the text.
var ErrInvalidSelection = errors.New("selection is outside the text")

// OffsetFunc maps a caller offset to a byte offset in text, or to -1 when it
// does not land on a character boundary. Operations call it under the
// session lock with the text they are about to change. A nil OffsetFunc
// means offsets are bytes.
type OffsetFunc func(text string, off int) int

func (f OffsetFunc) bytes(text string, off int) int {
	if f == nil {
		return off
	}
	return f(text, off)
}

// ManualRequest is the input of ManualTokenize. Start and End locate the
// selection in the session's current text, in the units of Offsets.
type ManualRequest struct {
	Literal    string
	EntityType string
	Start      int
	End        int
	// WholeWord overrides the service default when set.
	WholeWord *bool
	Offsets   OffsetFunc
}

// ManualView is the outcome of ManualTokenize.
type ManualView struct {
	View
	Token      string
	Additional int
}

// ManualTokenize tokenizes a user selection and its other instances.
func (s *Service) ManualTokenize(ctx context.Context, id string, req ManualRequest) (*ManualView, error) {
	s.metrics.ManualCalls.Add(1)

	wholeWord := s.wholeWord
	if req.WholeWord != nil {
		wholeWord = *req.WholeWord
	}

	var res *redact.ManualResult
	var created []tokenmap.Entry
	sess, err := s.mutate(ctx, id, func(sess *session.Session) error {
		before := sess.Map.Len()
		var err error
		res, err = redact.ManualTokenize(sess.Text, sess.Map, sess.Occurrences, redact.ManualRequest{
			Literal:    req.Literal,
			EntityType: req.EntityType,
			Start:      req.Offsets.bytes(sess.Text, req.Start),
			End:        req.Offsets.bytes(sess.Text, req.End),
			WholeWord:  wholeWord,
		})
		if err != nil {
			return err
		}
		if sess.Map.Len() > before {
			created = sess.Map.Entries()[before:]
		}
		sess.Text, sess.Occurrences = res.Text, res.Occurrences
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.OccurrencesTokenized.Add(int64(res.Additional + 1))
	for _, e := range created {
		s.metrics.RecordTokenCreated(e.EntityType)
	}
	s.log.Infof("manual", "session %s: %s tokenized %d times", id, res.Token, res.Additional+1)
	s.log.Debugf("manual", "session %s: %s = %q", id, res.Token, req.Literal)

	return &ManualView{View: viewOf(sess), Token: res.Token, Additional: res.Additional}, nil
}

// RevertView is the outcome of Revert.
type RevertView struct {
	View
	Remaining   int
	Deactivated bool
}

// Revert restores one occurrence of token: the one starting at offset at,
// or the first one when at is negative.
func (s *Service) Revert(ctx context.Context, id, token string, at int, offsets OffsetFunc) (*RevertView, error) {
	s.metrics.RevertCalls.Add(1)

	var res *redact.RevertResult
	sess, err := s.mutate(ctx, id, func(sess *session.Session) error {
		b := at
		if at >= 0 {
			if b = offsets.bytes(sess.Text, at); b < 0 {
				return &redact.OccurrenceNotPresentError{Token: token, At: at}
			}
		}
		var err error
		res, err = redact.RevertAt(sess.Text, sess.Map, sess.Occurrences, token, b)
		if err != nil {
			return err
		}
		sess.Text, sess.Occurrences = res.Text, res.Occurrences
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.OccurrencesReverted.Add(1)
	s.log.Infof("revert", "session %s: reverted one %s, %d left", id, token, res.Remaining)

	return &RevertView{View: viewOf(sess), Remaining: res.Remaining, Deactivated: res.Deactivated}, nil
}

// UpdateTokens corrects the original values or labels of existing tokens.
func (s *Service) UpdateTokens(ctx context.Context, id string, updates []redact.EntryUpdate) (*View, error) {
	s.metrics.UpdateCalls.Add(1)

	sess, err := s.mutate(ctx, id, func(sess *session.Session) error {
		occs, err := redact.UpdateEntries(sess.Map, sess.Occurrences, updates)
		if err != nil {
			return err
		}
		sess.Occurrences = occs
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Infof("update", "session %s: %d tokens updated", id, len(updates))
	v := viewOf(sess)
	return &v, nil
}

// Detokenize restores every token of the session's map found in text.
// The session is not modified.
func (s *Service) Detokenize(ctx context.Context, id, text string) (string, redact.DetokenizeStats, error) {
	start := time.Now()
	s.metrics.DetokenizeCalls.Add(1)

	sess, err := s.load(ctx, id)
	if err != nil {
		return "", redact.DetokenizeStats{}, err
	}

	out, stats := redact.DetokenizeWithStats(text, sess.Map)
	s.metrics.TokensRestored.Add(int64(stats.Restored))
	s.metrics.UnknownPassthrough.Add(int64(stats.Unknown))
	s.metrics.RecordDetokenizeLatency(time.Since(start))
	s.log.Infof("detokenize", "session %s: %d restored, %d unknown", id, stats.Restored, stats.Unknown)
	return out, stats, nil
}

// Get returns the current state of a session.
func (s *Service) Get(ctx context.Context, id string) (*View, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	v := viewOf(sess)
	return &v, nil
}

// Entries returns the session's token map entries in creation order.
func (s *Service) Entries(ctx context.Context, id string) ([]tokenmap.Entry, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return sess.Map.Entries(), nil
}

// Segments partitions the session's current text for display. sel is in the
// units of offsets and may be nil. The returned view is the state the
// segments were computed from.
func (s *Service) Segments(ctx context.Context, id string, sel *partition.Selection, offsets OffsetFunc) ([]partition.Segment, *View, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if sel != nil {
		b := &partition.Selection{Start: offsets.bytes(sess.Text, sel.Start), End: offsets.bytes(sess.Text, sel.End)}
		if b.Start < 0 || b.End < 0 || b.Start > b.End || b.End > len(sess.Text) {
			return nil, nil, ErrInvalidSelection
		}
		sel = b
	}
	v := viewOf(sess)
	return partition.Split(sess.Text, sess.Occurrences, sel), &v, nil
}

// Delete removes a session.
func (s *Service) Delete(ctx context.Context, id string) error {
	unlock := s.locks.lock(id)
	defer unlock()

	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.metrics.SessionsDeleted.Add(1)
	s.log.Infof("delete", "session %s deleted", id)
	return nil
}

// RunSweeper removes expired sessions every interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	session.RunSweeper(ctx, s.store, interval, s.log, s.metrics)
}

func (s *Service) load(ctx context.Context, id string) (*session.Session, error) {
	sess, err := s.store.Get(ctx, id)
	if errors.Is(err, session.ErrExpired) {
		s.metrics.SessionsExpired.Add(1)
	}
	return sess, err
}

// mutate runs fn on a copy of the session under the session's lock and
// stores the copy if fn succeeds and ctx is still live.
func (s *Service) mutate(ctx context.Context, id string, fn func(*session.Session) error) (*session.Session, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(sess); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.store.Put(ctx, sess); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	return sess, nil
}
