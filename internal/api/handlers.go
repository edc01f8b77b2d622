package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"redactflow/internal/partition"
	"redactflow/internal/redact"
	"redactflow/internal/service"
	"redactflow/internal/tokenmap"
)

type sanitizeRequest struct {
	Text     string        `json:"text"`
	Entities []string      `json:"entities,omitempty"`
	Spans    []redact.Span `json:"spans,omitempty"`
}

// sessionResponse is shared by every operation that changes a token map.
type sessionResponse struct {
	SanitizedText    string                `json:"sanitized_text"`
	TokenMapID       string                `json:"token_map_id"`
	Tokens           []tokenmap.Occurrence `json:"tokens"`
	ExpiresAt        time.Time             `json:"expires_at"`
	ProcessingTimeMs float64               `json:"processing_time_ms"`
}

func (s *Server) sessionResponse(v *service.View, start time.Time) sessionResponse {
	ix := newOffsetIndex(v.Text, s.cfg.OffsetUnit)
	return sessionResponse{
		SanitizedText:    v.Text,
		TokenMapID:       v.SessionID,
		Tokens:           ix.occurrences(v.Occurrences),
		ExpiresAt:        v.ExpiresAt,
		ProcessingTimeMs: elapsedMs(start),
	}
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

func (s *Server) handleSanitize(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req sanitizeRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if req.Spans != nil {
		ix := newOffsetIndex(req.Text, s.cfg.OffsetUnit)
		for i := range req.Spans {
			req.Spans[i].Start = ix.bytes(req.Spans[i].Start)
			req.Spans[i].End = ix.bytes(req.Spans[i].End)
		}
	}

	v, err := s.svc.Sanitize(r.Context(), service.SanitizeRequest{Text: req.Text, Entities: req.Entities, Spans: req.Spans})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.sessionResponse(v, start))
}

type detokenizeRequest struct {
	TokenMapID string `json:"token_map_id"`
	Text       string `json:"text"`
}

type detokenizeResponse struct {
	DetokenizedText  string  `json:"detokenized_text"`
	Restored         int     `json:"restored"`
	Unknown          int     `json:"unknown"`
	ProcessingTimeMs float64 `json:"processing_time_ms"`
}

func (s *Server) handleDetokenize(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req detokenizeRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.TokenMapID == "" {
		s.writeError(w, r, badRequest("token_map_id is required"))
		return
	}

	out, stats, err := s.svc.Detokenize(r.Context(), req.TokenMapID, req.Text)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, detokenizeResponse{
		DetokenizedText:  out,
		Restored:         stats.Restored,
		Unknown:          stats.Unknown,
		ProcessingTimeMs: elapsedMs(start),
	})
}

type manualRequest struct {
	TokenMapID     string `json:"token_map_id"`
	TextToTokenize string `json:"text_to_tokenize"`
	EntityType     string `json:"entity_type"`
	Start          int    `json:"start"`
	End            int    `json:"end"`
	WholeWord      *bool  `json:"whole_word,omitempty"`
}

type manualResponse struct {
	sessionResponse
	Token                 string `json:"token"`
	AdditionalOccurrences int    `json:"additional_occurrences"`
}

func (s *Server) handleManual(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req manualRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.TokenMapID == "" {
		s.writeError(w, r, badRequest("token_map_id is required"))
		return
	}

	v, err := s.svc.ManualTokenize(r.Context(), req.TokenMapID, service.ManualRequest{
		Literal:    req.TextToTokenize,
		EntityType: req.EntityType,
		Start:      req.Start,
		End:        req.End,
		WholeWord:  req.WholeWord,
		Offsets:    s.offsets(),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, manualResponse{
		sessionResponse:       s.sessionResponse(&v.View, start),
		Token:                 v.Token,
		AdditionalOccurrences: v.Additional,
	})
}

type revertRequest struct {
	TokenMapID string `json:"token_map_id"`
	Token      string `json:"token"`
	Start      *int   `json:"start,omitempty"`
}

type revertResponse struct {
	sessionResponse
	Remaining   int  `json:"remaining"`
	Deactivated bool `json:"deactivated"`
}

func (s *Server) handleRevert(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req revertRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.TokenMapID == "" || req.Token == "" {
		s.writeError(w, r, badRequest("token_map_id and token are required"))
		return
	}

	at := -1
	if req.Start != nil {
		if at = *req.Start; at < 0 {
			s.writeError(w, r, &redact.OccurrenceNotPresentError{Token: req.Token, At: at})
			return
		}
	}

	v, err := s.svc.Revert(r.Context(), req.TokenMapID, req.Token, at, s.offsets())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, revertResponse{
		sessionResponse: s.sessionResponse(&v.View, start),
		Remaining:       v.Remaining,
		Deactivated:     v.Deactivated,
	})
}

type updateRequest struct {
	TokenMapID string               `json:"token_map_id"`
	Updates    []redact.EntryUpdate `json:"updates"`
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req updateRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.TokenMapID == "" || len(req.Updates) == 0 {
		s.writeError(w, r, badRequest("token_map_id and at least one update are required"))
		return
	}

	v, err := s.svc.UpdateTokens(r.Context(), req.TokenMapID, req.Updates)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.sessionResponse(v, start))
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	entries, err := s.svc.Entries(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"token_map_id": id, "entries": entries})
}

type segmentJSON struct {
	Text        string               `json:"text"`
	Start       int                  `json:"start"`
	End         int                  `json:"end"`
	IsToken     bool                 `json:"is_token"`
	IsSelection bool                 `json:"is_selection"`
	TokenInfo   *tokenmap.Occurrence `json:"token_info,omitempty"`
}

func (s *Server) handleSegments(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sel, err := selectionParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	segs, cur, err := s.svc.Segments(r.Context(), id, sel, s.offsets())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ix := newOffsetIndex(cur.Text, s.cfg.OffsetUnit)
	out := make([]segmentJSON, len(segs))
	for i, seg := range segs {
		out[i] = segmentJSON{
			Text:        seg.Text,
			Start:       ix.units(seg.Start),
			End:         ix.units(seg.End),
			IsToken:     seg.IsToken,
			IsSelection: seg.IsSelection,
		}
		if seg.TokenInfo != nil {
			info := ix.occurrences([]tokenmap.Occurrence{*seg.TokenInfo})[0]
			out[i].TokenInfo = &info
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"token_map_id": id, "segments": out})
}

// selectionParam reads the optional ?start=&end= selection in API units.
// Both or neither must be given.
func selectionParam(r *http.Request) (*partition.Selection, error) {
	q := r.URL.Query()
	rawStart, rawEnd := strings.TrimSpace(q.Get("start")), strings.TrimSpace(q.Get("end"))
	if rawStart == "" && rawEnd == "" {
		return nil, nil
	}
	start, err1 := strconv.Atoi(rawStart)
	end, err2 := strconv.Atoi(rawEnd)
	if err1 != nil || err2 != nil {
		return nil, badRequest("start and end must both be integers")
	}
	return &partition.Selection{Start: start, End: end}, nil
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.svc.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}
