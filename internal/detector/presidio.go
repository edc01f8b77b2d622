package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"redactflow/internal/logger"
	"redactflow/internal/redact"
)

const maxAnalyzerResponse = 10 << 20 // 10 MB

// Presidio calls the /analyze endpoint of a Presidio analyzer service.
type Presidio struct {
	url      string
	language string
	entities []string
	http     *http.Client
	log      *logger.Logger
}

// NewPresidio creates a client for the analyzer at baseURL
// (e.g. "http://localhost:5002"). entities limits what the analyzer looks
// for; nil asks for everything it supports.
func NewPresidio(baseURL, language string, entities []string, timeout time.Duration, log *logger.Logger) *Presidio {
	return &Presidio{
		url:      strings.TrimRight(baseURL, "/") + "/analyze",
		language: language,
		entities: entities,
		http:     &http.Client{Timeout: timeout},
		log:      log,
	}
}

type analyzeRequest struct {
	Text     string   `json:"text"`
	Language string   `json:"language"`
	Entities []string `json:"entities,omitempty"`
}

type analyzeResult struct {
	EntityType string  `json:"entity_type"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Score      float64 `json:"score"`
}

// Detect implements Detector. The analyzer reports offsets in code points;
// they are converted to byte offsets here. Results that do not fit the text
// are dropped.
func (p *Presidio) Detect(ctx context.Context, text string) ([]redact.Span, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	body, err := json.Marshal(analyzeRequest{Text: text, Language: p.language, Entities: p.entities})
	if err != nil {
		return nil, fmt.Errorf("presidio: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("presidio: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req) // #nosec G704 -- URL from trusted config, not user input
	if err != nil {
		return nil, fmt.Errorf("presidio: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close on HTTP response body

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxAnalyzerResponse))
	if err != nil {
		return nil, fmt.Errorf("presidio: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("presidio: unexpected status %d: %s", resp.StatusCode, snippet(raw))
	}

	var results []analyzeResult
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, fmt.Errorf("presidio: decode: %w", err)
	}

	offsets := runeOffsets(text)
	spans := make([]redact.Span, 0, len(results))
	for _, r := range results {
		if r.Start < 0 || r.End > len(offsets)-1 || r.Start >= r.End {
			p.log.Warnf("presidio_result", "dropping %s [%d,%d): outside text of %d code points", r.EntityType, r.Start, r.End, len(offsets)-1)
			continue
		}
		spans = append(spans, redact.Span{
			Start:      offsets[r.Start],
			End:        offsets[r.End],
			EntityType: r.EntityType,
			Score:      r.Score,
		})
	}
	return spans, nil
}

// runeOffsets maps code point index i to its byte offset; the extra last
// element is len(text).
func runeOffsets(text string) []int {
	out := make([]int, 0, utf8.RuneCountInString(text)+1)
	for i := range text {
		out = append(out, i)
	}
	return append(out, len(text))
}

func snippet(b []byte) string {
	const limit = 200
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
