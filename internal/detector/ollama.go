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

	"redactflow/internal/logger"
	"redactflow/internal/redact"
	"redactflow/internal/tokenmap"
)

var maxOllamaResponse int64 = 10 << 20 // 10 MB

// Ollama asks a local model for sensitive values that patterns cannot catch
// (names, organisations, places). The model returns the strings verbatim and
// every occurrence is located here, since small models get offsets wrong.
type Ollama struct {
	url       string
	model     string
	threshold float64
	http      *http.Client
	log       *logger.Logger
}

// NewOllama creates a client for the Ollama server at endpoint
// (e.g. "http://localhost:11434"). Detections below threshold are dropped.
func NewOllama(endpoint, model string, threshold float64, timeout time.Duration, log *logger.Logger) *Ollama {
	return &Ollama{
		url:       strings.TrimRight(endpoint, "/") + "/api/generate",
		model:     model,
		threshold: threshold,
		http:      &http.Client{Timeout: timeout},
		log:       log,
	}
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaResponse struct {
	Response string `json:"response"`
}

type ollamaDetection struct {
	Original   string  `json:"original"`
	EntityType string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

const ollamaPrompt = `Analyze the following text for PII (personally identifiable information).
Return ONLY a JSON array of detections. Each item must have:
- "original": the exact text found, copied verbatim
- "type": one of: PERSON, LOCATION, NRP, DATE_TIME, EMAIL_ADDRESS, PHONE_NUMBER, MEDICAL_LICENSE, US_SSN, CREDIT_CARD, IP_ADDRESS, URL
- "confidence": float 0.0-1.0

Never report placeholders of the form [TYPE_0].

Text to analyze:
%s

Return ONLY the JSON array, no explanation. Example: [{"original":"John Smith","type":"PERSON","confidence":0.95}]`

// Detect implements Detector.
func (o *Ollama) Detect(ctx context.Context, text string) ([]redact.Span, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	reqBody, err := json.Marshal(ollamaRequest{
		Model:  o.model,
		Prompt: fmt.Sprintf(ollamaPrompt, text),
		Stream: false,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.http.Do(req) // #nosec G704 -- URL from trusted config, not user input
	if err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close on HTTP response body

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxOllamaResponse+1))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama: unexpected status %d: %s", resp.StatusCode, snippet(body))
	}
	if int64(len(body)) > maxOllamaResponse {
		return nil, fmt.Errorf("ollama: response too large (over %d bytes)", maxOllamaResponse)
	}

	var ollamaResp ollamaResponse
	if err := json.Unmarshal(body, &ollamaResp); err != nil {
		return nil, fmt.Errorf("ollama response parse error: %w", err)
	}

	detections, err := parseDetections(ollamaResp.Response)
	if err != nil {
		return nil, err
	}

	var spans []redact.Span
	for _, d := range detections {
		if d.Confidence < o.threshold || strings.TrimSpace(d.Original) == "" {
			continue
		}
		if _, _, isToken := tokenmap.Parse(d.Original); isToken {
			continue
		}
		typ, ok := tokenmap.NormalizeEntityType(d.EntityType)
		if !ok {
			continue
		}
		found := locate(text, d.Original, typ, min(d.Confidence, 1))
		if len(found) == 0 {
			o.log.Debugf("ollama_locate", "model returned %s value not present in text", typ)
		}
		spans = append(spans, found...)
	}
	return spans, nil
}

// parseDetections extracts the JSON array from the model's text response,
// which may be wrapped in prose or a code fence.
func parseDetections(raw string) ([]ollamaDetection, error) {
	raw = strings.TrimSpace(raw)
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("no JSON array in ollama response")
	}

	var detections []ollamaDetection
	if err := json.Unmarshal([]byte(raw[start:end+1]), &detections); err != nil {
		return nil, fmt.Errorf("detection parse error: %w", err)
	}
	return detections, nil
}
