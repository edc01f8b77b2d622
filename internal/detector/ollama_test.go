package detector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redactflow/internal/logger"
)

func ollamaServer(t *testing.T, status int, modelOutput string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)

		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.False(t, req.Stream)

		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(ollamaResponse{Response: modelOutput})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOllama_LocatesEveryOccurrence(t *testing.T) {
	text := "John Smith met John Smith at Acme."
	srv := ollamaServer(t, http.StatusOK, "Here you go:\n```json\n"+
		`[{"original":"John Smith","type":"person","confidence":0.9},`+
		`{"original":"Acme","type":"ORG","confidence":0.3},`+
		`{"original":"[PERSON_0]","type":"PERSON","confidence":0.99},`+
		`{"original":"Nobody","type":"PERSON","confidence":0.95}]`+"\n```")

	o := NewOllama(srv.URL, "test-model", 0.7, time.Second, logger.Nop())
	spans, err := o.Detect(context.Background(), text)
	require.NoError(t, err)

	require.Len(t, spans, 2)
	for _, sp := range spans {
		assert.Equal(t, "PERSON", sp.EntityType)
		assert.Equal(t, "John Smith", text[sp.Start:sp.End])
		assert.Equal(t, 0.9, sp.Score)
	}
	assert.Equal(t, 15, spans[1].Start)
}

func TestOllama_ClampsConfidence(t *testing.T) {
	srv := ollamaServer(t, http.StatusOK, `[{"original":"Bob","type":"PERSON","confidence":7}]`)

	spans, err := NewOllama(srv.URL, "test-model", 0.5, time.Second, logger.Nop()).Detect(context.Background(), "Bob")
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, 1.0, spans[0].Score)
}

func TestOllama_Errors(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		srv := ollamaServer(t, http.StatusServiceUnavailable, "")
		_, err := NewOllama(srv.URL, "test-model", 0.5, time.Second, logger.Nop()).Detect(context.Background(), "Bob")
		assert.ErrorContains(t, err, "503")
	})
	t.Run("no array", func(t *testing.T) {
		srv := ollamaServer(t, http.StatusOK, "I cannot help with that.")
		_, err := NewOllama(srv.URL, "test-model", 0.5, time.Second, logger.Nop()).Detect(context.Background(), "Bob")
		assert.ErrorContains(t, err, "no JSON array")
	})
	t.Run("oversized body", func(t *testing.T) {
		prev := maxOllamaResponse
		maxOllamaResponse = 64
		t.Cleanup(func() { maxOllamaResponse = prev })

		srv := ollamaServer(t, http.StatusOK, `[{"original":"Bob","type":"PERSON","confidence":0.9}]`+strings.Repeat(" ", 128))
		_, err := NewOllama(srv.URL, "test-model", 0.5, time.Second, logger.Nop()).Detect(context.Background(), "Bob")
		assert.ErrorContains(t, err, "response too large")
	})
}

func TestParseDetections(t *testing.T) {
	got, err := parseDetections(`  [{"original":"x","type":"URL","confidence":0.5}]  `)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "URL", got[0].EntityType)

	_, err = parseDetections(`[not json]`)
	assert.Error(t, err)

	_, err = parseDetections(`] backwards [`)
	assert.Error(t, err)
}
