package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hay-kot/criterio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()

	assert.Equal(t, "127.0.0.1", cfg.BindAddress)
	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, OffsetUTF16, cfg.OffsetUnit)
	assert.Equal(t, time.Hour, cfg.SessionTTL)
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval)
	assert.Equal(t, int64(10<<20), cfg.MaxBodyBytes)
	assert.Equal(t, []string{DetectorRegex}, cfg.Detectors)
	assert.Len(t, cfg.EntityTypes, 19)
	assert.Equal(t, "http://localhost:5002", cfg.Presidio.URL)
	assert.Equal(t, "qwen2.5:3b", cfg.Ollama.Model)
	assert.Equal(t, 0.7, cfg.Ollama.Threshold)
	assert.Equal(t, 1000, cfg.DetectionCache.Capacity)
	assert.Empty(t, cfg.APIToken)

	require.NoError(t, cfg.Validate())
}

func TestDefaults_EntityTypesNotShared(t *testing.T) {
	cfg := defaults()
	cfg.EntityTypes[0] = "CHANGED"
	assert.Equal(t, "PERSON", DefaultEntityTypes[0])
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.Port)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "redactflow.yaml")
	content := `
port: 9100
apiToken: s3cret
offsetUnit: byte
sessionTTL: 90m
detectors: [regex, presidio]
entityTypes: [PERSON, EMAIL_ADDRESS]
presidio:
  url: http://presidio:3000
  timeout: 2s
detectionCache:
  capacity: 0
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "s3cret", cfg.APIToken)
	assert.Equal(t, OffsetByte, cfg.OffsetUnit)
	assert.Equal(t, 90*time.Minute, cfg.SessionTTL)
	assert.Equal(t, []string{"regex", "presidio"}, cfg.Detectors)
	assert.Equal(t, []string{"PERSON", "EMAIL_ADDRESS"}, cfg.EntityTypes)
	assert.Equal(t, "http://presidio:3000", cfg.Presidio.URL)
	assert.Equal(t, 2*time.Second, cfg.Presidio.Timeout)
	assert.Equal(t, "en", cfg.Presidio.Language, "unset nested keys keep defaults")
	assert.Equal(t, 0, cfg.DetectionCache.Capacity)
	assert.Equal(t, "127.0.0.1:9100", cfg.Addr())
}

func TestLoad_JSONFileParses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"port": 8123, "logLevel": "debug"}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8123, cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: [not, a, number"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadEnv_OverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "redactflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9100\n"), 0o600))

	t.Setenv("REDACT_PORT", "9200")
	t.Setenv("REDACT_DETECTORS", "regex, ollama")
	t.Setenv("REDACT_SESSION_TTL", "15m")
	t.Setenv("REDACT_WHOLE_WORD_MANUAL", "true")
	t.Setenv("REDACT_OLLAMA_THRESHOLD", "0.4")
	t.Setenv("REDACT_DETECTION_CACHE_PATH", "/tmp/det.db")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.Port)
	assert.Equal(t, []string{"regex", "ollama"}, cfg.Detectors)
	assert.Equal(t, 15*time.Minute, cfg.SessionTTL)
	assert.True(t, cfg.WholeWordManual)
	assert.Equal(t, 0.4, cfg.Ollama.Threshold)
	assert.Equal(t, "/tmp/det.db", cfg.DetectionCache.Path)
}

func TestLoadEnv_MalformedValuesReported(t *testing.T) {
	t.Setenv("REDACT_PORT", "eighty")
	t.Setenv("REDACT_SWEEP_INTERVAL", "soon")

	cfg := defaults()
	err := loadEnv(cfg)

	var fieldErrs criterio.FieldErrors
	require.ErrorAs(t, err, &fieldErrs)
	assert.Len(t, fieldErrs, 2)
	assert.Equal(t, 8000, cfg.Port, "bad value must not be applied")
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b ,"))
	assert.Nil(t, splitList(" , "))
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"port too large", func(c *Config) { c.Port = 70000 }, "port"},
		{"zero ttl", func(c *Config) { c.SessionTTL = 0 }, "sessionTTL"},
		{"zero sweep", func(c *Config) { c.SweepInterval = 0 }, "sweepInterval"},
		{"body limit", func(c *Config) { c.MaxBodyBytes = 0 }, "maxBodyBytes"},
		{"threshold", func(c *Config) { c.Ollama.Threshold = 1.5 }, "ollama.threshold"},
		{"unknown detector", func(c *Config) { c.Detectors = []string{"regex", "spacy"} }, "detectors[1]"},
		{"no detectors", func(c *Config) { c.Detectors = nil }, "detectors"},
		{"lowercase entity", func(c *Config) { c.EntityTypes = []string{"person"} }, "entityTypes[0]"},
		{"log level", func(c *Config) { c.LogLevel = "verbose" }, "logLevel"},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, "logFormat"},
		{"offset unit", func(c *Config) { c.OffsetUnit = "rune" }, "offsetUnit"},
		{"bind address", func(c *Config) { c.BindAddress = " " }, "bindAddress"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaults()
			tc.mutate(cfg)

			var fieldErrs criterio.FieldErrors
			require.ErrorAs(t, cfg.Validate(), &fieldErrs)
			require.Len(t, fieldErrs, 1)
			assert.Equal(t, tc.field, fieldErrs[0].Field)
		})
	}
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := defaults()
	cfg.Port = 0
	cfg.OffsetUnit = "rune"

	var fieldErrs criterio.FieldErrors
	require.ErrorAs(t, cfg.Validate(), &fieldErrs)
	assert.Len(t, fieldErrs, 2)
}
