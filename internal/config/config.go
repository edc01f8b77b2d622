// Package config loads and holds all service configuration.
//
// Settings are layered: built-in defaults, then the YAML config file (JSON
// is valid YAML, so JSON files work too), then environment variables. A .env
// file in the working directory is loaded into the environment first when
// present; variables already set in the process win over it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hay-kot/criterio"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"redactflow/internal/logger"
	"redactflow/internal/tokenmap"
)

// DefaultPath is the config file read when no path is given.
const DefaultPath = "redactflow.yaml"

// Offset units accepted by the API.
const (
	OffsetUTF16 = "utf16"
	OffsetByte  = "byte"
)

// Detector names.
const (
	DetectorRegex    = "regex"
	DetectorPresidio = "presidio"
	DetectorOllama   = "ollama"
)

// Config holds the full service configuration.
type Config struct {
	BindAddress string `yaml:"bindAddress"`
	Port        int    `yaml:"port"`
	APIToken    string `yaml:"apiToken"`

	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`

	OffsetUnit      string        `yaml:"offsetUnit"`
	SessionTTL      time.Duration `yaml:"sessionTTL"`
	SweepInterval   time.Duration `yaml:"sweepInterval"`
	StorePath       string        `yaml:"storePath"`
	MaxBodyBytes    int64         `yaml:"maxBodyBytes"`
	WholeWordManual bool          `yaml:"wholeWordManual"`

	Detectors   []string `yaml:"detectors"`
	EntityTypes []string `yaml:"entityTypes"`

	Presidio       PresidioConfig       `yaml:"presidio"`
	Ollama         OllamaConfig         `yaml:"ollama"`
	DetectionCache DetectionCacheConfig `yaml:"detectionCache"`
}

// PresidioConfig points at a Presidio analyzer service.
type PresidioConfig struct {
	URL      string        `yaml:"url"`
	Language string        `yaml:"language"`
	Timeout  time.Duration `yaml:"timeout"`
}

// OllamaConfig points at a local Ollama model used for contextual detection.
type OllamaConfig struct {
	Endpoint  string        `yaml:"endpoint"`
	Model     string        `yaml:"model"`
	Threshold float64       `yaml:"threshold"`
	Timeout   time.Duration `yaml:"timeout"`
}

// DetectionCacheConfig sizes the detection result cache. Capacity 0 disables
// it; an empty Path keeps it in memory.
type DetectionCacheConfig struct {
	Capacity int    `yaml:"capacity"`
	Path     string `yaml:"path"`
}

// DefaultEntityTypes is the detector taxonomy enabled out of the box.
var DefaultEntityTypes = []string{
	"PERSON", "EMAIL_ADDRESS", "PHONE_NUMBER", "DATE_TIME", "LOCATION",
	"CREDIT_CARD", "US_SSN", "US_BANK_ACCOUNT_NUMBER", "IP_ADDRESS", "URL",
	"IBAN", "CRYPTO", "NRP", "MEDICAL_LICENSE", "US_DRIVER_LICENSE",
	"US_PASSPORT", "UK_NHS", "UK_NATIONAL_INSURANCE_NUMBER", "US_ITIN",
}

// Load returns config with defaults overridden by the file at path and by
// environment variables, validated. An empty path means DefaultPath; a
// missing file is not an error, an unreadable or malformed one is.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // .env is optional

	if path == "" {
		path = DefaultPath
	}
	cfg := defaults()
	if err := loadFile(cfg, path); err != nil {
		return nil, err
	}
	if err := loadEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Addr is the listen address of the API server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.Port)
}

func defaults() *Config {
	return &Config{
		BindAddress:   "127.0.0.1",
		Port:          8000,
		LogLevel:      "info",
		LogFormat:     "console",
		OffsetUnit:    OffsetUTF16,
		SessionTTL:    time.Hour,
		SweepInterval: 5 * time.Minute,
		MaxBodyBytes:  10 << 20,
		Detectors:     []string{DetectorRegex},
		EntityTypes:   append([]string(nil), DefaultEntityTypes...),
		Presidio: PresidioConfig{
			URL:      "http://localhost:5002",
			Language: "en",
			Timeout:  10 * time.Second,
		},
		Ollama: OllamaConfig{
			Endpoint:  "http://localhost:11434",
			Model:     "qwen2.5:3b",
			Threshold: 0.7,
			Timeout:   30 * time.Second,
		},
		DetectionCache: DetectionCacheConfig{Capacity: 1000},
	}
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil // file is optional
	}
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// loadEnv applies REDACT_* variables. Malformed numbers and durations are
// reported rather than ignored.
func loadEnv(cfg *Config) error {
	var errs criterio.FieldErrorsBuilder

	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = splitList(v)
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = errs.Append(key, err)
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = errs.Append(key, err)
				return
			}
			*dst = d
		}
	}

	str("REDACT_BIND_ADDRESS", &cfg.BindAddress)
	integer("REDACT_PORT", &cfg.Port)
	str("REDACT_API_TOKEN", &cfg.APIToken)
	str("REDACT_LOG_LEVEL", &cfg.LogLevel)
	str("REDACT_LOG_FORMAT", &cfg.LogFormat)
	str("REDACT_OFFSET_UNIT", &cfg.OffsetUnit)
	duration("REDACT_SESSION_TTL", &cfg.SessionTTL)
	duration("REDACT_SWEEP_INTERVAL", &cfg.SweepInterval)
	str("REDACT_STORE_PATH", &cfg.StorePath)
	if v := os.Getenv("REDACT_MAX_BODY_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = errs.Append("REDACT_MAX_BODY_BYTES", err)
		} else {
			cfg.MaxBodyBytes = n
		}
	}
	if v := os.Getenv("REDACT_WHOLE_WORD_MANUAL"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = errs.Append("REDACT_WHOLE_WORD_MANUAL", err)
		} else {
			cfg.WholeWordManual = b
		}
	}
	list("REDACT_DETECTORS", &cfg.Detectors)
	list("REDACT_ENTITY_TYPES", &cfg.EntityTypes)

	str("REDACT_PRESIDIO_URL", &cfg.Presidio.URL)
	str("REDACT_PRESIDIO_LANGUAGE", &cfg.Presidio.Language)
	duration("REDACT_PRESIDIO_TIMEOUT", &cfg.Presidio.Timeout)

	str("REDACT_OLLAMA_ENDPOINT", &cfg.Ollama.Endpoint)
	str("REDACT_OLLAMA_MODEL", &cfg.Ollama.Model)
	if v := os.Getenv("REDACT_OLLAMA_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = errs.Append("REDACT_OLLAMA_THRESHOLD", err)
		} else {
			cfg.Ollama.Threshold = f
		}
	}
	duration("REDACT_OLLAMA_TIMEOUT", &cfg.Ollama.Timeout)

	integer("REDACT_DETECTION_CACHE_CAPACITY", &cfg.DetectionCache.Capacity)
	str("REDACT_DETECTION_CACHE_PATH", &cfg.DetectionCache.Path)

	return errs.ToError()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the structural soundness of the configuration and reports
// every problem as a criterio field error.
func (c *Config) Validate() error {
	var errs criterio.FieldErrorsBuilder

	if c.Port < 1 || c.Port > 65535 {
		errs = errs.Append("port", fmt.Errorf("must be in 1..65535, got %d", c.Port))
	}
	if c.SessionTTL <= 0 {
		errs = errs.Append("sessionTTL", errors.New("must be positive"))
	}
	if c.SweepInterval <= 0 {
		errs = errs.Append("sweepInterval", errors.New("must be positive"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = errs.Append("maxBodyBytes", errors.New("must be positive"))
	}
	if c.Ollama.Threshold < 0 || c.Ollama.Threshold > 1 {
		errs = errs.Append("ollama.threshold", fmt.Errorf("must be in [0,1], got %v", c.Ollama.Threshold))
	}
	if c.DetectionCache.Capacity < 0 {
		errs = errs.Append("detectionCache.capacity", errors.New("must not be negative"))
	}
	if len(c.Detectors) == 0 {
		errs = errs.Append("detectors", errors.New("at least one detector is required"))
	}
	for i, d := range c.Detectors {
		switch d {
		case DetectorRegex, DetectorPresidio, DetectorOllama:
		default:
			errs = errs.Append(fmt.Sprintf("detectors[%d]", i), fmt.Errorf("unknown detector %q", d))
		}
	}
	if len(c.EntityTypes) == 0 {
		errs = errs.Append("entityTypes", errors.New("must not be empty"))
	}
	for i, t := range c.EntityTypes {
		if norm, ok := tokenmap.NormalizeEntityType(t); !ok || norm != t {
			errs = errs.Append(fmt.Sprintf("entityTypes[%d]", i), fmt.Errorf("%q is not an UPPER_SNAKE entity type", t))
		}
	}

	return criterio.ValidateStruct(
		errs.ToError(),
		criterio.Run("logLevel", c.LogLevel, validLogLevel),
		criterio.Run("logFormat", c.LogFormat, oneOf("console", "json")),
		criterio.Run("offsetUnit", c.OffsetUnit, oneOf(OffsetUTF16, OffsetByte)),
		criterio.Run("bindAddress", c.BindAddress, notBlank),
	)
}

func validLogLevel(s string) error {
	if !logger.ValidLevel(s) {
		return fmt.Errorf("unknown level %q", s)
	}
	return nil
}

func oneOf(allowed ...string) func(string) error {
	return func(s string) error {
		for _, a := range allowed {
			if s == a {
				return nil
			}
		}
		return fmt.Errorf("%q is not one of %s", s, strings.Join(allowed, ", "))
	}
}

func notBlank(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("must not be empty")
	}
	return nil
}
