// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ashita-ai/novaport/internal/storage"
)

// Config holds all application configuration.
type Config struct {
	// Workspace storage.
	DataDirName      string // Directory created inside each workspace.
	DBDriver         storage.Dialect
	PostgresDSN      string // Required when DBDriver is postgres.
	DBMaxOpenConns   int
	ProvisionTimeout time.Duration // Zero means no bound.

	// Vector store settings.
	VectorBackend          string // "local" or "qdrant"
	QdrantURL              string
	QdrantAPIKey           string
	QdrantCollectionPrefix string

	// Embedding provider settings.
	EmbeddingProvider   string // "auto", "openai", "ollama", "hash", or "noop"
	OpenAIAPIKey        string
	EmbeddingModel      string
	EmbeddingDimensions int // Vector dimensions; must match the chosen model's output.
	OllamaURL           string
	OllamaModel         string

	// Vector index release on cleanup.
	ReleaseAttempts int
	ReleaseDelay    time.Duration
	ReleaseGCDelay  time.Duration

	// OTEL settings.
	OTELEndpoint string
	ServiceName  string
	OTELInsecure bool

	// Transport settings. Stdio is used when HTTPAddr is empty.
	HTTPAddr     string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
// Malformed values are reported rather than silently replaced by defaults.
func Load() (Config, error) {
	var l loader
	cfg := Config{
		DataDirName:            l.str("NOVAPORT_DATA_DIRNAME", ".novaport_data"),
		PostgresDSN:            l.str("NOVAPORT_POSTGRES_DSN", ""),
		DBMaxOpenConns:         l.int("NOVAPORT_DB_MAX_OPEN_CONNS", 4),
		ProvisionTimeout:       l.duration("NOVAPORT_PROVISION_TIMEOUT", 0),
		VectorBackend:          strings.ToLower(l.str("NOVAPORT_VECTOR_BACKEND", "local")),
		QdrantURL:              l.str("QDRANT_URL", ""),
		QdrantAPIKey:           l.str("QDRANT_API_KEY", ""),
		QdrantCollectionPrefix: l.str("NOVAPORT_QDRANT_COLLECTION_PREFIX", "novaport"),
		EmbeddingProvider:      strings.ToLower(l.str("NOVAPORT_EMBEDDING_PROVIDER", "auto")),
		OpenAIAPIKey:           l.str("OPENAI_API_KEY", ""),
		EmbeddingModel:         l.str("NOVAPORT_EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimensions:    l.int("NOVAPORT_EMBEDDING_DIMENSIONS", 384),
		OllamaURL:              l.str("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel:            l.str("OLLAMA_MODEL", "all-minilm"),
		ReleaseAttempts:        l.int("NOVAPORT_RELEASE_ATTEMPTS", 3),
		ReleaseDelay:           l.duration("NOVAPORT_RELEASE_DELAY", 2*time.Second),
		ReleaseGCDelay:         l.duration("NOVAPORT_RELEASE_GC_DELAY", 500*time.Millisecond),
		OTELEndpoint:           l.str("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:            l.str("OTEL_SERVICE_NAME", "novaport"),
		OTELInsecure:           l.bool("NOVAPORT_OTEL_INSECURE", false),
		HTTPAddr:               l.str("NOVAPORT_HTTP_ADDR", ""),
		ReadTimeout:            l.duration("NOVAPORT_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:           l.duration("NOVAPORT_WRITE_TIMEOUT", 0),
		LogLevel:               strings.ToLower(l.str("NOVAPORT_LOG_LEVEL", "info")),
	}

	driver, err := storage.ParseDialect(l.str("NOVAPORT_DB_DRIVER", string(storage.DialectSQLite)))
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("config: NOVAPORT_DB_DRIVER: %w", err))
	}
	cfg.DBDriver = driver

	if err := errors.Join(l.errs...); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and consistent.
func (c Config) Validate() error {
	var errs []error
	if c.DataDirName == "" || strings.ContainsAny(c.DataDirName, `/\`) {
		errs = append(errs, fmt.Errorf("config: NOVAPORT_DATA_DIRNAME must be a single directory name"))
	}
	if c.DBDriver == storage.DialectPostgres && c.PostgresDSN == "" {
		errs = append(errs, fmt.Errorf("config: NOVAPORT_POSTGRES_DSN is required when NOVAPORT_DB_DRIVER is postgres"))
	}
	if c.DBMaxOpenConns <= 0 {
		errs = append(errs, fmt.Errorf("config: NOVAPORT_DB_MAX_OPEN_CONNS must be positive"))
	}
	if c.ProvisionTimeout < 0 {
		errs = append(errs, fmt.Errorf("config: NOVAPORT_PROVISION_TIMEOUT must not be negative"))
	}
	switch c.VectorBackend {
	case "local":
	case "qdrant":
		if c.QdrantURL == "" {
			errs = append(errs, fmt.Errorf("config: QDRANT_URL is required when NOVAPORT_VECTOR_BACKEND is qdrant"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: NOVAPORT_VECTOR_BACKEND must be local or qdrant, got %q", c.VectorBackend))
	}
	switch c.EmbeddingProvider {
	case "auto", "ollama", "hash", "noop":
	case "openai":
		if c.OpenAIAPIKey == "" {
			errs = append(errs, fmt.Errorf("config: OPENAI_API_KEY is required when NOVAPORT_EMBEDDING_PROVIDER is openai"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown NOVAPORT_EMBEDDING_PROVIDER %q", c.EmbeddingProvider))
	}
	if c.EmbeddingDimensions <= 0 {
		errs = append(errs, fmt.Errorf("config: NOVAPORT_EMBEDDING_DIMENSIONS must be positive"))
	}
	if c.ReleaseAttempts <= 0 {
		errs = append(errs, fmt.Errorf("config: NOVAPORT_RELEASE_ATTEMPTS must be positive"))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SlogLevel returns the configured log level.
func (c Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("config: NOVAPORT_LOG_LEVEL: %w", err)
	}
	return level, nil
}

// loader collects parse errors so Load can report every bad variable at once.
type loader struct {
	errs []error
}

func (l *loader) str(key, defaultVal string) string {
	return envStr(key, defaultVal)
}

func (l *loader) int(key string, defaultVal int) int {
	v, err := envInt(key, defaultVal)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("config: %w", err))
	}
	return v
}

func (l *loader) bool(key string, defaultVal bool) bool {
	v, err := envBool(key, defaultVal)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("config: %w", err))
	}
	return v
}

func (l *loader) duration(key string, defaultVal time.Duration) time.Duration {
	v, err := envDuration(key, defaultVal)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("config: %w", err))
	}
	return v
}

func envStr(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
