// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override, KBENGINE_ prefix)
//  2. Config file (~/.kbengine/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - Embedding: default backend, per-project backend bindings, model names
//   - Storage: PostgreSQL connection (see storage.go)
//   - Chunking: default chunk size/overlap and semantic percentile
//   - Retrieval: HyDE model, reranker endpoint
//
// Security: passwords and API keys are never logged.
// Validation: range checks with sentinel errors for errors.Is() checking.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidBackend indicates an unknown embedding backend identifier.
	ErrInvalidBackend = errors.New("invalid embedding backend")

	// ErrInvalidChunkSize indicates the chunk size is out of range.
	ErrInvalidChunkSize = errors.New("invalid chunk size")

	// ErrInvalidChunkOverlap indicates the overlap is negative or >= size.
	ErrInvalidChunkOverlap = errors.New("invalid chunk overlap")

	// ErrInvalidPercentile indicates the semantic breakpoint percentile is
	// outside (0, 100).
	ErrInvalidPercentile = errors.New("invalid breakpoint percentile")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")
)

// Embedding backend identifiers used in Config.DefaultBackend and bindings.
const (
	BackendGemini = "gemini"
	BackendOllama = "ollama"
	BackendTEI    = "tei"
)

const (
	// DefaultGeminiEmbedderModel outputs 3072 dimensions by default but
	// supports truncation to 768 via OutputDimensionality; the chunks table
	// schema uses 768 dimensions.
	DefaultGeminiEmbedderModel = "gemini-embedding-001"

	// DefaultOllamaEmbedderModel is the local zero-credential embedder.
	DefaultOllamaEmbedderModel = "nomic-embed-text"

	// DefaultChunkSize is the default fixed-strategy window in runes.
	DefaultChunkSize = 1000

	// DefaultChunkOverlap is the default fixed-strategy overlap in runes.
	DefaultChunkOverlap = 200

	// DefaultBreakpointPercentile is the default semantic-strategy
	// distance percentile.
	DefaultBreakpointPercentile = 90.0
)

// Config stores application configuration.
// Sensitive fields (PostgresPassword) must never be logged.
type Config struct {
	// Embedding configuration
	DefaultBackend      string `mapstructure:"default_backend"`
	GeminiEmbedderModel string `mapstructure:"gemini_embedder_model"`
	OllamaHost          string `mapstructure:"ollama_host"`
	OllamaEmbedderModel string `mapstructure:"ollama_embedder_model"`
	TEIBaseURL          string `mapstructure:"tei_base_url"`
	TEIModel            string `mapstructure:"tei_model"`
	TEIAPIKey           string `mapstructure:"tei_api_key"`
	// ProjectBackends pins an embedding backend per project scope.
	// All chunks for a bound project must be embedded with this backend,
	// otherwise similarity comparisons across backends are meaningless.
	ProjectBackends map[string]string `mapstructure:"project_backends"`

	// Generation model used for HyDE query expansion
	HyDEModel string `mapstructure:"hyde_model"`

	// Reranker configuration
	RerankerURL     string `mapstructure:"reranker_url"`
	RerankerTimeout int    `mapstructure:"reranker_timeout_seconds"`

	// Chunking defaults
	ChunkSize            int     `mapstructure:"chunk_size"`
	ChunkOverlap         int     `mapstructure:"chunk_overlap"`
	BreakpointPercentile float64 `mapstructure:"breakpoint_percentile"`

	// Storage configuration (see storage.go for DSN helpers)
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"` // SENSITIVE
	PostgresDBName   string `mapstructure:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// HTTP server
	ListenAddr string `mapstructure:"listen_addr"`
}

// Load reads configuration from file and environment.
// Missing config file is not an error; defaults and env apply.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	home, err := os.UserHomeDir()
	if err == nil {
		v.AddConfigPath(filepath.Join(home, ".kbengine"))
	}
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("KBENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("default_backend", BackendOllama)
	v.SetDefault("gemini_embedder_model", DefaultGeminiEmbedderModel)
	v.SetDefault("ollama_host", "http://localhost:11434")
	v.SetDefault("ollama_embedder_model", DefaultOllamaEmbedderModel)
	v.SetDefault("hyde_model", "gemini-2.5-flash")
	v.SetDefault("reranker_timeout_seconds", 10)

	v.SetDefault("chunk_size", DefaultChunkSize)
	v.SetDefault("chunk_overlap", DefaultChunkOverlap)
	v.SetDefault("breakpoint_percentile", DefaultBreakpointPercentile)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "kbengine")
	v.SetDefault("postgres_db_name", "kbengine")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("listen_addr", "127.0.0.1:3500")
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	switch c.DefaultBackend {
	case BackendGemini, BackendOllama, BackendTEI:
	default:
		return fmt.Errorf("%w: %q (expected gemini, ollama or tei)", ErrInvalidBackend, c.DefaultBackend)
	}
	for project, backend := range c.ProjectBackends {
		switch backend {
		case BackendGemini, BackendOllama, BackendTEI:
		default:
			return fmt.Errorf("%w: project %s bound to unknown backend %q", ErrInvalidBackend, project, backend)
		}
	}

	if c.ChunkSize < 1 || c.ChunkSize > 100_000 {
		return fmt.Errorf("%w: %d (must be 1-100000)", ErrInvalidChunkSize, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: %d (must be 0 <= overlap < chunk_size)", ErrInvalidChunkOverlap, c.ChunkOverlap)
	}
	if c.BreakpointPercentile <= 0 || c.BreakpointPercentile >= 100 {
		return fmt.Errorf("%w: %.1f (must be in (0, 100))", ErrInvalidPercentile, c.BreakpointPercentile)
	}

	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: host is empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidPostgresDBName)
	}
	switch c.PostgresSSLMode {
	case "disable", "allow", "prefer", "require", "verify-ca", "verify-full":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}

	return nil
}

// BackendForProject returns the embedding backend bound to the given project
// scope, falling back to the process-wide default when the project carries no
// binding or is empty.
func (c *Config) BackendForProject(projectID string) string {
	if projectID != "" {
		if backend, ok := c.ProjectBackends[projectID]; ok {
			return backend
		}
	}
	return c.DefaultBackend
}
