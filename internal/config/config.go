package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the bookrec server configuration.
type Config struct {
	HTTP        HTTPConfig        `yaml:"http"`
	Auth        AuthConfig        `yaml:"auth"`
	Logging     LoggingConfig     `yaml:"logging"`
	Models      ModelsConfig      `yaml:"models"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Cache       CacheConfig       `yaml:"cache"`
	Keyphrase   KeyphraseConfig   `yaml:"keyphrase"`
	Recommender RecommenderConfig `yaml:"recommender"`
	Corpus      CorpusConfig      `yaml:"corpus"`
	NATS        NATSConfig        `yaml:"nats"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeoutSec  int      `yaml:"read_timeout_sec"`
	WriteTimeoutSec int      `yaml:"write_timeout_sec"`
	ShutdownSec     int      `yaml:"shutdown_timeout_sec"`
	RateLimit       int      `yaml:"rate_limit_per_minute"` // mutations per client IP, 0 = unlimited
	Legacy          bool     `yaml:"legacy_routes"`
	CORSOrigins     []string `yaml:"cors_origins"`
}

// ModelsConfig points at the pre-trained artifacts.
type ModelsConfig struct {
	TaggerPath     string `yaml:"tagger_path"`
	TaggerEvalPath string `yaml:"tagger_eval_path"` // optional gold corpus scored on startup
	EmbeddingPath  string `yaml:"embedding_path"`   // word vectors, used by the local provider
	UniversalTags  bool   `yaml:"universal_tags"`
}

// Embedding providers.
const (
	ProviderLocal  = "local"
	ProviderOpenAI = "openai"
)

// EmbeddingConfig selects and tunes the embedder.
type EmbeddingConfig struct {
	Provider string       `yaml:"provider"` // local (default) or openai
	OpenAI   OpenAIConfig `yaml:"openai"`
	Budget   BudgetConfig `yaml:"budget"`
}

// OpenAIConfig holds settings of an OpenAI-compatible embeddings endpoint.
type OpenAIConfig struct {
	APIKey     string        `yaml:"api_key"`
	BaseURL    string        `yaml:"base_url"`
	Model      string        `yaml:"model"`
	Dimensions int           `yaml:"dimensions"`
	Breaker    BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the provider circuit breaker.
type BreakerConfig struct {
	ConsecutiveFailures uint32 `yaml:"consecutive_failures"`
	TimeoutSec          int    `yaml:"timeout_sec"`
}

// BudgetConfig holds token budget settings.
type BudgetConfig struct {
	DailyTokenLimit   int64  `yaml:"daily_token_limit"`   // 0 = unlimited
	MonthlyTokenLimit int64  `yaml:"monthly_token_limit"` // 0 = unlimited
	Action            string `yaml:"action"`              // "reject" | "warn" (default)
}

// CacheConfig selects the embedding cache backend.
type CacheConfig struct {
	Driver           string   `yaml:"driver"` // none (default), valkey, redis
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	TTLHours         int      `yaml:"ttl_hours"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// KeyphraseConfig tunes extraction and ranking.
type KeyphraseConfig struct {
	Beta           float64 `yaml:"beta"`
	MaxPhraseWords int     `yaml:"max_phrase_words"`
}

// RecommenderConfig tunes the service.
type RecommenderConfig struct {
	BulkPolicy  string `yaml:"bulk_policy"` // strict (default) or skip
	Workers     int    `yaml:"workers"`
	DefaultTopN int    `yaml:"default_topn"`
}

// CorpusConfig names the optional source of books loaded on startup.
type CorpusConfig struct {
	Driver string `yaml:"driver"` // none (default) or sqlite
	Path   string `yaml:"path"`
	Query  string `yaml:"query"`
}

// NATSConfig holds the book event subscriber settings.
type NATSConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Queue         string `yaml:"queue"`
	UpsertSubject string `yaml:"upsert_subject"`
	DeleteSubject string `yaml:"delete_subject"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates raw YAML.
func Parse(data []byte) (Config, error) {
	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		// bulk init embeds every book inside one request
		c.HTTP.WriteTimeoutSec = 300
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = ProviderLocal
	}
	if c.Embedding.OpenAI.Model == "" {
		c.Embedding.OpenAI.Model = "text-embedding-3-small"
	}
	if c.Cache.Driver == "" {
		c.Cache.Driver = "none"
	}
	if c.Cache.ReadinessTimeout <= 0 {
		c.Cache.ReadinessTimeout = 10
	}
	if c.Keyphrase.Beta == 0 {
		c.Keyphrase.Beta = 0.8
	}
	if c.Keyphrase.MaxPhraseWords <= 0 {
		c.Keyphrase.MaxPhraseWords = 5
	}
	if c.Recommender.BulkPolicy == "" {
		c.Recommender.BulkPolicy = "strict"
	}
	if c.Recommender.Workers <= 0 {
		c.Recommender.Workers = 4
	}
	if c.Recommender.DefaultTopN <= 0 {
		c.Recommender.DefaultTopN = 5
	}
	if c.Corpus.Driver == "" {
		c.Corpus.Driver = "none"
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.HTTP.RateLimit < 0 {
		return fmt.Errorf("http.rate_limit_per_minute must not be negative, got %d", c.HTTP.RateLimit)
	}
	if c.Models.TaggerPath == "" {
		return errors.New("models.tagger_path is required")
	}

	switch c.Embedding.Provider {
	case ProviderLocal:
		if c.Models.EmbeddingPath == "" {
			return errors.New("models.embedding_path is required for the local embedding provider")
		}
	case ProviderOpenAI:
		if c.Embedding.OpenAI.APIKey == "" {
			return errors.New("embedding.openai.api_key is required for the openai embedding provider")
		}
	default:
		return fmt.Errorf("embedding.provider must be %q or %q, got %q",
			ProviderLocal, ProviderOpenAI, c.Embedding.Provider)
	}
	switch c.Embedding.Budget.Action {
	case "", "warn", "reject":
		// ok
	default:
		return fmt.Errorf(
			"embedding.budget.action must be \"warn\" or \"reject\", got %q",
			c.Embedding.Budget.Action,
		)
	}

	switch c.Cache.Driver {
	case "none":
	case "valkey", "redis":
		if len(c.Cache.Addrs) == 0 {
			return fmt.Errorf("cache.addrs is required for driver %q", c.Cache.Driver)
		}
	default:
		return fmt.Errorf("cache.driver must be none, valkey or redis, got %q", c.Cache.Driver)
	}

	if c.Keyphrase.Beta <= 0 || c.Keyphrase.Beta > 1 {
		return fmt.Errorf("keyphrase.beta must be in (0, 1], got %v", c.Keyphrase.Beta)
	}

	switch c.Recommender.BulkPolicy {
	case "strict", "skip":
	default:
		return fmt.Errorf("recommender.bulk_policy must be \"strict\" or \"skip\", got %q", c.Recommender.BulkPolicy)
	}

	switch c.Corpus.Driver {
	case "none":
	case "sqlite":
		if c.Corpus.Path == "" {
			return errors.New("corpus.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("corpus.driver must be none or sqlite, got %q", c.Corpus.Driver)
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return errors.New("nats.url is required when nats is enabled")
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
