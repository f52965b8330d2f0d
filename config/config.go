package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"localdocs/internal/domain"
)

// Config holds all configuration for localdocs.
type Config struct {
	Docs      DocsConfig      `yaml:"docs" validate:"required"`
	Chunking  ChunkingConfig  `yaml:"chunking" validate:"required"`
	Embedding EmbeddingConfig `yaml:"embedding" validate:"required"`
	Cache     CacheConfig     `yaml:"cache"`
	Store     StoreConfig     `yaml:"store" validate:"required"`
	Search    SearchConfig    `yaml:"search" validate:"required"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// DocsConfig describes which files are indexed.
type DocsConfig struct {
	Dir        string   `yaml:"dir" validate:"required"`
	Extensions []string `yaml:"extensions" validate:"required,min=1,dive,startswith=."`
	IgnoreFile string   `yaml:"ignore_file"`
	Excludes   []string `yaml:"excludes"`
}

// ChunkingConfig holds token window settings.
type ChunkingConfig struct {
	Size     int    `yaml:"size" validate:"gt=0"`
	Overlap  int    `yaml:"overlap" validate:"gte=0,ltfield=Size"`
	Encoding string `yaml:"encoding" validate:"required"` // "words" or a tiktoken encoding
}

// EmbeddingConfig holds embedding configuration.
type EmbeddingConfig struct {
	Provider    string        `yaml:"provider" validate:"oneof=ollama openai mock"`
	Model       string        `yaml:"model" validate:"required"`
	BaseURL     string        `yaml:"base_url" validate:"omitempty,url"`
	APIKeyEnv   string        `yaml:"api_key_env"` // Environment variable for API key
	Dimension   int           `yaml:"dimension" validate:"gt=0"`
	Timeout     time.Duration `yaml:"timeout" validate:"gt=0"`
	BatchSize   int           `yaml:"batch_size" validate:"gt=0"`
	Concurrency int           `yaml:"concurrency" validate:"gt=0"`
}

// CacheConfig configures the query embedding cache.
type CacheConfig struct {
	Backend       string        `yaml:"backend" validate:"oneof=memory redis none"`
	MaxEntries    int           `yaml:"max_entries" validate:"gte=0"`
	TTL           time.Duration `yaml:"ttl" validate:"gte=0"`
	RedisAddr     string        `yaml:"redis_addr" validate:"required_if=Backend redis"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db" validate:"gte=0"`
	RedisPrefix   string        `yaml:"redis_prefix"`
}

// StoreConfig selects and configures the vector store backend.
type StoreConfig struct {
	Backend         string        `yaml:"backend" validate:"oneof=bolt memory qdrant milvus"`
	Collection      string        `yaml:"collection" validate:"required"`
	Path            string        `yaml:"path"` // bolt file, defaults to <docs>/.localdocs/index.db
	QdrantURL       string        `yaml:"qdrant_url" validate:"required_if=Backend qdrant,omitempty,url"`
	QdrantAPIKeyEnv string        `yaml:"qdrant_api_key_env"`
	MilvusAddress   string        `yaml:"milvus_address" validate:"required_if=Backend milvus"`
	Timeout         time.Duration `yaml:"timeout" validate:"gt=0"`
	SimilarityRange string        `yaml:"similarity_range" validate:"oneof=unit signed"`
	LockTimeout     time.Duration `yaml:"lock_timeout" validate:"gte=0"`
}

// SearchConfig holds ranking and request defaults.
type SearchConfig struct {
	DefaultLimit       int           `yaml:"default_limit" validate:"gte=1,ltefield=MaxLimit"`
	MaxLimit           int           `yaml:"max_limit" validate:"gte=1"`
	MinSimilarityScore float64       `yaml:"min_similarity_score" validate:"gte=0,lte=1"`
	SemanticWeight     float64       `yaml:"semantic_weight" validate:"gte=0,lte=1"`
	MMRLambda          float64       `yaml:"mmr_lambda" validate:"gte=0,lte=1"`
	PoolMultiplier     int           `yaml:"pool_multiplier" validate:"gte=1"`
	MinPool            int           `yaml:"min_pool" validate:"gte=1"`
	Timeout            time.Duration `yaml:"timeout" validate:"gt=0"`
	Retries            int           `yaml:"retries" validate:"gte=0,lte=10"`
	RetryBackoff       time.Duration `yaml:"retry_backoff" validate:"gte=0"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

// MetricsConfig controls the prometheus endpoint exposed by `serve`.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr" validate:"required_if=Enabled true"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Docs: DocsConfig{
			Dir:        ".",
			Extensions: []string{".md", ".rst", ".txt"},
			IgnoreFile: ".cocoignore",
			Excludes:   []string{"**/node_modules/**", "**/vendor/**", "**/.git/**", "**/.localdocs/**"},
		},
		Chunking: ChunkingConfig{
			Size:     1200,
			Overlap:  200,
			Encoding: "cl100k_base",
		},
		Embedding: EmbeddingConfig{
			Provider:    "ollama",
			Model:       "hf.co/Qwen/Qwen3-Embedding-0.6B-GGUF:F16",
			BaseURL:     "http://localhost:11434",
			APIKeyEnv:   "OPENAI_API_KEY",
			Dimension:   1024,
			Timeout:     5 * time.Second,
			BatchSize:   32,
			Concurrency: 4,
		},
		Cache: CacheConfig{
			Backend:     "memory",
			MaxEntries:  100,
			TTL:         time.Hour,
			RedisAddr:   "localhost:6379",
			RedisPrefix: "localdocs:emb:",
		},
		Store: StoreConfig{
			Backend:         "bolt",
			Collection:      "local-docs-collection",
			QdrantURL:       "http://localhost:6333",
			QdrantAPIKeyEnv: "QDRANT_API_KEY",
			MilvusAddress:   "localhost:19530",
			Timeout:         10 * time.Second,
			SimilarityRange: "unit",
			LockTimeout:     time.Second,
		},
		Search: SearchConfig{
			DefaultLimit:       10,
			MaxLimit:           50,
			MinSimilarityScore: 0.15,
			SemanticWeight:     0.7,
			MMRLambda:          0.7,
			PoolMultiplier:     3,
			MinPool:            30,
			Timeout:            30 * time.Second,
			Retries:            2,
			RetryBackoff:       200 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
	}
}

// Load loads configuration from a YAML file, applies LOCAL_DOCS_* overrides
// and validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, domain.ConfigError("", "invalid config file %s: %v", path, err)
		}
	}

	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for localdocs.yaml,
// then .localdocs/config.yaml). A relative docs.dir is resolved against dir.
func LoadFromDir(dir string) (*Config, error) {
	cfg, err := loadFirst(
		filepath.Join(dir, "localdocs.yaml"),
		filepath.Join(dir, ".localdocs", "config.yaml"),
	)
	if err != nil {
		return nil, err
	}

	if !filepath.IsAbs(cfg.Docs.Dir) {
		cfg.Docs.Dir = filepath.Join(dir, cfg.Docs.Dir)
	}
	return cfg, nil
}

func loadFirst(paths ...string) (*Config, error) {
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return finish(DefaultConfig())
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// DBPath returns the bolt file used for the manifest (and the bolt backend).
func (c *Config) DBPath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	return IndexDBPath(c.Docs.Dir)
}

// IndexDBPath returns the path to the index database.
func IndexDBPath(dir string) string {
	return filepath.Join(dir, ".localdocs", "index.db")
}

// EnsureDir ensures the .localdocs directory exists.
func EnsureDir(dir string) error {
	return os.MkdirAll(filepath.Join(dir, ".localdocs"), 0755)
}

// envOverride binds one LOCAL_DOCS_* variable to a config field.
type envOverride struct {
	name  string
	field string
	apply func(c *Config, v string) error
}

var envOverrides = []envOverride{
	{"DOCS_DIR", "docs.dir", func(c *Config, v string) error { c.Docs.Dir = v; return nil }},
	{"QDRANT_URL", "store.qdrant_url", func(c *Config, v string) error { c.Store.QdrantURL = v; return nil }},
	{"COLLECTION", "store.collection", func(c *Config, v string) error { c.Store.Collection = v; return nil }},
	{"STORE_BACKEND", "store.backend", func(c *Config, v string) error { c.Store.Backend = v; return nil }},
	{"EMBEDDING_PROVIDER", "embedding.provider", func(c *Config, v string) error { c.Embedding.Provider = v; return nil }},
	{"EMBEDDING_URL", "embedding.base_url", func(c *Config, v string) error { c.Embedding.BaseURL = v; return nil }},
	{"EMBEDDING_MODEL", "embedding.model", func(c *Config, v string) error { c.Embedding.Model = v; return nil }},
	{"EMBEDDING_DIMENSION", "embedding.dimension", intOverride(func(c *Config) *int { return &c.Embedding.Dimension })},
	{"CHUNK_SIZE", "chunking.size", intOverride(func(c *Config) *int { return &c.Chunking.Size })},
	{"CHUNK_OVERLAP", "chunking.overlap", intOverride(func(c *Config) *int { return &c.Chunking.Overlap })},
	{"ENCODING", "chunking.encoding", func(c *Config, v string) error { c.Chunking.Encoding = v; return nil }},
	{"SEARCH_LIMIT", "search.default_limit", intOverride(func(c *Config) *int { return &c.Search.DefaultLimit })},
	{"SIMILARITY_THRESHOLD", "search.min_similarity_score", floatOverride(func(c *Config) *float64 { return &c.Search.MinSimilarityScore })},
	{"HYBRID_WEIGHT", "search.semantic_weight", floatOverride(func(c *Config) *float64 { return &c.Search.SemanticWeight })},
	{"MMR_LAMBDA", "search.mmr_lambda", floatOverride(func(c *Config) *float64 { return &c.Search.MMRLambda })},
	{"LOG_LEVEL", "logging.level", func(c *Config, v string) error { c.Logging.Level = strings.ToLower(v); return nil }},
	{"REDIS_ADDR", "cache.redis_addr", func(c *Config, v string) error { c.Cache.RedisAddr = v; return nil }},
}

func intOverride(target func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*target(c) = n
		return nil
	}
}

func floatOverride(target func(*Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*target(c) = f
		return nil
	}
}

// EnvPrefix is prepended to every override variable name.
const EnvPrefix = "LOCAL_DOCS_"

// ApplyEnv overrides fields from LOCAL_DOCS_* environment variables.
func (c *Config) ApplyEnv() error {
	for _, o := range envOverrides {
		v, ok := os.LookupEnv(EnvPrefix + o.name)
		if !ok || v == "" {
			continue
		}
		if err := o.apply(c, v); err != nil {
			return domain.ConfigError(o.field, "invalid value %q in %s%s", v, EnvPrefix, o.name)
		}
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the configuration and reports the first problem as a
// ConfigError naming the YAML path of the offending field.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return domain.ConfigError("", "invalid configuration: %v", err)
	}

	fe := verrs[0]
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	return domain.ConfigError(field, "failed %q validation (value %v)", ruleOf(fe), fe.Value())
}

func ruleOf(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}
