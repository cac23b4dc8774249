package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for webrag.
type Config struct {
	Search    SearchConfig    `yaml:"search"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Normalize NormalizeConfig `yaml:"normalize"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Store     StoreConfig     `yaml:"store"`
	Retrieve  RetrieveConfig  `yaml:"retrieve"`
	Answer    AnswerConfig    `yaml:"answer"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SearchConfig holds web search configuration.
type SearchConfig struct {
	Provider   string `yaml:"provider"` // "duckduckgo"
	Endpoint   string `yaml:"endpoint"`
	MaxResults int    `yaml:"max_results"`
}

// FetchConfig holds page download configuration.
type FetchConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
	MaxChars  int           `yaml:"max_chars"` // extraction cap
	MaxBytes  int64         `yaml:"max_bytes"`
	Interval  time.Duration `yaml:"interval"` // pause between downloads
	Excludes  []string      `yaml:"excludes"`
}

// NormalizeConfig holds text cleanup configuration.
type NormalizeConfig struct {
	MaxChars int `yaml:"max_chars"`
}

// EmbeddingConfig holds embedding configuration.
type EmbeddingConfig struct {
	Provider  string        `yaml:"provider"`    // "ollama", "openai", "hash"
	Model     string        `yaml:"model"`       // e.g., "all-minilm"
	BaseURL   string        `yaml:"base_url"`    // empty = provider default
	APIKeyEnv string        `yaml:"api_key_env"` // Environment variable for API key
	Dimension int           `yaml:"dimension"`   // 0 = look up or probe
	BatchSize int           `yaml:"batch_size"`
	CacheSize int           `yaml:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// StoreConfig holds knowledge store configuration.
type StoreConfig struct {
	Backend    string        `yaml:"backend"` // "weaviate", "bolt", "memory"
	Host       string        `yaml:"host"`
	Port       int           `yaml:"port"`
	Scheme     string        `yaml:"scheme"`
	Timeout    time.Duration `yaml:"timeout"`
	Path       string        `yaml:"path"` // bolt file, relative to the data dir
	Collection string        `yaml:"collection"`
	Distance   string        `yaml:"distance"`
}

// RetrieveConfig holds retrieval configuration.
type RetrieveConfig struct {
	TopK  int    `yaml:"top_k"`
	Dedup string `yaml:"dedup"` // "none", "url", "content"
}

// AnswerConfig holds answer formatting configuration.
type AnswerConfig struct {
	SnippetChars    int  `yaml:"snippet_chars"`
	MergeDuplicates bool `yaml:"merge_duplicates"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Search: SearchConfig{
			Provider:   "duckduckgo",
			Endpoint:   "https://html.duckduckgo.com/html/",
			MaxResults: 10,
		},
		Fetch: FetchConfig{
			Timeout:   10 * time.Second,
			UserAgent: "Mozilla/5.0",
			MaxChars:  50000,
			MaxBytes:  20 << 20,
			Interval:  time.Second,
		},
		Normalize: NormalizeConfig{
			MaxChars: 10000,
		},
		Embedding: EmbeddingConfig{
			Provider:  "ollama",
			Model:     "all-minilm",
			APIKeyEnv: "OPENAI_API_KEY",
			BatchSize: 32,
			CacheSize: 100,
			CacheTTL:  30 * time.Minute,
		},
		Store: StoreConfig{
			Backend:    "weaviate",
			Host:       "localhost",
			Port:       8080,
			Scheme:     "http",
			Timeout:    30 * time.Second,
			Path:       "knowledge.db",
			Collection: "KnowledgeBase",
			Distance:   "cosine",
		},
		Retrieve: RetrieveConfig{
			TopK:  3,
			Dedup: "none",
		},
		Answer: AnswerConfig{
			SnippetChars:    1000,
			MergeDuplicates: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for webrag.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "webrag.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".webrag", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ApplyEnv overrides fields from WEBRAG_* environment variables.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("WEBRAG_STORE_HOST"); v != "" {
		c.Store.Host = v
	}
	if v := os.Getenv("WEBRAG_STORE_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("WEBRAG_STORE_PORT: %w", err)
		}
		c.Store.Port = port
	}
	if v := os.Getenv("WEBRAG_EMBEDDING_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("WEBRAG_EMBEDDING_BASE_URL"); v != "" {
		c.Embedding.BaseURL = v
	}
	if v := os.Getenv("WEBRAG_MAX_RESULTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("WEBRAG_MAX_RESULTS: %w", err)
		}
		c.Search.MaxResults = n
	}
	if v := os.Getenv("WEBRAG_TOP_K"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("WEBRAG_TOP_K: %w", err)
		}
		c.Retrieve.TopK = n
	}
	if v := os.Getenv("WEBRAG_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	return nil
}

// Validate rejects limits and choices the pipeline cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Search.MaxResults <= 0:
		return fmt.Errorf("search.max_results must be positive, got %d", c.Search.MaxResults)
	case c.Retrieve.TopK <= 0:
		return fmt.Errorf("retrieve.top_k must be positive, got %d", c.Retrieve.TopK)
	case c.Normalize.MaxChars <= 0:
		return fmt.Errorf("normalize.max_chars must be positive, got %d", c.Normalize.MaxChars)
	case c.Fetch.Timeout <= 0:
		return fmt.Errorf("fetch.timeout must be positive, got %s", c.Fetch.Timeout)
	case c.Store.Collection == "":
		return fmt.Errorf("store.collection must be set")
	}

	switch c.Search.Provider {
	case "duckduckgo":
	default:
		return fmt.Errorf("unknown search provider %q", c.Search.Provider)
	}

	switch c.Embedding.Provider {
	case "ollama", "openai", "hash":
	default:
		return fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider)
	}

	switch c.Store.Backend {
	case "weaviate":
		if c.Store.Host == "" || c.Store.Port <= 0 {
			return fmt.Errorf("store.host and store.port are required for weaviate")
		}
	case "bolt", "memory":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	switch c.Store.Distance {
	case "cosine", "dot", "l2-squared":
	default:
		return fmt.Errorf("unknown distance %q", c.Store.Distance)
	}

	switch c.Retrieve.Dedup {
	case "none", "url", "content":
	default:
		return fmt.Errorf("unknown dedup mode %q", c.Retrieve.Dedup)
	}

	return nil
}

// StoreAddress returns host:port for the vector database.
func (c *Config) StoreAddress() string {
	return fmt.Sprintf("%s:%d", c.Store.Host, c.Store.Port)
}

// DataDir returns the directory holding local state.
func DataDir(dir string) string {
	return filepath.Join(dir, ".webrag")
}

// EnsureDataDir ensures the .webrag directory exists.
func EnsureDataDir(dir string) error {
	return os.MkdirAll(DataDir(dir), 0755)
}

// StorePath returns the bolt database path for dir.
func (c *Config) StorePath(dir string) string {
	if filepath.IsAbs(c.Store.Path) {
		return c.Store.Path
	}
	return filepath.Join(DataDir(dir), c.Store.Path)
}
