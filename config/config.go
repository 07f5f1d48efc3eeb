package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all settings for the pdfchat service and CLI.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	LLM         LLMConfig         `mapstructure:"llm"`
	VectorStore VectorStoreConfig `mapstructure:"vector_store"`
	Chunker     ChunkerConfig     `mapstructure:"chunker"`
	Ingest      IngestConfig      `mapstructure:"ingest"`
	Retrieval   RetrievalConfig   `mapstructure:"retrieval"`
}

// ServerConfig contains HTTP settings
type ServerConfig struct {
	Port           int             `mapstructure:"port"`
	StaticDir      string          `mapstructure:"static_dir"`
	MaxUploadMB    int64           `mapstructure:"max_upload_mb"`
	RequestTimeout time.Duration   `mapstructure:"request_timeout"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig is a per-client request budget over a window.
type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// Address is the listen address for the HTTP server.
func (s ServerConfig) Address() string {
	return fmt.Sprintf(":%d", s.Port)
}

func (s ServerConfig) Validate() error {
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", s.Port)
	}
	if s.MaxUploadMB <= 0 {
		return fmt.Errorf("server.max_upload_mb must be > 0")
	}
	if s.RateLimit.Requests <= 0 || s.RateLimit.Window <= 0 {
		return fmt.Errorf("server.rate_limit requests and window must be > 0")
	}
	return nil
}

// LLMConfig configures the OpenAI-compatible embedding and completion API.
// An empty APIKey selects local embeddings and disables generation.
type LLMConfig struct {
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	EmbeddingModel    string        `mapstructure:"embedding_model"`
	CompletionModel   string        `mapstructure:"completion_model"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RequestDimensions bool          `mapstructure:"request_dimensions"`
}

// Enabled reports whether a remote provider is configured.
func (l LLMConfig) Enabled() bool {
	return strings.TrimSpace(l.APIKey) != ""
}

// Vector store backends.
const (
	StorePinecone = "pinecone"
	StoreMemory   = "memory"
)

// VectorStoreConfig selects and configures the vector database.
type VectorStoreConfig struct {
	Type      string        `mapstructure:"type"`
	APIKey    string        `mapstructure:"api_key"`
	IndexName string        `mapstructure:"index_name"`
	Cloud     string        `mapstructure:"cloud"`
	Region    string        `mapstructure:"region"`
	ReadyPoll time.Duration `mapstructure:"ready_poll"`
}

func (v VectorStoreConfig) Validate() error {
	switch v.Type {
	case StoreMemory:
		return nil
	case StorePinecone:
		if strings.TrimSpace(v.APIKey) == "" {
			return fmt.Errorf("vector_store.api_key required for pinecone (or set PINECONE_API_KEY)")
		}
		if strings.TrimSpace(v.IndexName) == "" {
			return fmt.Errorf("vector_store.index_name required for pinecone (or set PINECONE_INDEX_NAME)")
		}
		return nil
	default:
		return fmt.Errorf("vector_store.type must be %q or %q, got %q", StorePinecone, StoreMemory, v.Type)
	}
}

type ChunkerConfig struct {
	MaxChunkSize int `mapstructure:"max_chunk_size"`
	Overlap      int `mapstructure:"overlap"`
}

func (c ChunkerConfig) Validate() error {
	if c.MaxChunkSize <= 0 {
		return fmt.Errorf("chunker.max_chunk_size must be > 0")
	}
	if c.Overlap < 0 || c.Overlap >= c.MaxChunkSize {
		return fmt.Errorf("chunker.overlap must be in [0, max_chunk_size)")
	}
	return nil
}

type IngestConfig struct {
	BatchSize         int `mapstructure:"batch_size"`
	ConcurrentBatches int `mapstructure:"concurrent_batches"`
	EmbedWorkers      int `mapstructure:"embed_workers"`
}

type RetrievalConfig struct {
	TopK            int `mapstructure:"top_k"`
	MaxContextChars int `mapstructure:"max_context_chars"`
	PreviewChars    int `mapstructure:"preview_chars"`
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.VectorStore.Validate(); err != nil {
		return err
	}
	if err := c.Chunker.Validate(); err != nil {
		return err
	}
	if c.Ingest.BatchSize <= 0 || c.Ingest.ConcurrentBatches <= 0 || c.Ingest.EmbedWorkers <= 0 {
		return fmt.Errorf("ingest settings must be > 0")
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be > 0")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3001)
	v.SetDefault("server.static_dir", "")
	v.SetDefault("server.max_upload_mb", 50)
	v.SetDefault("server.request_timeout", 5*time.Minute)
	v.SetDefault("server.rate_limit.requests", 100)
	v.SetDefault("server.rate_limit.window", 15*time.Minute)

	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "https://generativelanguage.googleapis.com/v1beta/openai/")
	v.SetDefault("llm.embedding_model", "text-embedding-004")
	v.SetDefault("llm.completion_model", "gemini-2.5-pro")
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("llm.request_dimensions", false)

	v.SetDefault("vector_store.type", StorePinecone)
	v.SetDefault("vector_store.api_key", "")
	v.SetDefault("vector_store.index_name", "")
	v.SetDefault("vector_store.cloud", "aws")
	v.SetDefault("vector_store.region", "us-east-1")
	v.SetDefault("vector_store.ready_poll", 2*time.Second)

	v.SetDefault("chunker.max_chunk_size", 800)
	v.SetDefault("chunker.overlap", 100)

	v.SetDefault("ingest.batch_size", 50)
	v.SetDefault("ingest.concurrent_batches", 3)
	v.SetDefault("ingest.embed_workers", 10)

	v.SetDefault("retrieval.top_k", 5)
	v.SetDefault("retrieval.max_context_chars", 24000)
	v.SetDefault("retrieval.preview_chars", 200)
}

// aliases maps plain environment names onto config keys.
var aliases = map[string]string{
	"llm.api_key":             "GEMINI_API_KEY",
	"vector_store.api_key":    "PINECONE_API_KEY",
	"vector_store.index_name": "PINECONE_INDEX_NAME",
	"server.port":             "PORT",
}

// Load reads configuration from path, or from pdfchat.{yaml,json,toml} in
// the working directory or ./config when path is empty. A missing file is
// fine when searching. A .env file in the working directory is loaded
// first; variables already set in the environment win.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path == "" {
		v.SetConfigName("pdfchat")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("PDFCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv() // PDFCHAT_SERVER_PORT, PDFCHAT_LLM_API_KEY, ...
	for key, env := range aliases {
		if err := v.BindEnv(key, "PDFCHAT_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.VectorStore.Type = strings.ToLower(strings.TrimSpace(cfg.VectorStore.Type))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
