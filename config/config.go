package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

const (
	defaultOpenAIEmbeddingModel = "text-embedding-3-small"
	defaultOpenAIDimension      = 1536
	defaultOpenAIChatModel      = "gpt-3.5-turbo"

	defaultOllamaEmbeddingModel = "nomic-embed-text"
	defaultOllamaDimension      = 768
	defaultOllamaChatModel      = "llama3.1"
)

// DefaultConfigFile is read when DOCBOT_CONFIG is not set and the file exists.
const DefaultConfigFile = "docbot.yaml"

// ErrMissingAPIKey is returned by Validate when an OpenAI provider is selected
// without an API key.
var ErrMissingAPIKey = errors.New("OPENAI_API_KEY is not set")

type EmbeddingConfig struct {
	Provider    string `yaml:"provider" validate:"oneof=openai ollama"`
	Model       string `yaml:"model" validate:"required"`
	Dimension   int    `yaml:"dimension" validate:"gte=1"`
	BatchTokens int    `yaml:"batch_tokens" validate:"gte=1"`
}

type LLMConfig struct {
	Provider    string  `yaml:"provider" validate:"oneof=openai ollama"`
	Model       string  `yaml:"model" validate:"required"`
	Temperature float32 `yaml:"temperature" validate:"gte=0,lte=2"`
}

type RetrievalConfig struct {
	TopK         int `yaml:"top_k" validate:"gte=1"`
	ChunkSize    int `yaml:"chunk_size" validate:"gte=1"`
	ChunkOverlap int `yaml:"chunk_overlap" validate:"gte=0"`
}

type IndexConfig struct {
	Persist     bool   `yaml:"persist"`
	Reindex     bool   `yaml:"reindex"`
	PostgresDSN string `yaml:"postgres_dsn" validate:"required_if=Persist true"`
}

type GraphConfig struct {
	URI      string `yaml:"uri"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type ChatConfig struct {
	ContinueOnError bool `yaml:"continue_on_error"`
}

type Config struct {
	OpenAIAPIKey  string `yaml:"openai_api_key"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
	OllamaHost    string `yaml:"ollama_host"`
	DataDir       string `yaml:"data_dir" validate:"required"`

	Embeddings EmbeddingConfig `yaml:"embeddings"`
	LLM        LLMConfig       `yaml:"llm"`
	Retrieval  RetrievalConfig `yaml:"retrieval"`
	Index      IndexConfig     `yaml:"index"`
	Graph      GraphConfig     `yaml:"graph"`
	Chat       ChatConfig      `yaml:"chat"`
}

// GraphEnabled reports whether a Neo4j endpoint is configured.
func (c Config) GraphEnabled() bool {
	return strings.TrimSpace(c.Graph.URI) != ""
}

func Default() Config {
	return Config{
		OllamaHost: "http://localhost:11434",
		DataDir:    "data/",
		Embeddings: EmbeddingConfig{
			Provider:    ProviderOpenAI,
			Model:       defaultOpenAIEmbeddingModel,
			Dimension:   defaultOpenAIDimension,
			BatchTokens: 8000,
		},
		LLM: LLMConfig{
			Provider: ProviderOpenAI,
			Model:    defaultOpenAIChatModel,
		},
		Retrieval: RetrievalConfig{
			TopK:      1,
			ChunkSize: 1000,
		},
		Index: IndexConfig{
			PostgresDSN: "postgres://localhost:5432/docbot?sslmode=disable",
		},
		Graph: GraphConfig{
			Username: "neo4j",
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file and the
// environment, in that order.
func Load() (Config, error) {
	cfg := Default()

	path, explicit := os.LookupEnv("DOCBOT_CONFIG")
	if !explicit || strings.TrimSpace(path) == "" {
		path = DefaultConfigFile
		explicit = false
	}
	// The default file is optional, an explicitly named one is not.
	if err := loadFile(path, &cfg); err != nil && (explicit || !errors.Is(err, os.ErrNotExist)) {
		return Config{}, fmt.Errorf("load config file %s: %w", path, err)
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	cfg.normalize()
	return cfg, nil
}

// normalize lower-cases provider names and swaps the OpenAI model defaults for
// Ollama ones when an Ollama provider kept them.
func (c *Config) normalize() {
	c.Embeddings.Provider = strings.ToLower(strings.TrimSpace(c.Embeddings.Provider))
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))

	if c.Embeddings.Provider == ProviderOllama && c.Embeddings.Model == defaultOpenAIEmbeddingModel {
		c.Embeddings.Model = defaultOllamaEmbeddingModel
		if c.Embeddings.Dimension == defaultOpenAIDimension {
			c.Embeddings.Dimension = defaultOllamaDimension
		}
	}
	if c.LLM.Provider == ProviderOllama && c.LLM.Model == defaultOpenAIChatModel {
		c.LLM.Model = defaultOllamaChatModel
	}
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.OpenAIAPIKey = getEnv("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", cfg.OpenAIBaseURL)
	cfg.OllamaHost = getEnv("OLLAMA_HOST", cfg.OllamaHost)
	cfg.DataDir = getEnv("DOCBOT_DATA_DIR", cfg.DataDir)

	cfg.Embeddings.Provider = getEnv("EMBEDDINGS_PROVIDER", cfg.Embeddings.Provider)
	cfg.Embeddings.Model = getEnv("EMBEDDINGS_MODEL", cfg.Embeddings.Model)
	cfg.LLM.Provider = getEnv("LLM_PROVIDER", cfg.LLM.Provider)
	cfg.LLM.Model = getEnv("LLM_MODEL", cfg.LLM.Model)

	cfg.Index.PostgresDSN = getEnv("POSTGRES_DSN", cfg.Index.PostgresDSN)
	cfg.Graph.URI = getEnv("NEO4J_URI", cfg.Graph.URI)
	cfg.Graph.Username = getEnv("NEO4J_USERNAME", cfg.Graph.Username)
	cfg.Graph.Password = getEnv("NEO4J_PASSWORD", cfg.Graph.Password)

	var err error
	if cfg.Embeddings.Dimension, err = getEnvInt("EMBEDDINGS_DIMENSION", cfg.Embeddings.Dimension); err != nil {
		return err
	}
	if cfg.Embeddings.BatchTokens, err = getEnvInt("EMBEDDINGS_BATCH_TOKENS", cfg.Embeddings.BatchTokens); err != nil {
		return err
	}
	if cfg.Retrieval.TopK, err = getEnvInt("DOCBOT_TOP_K", cfg.Retrieval.TopK); err != nil {
		return err
	}
	if cfg.Retrieval.ChunkSize, err = getEnvInt("DOCBOT_CHUNK_SIZE", cfg.Retrieval.ChunkSize); err != nil {
		return err
	}
	if cfg.Retrieval.ChunkOverlap, err = getEnvInt("DOCBOT_CHUNK_OVERLAP", cfg.Retrieval.ChunkOverlap); err != nil {
		return err
	}
	if cfg.LLM.Temperature, err = getEnvFloat32("LLM_TEMPERATURE", cfg.LLM.Temperature); err != nil {
		return err
	}
	if cfg.Index.Persist, err = getEnvBool("DOCBOT_PERSIST", cfg.Index.Persist); err != nil {
		return err
	}
	if cfg.Index.Reindex, err = getEnvBool("DOCBOT_REINDEX", cfg.Index.Reindex); err != nil {
		return err
	}
	if cfg.Chat.ContinueOnError, err = getEnvBool("DOCBOT_CONTINUE_ON_ERROR", cfg.Chat.ContinueOnError); err != nil {
		return err
	}
	return nil
}

// Validate checks the configuration before any network call is made.
func (c Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.usesOpenAI() && strings.TrimSpace(c.OpenAIAPIKey) == "" {
		return ErrMissingAPIKey
	}
	return nil
}

func (c Config) usesOpenAI() bool {
	return c.Embeddings.Provider == ProviderOpenAI || c.LLM.Provider == ProviderOpenAI
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return v, nil
}

func getEnvFloat32(key string, fallback float32) (float32, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 32)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return float32(v), nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return v, nil
}
