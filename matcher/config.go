package matcher

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const defaultConfigFile = "config.yaml"

// Embedder providers.
const (
	ProviderOrt    = "ort"
	ProviderOpenAI = "openai"
)

// Extractor providers.
const (
	ProviderLexicon = "lexicon"
	ProviderSpacy   = "spacy"
)

// Environment variables consulted by ApplyEnv.
const (
	EnvOpenAIKey = "OPENAI_API_KEY"
	EnvEmbedder  = "CPTMATCH_EMBEDDER"
	EnvLogLevel  = "CPTMATCH_LOG_LEVEL"
	EnvWorkers   = "CPTMATCH_WORKERS"
)

// EmbedderConfig selects and configures the embedding backend and its cache.
type EmbedderConfig struct {
	Provider string `yaml:"provider"`

	OrtDLL        string `yaml:"ortDll,omitempty"`
	ModelPath     string `yaml:"modelPath,omitempty"`
	TokenizerPath string `yaml:"tokenizerPath,omitempty"`
	MaxSeqLen     int    `yaml:"maxSeqLen,omitempty"`
	Dimension     int    `yaml:"dimension,omitempty"`
	ModelID       string `yaml:"modelId,omitempty"`

	OpenAIModel   string `yaml:"openaiModel,omitempty"`
	OpenAIAPIKey  string `yaml:"-"`
	OpenAIBaseURL string `yaml:"openaiBaseUrl,omitempty"`
	MaxTokens     int    `yaml:"maxTokens,omitempty"`

	CacheDir string        `yaml:"cacheDir,omitempty"`
	CacheTTL time.Duration `yaml:"cacheTtl,omitempty"`
}

// PythonConfig configures the spaCy worker pool.
type PythonConfig struct {
	Executable string   `yaml:"executable,omitempty"`
	ScriptPath string   `yaml:"scriptPath,omitempty"`
	WorkDir    string   `yaml:"workDir,omitempty"`
	Model      string   `yaml:"model,omitempty"`
	Labels     []string `yaml:"labels,omitempty"`
	Workers    int      `yaml:"workers,omitempty"`
}

// ExtractorConfig selects the phrase extractor.
type ExtractorConfig struct {
	Provider    string       `yaml:"provider"`
	LexiconPath string       `yaml:"lexiconPath,omitempty"`
	Python      PythonConfig `yaml:"python,omitempty"`
}

// PipelineConfig bounds batch concurrency and external calls.
type PipelineConfig struct {
	Workers        int           `yaml:"workers"`
	ExtractTimeout time.Duration `yaml:"extractTimeout"`
	EmbedTimeout   time.Duration `yaml:"embedTimeout"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config aggregates runtime settings persisted to config.yaml.
type Config struct {
	CatalogPath string          `yaml:"catalogPath,omitempty"`
	Embedder    EmbedderConfig  `yaml:"embedder"`
	Extractor   ExtractorConfig `yaml:"extractor"`
	Pipeline    PipelineConfig  `yaml:"pipeline"`
	Log         LogConfig       `yaml:"log"`
}

// ApplyDefaults populates zero values with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Embedder.Provider == "" {
		c.Embedder.Provider = ProviderOrt
	}
	if c.Embedder.MaxSeqLen == 0 {
		c.Embedder.MaxSeqLen = 256
	}
	if c.Embedder.Provider == ProviderOrt && c.Embedder.Dimension == 0 {
		// all-MiniLM-L6-v2
		c.Embedder.Dimension = 384
	}
	if c.Embedder.Provider == ProviderOpenAI && c.Embedder.OpenAIModel == "" {
		c.Embedder.OpenAIModel = DefaultOpenAIModel
	}
	if c.Extractor.Provider == "" {
		c.Extractor.Provider = ProviderLexicon
	}
	if c.Extractor.Python.Executable == "" {
		c.Extractor.Python.Executable = "python3"
	}
	if c.Extractor.Python.Model == "" {
		c.Extractor.Python.Model = "en_core_web_sm"
	}
	if len(c.Extractor.Python.Labels) == 0 {
		c.Extractor.Python.Labels = []string{"PROCEDURE", "TREATMENT"}
	}
	if c.Extractor.Python.Workers <= 0 {
		c.Extractor.Python.Workers = 1
	}
	if c.Pipeline.Workers <= 0 {
		c.Pipeline.Workers = 4
	}
	if c.Pipeline.ExtractTimeout <= 0 {
		c.Pipeline.ExtractTimeout = 10 * time.Second
	}
	if c.Pipeline.EmbedTimeout <= 0 {
		c.Pipeline.EmbedTimeout = 30 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate reports configuration values that cannot work.
func (c Config) Validate() error {
	switch c.Embedder.Provider {
	case ProviderOrt:
		if c.Embedder.ModelPath == "" || c.Embedder.TokenizerPath == "" {
			return errors.New("embedder: modelPath and tokenizerPath are required for the ort provider")
		}
	case ProviderOpenAI:
		if c.Embedder.OpenAIAPIKey == "" {
			return ErrAPIKeyNotSet
		}
	default:
		return fmt.Errorf("embedder: unknown provider %q", c.Embedder.Provider)
	}
	switch c.Extractor.Provider {
	case ProviderLexicon, ProviderSpacy:
	default:
		return fmt.Errorf("extractor: unknown provider %q", c.Extractor.Provider)
	}
	return nil
}

// LoadConfig loads configuration from the given path or the default config.yaml.
// A missing file yields the defaults.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		path = defaultConfigFile
	}
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg.ApplyDefaults()
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// SaveConfig persists configuration to disk.
func SaveConfig(path string, cfg Config) error {
	if path == "" {
		path = defaultConfigFile
	}
	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	cfg.ApplyDefaults()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// LoadEnvFile loads KEY=VALUE pairs into the process environment.
// Variables already set are left alone and a missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from environment variables. lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup(EnvOpenAIKey); ok {
		c.Embedder.OpenAIAPIKey = v
	}
	if v, ok := lookup(EnvEmbedder); ok && strings.TrimSpace(v) != "" {
		c.Embedder.Provider = strings.ToLower(strings.TrimSpace(v))
		if c.Embedder.Provider == ProviderOpenAI && c.Embedder.OpenAIModel == "" {
			c.Embedder.OpenAIModel = DefaultOpenAIModel
		}
	}
	if v, ok := lookup(EnvLogLevel); ok && strings.TrimSpace(v) != "" {
		c.Log.Level = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvWorkers); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid %s %q", EnvWorkers, v)
		}
		c.Pipeline.Workers = n
	}
	return nil
}
