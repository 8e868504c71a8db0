package matcher

import (
	"fmt"
	"log/slog"
)

// NewEmbedderFromConfig builds the configured embedder, wrapped in a cache.
func NewEmbedderFromConfig(cfg EmbedderConfig) (Embedder, error) {
	var (
		inner Embedder
		err   error
	)
	switch cfg.Provider {
	case ProviderOrt, "":
		inner, err = NewOrtEmbedder(cfg)
	case ProviderOpenAI:
		opts := []OpenAIOption{WithOpenAIModel(cfg.OpenAIModel)}
		if cfg.Dimension > 0 {
			opts = append(opts, WithOpenAIDimension(cfg.Dimension))
		}
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, WithOpenAIBaseURL(cfg.OpenAIBaseURL))
		}
		if cfg.MaxTokens > 0 {
			opts = append(opts, WithOpenAITokenLimit(cfg.MaxTokens))
		}
		inner, err = NewOpenAIEmbedder(cfg.OpenAIAPIKey, opts...)
	default:
		return nil, fmt.Errorf("unknown embedder provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s embedder: %w", cfg.Provider, err)
	}
	modelID := cfg.ModelID
	if modelID != "" && cfg.Provider == ProviderOpenAI && cfg.Dimension > 0 {
		modelID = fmt.Sprintf("%s@%d", modelID, cfg.Dimension)
	}
	cached, err := NewCachedEmbedder(inner, CacheOptions{Dir: cfg.CacheDir, TTL: cfg.CacheTTL, ModelID: modelID})
	if err != nil {
		CloseEmbedder(inner)
		return nil, err
	}
	return cached, nil
}

// NewExtractorFromConfig builds the configured phrase extractor.
// The caller closes the result with CloseExtractor.
func NewExtractorFromConfig(cfg ExtractorConfig, logger *slog.Logger) (Extractor, error) {
	switch cfg.Provider {
	case ProviderLexicon, "":
		if cfg.LexiconPath == "" {
			return NewLexiconExtractor(DefaultProcedureTerms()), nil
		}
		return LoadLexicon(cfg.LexiconPath)
	case ProviderSpacy:
		return NewPythonExtractor(cfg.Python, logger)
	default:
		return nil, fmt.Errorf("unknown extractor provider %q", cfg.Provider)
	}
}

// CloseExtractor closes ex if it holds resources.
func CloseExtractor(ex Extractor) error {
	if c, ok := ex.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
