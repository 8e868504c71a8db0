package matcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/pkoukk/tiktoken-go"
)

const (
	// DefaultOpenAIModel is used when no model is configured.
	DefaultOpenAIModel = "text-embedding-3-small"
	// DefaultOpenAIEncoding is the tokenizer used for input trimming.
	DefaultOpenAIEncoding = "cl100k_base"
)

// ErrAPIKeyNotSet is returned when the OpenAI embedder has no API key.
var ErrAPIKeyNotSet = errors.New("OpenAI API key not set: please set OPENAI_API_KEY")

type openAIOptions struct {
	model      string
	dimension  int
	baseURL    string
	maxTokens  int
	maxRetries int
}

// OpenAIOption customizes an OpenAIEmbedder.
type OpenAIOption func(*openAIOptions)

// WithOpenAIModel overrides the embedding model.
func WithOpenAIModel(model string) OpenAIOption {
	return func(o *openAIOptions) {
		o.model = model
	}
}

// WithOpenAIDimension requests vectors of the given length.
func WithOpenAIDimension(dimension int) OpenAIOption {
	return func(o *openAIOptions) {
		o.dimension = dimension
	}
}

// WithOpenAIBaseURL points the client at a compatible endpoint.
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(o *openAIOptions) {
		o.baseURL = url
	}
}

// WithOpenAITokenLimit trims inputs to at most n tokens before embedding.
func WithOpenAITokenLimit(n int) OpenAIOption {
	return func(o *openAIOptions) {
		o.maxTokens = n
	}
}

// WithOpenAIMaxRetries sets the SDK retry count.
func WithOpenAIMaxRetries(n int) OpenAIOption {
	return func(o *openAIOptions) {
		o.maxRetries = n
	}
}

// OpenAIEmbedder embeds text through the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client    openai.Client
	model     string
	dimension int
	maxTokens int
	encoding  *tiktoken.Tiktoken
}

// NewOpenAIEmbedder creates an embedder for the given API key.
func NewOpenAIEmbedder(apiKey string, opts ...OpenAIOption) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}
	options := openAIOptions{model: DefaultOpenAIModel, maxRetries: -1}
	for _, opt := range opts {
		opt(&options)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if options.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(options.baseURL))
	}
	if options.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(options.maxRetries))
	}

	e := &OpenAIEmbedder{
		client:    openai.NewClient(reqOpts...),
		model:     options.model,
		dimension: options.dimension,
		maxTokens: options.maxTokens,
	}
	if options.maxTokens > 0 {
		enc, err := tiktoken.GetEncoding(DefaultOpenAIEncoding)
		if err != nil {
			return nil, fmt.Errorf("failed to load tiktoken encoding: %w", err)
		}
		e.encoding = enc
	}
	return e, nil
}

// ModelID returns the model name, suffixed with @<dim> when a dimension is requested.
func (e *OpenAIEmbedder) ModelID() string {
	if e.dimension > 0 {
		return fmt.Sprintf("%s@%d", e.model, e.dimension)
	}
	return e.model
}

// EmbedText requests a single embedding.
func (e *OpenAIEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(e.trim(text)),
		},
	}
	if e.dimension > 0 {
		params.Dimensions = openai.Int(int64(e.dimension))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("no embeddings generated")
	}
	data := resp.Data[0].Embedding
	vec := make([]float32, len(data))
	for i, v := range data {
		vec[i] = float32(v)
	}
	return vec, nil
}

func (e *OpenAIEmbedder) trim(text string) string {
	if e.encoding == nil || e.maxTokens <= 0 {
		return text
	}
	tokens := e.encoding.Encode(text, nil, nil)
	if len(tokens) <= e.maxTokens {
		return text
	}
	return e.encoding.Decode(tokens[:e.maxTokens])
}
