package matcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"yashubustudio/cptmatch/emb"
)

// Embedder maps text to a fixed-length vector.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// EmbedderFunc adapts a function to the Embedder interface.
type EmbedderFunc func(ctx context.Context, text string) ([]float32, error)

// EmbedText calls f.
func (f EmbedderFunc) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

type modelIdentifier interface {
	ModelID() string
}

// ModelIDOf returns the model identifier of e, or "" if it does not expose one.
func ModelIDOf(e Embedder) string {
	if m, ok := e.(modelIdentifier); ok {
		return m.ModelID()
	}
	return ""
}

// CloseEmbedder closes e if it holds resources.
func CloseEmbedder(e Embedder) error {
	if c, ok := e.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// EmbedTexts embeds a slice of strings sequentially.
func EmbedTexts(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := e.EmbedText(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

// OrtEmbedder embeds text with a local ONNX model.
type OrtEmbedder struct {
	enc     *emb.Encoder
	modelID string
}

// NewOrtEmbedder initializes the ONNX encoder.
func NewOrtEmbedder(cfg EmbedderConfig) (*OrtEmbedder, error) {
	modelID := cfg.ModelID
	if modelID == "" && cfg.ModelPath != "" {
		modelID = filepath.Base(filepath.Dir(cfg.ModelPath)) + "/" + filepath.Base(cfg.ModelPath)
	}
	encoder := &emb.Encoder{}
	if err := encoder.Init(emb.Config{
		OrtDLL:        cfg.OrtDLL,
		ModelPath:     cfg.ModelPath,
		TokenizerPath: cfg.TokenizerPath,
		MaxSeqLen:     cfg.MaxSeqLen,
		Dimension:     cfg.Dimension,
	}); err != nil {
		return nil, err
	}
	return &OrtEmbedder{enc: encoder, modelID: modelID}, nil
}

// ModelID returns the identifier used for cache keys.
func (o *OrtEmbedder) ModelID() string {
	return o.modelID
}

// EmbedText embeds the normalized text.
func (o *OrtEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if o == nil || o.enc == nil {
		return nil, errors.New("embedder is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return o.enc.Encode(NormalizeText(text))
}

// Close releases ORT resources.
func (o *OrtEmbedder) Close() error {
	if o == nil || o.enc == nil {
		return nil
	}
	o.enc.Close()
	o.enc = nil
	return nil
}
