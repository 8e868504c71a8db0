// Package emb runs a sentence-embedding ONNX model locally.
package emb

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	inputIDs      = "input_ids"
	attentionMask = "attention_mask"
	tokenTypeIDs  = "token_type_ids"

	defaultOutput    = "last_hidden_state"
	defaultMaxSeqLen = 256
)

// Config describes the model files used by an Encoder.
type Config struct {
	OrtDLL        string
	ModelPath     string
	TokenizerPath string
	MaxSeqLen     int
	// Dimension is the hidden size of the model output (384 for all-MiniLM-L6-v2).
	Dimension int
	// InputNames defaults to input_ids, attention_mask, token_type_ids.
	InputNames []string
	OutputName string
}

// Encoder tokenizes text and produces mean-pooled, L2-normalized embeddings.
type Encoder struct {
	mu      sync.Mutex
	cfg     Config
	tk      *tokenizer.Tokenizer
	session *ort.DynamicAdvancedSession
}

// The ONNX Runtime environment is process wide; encoders share it.
var (
	envMu   sync.Mutex
	envRefs int
)

func acquireEnvironment(dll string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if envRefs == 0 {
		if dll != "" {
			ort.SetSharedLibraryPath(dll)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("initialize onnxruntime: %w", err)
		}
	}
	envRefs++
	return nil
}

func releaseEnvironment() {
	envMu.Lock()
	defer envMu.Unlock()
	if envRefs == 0 {
		return
	}
	envRefs--
	if envRefs == 0 {
		_ = ort.DestroyEnvironment()
	}
}

// Init loads the tokenizer and the ONNX session.
func (e *Encoder) Init(cfg Config) error {
	if cfg.ModelPath == "" {
		return errors.New("model path is required")
	}
	if cfg.TokenizerPath == "" {
		return errors.New("tokenizer path is required")
	}
	if cfg.Dimension <= 0 {
		return errors.New("model dimension must be positive")
	}
	if cfg.MaxSeqLen <= 0 {
		cfg.MaxSeqLen = defaultMaxSeqLen
	}
	if len(cfg.InputNames) == 0 {
		cfg.InputNames = []string{inputIDs, attentionMask, tokenTypeIDs}
	}
	if cfg.OutputName == "" {
		cfg.OutputName = defaultOutput
	}
	for _, name := range cfg.InputNames {
		switch name {
		case inputIDs, attentionMask, tokenTypeIDs:
		default:
			return fmt.Errorf("unsupported model input %q", name)
		}
	}

	tk, err := pretrained.FromFile(cfg.TokenizerPath)
	if err != nil {
		return fmt.Errorf("load tokenizer: %w", err)
	}
	if err := acquireEnvironment(cfg.OrtDLL); err != nil {
		return err
	}
	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, cfg.InputNames, []string{cfg.OutputName}, nil)
	if err != nil {
		releaseEnvironment()
		return fmt.Errorf("create onnx session: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
	e.tk = tk
	e.session = session
	return nil
}

// Dimension reports the embedding size.
func (e *Encoder) Dimension() int {
	return e.cfg.Dimension
}

// Encode embeds a single text.
func (e *Encoder) Encode(text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil || e.tk == nil {
		return nil, errors.New("encoder is not initialized")
	}

	enc, err := e.tk.EncodeSingle(text, true)
	if err != nil {
		return nil, fmt.Errorf("tokenize: %w", err)
	}
	ids := toInt64(enc.GetIds(), e.cfg.MaxSeqLen)
	mask := toInt64(enc.GetAttentionMask(), e.cfg.MaxSeqLen)
	types := toInt64(enc.GetTypeIds(), e.cfg.MaxSeqLen)
	seqLen := len(ids)
	if seqLen == 0 {
		return nil, errors.New("tokenizer produced no tokens")
	}
	if len(types) != seqLen {
		types = make([]int64, seqLen)
	}

	shape := ort.NewShape(1, int64(seqLen))
	byName := map[string][]int64{
		inputIDs:      ids,
		attentionMask: mask,
		tokenTypeIDs:  types,
	}
	inputs := make([]ort.Value, 0, len(e.cfg.InputNames))
	defer func() {
		for _, v := range inputs {
			_ = v.Destroy()
		}
	}()
	for _, name := range e.cfg.InputNames {
		t, err := ort.NewTensor(shape, byName[name])
		if err != nil {
			return nil, fmt.Errorf("create %s tensor: %w", name, err)
		}
		inputs = append(inputs, t)
	}

	out, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(seqLen), int64(e.cfg.Dimension)))
	if err != nil {
		return nil, fmt.Errorf("create output tensor: %w", err)
	}
	defer out.Destroy()

	if err := e.session.Run(inputs, []ort.Value{out}); err != nil {
		return nil, fmt.Errorf("run onnx session: %w", err)
	}
	vec := MeanPool(out.GetData(), mask, seqLen, e.cfg.Dimension)
	Normalize(vec)
	return vec, nil
}

// Close releases the session and the shared environment reference.
func (e *Encoder) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return
	}
	_ = e.session.Destroy()
	e.session = nil
	e.tk = nil
	releaseEnvironment()
}

func toInt64(values []int, limit int) []int64 {
	if limit > 0 && len(values) > limit {
		values = values[:limit]
	}
	out := make([]int64, len(values))
	for i, v := range values {
		out[i] = int64(v)
	}
	return out
}
