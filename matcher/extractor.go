package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Extractor finds procedure phrases in a clinical note.
// An empty result is allowed; errors are treated as "no phrases".
type Extractor interface {
	Extract(ctx context.Context, text string) ([]string, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, text string) ([]string, error)

// Extract calls f.
func (f ExtractorFunc) Extract(ctx context.Context, text string) ([]string, error) {
	return f(ctx, text)
}

// AdapterOption customizes an ExtractionAdapter.
type AdapterOption func(*ExtractionAdapter)

// WithExtractTimeout bounds each extractor call.
func WithExtractTimeout(d time.Duration) AdapterOption {
	return func(a *ExtractionAdapter) {
		a.timeout = d
	}
}

// WithAdapterLogger sets the logger used for fallback diagnostics.
func WithAdapterLogger(l *slog.Logger) AdapterOption {
	return func(a *ExtractionAdapter) {
		if l != nil {
			a.log = l
		}
	}
}

// ExtractionAdapter guarantees a non-empty phrase list for every note.
// When the extractor fails, times out or finds nothing, the note text itself
// becomes the single phrase.
type ExtractionAdapter struct {
	ex      Extractor
	timeout time.Duration
	log     *slog.Logger
}

// NewExtractionAdapter wraps ex. A nil ex always falls back to the note text.
func NewExtractionAdapter(ex Extractor, opts ...AdapterOption) *ExtractionAdapter {
	a := &ExtractionAdapter{ex: ex, log: discardLogger()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Extract returns the phrases found in text, or []string{text}.
func (a *ExtractionAdapter) Extract(ctx context.Context, text string) []string {
	if a == nil || a.ex == nil {
		return []string{text}
	}
	callCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	raw, err := a.ex.Extract(callCtx, text)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrExtractionUnavailable, err)
		a.log.Warn("extraction failed, using note text", "error", err)
		return []string{text}
	}
	phrases := make([]string, 0, len(raw))
	for _, p := range raw {
		if strings.TrimSpace(p) == "" {
			continue
		}
		phrases = append(phrases, p)
	}
	if len(phrases) == 0 {
		a.log.Debug("no procedure phrases found, using note text")
		return []string{text}
	}
	return phrases
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
