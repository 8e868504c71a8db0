package matcher

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// seedKeywords maps each default seed position to the words that light up its axis.
var seedKeywords = [][]string{
	{"cholecystectomy"},
	{"cholangiography"},
	{"critical care"},
	{"colonoscopy"},
	{"cataract"},
	{"resuscitation", "cpr"},
	{"breast"},
	{"bronchoscopy"},
	{"epidural"},
	{"aspiration"},
}

// keywordEmbedder produces a deterministic one-hot style vector per seed keyword.
type keywordEmbedder struct {
	calls atomic.Int64
}

func (k *keywordEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	k.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lower := strings.ToLower(text)
	vec := make([]float32, len(seedKeywords))
	for i, words := range seedKeywords {
		for _, w := range words {
			if strings.Contains(lower, w) {
				vec[i] = 1
			}
		}
	}
	return vec, nil
}

func (k *keywordEmbedder) ModelID() string {
	return "keyword-test"
}

func defaultTestIndex(t *testing.T, e Embedder) *Index {
	t.Helper()
	cat, err := EmbedCatalog(context.Background(), e, DefaultCatalogSeeds())
	require.NoError(t, err)
	idx, err := BuildIndex(cat)
	require.NoError(t, err)
	return idx
}

func vectors(vs ...[]float32) []CatalogEntry {
	out := make([]CatalogEntry, len(vs))
	for i, v := range vs {
		out[i] = CatalogEntry{Code: string(rune('A' + i)), Description: "entry", Embedding: v}
	}
	return out
}
