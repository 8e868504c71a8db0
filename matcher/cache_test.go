package matcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedEmbedderMemoizes(t *testing.T) {
	inner := &keywordEmbedder{}
	c, err := NewCachedEmbedder(inner, CacheOptions{})
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	first, err := c.EmbedText(ctx, "Colonoscopy")
	require.NoError(t, err)
	second, err := c.EmbedText(ctx, "Colonoscopy")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, inner.calls.Load())
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, "keyword-test", c.ModelID())

	// Returned slices are private copies.
	first[3] = 42
	third, err := c.EmbedText(ctx, "Colonoscopy")
	require.NoError(t, err)
	assert.Equal(t, float32(1), third[3])
}

func TestCachedEmbedderKeysOnExactText(t *testing.T) {
	inner := &keywordEmbedder{}
	c, err := NewCachedEmbedder(inner, CacheOptions{})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = c.EmbedText(ctx, "colonoscopy")
	require.NoError(t, err)
	_, err = c.EmbedText(ctx, "Colonoscopy")
	require.NoError(t, err)
	assert.EqualValues(t, 2, inner.calls.Load())
}

func TestCachedEmbedderPersists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	inner := &keywordEmbedder{}
	c, err := NewCachedEmbedder(inner, CacheOptions{Dir: dir})
	require.NoError(t, err)
	want, err := c.EmbedText(ctx, "Joint aspiration")
	require.NoError(t, err)
	require.NoError(t, c.Close())

	reopenedInner := &keywordEmbedder{}
	reopened, err := NewCachedEmbedder(reopenedInner, CacheOptions{Dir: dir})
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.EmbedText(ctx, "Joint aspiration")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Zero(t, reopenedInner.calls.Load())
}

func TestCachedEmbedderSeparatesModels(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	a, err := NewCachedEmbedder(&keywordEmbedder{}, CacheOptions{Dir: dir, ModelID: "a"})
	require.NoError(t, err)
	_, err = a.EmbedText(ctx, "CPR")
	require.NoError(t, err)
	require.NoError(t, a.Close())

	inner := &keywordEmbedder{}
	b, err := NewCachedEmbedder(inner, CacheOptions{Dir: dir, ModelID: "b"})
	require.NoError(t, err)
	defer b.Close()
	_, err = b.EmbedText(ctx, "CPR")
	require.NoError(t, err)
	assert.EqualValues(t, 1, inner.calls.Load())
}

func TestCachedEmbedderDoesNotCacheErrors(t *testing.T) {
	calls := 0
	failing := EmbedderFunc(func(context.Context, string) ([]float32, error) {
		calls++
		return nil, errors.New("down")
	})
	c, err := NewCachedEmbedder(failing, CacheOptions{})
	require.NoError(t, err)

	_, err = c.EmbedText(context.Background(), "x")
	assert.Error(t, err)
	_, err = c.EmbedText(context.Background(), "x")
	assert.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestVectorCodec(t *testing.T) {
	vec := []float32{0, -1.5, 3.25}
	got, err := decodeVector(encodeVector(vec))
	require.NoError(t, err)
	assert.Equal(t, vec, got)

	_, err = decodeVector([]byte{1, 2})
	assert.Error(t, err)
	_, err = decodeVector(encodeVector(vec)[:9])
	assert.Error(t, err)
}

func TestCachedEmbedderRekeysOnDimensionChange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Dimensions int `json:"dimensions"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		vec := make([]float64, req.Dimensions)
		for i := range vec {
			vec[i] = 0.5
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   []map[string]any{{"object": "embedding", "index": 0, "embedding": vec}},
			"model":  DefaultOpenAIModel,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	defer srv.Close()

	dir := t.TempDir()
	embedWith := func(dim int) []float32 {
		e, err := NewEmbedderFromConfig(EmbedderConfig{
			Provider:      ProviderOpenAI,
			OpenAIModel:   DefaultOpenAIModel,
			OpenAIAPIKey:  "test-key",
			OpenAIBaseURL: srv.URL + "/v1/",
			Dimension:     dim,
			CacheDir:      dir,
		})
		require.NoError(t, err)
		defer CloseEmbedder(e)
		vec, err := e.EmbedText(context.Background(), "Colonoscopy")
		require.NoError(t, err)
		return vec
	}

	assert.Len(t, embedWith(4), 4)
	assert.Len(t, embedWith(8), 8)
	assert.Len(t, embedWith(4), 4)
}
