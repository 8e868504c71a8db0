package matcher

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/patrickmn/go-cache"
	"go.etcd.io/bbolt"
)

var bucketEmbeddings = []byte("embeddings")

const cacheFileName = "embeddings.db"

// CacheOptions configures a CachedEmbedder.
type CacheOptions struct {
	// Dir holds the persistent cache. Empty disables persistence.
	Dir string
	// TTL bounds how long vectors stay in memory. Zero keeps them forever.
	TTL time.Duration
	// ModelID separates caches of different models. Defaults to the inner
	// embedder's ModelID.
	ModelID string
}

// CachedEmbedder memoizes another Embedder in memory and, optionally, on disk.
type CachedEmbedder struct {
	inner   Embedder
	modelID string
	mem     *cache.Cache
	db      *bbolt.DB
}

// NewCachedEmbedder wraps inner with a memory cache and an optional bbolt file.
func NewCachedEmbedder(inner Embedder, opts CacheOptions) (*CachedEmbedder, error) {
	modelID := opts.ModelID
	if modelID == "" {
		modelID = ModelIDOf(inner)
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	c := &CachedEmbedder{
		inner:   inner,
		modelID: modelID,
		mem:     cache.New(ttl, 10*time.Minute),
	}
	if opts.Dir == "" {
		return c, nil
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	db, err := bbolt.Open(filepath.Join(opts.Dir, cacheFileName), 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open embedding cache: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEmbeddings)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init embedding cache: %w", err)
	}
	c.db = db
	return c, nil
}

// ModelID returns the model identifier used in cache keys.
func (c *CachedEmbedder) ModelID() string {
	return c.modelID
}

// EmbedText returns a cached vector or delegates to the wrapped embedder.
func (c *CachedEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)
	if v, ok := c.mem.Get(key); ok {
		return cloneVector(v.([]float32)), nil
	}
	if vec, err := c.load(key); err == nil && vec != nil {
		c.mem.Set(key, cloneVector(vec), cache.DefaultExpiration)
		return vec, nil
	}
	vec, err := c.inner.EmbedText(ctx, text)
	if err != nil {
		return nil, err
	}
	c.mem.Set(key, cloneVector(vec), cache.DefaultExpiration)
	_ = c.save(key, vec)
	return cloneVector(vec), nil
}

// Len returns the number of vectors held in memory.
func (c *CachedEmbedder) Len() int {
	return c.mem.ItemCount()
}

// Close closes the cache file and the wrapped embedder.
func (c *CachedEmbedder) Close() error {
	var firstErr error
	if c.db != nil {
		firstErr = c.db.Close()
		c.db = nil
	}
	if err := CloseEmbedder(c.inner); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (c *CachedEmbedder) cacheKey(text string) string {
	h := sha1.New()
	_, _ = io.WriteString(h, c.modelID)
	_, _ = io.WriteString(h, "|")
	_, _ = io.WriteString(h, text)
	return hex.EncodeToString(h.Sum(nil))
}

func (c *CachedEmbedder) load(key string) ([]float32, error) {
	if c.db == nil {
		return nil, nil
	}
	var vec []float32
	err := c.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketEmbeddings).Get([]byte(key))
		if data == nil {
			return nil
		}
		var err error
		vec, err = decodeVector(data)
		return err
	})
	return vec, err
}

func (c *CachedEmbedder) save(key string, vec []float32) error {
	if c.db == nil {
		return nil
	}
	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEmbeddings).Put([]byte(key), encodeVector(vec))
	})
}

// encodeVector writes a little-endian length prefix followed by the floats.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4+len(vec)*4)
	binary.LittleEndian.PutUint32(buf[:4], uint32(len(vec)))
	off := 4
	for _, v := range vec {
		binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(v))
		off += 4
	}
	return buf
}

func decodeVector(data []byte) ([]float32, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("cache entry too small")
	}
	length := int(binary.LittleEndian.Uint32(data[:4]))
	data = data[4:]
	if len(data) != length*4 {
		return nil, fmt.Errorf("cache entry length mismatch")
	}
	vec := make([]float32, length)
	for i := 0; i < length; i++ {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4 : (i+1)*4]))
	}
	return vec, nil
}
