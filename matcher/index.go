package matcher

import (
	"fmt"
	"math"
	"sort"
)

// Hit is a single nearest-neighbour result.
type Hit struct {
	Position int
	Entry    CatalogEntry
	// Distance is the squared L2 distance to the query.
	Distance float64
}

// Euclidean returns the true L2 distance for display.
func (h Hit) Euclidean() float64 {
	return math.Sqrt(h.Distance)
}

// Index is an exact brute-force nearest-neighbour index over a Catalog.
// It keeps its own flat copy of the vectors and is never mutated after
// BuildIndex, so Search is safe for concurrent use without locking.
type Index struct {
	catalog *Catalog
	dim     int
	flat    []float32
}

// BuildIndex flattens the catalog vectors into a contiguous n x D block.
func BuildIndex(c *Catalog) (*Index, error) {
	if c == nil || c.Len() == 0 {
		return nil, ErrEmptyCatalog
	}
	dim := c.Dim()
	flat := make([]float32, 0, c.Len()*dim)
	for _, e := range c.entries {
		flat = append(flat, e.Embedding...)
	}
	return &Index{catalog: c, dim: dim, flat: flat}, nil
}

// Size returns the number of indexed vectors.
func (idx *Index) Size() int {
	return idx.catalog.Len()
}

// Dim returns the vector length accepted by Search.
func (idx *Index) Dim() int {
	return idx.dim
}

// Catalog returns the catalog the index was built from.
func (idx *Index) Catalog() *Catalog {
	return idx.catalog
}

// Search returns the k entries closest to vec under squared L2 distance,
// ascending. Equal distances are ordered by catalog position.
func (idx *Index) Search(vec []float32, k int) ([]Hit, error) {
	if len(vec) != idx.dim {
		return nil, fmt.Errorf("query has length %d, want %d: %w", len(vec), idx.dim, ErrDimensionMismatch)
	}
	if j := nonFiniteAt(vec); j >= 0 {
		return nil, fmt.Errorf("query component %d: %w", j, ErrNonFiniteVector)
	}
	if k < 1 {
		return nil, fmt.Errorf("k=%d: %w", k, ErrInvalidK)
	}
	n := idx.Size()
	if k > n {
		return nil, fmt.Errorf("k=%d, catalog has %d entries: %w", k, n, ErrInsufficientCatalogSize)
	}

	if k == 1 {
		best, bestDist := 0, idx.distanceAt(vec, 0)
		for i := 1; i < n; i++ {
			// Strict comparison keeps the lower position on ties.
			if d := idx.distanceAt(vec, i); d < bestDist {
				best, bestDist = i, d
			}
		}
		return []Hit{idx.hit(best, bestDist)}, nil
	}

	type scored struct {
		pos  int
		dist float64
	}
	all := make([]scored, n)
	for i := 0; i < n; i++ {
		all[i] = scored{pos: i, dist: idx.distanceAt(vec, i)}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].dist == all[j].dist {
			return all[i].pos < all[j].pos
		}
		return all[i].dist < all[j].dist
	})
	hits := make([]Hit, k)
	for i := 0; i < k; i++ {
		hits[i] = idx.hit(all[i].pos, all[i].dist)
	}
	return hits, nil
}

func (idx *Index) hit(pos int, dist float64) Hit {
	return Hit{Position: pos, Entry: idx.catalog.At(pos), Distance: dist}
}

func (idx *Index) distanceAt(vec []float32, pos int) float64 {
	row := idx.flat[pos*idx.dim : (pos+1)*idx.dim]
	return squaredL2(vec, row)
}

func squaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}
