package matcher

import (
	"fmt"
	"math"
)

// Catalog is an immutable, ordered list of procedure codes. Positions are
// stable and become index positions.
type Catalog struct {
	entries []CatalogEntry
	dim     int
	byCode  map[string]int
}

// NewCatalog validates that every embedding has the length of the first
// entry's embedding and only finite components, and copies the entries. Zero entries are accepted;
// building an index over them fails with ErrEmptyCatalog.
func NewCatalog(entries []CatalogEntry) (*Catalog, error) {
	c := &Catalog{
		entries: make([]CatalogEntry, len(entries)),
		byCode:  make(map[string]int, len(entries)),
	}
	for i, e := range entries {
		if i == 0 {
			if len(e.Embedding) == 0 {
				return nil, fmt.Errorf("entry 0 (%s) has an empty embedding: %w", e.Code, ErrDimensionMismatch)
			}
			c.dim = len(e.Embedding)
		} else if len(e.Embedding) != c.dim {
			return nil, fmt.Errorf("entry %d (%s) has embedding length %d, want %d: %w",
				i, e.Code, len(e.Embedding), c.dim, ErrDimensionMismatch)
		}
		if j := nonFiniteAt(e.Embedding); j >= 0 {
			return nil, fmt.Errorf("entry %d (%s) component %d: %w", i, e.Code, j, ErrNonFiniteVector)
		}
		c.entries[i] = CatalogEntry{
			Code:        e.Code,
			Description: e.Description,
			Embedding:   cloneVector(e.Embedding),
		}
		if _, seen := c.byCode[e.Code]; !seen {
			c.byCode[e.Code] = i
		}
	}
	return c, nil
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	return len(c.entries)
}

// Dim returns the shared embedding length, or 0 for an empty catalog.
func (c *Catalog) Dim() int {
	return c.dim
}

// At returns a copy of the entry at position i.
func (c *Catalog) At(i int) CatalogEntry {
	e := c.entries[i]
	e.Embedding = cloneVector(e.Embedding)
	return e
}

// Entries returns a copy of all entries in catalog order.
func (c *Catalog) Entries() []CatalogEntry {
	out := make([]CatalogEntry, len(c.entries))
	for i := range c.entries {
		out[i] = c.At(i)
	}
	return out
}

// Lookup finds the first entry with the given code.
func (c *Catalog) Lookup(code string) (CatalogEntry, int, bool) {
	i, ok := c.byCode[code]
	if !ok {
		return CatalogEntry{}, -1, false
	}
	return c.At(i), i, true
}

// nonFiniteAt returns the first NaN or Inf component of vec, or -1.
func nonFiniteAt(vec []float32) int {
	for i, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return i
		}
	}
	return -1
}

func cloneVector(vec []float32) []float32 {
	if vec == nil {
		return nil
	}
	out := make([]float32, len(vec))
	copy(out, vec)
	return out
}
