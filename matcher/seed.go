package matcher

import (
	"context"
	"fmt"
)

// CatalogSeed is a code and description awaiting an embedding.
type CatalogSeed struct {
	Code        string
	Description string
}

// DefaultCatalogSeeds returns the built-in CPT table.
func DefaultCatalogSeeds() []CatalogSeed {
	return []CatalogSeed{
		{Code: "47562", Description: "Laparoscopic cholecystectomy"},
		{Code: "74300", Description: "Intraoperative cholangiography"},
		{Code: "99291", Description: "Critical care, first 30-74 minutes"},
		{Code: "45378", Description: "Colonoscopy, diagnostic"},
		{Code: "66984", Description: "Cataract removal with lens insertion"},
		{Code: "92950", Description: "Cardiopulmonary resuscitation (CPR)"},
		{Code: "19318", Description: "Breast reduction surgery"},
		{Code: "31622", Description: "Bronchoscopy, diagnostic"},
		{Code: "64483", Description: "Epidural injection, lumbar or sacral"},
		{Code: "20610", Description: "Joint aspiration, major joint"},
	}
}

// EmbedCatalog embeds every seed description and builds a Catalog in seed order.
func EmbedCatalog(ctx context.Context, embedder Embedder, seeds []CatalogSeed) (*Catalog, error) {
	texts := make([]string, len(seeds))
	for i, s := range seeds {
		texts[i] = s.Description
	}
	vecs, err := EmbedTexts(ctx, embedder, texts)
	if err != nil {
		return nil, fmt.Errorf("embed catalog: %w", err)
	}
	entries := make([]CatalogEntry, len(seeds))
	for i, s := range seeds {
		entries[i] = CatalogEntry{Code: s.Code, Description: s.Description, Embedding: vecs[i]}
	}
	return NewCatalog(entries)
}
