package matcher

import (
	"errors"
	"time"
)

var (
	// ErrDimensionMismatch reports vectors whose length differs from the catalog dimension.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrEmptyCatalog reports an index build over zero entries.
	ErrEmptyCatalog = errors.New("empty catalog")
	// ErrInsufficientCatalogSize reports a search asking for more neighbours than entries.
	ErrInsufficientCatalogSize = errors.New("k exceeds catalog size")
	// ErrNonFiniteVector reports an embedding holding NaN or Inf components.
	ErrNonFiniteVector = errors.New("vector has non-finite components")
	// ErrInvalidK reports a search with k < 1.
	ErrInvalidK = errors.New("k must be at least 1")
	// ErrEmbeddingUnavailable reports a failed call to the embedding capability.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	// ErrExtractionUnavailable reports a failed call to the extraction capability.
	// The extraction adapter absorbs it; callers of the pipeline never see it.
	ErrExtractionUnavailable = errors.New("extraction unavailable")
)

// CatalogEntry is a procedure code with its description and embedding.
type CatalogEntry struct {
	Code        string    `json:"code"`
	Description string    `json:"description"`
	Embedding   []float32 `json:"embedding,omitempty"`
}

// AssignedCharge is the code already captured on an encounter, if any.
// A charge exists only when a code was captured: input rows with a
// description but no code yield no AssignedCharge and the description is dropped.
type AssignedCharge struct {
	Code        string
	Description string
}

// InputRecord is one clinical encounter to be matched.
type InputRecord struct {
	EncounterID int64
	PatientID   int64
	NoteText    string
	// Assigned is nil when no charge has been captured yet.
	Assigned *AssignedCharge
}

// MatchResult is the nearest catalog entry for the selected phrase.
type MatchResult struct {
	QueryPhrase string
	// Matched is nil only when no match could be computed.
	Matched  *CatalogEntry
	Position int
	// Distance is the squared L2 distance used for ranking.
	Distance float64
}

// HasMatch reports whether a catalog entry was selected.
func (m MatchResult) HasMatch() bool {
	return m.Matched != nil
}

// EnrichedRecord is an input record together with its extraction and match.
type EnrichedRecord struct {
	Record  InputRecord
	Phrases []string
	Match   MatchResult
}

// Failure stages reported in RecordFailure.
const (
	StageEmbed     = "embed"
	StageSearch    = "search"
	StageCancelled = "cancelled"
)

// RecordFailure accounts for a record that produced no EnrichedRecord.
type RecordFailure struct {
	Position    int
	EncounterID int64
	Stage       string
	Err         error
}

// BatchReport is the outcome of a pipeline run. Every input record appears
// exactly once, either in Records or in Failures.
type BatchReport struct {
	RunID    string
	Records  []EnrichedRecord
	Failures []RecordFailure
	Started  time.Time
	Finished time.Time
}

// Total returns the number of input records accounted for.
func (r BatchReport) Total() int {
	return len(r.Records) + len(r.Failures)
}
