package matcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ProgressFunc is called once per finished record with the number of
// records finished so far and the batch size. Calls are serialized.
type ProgressFunc func(done, total int)

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithWorkers bounds the number of records processed concurrently by Run.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithEmbedTimeout bounds each embedding call.
func WithEmbedTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		p.embedTimeout = d
	}
}

// WithLogger sets the pipeline logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}

// WithProgress registers a progress callback for Run.
func WithProgress(fn ProgressFunc) Option {
	return func(p *Pipeline) {
		p.progress = fn
	}
}

// Pipeline matches clinical notes against a catalog index.
// It holds no mutable state and may be shared between goroutines.
type Pipeline struct {
	index        *Index
	adapter      *ExtractionAdapter
	embedder     Embedder
	workers      int
	embedTimeout time.Duration
	progress     ProgressFunc
	log          *slog.Logger
}

// NewPipeline wires the index, extraction adapter and embedder together.
func NewPipeline(index *Index, adapter *ExtractionAdapter, embedder Embedder, opts ...Option) (*Pipeline, error) {
	if index == nil {
		return nil, errors.New("index is required")
	}
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if adapter == nil {
		adapter = NewExtractionAdapter(nil)
	}
	p := &Pipeline{
		index:    index,
		adapter:  adapter,
		embedder: embedder,
		workers:  1,
		log:      discardLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.stage + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

// FailureStage returns the pipeline stage at which err occurred, or "" if unknown.
func FailureStage(err error) string {
	var se *stageError
	if errors.As(err, &se) {
		return se.stage
	}
	return ""
}

// Match runs one record through extraction, embedding and search.
// Only the first extracted phrase is used as the query.
func (p *Pipeline) Match(ctx context.Context, rec InputRecord) (EnrichedRecord, error) {
	phrases := p.adapter.Extract(ctx, rec.NoteText)
	query := phrases[0]

	embedCtx := ctx
	if p.embedTimeout > 0 {
		var cancel context.CancelFunc
		embedCtx, cancel = context.WithTimeout(ctx, p.embedTimeout)
		defer cancel()
	}
	vec, err := p.embedder.EmbedText(embedCtx, query)
	if err != nil {
		return EnrichedRecord{}, &stageError{StageEmbed, fmt.Errorf("encounter %d: %w: %w", rec.EncounterID, ErrEmbeddingUnavailable, err)}
	}

	hits, err := p.index.Search(vec, 1)
	if err != nil {
		return EnrichedRecord{}, &stageError{StageSearch, fmt.Errorf("encounter %d: %w", rec.EncounterID, err)}
	}
	best := hits[0]
	entry := best.Entry
	return EnrichedRecord{
		Record:  rec,
		Phrases: phrases,
		Match: MatchResult{
			QueryPhrase: query,
			Matched:     &entry,
			Position:    best.Position,
			Distance:    best.Distance,
		},
	}, nil
}

type slot struct {
	rec  *EnrichedRecord
	fail *RecordFailure
}

// Run matches every record. Output order equals input order and failures
// never abort the batch. When ctx is cancelled, records not yet finished
// are reported with StageCancelled.
func (p *Pipeline) Run(ctx context.Context, records []InputRecord) BatchReport {
	report := BatchReport{RunID: uuid.NewString(), Started: time.Now()}
	p.log.Info("batch started", "run", report.RunID, "records", len(records), "workers", p.workers)

	slots := make([]slot, len(records))
	var (
		progressMu sync.Mutex
		done       int
	)
	finish := func() {
		if p.progress == nil {
			return
		}
		progressMu.Lock()
		done++
		p.progress(done, len(records))
		progressMu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(p.workers)
	for i := range records {
		if ctx.Err() != nil {
			slots[i].fail = p.failure(i, records[i], StageCancelled, ctx.Err())
			finish()
			continue
		}
		g.Go(func() error {
			defer finish()
			rec := records[i]
			if err := ctx.Err(); err != nil {
				slots[i].fail = p.failure(i, rec, StageCancelled, err)
				return nil
			}
			out, err := p.Match(ctx, rec)
			if err != nil {
				stage := FailureStage(err)
				if ctx.Err() != nil {
					stage = StageCancelled
				}
				slots[i].fail = p.failure(i, rec, stage, err)
				return nil
			}
			slots[i].rec = &out
			return nil
		})
	}
	_ = g.Wait()

	for _, s := range slots {
		if s.rec != nil {
			report.Records = append(report.Records, *s.rec)
		} else if s.fail != nil {
			report.Failures = append(report.Failures, *s.fail)
		}
	}
	report.Finished = time.Now()
	p.log.Info("batch finished",
		"run", report.RunID,
		"matched", len(report.Records),
		"failed", len(report.Failures),
		"elapsed", report.Finished.Sub(report.Started))
	return report
}

func (p *Pipeline) failure(pos int, rec InputRecord, stage string, err error) *RecordFailure {
	p.log.Warn("record failed", "position", pos, "encounter", rec.EncounterID, "stage", stage, "error", err)
	return &RecordFailure{Position: pos, EncounterID: rec.EncounterID, Stage: stage, Err: err}
}
