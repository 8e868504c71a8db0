package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/schollz/progressbar/v2"
	"github.com/spf13/cobra"

	"yashubustudio/cptmatch/matcher"
)

type matchOptions struct {
	inputPath    string
	catalogPath  string
	outputPath   string
	outputDir    string
	format       string
	failuresPath string
	workers      int
	noProgress   bool
	inputOpts    matcher.InputParseOptions
}

func newMatchCmd(a *app) *cobra.Command {
	var opts matchOptions
	cmd := &cobra.Command{
		Use:   "match",
		Short: "Suggest a CPT code for every note in a file",
		Long: `Reads encounters from a CSV/TSV/text file, matches each note against the
catalog and writes the enriched records. Records that fail are reported
separately and never stop the batch.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runMatch(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.inputPath, "input", "i", "", "CSV/TSV/text file with clinical notes (required)")
	f.StringVar(&opts.catalogPath, "catalog", "", "Catalog JSON/CSV (default: config catalogPath or the built-in CPT table)")
	f.StringVarP(&opts.outputPath, "output", "o", "", "Output file (default: --output-dir/matches_*.csv)")
	f.StringVar(&opts.outputDir, "output-dir", "out", "Directory for output files when --output is omitted")
	f.StringVar(&opts.format, "format", "csv", "Output format: csv or jsonl")
	f.StringVar(&opts.failuresPath, "failures", "", "Write per-record failures to this CSV")
	f.IntVar(&opts.workers, "workers", 0, "Concurrent records (default from config)")
	f.BoolVar(&opts.noProgress, "no-progress", false, "Disable the progress bar")
	f.StringVar(&opts.inputOpts.EncounterIDColumn, "encounter-column", "", "Column name or #index for the encounter id")
	f.StringVar(&opts.inputOpts.PatientIDColumn, "patient-column", "", "Column name or #index for the patient id")
	f.StringVar(&opts.inputOpts.NoteColumn, "note-column", "", "Column name or #index for the note text")
	f.StringVar(&opts.inputOpts.CodeColumn, "code-column", "", "Column name or #index for the assigned CPT code")
	f.StringVar(&opts.inputOpts.DescriptionColumn, "desc-column", "", "Column name or #index for the assigned CPT description")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func (a *app) runMatch(ctx context.Context, stdout, stderr io.Writer, opts matchOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	format := strings.ToLower(strings.TrimSpace(opts.format))
	if format != "csv" && format != "jsonl" {
		return fmt.Errorf("unknown output format %q", opts.format)
	}
	if err := a.cfg.Validate(); err != nil {
		return err
	}

	records, err := matcher.ParseInputRecords(strings.TrimSpace(opts.inputPath), opts.inputOpts)
	if err != nil {
		return fmt.Errorf("read input records: %w", err)
	}
	if len(records) == 0 {
		return errors.New("input file does not contain any records")
	}

	embedder, err := matcher.NewEmbedderFromConfig(a.cfg.Embedder)
	if err != nil {
		return err
	}
	defer matcher.CloseEmbedder(embedder)

	catalog, err := a.loadCatalog(ctx, opts.catalogPath, embedder)
	if err != nil {
		return err
	}
	index, err := matcher.BuildIndex(catalog)
	if err != nil {
		return fmt.Errorf("build index: %w", err)
	}
	a.log.Info("catalog indexed", "entries", index.Size(), "dim", index.Dim())

	extractor, err := matcher.NewExtractorFromConfig(a.cfg.Extractor, a.log)
	if err != nil {
		return fmt.Errorf("init extractor: %w", err)
	}
	defer matcher.CloseExtractor(extractor)
	adapter := matcher.NewExtractionAdapter(extractor,
		matcher.WithExtractTimeout(a.cfg.Pipeline.ExtractTimeout),
		matcher.WithAdapterLogger(a.log))

	workers := a.cfg.Pipeline.Workers
	if opts.workers > 0 {
		workers = opts.workers
	}
	pipeOpts := []matcher.Option{
		matcher.WithWorkers(workers),
		matcher.WithEmbedTimeout(a.cfg.Pipeline.EmbedTimeout),
		matcher.WithLogger(a.log),
	}
	if !opts.noProgress {
		bar := progressbar.NewOptions(len(records),
			progressbar.OptionSetWriter(stderr),
			progressbar.OptionSetRenderBlankState(true))
		pipeOpts = append(pipeOpts, matcher.WithProgress(func(done, total int) {
			_ = bar.Add(1)
		}))
		defer fmt.Fprintln(stderr)
	}
	pipeline, err := matcher.NewPipeline(index, adapter, embedder, pipeOpts...)
	if err != nil {
		return err
	}

	report := pipeline.Run(ctx, records)

	outputPath, err := resolveOutputPath(strings.TrimSpace(opts.outputPath), strings.TrimSpace(opts.outputDir), format)
	if err != nil {
		return err
	}
	err = writeFileWith(outputPath, func(f *os.File) error {
		if format == "jsonl" {
			return matcher.WriteEnrichedJSONL(f, report.Records)
		}
		return matcher.WriteEnrichedCSV(f, report.Records)
	})
	if err != nil {
		return err
	}
	if path := strings.TrimSpace(opts.failuresPath); path != "" {
		err := writeFileWith(path, func(f *os.File) error {
			return matcher.WriteFailuresCSV(f, report.Failures)
		})
		if err != nil {
			return err
		}
	}

	a.log.Info("results written", "path", outputPath)
	fmt.Fprintf(stdout, "matched=%d failed=%d run=%s\n", len(report.Records), len(report.Failures), report.RunID)
	return nil
}

// loadCatalog resolves the catalog from the flag, the config or the built-in table.
func (a *app) loadCatalog(ctx context.Context, path string, embedder matcher.Embedder) (*matcher.Catalog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = a.cfg.CatalogPath
	}
	if path == "" {
		catalog, err := matcher.EmbedCatalog(ctx, embedder, matcher.DefaultCatalogSeeds())
		if err != nil {
			return nil, err
		}
		return catalog, nil
	}
	catalog, err := matcher.LoadCatalogFile(ctx, path, embedder)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	return catalog, nil
}
