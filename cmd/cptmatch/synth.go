package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"yashubustudio/cptmatch/internal/synth"
)

func newSynthCmd(a *app) *cobra.Command {
	var (
		opts       synth.Options
		outputPath string
	)
	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Generate synthetic encounters as CSV",
		Long: `Generates encounters with unique ids, a filler sentence plus one procedure
sentence per note, and an assigned CPT code for most records.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.MissingRate == 0 {
				// An explicit 0 means every record gets a code.
				opts.MissingRate = -1
			}
			return a.runSynth(cmd.OutOrStdout(), opts, outputPath)
		},
	}
	f := cmd.Flags()
	f.IntVarP(&opts.Count, "count", "n", synth.DefaultCount, "Number of records")
	f.Uint64Var(&opts.Seed, "seed", 1, "Random seed")
	f.Float64Var(&opts.MissingRate, "missing-rate", synth.DefaultMissingRate, "Share of records without an assigned code")
	f.StringVarP(&outputPath, "output", "o", "", "Output CSV (default: stdout)")
	return cmd
}

func (a *app) runSynth(stdout io.Writer, opts synth.Options, outputPath string) error {
	records, err := synth.Generate(opts)
	if err != nil {
		return err
	}
	outputPath = strings.TrimSpace(outputPath)
	if outputPath == "" {
		return synth.WriteCSV(stdout, records)
	}
	if err := writeFileWith(outputPath, func(f *os.File) error {
		return synth.WriteCSV(f, records)
	}); err != nil {
		return err
	}
	a.log.Info("synthetic records written", "path", outputPath, "records", len(records))
	fmt.Fprintf(stdout, "wrote %d records to %s\n", len(records), outputPath)
	return nil
}
