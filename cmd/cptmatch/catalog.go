package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"yashubustudio/cptmatch/matcher"
)

func newCatalogCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect or build the CPT catalog",
	}
	cmd.AddCommand(newCatalogShowCmd(a), newCatalogEmbedCmd(a))
	return cmd
}

func newCatalogShowCmd(a *app) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "List catalog entries in index order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runCatalogShow(cmd.Context(), cmd.OutOrStdout(), path)
		},
	}
	cmd.Flags().StringVar(&path, "catalog", "", "Catalog JSON/CSV (default: config catalogPath or the built-in CPT table)")
	return cmd
}

func (a *app) runCatalogShow(ctx context.Context, out io.Writer, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		path = a.cfg.CatalogPath
	}
	var entries []matcher.CatalogEntry
	if path == "" {
		for _, s := range matcher.DefaultCatalogSeeds() {
			entries = append(entries, matcher.CatalogEntry{Code: s.Code, Description: s.Description})
		}
	} else {
		// Only pre-embedded catalogs can be shown without an embedder.
		catalog, err := matcher.LoadCatalogFile(ctx, path, nil)
		if err != nil {
			return fmt.Errorf("load catalog: %w", err)
		}
		entries = catalog.Entries()
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "POS\tCODE\tDESCRIPTION\tDIM")
	for i, e := range entries {
		dim := "-"
		if len(e.Embedding) > 0 {
			dim = fmt.Sprint(len(e.Embedding))
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i, e.Code, e.Description, dim)
	}
	return tw.Flush()
}

func newCatalogEmbedCmd(a *app) *cobra.Command {
	var inputPath, outputPath string
	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Embed catalog descriptions and save them as JSON",
		Long: `Embeds the descriptions of a CSV/TSV catalog (or the built-in CPT table)
with the configured embedder and writes a JSON catalog that can be loaded
without re-embedding.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runCatalogEmbed(cmd.Context(), cmd.OutOrStdout(), inputPath, outputPath)
		},
	}
	cmd.Flags().StringVar(&inputPath, "input", "", "CSV/TSV with code and description columns (default: built-in CPT table)")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "catalog.json", "Destination JSON file")
	return cmd
}

func (a *app) runCatalogEmbed(ctx context.Context, out io.Writer, inputPath, outputPath string) error {
	if err := a.cfg.Validate(); err != nil {
		return err
	}
	embedder, err := matcher.NewEmbedderFromConfig(a.cfg.Embedder)
	if err != nil {
		return err
	}
	defer matcher.CloseEmbedder(embedder)

	var catalog *matcher.Catalog
	if p := strings.TrimSpace(inputPath); p != "" {
		catalog, err = matcher.LoadCatalogFile(ctx, p, embedder)
	} else {
		catalog, err = matcher.EmbedCatalog(ctx, embedder, matcher.DefaultCatalogSeeds())
	}
	if err != nil {
		return err
	}
	outputPath, err = resolveOutputPath(strings.TrimSpace(outputPath), "", "json")
	if err != nil {
		return err
	}
	if err := matcher.WriteCatalogJSON(outputPath, catalog); err != nil {
		return err
	}
	fmt.Fprintf(out, "embedded %d entries (dim=%d) into %s\n", catalog.Len(), catalog.Dim(), outputPath)
	return nil
}
