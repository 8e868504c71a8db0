package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"yashubustudio/cptmatch/internal/logging"
	"yashubustudio/cptmatch/matcher"
)

// app carries state shared by all subcommands once the root pre-run has loaded it.
type app struct {
	configPath string
	envPath    string
	logLevel   string
	logFormat  string

	cfg matcher.Config
	log *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "cptmatch",
		Short: "Suggest CPT codes for clinical notes",
		Long: `cptmatch extracts procedure phrases from clinical notes, embeds them and
finds the nearest entry of a fixed CPT catalog by exact L2 search.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to config.yaml (default: ./config.yaml)")
	root.PersistentFlags().StringVar(&a.envPath, "env", "", "Path to a .env file (default: ./.env)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "Log format: text or json")

	root.AddCommand(newMatchCmd(a), newCatalogCmd(a), newSynthCmd(a))
	return root
}

func (a *app) load() error {
	if err := matcher.LoadEnvFile(strings.TrimSpace(a.envPath)); err != nil {
		return err
	}
	cfg, err := matcher.LoadConfig(strings.TrimSpace(a.configPath))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logging.New(logging.Config{Level: level, Format: cfg.Log.Format})
	return nil
}
