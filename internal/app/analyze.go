package app

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"stream-auditor/internal/batch"
	"stream-auditor/internal/models"
)

// batchFlags are the per-run options shared by analyze and watch.
type batchFlags struct {
	file             string
	start, end       string
	compareStart     string
	compareEnd       string
	comparePrevious  bool
	location         string
	regionThreshold  float64
	freeLowThreshold float64
}

func (f *batchFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.file, "file", "f", "", "CSV or text file of identifiers (\"-\" for stdin)")
	fs.StringVar(&f.start, "start", "", "start date, YYYY-MM-DD")
	fs.StringVar(&f.end, "end", "", "end date, YYYY-MM-DD")
	fs.StringVar(&f.compareStart, "compare-start", "", "comparison window start, YYYY-MM-DD")
	fs.StringVar(&f.compareEnd, "compare-end", "", "comparison window end, YYYY-MM-DD")
	fs.BoolVar(&f.comparePrevious, "compare-previous", false, "compare against the window of equal length before --start/--end")
	fs.StringVar(&f.location, "location", "", "provider location filter")
	fs.Float64Var(&f.regionThreshold, "region-threshold", 0, "regional concentration threshold (default from REGION_THRESHOLD)")
	fs.Float64Var(&f.freeLowThreshold, "free-low-threshold", 0, "low free-tier share threshold (default from FREE_TIER_LOW_THRESHOLD)")
}

// identifiers merges positional arguments with the file, deduplicated.
func (f *batchFlags) identifiers(cmd *cobra.Command, args []string) ([]string, error) {
	ids := append([]string(nil), args...)
	if f.file != "" {
		fromFile, err := ReadIdentifierFile(f.file, cmd.InOrStdin())
		if err != nil {
			return nil, err
		}
		ids = append(ids, fromFile...)
	}
	ids = Dedupe(ids)
	if len(ids) == 0 {
		return nil, fmt.Errorf("no identifiers given; pass them as arguments or with --file")
	}
	return ids, nil
}

// config overlays the flags that were set on defaults.
func (f *batchFlags) config(fs *pflag.FlagSet, defaults batch.Config) (batch.Config, error) {
	cfg := defaults
	if fs.Changed("region-threshold") {
		cfg.RegionThreshold = f.regionThreshold
	}
	if fs.Changed("free-low-threshold") {
		cfg.FreeTierLowThreshold = f.freeLowThreshold
	}
	cfg.Location = f.location

	var err error
	if cfg.DateRange, err = models.ParseDateRange(f.start, f.end); err != nil {
		return batch.Config{}, err
	}
	if cfg.ComparisonRange, err = models.ParseDateRange(f.compareStart, f.compareEnd); err != nil {
		return batch.Config{}, err
	}
	if f.comparePrevious {
		if err := cfg.ComparePrevious(); err != nil {
			return batch.Config{}, err
		}
	}
	return cfg, cfg.Validate()
}

func newAnalyzeCommand(c *cli) *cobra.Command {
	flags := &batchFlags{}
	cmd := &cobra.Command{
		Use:   "analyze [ISRC...]",
		Short: "Analyse a batch of identifiers and print the report as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := flags.identifiers(cmd, args)
			if err != nil {
				return err
			}
			if err := c.cfg.RequireCredentials(); err != nil {
				return err
			}

			app, err := New(c.cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			batchCfg, err := flags.config(cmd.Flags(), app.Defaults())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			report, err := app.Orchestrator.Process(ctx, ids, batchCfg)
			if err != nil {
				return err
			}
			return writeReport(cmd, report)
		},
	}
	flags.register(cmd.Flags())
	return cmd
}

func writeReport(cmd *cobra.Command, report *batch.Report) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
