package app

import (
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"stream-auditor/internal/common/logging"
	"stream-auditor/internal/config"
)

// Version information, set at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// cli carries state shared by the subcommands of one invocation.
type cli struct {
	envFile   string
	cfg       *config.Config
	logCloser io.Closer
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "stream-auditor",
		Short: "Audit streaming metrics for anomalous consumption patterns",
		Long: `stream-auditor fetches per-recording consumption metrics from the metrics
provider for a batch of ISRCs and flags suspicious patterns: regional
concentration, free-tier anomalies and zero activity.

Configuration comes from the environment (and an optional .env file).`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
		PersistentPostRun: func(*cobra.Command, []string) { c.teardown() },
	}
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	root.AddCommand(
		newAnalyzeCommand(c),
		newServeCommand(c),
		newWatchCommand(c),
		newVersionCommand(),
	)
	return root
}

// Run executes the CLI.
func Run() error {
	return NewRootCommand().Execute()
}

func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "version" {
		return nil
	}

	if err := godotenv.Load(c.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", c.envFile, err)
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	c.cfg = cfg

	closer, err := logging.InitGlobalLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	if err != nil {
		return err
	}
	c.logCloser = closer
	return nil
}

func (c *cli) teardown() {
	logging.MustSync()
	if c.logCloser != nil {
		_ = c.logCloser.Close()
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "stream-auditor version %s\n", Version)
			fmt.Fprintf(out, "  commit: %s\n", Commit)
			fmt.Fprintf(out, "  built:  %s\n", Date)
		},
	}
}
