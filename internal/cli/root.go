// Package cli implements the kbtool command tree.
package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"hlskb/internal/metrics"
)

// RootOptions holds global flags for all commands. Empty values fall back
// to the config file and HLSKB_* environment.
type RootOptions struct {
	ConfigPath     string
	StorageDriver  string
	DSN            string
	ManifestDriver string
	ManifestDir    string
	LogLevel       string
	LogFormat      string
	Operator       string
	MetricsFile    string

	getenv   func(string) string
	now      func() time.Time
	registry *prometheus.Registry
	recorder *metrics.Recorder
}

// NewRootCommand creates the kbtool root command.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{getenv: os.Getenv, now: time.Now})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	if opts.getenv == nil {
		opts.getenv = os.Getenv
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	opts.registry = prometheus.NewRegistry()
	opts.recorder = metrics.New(opts.registry)

	cmd := &cobra.Command{
		Use:   "kbtool",
		Short: "HLS design-rule knowledge base tool",
		Long: `kbtool maintains the HLS design-rule knowledge base.

It imports rules and curated datasets, logs every batch of inserted records
as a change manifest, and rolls a batch back in dependency order inside a
single transaction.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return writeMetricsFile(opts)
		},
	}

	f := cmd.PersistentFlags()
	f.StringVar(&opts.ConfigPath, "config", "", "path to a YAML config file")
	f.StringVar(&opts.StorageDriver, "db-driver", "", "entity store driver (memory|sqlite|postgres)")
	f.StringVar(&opts.DSN, "dsn", "", "database path or connection string")
	f.StringVar(&opts.ManifestDriver, "manifest-driver", "", "manifest backend (fs|s3|memory)")
	f.StringVar(&opts.ManifestDir, "manifest-dir", "", "manifest directory for the fs backend")
	f.StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")
	f.StringVar(&opts.LogFormat, "log-format", "", "log format (text|json)")
	f.StringVar(&opts.Operator, "operator", "", "operator name stamped on manifests")
	f.StringVar(&opts.MetricsFile, "metrics-file", "", "write collected metrics to this file on exit")

	cmd.AddCommand(NewRecordCommand(opts))
	cmd.AddCommand(NewLoggerCommand(opts))
	cmd.AddCommand(NewRollbackCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewImportRulesCommand(opts))
	cmd.AddCommand(NewImportDatasetCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))

	return cmd
}

func writeMetricsFile(opts *RootOptions) error {
	if opts.MetricsFile == "" {
		return nil
	}
	f, err := os.Create(opts.MetricsFile)
	if err != nil {
		return fmt.Errorf("create metrics file: %w", err)
	}
	if err := metrics.Dump(f, opts.registry); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
