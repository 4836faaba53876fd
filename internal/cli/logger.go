package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"hlskb/internal/core"
	"hlskb/internal/manifest"
)

type loggerOptions struct {
	project              string
	iteration            int
	recent               string
	force                bool
	yes                  bool
	includeEffectiveness bool
}

// NewLoggerCommand creates the logger subcommand, which writes a change
// manifest for records already in the knowledge base.
func NewLoggerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &loggerOptions{}

	cmd := &cobra.Command{
		Use:   "logger",
		Short: "Record a change manifest for a project or a recent window",
		Long: `Record a change manifest listing the records of one project, one
iteration of a project, or everything created within a recent window.

The manifest is the input of the rollback command.`,
		Example: `  kbtool logger --project FIR_Design
  kbtool logger --project FIR_Design --iteration 3
  kbtool logger --recent 1d`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogger(cmd, rootOpts, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.project, "project", "", "project name to log")
	f.IntVar(&opts.iteration, "iteration", 0, "log only this iteration of --project")
	f.StringVar(&opts.recent, "recent", "", "log records created within this window (e.g. 90m, 1d)")
	f.BoolVar(&opts.force, "force", false, "write the manifest even if one exists for the same batch")
	f.BoolVarP(&opts.yes, "yes", "y", false, "answer yes to every prompt")
	f.BoolVar(&opts.includeEffectiveness, "include-effectiveness", false, "also log effectiveness rows of the project's type")
	cmd.MarkFlagsMutuallyExclusive("project", "recent")
	cmd.MarkFlagsOneRequired("project", "recent")

	return cmd
}

func runLogger(cmd *cobra.Command, rootOpts *RootOptions, opts *loggerOptions) (err error) {
	ctx := cmd.Context()
	if opts.iteration != 0 && opts.project == "" {
		return NewExitError(ExitFailure, "--iteration requires --project")
	}
	if opts.iteration < 0 {
		return NewExitError(ExitFailure, "--iteration must be positive")
	}

	a, err := openApp(ctx, cmd, rootOpts, true, confirmerFor(opts.yes))
	if err != nil {
		return err
	}
	defer a.closeInto(&err)

	gen := manifest.NewGenerator(a.store, a.cfg.Operator, rootOpts.utcNow)
	var m manifest.Manifest
	if opts.recent != "" {
		window, perr := manifest.ParseWindow(opts.recent)
		if perr != nil {
			return WrapExitError(ExitFailure, "parse --recent", perr)
		}
		m, err = gen.Recent(ctx, window)
	} else {
		byProject := manifest.ByProjectOptions{IncludeEffectiveness: opts.includeEffectiveness}
		if opts.iteration > 0 {
			byProject.Iteration = &opts.iteration
		}
		m, err = gen.ByProject(ctx, opts.project, byProject)
	}
	if errors.Is(err, manifest.ErrNothingToLog) {
		fmt.Fprintln(cmd.OutOrStdout(), "No records to log.")
		return nil
	}
	if err != nil {
		return WrapExitError(ExitFailure, "build manifest", err)
	}

	h, err := a.manifests.Record(ctx, m, manifest.RecordOptions{Force: opts.force})
	if err != nil {
		return WrapExitError(ExitFailure, "record manifest", err)
	}
	printRecorded(cmd.OutOrStdout(), h, m)
	return nil
}

func confirmerFor(yes bool) core.Confirmer {
	if yes {
		return core.Auto(true)
	}
	return nil
}

func printRecorded(w io.Writer, h manifest.Handle, m manifest.Manifest) {
	fmt.Fprintf(w, "Rollback log created: %s\n", h.Key)
	fmt.Fprintf(w, "Logged %d record(s):\n", len(m.Entries))
	for _, tc := range m.Summary() {
		fmt.Fprintf(w, "  %s: %d\n", tc.Table, tc.Count)
	}
}
