package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"hlskb/internal/core"
	"hlskb/internal/manifest"
	"hlskb/internal/metrics"
)

type statsOptions struct {
	projectType string
	minRate     float64
	limit       int
	project     string
	metrics     bool
}

// NewStatsCommand creates the stats subcommand.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &statsOptions{}

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show knowledge base contents and rule effectiveness",
		Long: `Show how many records each table holds. With --project-type, list the
most effective rules for that project type; with --project, show the II
progress of a project's iterations.`,
		Example: `  kbtool stats
  kbtool stats --project-type fir --min-rate 0.5 --limit 10
  kbtool stats --project FIR_Design`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd, rootOpts, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.projectType, "project-type", "", "list effective rules for this project type")
	f.Float64Var(&opts.minRate, "min-rate", 0, "minimum success rate (0..1) of listed rules")
	f.IntVar(&opts.limit, "limit", 20, "maximum number of rules listed, 0 for all")
	f.StringVar(&opts.project, "project", "", "show iteration progress of this project")
	f.BoolVar(&opts.metrics, "metrics", false, "print the metrics collected by this run")

	return cmd
}

func runStats(cmd *cobra.Command, rootOpts *RootOptions, opts *statsOptions) (err error) {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	if opts.minRate < 0 || opts.minRate > 1 {
		return NewExitError(ExitFailure, "--min-rate must be between 0 and 1")
	}

	a, err := openApp(ctx, cmd, rootOpts, true, nil)
	if err != nil {
		return err
	}
	defer a.closeInto(&err)
	svc := core.NewService(a.store, a.engineOptions()...)

	counts, err := svc.Counts(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "count records", err)
	}
	fmt.Fprintln(out, "Knowledge base:")
	for _, c := range counts {
		fmt.Fprintf(out, "  %-20s %s\n", c.Table, humanize.Comma(int64(c.Count)))
	}

	if opts.projectType != "" {
		rules, err := svc.EffectiveRules(ctx, opts.projectType, opts.minRate, opts.limit)
		if err != nil {
			return WrapExitError(ExitFailure, "query effective rules", err)
		}
		fmt.Fprintf(out, "\nEffective rules for %s:\n", opts.projectType)
		if err := printEffectiveRules(out, rules); err != nil {
			return err
		}
	}

	if opts.project != "" {
		project, steps, err := svc.Progress(ctx, opts.project)
		if err != nil {
			return WrapExitError(ExitFailure, "query project progress", err)
		}
		fmt.Fprintf(out, "\nProgress of %s (%s):\n", project.Name, project.Type)
		if err := printProgress(out, steps); err != nil {
			return err
		}
	}

	if opts.metrics {
		fmt.Fprintln(out, "\nMetrics:")
		if err := metrics.Dump(out, rootOpts.registry); err != nil {
			return err
		}
	}
	return nil
}

func printEffectiveRules(w io.Writer, rules []core.EffectiveRule) error {
	if len(rules) == 0 {
		_, err := fmt.Fprintln(w, "  none")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  RULE\tRATE\tAPPLIED\tAVG GAIN\tPRIORITY\tTEXT")
	for _, r := range rules {
		code := r.Rule.Code
		if code == "" {
			code = "-"
		}
		e := r.Effectiveness
		fmt.Fprintf(tw, "  %s\t%.0f%%\t%d\t%.2f\t%d\t%s\n",
			code, e.SuccessRate()*100, e.TimesApplied, e.AvgImprovement, r.Rule.Priority, manifest.Truncate(r.Rule.Text, 60))
	}
	return tw.Flush()
}

func printProgress(w io.Writer, steps []core.IterationProgress) error {
	if len(steps) == 0 {
		_, err := fmt.Fprintln(w, "  no iterations")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  ITER\tII\tGAIN\tAPPROACH")
	for _, s := range steps {
		ii, gain := "-", "-"
		if s.Synthesis != nil {
			ii = fmt.Sprint(s.Synthesis.IIAchieved)
		}
		if s.IIGain != nil {
			gain = fmt.Sprintf("%+d", *s.IIGain)
		}
		fmt.Fprintf(tw, "  #%d\t%s\t%s\t%s\n", s.Iteration.Number, ii, gain, manifest.Truncate(s.Iteration.ApproachDescription, 50))
	}
	return tw.Flush()
}
