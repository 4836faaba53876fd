package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"hlskb/internal/dataset"
	"hlskb/internal/manifest"
	"hlskb/internal/ruleimport"
	"hlskb/pkg/domain"
)

type importRulesOptions struct {
	profile string
	mode    string
	yes     bool
	force   bool
	noLog   bool
}

// NewImportRulesCommand creates the import-rules subcommand.
func NewImportRulesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &importRulesOptions{}

	cmd := &cobra.Command{
		Use:   "import-rules <file>",
		Short: "Import design rules from a plain-text rule file",
		Long: `Import rules written as "- [P001] text" list items under "#" section
headings. The profile decides the rule kind, category and priority mapping:

  official     UG1399 guide rules
  user_prompt  rules distilled from user optimisation prompts

Inserted rules are logged in a change manifest unless --no-log is given.`,
		Example: `  kbtool import-rules ug1399_rules.txt --profile official
  kbtool import-rules user_prompts.txt --profile user_prompt --mode replace --yes`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImportRules(cmd, rootOpts, opts, args[0])
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.profile, "profile", ruleimport.Official.Name, "rule file profile (official|user_prompt)")
	f.StringVar(&opts.mode, "mode", string(ruleimport.ModeUpsert), "existing rule handling (upsert|skip|replace)")
	f.BoolVarP(&opts.yes, "yes", "y", false, "answer yes to every prompt")
	f.BoolVar(&opts.force, "force", false, "write the manifest even if one exists for the same batch")
	f.BoolVar(&opts.noLog, "no-log", false, "do not write a change manifest")

	return cmd
}

func runImportRules(cmd *cobra.Command, rootOpts *RootOptions, opts *importRulesOptions, path string) (err error) {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	profile, ok := ruleimport.ProfileByName(opts.profile)
	if !ok {
		return NewExitError(ExitFailure, fmt.Sprintf("unknown profile %q (want official or user_prompt)", opts.profile))
	}
	mode, err := ruleimport.ParseMode(opts.mode)
	if err != nil {
		return WrapExitError(ExitFailure, "parse --mode", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return WrapExitError(ExitFailure, "open rule file", err)
	}
	defer func() { _ = file.Close() }()
	rules, err := ruleimport.Parse(file, filepath.Base(path), profile)
	if err != nil {
		return WrapExitError(ExitFailure, "parse rule file", err)
	}
	fmt.Fprintf(out, "Parsed %d rule(s) from %s\n", len(rules), path)

	a, err := openApp(ctx, cmd, rootOpts, true, confirmerFor(opts.yes))
	if err != nil {
		return err
	}
	defer a.closeInto(&err)

	if mode == ruleimport.ModeReplace {
		ok, err := a.confirm.Confirm(fmt.Sprintf("Replace every %s rule and its effectiveness statistics?", profile.Kind))
		if err != nil {
			return WrapExitError(ExitFailure, "confirm replace", err)
		}
		if !ok {
			return WrapExitError(ExitRefused, "import-rules", domain.ErrCancelled)
		}
	}

	sum, err := ruleimport.NewImporter(a.store, a.log).Import(ctx, rules, profile, mode)
	if err != nil {
		return WrapExitError(ExitFailure, "import rules", err)
	}
	fmt.Fprintf(out, "Inserted: %d\nUpdated:  %d\nSkipped:  %d\n", sum.Inserted, sum.Updated, sum.Skipped)
	if sum.Removed > 0 {
		fmt.Fprintf(out, "Removed:  %d\n", sum.Removed)
	}
	for _, c := range sum.Conflicts {
		fmt.Fprintf(out, "Code conflict: [%s] %s\n", c.Code, manifest.Truncate(c.Text, 60))
	}

	if opts.noLog || len(sum.Entries) == 0 {
		return nil
	}
	m := sum.Manifest("rules_"+profile.Name, a.cfg.Operator, rootOpts.utcNow())
	h, err := a.manifests.Record(ctx, m, manifest.RecordOptions{Force: opts.force})
	if err != nil {
		return WrapExitError(ExitFailure, "record manifest", err)
	}
	printRecorded(out, h, m)
	return nil
}

type importDatasetOptions struct {
	yes   bool
	force bool
	noLog bool
}

// NewImportDatasetCommand creates the import-dataset subcommand.
func NewImportDatasetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &importDatasetOptions{}

	cmd := &cobra.Command{
		Use:   "import-dataset <file>",
		Short: "Re-import a curated project dataset",
		Long: `Re-import a YAML project history. The project is addressed by its
stable ID and iterations by number, so running the import again converges on
the file's contents. Rule statistics are overwritten, never accumulated.

Created rows are logged in a change manifest unless --no-log is given.`,
		Example: `  kbtool import-dataset fir128.yaml`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImportDataset(cmd, rootOpts, opts, args[0])
		},
	}

	f := cmd.Flags()
	f.BoolVarP(&opts.yes, "yes", "y", false, "answer yes to every prompt")
	f.BoolVar(&opts.force, "force", false, "write the manifest even if one exists for the same batch")
	f.BoolVar(&opts.noLog, "no-log", false, "do not write a change manifest")

	return cmd
}

func runImportDataset(cmd *cobra.Command, rootOpts *RootOptions, opts *importDatasetOptions, path string) (err error) {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	f, err := dataset.Load(path)
	if err != nil {
		return WrapExitError(ExitFailure, "load dataset", err)
	}

	a, err := openApp(ctx, cmd, rootOpts, true, confirmerFor(opts.yes))
	if err != nil {
		return err
	}
	defer a.closeInto(&err)

	imp := dataset.NewImporter(a.store, dataset.WithLogger(a.log), dataset.WithMetrics(rootOpts.recorder))
	res, err := imp.Import(ctx, f)
	if err != nil {
		return WrapExitError(ExitFailure, "import dataset", err)
	}

	verb := "updated"
	if res.ProjectCreated {
		verb = "created"
	}
	fmt.Fprintf(out, "Project %s %s\n", res.Project.Name, verb)
	fmt.Fprintf(out, "Iterations: %d created, %d updated\n", res.IterationsCreated, res.IterationsUpdated)
	fmt.Fprintf(out, "Synthesis results: %d created, %d updated\n", res.SynthesisCreated, res.SynthesisUpdated)
	fmt.Fprintf(out, "Rule effectiveness overwritten: %d\n", len(res.Rules))
	if len(res.Unmatched) > 0 {
		refs := make([]string, len(res.Unmatched))
		for i, u := range res.Unmatched {
			refs[i] = u.Code
			if refs[i] == "" {
				refs[i] = manifest.Truncate(u.Description, 40)
			}
		}
		fmt.Fprintf(out, "Unmatched rules: %s\n", strings.Join(refs, ", "))
	}

	if opts.noLog || len(res.Entries) == 0 {
		return nil
	}
	m := res.Manifest(a.cfg.Operator, rootOpts.utcNow())
	h, err := a.manifests.Record(ctx, m, manifest.RecordOptions{Force: opts.force})
	if err != nil {
		return WrapExitError(ExitFailure, "record manifest", err)
	}
	printRecorded(out, h, m)
	return nil
}
