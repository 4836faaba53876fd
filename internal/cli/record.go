package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"hlskb/internal/core"
	"hlskb/internal/dataset"
	"hlskb/internal/manifest"
	"hlskb/pkg/domain"
)

// iterationDocument is the YAML input of the record command. The iteration
// block uses the dataset iteration layout; iteration_number may be omitted
// to take the next free number.
type iterationDocument struct {
	ProjectID   string            `yaml:"project_id"`
	ProjectName string            `yaml:"project_name"`
	ProjectType string            `yaml:"project_type"`
	Iteration   dataset.Iteration `yaml:"iteration"`
}

func parseIterationDocument(r io.Reader) (iterationDocument, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return iterationDocument{}, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var doc iterationDocument
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return iterationDocument{}, fmt.Errorf("decode iteration: %w", err)
	}
	if doc.ProjectType == "" {
		return iterationDocument{}, errors.New("project_type is required")
	}
	return doc, nil
}

func (d iterationDocument) input() core.IterationInput {
	it := d.Iteration
	in := core.IterationInput{
		ProjectID:   d.ProjectID,
		ProjectName: d.ProjectName,
		ProjectType: d.ProjectType,
		Iteration: domain.DesignIteration{
			Number:              it.Number,
			ApproachDescription: it.ApproachDescription,
			CodeSnapshot:        it.CodeSnapshot,
			PragmasUsed:         it.PragmasUsed,
			PromptUsed:          it.PromptUsed,
			Reasoning:           it.Reasoning,
			UserReferenceCode:   it.UserReferenceCode,
			UserSpecification:   it.UserSpecification,
			ReferenceMetadata:   it.ReferenceMetadata,
		},
	}
	if s := it.Synthesis; s != nil {
		in.Synthesis = &domain.SynthesisResult{
			IIAchieved:    s.IIAchieved,
			IITarget:      s.IITarget,
			LatencyCycles: s.LatencyCycles,
			TimingMet:     s.TimingMet,
			ResourceUsage: s.ResourceUsage,
			ClockPeriodNS: s.ClockPeriodNS,
		}
	}
	for _, r := range it.Rules {
		in.Rules = append(in.Rules, core.RuleApplication{
			Code:           r.Code,
			Text:           r.Description,
			Keywords:       r.Keywords,
			PreviousMetric: r.PreviousII,
			CurrentMetric:  r.CurrentII,
			ClaimedSuccess: r.Success,
		})
	}
	return in
}

type recordOptions struct {
	yes   bool
	force bool
	noLog bool
}

// NewRecordCommand creates the record subcommand, which stores one live
// design iteration and accumulates the outcome of every rule it applied.
func NewRecordCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &recordOptions{}

	cmd := &cobra.Command{
		Use:   "record <file|->",
		Short: "Record one design iteration and its rule outcomes",
		Long: `Record one design iteration from a YAML document. The project is
created when missing, the synthesis result is stored with the iteration, and
each applied rule that matches a stored rule exactly updates its running
effectiveness statistics for the project type.

Created rows are logged in a change manifest unless --no-log is given.`,
		Example: `  kbtool record iteration.yaml
  cat iteration.yaml | kbtool record -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(cmd, rootOpts, opts, args[0])
		},
	}

	f := cmd.Flags()
	f.BoolVarP(&opts.yes, "yes", "y", false, "answer yes to every prompt")
	f.BoolVar(&opts.force, "force", false, "write the manifest even if one exists for the same batch")
	f.BoolVar(&opts.noLog, "no-log", false, "do not write a change manifest")

	return cmd
}

func runRecord(cmd *cobra.Command, rootOpts *RootOptions, opts *recordOptions, path string) (err error) {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	var src io.Reader = cmd.InOrStdin()
	if path != "-" {
		file, err := os.Open(path)
		if err != nil {
			return WrapExitError(ExitFailure, "open iteration file", err)
		}
		defer func() { _ = file.Close() }()
		src = file
	}
	doc, err := parseIterationDocument(src)
	if err != nil {
		return WrapExitError(ExitFailure, "parse iteration", err)
	}

	a, err := openApp(ctx, cmd, rootOpts, true, confirmerFor(opts.yes))
	if err != nil {
		return err
	}
	defer a.closeInto(&err)

	rec, err := core.NewIterationRecorder(a.store, a.engineOptions()...).Record(ctx, doc.input())
	if err != nil {
		return WrapExitError(ExitFailure, "record iteration", err)
	}
	fmt.Fprintf(out, "Recorded %s iteration #%d (%s)\n", rec.Project.Name, rec.Iteration.Number, rec.Iteration.ID)
	fmt.Fprintf(out, "Rules applied: %d, unmatched: %d\n", len(rec.Applied), len(rec.Unmatched))

	if opts.noLog {
		return nil
	}
	m := rec.Manifest(a.cfg.Operator, rootOpts.utcNow())
	h, err := a.manifests.Record(ctx, m, manifest.RecordOptions{Force: opts.force})
	if err != nil {
		return WrapExitError(ExitFailure, "record manifest", err)
	}
	printRecorded(out, h, m)
	return nil
}
