package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"hlskb/internal/core"
	"hlskb/internal/manifest"
	"hlskb/pkg/domain"
)

const lockRetryDelay = 200 * time.Millisecond

type rollbackOptions struct {
	dryRun bool
	yes    bool
	rerun  bool
	wait   time.Duration
}

// NewRollbackCommand creates the rollback subcommand.
func NewRollbackCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &rollbackOptions{}

	cmd := &cobra.Command{
		Use:   "rollback <manifest>",
		Short: "Delete the records listed in a change manifest",
		Long: `Delete every record listed in a change manifest, children before
parents, inside one transaction. Either all listed records are removed or
none are.

The manifest may be given as its key or, for the fs manifest driver, as a
path to a file inside the manifest directory.

A manifest that was already rolled back is refused unless --rerun is given.
--yes does not approve a rerun.`,
		Example: `  kbtool rollback rollback_FIR_Design_iter3_20251012_100000.yaml --dry-run
  kbtool rollback logs/rollback_FIR_Design_20251012_100000.yaml --yes
  kbtool rollback rollback_FIR_Design_20251012_100000.yaml --rerun --yes`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRollback(cmd, rootOpts, opts, args[0])
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.dryRun, "dry-run", false, "print the deletion plan without touching the knowledge base")
	f.BoolVarP(&opts.yes, "yes", "y", false, "approve deleting the listed records without prompting")
	f.BoolVar(&opts.rerun, "rerun", false, "re-run a manifest that was already rolled back")
	f.DurationVar(&opts.wait, "lock-wait", 5*time.Second, "how long to wait for another rollback of the same manifest")

	return cmd
}

func runRollback(cmd *cobra.Command, rootOpts *RootOptions, opts *rollbackOptions, arg string) (err error) {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	a, err := openApp(ctx, cmd, rootOpts, !opts.dryRun, confirmerFor(opts.yes))
	if err != nil {
		return err
	}
	defer a.closeInto(&err)

	key, err := manifestKey(a, arg)
	if err != nil {
		return err
	}

	if opts.dryRun {
		plan, err := core.NewRollbackExecutor(a.store, a.manifests, a.confirm, a.engineOptions()...).Preview(ctx, key)
		if err != nil {
			return WrapExitError(ExitFailure, "plan rollback", err)
		}
		printPlanHeader(out, key, plan)
		fmt.Fprintln(out)
		if err := plan.Render(out); err != nil {
			return err
		}
		fmt.Fprintln(out, "\nDry run: no records were deleted.")
		return nil
	}

	unlock, err := lockManifest(ctx, a, key, opts.wait)
	if err != nil {
		return err
	}
	defer unlock()

	exec := core.NewRollbackExecutor(a.store, a.manifests, a.confirm, a.engineOptions()...)
	if rerun := opts.rerunConfirmer(a.confirm); rerun != nil {
		exec.AllowRerun(rerun)
	}
	rep, err := exec.Execute(ctx, manifest.Handle{Key: key})
	if errors.Is(err, domain.ErrAlreadyRolledBack) && !opts.rerun {
		return WrapExitError(ExitRefused, "rollback "+key+" (pass --rerun to run it again)", err)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "rollback "+key, err)
	}

	printPlanHeader(out, key, rep.Plan)
	fmt.Fprintf(out, "Deleted %d record(s):\n", rep.DeletedTotal())
	for _, step := range rep.Plan.Steps {
		fmt.Fprintf(out, "  %s: %d\n", step.Table, rep.Deleted[step.Table])
	}
	if rep.Missing > 0 {
		fmt.Fprintf(out, "%d listed record(s) were already gone.\n", rep.Missing)
	}
	fmt.Fprintf(out, "Manifest %s marked completed at %s\n", key, rep.CompletedAt.Format(time.RFC3339))
	return nil
}

// rerunConfirmer answers the rerun question. --rerun approves it. Otherwise
// an interactive run asks it as a separate prompt and --yes refuses it.
func (o *rollbackOptions) rerunConfirmer(interactive core.Confirmer) core.Confirmer {
	switch {
	case o.rerun:
		return core.Auto(true)
	case o.yes:
		return nil
	default:
		return interactive
	}
}

// manifestKey reduces arg to a manifest key. A path is accepted only for the
// fs driver and only when it points into the manifest directory.
func manifestKey(a *app, arg string) (string, error) {
	key := filepath.Base(arg)
	if key == arg {
		return key, nil
	}
	if a.cfg.Manifests.Driver != "fs" {
		return "", NewExitError(ExitFailure, fmt.Sprintf("manifest %q: the %s driver takes a key, not a path", arg, a.cfg.Manifests.Driver))
	}
	dir, err := filepath.Abs(filepath.Dir(arg))
	if err != nil {
		return "", WrapExitError(ExitFailure, "resolve manifest path", err)
	}
	root, err := filepath.Abs(a.cfg.Manifests.Root)
	if err != nil {
		return "", WrapExitError(ExitFailure, "resolve manifest directory", err)
	}
	if dir != root {
		return "", NewExitError(ExitFailure, fmt.Sprintf("manifest %s is outside the manifest directory %s", arg, a.cfg.Manifests.Root))
	}
	return key, nil
}

func printPlanHeader(w io.Writer, key string, plan core.Plan) {
	label := plan.Label
	if plan.Iteration != nil {
		label = fmt.Sprintf("%s (iteration %d)", label, *plan.Iteration)
	}
	fmt.Fprintf(w, "Manifest: %s\n", key)
	fmt.Fprintf(w, "Project:  %s\n", label)
	fmt.Fprintf(w, "Status:   %s\n", plan.Status)
	fmt.Fprintf(w, "Records:  %d\n", plan.Total())
}

// lockManifest takes an advisory lock so two operators cannot roll back the
// same manifest concurrently. The lock file sits beside filesystem
// manifests and in the temp directory otherwise.
func lockManifest(ctx context.Context, a *app, key string, wait time.Duration) (func(), error) {
	dir := os.TempDir()
	name := "hlskb-" + strings.TrimSuffix(key, filepath.Ext(key)) + ".lock"
	if a.cfg.Manifests.Driver == "fs" {
		dir, name = a.cfg.Manifests.Root, key+".lock"
	}
	lock := flock.New(filepath.Join(dir, name))

	lockCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	ok, err := lock.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil && lockCtx.Err() == nil {
		return nil, WrapExitError(ExitFailure, "lock manifest", err)
	}
	if !ok {
		return nil, NewExitError(ExitFailure, fmt.Sprintf("manifest %s is being rolled back by another process", key))
	}
	a.log.Debug("manifest locked", "path", lock.Path())
	return func() {
		if err := lock.Unlock(); err != nil {
			a.log.Warn("release manifest lock", "path", lock.Path(), "error", err)
		}
		if a.cfg.Manifests.Driver == "fs" {
			_ = os.Remove(lock.Path())
		}
	}, nil
}
