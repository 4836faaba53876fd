package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// NewListCommand creates the list subcommand.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	var pendingOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List change manifests and their rollback status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, cmd, rootOpts, false, nil)
			if err != nil {
				return err
			}
			keys, err := a.manifests.List(ctx)
			if err != nil {
				return WrapExitError(ExitFailure, "list manifests", err)
			}

			now := rootOpts.utcNow()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "MANIFEST\tSTATUS\tRECORDS\tCREATED")
			shown := 0
			for _, key := range keys {
				m, err := a.manifests.Load(ctx, key)
				if err != nil {
					a.log.Warn("skipping unreadable manifest", "key", key, "error", err)
					continue
				}
				if pendingOnly && m.Completed() {
					continue
				}
				created := m.Timestamp
				if at, err := m.CreatedAt(); err == nil {
					created = humanize.RelTime(at, now, "ago", "from now")
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", key, m.Status, len(m.Entries), created)
				shown++
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if shown == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No manifests found.")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&pendingOnly, "pending", false, "show only manifests that have not been rolled back")

	return cmd
}
