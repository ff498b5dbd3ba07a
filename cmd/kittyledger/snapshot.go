package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSnapshotCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Export, list and restore ledger snapshots",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "export",
			Short: "Archive the current ledger state",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				a, err := opts.service()
				if err != nil {
					return err
				}
				key, err := a.svc.ArchiveSnapshot(cmd.Context(), a.archive)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), key)
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List archived snapshots, oldest first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				a, err := opts.service()
				if err != nil {
					return err
				}
				infos, err := a.archive.List(cmd.Context())
				if err != nil {
					return err
				}
				for _, info := range infos {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\t%s\n", info.Key, info.Size, info.Metadata["kitties"])
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "restore [key]",
			Short: "Replace the ledger state with a snapshot (latest when no key is given)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := opts.service()
				if err != nil {
					return err
				}
				var key string
				if len(args) == 1 {
					key = args[0]
				}
				restored, err := a.svc.RestoreSnapshot(cmd.Context(), a.archive, key)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "restored %s\n", restored)
				return nil
			},
		},
	)
	return cmd
}
