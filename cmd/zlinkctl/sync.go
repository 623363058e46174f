package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ixsystems/zlinkd/internal/executor"
	"github.com/ixsystems/zlinkd/internal/planner"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync <name>",
		Short: "run replication.sync for a configured link right now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := clientFromFlags().callTask(cmd.Context(), "replication.sync", map[string]any{"name": args[0]})
			return err
		},
	}
}

func newPlanCmd() *cobra.Command {
	var remoteDS string
	var recursive, followDelete bool
	cmd := &cobra.Command{
		Use:   "plan <localds>",
		Short: "preview the delta plan for a dataset without executing it (replication.calculate_delta)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			localDS := args[0]
			if remoteDS == "" {
				remoteDS = localDS
			}
			res, err := clientFromFlags().callTask(cmd.Context(), "replication.calculate_delta", map[string]any{
				"localds": localDS, "remoteds": remoteDS,
				"recursive": recursive, "followdelete": followDelete,
			})
			if err != nil {
				return err
			}
			var out struct {
				Actions []planner.Action `json:"actions"`
				Size    uint64           `json:"size"`
			}
			if err := res.DecodeValue(&out); err != nil {
				return err
			}
			return printPlan(out.Actions, out.Size)
		},
	}
	cmd.Flags().StringVar(&remoteDS, "remote-dataset", "", "remote dataset root (default: same path as localds)")
	cmd.Flags().BoolVar(&recursive, "recursive", false, "include descendant datasets")
	cmd.Flags().BoolVar(&followDelete, "follow-delete", false, "delete remote-only snapshots that no longer exist locally")
	return cmd
}

func newReplicateCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "replicate <localds>",
		Short: "snapshot, plan and replicate one dataset outside of any configured link (replication.replicate_dataset)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := clientFromFlags().callTask(cmd.Context(), "replication.replicate_dataset", map[string]any{
				"localds": args[0], "dry_run": dryRun,
			})
			if err != nil {
				return err
			}
			var out struct {
				Actions []planner.Action `json:"actions"`
				Result  executor.Result  `json:"result"`
			}
			if err := res.DecodeValue(&out); err != nil {
				return err
			}
			if err := printPlan(out.Actions, out.Result.Bytes); err != nil {
				return err
			}
			fmt.Printf("status: %s: %s\n", out.Result.Status, out.Result.Message)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "plan only, do not execute")
	return cmd
}

func printPlan(actions []planner.Action, size uint64) error {
	if len(actions) == 0 {
		fmt.Println("nothing to do")
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tACTION")
	for i, a := range actions {
		fmt.Fprintf(tw, "%d\t%s\n", i, a.String())
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Printf("estimated send size: %d bytes\n", size)
	return nil
}
