// Command zlinkctl is the operator CLI for zlinkd: link CRUD, on-demand
// sync, plan preview, a live status view, and a Nagios-style health
// check. It never touches ZFS or the datastore itself — every subcommand
// is a thin call across zlinkd's peer-facing RPC API (internal/server),
// the same JSON protocol zlinkd's two instances use to talk to each
// other.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	addrFlag    string
	timeoutFlag time.Duration
)

func main() {
	root := &cobra.Command{
		Use:           "zlinkctl",
		Short:         "control zlinkd, the ZFS replication link daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&addrFlag, "addr", "http://127.0.0.1:5001",
		"base URL of the zlinkd RPC listener to control")
	root.PersistentFlags().DurationVar(&timeoutFlag, "timeout", 20*time.Second,
		"RPC call timeout")

	root.AddCommand(
		newLinkCmd(),
		newSyncCmd(),
		newPlanCmd(),
		newReplicateCmd(),
		newStatusCmd(),
		newMonitorCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "zlinkctl:", err)
		os.Exit(1)
	}
}

// clientFromFlags builds the RPC client every subcommand uses, from the
// persistent --addr/--timeout flags.
func clientFromFlags() *client {
	return newClient(addrFlag, timeoutFlag)
}
