package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ixsystems/zlinkd/internal/link"
)

func newLinkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link",
		Short: "inspect and mutate replication links",
	}
	cmd.AddCommand(
		newLinkListCmd(),
		newLinkGetCmd(),
		newLinkCreateCmd(),
		newLinkUpdateCmd(),
		newLinkDeleteCmd(),
		newLinkCheckCmd(),
	)
	return cmd
}

func newLinkListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list every link this host's registry knows about",
		RunE: func(cmd *cobra.Command, args []string) error {
			links, err := clientFromFlags().ListLinks(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tPARTNERS\tMASTER\tDATASETS\tUPDATED")
			for _, l := range links {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					l.Name, strings.Join(l.Partners[:], ","), l.Master,
					strings.Join(l.Datasets, ","), l.UpdateDate.Format("2006-01-02T15:04:05Z"))
			}
			return tw.Flush()
		},
	}
}

func newLinkGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <name>",
		Short: "fetch the reconciled copy of a link (replication.get_latest_link)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := clientFromFlags().callTask(cmd.Context(), "replication.get_latest_link", args[0])
			if err != nil {
				return err
			}
			var l link.Link
			if err := res.DecodeValue(&l); err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(l)
		},
	}
}

// linkFlags holds the fields every link-shaped subcommand accepts.
type linkFlags struct {
	partners          []string
	master            string
	datasets          []string
	recursive         bool
	bidirectional     bool
	replicateServices bool
	autoMatchDisks    bool
}

func (f *linkFlags) register(flags *pflag.FlagSet) {
	flags.StringSliceVar(&f.partners, "partner", nil, "partner IP (repeat twice)")
	flags.StringVar(&f.master, "master", "", "master partner IP")
	flags.StringSliceVar(&f.datasets, "dataset", nil, "dataset name (repeatable)")
	flags.BoolVar(&f.recursive, "recursive", false, "include descendant datasets")
	flags.BoolVar(&f.bidirectional, "bidirectional", false, "replicate in both directions")
	flags.BoolVar(&f.replicateServices, "replicate-services", false, "also replicate dependent shares/containers (requires --bidirectional)")
	flags.BoolVar(&f.autoMatchDisks, "auto-match-disks", false, "let prepare_slave auto-match empty disks by mediasize")
}

func (f *linkFlags) toLink(name string) (link.Link, error) {
	if len(f.partners) != 2 {
		return link.Link{}, fmt.Errorf("zlinkctl: exactly two --partner flags are required")
	}
	return link.Link{
		Name:              name,
		Partners:          [2]string{f.partners[0], f.partners[1]},
		Master:            f.master,
		Datasets:          f.datasets,
		Recursive:         f.recursive,
		Bidirectional:     f.bidirectional,
		ReplicateServices: f.replicateServices,
		AutoMatchDisks:    f.autoMatchDisks,
	}, nil
}

func newLinkCreateCmd() *cobra.Command {
	f := &linkFlags{}
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "create a link on this host and mirror it to the peer (replication.create)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := f.toLink(args[0])
			if err != nil {
				return err
			}
			_, err = clientFromFlags().callTask(cmd.Context(), "replication.create", l)
			return err
		},
	}
	f.register(cmd.Flags())
	return cmd
}

func newLinkUpdateCmd() *cobra.Command {
	f := &linkFlags{}
	cmd := &cobra.Command{
		Use:   "update <name>",
		Short: "apply a partial update to a link (replication.update)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := f.toLink(args[0])
			if err != nil {
				return err
			}
			_, err = clientFromFlags().callTask(cmd.Context(), "replication.update", l)
			return err
		},
	}
	f.register(cmd.Flags())
	return cmd
}

func newLinkDeleteCmd() *cobra.Command {
	var scrub bool
	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "remove a link locally and on its peer (replication.delete)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := clientFromFlags().callTask(cmd.Context(), "replication.delete", map[string]any{
				"name": args[0], "scrub": scrub,
			})
			return err
		},
	}
	cmd.Flags().BoolVar(&scrub, "scrub", false, "also destroy the slave-side replicated datasets")
	return cmd
}

func newLinkCheckCmd() *cobra.Command {
	f := &linkFlags{}
	cmd := &cobra.Command{
		Use:   "check <name>",
		Short: "run the create/update precheck without persisting anything (replication.check_datasets)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := f.toLink(args[0])
			if err != nil {
				return err
			}
			if _, err := clientFromFlags().callTask(cmd.Context(), "replication.check_datasets", l); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
	f.register(cmd.Flags())
	return cmd
}
