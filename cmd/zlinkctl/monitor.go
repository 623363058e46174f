package main

import (
	"context"
	"time"

	monitoringplugin "github.com/dsh2dsh/go-monitoringplugin/v2"
	"github.com/spf13/cobra"

	"github.com/ixsystems/zlinkd/internal/link"
	"github.com/ixsystems/zlinkd/internal/monitor"
)

// remoteStatusSource adapts client's link-list/status RPC calls to
// internal/monitor.StatusSource, so the same Nagios-style check zlinkd
// could run in-process also runs remotely from the operator's shell.
type remoteStatusSource struct {
	ctx context.Context
	c   *client
}

func (s remoteStatusSource) List(ctx context.Context) ([]link.Link, error) {
	return s.c.ListLinks(ctx)
}

func (s remoteStatusSource) StatusAt(name string) (link.LinkStatus, time.Time, bool) {
	st, err := s.c.LinkStatus(s.ctx, name)
	if err != nil || !st.Present {
		return link.LinkStatus{}, time.Time{}, false
	}
	at, err := time.Parse("2006-01-02T15:04:05Z", st.At)
	if err != nil {
		return link.LinkStatus{}, time.Time{}, false
	}
	return st.LinkStatus, at, true
}

func newMonitorCmd() *cobra.Command {
	var staleWarn, staleCrit time.Duration
	var backlogWarn, backlogCrit uint64
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "run the Nagios/NRPE-style link health check against a running zlinkd",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp := monitoringplugin.NewResponse("zlinkd replication links")
			check := monitor.NewLinkCheck(resp).
				WithThresholds(staleWarn, staleCrit).
				WithBacklogThresholds(backlogWarn, backlogCrit)

			src := remoteStatusSource{ctx: cmd.Context(), c: clientFromFlags()}
			if err := check.Run(cmd.Context(), src); err != nil {
				return err
			}
			resp.OutputAndExit()
			return nil
		},
	}
	cmd.Flags().DurationVar(&staleWarn, "stale-warning", 2*time.Hour,
		"warn if a link's last published sync is older than this")
	cmd.Flags().DurationVar(&staleCrit, "stale-critical", 24*time.Hour,
		"critical if a link's last published sync is older than this")
	cmd.Flags().Uint64Var(&backlogWarn, "backlog-warning", 0,
		"warn if a link's last reported backlog exceeds this many bytes (0 disables)")
	cmd.Flags().Uint64Var(&backlogCrit, "backlog-critical", 0,
		"critical if a link's last reported backlog exceeds this many bytes (0 disables)")
	return cmd
}
