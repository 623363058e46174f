// Package monitor implements a Nagios/NRPE-style health check over this
// engine's link registry: a builder (WithThresholds/Run) and a single
// worst-status-wins Response.
package monitor

import (
	"context"
	"fmt"
	"time"

	monitoringplugin "github.com/dsh2dsh/go-monitoringplugin/v2"

	"github.com/ixsystems/zlinkd/internal/link"
)

// LinkCheck checks every configured link's staleness (time since its last
// published status) and backlog (last reported send size), surfacing
// WARNING/CRITICAL when either passes its threshold.
type LinkCheck struct {
	warn time.Duration
	crit time.Duration

	backlogWarn uint64
	backlogCrit uint64

	resp *monitoringplugin.Response

	failed bool
}

// NewLinkCheck builds a LinkCheck publishing into resp.
func NewLinkCheck(resp *monitoringplugin.Response) *LinkCheck {
	return &LinkCheck{resp: resp}
}

// WithThresholds sets the staleness thresholds. LinkStatus carries no
// explicit staleness field; this check derives it from the age of the
// timestamp StatusAt reports for the link's last published status.
func (c *LinkCheck) WithThresholds(warn, crit time.Duration) *LinkCheck {
	c.warn, c.crit = warn, crit
	return c
}

// WithBacklogThresholds sets size-in-bytes thresholds for the most recent
// sync's reported LinkStatus.Size ("how much is still queued").
func (c *LinkCheck) WithBacklogThresholds(warn, crit uint64) *LinkCheck {
	c.backlogWarn, c.backlogCrit = warn, crit
	return c
}

// lastSeen is the narrow view LinkCheck needs of a link's status, beyond
// what link.Registry.Status already returns: when it was last observed,
// so staleness can be computed.
type lastSeen struct {
	link.LinkStatus
	At time.Time
}

// StatusSource is implemented by link.Registry (a method value or a thin
// adapter); kept narrow so this package doesn't need the whole Registry
// surface to run a check.
type StatusSource interface {
	List(ctx context.Context) ([]link.Link, error)
	StatusAt(name string) (link.LinkStatus, time.Time, bool)
}

// Run checks every link src reports, updating c's Response as it goes.
func (c *LinkCheck) Run(ctx context.Context, src StatusSource) error {
	links, err := src.List(ctx)
	if err != nil {
		return fmt.Errorf("monitor: list links: %w", err)
	}
	if len(links) == 0 {
		c.resp.UpdateStatus(monitoringplugin.OK, "no replication links configured")
		return nil
	}

	for _, l := range links {
		status, at, ok := src.StatusAt(l.Name)
		if !ok {
			c.updateStatus(monitoringplugin.WARNING, "link %q: no sync status recorded yet", l.Name)
			continue
		}
		c.checkOne(l.Name, status, at)
	}

	if !c.failed {
		c.resp.UpdateStatus(monitoringplugin.OK, fmt.Sprintf("%d link(s) healthy", len(links)))
	}
	return nil
}

func (c *LinkCheck) checkOne(name string, status link.LinkStatus, at time.Time) {
	if status.Status == link.StatusFailed {
		c.updateStatus(monitoringplugin.CRITICAL, "link %q: last sync failed: %s", name, status.Message)
		return
	}

	age := time.Since(at)
	switch {
	case c.crit > 0 && age >= c.crit:
		c.updateStatus(monitoringplugin.CRITICAL, "link %q: last sync %s ago (>= %s)", name, age.Truncate(time.Second), c.crit)
		return
	case c.warn > 0 && age >= c.warn:
		c.updateStatus(monitoringplugin.WARNING, "link %q: last sync %s ago (>= %s)", name, age.Truncate(time.Second), c.warn)
		return
	}

	switch {
	case c.backlogCrit > 0 && status.Size >= c.backlogCrit:
		c.updateStatus(monitoringplugin.CRITICAL, "link %q: backlog %d bytes (>= %d)", name, status.Size, c.backlogCrit)
	case c.backlogWarn > 0 && status.Size >= c.backlogWarn:
		c.updateStatus(monitoringplugin.WARNING, "link %q: backlog %d bytes (>= %d)", name, status.Size, c.backlogWarn)
	}
}

func (c *LinkCheck) updateStatus(statusCode int, format string, a ...any) {
	c.failed = c.failed || statusCode != monitoringplugin.OK
	c.resp.UpdateStatus(statusCode, fmt.Sprintf(format, a...))
}
