package monitor

import (
	"context"
	"testing"
	"time"

	monitoringplugin "github.com/dsh2dsh/go-monitoringplugin/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ixsystems/zlinkd/internal/link"
)

type fakeSource struct {
	links    []link.Link
	statuses map[string]lastSeen
}

func (f *fakeSource) List(context.Context) ([]link.Link, error) { return f.links, nil }

func (f *fakeSource) StatusAt(name string) (link.LinkStatus, time.Time, bool) {
	s, ok := f.statuses[name]
	return s.LinkStatus, s.At, ok
}

func TestLinkCheckNoLinksIsOK(t *testing.T) {
	resp := monitoringplugin.NewResponse("no links")
	c := NewLinkCheck(resp)
	require.NoError(t, c.Run(context.Background(), &fakeSource{}))
	assert.False(t, c.failed)
}

func TestLinkCheckMissingStatusWarns(t *testing.T) {
	resp := monitoringplugin.NewResponse("check")
	c := NewLinkCheck(resp)
	src := &fakeSource{links: []link.Link{{Name: "l1"}}, statuses: map[string]lastSeen{}}
	require.NoError(t, c.Run(context.Background(), src))
	assert.True(t, c.failed)
}

func TestLinkCheckStaleSyncIsCritical(t *testing.T) {
	resp := monitoringplugin.NewResponse("check")
	c := NewLinkCheck(resp).WithThresholds(time.Hour, 24*time.Hour)
	src := &fakeSource{
		links: []link.Link{{Name: "l1"}},
		statuses: map[string]lastSeen{
			"l1": {LinkStatus: link.LinkStatus{Status: link.StatusSuccess}, At: time.Now().Add(-48 * time.Hour)},
		},
	}
	require.NoError(t, c.Run(context.Background(), src))
	assert.True(t, c.failed)
}

func TestLinkCheckHealthyLinkIsOK(t *testing.T) {
	resp := monitoringplugin.NewResponse("check")
	c := NewLinkCheck(resp).WithThresholds(time.Hour, 24*time.Hour)
	src := &fakeSource{
		links: []link.Link{{Name: "l1"}},
		statuses: map[string]lastSeen{
			"l1": {LinkStatus: link.LinkStatus{Status: link.StatusSuccess}, At: time.Now()},
		},
	}
	require.NoError(t, c.Run(context.Background(), src))
	assert.False(t, c.failed)
}

func TestLinkCheckFailedSyncIsCritical(t *testing.T) {
	resp := monitoringplugin.NewResponse("check")
	c := NewLinkCheck(resp)
	src := &fakeSource{
		links: []link.Link{{Name: "l1"}},
		statuses: map[string]lastSeen{
			"l1": {LinkStatus: link.LinkStatus{Status: link.StatusFailed, Message: "boom"}, At: time.Now()},
		},
	}
	require.NoError(t, c.Run(context.Background(), src))
	assert.True(t, c.failed)
}

func TestLinkCheckBacklogThresholds(t *testing.T) {
	resp := monitoringplugin.NewResponse("check")
	c := NewLinkCheck(resp).WithBacklogThresholds(1000, 10000)
	src := &fakeSource{
		links: []link.Link{{Name: "l1"}},
		statuses: map[string]lastSeen{
			"l1": {LinkStatus: link.LinkStatus{Status: link.StatusSuccess, Size: 20000}, At: time.Now()},
		},
	}
	require.NoError(t, c.Run(context.Background(), src))
	assert.True(t, c.failed)
}
