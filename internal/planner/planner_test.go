package planner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ixsystems/zlinkd/internal/zfs"
)

func snap(ds, name string, created int64) zfs.Snapshot {
	return zfs.Snapshot{Dataset: ds, Name: name, CreatedAt: created}
}

func noEstimate(_ context.Context, _, _, _ string) (uint64, error) { return 0, nil }

func sizedEstimate(sizes map[string]uint64) EstimateFunc {
	return func(_ context.Context, _, from, to string) (uint64, error) {
		return sizes[from+">"+to], nil
	}
}

func TestPlanFreshLineageRecursive(t *testing.T) {
	req := Request{
		LocalRoot:  "tank/a",
		RemoteRoot: "pool/a",
		LocalDatasets: []zfs.Dataset{
			{Name: "tank/a"},
		},
		RemoteDatasets: nil,
		LocalSnaps: []zfs.Snapshot{
			snap("tank/a", "auto-1", 1000),
			snap("tank/a", "auto-2", 2000),
		},
		Recursive:    true,
		FollowDelete: false,
	}

	estimate := sizedEstimate(map[string]uint64{
		">auto-1":       100,
		"auto-1>auto-2": 200,
	})
	actions, total, err := Plan(t.Context(), req, estimate)
	require.NoError(t, err)

	require.Len(t, actions, 2)
	assert.Equal(t, Action{Kind: ActionSendStream, Localfs: "tank/a", Remotefs: "pool/a",
		Incremental: false, Snapshot: "auto-1", SendSize: 100}, actions[0])
	assert.Equal(t, Action{Kind: ActionSendStream, Localfs: "tank/a", Remotefs: "pool/a",
		Incremental: true, Anchor: "auto-1", Snapshot: "auto-2", SendSize: 200}, actions[1])
	assert.EqualValues(t, 300, total)
}

func TestPlanIncrementalCatchUp(t *testing.T) {
	req := Request{
		LocalRoot: "tank/a", RemoteRoot: "pool/a",
		LocalDatasets: []zfs.Dataset{{Name: "tank/a"}},
		LocalSnaps: []zfs.Snapshot{
			snap("tank/a", "s1", 100), snap("tank/a", "s2", 200), snap("tank/a", "s3", 300),
		},
		RemoteSnaps: []zfs.Snapshot{
			snap("pool/a", "s1", 100), snap("pool/a", "s2", 200),
		},
	}
	actions, _, err := Plan(t.Context(), req, noEstimate)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, Action{Kind: ActionSendStream, Localfs: "tank/a", Remotefs: "pool/a",
		Incremental: true, Anchor: "s2", Snapshot: "s3"}, actions[0])
}

func TestPlanDivergenceFollowDeleteOn(t *testing.T) {
	req := Request{
		LocalRoot: "tank/a", RemoteRoot: "pool/a",
		LocalDatasets: []zfs.Dataset{{Name: "tank/a"}},
		LocalSnaps: []zfs.Snapshot{
			snap("tank/a", "s1", 100), snap("tank/a", "s3", 300),
		},
		RemoteSnaps: []zfs.Snapshot{
			snap("pool/a", "s1", 100), snap("pool/a", "s2", 200),
		},
		FollowDelete: true,
	}
	actions, _, err := Plan(t.Context(), req, noEstimate)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, Action{Kind: ActionDeleteSnapshots, Localfs: "tank/a", Remotefs: "pool/a",
		Snapshots: []string{"s2"}}, actions[0])
	assert.Equal(t, Action{Kind: ActionSendStream, Localfs: "tank/a", Remotefs: "pool/a",
		Incremental: true, Anchor: "s1", Snapshot: "s3"}, actions[1])
}

func TestPlanNoCommonBaseFollowDeleteOff(t *testing.T) {
	req := Request{
		LocalRoot: "tank/a", RemoteRoot: "pool/a",
		LocalDatasets: []zfs.Dataset{{Name: "tank/a"}},
		LocalSnaps:    []zfs.Snapshot{snap("tank/a", "s9", 900)},
		RemoteSnaps:   []zfs.Snapshot{snap("pool/a", "s5", 500)},
	}
	actions, _, err := Plan(t.Context(), req, noEstimate)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, ActionClearSnapshots, actions[0].Kind)
	assert.Equal(t, Action{Kind: ActionSendStream, Localfs: "tank/a", Remotefs: "pool/a",
		Incremental: false, Snapshot: "s9"}, actions[1])
}

func TestPlanObsoleteMirrorDataset(t *testing.T) {
	req := Request{
		LocalRoot:  "tank",
		RemoteRoot: "pool",
		LocalDatasets: []zfs.Dataset{
			{Name: "tank"}, {Name: "tank/a"},
		},
		RemoteDatasets: []zfs.Dataset{
			{Name: "pool"}, {Name: "pool/a"}, {Name: "pool/b"},
		},
		Recursive: true,
	}
	actions, _, err := Plan(t.Context(), req, noEstimate)
	require.NoError(t, err)
	require.NotEmpty(t, actions)
	last := actions[len(actions)-1]
	assert.Equal(t, Action{Kind: ActionDeleteDataset, Localfs: "tank/b", Remotefs: "pool/b"}, last)
}

func TestPlanDeterminism(t *testing.T) {
	req := Request{
		LocalRoot: "tank", RemoteRoot: "pool",
		LocalDatasets: []zfs.Dataset{{Name: "tank"}, {Name: "tank/a"}, {Name: "tank/b"}},
		LocalSnaps: []zfs.Snapshot{
			snap("tank/a", "s1", 100), snap("tank/b", "s1", 100), snap("tank/b", "s2", 200),
		},
		Recursive: true,
	}
	a1, sz1, err1 := Plan(t.Context(), req, noEstimate)
	a2, sz2, err2 := Plan(t.Context(), req, noEstimate)
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, a1, a2)
	assert.Equal(t, sz1, sz2)
}

func TestPlanIdempotentWhenInSync(t *testing.T) {
	req := Request{
		LocalRoot: "tank/a", RemoteRoot: "pool/a",
		LocalDatasets: []zfs.Dataset{{Name: "tank/a"}},
		LocalSnaps:    []zfs.Snapshot{snap("tank/a", "s1", 100)},
		RemoteSnaps:   []zfs.Snapshot{snap("pool/a", "s1", 100)},
	}
	actions, total, err := Plan(t.Context(), req, noEstimate)
	require.NoError(t, err)
	assert.Empty(t, actions)
	assert.Zero(t, total)
}

func TestPlanForwardProgress(t *testing.T) {
	req := Request{
		LocalRoot: "tank/a", RemoteRoot: "pool/a",
		LocalDatasets: []zfs.Dataset{{Name: "tank/a"}},
		LocalSnaps: []zfs.Snapshot{
			snap("tank/a", "s1", 100), snap("tank/a", "s2", 200),
		},
		RemoteSnaps: []zfs.Snapshot{snap("pool/a", "s1", 100)},
	}
	actions, _, err := Plan(t.Context(), req, noEstimate)
	require.NoError(t, err)
	var sends []Action
	for _, a := range actions {
		if a.Kind == ActionSendStream {
			sends = append(sends, a)
		}
	}
	require.Len(t, sends, 1)
	assert.Equal(t, "s2", sends[0].Snapshot)
}

func TestPlanLineageAnchorsChainInOrder(t *testing.T) {
	req := Request{
		LocalRoot: "tank/a", RemoteRoot: "pool/a",
		LocalDatasets: []zfs.Dataset{{Name: "tank/a"}},
		LocalSnaps: []zfs.Snapshot{
			snap("tank/a", "s1", 100), snap("tank/a", "s2", 200), snap("tank/a", "s3", 300),
		},
	}
	actions, _, err := Plan(t.Context(), req, noEstimate)
	require.NoError(t, err)
	require.Len(t, actions, 3)
	assert.Equal(t, "", actions[0].Anchor)
	assert.Equal(t, "s1", actions[1].Anchor)
	assert.Equal(t, "s2", actions[2].Anchor)
}

func TestPlanClearOnlyWhenRemoteHasUnmatchedSnapshots(t *testing.T) {
	// Remote has snapshots but none paired with local -> ClearSnapshots plus
	// a full (non-incremental) first send.
	req := Request{
		LocalRoot: "tank/a", RemoteRoot: "pool/a",
		LocalDatasets: []zfs.Dataset{{Name: "tank/a"}},
		LocalSnaps:    []zfs.Snapshot{snap("tank/a", "s1", 100)},
		RemoteSnaps:   []zfs.Snapshot{snap("pool/a", "other", 50)},
	}
	actions, _, err := Plan(t.Context(), req, noEstimate)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, ActionClearSnapshots, actions[0].Kind)
	assert.False(t, actions[1].Incremental)
}
