package link

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ixsystems/zlinkd/internal/rpc"
)

func TestCreatePersistsAndMirrors(t *testing.T) {
	store := newMemStore()
	peer := newFakePeer()
	r := NewRegistry(store, peer, nil, []string{"10.0.0.1"}, time.Minute)

	l := validLink()
	got, err := r.Create(context.Background(), l, validDatasets())
	require.NoError(t, err)
	assert.False(t, got.UpdateDate.IsZero())

	stored, ok, _ := store.Get(context.Background(), "l1")
	require.True(t, ok)
	assert.Equal(t, got.UpdateDate, stored.UpdateDate)
	assert.Contains(t, peer.calls, "replication.create")
}

func TestCreateRejectsInvalidLinkWithoutPersisting(t *testing.T) {
	store := newMemStore()
	peer := newFakePeer()
	r := NewRegistry(store, peer, nil, []string{"10.0.0.1"}, time.Minute)

	l := validLink()
	l.Master = "10.0.0.9"
	_, err := r.Create(context.Background(), l, validDatasets())
	require.Error(t, err)

	_, ok, _ := store.Get(context.Background(), "l1")
	assert.False(t, ok)
	assert.Empty(t, peer.calls)
}

func TestCreateSurvivesMirrorFailure(t *testing.T) {
	store := newMemStore()
	peer := newFakePeer()
	peer.errs["replication.create"] = errUnavailable{}
	r := NewRegistry(store, peer, nil, []string{"10.0.0.1"}, time.Minute)

	_, err := r.Create(context.Background(), validLink(), validDatasets())
	require.NoError(t, err)
	_, ok, _ := store.Get(context.Background(), "l1")
	assert.True(t, ok)
}

func TestUpdateNonTopologyBumpsUpdateDate(t *testing.T) {
	base := validLink()
	base.UpdateDate = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := newMemStore(base)
	peer := newFakePeer()
	peer.results["replication.get_latest_link"] = rpc.TaskResult{State: rpc.TaskFinished, Value: base}
	r := NewRegistry(store, peer, nil, []string{"10.0.0.1"}, time.Minute)

	patch := Link{Recursive: true}
	got, err := r.Update(context.Background(), "l1", patch, validDatasets())
	require.NoError(t, err)
	assert.True(t, got.Recursive)
	assert.True(t, got.UpdateDate.After(base.UpdateDate))
	assert.Equal(t, base.Partners, got.Partners)
}

func TestUpdateTopologyChangeIsDeleteThenCreate(t *testing.T) {
	base := validLink()
	store := newMemStore(base)
	peer := newFakePeer()
	peer.results["replication.get_latest_link"] = rpc.TaskResult{State: rpc.TaskFinished, Value: base}
	r := NewRegistry(store, peer, nil, []string{"10.0.0.1"}, time.Minute)

	patch := Link{Partners: [2]string{"10.0.0.1", "10.0.0.3"}, Master: "10.0.0.1"}
	got, err := r.Update(context.Background(), "l1", patch, validDatasets())
	require.NoError(t, err)
	assert.Equal(t, [2]string{"10.0.0.1", "10.0.0.3"}, got.Partners)
	assert.Contains(t, peer.calls, "replication.delete")
	assert.Contains(t, peer.calls, "replication.create")
}

func TestDeleteEmitsEventAndMirrors(t *testing.T) {
	store := newMemStore(validLink())
	peer := newFakePeer()
	r := NewRegistry(store, peer, nil, []string{"10.0.0.1"}, time.Minute)

	err := r.Delete(context.Background(), "l1", true)
	require.NoError(t, err)
	_, ok, _ := store.Get(context.Background(), "l1")
	assert.False(t, ok)
	assert.Contains(t, peer.calls, "replication.delete")

	select {
	case ev := <-r.Events():
		assert.Equal(t, "delete", ev.Operation)
	default:
		t.Fatal("expected a delete event")
	}
}

func TestDeleteScrubOnSlaveDestroysDatasets(t *testing.T) {
	l := validLink()
	l.Datasets = []string{"tank/a", "tank/b"}
	store := newMemStore(l)
	peer := newFakePeer()
	var destroyed []string
	r := NewRegistry(store, peer, nil, []string{"10.0.0.2"}, time.Minute).
		WithDestroyDataset(func(_ context.Context, dataset string) error {
			destroyed = append(destroyed, dataset)
			return nil
		})

	err := r.Delete(context.Background(), "l1", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"tank/a", "tank/b"}, destroyed)
	_, ok, _ := store.Get(context.Background(), "l1")
	assert.False(t, ok)
	assert.Contains(t, peer.calls, "replication.delete")
}

func TestDeleteScrubOnSlaveFailsWithoutDestroyerWired(t *testing.T) {
	store := newMemStore(validLink())
	peer := newFakePeer()
	r := NewRegistry(store, peer, nil, []string{"10.0.0.2"}, time.Minute)

	err := r.Delete(context.Background(), "l1", true)
	require.Error(t, err)
	_, ok, _ := store.Get(context.Background(), "l1")
	assert.True(t, ok, "link must survive a failed scrub")
	assert.NotContains(t, peer.calls, "replication.delete")
}

func TestDeleteAbsentLinkIsUnmirroredNoop(t *testing.T) {
	store := newMemStore()
	peer := newFakePeer()
	r := NewRegistry(store, peer, nil, []string{"10.0.0.1"}, time.Minute)

	err := r.Delete(context.Background(), "gone", true)
	require.NoError(t, err)
	assert.NotContains(t, peer.calls, "replication.delete")
}

func TestCheckDatasetsAcceptsWithoutMutating(t *testing.T) {
	store := newMemStore()
	peer := newFakePeer()
	r := NewRegistry(store, peer, nil, []string{"10.0.0.1"}, time.Minute)

	err := r.CheckDatasets(context.Background(), validLink(), validDatasets())
	require.NoError(t, err)

	_, ok, _ := store.Get(context.Background(), "l1")
	assert.False(t, ok, "check_datasets must not persist anything")
	assert.Empty(t, peer.calls, "check_datasets must not mirror to the peer")
}

func TestCheckDatasetsRejectsInvalidLink(t *testing.T) {
	store := newMemStore()
	r := NewRegistry(store, newFakePeer(), nil, []string{"10.0.0.1"}, time.Minute)

	l := validLink()
	l.Master = "10.0.0.9"
	err := r.CheckDatasets(context.Background(), l, validDatasets())
	require.Error(t, err)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestCheckDatasetsRejectsConflict(t *testing.T) {
	existing := validLink()
	existing.Bidirectional = true
	store := newMemStore(existing)
	r := NewRegistry(store, newFakePeer(), nil, []string{"10.0.0.1"}, time.Minute)

	candidate := Link{
		Name: "l2", Partners: [2]string{"10.0.0.1", "10.0.0.3"}, Master: "10.0.0.1",
		Datasets: []string{"tank/a"},
	}
	err := r.CheckDatasets(context.Background(), candidate, validDatasets())
	require.Error(t, err)
	var cerr *ConflictError
	assert.ErrorAs(t, err, &cerr)
}

func TestDiffLinkReportsNothingWhenUnchanged(t *testing.T) {
	l := validLink()
	assert.Empty(t, diffLink(l, l))
}

func TestDiffLinkReportsChange(t *testing.T) {
	a := validLink()
	b := validLink()
	b.Recursive = true
	assert.NotEmpty(t, diffLink(a, b))
}
