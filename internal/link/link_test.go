package link

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsMasterHere(t *testing.T) {
	l := Link{Partners: [2]string{"10.0.0.1", "10.0.0.2"}, Master: "10.0.0.1"}
	assert.True(t, l.IsMasterHere([]string{"10.0.0.1"}))
	assert.False(t, l.IsMasterHere([]string{"10.0.0.2"}))
	assert.False(t, l.IsMasterHere([]string{"10.0.0.9"}))
}

func TestHasDataset(t *testing.T) {
	l := Link{Datasets: []string{"tank/a", "tank/b"}}
	assert.True(t, l.HasDataset("tank/a"))
	assert.False(t, l.HasDataset("tank/c"))
}

func TestStatusCacheRespectsTTL(t *testing.T) {
	r := NewRegistry(newMemStore(), newFakePeer(), nil, []string{"10.0.0.1"}, 10*time.Millisecond)
	r.SetStatus("l1", LinkStatus{Status: StatusSuccess, Message: "ok"})

	got, ok := r.Status("l1")
	assert.True(t, ok)
	assert.Equal(t, StatusSuccess, got.Status)

	time.Sleep(20 * time.Millisecond)
	_, ok = r.Status("l1")
	assert.False(t, ok)
}

func TestEventsEmittedOnMutation(t *testing.T) {
	store := newMemStore()
	peer := newFakePeer()
	r := NewRegistry(store, peer, nil, []string{"10.0.0.1"}, time.Minute)

	l := Link{Name: "l1", Partners: [2]string{"10.0.0.1", "10.0.0.2"}, Master: "10.0.0.1", Datasets: []string{"tank/a"}}
	localDatasets := map[string]LocalDataset{"tank/a": {Name: "tank/a"}}

	_, err := r.Create(context.Background(), l, localDatasets)
	assert.NoError(t, err)

	select {
	case ev := <-r.Events():
		assert.Equal(t, "create", ev.Operation)
		assert.Equal(t, []string{"l1"}, ev.IDs)
	default:
		t.Fatal("expected a create event")
	}
}
