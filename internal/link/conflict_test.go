package link

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckConflictsAllowsDisjointLinks(t *testing.T) {
	store := newMemStore(Link{Name: "other", Datasets: []string{"tank/b"}, Partners: [2]string{"10.0.0.1", "10.0.0.2"}, Master: "10.0.0.1"})
	r := NewRegistry(store, newFakePeer(), nil, []string{"10.0.0.1"}, time.Minute)

	candidate := Link{Name: "l1", Datasets: []string{"tank/a"}, Partners: [2]string{"10.0.0.1", "10.0.0.2"}, Master: "10.0.0.1"}
	assert.NoError(t, r.checkConflicts(context.Background(), candidate))
}

func TestCheckConflictsRejectsSharedDatasetWhenEitherBidirectional(t *testing.T) {
	store := newMemStore(Link{
		Name: "other", Datasets: []string{"tank/a"}, Bidirectional: true,
		Partners: [2]string{"10.0.0.1", "10.0.0.2"}, Master: "10.0.0.1",
	})
	r := NewRegistry(store, newFakePeer(), nil, []string{"10.0.0.1"}, time.Minute)

	candidate := Link{Name: "l1", Datasets: []string{"tank/a"}, Partners: [2]string{"10.0.0.1", "10.0.0.2"}, Master: "10.0.0.1"}
	err := r.checkConflicts(context.Background(), candidate)
	require.Error(t, err)
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "tank/a", ce.Dataset)
}

func TestCheckConflictsRejectsOppositeOrientation(t *testing.T) {
	// "other" has this host as slave (master is the peer IP); candidate
	// has this host as master for the same dataset — same dataset acting
	// as both source and target.
	store := newMemStore(Link{
		Name: "other", Datasets: []string{"tank/a"},
		Partners: [2]string{"10.0.0.1", "10.0.0.2"}, Master: "10.0.0.2",
	})
	r := NewRegistry(store, newFakePeer(), nil, []string{"10.0.0.1"}, time.Minute)

	candidate := Link{Name: "l1", Datasets: []string{"tank/a"}, Partners: [2]string{"10.0.0.1", "10.0.0.2"}, Master: "10.0.0.1"}
	err := r.checkConflicts(context.Background(), candidate)
	require.Error(t, err)
}

func TestCheckConflictsIgnoresSelf(t *testing.T) {
	store := newMemStore(Link{Name: "l1", Datasets: []string{"tank/a"}, Partners: [2]string{"10.0.0.1", "10.0.0.2"}, Master: "10.0.0.1"})
	r := NewRegistry(store, newFakePeer(), nil, []string{"10.0.0.1"}, time.Minute)

	candidate := Link{Name: "l1", Datasets: []string{"tank/a"}, Partners: [2]string{"10.0.0.1", "10.0.0.2"}, Master: "10.0.0.1"}
	assert.NoError(t, r.checkConflicts(context.Background(), candidate))
}
