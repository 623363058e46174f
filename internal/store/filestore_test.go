package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ixsystems/zlinkd/internal/link"
)

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	require.NoError(t, err)

	l := link.Link{Name: "l1", Partners: [2]string{"10.0.0.1", "10.0.0.2"}, Master: "10.0.0.1"}
	require.NoError(t, s.Put(ctx, l))

	got, ok, err := s.Get(ctx, "l1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, l, got)

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.Delete(ctx, "l1"))
	_, ok, err = s.Get(ctx, "l1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStoreGetMissingIsNotError(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	_, ok, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStoreConfigValue(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, ok, err := s.GetConfigValue(ctx, "replication.key.private")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetConfigValue(ctx, "replication.key.private", []byte("secret")))
	v, ok, err := s.GetConfigValue(ctx, "replication.key.private")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("secret"), v)
}
