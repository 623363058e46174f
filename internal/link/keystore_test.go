package link

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigKeyStoreGeneratesOnFirstUse(t *testing.T) {
	store := newMemConfigStore()
	ks := NewConfigKeyStore(store)

	key, err := ks.PrivateKey(context.Background())
	require.NoError(t, err)
	require.NotNil(t, key)

	_, ok, _ := store.GetConfigValue(context.Background(), configKeyPrivate)
	assert.True(t, ok)
	_, ok, _ = store.GetConfigValue(context.Background(), configKeyPublic)
	assert.True(t, ok)
}

func TestConfigKeyStoreReusesPersistedKey(t *testing.T) {
	store := newMemConfigStore()
	ks1 := NewConfigKeyStore(store)
	key1, err := ks1.PrivateKey(context.Background())
	require.NoError(t, err)

	ks2 := NewConfigKeyStore(store)
	key2, err := ks2.PrivateKey(context.Background())
	require.NoError(t, err)

	assert.Equal(t, key1.D, key2.D)
}

func TestConfigKeyStoreCachesInMemory(t *testing.T) {
	store := newMemConfigStore()
	ks := NewConfigKeyStore(store)

	key1, err := ks.PrivateKey(context.Background())
	require.NoError(t, err)
	key2, err := ks.PrivateKey(context.Background())
	require.NoError(t, err)
	assert.Same(t, key1, key2)
}
