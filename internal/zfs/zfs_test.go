package zfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDrySendInfo(t *testing.T) {
	tcs := []struct {
		name   string
		in     string
		exp    DrySendInfo
		expErr bool
	}{
		{
			name: "full",
			in:   "full\tzroot/test/a@1\t5389768\n",
			exp: DrySendInfo{
				Type: "full", Filesystem: "zroot/test/a", To: "zroot/test/a@1",
				SizeEstimate: 5389768,
			},
		},
		{
			name: "incremental",
			in:   "incremental\tzroot/test/a@1\tzroot/test/a@2\t5383936\n",
			exp: DrySendInfo{
				Type: "incremental", Filesystem: "zroot/test/a",
				From: "zroot/test/a@1", To: "zroot/test/a@2", SizeEstimate: 5383936,
			},
		},
		{
			name: "size line only",
			in:   "size\t1248\n",
			exp:  DrySendInfo{SizeEstimate: 1248},
		},
		{
			name:   "no matching line",
			in:     "something else entirely\n",
			expErr: true,
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			info, err := parseDrySendInfo(tc.exp.Filesystem, []byte(tc.in))
			if tc.expErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.exp, info)
		})
	}
}

func TestIsDescendant(t *testing.T) {
	assert.True(t, IsDescendant("tank/a", "tank/a"))
	assert.True(t, IsDescendant("tank/a", "tank/a/b"))
	assert.False(t, IsDescendant("tank/a", "tank/ab"))
	assert.False(t, IsDescendant("tank/a", "tank/b"))
}

func TestParseSnapshotPath(t *testing.T) {
	ds, name, err := ParseSnapshotPath("tank/a@auto-1")
	require.NoError(t, err)
	assert.Equal(t, "tank/a", ds)
	assert.Equal(t, "auto-1", name)

	_, _, err = ParseSnapshotPath("tank/a")
	require.Error(t, err)
}

func TestPoolOf(t *testing.T) {
	assert.Equal(t, "tank", PoolOf("tank"))
	assert.Equal(t, "tank", PoolOf("tank/a/b"))
}
