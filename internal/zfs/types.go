// Package zfs implements the local half of the inventory adapter: it
// queries the local ZFS backend for datasets and snapshots, normalizes them
// into the records the planner and executor operate on, and drives the
// `zfs` binary for snapshot create/destroy/send/receive.
package zfs

import (
	"fmt"
	"strings"
)

// Dataset is the normalized dataset record of the data model.
type Dataset struct {
	Name       string
	Pool       string
	Mountpoint string
	Readonly   bool
	Encrypted  bool
	Guid       string
}

// Snapshot is the normalized snapshot record of the data model. CreatedAt is
// integer seconds sourced from the ZFS `creation` property.
type Snapshot struct {
	Dataset      string
	Name         string
	Guid         string
	CreatedAt    int64
	Replicable   bool
	Lifetime     int64
	CalendarTask string
}

// FullPath returns "dataset@name".
func (s Snapshot) FullPath() string {
	return s.Dataset + "@" + s.Name
}

// PoolOf returns the pool component of a dataset path.
func PoolOf(dataset string) string {
	if i := strings.IndexByte(dataset, '/'); i >= 0 {
		return dataset[:i]
	}
	return dataset
}

// ParseSnapshotPath splits "dataset@name" into its two parts.
func ParseSnapshotPath(full string) (dataset, name string, err error) {
	i := strings.IndexByte(full, '@')
	if i < 0 {
		return "", "", fmt.Errorf("zfs: %q is not a snapshot path", full)
	}
	return full[:i], full[i+1:], nil
}

// IsDescendant reports whether child is root itself or a dataset nested
// under it (root + "/" + ...).
func IsDescendant(root, child string) bool {
	if child == root {
		return true
	}
	return strings.HasPrefix(child, root+"/")
}
