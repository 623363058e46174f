package role

import (
	"context"

	"github.com/ixsystems/zlinkd/internal/zfs"
)

// LocalZFS adapts the package-level internal/zfs functions to the ZFS
// interface this package depends on.
type LocalZFS struct{}

func (LocalZFS) GetReadonly(ctx context.Context, dataset string) (bool, error) {
	return zfs.GetReadonly(ctx, dataset)
}

func (LocalZFS) SetReadonly(ctx context.Context, dataset string, readonly bool) error {
	return zfs.SetReadonly(ctx, dataset, readonly)
}

func (LocalZFS) Mount(ctx context.Context, dataset string) error {
	return zfs.Mount(ctx, dataset)
}

func (LocalZFS) Unmount(ctx context.Context, dataset string, recursive bool) error {
	return zfs.Unmount(ctx, dataset, recursive)
}

func (LocalZFS) ListDescendants(ctx context.Context, root string, recursive bool) ([]string, error) {
	datasets, err := zfs.ListDatasets(ctx, root, recursive)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(datasets))
	for i, d := range datasets {
		names[i] = d.Name
	}
	return names, nil
}
