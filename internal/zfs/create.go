package zfs

import (
	"context"
	"fmt"

	"github.com/ixsystems/zlinkd/internal/zfs/property"
)

// CreateSnapshotOptions carries the user properties stamped onto a newly
// created replication snapshot.
type CreateSnapshotOptions struct {
	UUID         string
	Replicate    bool
	Lifetime     int64
	CalendarTask string
}

// CreateSnapshot creates dataset@name with the replication user properties
// set (org.freenas:uuid, org.freenas:replicate, org.freenas:lifetime, and
// optionally org.freenas:calendar_task).
func CreateSnapshot(ctx context.Context, dataset, name string, opts CreateSnapshotOptions) error {
	args := []string{"snapshot",
		"-o", fmt.Sprintf("%s=%s", property.UUID, opts.UUID),
		"-o", fmt.Sprintf("%s=%t", property.Replicate, opts.Replicate),
		"-o", fmt.Sprintf("%s=%d", property.Lifetime, opts.Lifetime),
	}
	if opts.CalendarTask != "" {
		args = append(args, "-o", fmt.Sprintf("%s=%s", property.CalendarTask, opts.CalendarTask))
	}
	args = append(args, fmt.Sprintf("%s@%s", dataset, name))
	_, err := run(ctx, args...)
	return err
}

// CreateDataset creates dataset, and any missing parents (-p), if it
// doesn't already exist. Used by prepare_slave's nested dataset
// skeleton to give the peer somewhere to receive into ahead of the
// first sync.
func CreateDataset(ctx context.Context, dataset string) error {
	if _, err := run(ctx, "list", "-H", dataset); err == nil {
		return nil
	}
	_, err := run(ctx, "create", "-p", dataset)
	return err
}

// DestroyDataset destroys an entire dataset (used for DeleteDataset
// actions and slave-side scrub-on-delete).
func DestroyDataset(ctx context.Context, dataset string) error {
	_, err := run(ctx, "destroy", "-r", dataset)
	return err
}

// ZFSDestroy destroys a single snapshot or dataset path verbatim.
func ZFSDestroy(ctx context.Context, path string) error {
	_, err := run(ctx, "destroy", path)
	return err
}

// SetReadonly sets or clears the readonly property on dataset. Used
// exclusively by the role coordinator.
func SetReadonly(ctx context.Context, dataset string, readonly bool) error {
	v := "off"
	if readonly {
		v = "on"
	}
	_, err := run(ctx, "set", fmt.Sprintf("%s=%s", property.Readonly, v), dataset)
	return err
}

// Mount and Unmount drive `zfs mount`/`zfs unmount` for the role
// coordinator's parent-dataset mount-state transitions.
func Mount(ctx context.Context, dataset string) error {
	_, err := run(ctx, "mount", dataset)
	return err
}

func Unmount(ctx context.Context, dataset string, recursive bool) error {
	args := []string{"unmount"}
	if recursive {
		args = append(args, "-r")
	}
	args = append(args, dataset)
	_, err := run(ctx, args...)
	return err
}

// GetReadonly probes the readonly property of dataset.
func GetReadonly(ctx context.Context, dataset string) (bool, error) {
	out, err := run(ctx, "get", "-H", "-p", "-o", "value", string(property.Readonly), dataset)
	if err != nil {
		return false, err
	}
	return trimNL(out) == "on", nil
}

func trimNL(b []byte) string {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return string(b)
}
