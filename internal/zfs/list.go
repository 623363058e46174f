package zfs

import (
	"bufio"
	"bytes"
	"context"
	"strconv"
	"strings"

	"github.com/ixsystems/zlinkd/internal/zfs/property"
)

var datasetFields = []string{"name", "mountpoint", string(property.Readonly), "encryption", string(property.Guid)}

// ListDatasets returns root, plus all descendants if recursive, as
// normalized Dataset records. It issues a single `zfs list` call so the
// result is a consistent point-in-time snapshot of metadata.
func ListDatasets(ctx context.Context, root string, recursive bool) ([]Dataset, error) {
	args := []string{"list", "-H", "-p", "-t", "filesystem,volume", "-o", strings.Join(datasetFields, ",")}
	if recursive {
		args = append(args, "-r")
	} else {
		args = append(args, "-d", "0")
	}
	args = append(args, root)

	out, err := run(ctx, args...)
	if err != nil {
		return nil, err
	}

	var datasets []Dataset
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Split(sc.Text(), "\t")
		if len(fields) < 5 {
			continue
		}
		datasets = append(datasets, Dataset{
			Name:       fields[0],
			Pool:       PoolOf(fields[0]),
			Mountpoint: valueOrEmpty(fields[1]),
			Readonly:   fields[2] == "on",
			Encrypted:  fields[3] != "" && fields[3] != "off",
			Guid:       fields[4],
		})
	}
	return datasets, sc.Err()
}

func valueOrEmpty(v string) string {
	if v == "-" {
		return ""
	}
	return v
}

// ListSnapshots returns all snapshots under root, including descendants,
// with user properties expanded into the normalized Snapshot record.
func ListSnapshots(ctx context.Context, root string) ([]Snapshot, error) {
	fields := []string{"name", string(property.Creation), string(property.UUID),
		string(property.Replicate), string(property.Lifetime), string(property.CalendarTask)}
	out, err := run(ctx, "list", "-H", "-p", "-t", "snapshot", "-r",
		"-o", strings.Join(fields, ","), root)
	if err != nil {
		return nil, err
	}

	var snaps []Snapshot
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		parts := strings.Split(sc.Text(), "\t")
		if len(parts) < 6 {
			continue
		}
		ds, name, err := ParseSnapshotPath(parts[0])
		if err != nil {
			continue
		}
		created, _ := strconv.ParseInt(parts[1], 10, 64)
		lifetime, _ := strconv.ParseInt(valueOrZero(parts[4]), 10, 64)
		snaps = append(snaps, Snapshot{
			Dataset:      ds,
			Name:         name,
			CreatedAt:    created,
			Guid:         valueOrEmpty(parts[2]),
			Replicable:   parts[3] == "true",
			Lifetime:     lifetime,
			CalendarTask: valueOrEmpty(parts[5]),
		})
	}
	return snaps, sc.Err()
}

func valueOrZero(v string) string {
	if v == "-" || v == "" {
		return "0"
	}
	return v
}
