package zfs

import (
	"context"
	"fmt"
	"time"
)

// NameAt formats the wire-visible snapshot name for prefix at t, UTC,
// without a collision suffix: "<prefix>-YYYYMMDD.HHMM".
func NameAt(prefix string, t time.Time) string {
	return fmt.Sprintf("%s-%s", prefix, t.UTC().Format("20060102.1504"))
}

// NextFreeName returns a snapshot name for prefix at t that does not
// collide with any name in existing, appending "-1".."-99" as needed. It
// returns an error if all 99 suffixes are taken.
func NextFreeName(prefix string, t time.Time, existing map[string]bool) (string, error) {
	base := NameAt(prefix, t)
	if !existing[base] {
		return base, nil
	}
	for i := 1; i <= 99; i++ {
		candidate := fmt.Sprintf("%s-%d", base, i)
		if !existing[candidate] {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("zfs: no free snapshot name for %q at %s after 99 collisions", prefix, base)
}

// ExistingNames returns the set of snapshot names already present directly
// on dataset, for collision resolution in NextFreeName.
func ExistingNames(ctx context.Context, dataset string) (map[string]bool, error) {
	snaps, err := ListSnapshots(ctx, dataset)
	if err != nil {
		return nil, err
	}
	names := make(map[string]bool, len(snaps))
	for _, s := range snaps {
		if s.Dataset == dataset {
			names[s.Name] = true
		}
	}
	return names, nil
}
