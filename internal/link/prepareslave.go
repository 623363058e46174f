package link

import (
	"context"
	"fmt"
	"sort"
)

// Disk is the minimal description prepare_slave's auto-matcher needs
// from a block device.
type Disk struct {
	Name      string
	MediaSize uint64
}

// MatchDisks greedily pairs each source disk, largest first, with the
// smallest still-unused peer disk it fits on. The heuristic is only
// exercised when Link.AutoMatchDisks is explicitly set, never as the
// only path.
func MatchDisks(sourceDisks, peerDisks []Disk) (map[string]string, error) {
	src := append([]Disk(nil), sourceDisks...)
	sort.Slice(src, func(i, j int) bool { return src[i].MediaSize > src[j].MediaSize })

	avail := append([]Disk(nil), peerDisks...)
	sort.Slice(avail, func(i, j int) bool { return avail[i].MediaSize < avail[j].MediaSize })

	used := make(map[string]bool, len(avail))
	matches := make(map[string]string, len(src))
	for _, s := range src {
		fit := -1
		for i, p := range avail {
			if used[p.Name] {
				continue
			}
			if p.MediaSize >= s.MediaSize {
				fit = i
				break
			}
		}
		if fit < 0 {
			return nil, fmt.Errorf("link: no peer disk large enough to match %q (%d bytes)", s.Name, s.MediaSize)
		}
		matches[s.Name] = avail[fit].Name
		used[avail[fit].Name] = true
	}
	return matches, nil
}

// PrepareSlave ensures the peer has a matching pool/dataset skeleton for
// l before the first sync. On the
// master it drives disk matching (if AutoMatchDisks) and asks the peer to
// create the volume; on the slave it simply delegates the task to the
// peer, which is itself the master.
func (r *Registry) PrepareSlave(ctx context.Context, l Link, sourceDisks []Disk) error {
	if !l.IsMasterHere(r.localIPs) {
		res, err := r.peer.CallTask(ctx, "replication.prepare_slave", l)
		if err != nil {
			return fmt.Errorf("link: delegate prepare_slave for %q: %w", l.Name, err)
		}
		return res.Err()
	}

	if err := r.createDatasetSkeleton(ctx, l); err != nil {
		return err
	}

	if !l.AutoMatchDisks {
		// Operator supplies explicit topology; disk auto-matching is
		// skipped, but the nested dataset skeleton above still had to run.
		return nil
	}

	peerDisksRes, err := r.peer.CallTask(ctx, "disk.query", nil)
	if err != nil {
		return fmt.Errorf("link: query peer disks for %q: %w", l.Name, err)
	}
	if taskErr := peerDisksRes.Err(); taskErr != nil {
		return taskErr
	}
	var peerDisks []Disk
	if err := peerDisksRes.DecodeValue(&peerDisks); err != nil {
		return fmt.Errorf("link: decode peer disk.query result for %q: %w", l.Name, err)
	}

	matches, err := MatchDisks(sourceDisks, peerDisks)
	if err != nil {
		return fmt.Errorf("link: prepare_slave disk match for %q: %w", l.Name, err)
	}

	res, err := r.peer.CallTask(ctx, "volume.create", matches)
	if err != nil {
		return fmt.Errorf("link: create peer volume skeleton for %q: %w", l.Name, err)
	}
	return res.Err()
}

// createDatasetSkeleton asks the peer to create l's datasets,
// independent of AutoMatchDisks, so explicit-topology links still get
// somewhere to receive into.
func (r *Registry) createDatasetSkeleton(ctx context.Context, l Link) error {
	res, err := r.peer.CallTask(ctx, "volume.dataset.create", map[string]any{"datasets": l.Datasets})
	if err != nil {
		return fmt.Errorf("link: create peer dataset skeleton for %q: %w", l.Name, err)
	}
	return res.Err()
}
