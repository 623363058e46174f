package link

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// GetLatestLink is the single source of truth for "what does this link say
// right now": it fetches the local and peer copies concurrently, adopts
// whichever has the greater UpdateDate, and pushes the winner back to
// whichever side was behind. Peer unavailability degrades to the
// local-only answer rather than failing the read.
func (r *Registry) GetLatestLink(ctx context.Context, name string) (Link, error) {
	lock := r.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	var (
		local, remote         Link
		localOK, remoteOK     bool
		localErr, peerReadErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		l, ok, err := r.store.Get(gctx, name)
		if err != nil {
			localErr = err
			return err
		}
		local, localOK = l, ok
		return nil
	})
	g.Go(func() error {
		res, err := r.peer.CallTask(gctx, "replication.get_latest_link", name)
		if err != nil {
			peerReadErr = err
			return nil // peer unavailable: never fatal for a read
		}
		if taskErr := res.Err(); taskErr != nil {
			peerReadErr = taskErr
			return nil
		}
		if res.Value == nil {
			return nil // peer answered but has no copy
		}
		var l Link
		if err := res.DecodeValue(&l); err != nil {
			peerReadErr = err
			return nil
		}
		remote, remoteOK = l, true
		return nil
	})
	if err := g.Wait(); err != nil {
		return Link{}, fmt.Errorf("link: read local copy of %q: %w", name, localErr)
	}

	switch {
	case localOK && remoteOK:
		return r.reconcileBothPresent(ctx, local, remote)
	case localOK:
		return local, nil
	case remoteOK:
		if err := r.store.Put(ctx, remote); err != nil {
			return Link{}, fmt.Errorf("link: adopt peer copy of %q: %w", name, err)
		}
		return remote, nil
	default:
		if peerReadErr != nil {
			return Link{}, fmt.Errorf("link: %q not found locally, and peer is unavailable: %w", name, peerReadErr)
		}
		return Link{}, fmt.Errorf("link: %q not found locally or on peer", name)
	}
}

func (r *Registry) reconcileBothPresent(ctx context.Context, local, remote Link) (Link, error) {
	switch {
	case remote.UpdateDate.After(local.UpdateDate):
		if err := r.store.Put(ctx, remote); err != nil {
			return Link{}, fmt.Errorf("link: adopt newer peer copy of %q: %w", remote.Name, err)
		}
		return remote, nil
	case local.UpdateDate.After(remote.UpdateDate):
		// Push the newer local copy back; a failed push is a warning,
		// not fatal — the next reconcile retries it.
		_, _ = r.peer.CallTask(ctx, "replication.update_link", local)
		return local, nil
	default:
		return local, nil
	}
}
