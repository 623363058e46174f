// Package role implements the role coordinator: on a link change it
// reconciles which side holds the writable copy of a link's datasets with
// what the link's `master` field says, flipping dataset readonly/mount
// state and dependent-service immutable/enabled flags to match. The ZFS
// dataset operations and the service-dependency lookup are external
// collaborators behind narrow interfaces; this package only pins down
// what the core calls through.
package role

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ixsystems/zlinkd/internal/link"
)

// ZFS is the dataset-state contract role update needs: readonly/mount
// introspection and mutation, and recursive-descendant expansion.
type ZFS interface {
	GetReadonly(ctx context.Context, dataset string) (bool, error)
	SetReadonly(ctx context.Context, dataset string, readonly bool) error
	Mount(ctx context.Context, dataset string) error
	Unmount(ctx context.Context, dataset string, recursive bool) error
	// ListDescendants returns root and, if recursive, every dataset
	// nested under it.
	ListDescendants(ctx context.Context, root string, recursive bool) ([]string, error)
}

// ServiceRef identifies one dependent share or container.
type ServiceRef struct {
	Kind string // "share" or "container"
	ID   string
}

// Services is the dependent-service lookup and mutation contract: the
// "reserved"/"related" service sets and their immutable/enabled flags.
type Services interface {
	// ReservedServices returns the services reserved for this link (copied
	// over by reserve_services); they are made immutable and disabled on
	// demotion to slave.
	ReservedServices(ctx context.Context, linkName string) ([]ServiceRef, error)
	// RelatedServices returns every service dependent on this link's
	// datasets, regardless of current immutable state.
	RelatedServices(ctx context.Context, linkName string) ([]ServiceRef, error)
	SetImmutable(ctx context.Context, ref ServiceRef, immutable, enabled bool) error
}

// Coordinator drives RoleUpdate for links on this host.
type Coordinator struct {
	zfs      ZFS
	services Services
	localIPs []string
}

// New builds a Coordinator.
func New(zfs ZFS, services Services, localIPs []string) *Coordinator {
	return &Coordinator{zfs: zfs, services: services, localIPs: localIPs}
}

// RoleUpdate reconciles l's role with the filesystem: if the dataset's
// actual readonly/mount state doesn't match what l.Master says it
// should be,
// flip dataset state and dependent-service flags to match. A no-op link
// (not bidirectional, or already consistent) returns nil without touching
// anything.
func (c *Coordinator) RoleUpdate(ctx context.Context, l link.Link) error {
	if !l.Bidirectional {
		return nil
	}

	datasets, err := c.expandDatasets(ctx, l)
	if err != nil {
		return fmt.Errorf("role: expand datasets for %q: %w", l.Name, err)
	}
	if len(datasets) == 0 {
		return fmt.Errorf("role: link %q has no datasets", l.Name)
	}

	isMaster := l.IsMasterHere(c.localIPs)
	currentReadonly, err := c.zfs.GetReadonly(ctx, datasets[0])
	if err != nil {
		return fmt.Errorf("role: probe readonly of %q: %w", datasets[0], err)
	}

	// Mismatch: a master holding readonly datasets, or a slave holding
	// writable ones. Either way the desired state is the opposite of what
	// it currently is.
	if isMaster != currentReadonly {
		return nil
	}

	newReadonly := !currentReadonly
	if err := c.setDatasetsMountReadonly(ctx, l, datasets, newReadonly); err != nil {
		return err
	}

	return c.syncServiceFlags(ctx, l, isMaster)
}

// expandDatasets resolves l.Datasets to the full set of datasets it
// covers: itself for a non-recursive link, or itself plus every nested
// descendant for a recursive one.
func (c *Coordinator) expandDatasets(ctx context.Context, l link.Link) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, d := range l.Datasets {
		names, err := c.zfs.ListDescendants(ctx, d, l.Recursive)
		if err != nil {
			return nil, err
		}
		for _, n := range names {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	return out, nil
}

// parentDatasets picks the minimal covering set of datasets to
// mount/unmount: sorted by (len, lex) ascending, a dataset is a parent
// unless some already-chosen, shorter parent is a prefix of it followed
// by "/".
func parentDatasets(datasets []string) []string {
	names := append([]string(nil), datasets...)
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) < len(names[j])
		}
		return names[i] < names[j]
	})

	var parents []string
	remaining := names
	for len(remaining) > 0 {
		parent := remaining[0]
		parents = append(parents, parent)

		rest := remaining[:0:0]
		for _, d := range remaining[1:] {
			if !strings.HasPrefix(d, parent+"/") {
				rest = append(rest, d)
			}
		}
		remaining = rest
	}
	return parents
}

// setDatasetsMountReadonly flips mount and readonly state for datasets,
// in opposite order depending on direction: going readonly
// unmounts the parents first, then sets every dataset readonly; going
// writable clears readonly on every dataset first, then remounts the
// parents.
func (c *Coordinator) setDatasetsMountReadonly(ctx context.Context, l link.Link, datasets []string, readonly bool) error {
	parents := parentDatasets(datasets)

	if readonly {
		for _, p := range parents {
			if err := c.zfs.Unmount(ctx, p, l.Recursive); err != nil {
				return fmt.Errorf("role: unmount %q: %w", p, err)
			}
		}
		for _, d := range datasets {
			if err := c.zfs.SetReadonly(ctx, d, true); err != nil {
				return fmt.Errorf("role: set readonly on %q: %w", d, err)
			}
		}
		return nil
	}

	for _, d := range datasets {
		if err := c.zfs.SetReadonly(ctx, d, false); err != nil {
			return fmt.Errorf("role: clear readonly on %q: %w", d, err)
		}
	}
	for _, p := range parents {
		if err := c.zfs.Mount(ctx, p); err != nil {
			return fmt.Errorf("role: mount %q: %w", p, err)
		}
	}
	return nil
}

// ReserveServices implements the "replication.reserve_services" task:
// copy linkName's related services over and mark the copies
// immutable=true, enabled=false, ahead of a role flip (the retry loop
// calls this before every "replication.sync" attempt). Delegates
// entirely to Services, so NoopServices makes it a clean no-op.
func (c *Coordinator) ReserveServices(ctx context.Context, linkName string) error {
	refs, err := c.services.RelatedServices(ctx, linkName)
	if err != nil {
		return fmt.Errorf("role: list related services for %q: %w", linkName, err)
	}
	for _, ref := range refs {
		if err := c.services.SetImmutable(ctx, ref, true, false); err != nil {
			return fmt.Errorf("role: reserve %s %q: %w", ref.Kind, ref.ID, err)
		}
	}
	return nil
}

// syncServiceFlags applies the dependent-service flip: promoting
// to master releases this link's related services back to mutable;
// demoting to slave locks this link's reserved services down as
// immutable and disabled.
func (c *Coordinator) syncServiceFlags(ctx context.Context, l link.Link, promotedToMaster bool) error {
	var (
		refs                 []ServiceRef
		err                  error
		immutable, enabled bool
	)
	if promotedToMaster {
		refs, err = c.services.RelatedServices(ctx, l.Name)
		immutable, enabled = false, true
	} else {
		refs, err = c.services.ReservedServices(ctx, l.Name)
		immutable, enabled = true, false
	}
	if err != nil {
		return fmt.Errorf("role: list dependent services for %q: %w", l.Name, err)
	}

	for _, ref := range refs {
		if err := c.services.SetImmutable(ctx, ref, immutable, enabled); err != nil {
			return fmt.Errorf("role: set immutable on %s %q: %w", ref.Kind, ref.ID, err)
		}
	}
	return nil
}
