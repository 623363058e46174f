package link

import (
	"context"
	"fmt"
)

// ConflictError reports a dataset shared across links in an incompatible
// orientation; surfaced synchronously, never mutates state.
type ConflictError struct {
	Dataset  string
	WithLink string
	Reason   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("link: dataset %q conflicts with link %q: %s", e.Dataset, e.WithLink, e.Reason)
}

// checkConflicts enforces the precheck conflict rules: no dataset
// shared between a bidirectional link and any other link, and no dataset
// acting as both source and target across two links (determined here by
// comparing is_master_here between the candidate and each existing link,
// since orientation is only resolvable with this host's own IPs).
func (r *Registry) checkConflicts(ctx context.Context, candidate Link) error {
	existing, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("link: list existing links: %w", err)
	}
	candMaster := candidate.IsMasterHere(r.localIPs)

	for _, other := range existing {
		if other.Name == candidate.Name {
			continue
		}
		shared := sharedDataset(candidate.Datasets, other.Datasets)
		if shared == "" {
			continue
		}
		if candidate.Bidirectional || other.Bidirectional {
			return &ConflictError{Dataset: shared, WithLink: other.Name,
				Reason: "bidirectional links cannot share a dataset with any other link"}
		}
		if candMaster != other.IsMasterHere(r.localIPs) {
			return &ConflictError{Dataset: shared, WithLink: other.Name,
				Reason: "dataset is a replication source in one link and a target in the other"}
		}
	}
	return nil
}

func sharedDataset(a, b []string) string {
	set := make(map[string]bool, len(a))
	for _, d := range a {
		set[d] = true
	}
	for _, d := range b {
		if set[d] {
			return d
		}
	}
	return ""
}
