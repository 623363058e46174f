package link

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// Adopt persists l as-is, without validation or peer mirroring. It backs
// the receiving side of reconcileBothPresent's "push the newer local copy
// back" call (replication.update_link): the sender already reconciled by
// UpdateDate, so the receiver simply stores what it's given.
func (r *Registry) Adopt(ctx context.Context, l Link) error {
	if err := r.store.Put(ctx, l); err != nil {
		return fmt.Errorf("link: adopt pushed copy of %q: %w", l.Name, err)
	}
	r.emit(Event{Operation: "update", IDs: []string{l.Name}})
	return nil
}

// Create runs the two-phase create operation: local precheck
// (schema validation + conflict detection), persist, then mirror to the
// peer. A mirror failure is recorded as a warning; the local record still
// stands.
func (r *Registry) Create(ctx context.Context, l Link, localDatasets map[string]LocalDataset) (Link, error) {
	if err := Validate(l, localDatasets, r.localIPs); err != nil {
		return Link{}, err
	}
	if err := r.checkConflicts(ctx, l); err != nil {
		return Link{}, err
	}
	l.UpdateDate = time.Now().UTC()

	if err := r.store.Put(ctx, l); err != nil {
		return Link{}, fmt.Errorf("link: persist %q: %w", l.Name, err)
	}
	if res, err := r.peer.CallTask(ctx, "replication.create", l); err != nil || res.Err() != nil {
		slog.Warn("link: failed to mirror create to peer", "link", l.Name, "error", firstNonNil(err, res.Err()))
	}
	r.emit(Event{Operation: "create", IDs: []string{l.Name}})
	return l, nil
}

// Update applies patch on top of the reconciled current record. Changes to
// Partners or Name are topology-changing and are modelled as delete-then-
// create; all other fields are a plain mutation that bumps UpdateDate.
func (r *Registry) Update(ctx context.Context, name string, patch Link, localDatasets map[string]LocalDataset) (Link, error) {
	current, err := r.GetLatestLink(ctx, name)
	if err != nil {
		return Link{}, err
	}

	merged := mergeLink(current, patch)

	if merged.Name != current.Name || merged.Partners != current.Partners {
		// Hold current.Name's lock across the whole delete+create gap so no
		// concurrent GetLatestLink(current.Name) observes the link absent
		// mid-mutation. GetLatestLink already returned above, so this
		// doesn't self-deadlock.
		lock := r.lockFor(current.Name)
		lock.Lock()
		defer lock.Unlock()

		if err := r.Delete(ctx, current.Name, false); err != nil {
			return Link{}, fmt.Errorf("link: delete phase of topology-changing update: %w", err)
		}
		return r.Create(ctx, merged, localDatasets)
	}

	if err := Validate(merged, localDatasets, r.localIPs); err != nil {
		return Link{}, err
	}
	if err := r.checkConflicts(ctx, merged); err != nil {
		return Link{}, err
	}
	merged.UpdateDate = time.Now().UTC()

	if d := diffLink(current, merged); d != "" {
		slog.Info("link: updating", "link", name, "diff", d)
	}

	if err := r.store.Put(ctx, merged); err != nil {
		return Link{}, fmt.Errorf("link: persist update to %q: %w", name, err)
	}
	if res, err := r.peer.CallTask(ctx, "replication.update", merged); err != nil || res.Err() != nil {
		slog.Warn("link: failed to mirror update to peer", "link", name, "error", firstNonNil(err, res.Err()))
	}
	r.emit(Event{Operation: "update", IDs: []string{name}})
	return merged, nil
}

// Delete removes the link locally and mirrors the removal to the peer.
// With scrub set, the slave side destroys the link's replicated datasets
// before dropping the record; the master side only forwards the flag.
// Deleting an absent link is a no-op and is not mirrored, so a mirrored
// delete terminates at the side that already dropped its copy.
func (r *Registry) Delete(ctx context.Context, name string, scrub bool) error {
	l, ok, err := r.store.Get(ctx, name)
	if err != nil {
		return fmt.Errorf("link: delete %q: %w", name, err)
	}
	if !ok {
		return nil
	}

	if scrub && !l.IsMasterHere(r.localIPs) {
		if r.destroyDataset == nil {
			return fmt.Errorf("link: delete %q: scrub requested but no dataset destroyer wired", name)
		}
		for _, ds := range l.Datasets {
			if err := r.destroyDataset(ctx, ds); err != nil {
				return fmt.Errorf("link: delete %q: scrub dataset %s: %w", name, ds, err)
			}
		}
	}

	if err := r.store.Delete(ctx, name); err != nil {
		return fmt.Errorf("link: delete %q: %w", name, err)
	}
	if res, err := r.peer.CallTask(ctx, "replication.delete", map[string]any{"name": name, "scrub": scrub}); err != nil || res.Err() != nil {
		slog.Warn("link: failed to mirror delete to peer", "link", name, "error", firstNonNil(err, res.Err()))
	}
	r.emit(Event{Operation: "delete", IDs: []string{name}})
	return nil
}

// CheckDatasets runs the create/update precheck (schema validation plus
// cross-link conflict detection) without mutating any state, backing the
// standalone `replication.check_datasets` task.
func (r *Registry) CheckDatasets(ctx context.Context, l Link, localDatasets map[string]LocalDataset) error {
	if err := Validate(l, localDatasets, r.localIPs); err != nil {
		return err
	}
	return r.checkConflicts(ctx, l)
}

// mergeLink overlays patch onto base: string/slice/array fields use the
// zero value as "unset" and keep base's value (replication.update takes
// a partial Link, PATCH-style); the boolean flags always take
// patch's value, since callers are expected to resubmit the full flag set
// on any update that touches them.
func mergeLink(base, patch Link) Link {
	out := base
	if patch.Name != "" {
		out.Name = patch.Name
	}
	if patch.Partners != ([2]string{}) {
		out.Partners = patch.Partners
	}
	if patch.Master != "" {
		out.Master = patch.Master
	}
	if patch.Datasets != nil {
		out.Datasets = patch.Datasets
	}
	out.Recursive = patch.Recursive
	out.Bidirectional = patch.Bidirectional
	out.ReplicateServices = patch.ReplicateServices
	out.AutoMatchDisks = patch.AutoMatchDisks
	return out
}

// diffLink renders a human-readable diff of two link records for the log
// line preceding an update, or "" if nothing changed.
func diffLink(oldLink, newLink Link) string {
	oldMap, err1 := toMap(oldLink)
	newMap, err2 := toMap(newLink)
	if err1 != nil || err2 != nil {
		return ""
	}

	differ := gojsondiff.New()
	d := differ.CompareObjects(oldMap, newMap)
	if !d.Modified() {
		return ""
	}
	f := formatter.NewAsciiFormatter(oldMap, formatter.AsciiFormatterConfig{Coloring: false})
	out, err := f.Format(d)
	if err != nil {
		return ""
	}
	return out
}

func toMap(l Link) (map[string]interface{}, error) {
	raw, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func firstNonNil(a, b error) error {
	if a != nil {
		return a
	}
	return b
}
