// Package planner implements the delta planner: given local and
// remote dataset/snapshot inventories, it computes a minimal, deterministic
// sequence of replication actions and an estimated send size. Action
// construction (Plan's decision tree) does no I/O; only the size-estimation
// pass calls out, through an injected EstimateFunc.
package planner

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"github.com/ixsystems/zlinkd/internal/zfs"
)

// ActionKind discriminates the Action variants.
type ActionKind string

const (
	ActionSendStream      ActionKind = "send_stream"
	ActionDeleteSnapshots ActionKind = "delete_snapshots"
	ActionClearSnapshots  ActionKind = "clear_snapshots"
	ActionDeleteDataset   ActionKind = "delete_dataset"
)

func (k ActionKind) String() string { return string(k) }

// Action is one step of a ReplicationPlan. All variants carry Localfs and
// Remotefs; the remaining fields are populated per Kind.
type Action struct {
	Kind     ActionKind
	Localfs  string
	Remotefs string

	// SendStream
	Incremental bool
	Anchor      string // snapshot name; "" means no anchor (full send)
	Snapshot    string
	SendSize    uint64

	// DeleteSnapshots (ClearSnapshots leaves this nil, meaning "all")
	Snapshots []string
}

func (a Action) String() string {
	switch a.Kind {
	case ActionSendStream:
		if a.Incremental {
			return fmt.Sprintf("send %s@%s -i %s -> %s", a.Localfs, a.Snapshot, a.Anchor, a.Remotefs)
		}
		return fmt.Sprintf("send %s@%s (full) -> %s", a.Localfs, a.Snapshot, a.Remotefs)
	case ActionDeleteSnapshots:
		return fmt.Sprintf("delete snapshots %v on %s", a.Snapshots, a.Remotefs)
	case ActionClearSnapshots:
		return fmt.Sprintf("clear all snapshots on %s", a.Remotefs)
	case ActionDeleteDataset:
		return fmt.Sprintf("delete dataset %s", a.Remotefs)
	default:
		return fmt.Sprintf("unknown action %q", a.Kind)
	}
}

// EstimateFunc returns the estimated byte size of sending `to` on dataset,
// optionally incremental from `from` (empty string for a full send).
type EstimateFunc func(ctx context.Context, dataset, from, to string) (uint64, error)

// Request bundles everything the planner needs to decide a plan for one
// (localRoot, remoteRoot) pair.
type Request struct {
	LocalRoot  string
	RemoteRoot string

	LocalDatasets  []zfs.Dataset
	RemoteDatasets []zfs.Dataset
	LocalSnaps     []zfs.Snapshot
	RemoteSnaps    []zfs.Snapshot

	Recursive    bool
	FollowDelete bool
}

// Plan computes the ordered action list and total estimated send size for
// req. It is deterministic: identical input produces a byte-identical
// result, given an estimate function that is itself a pure function of its
// arguments.
func Plan(ctx context.Context, req Request, estimate EstimateFunc) ([]Action, uint64, error) {
	actions := planActions(req)

	var total uint64
	for i := range actions {
		if actions[i].Kind != ActionSendStream {
			continue
		}
		size, err := estimate(ctx, actions[i].Localfs, actions[i].Anchor, actions[i].Snapshot)
		if err != nil {
			return nil, 0, fmt.Errorf("planner: estimate send size for %s: %w", actions[i], err)
		}
		actions[i].SendSize = size
		total += size
	}
	return actions, total, nil
}

// planActions builds the action sequence without size estimates. It
// performs no I/O; Plan runs it before the size-estimate pass.
func planActions(req Request) []Action {
	localFSSet := filesystemsUnder(req.LocalRoot, req.Recursive, req.LocalDatasets)
	remoteFSSet := filesystemsUnder(req.RemoteRoot, true, req.RemoteDatasets)

	localFS := make([]string, 0, len(localFSSet))
	for fs := range localFSSet {
		localFS = append(localFS, fs)
	}
	sort.Strings(localFS)

	var actions []Action
	mirrored := make(map[string]bool, len(localFS)) // R -> true, for step 8

	for _, L := range localFS {
		R := req.RemoteRoot + L[len(req.LocalRoot):]
		mirrored[R] = true
		actions = append(actions, planFilesystem(L, R, req)...)
	}

	// Step 8: remote filesystems whose local mirror is absent.
	remoteFS := make([]string, 0, len(remoteFSSet))
	for fs := range remoteFSSet {
		remoteFS = append(remoteFS, fs)
	}
	sort.Strings(remoteFS)
	for _, R := range remoteFS {
		if mirrored[R] {
			continue
		}
		Lp := req.LocalRoot + R[len(req.RemoteRoot):]
		actions = append(actions, Action{Kind: ActionDeleteDataset, Localfs: Lp, Remotefs: R})
	}

	return actions
}

// filesystemsUnder returns root alone if not recursive. If recursive, it
// returns every name in datasets matching ^root(/|$), so root itself is
// included only when datasets lists it.
func filesystemsUnder(root string, recursive bool, datasets []zfs.Dataset) map[string]bool {
	set := map[string]bool{}
	present := false
	for _, d := range datasets {
		if d.Name == root {
			present = true
		}
	}
	if present || !recursive {
		set[root] = true
	}
	if !recursive {
		return set
	}

	re := regexp.MustCompile("^" + regexp.QuoteMeta(root) + "(/|$)")
	for _, d := range datasets {
		if re.MatchString(d.Name) {
			set[d.Name] = true
		}
	}
	return set
}

type pairedSnap struct {
	name      string
	createdAt int64
}

// planFilesystem implements steps 4-7 for a single (L, R) mirror pair.
func planFilesystem(L, R string, req Request) []Action {
	var localSnaps, remoteSnaps []zfs.Snapshot
	for _, s := range req.LocalSnaps {
		if s.Dataset == L {
			localSnaps = append(localSnaps, s)
		}
	}
	for _, s := range req.RemoteSnaps {
		if s.Dataset == R {
			remoteSnaps = append(remoteSnaps, s)
		}
	}

	sort.Slice(localSnaps, func(i, j int) bool {
		if localSnaps[i].CreatedAt != localSnaps[j].CreatedAt {
			return localSnaps[i].CreatedAt < localSnaps[j].CreatedAt
		}
		return localSnaps[i].Name < localSnaps[j].Name
	})

	remoteByNameAndTime := make(map[pairedSnap]bool, len(remoteSnaps))
	for _, s := range remoteSnaps {
		remoteByNameAndTime[pairedSnap{s.Name, s.CreatedAt}] = true
	}

	// Step 6: base is the paired local snapshot (name AND created_at match
	// on the remote) with the greatest created_at, ties broken by name.
	var base *zfs.Snapshot
	for i := range localSnaps {
		s := &localSnaps[i]
		if !remoteByNameAndTime[pairedSnap{s.Name, s.CreatedAt}] {
			continue
		}
		if base == nil || s.CreatedAt > base.CreatedAt ||
			(s.CreatedAt == base.CreatedAt && s.Name > base.Name) {
			base = s
		}
	}

	var actions []Action

	switch {
	case base != nil:
		if req.FollowDelete {
			if del := deleteStaleRemoteSnapshots(localSnaps, remoteSnaps, L, R); len(del.Snapshots) > 0 {
				actions = append(actions, del)
			}
		}
		actions = append(actions, sendChainAfter(localSnaps, base.Name, L, R)...)

	case len(remoteSnaps) > 0:
		actions = append(actions, Action{Kind: ActionClearSnapshots, Localfs: L, Remotefs: R})
		actions = append(actions, sendFullChain(localSnaps, L, R)...)

	default:
		actions = append(actions, sendFullChain(localSnaps, L, R)...)
	}

	return actions
}

// deleteStaleRemoteSnapshots batches every remote snapshot under R whose
// name has no local counterpart, ascending by created_at. The diff here
// is name-only, unlike base pairing which also compares created_at.
func deleteStaleRemoteSnapshots(localSnaps, remoteSnaps []zfs.Snapshot, L, R string) Action {
	localByName := make(map[string]bool, len(localSnaps))
	for _, s := range localSnaps {
		localByName[s.Name] = true
	}

	stale := make([]zfs.Snapshot, 0, len(remoteSnaps))
	for _, s := range remoteSnaps {
		if !localByName[s.Name] {
			stale = append(stale, s)
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		if stale[i].CreatedAt != stale[j].CreatedAt {
			return stale[i].CreatedAt < stale[j].CreatedAt
		}
		return stale[i].Name < stale[j].Name
	})

	names := make([]string, len(stale))
	for i, s := range stale {
		names[i] = s.Name
	}
	return Action{Kind: ActionDeleteSnapshots, Localfs: L, Remotefs: R, Snapshots: names}
}

// sendChainAfter emits one incremental SendStream per local snapshot
// strictly after baseName, chained off its immediate predecessor.
func sendChainAfter(localSnaps []zfs.Snapshot, baseName, L, R string) []Action {
	idx := -1
	for i, s := range localSnaps {
		if s.Name == baseName {
			idx = i
			break
		}
	}
	if idx < 0 || idx == len(localSnaps)-1 {
		return nil
	}

	actions := make([]Action, 0, len(localSnaps)-idx-1)
	anchor := localSnaps[idx].Name
	for _, s := range localSnaps[idx+1:] {
		actions = append(actions, Action{
			Kind: ActionSendStream, Localfs: L, Remotefs: R,
			Incremental: true, Anchor: anchor, Snapshot: s.Name,
		})
		anchor = s.Name
	}
	return actions
}

// sendFullChain emits a full send of the oldest local snapshot followed by
// incrementals chained through the rest, ascending by created_at.
func sendFullChain(localSnaps []zfs.Snapshot, L, R string) []Action {
	if len(localSnaps) == 0 {
		return nil
	}

	actions := make([]Action, 0, len(localSnaps))
	actions = append(actions, Action{
		Kind: ActionSendStream, Localfs: L, Remotefs: R,
		Incremental: false, Snapshot: localSnaps[0].Name,
	})
	anchor := localSnaps[0].Name
	for _, s := range localSnaps[1:] {
		actions = append(actions, Action{
			Kind: ActionSendStream, Localfs: L, Remotefs: R,
			Incremental: true, Anchor: anchor, Snapshot: s.Name,
		})
		anchor = s.Name
	}
	return actions
}
