package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ixsystems/zlinkd/internal/config"
	"github.com/ixsystems/zlinkd/internal/executor"
	"github.com/ixsystems/zlinkd/internal/link"
	"github.com/ixsystems/zlinkd/internal/metrics"
	"github.com/ixsystems/zlinkd/internal/planner"
	"github.com/ixsystems/zlinkd/internal/role"
	"github.com/ixsystems/zlinkd/internal/rpc"
	"github.com/ixsystems/zlinkd/internal/transport"
	"github.com/ixsystems/zlinkd/internal/zfs"
)

// syncLoop periodically drives RoleUpdate + the planner/executor pair for
// every configured link. It also backs the on-demand replication.sync
// and replication.replicate_dataset tasks via server.Syncer.
type syncLoop struct {
	cfg         *config.Config
	registry    *link.Registry
	coordinator *role.Coordinator
	peer        rpc.Peer
	metrics     *metrics.Collectors
	log         *slog.Logger
}

// Run loops until ctx is canceled, syncing every link once per tick. The
// first pass runs immediately rather than waiting out the first tick.
func (s *syncLoop) Run(ctx context.Context) {
	interval := time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.syncAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *syncLoop) syncAll(ctx context.Context) {
	for _, lc := range s.cfg.Links {
		if err := s.SyncLink(ctx, lc.Name); err != nil {
			s.log.Error("sync: link failed", "link", lc.Name, "error", err)
		}
	}
}

// SyncLink runs one RoleUpdate + (if this host is master) one replication
// sync pass for name, implementing server.Syncer for the on-demand
// "replication.sync" task as well as the periodic loop above.
func (s *syncLoop) SyncLink(ctx context.Context, name string) error {
	lc, err := s.cfg.Link(name)
	if err != nil {
		return err
	}

	l, err := s.registry.GetLatestLink(ctx, name)
	if err != nil {
		return fmt.Errorf("sync: get latest link: %w", err)
	}

	if err := s.coordinator.RoleUpdate(ctx, l); err != nil {
		s.log.Warn("sync: role update", "link", l.Name, "error", err)
	}

	if !l.IsMasterHere(s.cfg.Global.LocalIPs) {
		// Only the master side drives replication.sync; the slave
		// side only ever receives.
		return nil
	}
	return s.syncOne(ctx, l, *lc)
}

// syncOne runs the planner and executor for every dataset root in l, then
// publishes the combined result as l's LinkStatus, on the failure path
// included.
func (s *syncLoop) syncOne(ctx context.Context, l link.Link, lc config.LinkConfig) error {
	s.registry.SetStatus(l.Name, link.LinkStatus{Status: link.StatusRunning})

	var actions []planner.Action
	var totalSize uint64
	for _, root := range l.Datasets {
		rootActions, rootSize, err := s.planRoot(ctx, root, l.Recursive)
		if err != nil {
			failure := link.LinkStatus{Status: link.StatusFailed, Message: err.Error()}
			s.registry.SetStatus(l.Name, failure)
			s.metrics.RecordSync(l.Name, string(link.StatusFailed), 0, 0, 0)
			return fmt.Errorf("plan %q: %w", root, err)
		}
		actions = append(actions, rootActions...)
		totalSize += rootSize
	}

	start := time.Now()
	tcfg := linkTransportConfig(lc)
	if len(lc.Transport) == 0 && len(s.cfg.Global.DefaultTransport) > 0 {
		tcfg = s.cfg.Global.DefaultTransport[0]
	}
	exec, err := executor.New(s.peer, tcfg, func(percent int, message string) {
		s.log.Debug("sync: progress", "link", l.Name, "percent", percent, "action", message)
	})
	if err != nil {
		s.registry.SetStatus(l.Name, link.LinkStatus{Status: link.StatusFailed, Message: err.Error()})
		return fmt.Errorf("transport: %w", err)
	}
	result, runErr := exec.Run(ctx, actions)
	elapsed := time.Since(start).Seconds()

	s.metrics.RecordSync(l.Name, string(result.Status), elapsed, result.Bytes, result.Speed)
	s.registry.SetStatus(l.Name, link.LinkStatus{
		Status:  link.Status(result.Status),
		Message: result.Message,
		Size:    totalSize,
		Speed:   result.Speed,
	})
	return runErr
}

// planRoot runs the delta planner for one (localRoot, remoteRoot) pair,
// where the remote side mirrors the local dataset name 1:1: a link
// replicates named datasets, not a renaming mapping.
func (s *syncLoop) planRoot(ctx context.Context, root string, recursive bool) ([]planner.Action, uint64, error) {
	localDatasets, err := zfs.ListDatasets(ctx, root, recursive)
	if err != nil {
		return nil, 0, fmt.Errorf("list local datasets: %w", err)
	}
	localSnaps, err := zfs.ListSnapshots(ctx, root)
	if err != nil {
		return nil, 0, fmt.Errorf("list local snapshots: %w", err)
	}
	remoteDatasets, err := s.peer.ListDatasets(ctx, root, true)
	if err != nil {
		return nil, 0, fmt.Errorf("list remote datasets: %w", err)
	}
	remoteSnaps, err := s.peer.ListSnapshots(ctx, root)
	if err != nil {
		return nil, 0, fmt.Errorf("list remote snapshots: %w", err)
	}

	req := planner.Request{
		LocalRoot: root, RemoteRoot: root,
		LocalDatasets: localDatasets, RemoteDatasets: remoteDatasets,
		LocalSnaps: localSnaps, RemoteSnaps: remoteSnaps,
		Recursive: recursive, FollowDelete: true,
	}
	return planner.Plan(ctx, req, zfs.EstimateSend)
}

// replicateDatasetSnapshotPrefix names the ad-hoc snapshots
// replication.replicate_dataset takes before planning, distinguishing
// them from any link's own recursive sync (which replicates whatever
// snapshots already exist rather than taking new ones).
const replicateDatasetSnapshotPrefix = "zlinkd-adhoc"

// ReplicateDataset implements server.Syncer's standalone dataset
// replication primitive ("replication.replicate_dataset"): snapshot
// localDS, plan it against the peer, and execute unless dryRun.
func (s *syncLoop) ReplicateDataset(ctx context.Context, localDS string, pluginsOverride []transport.Config, dryRun bool) ([]planner.Action, executor.Result, error) {
	existing, err := zfs.ExistingNames(ctx, localDS)
	if err != nil {
		return nil, executor.Result{}, fmt.Errorf("replicate_dataset: existing snapshots: %w", err)
	}
	snapName, err := zfs.NextFreeName(replicateDatasetSnapshotPrefix, time.Now(), existing)
	if err != nil {
		return nil, executor.Result{}, fmt.Errorf("replicate_dataset: name snapshot: %w", err)
	}
	if err := zfs.CreateSnapshot(ctx, localDS, snapName, zfs.CreateSnapshotOptions{Replicate: true}); err != nil {
		return nil, executor.Result{}, fmt.Errorf("replicate_dataset: create snapshot: %w", err)
	}

	actions, _, err := s.planRoot(ctx, localDS, false)
	if err != nil {
		return nil, executor.Result{}, fmt.Errorf("replicate_dataset: plan: %w", err)
	}
	if dryRun || len(actions) == 0 {
		return actions, executor.Result{Status: executor.StatusSuccess, Message: "dry run, nothing executed"}, nil
	}

	plugins := pluginsOverride
	if len(plugins) == 0 {
		plugins = s.cfg.Global.DefaultTransport
	}
	var cfg transport.Config
	if len(plugins) > 0 {
		cfg = plugins[0]
	}

	exec, err := executor.New(s.peer, cfg, func(percent int, message string) {
		s.log.Debug("replicate_dataset: progress", "dataset", localDS, "percent", percent, "action", message)
	})
	if err != nil {
		return actions, executor.Result{}, fmt.Errorf("replicate_dataset: transport: %w", err)
	}
	result, runErr := exec.Run(ctx, actions)
	return actions, result, runErr
}

func linkTransportConfig(lc config.LinkConfig) transport.Config {
	if len(lc.Transport) == 0 {
		return transport.Config{}
	}
	return lc.Transport[0]
}

// localDatasetsFor resolves exactly the dataset names Validate needs:
// one lookup per requested name, mirroring
// internal/server.localDatasetsFor.
func localDatasetsFor(ctx context.Context, names []string) map[string]link.LocalDataset {
	out := make(map[string]link.LocalDataset, len(names))
	for _, name := range names {
		datasets, err := zfs.ListDatasets(ctx, name, false)
		if err != nil {
			continue
		}
		for _, d := range datasets {
			if d.Name == name {
				out[name] = link.LocalDataset{Name: d.Name, Encrypted: d.Encrypted}
			}
		}
	}
	return out
}
