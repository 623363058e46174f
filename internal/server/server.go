// Package server implements the peer-facing HTTP side of the narrow
// rpc.Peer contract (internal/rpc): the routes internal/rpc.JSONClient
// calls into, plus the "task" names the link, role and executor packages
// invoke through Peer.CallTask. It is the server half of a plain
// JSON-over-HTTP RPC pattern (internal/rpc/jsonclient.go is the client
// half); tasks are dispatched by name through a handler registry keyed
// on the replication.*/zfs.* task names.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ixsystems/zlinkd/internal/executor"
	"github.com/ixsystems/zlinkd/internal/link"
	"github.com/ixsystems/zlinkd/internal/planner"
	"github.com/ixsystems/zlinkd/internal/role"
	"github.com/ixsystems/zlinkd/internal/rpc"
	"github.com/ixsystems/zlinkd/internal/transport"
	"github.com/ixsystems/zlinkd/internal/zfs"
)

// Syncer drives an on-demand replication.sync invocation for one
// configured link. cmd/zlinkd's periodic
// sync loop implements this; it is optional because internal/server's own
// tests exercise the registry/role routes without a daemon behind them.
type Syncer interface {
	SyncLink(ctx context.Context, name string) error

	// ReplicateDataset backs the standalone "replication.
	// replicate_dataset" task: snapshot localds, plan against the
	// configured peer, and (unless dryRun) execute the plan through
	// pluginsOverride (the daemon's default transport if empty). It is
	// not tied to any configured link, which is why it takes the
	// dataset and plugins directly rather than a link name.
	ReplicateDataset(ctx context.Context, localDS string, pluginsOverride []transport.Config, dryRun bool) ([]planner.Action, executor.Result, error)
}

// TaskFunc handles one named CallTask invocation. A returned error becomes
// a TaskFailed result; the returned value (if any) is marshaled into
// TaskResult.Value.
type TaskFunc func(ctx context.Context, raw json.RawMessage) (any, error)

// Server answers a peer appliance's inventory queries and task
// invocations against this host's local ZFS backend and link registry.
type Server struct {
	registry *link.Registry
	role     *role.Coordinator
	syncer   Syncer
	log      *slog.Logger

	mux   *http.ServeMux
	tasks map[string]TaskFunc
}

// New builds a Server. registry and rc may be nil in tests that only
// exercise the zfs.* inventory routes. syncer may be nil; the
// replication.sync task then reports "not configured" instead of panicking,
// which is fine for tests that never call it.
func New(registry *link.Registry, rc *role.Coordinator, syncer Syncer, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{registry: registry, role: rc, syncer: syncer, log: log, tasks: map[string]TaskFunc{}}
	s.registerTasks()

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("POST /rpc/ping", s.handlePing)
	s.mux.HandleFunc("POST /rpc/zfs/list_datasets", s.handleListDatasets)
	s.mux.HandleFunc("POST /rpc/zfs/list_snapshots", s.handleListSnapshots)
	s.mux.HandleFunc("POST /rpc/zfs/estimate_send", s.handleEstimateSend)
	s.mux.HandleFunc("POST /rpc/zfs/receive", s.handleReceive)
	s.mux.HandleFunc("POST /rpc/link/list", s.handleLinkList)
	s.mux.HandleFunc("POST /rpc/link/status", s.handleLinkStatus)
	s.mux.HandleFunc("POST /rpc/task/", s.handleTask)
	return s
}

// handleLinkList answers zlinkctl's "link list" query: every link this
// host's registry knows about, unreconciled (callers
// wanting the reconciled view go through replication.get_latest_link per
// name instead of paying N reconciles for an overview listing).
func (s *Server) handleLinkList(w http.ResponseWriter, r *http.Request) {
	if err := s.requireRegistry(); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	out, err := s.registry.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	json.NewEncoder(w).Encode(out)
}

// linkStatusResponse is the wire shape of a single link's cached sync
// outcome plus when it was published, for zlinkctl's status view and
// monitor check.
type linkStatusResponse struct {
	link.LinkStatus
	At      string `json:"at"`
	Present bool   `json:"present"`
}

func (s *Server) handleLinkStatus(w http.ResponseWriter, r *http.Request) {
	if err := s.requireRegistry(); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	var in struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	status, at, ok := s.registry.StatusAt(in.Name)
	out := linkStatusResponse{LinkStatus: status, Present: ok}
	if ok {
		out.At = at.UTC().Format("2006-01-02T15:04:05Z")
	}
	json.NewEncoder(w).Encode(out)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func decodeBody(r *http.Request, out any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}

func writeError(w http.ResponseWriter, status int, err error) {
	http.Error(w, err.Error(), status)
}

func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Root      string `json:"root"`
		Recursive bool   `json:"recursive"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	out, err := zfs.ListDatasets(r.Context(), in.Root, in.Recursive)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	json.NewEncoder(w).Encode(out)
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Root string `json:"root"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	out, err := zfs.ListSnapshots(r.Context(), in.Root)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	json.NewEncoder(w).Encode(out)
}

func (s *Server) handleEstimateSend(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Dataset string `json:"dataset"`
		From    string `json:"from"`
		To      string `json:"to"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	n, err := zfs.EstimateSend(r.Context(), in.Dataset, in.From, in.To)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	json.NewEncoder(w).Encode(struct {
		Bytes uint64 `json:"bytes"`
	}{n})
}

// handleReceive is the receiving end of an executor SendStream action
// (internal/executor.sendStream / internal/rpc.JSONClient.OpenReceive): the
// request body is the sending side's transport.Wrap-encoded send stream.
// The "transport" query parameter carries the same transport.Config the
// sender wrapped with, so this handler can build the matching plugin and
// Unwrap before the bytes reach `zfs receive`.
func (s *Server) handleReceive(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	fs := q.Get("fs")
	force, _ := strconv.ParseBool(q.Get("force"))
	nomount, _ := strconv.ParseBool(q.Get("nomount"))
	if fs == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("server: receive: missing fs"))
		return
	}

	var cfg transport.Config
	if raw := q.Get("transport"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("server: receive: decode transport config: %w", err))
			return
		}
	}
	tr, err := transport.New(cfg)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("server: receive: transport: %w", err))
		return
	}
	body, err := tr.Unwrap(r.Body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("server: receive: unwrap %s: %w", fs, err))
		return
	}

	wait, err := zfs.Receive(r.Context(), fs, force, nomount, body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("server: start receive %s: %w", fs, err))
		return
	}
	if err := wait(); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("server: receive %s: %w", fs, err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/rpc/task/")
	fn, ok := s.tasks[name]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("server: unknown task %q", name))
		return
	}

	var raw json.RawMessage
	if r.Body != nil {
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("server: decode task %q args: %w", name, err))
			return
		}
	}

	value, err := fn(r.Context(), raw)
	result := rpc.TaskResult{State: rpc.TaskFinished, Value: value}
	if err != nil {
		result.State = rpc.TaskFailed
		result.Message = err.Error()
		s.log.Warn("server: task failed", "task", name, "error", err)
	}
	json.NewEncoder(w).Encode(result)
}

// localDatasetsFor resolves exactly the names Validate needs:
// one lookup per requested dataset rather than a full-pool listing, since
// Validate only ever consults entries for l.Datasets.
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

func (s *Server) registerTasks() {
	s.tasks["zfs.delete_multiple_snapshots"] = s.taskDeleteMultipleSnapshots
	s.tasks["zfs.destroy"] = s.taskDestroy
	s.tasks["replication.create"] = s.taskReplicationCreate
	s.tasks["replication.update"] = s.taskReplicationUpdate
	s.tasks["replication.update_link"] = s.taskReplicationUpdateLink
	s.tasks["replication.delete"] = s.taskReplicationDelete
	s.tasks["replication.get_latest_link"] = s.taskReplicationGetLatestLink
	s.tasks["replication.prepare_slave"] = s.taskReplicationPrepareSlave
	s.tasks["replication.reserve_services"] = s.taskReplicationReserveServices
	s.tasks["replication.check_datasets"] = s.taskReplicationCheckDatasets
	s.tasks["replication.role_update"] = s.taskReplicationRoleUpdate
	s.tasks["replication.sync"] = s.taskReplicationSync
	s.tasks["replication.calculate_delta"] = s.taskReplicationCalculateDelta
	s.tasks["replication.replicate_dataset"] = s.taskReplicationReplicateDataset
	s.tasks["disk.query"] = s.taskDiskQuery
	s.tasks["volume.create"] = s.taskVolumeCreate
	s.tasks["volume.dataset.create"] = s.taskVolumeDatasetCreate
}

// taskReplicationCheckDatasets runs the same precheck Create/Update
// run, without persisting or
// mirroring anything.
func (s *Server) taskReplicationCheckDatasets(ctx context.Context, raw json.RawMessage) (any, error) {
	if err := s.requireRegistry(); err != nil {
		return nil, err
	}
	var l link.Link
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, err
	}
	return nil, s.registry.CheckDatasets(ctx, l, localDatasetsFor(ctx, l.Datasets))
}

// taskReplicationRoleUpdate runs the role coordinator for one link,
// after reconciling it via GetLatestLink so the decision is made on
// the current record.
func (s *Server) taskReplicationRoleUpdate(ctx context.Context, raw json.RawMessage) (any, error) {
	if err := s.requireRegistry(); err != nil {
		return nil, err
	}
	if s.role == nil {
		return nil, fmt.Errorf("server: role coordinator not configured on this host")
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return nil, err
	}
	l, err := s.registry.GetLatestLink(ctx, name)
	if err != nil {
		return nil, err
	}
	return nil, s.role.RoleUpdate(ctx, l)
}

// taskReplicationSync backs "replication.sync": compute and
// execute the current plan for the named link, updating its status. The
// actual planner/executor wiring lives with the daemon's sync loop
// (cmd/zlinkd), reached here through the narrow Syncer interface so this
// package doesn't need to depend on the daemon's config/transport
// plumbing. Only "name" is read from the arguments; a transport_plugins
// argument is ignored, and the sync uses the link's configured transport.
func (s *Server) taskReplicationSync(ctx context.Context, raw json.RawMessage) (any, error) {
	if s.syncer == nil {
		return nil, fmt.Errorf("server: replication.sync is not configured on this host")
	}
	var in struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, err
	}
	return nil, s.syncer.SyncLink(ctx, in.Name)
}

// taskReplicationCalculateDelta backs the pure "replication.
// calculate_delta" task: it lists this host's own inventory under
// localds, combines it with the caller-supplied remote_inventory (the
// task takes the remote inventory as data, not as a remote call the
// planner itself makes), and returns the plan and its estimated size.
func (s *Server) taskReplicationCalculateDelta(ctx context.Context, raw json.RawMessage) (any, error) {
	var in struct {
		LocalDS         string `json:"localds"`
		RemoteDS        string `json:"remoteds"`
		RemoteInventory struct {
			Datasets  []zfs.Dataset  `json:"datasets"`
			Snapshots []zfs.Snapshot `json:"snapshots"`
		} `json:"remote_inventory"`
		Recursive    bool `json:"recursive"`
		FollowDelete bool `json:"followdelete"`
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, err
	}

	localDatasets, err := zfs.ListDatasets(ctx, in.LocalDS, in.Recursive)
	if err != nil {
		return nil, fmt.Errorf("server: calculate_delta: list local datasets: %w", err)
	}
	localSnaps, err := zfs.ListSnapshots(ctx, in.LocalDS)
	if err != nil {
		return nil, fmt.Errorf("server: calculate_delta: list local snapshots: %w", err)
	}

	req := planner.Request{
		LocalRoot: in.LocalDS, RemoteRoot: in.RemoteDS,
		LocalDatasets: localDatasets, RemoteDatasets: in.RemoteInventory.Datasets,
		LocalSnaps: localSnaps, RemoteSnaps: in.RemoteInventory.Snapshots,
		Recursive: in.Recursive, FollowDelete: in.FollowDelete,
	}
	actions, size, err := planner.Plan(ctx, req, zfs.EstimateSend)
	if err != nil {
		return nil, err
	}
	return struct {
		Actions []planner.Action `json:"actions"`
		Size    uint64           `json:"size"`
	}{actions, size}, nil
}

// taskReplicationReplicateDataset backs the standalone
// "replication.replicate_dataset": snapshot, plan, execute against one
// dataset outside of any configured link (an operator- or automation-
// triggered one-off replication, as distinct from replication.sync's
// per-link loop).
func (s *Server) taskReplicationReplicateDataset(ctx context.Context, raw json.RawMessage) (any, error) {
	if s.syncer == nil {
		return nil, fmt.Errorf("server: replication.replicate_dataset is not configured on this host")
	}
	var in struct {
		LocalDS          string             `json:"localds"`
		Options          map[string]any     `json:"options"`
		TransportPlugins []transport.Config `json:"transport_plugins"`
		DryRun           bool               `json:"dry_run"`
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, err
	}
	actions, result, err := s.syncer.ReplicateDataset(ctx, in.LocalDS, in.TransportPlugins, in.DryRun)
	if err != nil {
		return nil, err
	}
	return struct {
		Actions []planner.Action `json:"actions"`
		Result  executor.Result  `json:"result"`
	}{actions, result}, nil
}

func (s *Server) taskDeleteMultipleSnapshots(ctx context.Context, raw json.RawMessage) (any, error) {
	var in struct {
		Dataset   string   `json:"dataset"`
		Snapshots []string `json:"snapshots"`
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, err
	}
	ops := make([]*zfs.DestroySnapOp, 0, len(in.Snapshots))
	if len(in.Snapshots) == 0 {
		// An empty list means "all": clear every snapshot under the
		// dataset so a fresh full receive has nothing to collide with.
		snaps, err := zfs.ListSnapshots(ctx, in.Dataset)
		if err != nil {
			return nil, err
		}
		for _, snap := range snaps {
			ops = append(ops, &zfs.DestroySnapOp{Filesystem: snap.Dataset, Name: snap.Name, ErrOut: new(error)})
		}
	} else {
		for _, name := range in.Snapshots {
			ops = append(ops, &zfs.DestroySnapOp{Filesystem: in.Dataset, Name: name, ErrOut: new(error)})
		}
	}
	zfs.DestroySnapshots(ctx, ops)
	for _, op := range ops {
		if *op.ErrOut != nil {
			return nil, *op.ErrOut
		}
	}
	return nil, nil
}

func (s *Server) taskDestroy(ctx context.Context, raw json.RawMessage) (any, error) {
	var in struct {
		Dataset string `json:"dataset"`
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, err
	}
	return nil, zfs.DestroyDataset(ctx, in.Dataset)
}

func (s *Server) requireRegistry() error {
	if s.registry == nil {
		return fmt.Errorf("server: link registry not configured on this host")
	}
	return nil
}

func (s *Server) taskReplicationCreate(ctx context.Context, raw json.RawMessage) (any, error) {
	if err := s.requireRegistry(); err != nil {
		return nil, err
	}
	var l link.Link
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, err
	}
	return s.registry.Create(ctx, l, localDatasetsFor(ctx, l.Datasets))
}

func (s *Server) taskReplicationUpdate(ctx context.Context, raw json.RawMessage) (any, error) {
	if err := s.requireRegistry(); err != nil {
		return nil, err
	}
	var l link.Link
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, err
	}
	return s.registry.Update(ctx, l.Name, l, localDatasetsFor(ctx, l.Datasets))
}

// taskReplicationUpdateLink handles reconcileBothPresent's best-effort
// "push the newer local copy back" call: it's a plain overwrite, not a
// validated Update, mirroring that the sender already reconciled it.
func (s *Server) taskReplicationUpdateLink(ctx context.Context, raw json.RawMessage) (any, error) {
	if err := s.requireRegistry(); err != nil {
		return nil, err
	}
	var l link.Link
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, err
	}
	return nil, s.registry.Adopt(ctx, l)
}

func (s *Server) taskReplicationDelete(ctx context.Context, raw json.RawMessage) (any, error) {
	if err := s.requireRegistry(); err != nil {
		return nil, err
	}
	var in struct {
		Name  string `json:"name"`
		Scrub bool   `json:"scrub"`
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, err
	}
	return nil, s.registry.Delete(ctx, in.Name, in.Scrub)
}

func (s *Server) taskReplicationGetLatestLink(ctx context.Context, raw json.RawMessage) (any, error) {
	if err := s.requireRegistry(); err != nil {
		return nil, err
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return nil, err
	}
	return s.registry.GetLatestLink(ctx, name)
}

func (s *Server) taskReplicationPrepareSlave(ctx context.Context, raw json.RawMessage) (any, error) {
	if err := s.requireRegistry(); err != nil {
		return nil, err
	}
	var l link.Link
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, err
	}
	return nil, s.registry.PrepareSlave(ctx, l, nil)
}

// taskReplicationReserveServices backs "replication.reserve_services":
// the retry loop (internal/link.RetryReserveAndSync) calls this as its first
// step on every attempt, so it must succeed even when no dependent-service
// inventory is wired (role.NoopServices' clean no-op).
func (s *Server) taskReplicationReserveServices(ctx context.Context, raw json.RawMessage) (any, error) {
	if s.role == nil {
		return nil, fmt.Errorf("server: role coordinator not configured on this host")
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return nil, err
	}
	return nil, s.role.ReserveServices(ctx, name)
}

// taskDiskQuery and taskVolumeCreate back PrepareSlave's AutoMatchDisks
// path. No reference implementation exposes a block-device enumeration
// or pool-creation API (everything available is either local-zfs-CLI or
// application-level HTTP clients), so there is nothing to ground a real
// implementation on; this build reports the feature unsupported rather
// than fabricate a device layer, per DESIGN.md.
func (s *Server) taskDiskQuery(ctx context.Context, raw json.RawMessage) (any, error) {
	return nil, fmt.Errorf("server: disk.query is not implemented on this host; configure the link with explicit topology instead of auto_match_disks")
}

func (s *Server) taskVolumeCreate(ctx context.Context, raw json.RawMessage) (any, error) {
	return nil, fmt.Errorf("server: volume.create is not implemented on this host; configure the link with explicit topology instead of auto_match_disks")
}

// taskVolumeDatasetCreate backs prepare_slave's nested dataset
// skeleton: unlike disk/volume auto-matching, creating the datasets
// themselves needs nothing beyond the local zfs CLI already wired
// everywhere else in this package.
func (s *Server) taskVolumeDatasetCreate(ctx context.Context, raw json.RawMessage) (any, error) {
	var in struct {
		Datasets []string `json:"datasets"`
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, err
	}
	for _, d := range in.Datasets {
		if err := zfs.CreateDataset(ctx, d); err != nil {
			return nil, fmt.Errorf("server: create dataset %q: %w", d, err)
		}
	}
	return nil, nil
}
