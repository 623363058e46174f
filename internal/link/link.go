// Package link implements the link registry and reconciler: it
// persists ReplicationLink records, reconciles them against a peer's copy
// with last-writer-wins semantics, detects cross-link conflicts, and
// emits change events. The datastore and peer RPC transport are external
// collaborators behind narrow interfaces; this package only pins down
// what the core calls through.
package link

import (
	"context"
	"sync"
	"time"

	"github.com/ixsystems/zlinkd/internal/util/chainlock"
)

// Status is a link's last sync outcome.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
	StatusRunning Status = "RUNNING"
)

// Link is the persistent ReplicationLink record shared by both peers.
type Link struct {
	Name     string
	Partners [2]string
	Master   string

	Datasets          []string
	Recursive         bool
	Bidirectional     bool
	ReplicateServices bool

	// AutoMatchDisks gates prepare_slave's heuristic empty-disk matching
	// by mediasize; operators may instead supply explicit topology by
	// leaving this false.
	AutoMatchDisks bool

	UpdateDate time.Time
}

// LocalPartner returns whichever of l.Partners matches one of localIPs.
func (l Link) LocalPartner(localIPs []string) (string, bool) {
	for _, ip := range localIPs {
		for _, p := range l.Partners {
			if ip == p {
				return p, true
			}
		}
	}
	return "", false
}

// IsMasterHere reports whether l.Master is the partner IP matching this
// host.
func (l Link) IsMasterHere(localIPs []string) bool {
	p, ok := l.LocalPartner(localIPs)
	return ok && p == l.Master
}

// HasDataset reports whether name is replicated by this link.
func (l Link) HasDataset(name string) bool {
	for _, d := range l.Datasets {
		if d == name {
			return true
		}
	}
	return false
}

// LinkStatus is the non-persistent, TTL-cached sync outcome for one link.
type LinkStatus struct {
	Status  Status
	Message string
	Size    uint64
	Speed   float64
}

// List returns every link this host knows about, straight from the
// datastore (no reconciliation; callers wanting the reconciled view call
// GetLatestLink per name).
func (r *Registry) List(ctx context.Context) ([]Link, error) {
	return r.store.List(ctx)
}

// Datastore is the persistence contract for link records; the backing
// store is an external collaborator and only this contract is pinned
// down.
type Datastore interface {
	Get(ctx context.Context, name string) (Link, bool, error)
	Put(ctx context.Context, l Link) error
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]Link, error)
}

// Event is emitted on any link state change.
type Event struct {
	Operation string // "create", "update", or "delete"
	IDs       []string
}

type statusEntry struct {
	status LinkStatus
	at     time.Time
}

// DestroyDatasetFunc destroys one local dataset and everything under it.
// It backs replication.delete's scrub path; zfs.DestroyDataset satisfies
// it.
type DestroyDatasetFunc func(ctx context.Context, dataset string) error

// Registry owns the in-memory status cache and drives the reconcile,
// mutate and conflict-check operations. There is no in-memory link cache:
// link records are read from the Datastore on every call.
type Registry struct {
	store    Datastore
	peer     Peer
	keys     KeyStore
	localIPs []string
	statusTTL time.Duration

	destroyDataset DestroyDatasetFunc

	mu          chainlock.L
	statusCache map[string]*statusEntry

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	events chan Event
}

// lockFor returns the per-link mutex for name, creating it on first use.
// Update's delete-then-create (topology change) holds this for the whole
// operation so a concurrent GetLatestLink never observes the link absent
// mid-mutation.
func (r *Registry) lockFor(name string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	l, ok := r.locks[name]
	if !ok {
		l = &sync.Mutex{}
		r.locks[name] = l
	}
	return l
}

// NewRegistry builds a Registry. statusTTL governs how long a published
// LinkStatus remains visible to Status() before it's treated as stale.
func NewRegistry(store Datastore, peer Peer, keys KeyStore, localIPs []string, statusTTL time.Duration) *Registry {
	return &Registry{
		store:       store,
		peer:        peer,
		keys:        keys,
		localIPs:    localIPs,
		statusTTL:   statusTTL,
		statusCache: make(map[string]*statusEntry),
		locks:       make(map[string]*sync.Mutex),
		events:      make(chan Event, 16),
	}
}

// WithDestroyDataset wires the local dataset destroyer backing
// replication.delete's scrub path. Left unwired, a scrub request on the
// slave side fails instead of silently skipping the destroy.
func (r *Registry) WithDestroyDataset(fn DestroyDatasetFunc) *Registry {
	r.destroyDataset = fn
	return r
}

// Events returns the channel change events are published on. The channel
// is unbuffered beyond a small slack; emit drops events rather than block
// a mutation if nobody is listening (events are best-effort notification,
// not a durable log — the datastore is the source of truth).
func (r *Registry) Events() <-chan Event { return r.events }

func (r *Registry) emit(e Event) {
	select {
	case r.events <- e:
	default:
	}
}

// SetStatus publishes a link's sync outcome, always, the failure path
// included.
func (r *Registry) SetStatus(name string, s LinkStatus) {
	r.mu.HoldWhile(func() {
		r.statusCache[name] = &statusEntry{status: s, at: time.Now()}
	})
}

// Status returns the cached status for name, or false if absent or past
// statusTTL. Readers may race with a concurrent SetStatus and observe a
// slightly stale value; that's acceptable.
func (r *Registry) Status(name string) (LinkStatus, bool) {
	var out LinkStatus
	var ok bool
	r.mu.HoldWhile(func() {
		e, found := r.statusCache[name]
		if !found || time.Since(e.at) > r.statusTTL {
			return
		}
		out, ok = e.status, true
	})
	return out, ok
}

// StatusAt returns the cached status for name along with when it was
// published, ignoring statusTTL — internal/monitor uses the raw
// timestamp to compute staleness itself rather than getting a binary
// fresh/stale answer.
func (r *Registry) StatusAt(name string) (LinkStatus, time.Time, bool) {
	var out LinkStatus
	var at time.Time
	var ok bool
	r.mu.HoldWhile(func() {
		e, found := r.statusCache[name]
		if !found {
			return
		}
		out, at, ok = e.status, e.at, true
	})
	return out, at, ok
}
