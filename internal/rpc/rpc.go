// Package rpc defines the narrow contract this engine requires from a peer
// appliance: remote ZFS inventory queries and remote subtask invocation.
// The wire transport and auth are external collaborators; this package
// only pins down what the core calls through.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ixsystems/zlinkd/internal/transport"
	"github.com/ixsystems/zlinkd/internal/zfs"
)

// Per-subtask/task waits default to an hour, interactive RPC (pings,
// metadata fetches) to 20s.
const (
	DefaultTaskTimeout        = 3600 * time.Second
	DefaultInteractiveTimeout = 20 * time.Second
)

// TaskState is the terminal state of a remote task invocation. The executor
// only distinguishes Finished from everything else.
type TaskState string

const (
	TaskFinished TaskState = "FINISHED"
	TaskFailed   TaskState = "FAILED"
	TaskAborted  TaskState = "ABORTED"
)

// TaskResult is what a remote task call resolves to once it reaches a
// terminal state.
type TaskResult struct {
	State   TaskState
	Code    string
	Message string
	Value   any
}

// DecodeValue re-decodes r.Value into out. A JSON-backed Peer (JSONClient)
// populates Value by decoding the wire response into an `any`, so it
// arrives as a generic map/slice rather than a concrete Go type; a
// round trip through encoding/json gets it into out's concrete type.
// Callers that already hold the concrete type (tests, in-process peers)
// pay only the cost of the round trip, not a behavior change.
func (r TaskResult) DecodeValue(out any) error {
	raw, err := json.Marshal(r.Value)
	if err != nil {
		return fmt.Errorf("rpc: re-encode task result value: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("rpc: decode task result value: %w", err)
	}
	return nil
}

// Err turns a non-FINISHED result into a *TaskError, or nil.
func (r TaskResult) Err() error {
	if r.State == TaskFinished {
		return nil
	}
	return &TaskError{State: r.State, Code: r.Code, Message: r.Message}
}

// TaskError carries a remote subtask's error code and message.
type TaskError struct {
	State   TaskState
	Code    string
	Message string
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("rpc: remote task %s (%s): %s", e.State, e.Code, e.Message)
}

// Peer is the set of calls this engine makes against a remote appliance:
// read-only inventory queries, remote send/delete/destroy tasks, and
// link mirroring.
type Peer interface {
	// Ping verifies reachability.
	Ping(ctx context.Context) error

	ListDatasets(ctx context.Context, root string, recursive bool) ([]zfs.Dataset, error)
	ListSnapshots(ctx context.Context, root string) ([]zfs.Snapshot, error)
	EstimateSend(ctx context.Context, dataset, from, to string) (uint64, error)

	// CallTask invokes a named remote task (e.g. "replication.update_link",
	// "zfs.delete_multiple_snapshots") and blocks until it reaches a
	// terminal state or ctx is done.
	CallTask(ctx context.Context, name string, args any) (TaskResult, error)

	// OpenReceive opens the write side of a remote `zfs receive` and
	// returns it ready to be fed the send stream by the transport plugin.
	// tr identifies which transport plugin wrapped the stream, so the peer
	// can apply the matching Unwrap before the bytes reach its `zfs
	// receive`; the pair must agree on the wire encoding.
	OpenReceive(ctx context.Context, remotefs string, force, nomount bool, tr transport.Config) (WriteCloser, error)
}

// WriteCloser is the peer-side half of a SendStream action: the transport
// plugin writes the send stream into it and closes it to signal EOF.
type WriteCloser interface {
	Write(p []byte) (int, error)
	Close() error
	// Wait blocks until the remote `zfs receive` has exited and returns its
	// terminal error, if any.
	Wait() error
}
