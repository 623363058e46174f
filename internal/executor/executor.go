// Package executor implements the stream executor: it drives a
// planner.Action plan to completion, pairing a local `zfs send` with a
// transport-wrapped remote `zfs receive` through an io.Pipe, reporting
// progress, and supporting cooperative abort.
package executor

import (
	"context"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ixsystems/zlinkd/internal/planner"
	"github.com/ixsystems/zlinkd/internal/rpc"
	"github.com/ixsystems/zlinkd/internal/transport"
	"github.com/ixsystems/zlinkd/internal/util/bytecounter"
	"github.com/ixsystems/zlinkd/internal/util/chainlock"
	"github.com/ixsystems/zlinkd/internal/zfs"
)

// Status is the terminal outcome of a plan run.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
	StatusAborted Status = "ABORTED"
)

// ProgressFunc is called before each action starts, with the percentage
// complete (floor(100*i/n)) and a human-readable description of the action.
type ProgressFunc func(percent int, message string)

// Result summarizes a finished (or aborted) plan run.
type Result struct {
	Status  Status
	Message string
	Bytes   uint64
	Speed   float64 // bytes/sec, 0 if elapsed time was negligible
}

// Executor runs a ReplicationPlan against one peer.
type Executor struct {
	peer       rpc.Peer
	transport  transport.Transport
	cfg        transport.Config
	onProgress ProgressFunc

	mu      chainlock.L
	aborted bool
	pipeR   *io.PipeReader
	pipeW   *io.PipeWriter
	counter *bytecounter.Writer
	cancel  context.CancelFunc
}

// New builds an Executor that sends through peer, wrapping each stream per
// cfg (the zero Config is PlainTransport). cfg is also forwarded to the
// peer's OpenReceive so it can build the matching Unwrap transport; this
// is why New takes a Config rather than an already-built Transport.
func New(peer rpc.Peer, cfg transport.Config, onProgress ProgressFunc) (*Executor, error) {
	tr, err := transport.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("executor: transport: %w", err)
	}
	if onProgress == nil {
		onProgress = func(int, string) {}
	}
	return &Executor{peer: peer, transport: tr, cfg: cfg, onProgress: onProgress}, nil
}

// Abort requests the executor stop. Between actions it returns early; an
// in-flight SendStream is interrupted by closing both pipe ends, causing
// the send/receive pair to fail with a broken-pipe error.
func (e *Executor) Abort() {
	e.mu.HoldWhile(func() {
		e.aborted = true
		if e.cancel != nil {
			e.cancel()
		}
		if e.pipeW != nil {
			e.pipeW.CloseWithError(errAborted)
		}
		if e.pipeR != nil {
			e.pipeR.CloseWithError(errAborted)
		}
	})
}

var errAborted = fmt.Errorf("executor: aborted")

func (e *Executor) isAborted() bool {
	var a bool
	e.mu.HoldWhile(func() { a = e.aborted })
	return a
}

// CurrentBytes returns the number of bytes transferred by the in-flight
// SendStream action, or 0 if none is running. Safe to call concurrently
// with Run for live status reporting.
func (e *Executor) CurrentBytes() uint64 {
	var n uint64
	e.mu.HoldWhile(func() {
		if e.counter != nil {
			n = e.counter.Count()
		}
	})
	return n
}

// Run executes actions in order. Any per-action failure aborts the plan;
// the final Result is always returned (never a half-updated partial state)
// so callers can publish it to both sides' status caches regardless of
// outcome.
func (e *Executor) Run(ctx context.Context, actions []planner.Action) (Result, error) {
	n := len(actions)
	start := time.Now()
	var total uint64

	for i, a := range actions {
		if e.isAborted() {
			return Result{Status: StatusAborted, Message: "sync aborted", Bytes: total}, nil
		}

		percent := 0
		if n > 0 {
			percent = 100 * i / n
		}
		e.onProgress(percent, a.String())

		sent, err := e.runAction(ctx, a)
		total += sent
		if err != nil {
			if e.isAborted() {
				return Result{Status: StatusAborted, Message: "sync aborted", Bytes: total}, nil
			}
			return Result{Status: StatusFailed, Message: err.Error(), Bytes: total},
				fmt.Errorf("executor: action %d/%d (%s): %w", i+1, n, a, err)
		}
	}

	elapsed := time.Since(start)
	var speed float64
	if elapsed > 0 {
		speed = float64(total) / elapsed.Seconds()
	}
	return Result{Status: StatusSuccess, Message: "replication complete", Bytes: total, Speed: speed}, nil
}

func (e *Executor) runAction(ctx context.Context, a planner.Action) (uint64, error) {
	switch a.Kind {
	case planner.ActionSendStream:
		return e.sendStream(ctx, a)
	case planner.ActionDeleteSnapshots:
		return 0, e.deleteSnapshots(ctx, a.Remotefs, a.Snapshots)
	case planner.ActionClearSnapshots:
		return 0, e.deleteSnapshots(ctx, a.Remotefs, nil)
	case planner.ActionDeleteDataset:
		return 0, e.destroyDataset(ctx, a.Remotefs)
	default:
		return 0, fmt.Errorf("executor: unknown action kind %q", a.Kind)
	}
}

func (e *Executor) deleteSnapshots(ctx context.Context, remotefs string, snapshots []string) error {
	res, err := e.peer.CallTask(ctx, "zfs.delete_multiple_snapshots", map[string]any{
		"dataset": remotefs, "snapshots": snapshots,
	})
	if err != nil {
		return fmt.Errorf("executor: delete_multiple_snapshots: %w", err)
	}
	return res.Err()
}

func (e *Executor) destroyDataset(ctx context.Context, remotefs string) error {
	res, err := e.peer.CallTask(ctx, "zfs.destroy", map[string]any{
		"pool": zfs.PoolOf(remotefs), "dataset": remotefs,
	})
	if err != nil {
		return fmt.Errorf("executor: zfs.destroy: %w", err)
	}
	return res.Err()
}

func (e *Executor) setPipe(r *io.PipeReader, w *io.PipeWriter) {
	e.mu.HoldWhile(func() { e.pipeR, e.pipeW = r, w })
}

func (e *Executor) setCancel(cancel context.CancelFunc) {
	e.mu.HoldWhile(func() { e.cancel = cancel })
}

func (e *Executor) setCounter(c *bytecounter.Writer) {
	e.mu.HoldWhile(func() { e.counter = c })
}

// sendStream pairs a local `zfs send` with the peer's `zfs receive`,
// through e.transport, over an anonymous pipe. Both sides must complete
// successfully for the action to succeed; either failing (including abort,
// which closes the pipe) fails the other via the pipe's broken-pipe error.
func (e *Executor) sendStream(ctx context.Context, a planner.Action) (uint64, error) {
	ctx, cancel := context.WithCancel(ctx)
	e.setCancel(cancel)
	defer func() { cancel(); e.setCancel(nil) }()

	pr, pw := io.Pipe()
	e.setPipe(pr, pw)
	defer e.setPipe(nil, nil)

	wrapped, err := e.transport.Wrap(pr)
	if err != nil {
		pw.CloseWithError(err)
		return 0, fmt.Errorf("executor: wrap send stream: %w", err)
	}

	recv, err := e.peer.OpenReceive(ctx, a.Remotefs, true, false, e.cfg)
	if err != nil {
		pw.CloseWithError(err)
		return 0, fmt.Errorf("executor: open remote receive: %w", err)
	}
	counter := bytecounter.NewWriter(recv)
	e.setCounter(counter)
	defer e.setCounter(nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		wait, startErr := zfs.Send(gctx, a.Localfs, a.Anchor, a.Snapshot, pw)
		if startErr != nil {
			pw.CloseWithError(startErr)
			return fmt.Errorf("executor: start send: %w", startErr)
		}
		sendErr := wait()
		closeErr := pw.Close()
		if sendErr != nil {
			return fmt.Errorf("executor: send: %w", sendErr)
		}
		if closeErr != nil {
			return fmt.Errorf("executor: close send pipe: %w", closeErr)
		}
		return nil
	})
	g.Go(func() error {
		_, copyErr := io.Copy(counter, wrapped)
		closeErr := recv.Close()
		if copyErr != nil {
			return fmt.Errorf("executor: write to receiver: %w", copyErr)
		}
		if closeErr != nil {
			return fmt.Errorf("executor: close receiver: %w", closeErr)
		}
		if waitErr := recv.Wait(); waitErr != nil {
			return fmt.Errorf("executor: remote receive: %w", waitErr)
		}
		return nil
	})

	err = g.Wait()
	return counter.Count(), err
}
