package executor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ixsystems/zlinkd/internal/planner"
	"github.com/ixsystems/zlinkd/internal/rpc"
	"github.com/ixsystems/zlinkd/internal/transport"
	"github.com/ixsystems/zlinkd/internal/zfs"
)

// installStubZFS points ZLINKD_ZFS_BIN at a shell script standing in for
// the real `zfs` binary, so zfs.Send can be exercised without one installed.
func installStubZFS(t *testing.T, body string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "zfs")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	t.Setenv("ZLINKD_ZFS_BIN", path)
}

type taskCall struct {
	name string
	args any
}

type fakePeer struct {
	mu sync.Mutex

	calls []taskCall

	taskResult rpc.TaskResult
	taskErr    error

	openReceiveErr error
	recv           *fakeWriteCloser
	openReceiveCfg transport.Config
}

func (p *fakePeer) Ping(context.Context) error { return nil }

func (p *fakePeer) ListDatasets(context.Context, string, bool) ([]zfs.Dataset, error) {
	return nil, nil
}

func (p *fakePeer) ListSnapshots(context.Context, string) ([]zfs.Snapshot, error) {
	return nil, nil
}

func (p *fakePeer) EstimateSend(context.Context, string, string, string) (uint64, error) {
	return 0, nil
}

func (p *fakePeer) CallTask(_ context.Context, name string, args any) (rpc.TaskResult, error) {
	p.mu.Lock()
	p.calls = append(p.calls, taskCall{name: name, args: args})
	p.mu.Unlock()
	if p.taskErr != nil {
		return rpc.TaskResult{}, p.taskErr
	}
	return p.taskResult, nil
}

func (p *fakePeer) OpenReceive(_ context.Context, _ string, _, _ bool, tr transport.Config) (rpc.WriteCloser, error) {
	p.mu.Lock()
	p.openReceiveCfg = tr
	p.mu.Unlock()
	if p.openReceiveErr != nil {
		return nil, p.openReceiveErr
	}
	return p.recv, nil
}

var _ rpc.Peer = (*fakePeer)(nil)

type fakeWriteCloser struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	closed  bool
	waitErr error
}

func (w *fakeWriteCloser) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *fakeWriteCloser) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWriteCloser) Wait() error { return w.waitErr }

func (w *fakeWriteCloser) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func runWithTimeout(t *testing.T, e *Executor, actions []planner.Action) (Result, error) {
	t.Helper()
	type out struct {
		res Result
		err error
	}
	ch := make(chan out, 1)
	go func() {
		res, err := e.Run(context.Background(), actions)
		ch <- out{res, err}
	}()
	select {
	case o := <-ch:
		return o.res, o.err
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return within timeout")
		return Result{}, nil
	}
}

func TestRunSendStreamSuccess(t *testing.T) {
	installStubZFS(t, `
case "$1" in
  send) printf 'hello-stream-bytes-0123456789' ;;
  *) exit 1 ;;
esac
`)
	recv := &fakeWriteCloser{}
	peer := &fakePeer{recv: recv}
	var progressed []string
	e, err := New(peer, transport.Config{}, func(pct int, msg string) {
		progressed = append(progressed, fmt.Sprintf("%d:%s", pct, msg))
	})
	require.NoError(t, err)

	actions := []planner.Action{
		{Kind: planner.ActionSendStream, Localfs: "tank/a", Remotefs: "backup/a", Snapshot: "snap1"},
	}
	res, err := runWithTimeout(t, e, actions)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "hello-stream-bytes-0123456789", recv.String())
	assert.Equal(t, uint64(len("hello-stream-bytes-0123456789")), res.Bytes)
	require.Len(t, progressed, 1)
	assert.Equal(t, "0:send tank/a@snap1 (full) -> backup/a", progressed[0])
}

func TestRunSendStreamForwardsTransportConfigToOpenReceive(t *testing.T) {
	installStubZFS(t, `
case "$1" in
  send) printf 'stream-bytes' ;;
  *) exit 1 ;;
esac
`)
	peer := &fakePeer{recv: &fakeWriteCloser{}}
	cfg := transport.Config{Name: "link-cipher", Type: "encrypt", Properties: map[string]string{"key": "k"}}
	e, err := New(peer, cfg, nil)
	require.NoError(t, err)

	actions := []planner.Action{
		{Kind: planner.ActionSendStream, Localfs: "tank/a", Remotefs: "backup/a", Snapshot: "snap1"},
	}
	res, err := runWithTimeout(t, e, actions)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, cfg, peer.openReceiveCfg)
}

func TestRunSendStreamPropagatesSendFailure(t *testing.T) {
	installStubZFS(t, `
case "$1" in
  send) echo "boom" 1>&2; exit 1 ;;
  *) exit 1 ;;
esac
`)
	peer := &fakePeer{recv: &fakeWriteCloser{}}
	e, err := New(peer, transport.Config{}, nil)
	require.NoError(t, err)

	actions := []planner.Action{
		{Kind: planner.ActionSendStream, Localfs: "tank/a", Remotefs: "backup/a", Snapshot: "snap1"},
	}
	res, err := runWithTimeout(t, e, actions)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, res.Status)
}

func TestRunDeleteSnapshotsCallsTask(t *testing.T) {
	peer := &fakePeer{taskResult: rpc.TaskResult{State: rpc.TaskFinished}}
	e, err := New(peer, transport.Config{}, nil)
	require.NoError(t, err)

	actions := []planner.Action{
		{Kind: planner.ActionDeleteSnapshots, Localfs: "tank/a", Remotefs: "backup/a", Snapshots: []string{"s1", "s2"}},
	}
	res, err := runWithTimeout(t, e, actions)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	require.Len(t, peer.calls, 1)
	assert.Equal(t, "zfs.delete_multiple_snapshots", peer.calls[0].name)
}

func TestRunClearSnapshotsPassesNilSnapshotList(t *testing.T) {
	peer := &fakePeer{taskResult: rpc.TaskResult{State: rpc.TaskFinished}}
	e, err := New(peer, transport.Config{}, nil)
	require.NoError(t, err)

	actions := []planner.Action{
		{Kind: planner.ActionClearSnapshots, Localfs: "tank/a", Remotefs: "backup/a"},
	}
	_, err = runWithTimeout(t, e, actions)
	require.NoError(t, err)
	require.Len(t, peer.calls, 1)
	args := peer.calls[0].args.(map[string]any)
	assert.Nil(t, args["snapshots"])
}

func TestRunDeleteDatasetCallsDestroy(t *testing.T) {
	peer := &fakePeer{taskResult: rpc.TaskResult{State: rpc.TaskFinished}}
	e, err := New(peer, transport.Config{}, nil)
	require.NoError(t, err)

	actions := []planner.Action{
		{Kind: planner.ActionDeleteDataset, Localfs: "tank/old", Remotefs: "backup/old"},
	}
	res, err := runWithTimeout(t, e, actions)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	require.Len(t, peer.calls, 1)
	assert.Equal(t, "zfs.destroy", peer.calls[0].name)
}

func TestRunFailsOnTaskError(t *testing.T) {
	peer := &fakePeer{taskResult: rpc.TaskResult{State: rpc.TaskFailed, Code: "EBUSY", Message: "dataset busy"}}
	e, err := New(peer, transport.Config{}, nil)
	require.NoError(t, err)

	actions := []planner.Action{
		{Kind: planner.ActionDeleteDataset, Localfs: "tank/old", Remotefs: "backup/old"},
	}
	res, err := runWithTimeout(t, e, actions)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Message, "dataset busy")
}

func TestRunAbortBeforeStartSkipsAllActions(t *testing.T) {
	peer := &fakePeer{taskResult: rpc.TaskResult{State: rpc.TaskFinished}}
	e, err := New(peer, transport.Config{}, nil)
	require.NoError(t, err)
	e.Abort()

	actions := []planner.Action{
		{Kind: planner.ActionDeleteDataset, Localfs: "tank/old", Remotefs: "backup/old"},
	}
	res, err := runWithTimeout(t, e, actions)
	require.NoError(t, err)
	assert.Equal(t, StatusAborted, res.Status)
	assert.Empty(t, peer.calls)
}

func TestRunAbortMidSendStreamStopsPromptly(t *testing.T) {
	installStubZFS(t, `
case "$1" in
  send)
    i=0
    while [ $i -lt 200 ]; do
      printf 'chunk-'
      sleep 0.05
      i=$((i+1))
    done
    ;;
  *) exit 1 ;;
esac
`)
	peer := &fakePeer{recv: &fakeWriteCloser{}}
	e, err := New(peer, transport.Config{}, nil)
	require.NoError(t, err)

	actions := []planner.Action{
		{Kind: planner.ActionSendStream, Localfs: "tank/a", Remotefs: "backup/a", Snapshot: "snap1"},
	}

	go func() {
		time.Sleep(150 * time.Millisecond)
		e.Abort()
	}()

	res, _ := runWithTimeout(t, e, actions)
	assert.Equal(t, StatusAborted, res.Status)
}

func TestRunMultiActionPlanProgressReportsIndex(t *testing.T) {
	installStubZFS(t, `
case "$1" in
  send) printf 'x' ;;
  *) exit 1 ;;
esac
`)
	peer := &fakePeer{recv: &fakeWriteCloser{}, taskResult: rpc.TaskResult{State: rpc.TaskFinished}}
	var percents []int
	e, err := New(peer, transport.Config{}, func(pct int, _ string) { percents = append(percents, pct) })
	require.NoError(t, err)

	actions := []planner.Action{
		{Kind: planner.ActionSendStream, Localfs: "tank/a", Remotefs: "backup/a", Snapshot: "snap1"},
		{Kind: planner.ActionDeleteSnapshots, Localfs: "tank/a", Remotefs: "backup/a", Snapshots: []string{"s0"}},
	}
	res, err := runWithTimeout(t, e, actions)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, []int{0, 50}, percents)
}
