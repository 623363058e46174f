package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/ixsystems/zlinkd/internal/transport"
	"github.com/ixsystems/zlinkd/internal/zfs"
)

// JSONClient is a Peer implementation that calls a remote zlinkd over plain
// JSON request/response bodies. Every call carries a correlation id so
// mirrored operations can be traced across both peers' logs.
type JSONClient struct {
	BaseURL string
	HTTP    *http.Client
}

// NewJSONClient returns a client pointed at baseURL (e.g.
// "https://10.0.0.2:5001"), with the interactive-RPC timeout as the HTTP
// client's default.
func NewJSONClient(baseURL string) *JSONClient {
	return &JSONClient{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: DefaultInteractiveTimeout},
	}
}

func (c *JSONClient) do(ctx context.Context, path string, in, out any) error {
	reqID := uuid.NewString()
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("rpc: encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("rpc: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", reqID)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("rpc: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("rpc: %s: status %d: %s", path, resp.StatusCode, msg)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("rpc: %s: decode response: %w", path, err)
	}
	return nil
}

func (c *JSONClient) Ping(ctx context.Context) error {
	return c.do(ctx, "/rpc/ping", nil, nil)
}

func (c *JSONClient) ListDatasets(ctx context.Context, root string, recursive bool,
) ([]zfs.Dataset, error) {
	var out []zfs.Dataset
	err := c.do(ctx, "/rpc/zfs/list_datasets", map[string]any{
		"root": root, "recursive": recursive,
	}, &out)
	return out, err
}

func (c *JSONClient) ListSnapshots(ctx context.Context, root string) ([]zfs.Snapshot, error) {
	var out []zfs.Snapshot
	err := c.do(ctx, "/rpc/zfs/list_snapshots", map[string]any{"root": root}, &out)
	return out, err
}

func (c *JSONClient) EstimateSend(ctx context.Context, dataset, from, to string) (uint64, error) {
	var out struct {
		Bytes uint64 `json:"bytes"`
	}
	err := c.do(ctx, "/rpc/zfs/estimate_send", map[string]any{
		"dataset": dataset, "from": from, "to": to,
	}, &out)
	return out.Bytes, err
}

func (c *JSONClient) CallTask(ctx context.Context, name string, args any) (TaskResult, error) {
	taskCtx, cancel := context.WithTimeout(ctx, DefaultTaskTimeout)
	defer cancel()

	var out TaskResult
	err := c.do(taskCtx, "/rpc/task/"+name, args, &out)
	if err != nil {
		return TaskResult{}, err
	}
	return out, nil
}

func (c *JSONClient) OpenReceive(ctx context.Context, remotefs string, force, nomount bool,
	tr transport.Config,
) (WriteCloser, error) {
	cfgJSON, err := json.Marshal(tr)
	if err != nil {
		return nil, fmt.Errorf("rpc: encode transport config: %w", err)
	}

	pr, pw := io.Pipe()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/rpc/zfs/receive?fs=%s&force=%t&nomount=%t&transport=%s",
			c.BaseURL, remotefs, force, nomount, url.QueryEscape(string(cfgJSON))),
		pr)
	if err != nil {
		return nil, fmt.Errorf("rpc: build receive request: %w", err)
	}
	req.Header.Set("X-Request-Id", uuid.NewString())

	done := make(chan error, 1)
	go func() {
		resp, err := c.HTTP.Do(req)
		if err != nil {
			done <- err
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			done <- fmt.Errorf("rpc: receive %s: status %d: %s", remotefs, resp.StatusCode, msg)
			return
		}
		done <- nil
	}()

	return &receiveHandle{w: pw, done: done}, nil
}

type receiveHandle struct {
	w    *io.PipeWriter
	done chan error
}

func (h *receiveHandle) Write(p []byte) (int, error) { return h.w.Write(p) }
func (h *receiveHandle) Close() error                { return h.w.Close() }

func (h *receiveHandle) Wait() error {
	select {
	case err := <-h.done:
		return err
	case <-time.After(DefaultTaskTimeout):
		return fmt.Errorf("rpc: receive handle: timed out waiting for remote completion")
	}
}

var _ Peer = (*JSONClient)(nil)
