package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ixsystems/zlinkd/internal/link"
	"github.com/ixsystems/zlinkd/internal/rpc"
)

// client is zlinkctl's connection to one zlinkd instance: task/inventory
// calls go through the engine's own rpc.JSONClient (the identical Peer
// implementation zlinkd uses to reach its replication partner), and the
// operator-only link list/status routes (internal/server's
// /rpc/link/list, /rpc/link/status) are called directly, since those
// aren't part of the narrow rpc.Peer contract the core depends on.
type client struct {
	*rpc.JSONClient
}

func newClient(addr string, timeout time.Duration) *client {
	jc := rpc.NewJSONClient(addr)
	jc.HTTP.Timeout = timeout
	return &client{JSONClient: jc}
}

func (c *client) postJSON(ctx context.Context, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("zlinkctl: encode %s request: %w", path, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("zlinkctl: build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("zlinkctl: %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("zlinkctl: %s: status %d: %s", path, resp.StatusCode, msg)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ListLinks returns every link the target zlinkd's registry knows about,
// unreconciled (internal/server.handleLinkList).
func (c *client) ListLinks(ctx context.Context) ([]link.Link, error) {
	var out []link.Link
	err := c.postJSON(ctx, "/rpc/link/list", nil, &out)
	return out, err
}

// linkStatus mirrors internal/server's unexported linkStatusResponse wire
// shape.
type linkStatus struct {
	link.LinkStatus
	At      string `json:"at"`
	Present bool   `json:"present"`
}

// LinkStatus fetches the cached sync outcome for name
// (internal/server.handleLinkStatus).
func (c *client) LinkStatus(ctx context.Context, name string) (linkStatus, error) {
	var out linkStatus
	err := c.postJSON(ctx, "/rpc/link/status", map[string]any{"name": name}, &out)
	return out, err
}

// callTask invokes a named task and unwraps a non-FINISHED terminal state
// into a Go error, since nearly every zlinkctl subcommand just wants
// "did it work" rather than the raw TaskResult.
func (c *client) callTask(ctx context.Context, name string, args any) (rpc.TaskResult, error) {
	res, err := c.CallTask(ctx, name, args)
	if err != nil {
		return rpc.TaskResult{}, err
	}
	if taskErr := res.Err(); taskErr != nil {
		return res, taskErr
	}
	return res, nil
}
