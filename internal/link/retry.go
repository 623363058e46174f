package link

import (
	"context"
	"fmt"
	"time"

	"github.com/ixsystems/zlinkd/internal/transport"
)

// RetryReserveAndSync is the network-change retry handler: it retries
// reserve_services and sync, appending an AES128 encrypt transport to the
// transport_plugins argument of every sync attempt. The peer's
// replication.sync handler does not read transport_plugins, so the sync
// itself runs with the link's configured transport.
func (r *Registry) RetryReserveAndSync(ctx context.Context, name string, plugins []transport.Config, attempts int, backoff time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}
	forced := append(append([]transport.Config(nil), plugins...), transport.Config{
		Name: "retry-forced-cipher", Type: "encrypt",
		Properties: map[string]string{"cipher": "AES128"},
	})

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		if res, err := r.peer.CallTask(ctx, "replication.reserve_services", name); err != nil {
			lastErr = err
			continue
		} else if taskErr := res.Err(); taskErr != nil {
			lastErr = taskErr
			continue
		}

		res, err := r.peer.CallTask(ctx, "replication.sync", map[string]any{
			"name": name, "transport_plugins": forced,
		})
		if err != nil {
			lastErr = err
			continue
		}
		if taskErr := res.Err(); taskErr != nil {
			lastErr = taskErr
			continue
		}
		return nil
	}
	return fmt.Errorf("link: retry reserve+sync for %q exhausted after %d attempts: %w", name, attempts, lastErr)
}
