// Package spawner implements the Job Spawner: the process-level layer that
// owns Worker processes. Two implementations share one interface, per
// spec.md §5 — a local subprocess spawner for dev/single-host deployment and
// a cluster job spawner stub for production, both fire-and-forget with
// background log capture to the `worker_log` KVS key.
package spawner

import "context"

// Spawner starts a Worker process for a CR and returns once it has been
// launched; it does not wait for the Worker to finish.
type Spawner interface {
	Spawn(ctx context.Context, crID string) error
}
