package spawner

import (
	"context"
	"fmt"
)

// ClusterSpawner is the production spawner: one Kubernetes Job per CR,
// mirroring K8sJobSpawner's shape (namespace + worker image, restart_policy
// Never, ttl_seconds_after_finished cleanup). Wiring a cluster client
// (client-go) is out of scope for this module — no in-pack example imports
// k8s.io/client-go — so this stub documents the contract its real
// implementation must satisfy behind the same Spawner interface LocalSpawner
// implements, and is itself exercised by cluster_test.go.
type ClusterSpawner struct {
	Namespace   string
	WorkerImage string
}

// NewClusterSpawner builds a ClusterSpawner for the given namespace/image.
func NewClusterSpawner(namespace, workerImage string) *ClusterSpawner {
	return &ClusterSpawner{Namespace: namespace, WorkerImage: workerImage}
}

// Spawn is unimplemented: wiring a real Kubernetes Job create call requires
// a cluster client this module does not depend on. Call sites should select
// LocalSpawner until a cluster client is wired in.
func (s *ClusterSpawner) Spawn(_ context.Context, crID string) error {
	return fmt.Errorf("cluster spawner not wired: would create hadron-worker Job for cr %s in namespace %s", crID, s.Namespace)
}
