package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/hadron-sdlc/hadron/pkg/pipeline"
)

// RedisCheckpointer persists post-node state to the KVS, keyed by
// (cr_id, node_name), plus a "latest" pointer recording which node's
// checkpoint is authoritative for resume.
type RedisCheckpointer struct {
	rdb *redis.Client
}

// NewRedisCheckpointer builds a RedisCheckpointer over an existing client.
func NewRedisCheckpointer(rdb *redis.Client) *RedisCheckpointer {
	return &RedisCheckpointer{rdb: rdb}
}

type checkpointRecord struct {
	Node  string          `json:"node"`
	State pipeline.State  `json:"state"`
}

func checkpointKey(crID, node string) string {
	return fmt.Sprintf("hadron:cr:%s:checkpoint:%s", crID, node)
}

func latestCheckpointKey(crID string) string {
	return fmt.Sprintf("hadron:cr:%s:checkpoint:latest", crID)
}

// Save writes state under (cr_id, node) and advances the latest pointer.
func (c *RedisCheckpointer) Save(ctx context.Context, crID, node string, state pipeline.State) error {
	rec := checkpointRecord{Node: node, State: state}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if err := c.rdb.Set(ctx, checkpointKey(crID, node), raw, 0).Err(); err != nil {
		return fmt.Errorf("save checkpoint %s/%s: %w", crID, node, err)
	}
	if err := c.rdb.Set(ctx, latestCheckpointKey(crID), raw, 0).Err(); err != nil {
		return fmt.Errorf("save latest checkpoint pointer %s: %w", crID, err)
	}
	return nil
}

// LoadLatest returns the most recently saved checkpoint for crID, if any.
func (c *RedisCheckpointer) LoadLatest(ctx context.Context, crID string) (string, pipeline.State, bool, error) {
	raw, err := c.rdb.Get(ctx, latestCheckpointKey(crID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", pipeline.State{}, false, nil
	}
	if err != nil {
		return "", pipeline.State{}, false, fmt.Errorf("load latest checkpoint %s: %w", crID, err)
	}
	var rec checkpointRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return "", pipeline.State{}, false, fmt.Errorf("unmarshal checkpoint %s: %w", crID, err)
	}
	return rec.Node, rec.State, true, nil
}
