// Package intervention implements the Intervention Manager: single-slot,
// atomically-consumed operator overrides keyed per CR and per (CR, role),
// plus the resume-overrides store.
package intervention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const resumeOverrideTTL = time.Hour

func interventionKey(crID string) string {
	return fmt.Sprintf("hadron:cr:%s:intervention", crID)
}

func nudgeKey(crID, role string) string {
	return fmt.Sprintf("hadron:cr:%s:nudge:%s", crID, role)
}

func resumeOverrideKey(crID string) string {
	return fmt.Sprintf("hadron:cr:%s:resume_overrides", crID)
}

// Manager is the Redis-backed Intervention Manager.
type Manager struct {
	rdb *redis.Client
}

// New builds a Manager over an existing Redis client.
func New(rdb *redis.Client) *Manager {
	return &Manager{rdb: rdb}
}

// SetIntervention records an operator instruction for the next node that
// checks for one. It overwrites any earlier intervention not yet polled.
func (m *Manager) SetIntervention(ctx context.Context, crID, instruction string) error {
	if err := m.rdb.Set(ctx, interventionKey(crID), instruction, 0).Err(); err != nil {
		return fmt.Errorf("set intervention: %w", err)
	}
	return nil
}

// PollIntervention atomically reads and clears the pending intervention, if
// any, via a single Redis pipeline (GET then DEL), so two concurrent
// pollers can never both observe the same instruction.
func (m *Manager) PollIntervention(ctx context.Context, crID string) (string, bool, error) {
	return atomicGetDel(ctx, m.rdb, interventionKey(crID))
}

// SetNudge records a mid-run instruction for a specific agent role.
func (m *Manager) SetNudge(ctx context.Context, crID, role, instruction string) error {
	if err := m.rdb.Set(ctx, nudgeKey(crID, role), instruction, 0).Err(); err != nil {
		return fmt.Errorf("set nudge: %w", err)
	}
	return nil
}

// PollNudge atomically reads and clears the pending nudge for a role.
func (m *Manager) PollNudge(ctx context.Context, crID, role string) (string, bool, error) {
	return atomicGetDel(ctx, m.rdb, nudgeKey(crID, role))
}

// SetResumeOverride stashes operator-supplied state overrides to apply on
// the next resume of a paused CR, expiring after an hour if never consumed.
func (m *Manager) SetResumeOverride(ctx context.Context, crID string, overridesJSON string) error {
	if err := m.rdb.Set(ctx, resumeOverrideKey(crID), overridesJSON, resumeOverrideTTL).Err(); err != nil {
		return fmt.Errorf("set resume override: %w", err)
	}
	return nil
}

// PollResumeOverride atomically reads and clears a pending resume override.
func (m *Manager) PollResumeOverride(ctx context.Context, crID string) (string, bool, error) {
	return atomicGetDel(ctx, m.rdb, resumeOverrideKey(crID))
}

func atomicGetDel(ctx context.Context, rdb *redis.Client, key string) (string, bool, error) {
	var getCmd *redis.StringCmd
	_, err := rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		getCmd = pipe.Get(ctx, key)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", false, fmt.Errorf("atomic get-del %s: %w", key, err)
	}
	val, err := getCmd.Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read get-del result for %s: %w", key, err)
	}
	return val, true, nil
}
