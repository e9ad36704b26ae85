package spawner

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const workerLogTTL = 24 * time.Hour

func workerLogKey(crID string) string {
	return fmt.Sprintf("hadron:cr:%s:worker_log", crID)
}

// LocalSpawner spawns a Worker as a local subprocess of the given binary —
// for local development and single-host deployment, mirroring
// SubprocessJobSpawner's fire-and-forget shape: the process is launched and
// its combined output is captured to the KVS in the background, regardless
// of what cancels the caller's own context.
type LocalSpawner struct {
	workerBinary string
	rdb          *redis.Client

	mu        sync.Mutex
	processes map[string]*os.Process
}

// NewLocalSpawner builds a LocalSpawner that execs workerBinary with
// --cr-id=<id> for each CR, inheriting the current process environment.
func NewLocalSpawner(workerBinary string, rdb *redis.Client) *LocalSpawner {
	return &LocalSpawner{
		workerBinary: workerBinary,
		rdb:          rdb,
		processes:    make(map[string]*os.Process),
	}
}

// Spawn launches the worker binary for crID and returns once the process has
// started; it does not wait for it to exit. GIT_TERMINAL_PROMPT=0 is forced
// into the child environment so a worktree push never blocks on a credential
// prompt (spec.md §5).
func (s *LocalSpawner) Spawn(ctx context.Context, crID string) error {
	slog.Info("spawning local worker", slog.String("cr_id", crID))

	cmd := exec.Command(s.workerBinary, fmt.Sprintf("--cr-id=%s", crID))
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start worker for cr %s: %w", crID, err)
	}

	s.mu.Lock()
	s.processes[crID] = cmd.Process
	s.mu.Unlock()

	go s.logOutput(crID, cmd, &out)
	return nil
}

// logOutput waits for the worker to exit, mirrors its output to the log,
// and stores it in the KVS for later retrieval by GET /logs, deliberately
// outliving whatever context Spawn was called with.
func (s *LocalSpawner) logOutput(crID string, cmd *exec.Cmd, out *bytes.Buffer) {
	err := cmd.Wait()

	s.mu.Lock()
	delete(s.processes, crID)
	s.mu.Unlock()

	if err != nil {
		slog.Warn("worker exited with error", slog.String("cr_id", crID), slog.Any("err", err))
	} else {
		slog.Info("worker exited", slog.String("cr_id", crID))
	}

	full := out.String()
	if s.rdb == nil || full == "" {
		return
	}
	bgCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.rdb.Set(bgCtx, workerLogKey(crID), full, workerLogTTL).Err(); err != nil {
		slog.Warn("failed to store worker log", slog.String("cr_id", crID), slog.Any("err", err))
	}
}
