// Package worker implements the Worker Driver: the per-CR process that
// bootstraps its own connections, builds the fixed twelve-node graph, runs it
// to a terminal state, and persists the outcome — grounded on
// cmd/tarsy/main.go's bootstrap sequence and pkg/queue/worker.go's
// scoped-resource-with-deferred-teardown pattern.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/hadron-sdlc/hadron/pkg/agentloop"
	"github.com/hadron-sdlc/hadron/pkg/config"
	"github.com/hadron-sdlc/hadron/pkg/database"
	"github.com/hadron-sdlc/hadron/pkg/events"
	"github.com/hadron-sdlc/hadron/pkg/intervention"
	"github.com/hadron-sdlc/hadron/pkg/kvs"
	"github.com/hadron-sdlc/hadron/pkg/models"
	"github.com/hadron-sdlc/hadron/pkg/pipeline"
	"github.com/hadron-sdlc/hadron/pkg/pipeline/graph"
	"github.com/hadron-sdlc/hadron/pkg/pipeline/nodes"
	"github.com/hadron-sdlc/hadron/pkg/provider"
	"github.com/hadron-sdlc/hadron/pkg/sandbox"
	"github.com/hadron-sdlc/hadron/pkg/worktree"
)

// Worker owns every connection and collaborator a single CR's pipeline run
// needs, opened once at process start and closed on exit.
type Worker struct {
	rdb           *redis.Client
	db            *database.Client
	repo          *database.CRRepository
	eventBus      *events.Bus
	interventions *intervention.Manager
	worktrees     *worktree.Manager
	checkpoints   *graph.RedisCheckpointer
	loop          *agentloop.Loop
	defaultModel  string
	workspaceDir  string
	pipelineCfg   pipeline.ConfigSnapshot
}

// New bootstraps a Worker from config: opens the RDB and KVS connections,
// builds the provider chain from whichever API keys are configured, and
// opens the Worktree Manager's workspace directory.
func New(ctx context.Context, boot *config.Bootstrap) (*Worker, error) {
	rdb, err := kvs.NewClient(ctx, boot.Redis)
	if err != nil {
		return nil, fmt.Errorf("worker: %w", err)
	}

	db, err := database.NewClient(ctx, boot.Database)
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("worker: connect database: %w", err)
	}

	wt, err := worktree.New(boot.WorktreeBaseDir)
	if err != nil {
		_ = db.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("worker: open worktree manager: %w", err)
	}

	registry := provider.NewRegistry()
	if boot.Provider.AnthropicAPIKey != "" {
		registry.Register(provider.NewAnthropicBackend(boot.Provider.AnthropicAPIKey))
	}
	if boot.Provider.GeminiAPIKey != "" {
		gemini, err := provider.NewGeminiBackend(ctx, boot.Provider.GeminiAPIKey)
		if err != nil {
			_ = db.Close()
			_ = rdb.Close()
			return nil, fmt.Errorf("worker: build gemini backend: %w", err)
		}
		registry.Register(gemini)
	}
	chain := provider.NewChain(registry, boot.Provider.FallbackChain)

	eventBus := events.New(rdb)
	interventions := intervention.New(rdb)

	loop := agentloop.NewWithToolFactory(chain, sandboxFactory, interventions, eventBus)

	return &Worker{
		rdb:           rdb,
		db:            db,
		repo:          database.NewCRRepository(db),
		eventBus:      eventBus,
		interventions: interventions,
		worktrees:     wt,
		checkpoints:   graph.NewRedisCheckpointer(rdb),
		loop:          loop,
		defaultModel:  "claude-sonnet-4-20250514",
		workspaceDir:  boot.WorktreeBaseDir,
		pipelineCfg: pipeline.ConfigSnapshot{
			MaxVerificationLoops: boot.Pipeline.MaxVerificationLoops,
			MaxReviewDevLoops:    boot.Pipeline.MaxReviewDevLoops,
			MaxTDDIterations:     boot.Pipeline.MaxTDDIterations,
		},
	}, nil
}

// sandboxFactory builds a Tool Executor confined to a node's AgentTask's
// working directory, re-resolved per call since pkg/sandbox.Executor is
// itself confined to a single directory at construction.
func sandboxFactory(workDir string) (agentloop.ToolExecutor, error) {
	return sandbox.New(workDir)
}

// Close releases the Worker's RDB and KVS connections.
func (w *Worker) Close() error {
	dbErr := w.db.Close()
	redisErr := w.rdb.Close()
	if dbErr != nil {
		return dbErr
	}
	return redisErr
}

// Run drives one CR's pipeline to a terminal state: loads the CR row, builds
// or resumes state, runs the graph, and persists the final status — per
// spec.md §4.9. A panic or returned error from the graph is treated as an
// unhandled exception: the run is marked failed and pipeline_failed emitted.
func (w *Worker) Run(ctx context.Context, crID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker: panic running cr %s: %v", crID, r)
		}
		if err != nil {
			w.failRun(ctx, crID, err)
		}
	}()

	run, getErr := w.repo.Get(ctx, crID)
	if getErr != nil {
		return fmt.Errorf("load cr run %s: %w", crID, getErr)
	}

	if updErr := w.repo.UpdateStatus(ctx, crID, models.CRStatusRunning, run.CostUSD, ""); updErr != nil {
		return fmt.Errorf("mark cr %s running: %w", crID, updErr)
	}

	g := graph.Build(w.buildNodes(), w.checkpoints)

	checkpointNode, checkpointState, found, ckErr := w.checkpoints.LoadLatest(ctx, crID)
	if ckErr != nil {
		return fmt.Errorf("load checkpoint for cr %s: %w", crID, ckErr)
	}

	overridesJSON, hasOverrides, overrideErr := w.interventions.PollResumeOverride(ctx, crID)
	if overrideErr != nil {
		return fmt.Errorf("poll resume overrides for cr %s: %w", crID, overrideErr)
	}

	w.emit(ctx, crID, models.EventPipelineStarted, nil)

	var final pipeline.State
	var runErr error

	switch {
	case hasOverrides && found:
		overridden, fromNode, parseErr := applyResumeOverrides(checkpointState, overridesJSON)
		if parseErr != nil {
			return fmt.Errorf("apply resume overrides for cr %s: %w", crID, parseErr)
		}
		final, runErr = g.Resume(ctx, crID, fromNode, overridden)
	case found:
		final, runErr = g.Resume(ctx, crID, checkpointNode, checkpointState)
	default:
		initial := w.buildInitialState(crID, run)
		final, runErr = g.Run(ctx, crID, initial)
	}
	if runErr != nil {
		return fmt.Errorf("run graph for cr %s: %w", crID, runErr)
	}

	return w.finish(ctx, crID, final)
}

// buildInitialState seeds a fresh pipeline.State from the CR row: cr id,
// source, raw title/description, a single affected_repos entry from the raw
// submission, and the frozen config snapshot, per spec.md §4.9 step 4.
func (w *Worker) buildInitialState(crID string, run *models.CRRun) pipeline.State {
	raw := run.RawPayload
	var repos []pipeline.RepoRef
	if raw.RepoURL != "" {
		repos = []pipeline.RepoRef{{
			RepoURL:       raw.RepoURL,
			DefaultBranch: defaultStr(raw.RepoDefaultBranch, "main"),
			TestCommand:   defaultStr(raw.TestCommand, "pytest"),
			Language:      raw.Language,
		}}
	}
	return pipeline.State{
		CRID:           crID,
		RawCRTitle:     raw.Title,
		RawCRText:      raw.Description,
		AffectedRepos:  repos,
		ConfigSnapshot: w.pipelineCfg,
	}
}

// finish derives the CR's final status from the post-run state (defaulting
// to completed), persists it, and emits the matching terminal event.
func (w *Worker) finish(ctx context.Context, crID string, final pipeline.State) error {
	status := models.CRStatusCompleted
	switch final.Status {
	case "paused":
		status = models.CRStatusPaused
	case "failed":
		status = models.CRStatusFailed
	}

	if err := w.repo.UpdateStatus(ctx, crID, status, final.CostUSD, final.Error); err != nil {
		return fmt.Errorf("persist final status for cr %s: %w", crID, err)
	}

	eventType := models.EventPipelineCompleted
	switch status {
	case models.CRStatusPaused:
		eventType = models.EventPipelinePaused
	case models.CRStatusFailed:
		eventType = models.EventPipelineFailed
	}
	w.emit(ctx, crID, eventType, map[string]any{"status": string(status), "error": final.Error, "cost_usd": final.CostUSD})
	return nil
}

// failRun handles an unhandled exception per spec.md §4.9 step 7: persist
// status=failed with the error text and emit pipeline_failed, swallowing any
// secondary error from the persistence attempt itself (there is nothing
// further to do but log it).
func (w *Worker) failRun(ctx context.Context, crID string, cause error) {
	slog.Error("worker run failed", slog.String("cr_id", crID), slog.Any("err", cause))
	if updErr := w.repo.UpdateStatus(ctx, crID, models.CRStatusFailed, 0, cause.Error()); updErr != nil {
		slog.Error("failed to persist failed status", slog.String("cr_id", crID), slog.Any("err", updErr))
	}
	w.emit(ctx, crID, models.EventPipelineFailed, map[string]any{"error": cause.Error()})
}

func (w *Worker) emit(ctx context.Context, crID string, eventType models.EventType, data map[string]any) {
	_, _ = w.eventBus.Emit(ctx, models.Event{CRID: crID, EventType: eventType, Data: data})
}

// buildNodes closes each of the twelve Pipeline Node functions over this
// Worker's shared Deps, dropping the graph.NodeFunc signature down to the
// nodes package's (ctx, *Deps, state) shape.
func (w *Worker) buildNodes() graph.Nodes {
	deps := &nodes.Deps{
		Loop:         w.loop,
		Events:       w.eventBus,
		RDB:          w.rdb,
		Worktrees:    w.worktrees,
		WorkspaceDir: w.workspaceDir,
		DefaultModel: w.defaultModel,
	}

	wrap := func(fn func(context.Context, *nodes.Deps, pipeline.State) (*pipeline.Update, error)) graph.NodeFunc {
		return func(ctx context.Context, st pipeline.State) (*pipeline.Update, error) {
			return fn(ctx, deps, st)
		}
	}

	return graph.Nodes{
		Intake:        wrap(nodes.Intake),
		RepoID:        wrap(nodes.RepoID),
		WorktreeSetup: wrap(nodes.WorktreeSetup),
		Translation:   wrap(nodes.BehaviourTranslation),
		Verification:  wrap(nodes.BehaviourVerification),
		TDD:           wrap(nodes.TDD),
		Review:        wrap(nodes.Review),
		Rebase:        wrap(nodes.Rebase),
		Delivery:      wrap(nodes.Delivery),
		ReleaseGate:   wrap(nodes.ReleaseGate),
		Release:       wrap(nodes.Release),
		Retrospective: wrap(nodes.Retrospective),
	}
}

func defaultStr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
