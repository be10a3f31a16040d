package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/draftgate/draftgate/generate"
	"github.com/draftgate/draftgate/graph"
	"github.com/draftgate/draftgate/log"
	"github.com/draftgate/draftgate/publish"
	"github.com/draftgate/draftgate/scrape"
	"github.com/draftgate/draftgate/store"
)

const (
	// DefaultMinContentLength is the minimum scraped text length, in runes.
	DefaultMinContentLength = 200

	// DefaultMinRelevance is the minimum analysis relevance score.
	DefaultMinRelevance = 0.4
)

// PublishGateway is the pipeline's view of the publish layer.
// *publish.Gateway satisfies it.
type PublishGateway interface {
	ResolveConnection(ctx context.Context, userID string, platform publish.Platform, connectionID int64) (*store.Connection, error)
	Publish(ctx context.Context, in publish.PublishInput) publish.PublishResult
	Upload(ctx context.Context, in publish.UploadInput) publish.UploadResult
}

// Options configures an Orchestrator. Executions, Checkpoints, Scraper,
// Fetcher, Generator and Gateway are required.
type Options struct {
	Executions  store.ExecutionStore
	Checkpoints store.CheckpointStore
	Scraper     scrape.Scraper
	Fetcher     scrape.Fetcher
	Generator   generate.Generator
	Gateway     PublishGateway

	// MinContentLength overrides DefaultMinContentLength when positive.
	MinContentLength int
	// MinRelevance overrides DefaultMinRelevance when positive.
	MinRelevance float64

	Logger log.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Orchestrator drives executions through the pipeline graph, persisting
// every suspend and terminal transition. The execution snapshot is the
// source of truth; checkpoints only accelerate resume.
type Orchestrator struct {
	executions  store.ExecutionStore
	checkpoints store.CheckpointStore
	scraper     scrape.Scraper
	fetcher     scrape.Fetcher
	generator   generate.Generator
	gateway     PublishGateway
	logger      log.Logger

	runnable *graph.Runnable[*State]

	minContentLength int
	minRelevance     float64
	now              func() time.Time

	// execMu guards execLocks; continuations of one execution serialize
	// in-process so concurrent Resume calls cannot interleave writes.
	execMu    sync.Mutex
	execLocks map[string]*sync.Mutex
}

// Result is the outcome of a Start or Resume call. Payload is the
// suspension payload (*ReviewPayload or *ReauthPayload) when suspended,
// or the per-platform publish results when completed.
type Result struct {
	ExecutionID string
	Status      store.ExecutionStatus
	Reason      string
	Payload     any
}

// New creates an Orchestrator and compiles its graph.
func New(opts Options) (*Orchestrator, error) {
	if opts.Executions == nil || opts.Checkpoints == nil {
		return nil, fmt.Errorf("execution and checkpoint stores are required")
	}
	if opts.Scraper == nil || opts.Fetcher == nil || opts.Generator == nil || opts.Gateway == nil {
		return nil, fmt.Errorf("scraper, fetcher, generator and gateway are required")
	}

	o := &Orchestrator{
		executions:       opts.Executions,
		checkpoints:      opts.Checkpoints,
		scraper:          opts.Scraper,
		fetcher:          opts.Fetcher,
		generator:        opts.Generator,
		gateway:          opts.Gateway,
		logger:           opts.Logger,
		minContentLength: opts.MinContentLength,
		minRelevance:     opts.MinRelevance,
		now:              opts.Now,
		execLocks:        make(map[string]*sync.Mutex),
	}
	if o.logger == nil {
		o.logger = log.GetDefaultLogger()
	}
	if o.minContentLength <= 0 {
		o.minContentLength = DefaultMinContentLength
	}
	if o.minRelevance <= 0 {
		o.minRelevance = DefaultMinRelevance
	}
	if o.now == nil {
		o.now = time.Now
	}

	runnable, err := o.buildGraph()
	if err != nil {
		return nil, fmt.Errorf("failed to compile pipeline graph: %w", err)
	}
	o.runnable = runnable
	return o, nil
}

// Start begins an execution for (userID, url), or returns the live
// execution already holding that input. It runs synchronously until the
// pipeline suspends or reaches a terminal status.
func (o *Orchestrator) Start(ctx context.Context, userID, rawURL string) (*Result, error) {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: missing user id", ErrValidation)
	}

	guard := NewIdempotencyGuard(o.executions)
	execution, existing, err := guard.Acquire(ctx, userID, normalized)
	if err != nil {
		return nil, err
	}
	if existing {
		o.logger.Info("execution %s already live for this input, returning it", execution.ID)
		return o.renderExisting(execution)
	}

	state := &State{
		ExecutionID: execution.ID,
		UserID:      userID,
		URL:         normalized,
	}
	return o.run(ctx, execution.ID, state, nil)
}

// Resume continues a suspended execution with the given action:
// *ReviewAction for awaiting_human, *ReauthAction for awaiting_auth.
func (o *Orchestrator) Resume(ctx context.Context, executionID string, action any) (*Result, error) {
	lock := o.lockFor(executionID)
	lock.Lock()
	defer lock.Unlock()

	execution, err := o.executions.Get(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if !execution.Status.Suspended() {
		return nil, fmt.Errorf("%w: execution %s is %s", ErrNoPendingInterrupt, executionID, execution.Status)
	}

	switch execution.Status {
	case store.StatusAwaitingHuman:
		review, ok := action.(*ReviewAction)
		if !ok {
			return nil, fmt.Errorf("%w: awaiting human review", ErrActionMismatch)
		}
		if err := review.Validate(); err != nil {
			return nil, err
		}
	case store.StatusAwaitingAuth:
		if _, ok := action.(*ReauthAction); !ok {
			return nil, fmt.Errorf("%w: awaiting reauthorization", ErrActionMismatch)
		}
	}

	state := &State{}
	if len(execution.Snapshot) > 0 {
		if err := json.Unmarshal(execution.Snapshot, state); err != nil {
			return nil, fmt.Errorf("corrupt snapshot for execution %s: %w", executionID, err)
		}
	}

	node, err := o.resumeNode(ctx, execution)
	if err != nil {
		return nil, err
	}

	// Mark running so a crash mid-continuation is visible to the
	// recovery sweep.
	if err := o.executions.UpdateResult(ctx, executionID, store.StatusRunning, "", execution.Snapshot); err != nil {
		return nil, err
	}

	return o.run(ctx, executionID, state, &graph.Config{ResumeFrom: node, ResumeValue: action})
}

// resumeNode picks the node to continue from: the latest checkpoint when
// one survives, else a synthetic mapping from the suspension status.
// Checkpoints are transient, so the miss is normal after a restart.
func (o *Orchestrator) resumeNode(ctx context.Context, execution *store.Execution) (string, error) {
	checkpoint, err := store.Latest(ctx, o.checkpoints, execution.ID)
	if err != nil {
		o.logger.Warn("checkpoint lookup for execution %s failed: %v", execution.ID, err)
	} else if checkpoint != nil && checkpoint.NodeName != "" {
		return checkpoint.NodeName, nil
	}

	switch execution.Status {
	case store.StatusAwaitingHuman:
		return nodeAwaitHuman, nil
	case store.StatusAwaitingAuth:
		return nodeCheckAuth, nil
	}
	return "", fmt.Errorf("%w: no node for status %s", ErrNoPendingInterrupt, execution.Status)
}

// run invokes the graph and persists the resulting transition.
func (o *Orchestrator) run(ctx context.Context, executionID string, state *State, config *graph.Config) (*Result, error) {
	finalState, err := o.runnable.InvokeWithConfig(ctx, state, config)

	var interrupt *graph.GraphInterrupt
	switch {
	case err == nil && finalState.Terminated:
		return o.persist(ctx, executionID, finalState, store.StatusTerminated, finalState.Reason, "", nil)

	case err == nil:
		return o.persist(ctx, executionID, finalState, store.StatusCompleted, "", "", nil)

	case errors.As(err, &interrupt):
		status := store.StatusAwaitingHuman
		if interrupt.Node == nodeCheckAuth {
			status = store.StatusAwaitingAuth
		}
		// The engine hands back the state pointer, so node mutations
		// before the interrupt are already in it.
		suspended := interrupt.State.(*State)
		return o.persist(ctx, executionID, suspended, status, "", interrupt.Node, interrupt.InterruptValue)

	default:
		// A node failure is a recorded terminal outcome, not an
		// infrastructure error. The state pointer carries whatever the
		// pipeline produced before failing.
		o.logger.Error("execution %s failed: %v", executionID, err)
		state.terminate(publish.Redact(err.Error()))
		return o.persist(ctx, executionID, state, store.StatusTerminated, state.Reason, "", nil)
	}
}

// persist writes the transition atomically, then saves a checkpoint.
// Checkpoint failure is non-fatal: the snapshot alone can resume.
func (o *Orchestrator) persist(ctx context.Context, executionID string, state *State, status store.ExecutionStatus, reason, node string, payload any) (*Result, error) {
	snapshot, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot execution %s: %w", executionID, err)
	}
	if err := o.executions.UpdateResult(ctx, executionID, status, reason, snapshot); err != nil {
		return nil, fmt.Errorf("failed to persist execution %s: %w", executionID, err)
	}

	if node != "" {
		o.saveCheckpoint(ctx, executionID, node, state)
	}

	result := &Result{ExecutionID: executionID, Status: status, Reason: reason, Payload: payload}
	if status == store.StatusCompleted {
		result.Payload = state.PublishResults
	}
	o.logger.Info("execution %s: %s", executionID, status)
	return result, nil
}

func (o *Orchestrator) saveCheckpoint(ctx context.Context, executionID, node string, state *State) {
	version := 1
	if latest, err := store.Latest(ctx, o.checkpoints, executionID); err == nil && latest != nil {
		version = latest.Version + 1
	}

	checkpoint := &store.Checkpoint{
		ID:          uuid.NewString(),
		ExecutionID: executionID,
		NodeName:    node,
		State:       state,
		Timestamp:   o.now().UTC(),
		Version:     version,
	}
	if err := o.checkpoints.Save(ctx, checkpoint); err != nil {
		o.logger.Warn("checkpoint save for execution %s failed: %v", executionID, err)
	}
}

// renderExisting re-renders the result for a live execution found by the
// idempotency guard.
func (o *Orchestrator) renderExisting(execution *store.Execution) (*Result, error) {
	result := &Result{
		ExecutionID: execution.ID,
		Status:      execution.Status,
		Reason:      execution.Reason,
	}

	state := &State{}
	if len(execution.Snapshot) > 0 {
		if err := json.Unmarshal(execution.Snapshot, state); err != nil {
			return nil, fmt.Errorf("corrupt snapshot for execution %s: %w", execution.ID, err)
		}
	}

	switch execution.Status {
	case store.StatusAwaitingHuman:
		result.Payload = state.reviewPayload()
	case store.StatusAwaitingAuth:
		result.Payload = &ReauthPayload{ExecutionID: execution.ID, Platforms: state.platforms()}
	}
	return result, nil
}

// Get returns the execution record by id.
func (o *Orchestrator) Get(ctx context.Context, executionID string) (*store.Execution, error) {
	return o.executions.Get(ctx, executionID)
}

// ListPending returns a user's executions awaiting review or reauth.
func (o *Orchestrator) ListPending(ctx context.Context, userID string) ([]*store.Execution, error) {
	return o.executions.ListPending(ctx, userID)
}

// RecoverInterrupted terminates every execution left in status running by
// a crashed process. Run it once at startup, before accepting work.
// Suspended executions are untouched: they are already safe to resume.
func (o *Orchestrator) RecoverInterrupted(ctx context.Context) (int, error) {
	running, err := o.executions.ListByStatus(ctx, store.StatusRunning)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, execution := range running {
		err := o.executions.UpdateResult(ctx, execution.ID, store.StatusTerminated, ReasonInterrupted, execution.Snapshot)
		if err != nil {
			return recovered, err
		}
		o.logger.Warn("execution %s was interrupted by a restart, terminated", execution.ID)
		recovered++
	}
	return recovered, nil
}

func (o *Orchestrator) lockFor(executionID string) *sync.Mutex {
	o.execMu.Lock()
	defer o.execMu.Unlock()

	lock, ok := o.execLocks[executionID]
	if !ok {
		lock = &sync.Mutex{}
		o.execLocks[executionID] = lock
	}
	return lock
}
