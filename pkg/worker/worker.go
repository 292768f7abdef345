// Package worker implements the competing-consumer loop that drains the
// ready queue, drives one claimed task at a time through the control
// interface, and hands completed tasks back to the scheduler for
// successor promotion.
package worker

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cuemby/fluxion/pkg/blueprint"
	"github.com/cuemby/fluxion/pkg/coordinator"
	"github.com/cuemby/fluxion/pkg/errors"
	"github.com/cuemby/fluxion/pkg/log"
	"github.com/cuemby/fluxion/pkg/metrics"
	"github.com/cuemby/fluxion/pkg/scheduler"
	"github.com/cuemby/fluxion/pkg/storage"
	"github.com/cuemby/fluxion/pkg/svcclient"
	"github.com/cuemby/fluxion/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config holds the tunables a worker loop reads from the process
// environment (WORKER_POLL_INTERVAL, WORKER_CLAIM_LEASE, WORKER_MAX_ATTEMPTS).
type Config struct {
	// ID identifies this worker as a claim owner. Defaults to a generated
	// uuid if empty.
	ID string

	// PollInterval is both the empty-queue backoff and the status-poll cadence.
	PollInterval time.Duration

	// ClaimLease is the duration a claim is valid for before recover_expired
	// may re-enqueue the task.
	ClaimLease time.Duration

	// MaxAttempts caps the number of dispatches a task gets for
	// TransportError failures; once it is reached, the next TransportError
	// marks the task failed instead of re-enqueuing it.
	MaxAttempts int

	// RemoteTimeout bounds how long a running_remote task may poll before
	// it is treated as a non-retriable RemoteTimeout failure. Zero means unbounded.
	RemoteTimeout time.Duration

	// ControlTimeout is the per-HTTP-call timeout the service client uses.
	ControlTimeout time.Duration
}

// DefaultConfig returns the documented environment-variable defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:   1 * time.Second,
		ClaimLease:     30 * time.Second,
		MaxAttempts:    3,
		ControlTimeout: 30 * time.Second,
	}
}

// Worker competes for claims on the ready queue and drives each claimed
// task to a terminal state. It is single-threaded with respect to task
// driving: one claim is handled start-to-finish before the next is taken.
type Worker struct {
	cfg    Config
	store  storage.Store
	client *svcclient.Client
	sched  *scheduler.Scheduler
	logger zerolog.Logger

	stopCh chan struct{}
	doneCh chan struct{}

	mu          sync.Mutex
	currentTask string
}

// New constructs a Worker. If cfg.ID is empty a uuid is generated.
func New(cfg Config, store storage.Store, sched *scheduler.Scheduler) *Worker {
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	if cfg.ControlTimeout == 0 {
		cfg.ControlTimeout = 30 * time.Second
	}
	return &Worker{
		cfg:    cfg,
		store:  store,
		client: svcclient.NewClient(cfg.ControlTimeout),
		sched:  sched,
		logger: log.WithComponent("worker").With().Str("worker_id", cfg.ID).Logger(),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start launches the claim loop in a background goroutine.
func (w *Worker) Start() {
	go w.run()
}

// Stop requests the claim loop to exit and blocks until it has, so that
// the in-flight task (if any) reaches a safe stopping point before the
// process continues shutting down.
func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

func (w *Worker) run() {
	defer close(w.doneCh)
	w.logger.Info().Msg("worker started")
	for {
		select {
		case <-w.stopCh:
			w.logger.Info().Msg("worker stopped")
			return
		default:
		}

		taskID, err := w.store.ClaimOne(w.cfg.ID, w.cfg.ClaimLease)
		if err != nil {
			w.logger.Error().Err(err).Msg("claim_one failed")
			w.sleep(w.cfg.PollInterval)
			continue
		}
		if taskID == "" {
			w.sleep(w.cfg.PollInterval)
			continue
		}

		w.mu.Lock()
		w.currentTask = taskID
		w.mu.Unlock()

		metrics.TasksClaimed.Inc()
		if err := w.drive(taskID); err != nil {
			w.logger.Error().Err(err).Str("task_id", taskID).Msg("drive failed")
		}

		w.mu.Lock()
		w.currentTask = ""
		w.mu.Unlock()
	}
}

// sleep waits d or returns early if stopped.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-time.After(d):
	case <-w.stopCh:
	}
}

// drive loads the claimed task and its owning workflow, transitions it
// ready -> running_remote, and runs it through the control interface to a
// terminal or re-enqueued state.
func (w *Worker) drive(taskID string) error {
	task, err := w.store.GetTask(taskID)
	if err != nil {
		return fmt.Errorf("get claimed task %s: %w", taskID, err)
	}
	workflow, err := w.store.GetWorkflow(task.WorkflowID)
	if err != nil {
		return fmt.Errorf("get workflow %s: %w", task.WorkflowID, err)
	}

	if err := coordinator.MarkRunning(w.store, workflow.ID); err != nil {
		w.logger.Warn().Err(err).Str("workflow_id", workflow.ID).Msg("failed to mark workflow running")
	}

	graph, err := blueprint.Build(workflow.Blueprint, workflow.DockerInfo)
	if err != nil {
		return w.abandon(task, fmt.Errorf("rebuild graph for %s: %w", workflow.ID, err))
	}

	endpoint := workflow.DockerInfo.Endpoint(task.NodeKey.Container)
	if endpoint == "" {
		return w.abandon(task, fmt.Errorf("no endpoint for container %s", task.NodeKey.Container))
	}

	task.Status = types.TaskRunningRemote
	task.Attempts++
	task.UpdatedAt = time.Now()
	if err := w.store.PutTask(task); err != nil {
		return w.abandon(task, fmt.Errorf("persist running_remote: %w", err))
	}

	timer := metrics.NewTimer()
	var outcome outcome
	if result := w.client.Probe(context.Background(), endpoint); !result.Healthy {
		w.logger.Warn().Str("task_id", task.ID).Str("endpoint", endpoint).
			Str("message", result.Message).Msg("control-interface probe unhealthy; skipping dispatch")
		outcome = w.classify(task, errors.New(errors.TransportError, "control-interface probe failed: "+result.Message))
	} else {
		outcome = w.executeAndPoll(task, endpoint)
	}
	timer.ObserveDurationVec(metrics.TaskExecutionDuration, task.NodeKey.Container)

	switch outcome.kind {
	case outcomeComplete:
		return w.complete(workflow, graph, task, outcome.output)
	case outcomeFailed:
		return w.fail(workflow, task, outcome.errInfo)
	case outcomeRetry:
		return w.retry(task)
	case outcomeAbandon:
		w.logger.Warn().Str("task_id", task.ID).Err(outcome.cause).Msg("task abandoned; claim will expire")
		return nil
	}
	return nil
}

type outcomeKind int

const (
	outcomeComplete outcomeKind = iota
	outcomeFailed
	outcomeRetry
	outcomeAbandon
)

type outcome struct {
	kind    outcomeKind
	output  *types.DataReference
	errInfo *types.ErrorInfo
	cause   error
}

// executeAndPoll composes and sends the execute request, then if the
// service reports a background job, polls status/extend_claim on the
// configured interval until a terminal result, lease loss, or remote
// timeout.
func (w *Worker) executeAndPoll(task *types.Task, endpoint string) outcome {
	ctx := context.Background()

	req := &svcclient.ExecuteRequest{
		Method:     task.NodeKey.Operation,
		WorkflowID: task.WorkflowID,
		TaskID:     task.ID,
		Inputs:     task.Inputs,
		Parameters: map[string]string{},
	}

	resp, err := w.client.Execute(ctx, endpoint, req)
	metrics.ControlRequestsTotal.WithLabelValues("execute", outcomeLabel(err)).Inc()
	if err != nil {
		return w.classify(task, err)
	}
	if resp.Status == svcclient.StatusComplete {
		return outcome{kind: outcomeComplete, output: resp.Output}
	}

	// status=running: poll until terminal, lease loss, or timeout.
	remoteTaskID := resp.TaskID
	deadline := time.Time{}
	if w.cfg.RemoteTimeout > 0 {
		deadline = time.Now().Add(w.cfg.RemoteTimeout)
	}

	pollTicker := time.NewTicker(w.cfg.PollInterval)
	defer pollTicker.Stop()
	heartbeatInterval := w.cfg.ClaimLease / 2
	if heartbeatInterval <= 0 {
		heartbeatInterval = w.cfg.PollInterval
	}
	heartbeatTicker := time.NewTicker(heartbeatInterval)
	defer heartbeatTicker.Stop()

	for {
		select {
		case <-pollTicker.C:
			if !deadline.IsZero() && time.Now().After(deadline) {
				return outcome{kind: outcomeFailed, errInfo: &types.ErrorInfo{
					Kind: string(errors.RemoteTimeout), Message: "remote task exceeded configured timeout",
				}}
			}

			status, err := w.client.Status(ctx, endpoint, remoteTaskID)
			metrics.ControlRequestsTotal.WithLabelValues("status", outcomeLabel(err)).Inc()
			if err != nil {
				return w.classify(task, err)
			}
			switch status.Status {
			case svcclient.StatusRunning:
				continue
			case svcclient.StatusComplete:
				out, err := w.client.Output(ctx, endpoint, remoteTaskID)
				metrics.ControlRequestsTotal.WithLabelValues("output", outcomeLabel(err)).Inc()
				if err != nil {
					return w.classify(task, err)
				}
				return outcome{kind: outcomeComplete, output: out}
			}

		case <-heartbeatTicker.C:
			if err := w.store.ExtendClaim(task.ID, w.cfg.ID, w.cfg.ClaimLease); err != nil {
				return outcome{kind: outcomeAbandon, cause: err}
			}

		case <-w.stopCh:
			return outcome{kind: outcomeAbandon, cause: fmt.Errorf("worker stopping")}
		}
	}
}

// classify turns a service-client error into a worker outcome: ServiceError
// is already terminal (the client surfaces the service's own failure
// report), TransportError is retried up to the attempt cap, anything else
// is abandoned for recovery.
func (w *Worker) classify(task *types.Task, err error) outcome {
	kind := errors.KindOf(err)
	switch kind {
	case errors.ServiceError:
		return outcome{kind: outcomeFailed, errInfo: &types.ErrorInfo{Kind: string(kind), Message: errMessage(err)}}
	case errors.TransportError:
		if task.Attempts < w.cfg.MaxAttempts {
			return outcome{kind: outcomeRetry}
		}
		return outcome{kind: outcomeFailed, errInfo: &types.ErrorInfo{Kind: string(kind), Message: errMessage(err)}}
	default:
		return outcome{kind: outcomeAbandon, cause: err}
	}
}

// errMessage extracts the verbatim message from a taxonomy error rather
// than its wrapped Error() rendering (which prefixes "Kind: "), so a
// ServiceError's message reaches the task record exactly as the service
// reported it. Falls back to err.Error() for anything not built by
// pkg/errors.
func errMessage(err error) string {
	var te *errors.Error
	if stderrors.As(err, &te) {
		return te.Message
	}
	return err.Error()
}

func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}

// complete persists the task's output, transitions it to complete,
// releases the claim, and runs successor promotion.
func (w *Worker) complete(workflow *types.Workflow, graph *blueprint.Graph, task *types.Task, output *types.DataReference) error {
	task.Output = output
	task.Status = types.TaskComplete
	task.UpdatedAt = time.Now()
	if err := w.store.PutTask(task); err != nil {
		return fmt.Errorf("persist complete task %s: %w", task.ID, err)
	}
	if err := w.store.ReleaseClaim(task.ID, w.cfg.ID); err != nil {
		w.logger.Warn().Err(err).Str("task_id", task.ID).Msg("release claim after completion")
	}

	metrics.TasksCompleted.WithLabelValues("complete").Inc()
	w.logger.Info().Str("workflow_id", workflow.ID).Str("task_id", task.ID).
		Str("node_key", task.NodeKey.String()).Msg("task complete")

	if err := w.sched.Promote(workflow, graph, task); err != nil {
		return fmt.Errorf("promote successors of %s: %w", task.ID, err)
	}
	return nil
}

// fail persists a non-retriable terminal failure and releases the claim.
// Downstream tasks are never promoted: they remain pending, per the
// engine's no-auto-cancel policy for still-running siblings.
func (w *Worker) fail(workflow *types.Workflow, task *types.Task, errInfo *types.ErrorInfo) error {
	task.Status = types.TaskFailed
	task.LastError = errInfo
	task.UpdatedAt = time.Now()
	if err := w.store.PutTask(task); err != nil {
		return fmt.Errorf("persist failed task %s: %w", task.ID, err)
	}
	if err := w.store.ReleaseClaim(task.ID, w.cfg.ID); err != nil {
		w.logger.Warn().Err(err).Str("task_id", task.ID).Msg("release claim after failure")
	}

	metrics.TasksCompleted.WithLabelValues("failed").Inc()
	w.logger.Warn().Str("workflow_id", workflow.ID).Str("task_id", task.ID).
		Str("node_key", task.NodeKey.String()).Str("error_kind", errInfo.Kind).
		Str("error_message", errInfo.Message).Msg("task failed")
	return nil
}

// retry transitions the task back to ready and re-enqueues it after an
// exponential backoff (base 1s, cap 30s). The attempt counter was already
// incremented when this attempt was dispatched.
func (w *Worker) retry(task *types.Task) error {
	task.Status = types.TaskReady
	task.Claim = nil
	task.UpdatedAt = time.Now()
	if err := w.store.PutTask(task); err != nil {
		return fmt.Errorf("persist retry state for %s: %w", task.ID, err)
	}

	backoff := time.Duration(math.Min(float64(30*time.Second), float64(time.Second)*math.Pow(2, float64(task.Attempts-1))))
	w.logger.Info().Str("task_id", task.ID).Int("attempt", task.Attempts).
		Dur("backoff", backoff).Msg("retrying task after transport error")
	w.sleep(backoff)

	return w.store.EnqueueReady(task.ID)
}

// abandon logs and leaves the task's claim (if any) to expire; no state
// transition is written beyond what the caller already persisted, since an
// abandoned task is recovered by recover_expired rather than retried inline.
func (w *Worker) abandon(task *types.Task, cause error) error {
	w.logger.Error().Err(cause).Str("task_id", task.ID).Msg("internal error driving task; leaving claim to expire")
	return nil
}

// CurrentTask reports the task id this worker is presently driving, or ""
// if idle. Useful for diagnostics; re-derivable from the Store on restart.
func (w *Worker) CurrentTask() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentTask
}
