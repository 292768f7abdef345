// Package coordinator holds the workflow lifecycle operations: submit
// (validate -> persist -> seed ready queue), observe (aggregate task
// states into a workflow view), and list_tasks. It is the only actor that
// writes a workflow record's terminal status, computed lazily on observe.
package coordinator

import (
	"fmt"
	"sort"
	"time"

	"github.com/cuemby/fluxion/pkg/blueprint"
	"github.com/cuemby/fluxion/pkg/errors"
	"github.com/cuemby/fluxion/pkg/log"
	"github.com/cuemby/fluxion/pkg/metrics"
	"github.com/cuemby/fluxion/pkg/scheduler"
	"github.com/cuemby/fluxion/pkg/storage"
	"github.com/cuemby/fluxion/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Coordinator exposes the submission API's submit/observe/list_tasks verbs
// over a Store and Scheduler.
type Coordinator struct {
	store     storage.Store
	scheduler *scheduler.Scheduler
	logger    zerolog.Logger
}

// New creates a Coordinator backed by store, seeding new workflows through sched.
func New(store storage.Store, sched *scheduler.Scheduler) *Coordinator {
	return &Coordinator{
		store:     store,
		scheduler: sched,
		logger:    log.WithComponent("coordinator"),
	}
}

// TaskView is the observable projection of a task returned by list_tasks.
type TaskView struct {
	TaskID    string                `json:"task_id"`
	NodeKey   types.NodeKey         `json:"node_key"`
	Status    types.TaskStatus      `json:"status"`
	Attempts  int                   `json:"attempts"`
	Error     *types.ErrorInfo      `json:"error,omitempty"`
	Output    *types.DataReference  `json:"output,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// WorkflowView is the observable projection of a workflow returned by observe.
type WorkflowView struct {
	WorkflowID string             `json:"workflow_id"`
	Status     types.WorkflowStatus `json:"status"`
	CreatedAt  time.Time          `json:"created_at"`
	TerminalAt *time.Time         `json:"terminal_at,omitempty"`
	Error      *types.ErrorInfo   `json:"error,omitempty"`
}

// Submit validates the blueprint against dockerinfo, assigns a workflow id,
// persists the workflow, and seeds its initial task set through the
// scheduler. Validation failures surface as *errors.Error with Kind
// InvalidBlueprint.
func (c *Coordinator) Submit(bp *types.Blueprint, info *types.DockerInfo, inputs []types.DataReference) (string, error) {
	graph, err := blueprint.Build(bp, info)
	if err != nil {
		return "", err
	}

	workflow := &types.Workflow{
		ID:         uuid.New().String(),
		Blueprint:  bp,
		DockerInfo: info,
		Inputs:     inputs,
		Status:     types.WorkflowPending,
		CreatedAt:  time.Now(),
	}

	if err := c.store.PutWorkflow(workflow); err != nil {
		return "", errors.Wrap(errors.InternalError, "persist workflow", err)
	}

	if err := c.scheduler.Seed(workflow, graph); err != nil {
		return "", errors.Wrap(errors.InternalError, "seed workflow tasks", err)
	}

	// Seed may have appended task IDs to the in-memory workflow; persist
	// the final owned-tasks list now that every task has been written.
	if err := c.store.PutWorkflow(workflow); err != nil {
		return "", errors.Wrap(errors.InternalError, "persist seeded workflow", err)
	}

	metrics.WorkflowsActive.Inc()
	c.logger.Info().
		Str("workflow_id", workflow.ID).
		Int("task_count", len(workflow.TaskIDs)).
		Msg("workflow submitted")

	return workflow.ID, nil
}

// Observe reads the workflow and every owned task, computes the aggregate
// workflow status per the lifecycle rules in the data model, and persists
// a terminal transition the first time it is observed.
func (c *Coordinator) Observe(workflowID string) (*WorkflowView, error) {
	workflow, err := c.store.GetWorkflow(workflowID)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, errors.Wrap(errors.NotFound, "workflow "+workflowID, err)
		}
		return nil, errors.Wrap(errors.InternalError, "get workflow", err)
	}

	tasks, err := c.store.ListTasks(workflowID)
	if err != nil {
		return nil, errors.Wrap(errors.InternalError, "list tasks", err)
	}

	if err := c.finalize(workflow, tasks); err != nil {
		return nil, err
	}

	return &WorkflowView{
		WorkflowID: workflow.ID,
		Status:     workflow.Status,
		CreatedAt:  workflow.CreatedAt,
		TerminalAt: workflow.TerminalAt,
		Error:      workflow.Error,
	}, nil
}

// ListTasks enumerates the tasks owned by workflowID as observable views,
// in node-key lexicographic order.
func (c *Coordinator) ListTasks(workflowID string) ([]TaskView, error) {
	if _, err := c.store.GetWorkflow(workflowID); err != nil {
		if err == storage.ErrNotFound {
			return nil, errors.Wrap(errors.NotFound, "workflow "+workflowID, err)
		}
		return nil, errors.Wrap(errors.InternalError, "get workflow", err)
	}

	tasks, err := c.store.ListTasks(workflowID)
	if err != nil {
		return nil, errors.Wrap(errors.InternalError, "list tasks", err)
	}

	views := make([]TaskView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, TaskView{
			TaskID:    t.ID,
			NodeKey:   t.NodeKey,
			Status:    t.Status,
			Attempts:  t.Attempts,
			Error:     t.LastError,
			Output:    t.Output,
			CreatedAt: t.CreatedAt,
			UpdatedAt: t.UpdatedAt,
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].NodeKey.Less(views[j].NodeKey) })
	return views, nil
}

// finalize implements the workflow lifecycle transitions of the data
// model: running as soon as any task is non-pending, complete when every
// task is complete, failed the first time a failed task is observed with
// no ready or running_remote task remaining (tasks left pending behind a
// failed ancestor do not hold the workflow open). The terminal status is
// written at most once.
func (c *Coordinator) finalize(workflow *types.Workflow, tasks []*types.Task) error {
	if workflow.Status == types.WorkflowComplete || workflow.Status == types.WorkflowFailed || workflow.Status == types.WorkflowCancelled {
		return nil
	}

	allComplete := true
	anyTerminalFailure := false
	// anyActive tracks tasks that can still make progress (ready or
	// running_remote). Tasks stuck forever in pending because an ancestor
	// failed never satisfy I5 on their own, so they are deliberately
	// excluded here: the workflow fails once nothing is left to drive,
	// not once every task reaches a terminal state.
	anyActive := false
	anyStarted := false
	var firstFailure *types.ErrorInfo

	for _, t := range tasks {
		switch t.Status {
		case types.TaskComplete:
			anyStarted = true
		case types.TaskFailed:
			allComplete = false
			anyStarted = true
			anyTerminalFailure = true
			if firstFailure == nil && t.LastError != nil {
				firstFailure = t.LastError
			}
		case types.TaskReady, types.TaskRunningRemote:
			allComplete = false
			anyActive = true
			anyStarted = true
		default: // pending
			allComplete = false
		}
	}

	changed := false
	now := time.Now()

	if workflow.Status == types.WorkflowPending && anyStarted {
		workflow.Status = types.WorkflowRunning
		changed = true
	}

	switch {
	case allComplete && len(tasks) > 0:
		workflow.Status = types.WorkflowComplete
		workflow.TerminalAt = &now
		changed = true
		metrics.WorkflowsActive.Dec()
		metrics.WorkflowsTotal.WithLabelValues("complete").Inc()
		metrics.WorkflowDuration.Observe(now.Sub(workflow.CreatedAt).Seconds())
	case anyTerminalFailure && !anyActive:
		workflow.Status = types.WorkflowFailed
		workflow.Error = firstFailure
		workflow.TerminalAt = &now
		changed = true
		metrics.WorkflowsActive.Dec()
		metrics.WorkflowsTotal.WithLabelValues("failed").Inc()
		metrics.WorkflowDuration.Observe(now.Sub(workflow.CreatedAt).Seconds())
	}

	if changed {
		if err := c.store.PutWorkflow(workflow); err != nil {
			return errors.Wrap(errors.InternalError, "persist finalized workflow", err)
		}
		c.logger.Info().
			Str("workflow_id", workflow.ID).
			Str("status", string(workflow.Status)).
			Msg("workflow status finalized")
	}

	return nil
}

// MarkRunning transitions a workflow to running the moment its first task
// is claimed. Called by the worker loop, not the coordinator's own verbs,
// since a claim can race an Observe call.
func MarkRunning(store storage.Store, workflowID string) error {
	workflow, err := store.GetWorkflow(workflowID)
	if err != nil {
		return fmt.Errorf("get workflow %s: %w", workflowID, err)
	}
	if workflow.Status != types.WorkflowPending {
		return nil
	}
	workflow.Status = types.WorkflowRunning
	return store.PutWorkflow(workflow)
}
