package scheduler

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/fluxion/pkg/blueprint"
	"github.com/cuemby/fluxion/pkg/log"
	"github.com/cuemby/fluxion/pkg/metrics"
	"github.com/cuemby/fluxion/pkg/storage"
	"github.com/cuemby/fluxion/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Scheduler seeds a workflow's initial task set from its blueprint graph
// and promotes successor tasks to ready once every one of their
// predecessors has produced output.
type Scheduler struct {
	store  storage.Store
	logger zerolog.Logger
	mu     sync.Mutex
}

// New creates a Scheduler backed by store.
func New(store storage.Store) *Scheduler {
	return &Scheduler{
		store:  store,
		logger: log.WithComponent("scheduler"),
	}
}

// Seed creates one task per node in the graph. Source nodes (no upstream)
// start ready with the workflow's initial inputs and are enqueued
// immediately; every other node starts pending.
func (s *Scheduler) Seed(workflow *types.Workflow, graph *blueprint.Graph) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range graph.Order {
		v := graph.Vertices[key]
		task := &types.Task{
			ID:         uuid.New().String(),
			WorkflowID: workflow.ID,
			NodeKey:    key,
			Upstream:   v.Upstream,
			Inputs:     []types.DataReference{},
		}

		if len(v.Upstream) == 0 {
			task.Status = types.TaskReady
			task.Inputs = append(task.Inputs, workflow.Inputs...)
		} else {
			task.Status = types.TaskPending
		}

		if err := s.store.PutTask(task); err != nil {
			return fmt.Errorf("put task for %s: %w", key, err)
		}
		workflow.TaskIDs = append(workflow.TaskIDs, task.ID)

		if task.Status == types.TaskReady {
			if err := s.store.EnqueueReady(task.ID); err != nil {
				return fmt.Errorf("enqueue source task for %s: %w", key, err)
			}
			s.logger.Debug().
				Str("workflow_id", workflow.ID).
				Str("task_id", task.ID).
				Str("node_key", key.String()).
				Msg("seeded source task")
		}
	}

	return nil
}

// Promote examines completed's downstream successors and, for each whose
// every upstream predecessor has now completed, assembles its ordered
// input list and atomically flips it from pending to ready. Successors are
// visited in lexicographic node-key order so that diamond-shaped graphs
// enqueue their joins deterministically.
func (s *Scheduler) Promote(workflow *types.Workflow, graph *blueprint.Graph, completed *types.Task) error {
	vertex, ok := graph.Vertices[completed.NodeKey]
	if !ok {
		return fmt.Errorf("node key %s not present in graph", completed.NodeKey)
	}
	if len(vertex.Downstream) == 0 {
		return nil
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SchedulingLatency)

	tasks, err := s.store.ListTasks(workflow.ID)
	if err != nil {
		return fmt.Errorf("list tasks for workflow %s: %w", workflow.ID, err)
	}
	byKey := make(map[types.NodeKey]*types.Task, len(tasks))
	for _, t := range tasks {
		byKey[t.NodeKey] = t
	}

	successors := append([]types.NodeKey(nil), vertex.Downstream...)
	sort.Slice(successors, func(i, j int) bool { return successors[i].Less(successors[j]) })

	for _, succKey := range successors {
		succTask, ok := byKey[succKey]
		if !ok {
			continue
		}
		succVertex, ok := graph.Vertices[succKey]
		if !ok {
			continue
		}

		inputs := make([]types.DataReference, 0, len(succVertex.Upstream))
		ready := true
		for _, predKey := range succVertex.Upstream {
			predTask, ok := byKey[predKey]
			if !ok || predTask.Status != types.TaskComplete || predTask.Output == nil {
				ready = false
				break
			}
			inputs = append(inputs, *predTask.Output)
		}
		if !ready {
			continue
		}

		promoted, err := s.store.PromoteIfPending(succTask.ID, inputs)
		if err != nil {
			return fmt.Errorf("promote %s: %w", succKey, err)
		}
		if promoted {
			metrics.TasksPromoted.Inc()
			s.logger.Info().
				Str("workflow_id", workflow.ID).
				Str("task_id", succTask.ID).
				Str("node_key", succKey.String()).
				Msg("promoted task to ready")
		}
	}

	return nil
}
