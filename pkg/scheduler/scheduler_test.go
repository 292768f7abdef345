package scheduler

import (
	"testing"

	"github.com/cuemby/fluxion/pkg/blueprint"
	"github.com/cuemby/fluxion/pkg/storage"
	"github.com/cuemby/fluxion/pkg/types"
	"github.com/stretchr/testify/require"
)

func op(name string) types.OperationSignature {
	return types.OperationSignature{OperationName: name, InputMessageName: "in", OutputMessageName: "out"}
}

func conn(container, operation string) types.Connection {
	return types.Connection{ContainerName: container, OperationSignature: op(operation)}
}

func dockerInfoFor(containers ...string) *types.DockerInfo {
	info := &types.DockerInfo{}
	for i, c := range containers {
		info.DockerInfoList = append(info.DockerInfoList, types.DockerInfoEntry{
			ContainerName: c, IPAddress: "10.0.0.1", Port: 9000 + i,
		})
	}
	return info
}

// diamondGraph builds a -> {b, c} -> d.
func diamondGraph(t *testing.T) *blueprint.Graph {
	t.Helper()
	bp := &types.Blueprint{
		Nodes: []types.BlueprintNode{
			{ContainerName: "a", OperationSignatureList: []types.OperationSignatureEntry{
				{OperationSignature: op("run"), ConnectedTo: []types.Connection{conn("c", "run"), conn("b", "run")}},
			}},
			{ContainerName: "b", OperationSignatureList: []types.OperationSignatureEntry{
				{OperationSignature: op("run"), ConnectedTo: []types.Connection{conn("d", "run")}},
			}},
			{ContainerName: "c", OperationSignatureList: []types.OperationSignatureEntry{
				{OperationSignature: op("run"), ConnectedTo: []types.Connection{conn("d", "run")}},
			}},
			{ContainerName: "d", OperationSignatureList: []types.OperationSignatureEntry{
				{OperationSignature: op("run")},
			}},
		},
	}
	g, err := blueprint.Build(bp, dockerInfoFor("a", "b", "c", "d"))
	require.NoError(t, err)
	return g
}

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func taskForKey(t *testing.T, store storage.Store, workflowID string, key types.NodeKey) *types.Task {
	t.Helper()
	tasks, err := store.ListTasks(workflowID)
	require.NoError(t, err)
	for _, task := range tasks {
		if task.NodeKey == key {
			return task
		}
	}
	t.Fatalf("no task found for node key %s", key)
	return nil
}

func TestSeedMarksOnlySourceNodesReady(t *testing.T) {
	store := newTestStore(t)
	sched := New(store)
	graph := diamondGraph(t)

	workflow := &types.Workflow{ID: "wf-1", Inputs: []types.DataReference{{Protocol: "inline", URI: "eA==", Format: "json"}}}
	require.NoError(t, sched.Seed(workflow, graph))
	require.Len(t, workflow.TaskIDs, 4)

	a := taskForKey(t, store, "wf-1", types.NodeKey{Container: "a", Operation: "run"})
	d := taskForKey(t, store, "wf-1", types.NodeKey{Container: "d", Operation: "run"})

	require.Equal(t, types.TaskReady, a.Status)
	require.Equal(t, workflow.Inputs, a.Inputs)
	require.Equal(t, types.TaskPending, d.Status)

	claimed, err := store.ClaimOne("worker-a", 0)
	require.NoError(t, err)
	require.Equal(t, a.ID, claimed)
}

func TestPromoteRequiresAllPredecessorsComplete(t *testing.T) {
	store := newTestStore(t)
	sched := New(store)
	graph := diamondGraph(t)

	workflow := &types.Workflow{ID: "wf-1"}
	require.NoError(t, sched.Seed(workflow, graph))

	a := taskForKey(t, store, "wf-1", types.NodeKey{Container: "a", Operation: "run"})
	b := taskForKey(t, store, "wf-1", types.NodeKey{Container: "b", Operation: "run"})
	c := taskForKey(t, store, "wf-1", types.NodeKey{Container: "c", Operation: "run"})

	// Complete b only: d has two predecessors (b, c), so it must stay pending.
	b.Status = types.TaskComplete
	b.Output = &types.DataReference{Protocol: "inline", URI: "Yg==", Format: "json"}
	require.NoError(t, store.PutTask(b))
	require.NoError(t, sched.Promote(workflow, graph, b))

	d := taskForKey(t, store, "wf-1", types.NodeKey{Container: "d", Operation: "run"})
	require.Equal(t, types.TaskPending, d.Status)

	// Complete c: now both of d's predecessors are done, so it promotes.
	c.Status = types.TaskComplete
	c.Output = &types.DataReference{Protocol: "inline", URI: "Yw==", Format: "json"}
	require.NoError(t, store.PutTask(c))
	require.NoError(t, sched.Promote(workflow, graph, c))

	d = taskForKey(t, store, "wf-1", types.NodeKey{Container: "d", Operation: "run"})
	require.Equal(t, types.TaskReady, d.Status)
	require.Equal(t, []types.DataReference{*b.Output, *c.Output}, d.Inputs)

	// a was enqueued at seed time, so it sits ahead of d in the FIFO.
	source, err := store.ClaimOne("worker-a", 0)
	require.NoError(t, err)
	require.Equal(t, a.ID, source)

	claimed, err := store.ClaimOne("worker-a", 0)
	require.NoError(t, err)
	require.Equal(t, d.ID, claimed)

	_ = a
}

func TestPromoteIsIdempotentUnderDuplicateCalls(t *testing.T) {
	store := newTestStore(t)
	sched := New(store)
	graph := diamondGraph(t)

	workflow := &types.Workflow{ID: "wf-1"}
	require.NoError(t, sched.Seed(workflow, graph))

	b := taskForKey(t, store, "wf-1", types.NodeKey{Container: "b", Operation: "run"})
	c := taskForKey(t, store, "wf-1", types.NodeKey{Container: "c", Operation: "run"})
	for _, task := range []*types.Task{b, c} {
		task.Status = types.TaskComplete
		task.Output = &types.DataReference{Protocol: "inline", URI: "eA==", Format: "json"}
		require.NoError(t, store.PutTask(task))
	}

	require.NoError(t, sched.Promote(workflow, graph, b))
	require.NoError(t, sched.Promote(workflow, graph, c))

	// a was enqueued at seed time, so it sits ahead of d in the FIFO.
	a := taskForKey(t, store, "wf-1", types.NodeKey{Container: "a", Operation: "run"})
	source, err := store.ClaimOne("worker-a", 0)
	require.NoError(t, err)
	require.Equal(t, a.ID, source)

	// d should only have been enqueued once despite two promotion calls.
	first, err := store.ClaimOne("worker-a", 0)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := store.ClaimOne("worker-b", 0)
	require.NoError(t, err)
	require.Empty(t, second)
}
