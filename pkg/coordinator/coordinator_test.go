package coordinator

import (
	"testing"

	"github.com/cuemby/fluxion/pkg/errors"
	"github.com/cuemby/fluxion/pkg/scheduler"
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

func linearBlueprint() *types.Blueprint {
	return &types.Blueprint{
		Name: "linear", PipelineID: "p1", Version: "1",
		Nodes: []types.BlueprintNode{
			{ContainerName: "a", OperationSignatureList: []types.OperationSignatureEntry{
				{OperationSignature: op("run"), ConnectedTo: []types.Connection{conn("b", "run")}},
			}},
			{ContainerName: "b", OperationSignatureList: []types.OperationSignatureEntry{
				{OperationSignature: op("run"), ConnectedTo: []types.Connection{conn("c", "run")}},
			}},
			{ContainerName: "c", OperationSignatureList: []types.OperationSignatureEntry{
				{OperationSignature: op("run")},
			}},
		},
	}
}

func newTestCoordinator(t *testing.T) (*Coordinator, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store, scheduler.New(store)), store
}

func TestSubmitRejectsInvalidBlueprint(t *testing.T) {
	coord, _ := newTestCoordinator(t)

	cyclic := &types.Blueprint{Nodes: []types.BlueprintNode{
		{ContainerName: "a", OperationSignatureList: []types.OperationSignatureEntry{
			{OperationSignature: op("run"), ConnectedTo: []types.Connection{conn("a", "run")}},
		}},
	}}

	_, err := coord.Submit(cyclic, dockerInfoFor("a"), nil)
	require.Error(t, err)
	require.Equal(t, errors.InvalidBlueprint, errors.KindOf(err))
}

func TestSubmitTwiceYieldsDisjointWorkflows(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	bp := linearBlueprint()
	info := dockerInfoFor("a", "b", "c")

	id1, err := coord.Submit(bp, info, nil)
	require.NoError(t, err)
	id2, err := coord.Submit(bp, info, nil)
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	tasks1, err := coord.ListTasks(id1)
	require.NoError(t, err)
	tasks2, err := coord.ListTasks(id2)
	require.NoError(t, err)
	require.Len(t, tasks1, 3)
	require.Len(t, tasks2, 3)
	for _, t1 := range tasks1 {
		for _, t2 := range tasks2 {
			require.NotEqual(t, t1.TaskID, t2.TaskID)
		}
	}
}

func TestObserveUnknownWorkflowIsNotFound(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	_, err := coord.Observe("does-not-exist")
	require.Error(t, err)
	require.Equal(t, errors.NotFound, errors.KindOf(err))
}

func TestObserveCompletesWhenEveryTaskCompletes(t *testing.T) {
	coord, store := newTestCoordinator(t)
	id, err := coord.Submit(linearBlueprint(), dockerInfoFor("a", "b", "c"), nil)
	require.NoError(t, err)

	tasks, err := store.ListTasks(id)
	require.NoError(t, err)
	for _, task := range tasks {
		task.Status = types.TaskComplete
		task.Output = &types.DataReference{Protocol: "inline", URI: "eA==", Format: "json"}
		require.NoError(t, store.PutTask(task))
	}

	view, err := coord.Observe(id)
	require.NoError(t, err)
	require.Equal(t, types.WorkflowComplete, view.Status)
	require.NotNil(t, view.TerminalAt)
}

func TestObserveFailsWorkflowOnNonRetriableFailureWithNoActivePeers(t *testing.T) {
	coord, store := newTestCoordinator(t)
	id, err := coord.Submit(linearBlueprint(), dockerInfoFor("a", "b", "c"), nil)
	require.NoError(t, err)

	tasks, err := store.ListTasks(id)
	require.NoError(t, err)
	for _, task := range tasks {
		if task.NodeKey.Container == "b" {
			task.Status = types.TaskFailed
			task.LastError = &types.ErrorInfo{Kind: string(errors.ServiceError), Message: "bad input"}
		} else if task.NodeKey.Container == "a" {
			task.Status = types.TaskComplete
			task.Output = &types.DataReference{Protocol: "inline", URI: "eA==", Format: "json"}
		}
		// c stays pending: it never becomes ready since its predecessor b failed.
		require.NoError(t, store.PutTask(task))
	}

	view, err := coord.Observe(id)
	require.NoError(t, err)
	require.Equal(t, types.WorkflowFailed, view.Status)
	require.Equal(t, "bad input", view.Error.Message)
}
