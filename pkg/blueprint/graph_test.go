package blueprint

import (
	"testing"

	fluxerrors "github.com/cuemby/fluxion/pkg/errors"
	"github.com/cuemby/fluxion/pkg/types"
	"github.com/stretchr/testify/assert"
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

func TestBuildLinearPipeline(t *testing.T) {
	g, err := Build(linearBlueprint(), dockerInfoFor("a", "b", "c"))
	require.NoError(t, err)

	a := types.NodeKey{Container: "a", Operation: "run"}
	b := types.NodeKey{Container: "b", Operation: "run"}
	c := types.NodeKey{Container: "c", Operation: "run"}

	assert.Equal(t, []types.NodeKey{a}, g.Sources())
	assert.Equal(t, []types.NodeKey{a}, g.Vertices[b].Upstream)
	assert.Equal(t, []types.NodeKey{b}, g.Vertices[c].Upstream)
}

func TestBuildDiamondOrdersUpstreamLexicographically(t *testing.T) {
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

	g, err := Build(bp, dockerInfoFor("a", "b", "c", "d"))
	require.NoError(t, err)

	d := types.NodeKey{Container: "d", Operation: "run"}
	b := types.NodeKey{Container: "b", Operation: "run"}
	c := types.NodeKey{Container: "c", Operation: "run"}
	assert.Equal(t, []types.NodeKey{b, c}, g.Vertices[d].Upstream)
}

func TestBuildRejectsCycle(t *testing.T) {
	bp := &types.Blueprint{
		Nodes: []types.BlueprintNode{
			{ContainerName: "a", OperationSignatureList: []types.OperationSignatureEntry{
				{OperationSignature: op("run"), ConnectedTo: []types.Connection{conn("b", "run")}},
			}},
			{ContainerName: "b", OperationSignatureList: []types.OperationSignatureEntry{
				{OperationSignature: op("run"), ConnectedTo: []types.Connection{conn("a", "run")}},
			}},
		},
	}

	_, err := Build(bp, dockerInfoFor("a", "b"))
	require.Error(t, err)
	assert.Equal(t, fluxerrors.InvalidBlueprint, fluxerrors.KindOf(err))
}

func TestBuildRejectsUndeclaredConnection(t *testing.T) {
	bp := &types.Blueprint{
		Nodes: []types.BlueprintNode{
			{ContainerName: "a", OperationSignatureList: []types.OperationSignatureEntry{
				{OperationSignature: op("run"), ConnectedTo: []types.Connection{conn("ghost", "run")}},
			}},
		},
	}

	_, err := Build(bp, dockerInfoFor("a"))
	require.Error(t, err)
	assert.Equal(t, fluxerrors.InvalidBlueprint, fluxerrors.KindOf(err))
}

func TestBuildRejectsMissingDockerinfoEndpoint(t *testing.T) {
	_, err := Build(linearBlueprint(), dockerInfoFor("a", "b"))
	require.Error(t, err)
	assert.Equal(t, fluxerrors.InvalidBlueprint, fluxerrors.KindOf(err))
}

func TestBuildRejectsNoSourceNode(t *testing.T) {
	bp := &types.Blueprint{
		Nodes: []types.BlueprintNode{
			{ContainerName: "a", OperationSignatureList: []types.OperationSignatureEntry{
				{OperationSignature: op("run"), ConnectedTo: []types.Connection{conn("b", "run")}},
			}},
			{ContainerName: "b", OperationSignatureList: []types.OperationSignatureEntry{
				{OperationSignature: op("run"), ConnectedTo: []types.Connection{conn("a", "run")}},
			}},
		},
	}
	_, err := Build(bp, dockerInfoFor("a", "b"))
	require.Error(t, err)
}
