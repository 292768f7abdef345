// Package blueprint parses a submitted blueprint document into a validated
// DAG of operation node keys, the graph the scheduler and worker loop drive.
package blueprint

import (
	"fmt"
	"sort"

	"github.com/cuemby/fluxion/pkg/errors"
	"github.com/cuemby/fluxion/pkg/types"
)

// Vertex is one operation node key and its resolved DAG edges.
type Vertex struct {
	Key         types.NodeKey
	InputName   string
	OutputName  string
	Upstream    []types.NodeKey // predecessors, sorted lexicographically
	Downstream  []types.NodeKey // successors, sorted lexicographically
}

// Graph is the validated DAG produced from a blueprint plus its dockerinfo.
type Graph struct {
	Vertices map[types.NodeKey]*Vertex
	// Order lists every node key in lexicographic order, the seeding and
	// tie-break order the scheduler must follow.
	Order []types.NodeKey
}

// Sources returns the node keys with no predecessors, in lexicographic order.
func (g *Graph) Sources() []types.NodeKey {
	var sources []types.NodeKey
	for _, k := range g.Order {
		if len(g.Vertices[k].Upstream) == 0 {
			sources = append(sources, k)
		}
	}
	return sources
}

// Build validates a blueprint against its dockerinfo and constructs the DAG.
// It returns an *errors.Error with Kind InvalidBlueprint on any violation.
func Build(bp *types.Blueprint, info *types.DockerInfo) (*Graph, error) {
	if bp == nil || len(bp.Nodes) == 0 {
		return nil, errors.New(errors.InvalidBlueprint, "blueprint has no nodes")
	}

	declared := make(map[types.NodeKey]*types.OperationSignatureEntry)
	for i := range bp.Nodes {
		node := &bp.Nodes[i]
		for j := range node.OperationSignatureList {
			entry := &node.OperationSignatureList[j]
			key := types.NodeKey{Container: node.ContainerName, Operation: entry.OperationSignature.OperationName}
			if _, exists := declared[key]; exists {
				return nil, errors.New(errors.InvalidBlueprint,
					fmt.Sprintf("duplicate node key %s", key))
			}
			declared[key] = entry
		}
	}
	if len(declared) == 0 {
		return nil, errors.New(errors.InvalidBlueprint, "blueprint declares no operations")
	}

	vertices := make(map[types.NodeKey]*Vertex, len(declared))
	for key, entry := range declared {
		vertices[key] = &Vertex{
			Key:        key,
			InputName:  entry.OperationSignature.InputMessageName,
			OutputName: entry.OperationSignature.OutputMessageName,
		}
	}

	// Wire edges, validating every connected_to target is declared.
	for key, entry := range declared {
		for _, conn := range entry.ConnectedTo {
			target := types.NodeKey{Container: conn.ContainerName, Operation: conn.OperationSignature.OperationName}
			if _, ok := declared[target]; !ok {
				return nil, errors.New(errors.InvalidBlueprint,
					fmt.Sprintf("%s connects to undeclared node %s", key, target))
			}
			vertices[key].Downstream = append(vertices[key].Downstream, target)
			vertices[target].Upstream = append(vertices[target].Upstream, key)
		}
	}

	for _, v := range vertices {
		sortKeys(v.Upstream)
		sortKeys(v.Downstream)
	}

	if err := detectCycle(vertices); err != nil {
		return nil, err
	}

	order := make([]types.NodeKey, 0, len(vertices))
	sourceCount := 0
	for key, v := range vertices {
		order = append(order, key)
		if len(v.Upstream) == 0 {
			sourceCount++
		}
	}
	sortKeys(order)

	if sourceCount == 0 {
		return nil, errors.New(errors.InvalidBlueprint, "blueprint has no source node")
	}

	if info == nil {
		return nil, errors.New(errors.InvalidBlueprint, "dockerinfo is required")
	}
	for key := range vertices {
		if info.Endpoint(key.Container) == "" {
			return nil, errors.New(errors.InvalidBlueprint,
				fmt.Sprintf("dockerinfo missing endpoint for container %s", key.Container))
		}
	}

	return &Graph{Vertices: vertices, Order: order}, nil
}

func sortKeys(keys []types.NodeKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
}

// detectCycle runs recursive DFS coloring over the vertex set and returns an
// InvalidBlueprint error if any back-edge is found. Cycle detection must run
// before any state is written, since a cyclic DAG would deadlock the scheduler.
func detectCycle(vertices map[types.NodeKey]*Vertex) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[types.NodeKey]int, len(vertices))

	var visit func(types.NodeKey) error
	visit = func(key types.NodeKey) error {
		color[key] = gray
		for _, next := range vertices[key].Downstream {
			switch color[next] {
			case gray:
				return errors.New(errors.InvalidBlueprint,
					fmt.Sprintf("cycle detected involving %s", next))
			case white:
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		color[key] = black
		return nil
	}

	keys := make([]types.NodeKey, 0, len(vertices))
	for k := range vertices {
		keys = append(keys, k)
	}
	sortKeys(keys)

	for _, key := range keys {
		if color[key] == white {
			if err := visit(key); err != nil {
				return err
			}
		}
	}
	return nil
}
