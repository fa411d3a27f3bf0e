package flow

import cgerrors "github.com/chaingraph/chaingraph/internal/pkg/errors"

// Validate checks structural invariants before a flow is handed to the
// engine: edge ids are unique, every edge's source and target nodes exist
// (its ports are not looked up), and the flow contains at least one node. Grounded in the teacher's workflow.validateGraph, generalized from
// a fixed start/end node requirement to arbitrary dataflow graphs (a flow
// here is defined by in-degree-zero sources, not a sentinel start node).
func (f *Flow) Validate() error {
	if len(f.Nodes) == 0 {
		return cgerrors.InvalidInput("nodes", "flow must contain at least one node")
	}
	seen := make(map[string]struct{}, len(f.Edges))
	for _, e := range f.Edges {
		if _, ok := seen[e.ID]; ok {
			return cgerrors.AlreadyExists("edge", e.ID)
		}
		seen[e.ID] = struct{}{}
		if _, ok := f.Nodes[e.SourceNodeID]; !ok {
			return cgerrors.InvalidInput("sourceNodeId", "edge references unknown source node "+e.SourceNodeID)
		}
		if _, ok := f.Nodes[e.TargetNodeID]; !ok {
			return cgerrors.InvalidInput("targetNodeId", "edge references unknown target node "+e.TargetNodeID)
		}
	}
	return nil
}

// NonStreamGraph returns the outgoing-edge adjacency and in-degree map of
// the flow restricted to non-stream edges (spec §4.C.1's G), the shape the
// scheduler drives its ready queue from.
func (f *Flow) NonStreamGraph() (outgoing map[string][]*Edge, indegree map[string]int) {
	outgoing = make(map[string][]*Edge, len(f.Nodes))
	indegree = make(map[string]int, len(f.Nodes))
	for id := range f.Nodes {
		indegree[id] = 0
	}
	for _, e := range f.Edges {
		tp, found := f.findPortByID(e.TargetNodeID, e.TargetPortID)
		if found && tp.Type == TypeStream {
			continue
		}
		outgoing[e.SourceNodeID] = append(outgoing[e.SourceNodeID], e)
		indegree[e.TargetNodeID]++
	}
	return outgoing, indegree
}

// SourceNodes returns node ids with in-degree zero over non-stream edges:
// the scheduler's initial ready set (spec §4.C.1 step 1).
func (f *Flow) SourceNodes() []string {
	indeg := make(map[string]int, len(f.Nodes))
	for id := range f.Nodes {
		indeg[id] = 0
	}
	for _, e := range f.Edges {
		tp, found := f.findPortByID(e.TargetNodeID, e.TargetPortID)
		if found && tp.Type == TypeStream {
			continue
		}
		indeg[e.TargetNodeID]++
	}
	var sources []string
	for id, d := range indeg {
		if d == 0 {
			sources = append(sources, id)
		}
	}
	return sources
}
