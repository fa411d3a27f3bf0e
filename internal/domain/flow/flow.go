// Package flow implements the in-memory flow graph, ports, and streams
// (spec §4.A Flow Model & Port Runtime). Nodes, ports, and edges are held
// by value/id in the Flow's own maps rather than holding pointers to each
// other across aggregates, per the redesign note to replace cyclic
// cross-pointers with an arena-like owner: the Flow is that arena for one
// execution's lifetime.
package flow

import (
	"bytes"
	"context"
	"encoding/json"

	cgerrors "github.com/chaingraph/chaingraph/internal/pkg/errors"
)

// Flow is an immutable-per-execution snapshot of a graph of nodes and
// edges. A running Engine borrows one Flow exclusively for the lifetime of
// an execution (spec §3 Execution ownership note).
type Flow struct {
	ID       string
	Metadata map[string]interface{}
	Nodes    map[string]*Node
	Edges    map[string]*Edge
}

// New constructs an empty flow.
func New(id string, metadata map[string]interface{}) *Flow {
	return &Flow{
		ID:       id,
		Metadata: metadata,
		Nodes:    make(map[string]*Node),
		Edges:    make(map[string]*Edge),
	}
}

// AddNode registers a node in the flow.
func (f *Flow) AddNode(n *Node) {
	f.Nodes[n.ID] = n
}

func (f *Flow) port(nodeID, portKey string) (*Node, *Port, bool) {
	node, ok := f.Nodes[nodeID]
	if !ok {
		return nil, nil, false
	}
	port, ok := node.Ports[portKey]
	if !ok {
		return nil, nil, false
	}
	return node, port, true
}

// Connect validates and creates an edge from an output port to an input
// port, per spec §4.A: type compatibility, cardinality, and — for
// non-stream target ports — acyclicity via Kahn's algorithm assuming the
// new edge is already present.
func (f *Flow) Connect(edgeID, sourceNodeID, sourcePortKey, targetNodeID, targetPortKey string, metadata map[string]interface{}) (*Edge, error) {
	_, sourcePort, ok := f.port(sourceNodeID, sourcePortKey)
	if !ok {
		return nil, cgerrors.InvalidInput("sourcePort", "source node/port does not exist")
	}
	_, targetPort, ok := f.port(targetNodeID, targetPortKey)
	if !ok {
		return nil, cgerrors.InvalidInput("targetPort", "target node/port does not exist")
	}

	if err := f.checkTypeCompatible(sourcePort, targetPort); err != nil {
		return nil, err
	}

	if !targetPort.AllowsMultipleIncoming() && targetPort.ConnectionCount() > 0 {
		return nil, cgerrors.CardinalityViolation(targetPort.ID)
	}

	edge := &Edge{
		ID:           edgeID,
		SourceNodeID: sourceNodeID,
		SourcePortID: sourcePort.ID,
		TargetNodeID: targetNodeID,
		TargetPortID: targetPort.ID,
		Metadata:     metadata,
	}

	// Cycle detection ignores edges whose target port type is `stream`:
	// streams are the sole legitimate back-edge carrier (spec §4.A.1).
	if targetPort.Type != TypeStream {
		if f.wouldCycle(edge) {
			return nil, cgerrors.CycleDetected(sourcePort.ID, targetPort.ID)
		}
	}

	f.Edges[edge.ID] = edge
	sourcePort.addConnection(edge.ID)
	targetPort.addConnection(edge.ID)

	// Any-port binding: when a peer connects, an unbound any port adopts
	// the peer's resolved type and schema (spec §4.A.2).
	f.propagateAnyBinding(sourcePort, targetPort)

	return edge, nil
}

func (f *Flow) checkTypeCompatible(source, target *Port) error {
	st, tt := source.effectiveType(), target.effectiveType()
	if st == TypeAny || tt == TypeAny {
		return nil // any ports adopt the peer's type on connect
	}
	if st != tt {
		return cgerrors.TypeMismatch(target.Key, string(tt), string(st))
	}
	return nil
}

// propagateAnyBinding resolves any-typed endpoints against a concrete peer
// type, emitting no event itself — callers (the engine) observe the bound
// state via Port.Any and emit the port-update event.
func (f *Flow) propagateAnyBinding(source, target *Port) {
	if target.Type == TypeAny && source.effectiveType() != TypeAny {
		target.bindAny(source.effectiveType(), source.Config)
	}
	if source.Type == TypeAny && target.effectiveType() != TypeAny {
		source.bindAny(target.effectiveType(), target.Config)
	}
}

// Disconnect removes an edge and, if either endpoint was an any port bound
// only because of this edge, clears its binding and any synthesized child
// ports (spec §4.A.2).
func (f *Flow) Disconnect(edgeID string) error {
	edge, ok := f.Edges[edgeID]
	if !ok {
		return cgerrors.NotFound("edge", edgeID)
	}
	if sp, ok := f.Nodes[edge.SourceNodeID]; ok {
		if p, ok := sp.portByID(edge.SourcePortID); ok {
			p.removeConnection(edgeID)
			if p.ConnectionCount() == 0 && p.unbindAny() {
				f.deleteChildPorts(sp, p.Key)
			}
		}
	}
	if tp, ok := f.Nodes[edge.TargetNodeID]; ok {
		if p, ok := tp.portByID(edge.TargetPortID); ok {
			p.removeConnection(edgeID)
			if p.ConnectionCount() == 0 && p.unbindAny() {
				f.deleteChildPorts(tp, p.Key)
			}
		}
	}
	delete(f.Edges, edgeID)
	return nil
}

func (n *Node) portByID(id string) (*Port, bool) {
	for _, p := range n.Ports {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

func (f *Flow) deleteChildPorts(n *Node, parentKey string) {
	parent, ok := n.Ports[parentKey]
	if !ok {
		return
	}
	for key, p := range n.Ports {
		if p.ParentID == parent.ID {
			delete(n.Ports, key)
		}
	}
}

// wouldCycle runs Kahn's algorithm over the non-stream-edge-restricted
// graph with the candidate edge already inserted. If the resulting
// in-degree map does not fully drain, the edge would introduce a cycle.
func (f *Flow) wouldCycle(candidate *Edge) bool {
	adj := make(map[string][]string)
	indeg := make(map[string]int)
	for id := range f.Nodes {
		indeg[id] = 0
	}

	addEdge := func(from, to string) {
		adj[from] = append(adj[from], to)
		indeg[to]++
	}

	for _, e := range f.Edges {
		tp, found := f.findPortByID(e.TargetNodeID, e.TargetPortID)
		if found && tp.Type == TypeStream {
			continue // streams are excluded from the cyclic graph
		}
		addEdge(e.SourceNodeID, e.TargetNodeID)
	}
	addEdge(candidate.SourceNodeID, candidate.TargetNodeID)

	queue := make([]string, 0, len(indeg))
	for id, d := range indeg {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	visited := 0
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		visited++
		for _, m := range adj[n] {
			indeg[m]--
			if indeg[m] == 0 {
				queue = append(queue, m)
			}
		}
	}
	return visited != len(f.Nodes)
}

func (f *Flow) findPortByID(nodeID, portID string) (*Port, bool) {
	node, ok := f.Nodes[nodeID]
	if !ok {
		return nil, false
	}
	return node.portByID(portID)
}

// SetValue writes value to port, bumping its version. Object/array ports
// are deep-merged by key/index against the existing value, re-using child
// ports when the schema shape is unchanged (spec §4.A).
func (f *Flow) SetValue(port *Port, value interface{}) error {
	eff := port.effectiveType()
	if eff == TypeObject {
		merged := deepMergeObject(toMap(port.Value()), toMap(value))
		port.setValue(merged)
		return nil
	}
	if eff == TypeArray {
		merged := deepMergeArray(toSlice(port.Value()), toSlice(value))
		port.setValue(merged)
		return nil
	}
	port.setValue(value)
	return nil
}

func toMap(v interface{}) map[string]interface{} {
	m, _ := v.(map[string]interface{})
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

func toSlice(v interface{}) []interface{} {
	s, _ := v.([]interface{})
	return s
}

func deepMergeObject(existing, incoming map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(existing)+len(incoming))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range incoming {
		if ev, ok := out[k]; ok {
			if em, ok := ev.(map[string]interface{}); ok {
				if im, ok := v.(map[string]interface{}); ok {
					out[k] = deepMergeObject(em, im)
					continue
				}
			}
		}
		out[k] = v
	}
	return out
}

func deepMergeArray(existing, incoming []interface{}) []interface{} {
	if len(incoming) >= len(existing) {
		return incoming
	}
	out := append([]interface{}(nil), existing...)
	copy(out, incoming)
	return out
}

// Propagate copies a value across an edge, per spec §4.A: scalar/deep
// clone for non-stream edges, stream-to-stream forwarding for stream
// edges. The engine calls this once a source node completes successfully.
func (f *Flow) Propagate(ctx context.Context, edge *Edge, sourceValue interface{}) error {
	targetPort, found := f.findPortByID(edge.TargetNodeID, edge.TargetPortID)
	if !found {
		return cgerrors.NotFound("port", edge.TargetPortID)
	}
	if targetPort.Type == TypeStream {
		return f.propagateStream(ctx, edge, sourceValue, targetPort)
	}
	return f.SetValue(targetPort, deepClone(sourceValue))
}

func (f *Flow) propagateStream(ctx context.Context, edge *Edge, sourceValue interface{}, targetPort *Port) error {
	sourcePort, found := f.findPortByID(edge.SourceNodeID, edge.SourcePortID)
	if !found || sourcePort.Type != TypeStream {
		// The source isn't itself a stream: treat sourceValue as a single
		// item forwarded onto the target stream.
		return targetPort.Stream().Send(ctx, targetPort.ID, sourceValue)
	}
	// Stream-to-stream: forward items from the source cursor onto the
	// target channel; multiple producers merge by arrival order at the
	// target (spec §5).
	cursor := sourcePort.Stream().Subscribe(sourcePort.ID)
	target := targetPort.Stream()
	go func() {
		defer cursor.Unsubscribe()
		for {
			item, ok, err := cursor.Next(ctx)
			if err != nil || !ok {
				return
			}
			if err := target.Send(ctx, targetPort.ID, item); err != nil {
				return
			}
		}
	}()
	return nil
}

// deepClone performs a JSON round-trip clone for plain JSON-shaped values.
// Values that don't round-trip (e.g. already-decoded json.Number) are
// returned as-is; ports only ever carry JSON-compatible values per the
// wire contract in spec §4.D/§9 (explicit encode/decode, no reflection).
func deepClone(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out interface{}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return v
	}
	return out
}
