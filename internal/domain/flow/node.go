package flow

import (
	"context"
	"sort"
)

// BackgroundAction is long-running suspended work returned by a node's
// execute() for streaming ports (spec §3 Node, §4.C.1.f). The engine
// supervises the action's goroutine until it completes or the execution
// is cancelled.
type BackgroundAction struct {
	Name string
	Run  func(ctx context.Context) error
}

// Result is what a node's Execute returns.
type Result struct {
	// Outputs maps output port keys to values assigned after execute
	// returns successfully; the engine writes them via Flow.SetValue.
	Outputs map[string]interface{}

	// BackgroundActions are supervised cooperatively by the engine; see
	// spec §4.C.1.f.
	BackgroundActions []BackgroundAction
}

// Executable is implemented by concrete node types registered in the node
// registry (internal/engine). It corresponds to spec §3's Node contract:
// initialize(), execute(ctx), clone(), getVersion() (clone() lives on Node
// itself, since it also copies port definitions Executable knows nothing
// about).
type Executable interface {
	// Initialize runs once per node instance before its first Execute
	// call, for setup Execute shouldn't repeat (e.g. compiling a
	// template, validating Metadata). Builtins that need no setup
	// return nil.
	Initialize(ctx context.Context, node *Node) error

	Execute(ctx context.Context, node *Node, inputs map[string]interface{}) (Result, error)

	// GetVersion identifies the node type implementation's revision,
	// surfaced on NODE_STARTED so a mixed-version worker fleet can be
	// told apart in the event stream.
	GetVersion() string
}

// Node is an executable unit with typed input and output ports.
type Node struct {
	ID       string
	Type     string
	Metadata map[string]interface{}
	Ports    map[string]*Port // keyed by port Key

	// Recoverable marks this node as skip-on-failure rather than
	// abort-on-failure (spec §4.C.1.e).
	Recoverable bool

	// RunsOnAnyInput means the node still executes if at least one
	// (rather than all) of its non-stream inputs was not skipped.
	RunsOnAnyInput bool

	Executable Executable
}

// NewNode constructs a node with an empty port set.
func NewNode(id, typ string, metadata map[string]interface{}) *Node {
	return &Node{
		ID:       id,
		Type:     typ,
		Metadata: metadata,
		Ports:    make(map[string]*Port),
	}
}

// AddPort registers a port on the node, keyed by its Key.
func (n *Node) AddPort(p *Port) {
	p.NodeID = n.ID
	n.Ports[p.Key] = p
}

// InputPorts returns input (and passthrough) ports sorted by key for
// deterministic iteration.
func (n *Node) InputPorts() []*Port {
	var ports []*Port
	for _, p := range n.Ports {
		if p.Direction == DirectionInput || p.Direction == DirectionPassthrough {
			ports = append(ports, p)
		}
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].Key < ports[j].Key })
	return ports
}

// OutputPorts returns output (and passthrough) ports sorted by key.
func (n *Node) OutputPorts() []*Port {
	var ports []*Port
	for _, p := range n.Ports {
		if p.Direction == DirectionOutput || p.Direction == DirectionPassthrough {
			ports = append(ports, p)
		}
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].Key < ports[j].Key })
	return ports
}

// Clone produces a snapshot copy of the node suitable for a fresh
// execution attempt: same port definitions, zeroed values and versions.
func (n *Node) Clone() *Node {
	clone := NewNode(n.ID, n.Type, n.Metadata)
	clone.Recoverable = n.Recoverable
	clone.RunsOnAnyInput = n.RunsOnAnyInput
	clone.Executable = n.Executable
	for key, p := range n.Ports {
		np := NewPort(p.ID, p.Key, n.ID, p.Direction, p.Type, p.Config)
		np.ParentID = p.ParentID
		clone.Ports[key] = np
	}
	return clone
}
