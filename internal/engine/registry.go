package engine

import (
	"fmt"
	"sync"

	"github.com/chaingraph/chaingraph/internal/domain/flow"
)

// PortSpec describes one port a node type exposes, materialized into a
// flow.Port when a node is instantiated from a Descriptor.
type PortSpec struct {
	Key       string
	Direction flow.Direction
	Type      flow.Type
	Config    map[string]interface{}
}

// Descriptor is an explicit node-type registration (spec §9 redesign
// note: replace decorator-driven schema reflection with explicit
// registration). Grounded in the teacher's
// execution.GetExecutorForNodeType switch, generalized from a fixed
// type-switch into data the registry can enumerate and validate against.
type Descriptor struct {
	ID             string
	Ports          []PortSpec
	Factory        func() flow.Executable
	Recoverable    bool
	RunsOnAnyInput bool
}

// Registry holds node-type descriptors. No reflection is used anywhere in
// node construction: every field needed to build a flow.Node comes from
// the registered Descriptor.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]Descriptor
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{descriptors: make(map[string]Descriptor)}
}

// Register adds or replaces a descriptor.
func (r *Registry) Register(d Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.descriptors[d.ID] = d
}

// Get returns the descriptor for a node type.
func (r *Registry) Get(nodeType string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[nodeType]
	return d, ok
}

// NewNode instantiates a flow.Node from its registered descriptor,
// materializing ports and wiring the Executable factory output.
func (r *Registry) NewNode(id, nodeType string, metadata map[string]interface{}) (*flow.Node, error) {
	d, ok := r.Get(nodeType)
	if !ok {
		return nil, fmt.Errorf("engine: no descriptor registered for node type %q", nodeType)
	}
	n := flow.NewNode(id, nodeType, metadata)
	n.Recoverable = d.Recoverable
	n.RunsOnAnyInput = d.RunsOnAnyInput
	n.Executable = d.Factory()
	for _, spec := range d.Ports {
		p := flow.NewPort(id+":"+spec.Key, spec.Key, id, spec.Direction, spec.Type, spec.Config)
		n.AddPort(p)
	}
	return n, nil
}
