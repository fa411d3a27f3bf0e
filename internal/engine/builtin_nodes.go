package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chaingraph/chaingraph/internal/domain/flow"
)

// RegisterBuiltins installs the node descriptors the engine's own test
// suite and the spec §8 end-to-end scenarios exercise: add, constant,
// passthrough, stream-source, stream-sink. Concrete business-logic node
// types (HTTP, LLM, crypto, ...) remain external collaborators per
// spec §1's scope boundary — only this minimal arithmetic/plumbing set
// lives in the core.
func RegisterBuiltins(r *Registry) {
	r.Register(Descriptor{
		ID: "add",
		Ports: []PortSpec{
			{Key: "a", Direction: flow.DirectionInput, Type: flow.TypeNumber},
			{Key: "b", Direction: flow.DirectionInput, Type: flow.TypeNumber},
			{Key: "sum", Direction: flow.DirectionOutput, Type: flow.TypeNumber},
		},
		Factory: func() flow.Executable { return addNode{} },
	})

	r.Register(Descriptor{
		ID: "constant",
		Ports: []PortSpec{
			{Key: "value", Direction: flow.DirectionOutput, Type: flow.TypeAny},
		},
		Factory: func() flow.Executable { return constantNode{} },
	})

	r.Register(Descriptor{
		ID: "passthrough",
		Ports: []PortSpec{
			{Key: "in", Direction: flow.DirectionInput, Type: flow.TypeAny},
			{Key: "out", Direction: flow.DirectionOutput, Type: flow.TypeAny},
		},
		Factory:        func() flow.Executable { return passthroughNode{} },
		RunsOnAnyInput: true,
	})

	r.Register(Descriptor{
		ID: "stream-source",
		Ports: []PortSpec{
			{Key: "items", Direction: flow.DirectionOutput, Type: flow.TypeStream},
		},
		Factory: func() flow.Executable { return streamSourceNode{} },
	})

	r.Register(Descriptor{
		ID: "stream-sink",
		Ports: []PortSpec{
			{Key: "items", Direction: flow.DirectionInput, Type: flow.TypeStream},
		},
		Factory: func() flow.Executable { return streamSinkNode{} },
	})
}

// asFloat accepts plain Go numerics as well as json.Number, the type
// values take on after a deepClone JSON round-trip (flow.go uses
// json.Decoder.UseNumber to avoid lossy float64 conversion of large
// integers crossing edges; edges into an ordinary arithmetic node like
// this one need the numeric value back out of that wrapper).
func asFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case nil:
		return 0, fmt.Errorf("missing numeric input")
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}

type addNode struct{}

func (addNode) Initialize(ctx context.Context, node *flow.Node) error { return nil }
func (addNode) GetVersion() string                                    { return "1.0.0" }

func (addNode) Execute(ctx context.Context, node *flow.Node, inputs map[string]interface{}) (flow.Result, error) {
	a, err := asFloat(inputs["a"])
	if err != nil {
		return flow.Result{}, fmt.Errorf("input a: %w", err)
	}
	b, err := asFloat(inputs["b"])
	if err != nil {
		return flow.Result{}, fmt.Errorf("input b: %w", err)
	}
	return flow.Result{Outputs: map[string]interface{}{"sum": a + b}}, nil
}

// constantNode emits node.Metadata["value"] as its output. Flows
// instantiate one per literal value they need to feed into the graph.
type constantNode struct{}

func (constantNode) Initialize(ctx context.Context, node *flow.Node) error { return nil }
func (constantNode) GetVersion() string                                    { return "1.0.0" }

func (constantNode) Execute(ctx context.Context, node *flow.Node, inputs map[string]interface{}) (flow.Result, error) {
	return flow.Result{Outputs: map[string]interface{}{"value": node.Metadata["value"]}}, nil
}

type passthroughNode struct{}

func (passthroughNode) Initialize(ctx context.Context, node *flow.Node) error { return nil }
func (passthroughNode) GetVersion() string                                    { return "1.0.0" }

func (passthroughNode) Execute(ctx context.Context, node *flow.Node, inputs map[string]interface{}) (flow.Result, error) {
	return flow.Result{Outputs: map[string]interface{}{"out": inputs["in"]}}, nil
}

// streamSourceNode sends node.Metadata["items"] (an []interface{}) onto
// its output stream as a background action, then closes it.
type streamSourceNode struct{}

func (streamSourceNode) Initialize(ctx context.Context, node *flow.Node) error { return nil }
func (streamSourceNode) GetVersion() string                                    { return "1.0.0" }

func (streamSourceNode) Execute(ctx context.Context, node *flow.Node, inputs map[string]interface{}) (flow.Result, error) {
	items, _ := node.Metadata["items"].([]interface{})
	port := node.Ports["items"]
	return flow.Result{
		BackgroundActions: []flow.BackgroundAction{{
			Name: "stream-source:" + node.ID,
			Run: func(ctx context.Context) error {
				s := port.Stream()
				defer s.Close()
				for _, item := range items {
					if err := s.Send(ctx, port.ID, item); err != nil {
						return err
					}
				}
				return nil
			},
		}},
	}, nil
}

// streamSinkNode drains its input stream into node.Metadata["collected"]
// as a background action, useful for tests asserting on stream contents.
type streamSinkNode struct{}

func (streamSinkNode) Initialize(ctx context.Context, node *flow.Node) error { return nil }
func (streamSinkNode) GetVersion() string                                    { return "1.0.0" }

func (streamSinkNode) Execute(ctx context.Context, node *flow.Node, inputs map[string]interface{}) (flow.Result, error) {
	port := node.Ports["items"]
	return flow.Result{
		BackgroundActions: []flow.BackgroundAction{{
			Name: "stream-sink:" + node.ID,
			Run: func(ctx context.Context) error {
				cursor := port.Stream().Subscribe(port.ID)
				defer cursor.Unsubscribe()
				var collected []interface{}
				for {
					item, ok, err := cursor.Next(ctx)
					if err != nil {
						return err
					}
					if !ok {
						break
					}
					collected = append(collected, item)
				}
				node.Metadata["collected"] = collected
				return nil
			},
		}},
	}, nil
}
