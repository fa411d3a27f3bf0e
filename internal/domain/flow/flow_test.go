package flow_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaingraph/chaingraph/internal/domain/flow"
)

func numberPort(nodeID, key string, dir flow.Direction) *flow.Port {
	return flow.NewPort(nodeID+":"+key, key, nodeID, dir, flow.TypeNumber, nil)
}

func newNumberNode(id string) *flow.Node {
	n := flow.NewNode(id, "test-number", nil)
	n.AddPort(numberPort(id, "out", flow.DirectionOutput))
	n.AddPort(numberPort(id, "in", flow.DirectionInput))
	return n
}

func TestConnect_RejectsTypeMismatch(t *testing.T) {
	f := flow.New("f1", nil)
	a := flow.NewNode("a", "t", nil)
	a.AddPort(flow.NewPort("a:out", "out", "a", flow.DirectionOutput, flow.TypeString, nil))
	b := flow.NewNode("b", "t", nil)
	b.AddPort(flow.NewPort("b:in", "in", "b", flow.DirectionInput, flow.TypeNumber, nil))
	f.AddNode(a)
	f.AddNode(b)

	_, err := f.Connect("e1", "a", "out", "b", "in", nil)
	require.Error(t, err)
}

func TestConnect_RejectsCardinalityViolation(t *testing.T) {
	f := flow.New("f1", nil)
	a := newNumberNode("a")
	b := newNumberNode("b")
	c := newNumberNode("c")
	f.AddNode(a)
	f.AddNode(b)
	f.AddNode(c)

	_, err := f.Connect("e1", "a", "out", "c", "in", nil)
	require.NoError(t, err)
	_, err = f.Connect("e2", "b", "out", "c", "in", nil)
	require.Error(t, err)
}

func TestConnect_RejectsCycle(t *testing.T) {
	f := flow.New("f1", nil)
	a := newNumberNode("a")
	b := newNumberNode("b")
	f.AddNode(a)
	f.AddNode(b)

	_, err := f.Connect("e1", "a", "out", "b", "in", nil)
	require.NoError(t, err)

	_, err = f.Connect("e2", "b", "out", "a", "in", nil)
	require.Error(t, err)
}

func TestConnect_AllowsStreamBackEdge(t *testing.T) {
	f := flow.New("f1", nil)
	a := flow.NewNode("a", "t", nil)
	a.AddPort(flow.NewPort("a:out", "out", "a", flow.DirectionOutput, flow.TypeStream, nil))
	a.AddPort(flow.NewPort("a:in", "in", "a", flow.DirectionInput, flow.TypeStream, nil))
	b := flow.NewNode("b", "t", nil)
	b.AddPort(flow.NewPort("b:in", "in", "b", flow.DirectionInput, flow.TypeStream, nil))
	b.AddPort(flow.NewPort("b:out", "out", "b", flow.DirectionOutput, flow.TypeStream, nil))
	f.AddNode(a)
	f.AddNode(b)

	_, err := f.Connect("e1", "a", "out", "b", "in", nil)
	require.NoError(t, err)
	// back-edge into a stream-typed target port must not be rejected as a cycle
	_, err = f.Connect("e2", "b", "out", "a", "in", nil)
	require.NoError(t, err)
}

func TestConnect_AnyPortBindsToPeerType(t *testing.T) {
	f := flow.New("f1", nil)
	a := flow.NewNode("a", "t", nil)
	a.AddPort(flow.NewPort("a:out", "out", "a", flow.DirectionOutput, flow.TypeString, nil))
	b := flow.NewNode("b", "t", nil)
	anyPort := flow.NewPort("b:in", "in", "b", flow.DirectionInput, flow.TypeAny, nil)
	b.AddPort(anyPort)
	f.AddNode(a)
	f.AddNode(b)

	_, err := f.Connect("e1", "a", "out", "b", "in", nil)
	require.NoError(t, err)
	assert.True(t, anyPort.Any.Bound)
	assert.Equal(t, flow.TypeString, anyPort.Any.Kind)
}

func TestDisconnect_ClearsAnyBindingOnceUnconnected(t *testing.T) {
	f := flow.New("f1", nil)
	a := flow.NewNode("a", "t", nil)
	a.AddPort(flow.NewPort("a:out", "out", "a", flow.DirectionOutput, flow.TypeString, nil))
	b := flow.NewNode("b", "t", nil)
	anyPort := flow.NewPort("b:in", "in", "b", flow.DirectionInput, flow.TypeAny, nil)
	b.AddPort(anyPort)
	f.AddNode(a)
	f.AddNode(b)

	_, err := f.Connect("e1", "a", "out", "b", "in", nil)
	require.NoError(t, err)
	require.NoError(t, f.Disconnect("e1"))
	assert.False(t, anyPort.Any.Bound)
}

func TestSetValue_DeepMergesObjectPort(t *testing.T) {
	f := flow.New("f1", nil)
	n := flow.NewNode("n", "t", nil)
	p := flow.NewPort("n:obj", "obj", "n", flow.DirectionInput, flow.TypeObject, nil)
	n.AddPort(p)
	f.AddNode(n)

	require.NoError(t, f.SetValue(p, map[string]interface{}{"a": 1.0, "nested": map[string]interface{}{"x": 1.0}}))
	require.NoError(t, f.SetValue(p, map[string]interface{}{"b": 2.0, "nested": map[string]interface{}{"y": 2.0}}))

	got := p.Value().(map[string]interface{})
	assert.Equal(t, 1.0, got["a"])
	assert.Equal(t, 2.0, got["b"])
	nested := got["nested"].(map[string]interface{})
	assert.Equal(t, 1.0, nested["x"])
	assert.Equal(t, 2.0, nested["y"])
}

func TestPropagate_ScalarDeepClonesValue(t *testing.T) {
	f := flow.New("f1", nil)
	a := newNumberNode("a")
	b := newNumberNode("b")
	f.AddNode(a)
	f.AddNode(b)
	edge, err := f.Connect("e1", "a", "out", "b", "in", nil)
	require.NoError(t, err)

	require.NoError(t, f.SetValue(a.Ports["out"], 42.0))
	require.NoError(t, f.Propagate(context.Background(), edge, a.Ports["out"].Value()))

	// deepClone round-trips through JSON with UseNumber; the target still
	// carries the numeric value, just possibly as json.Number.
	switch v := b.Ports["in"].Value().(type) {
	case float64:
		assert.Equal(t, 42.0, v)
	case json.Number:
		got, err := v.Float64()
		require.NoError(t, err)
		assert.Equal(t, 42.0, got)
	default:
		t.Fatalf("unexpected propagated value type %T", v)
	}
}

func TestValidate_RejectsDanglingEdge(t *testing.T) {
	f := flow.New("f1", nil)
	a := newNumberNode("a")
	f.AddNode(a)
	f.Edges["bad"] = &flow.Edge{ID: "bad", SourceNodeID: "a", SourcePortID: "a:out", TargetNodeID: "missing", TargetPortID: "missing:in"}

	err := f.Validate()
	require.Error(t, err)
}

func TestSourceNodes_IgnoresStreamBackEdges(t *testing.T) {
	f := flow.New("f1", nil)
	a := flow.NewNode("a", "t", nil)
	a.AddPort(flow.NewPort("a:out", "out", "a", flow.DirectionOutput, flow.TypeStream, nil))
	a.AddPort(flow.NewPort("a:in", "in", "a", flow.DirectionInput, flow.TypeStream, nil))
	b := flow.NewNode("b", "t", nil)
	b.AddPort(flow.NewPort("b:in", "in", "b", flow.DirectionInput, flow.TypeStream, nil))
	b.AddPort(flow.NewPort("b:out", "out", "b", flow.DirectionOutput, flow.TypeStream, nil))
	f.AddNode(a)
	f.AddNode(b)

	_, err := f.Connect("e1", "a", "out", "b", "in", nil)
	require.NoError(t, err)
	_, err = f.Connect("e2", "b", "out", "a", "in", nil)
	require.NoError(t, err)

	sources := f.SourceNodes()
	assert.ElementsMatch(t, []string{"a", "b"}, sources)
}
