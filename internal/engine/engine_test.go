package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaingraph/chaingraph/internal/domain/flow"
	"github.com/chaingraph/chaingraph/internal/engine"
	"github.com/chaingraph/chaingraph/internal/pkg/eventbus"
)

type collector struct {
	mu     sync.Mutex
	events []engine.Event
}

func (c *collector) handler(e eventbus.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ev, ok := e.(engine.Event); ok {
		c.events = append(c.events, ev)
	}
}

func (c *collector) types() []engine.Type {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]engine.Type, len(c.events))
	for i, e := range c.events {
		out[i] = e.Type
	}
	return out
}

func newRegistry() *engine.Registry {
	r := engine.NewRegistry()
	engine.RegisterBuiltins(r)
	return r
}

func buildLinearAddFlow(t *testing.T, r *engine.Registry) (*flow.Flow, *flow.Node, *flow.Node) {
	t.Helper()
	f := flow.New("flow-linear", nil)
	a, err := r.NewNode("A", "add", nil)
	require.NoError(t, err)
	b, err := r.NewNode("B", "add", nil)
	require.NoError(t, err)
	f.AddNode(a)
	f.AddNode(b)
	require.NoError(t, f.SetValue(a.Ports["a"], 5.0))
	require.NoError(t, f.SetValue(a.Ports["b"], 10.0))
	require.NoError(t, f.SetValue(b.Ports["b"], 20.0))
	_, err = f.Connect("e-ab", "A", "sum", "B", "a", nil)
	require.NoError(t, err)
	return f, a, b
}

func TestLinearAdd(t *testing.T) {
	r := newRegistry()
	f, a, b := buildLinearAddFlow(t, r)

	bus := eventbus.New(64)
	col := &collector{}
	bus.OnAll(col.handler)

	ectx := engine.NewExecutionContext(context.Background(), "exec-1", nil, bus, nil)
	dbg := engine.NewDebugger(false, nil)
	eng := engine.New(f, ectx, dbg, engine.Options{MaxConcurrency: 2, NodeTimeoutMs: 2000, FlowTimeoutMs: 5000})

	err := eng.Execute(context.Background())
	bus.Close()
	require.NoError(t, err)

	assert.Equal(t, 15.0, a.Ports["sum"].Value())
	assert.Equal(t, 35.0, b.Ports["sum"].Value())

	types := col.types()
	require.Contains(t, types, engine.EventFlowStarted)
	require.Contains(t, types, engine.EventFlowCompleted)
	assert.Equal(t, engine.EventFlowStarted, types[0])
	assert.Equal(t, engine.EventFlowCompleted, types[len(types)-1])

	// NODE_STARTED(A) precedes NODE_COMPLETED(A) precedes NODE_STARTED(B).
	idxStartedA := indexOfNodeEvent(col.events, engine.EventNodeStarted, "A")
	idxCompletedA := indexOfNodeEvent(col.events, engine.EventNodeCompleted, "A")
	idxStartedB := indexOfNodeEvent(col.events, engine.EventNodeStarted, "B")
	require.True(t, idxStartedA >= 0 && idxCompletedA >= 0 && idxStartedB >= 0)
	assert.Less(t, idxStartedA, idxCompletedA)
	assert.Less(t, idxCompletedA, idxStartedB)
}

func indexOfNodeEvent(events []engine.Event, typ engine.Type, nodeID string) int {
	for i, e := range events {
		if e.Type != typ {
			continue
		}
		if id, ok := e.Data["nodeId"]; ok && id == nodeID {
			return i
		}
	}
	return -1
}

func TestEventIndexesAreGaplessAndOrdered(t *testing.T) {
	r := newRegistry()
	f, _, _ := buildLinearAddFlow(t, r)

	bus := eventbus.New(64)
	col := &collector{}
	bus.OnAll(col.handler)

	ectx := engine.NewExecutionContext(context.Background(), "exec-2", nil, bus, nil)
	dbg := engine.NewDebugger(false, nil)
	eng := engine.New(f, ectx, dbg, engine.Options{MaxConcurrency: 2})
	require.NoError(t, eng.Execute(context.Background()))
	bus.Close()

	for i, e := range col.events {
		assert.Equal(t, int64(i), e.Index)
	}
}

func TestExactlyOneTerminalEvent(t *testing.T) {
	r := newRegistry()
	f, _, _ := buildLinearAddFlow(t, r)

	bus := eventbus.New(64)
	col := &collector{}
	bus.OnAll(col.handler)

	ectx := engine.NewExecutionContext(context.Background(), "exec-3", nil, bus, nil)
	dbg := engine.NewDebugger(false, nil)
	eng := engine.New(f, ectx, dbg, engine.Options{MaxConcurrency: 2})
	require.NoError(t, eng.Execute(context.Background()))
	bus.Close()

	terminal := 0
	for _, e := range col.events {
		switch e.Type {
		case engine.EventFlowCompleted, engine.EventFlowFailed, engine.EventFlowCancelled:
			terminal++
		}
	}
	assert.Equal(t, 1, terminal)
}

func TestBreakpointHitThenContinue(t *testing.T) {
	r := newRegistry()
	f := flow.New("flow-bp", nil)
	src1, err := r.NewNode("source1", "add", nil)
	require.NoError(t, err)
	src2, err := r.NewNode("source2", "add", nil)
	require.NoError(t, err)
	final, err := r.NewNode("final", "add", nil)
	require.NoError(t, err)
	f.AddNode(src1)
	f.AddNode(src2)
	f.AddNode(final)
	require.NoError(t, f.SetValue(src1.Ports["a"], 5.0))
	require.NoError(t, f.SetValue(src1.Ports["b"], 10.0))
	require.NoError(t, f.SetValue(src2.Ports["a"], 20.0))
	require.NoError(t, f.SetValue(src2.Ports["b"], 15.0))
	_, err = f.Connect("e1", "source1", "sum", "final", "a", nil)
	require.NoError(t, err)
	_, err = f.Connect("e2", "source2", "sum", "final", "b", nil)
	require.NoError(t, err)

	bus := eventbus.New(64)
	col := &collector{}
	bus.OnAll(col.handler)

	ectx := engine.NewExecutionContext(context.Background(), "exec-bp", nil, bus, nil)

	var hits int
	var mu sync.Mutex
	dbg := engine.NewDebugger(false, func(nodeID string) {
		mu.Lock()
		hits++
		mu.Unlock()
		ectx.SendEvent(engine.Event{Type: engine.EventDebugBreakpointHit, Data: map[string]interface{}{"nodeId": nodeID}})
	})
	dbg.AddBreakpoint("source1")

	eng := engine.New(f, ectx, dbg, engine.Options{MaxConcurrency: 2, FlowTimeoutMs: 5000})

	done := make(chan error, 1)
	go func() { done <- eng.Execute(context.Background()) }()

	require.Eventually(t, func() bool {
		return dbg.State() == engine.DebugPausedGate
	}, time.Second, 5*time.Millisecond)

	dbg.Continue()
	err = <-done
	bus.Close()
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, hits)

	types := col.types()
	assert.Contains(t, types, engine.EventDebugBreakpointHit)
}

func TestStopBeforeExecute(t *testing.T) {
	r := newRegistry()
	f, _, _ := buildLinearAddFlow(t, r)

	bus := eventbus.New(64)
	col := &collector{}
	bus.OnAll(col.handler)

	dbg := engine.NewDebugger(false, nil)
	dbg.Stop()

	ectx := engine.NewExecutionContext(context.Background(), "exec-stop", nil, bus, nil)
	eng := engine.New(f, ectx, dbg, engine.Options{MaxConcurrency: 2})
	err := eng.Execute(context.Background())
	bus.Close()
	require.Error(t, err)

	types := col.types()
	assert.Contains(t, types, engine.EventFlowStarted)
	assert.Contains(t, types, engine.EventFlowCancelled)
	assert.NotContains(t, types, engine.EventNodeStarted)
}

func TestStepThrough(t *testing.T) {
	r := newRegistry()
	f := flow.New("flow-step", nil)
	source, err := r.NewNode("source", "add", nil)
	require.NoError(t, err)
	final, err := r.NewNode("final", "add", nil)
	require.NoError(t, err)
	f.AddNode(source)
	f.AddNode(final)
	require.NoError(t, f.SetValue(source.Ports["a"], 1.0))
	require.NoError(t, f.SetValue(source.Ports["b"], 2.0))
	require.NoError(t, f.SetValue(final.Ports["b"], 100.0))
	_, err = f.Connect("e1", "source", "sum", "final", "a", nil)
	require.NoError(t, err)

	bus := eventbus.New(64)
	col := &collector{}
	bus.OnAll(col.handler)

	dbg := engine.NewDebugger(true, nil) // starts paused
	ectx := engine.NewExecutionContext(context.Background(), "exec-step", nil, bus, nil)
	eng := engine.New(f, ectx, dbg, engine.Options{MaxConcurrency: 1, FlowTimeoutMs: 5000})

	done := make(chan error, 1)
	go func() { done <- eng.Execute(context.Background()) }()

	// release "source"
	require.Eventually(t, func() bool { return dbg.State() == engine.DebugPausedGate }, time.Second, 5*time.Millisecond)
	dbg.Step()
	// release "final"
	require.Eventually(t, func() bool { return dbg.State() == engine.DebugPausedGate }, time.Second, 5*time.Millisecond)
	dbg.Step()

	err = <-done
	bus.Close()
	require.NoError(t, err)

	types := col.types()
	startedSrc := indexOfNodeEvent(col.events, engine.EventNodeStarted, "source")
	completedSrc := indexOfNodeEvent(col.events, engine.EventNodeCompleted, "source")
	startedFinal := indexOfNodeEvent(col.events, engine.EventNodeStarted, "final")
	completedFinal := indexOfNodeEvent(col.events, engine.EventNodeCompleted, "final")
	require.True(t, startedSrc >= 0 && completedSrc >= 0 && startedFinal >= 0 && completedFinal >= 0)
	assert.True(t, startedSrc < completedSrc && completedSrc < startedFinal && startedFinal < completedFinal)
	assert.Contains(t, types, engine.EventFlowCompleted)
}
