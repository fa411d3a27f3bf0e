package engine

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/chaingraph/chaingraph/internal/domain/flow"
	cgerrors "github.com/chaingraph/chaingraph/internal/pkg/errors"
	"github.com/chaingraph/chaingraph/internal/tracing"
)

var tracer = tracing.Tracer("chaingraph/engine")

// Options bounds a single execution (spec §4.C, §6 task options).
type Options struct {
	MaxConcurrency int
	NodeTimeoutMs  int
	FlowTimeoutMs  int
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = 8
	}
	return o
}

// Engine schedules one flow execution: traversal, bounded-concurrency
// node dispatch, port-value transfer, and the debugger gate. Grounded in
// the teacher's infrastructure/graph/engine.go, whose sequential
// queue/BFS executePlan is replaced here by a concurrent scheduler over a
// remaining-dependency count per node, matching spec §4.C.1.
type Engine struct {
	flow      *flow.Flow
	ectx      *ExecutionContext
	debugger  *Debugger
	options   Options
	started   atomic.Bool

	bgWG sync.WaitGroup
}

// New constructs an Engine for one execution attempt over flw, driven by
// ectx (cancellation, event emission) and gated by debugger.
func New(flw *flow.Flow, ectx *ExecutionContext, debugger *Debugger, options Options) *Engine {
	return &Engine{
		flow:     flw,
		ectx:     ectx,
		debugger: debugger,
		options:  options.withDefaults(),
	}
}

type nodeOutcome struct {
	nodeID  string
	skipped bool
	err     error
	durMs   int64
}

// Execute runs the scheduling algorithm in spec §4.C.1 to a terminal
// status, blocking until complete. Not re-entrant.
func (e *Engine) Execute(parentCtx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return cgerrors.InvalidState("running", "execute")
	}

	ctx := e.ectx.Context()
	var flowCtx context.Context
	var flowCancel context.CancelFunc
	if e.options.FlowTimeoutMs > 0 {
		flowCtx, flowCancel = context.WithTimeout(ctx, time.Duration(e.options.FlowTimeoutMs)*time.Millisecond)
	} else {
		flowCtx, flowCancel = context.WithCancel(ctx)
	}
	defer flowCancel()

	e.ectx.SendEvent(Event{Type: EventFlowStarted})

	outgoing, indegree := e.flow.NonStreamGraph()
	totalDeps := make(map[string]int, len(indegree))
	remaining := make(map[string]int, len(indegree))
	skippedDeps := make(map[string]int, len(indegree))
	for id, d := range indegree {
		totalDeps[id] = d
		remaining[id] = d
	}

	var ready []string
	for id, d := range indegree {
		if d == 0 {
			ready = append(ready, id)
		}
	}

	runningCount := 0
	doneCh := make(chan nodeOutcome)
	var terminalErr error
	var flowTimedOut bool

	advance := func(nodeID string, wasSkipped bool) {
		for _, edge := range outgoing[nodeID] {
			target := edge.TargetNodeID
			remaining[target]--
			if wasSkipped {
				skippedDeps[target]++
			}
			if remaining[target] == 0 {
				ready = append(ready, target)
			}
		}
	}

	dispatchOne := func(nodeID string) {
		node := e.flow.Nodes[nodeID]
		if totalDeps[nodeID] > 0 && skippedDeps[nodeID] == totalDeps[nodeID] && !node.RunsOnAnyInput {
			e.ectx.SendEvent(Event{Type: EventNodeSkipped, Data: map[string]interface{}{"nodeId": nodeID, "reason": "all inputs skipped"}})
			advance(nodeID, true)
			return
		}
		runningCount++
		go e.runNode(flowCtx, nodeID, outgoing, doneCh)
	}

	for {
		if terminalErr == nil && flowCtx.Err() != nil {
			if flowCtx.Err() == context.DeadlineExceeded {
				terminalErr = cgerrors.FlowTimeout(e.ectx.ExecutionID, e.options.FlowTimeoutMs)
				flowTimedOut = true
			} else {
				terminalErr = cgerrors.Aborted(e.ectx.ExecutionID, "cancelled")
			}
		}

		if terminalErr == nil && e.debugger.State() == DebugStopped {
			// Stopped before any node was ever popped: the scheduler must
			// not dispatch (and therefore never emit NODE_STARTED) for a
			// debugger that was already stopped when Execute began.
			terminalErr = cgerrors.Aborted(e.ectx.ExecutionID, "stopped by debugger")
		}

		if terminalErr == nil {
			sort.Strings(ready)
			for len(ready) > 0 && runningCount < e.options.MaxConcurrency {
				nodeID := ready[0]
				ready = ready[1:]
				dispatchOne(nodeID)
			}
		}

		if runningCount == 0 && (len(ready) == 0 || terminalErr != nil) {
			break
		}

		select {
		case outcome := <-doneCh:
			runningCount--
			if outcome.err != nil && terminalErr == nil {
				terminalErr = outcome.err
			}
			advance(outcome.nodeID, outcome.skipped)
		case <-flowCtx.Done():
			// loop back around; the top-of-loop check converts this into
			// terminalErr and stops new dispatch, but running nodes still
			// report back through doneCh.
			if runningCount > 0 {
				outcome := <-doneCh
				runningCount--
				advance(outcome.nodeID, outcome.skipped)
			}
		}
	}

	e.bgWG.Wait()

	switch {
	case terminalErr != nil && isAborted(terminalErr) && !flowTimedOut:
		e.ectx.SendEvent(Event{Type: EventFlowCancelled, Data: map[string]interface{}{"reason": terminalErr.Error()}})
		return terminalErr
	case terminalErr != nil:
		e.ectx.SendEvent(Event{Type: EventFlowFailed, Data: map[string]interface{}{"reason": terminalErr.Error()}})
		return terminalErr
	default:
		e.ectx.SendEvent(Event{Type: EventFlowCompleted})
		return nil
	}
}

func isAborted(err error) bool {
	return cgerrors.Is(err, cgerrors.ErrAborted)
}

func (e *Engine) runNode(ctx context.Context, nodeID string, outgoing map[string][]*flow.Edge, doneCh chan<- nodeOutcome) {
	node := e.flow.Nodes[nodeID]
	start := time.Now()

	ctx, span := tracer.Start(ctx, "node.execute",
		trace.WithAttributes(
			attribute.String("chaingraph.execution_id", e.ectx.ExecutionID),
			attribute.String("chaingraph.node_id", nodeID),
			attribute.String("chaingraph.node_type", node.Type),
		),
	)
	defer span.End()

	e.ectx.SendEvent(Event{Type: EventNodeStarted, Data: map[string]interface{}{"nodeId": nodeID, "nodeType": node.Type, "nodeVersion": node.Executable.GetVersion()}})

	if err := e.debugger.Gate(ctx, e.ectx.ExecutionID, nodeID); err != nil {
		doneCh <- nodeOutcome{nodeID: nodeID, err: err}
		return
	}

	if err := node.Executable.Initialize(ctx, node); err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		e.ectx.SendEvent(Event{Type: EventNodeFailed, Data: map[string]interface{}{"nodeId": nodeID, "error": err.Error()}})
		doneCh <- nodeOutcome{nodeID: nodeID, err: cgerrors.NodeExecutionError(nodeID, err)}
		return
	}

	nodeCtx := ctx
	var nodeCancel context.CancelFunc
	if e.options.NodeTimeoutMs > 0 {
		nodeCtx, nodeCancel = context.WithTimeout(ctx, time.Duration(e.options.NodeTimeoutMs)*time.Millisecond)
		defer nodeCancel()
	}

	inputs := make(map[string]interface{}, len(node.Ports))
	for _, p := range node.InputPorts() {
		if p.Type == flow.TypeStream {
			inputs[p.Key] = p.Stream()
		} else {
			inputs[p.Key] = p.Value()
		}
	}

	result, err := node.Executable.Execute(nodeCtx, node, inputs)
	if err == nil && nodeCtx.Err() == context.DeadlineExceeded {
		err = cgerrors.NodeTimeout(nodeID, e.options.NodeTimeoutMs)
	}

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		e.ectx.SendEvent(Event{Type: EventNodeFailed, Data: map[string]interface{}{"nodeId": nodeID, "error": err.Error()}})
		if !node.Recoverable {
			doneCh <- nodeOutcome{nodeID: nodeID, err: cgerrors.NodeExecutionError(nodeID, err)}
			return
		}
		doneCh <- nodeOutcome{nodeID: nodeID, skipped: true}
		return
	}

	for key, val := range result.Outputs {
		if p, ok := node.Ports[key]; ok {
			_ = e.flow.SetValue(p, val)
		}
	}

	for _, edge := range outgoing[nodeID] {
		e.ectx.SendEvent(Event{Type: EventEdgeTransferStarted, Data: map[string]interface{}{"edgeId": edge.ID}})
		srcPort, _ := e.portByID(edge.SourceNodeID, edge.SourcePortID)
		var srcVal interface{}
		if srcPort != nil {
			srcVal = srcPort.Value()
		}
		if err := e.flow.Propagate(ctx, edge, srcVal); err != nil {
			e.ectx.SendEvent(Event{Type: EventEdgeTransferFailed, Data: map[string]interface{}{"edgeId": edge.ID, "error": err.Error()}})
		} else {
			e.ectx.SendEvent(Event{Type: EventEdgeTransferCompleted, Data: map[string]interface{}{"edgeId": edge.ID}})
		}
	}

	for _, action := range result.BackgroundActions {
		e.bgWG.Add(1)
		go func(a flow.BackgroundAction) {
			defer e.bgWG.Done()
			if err := a.Run(ctx); err != nil {
				e.ectx.SendEvent(Event{Type: EventNodeDebugLog, Data: map[string]interface{}{"nodeId": nodeID, "action": a.Name, "error": err.Error()}})
			}
		}(action)
	}

	durMs := time.Since(start).Milliseconds()
	e.ectx.SendEvent(Event{Type: EventNodeCompleted, Data: map[string]interface{}{"nodeId": nodeID, "nodeType": node.Type, "executionTimeMs": durMs}})
	doneCh <- nodeOutcome{nodeID: nodeID, durMs: durMs}
}

func (e *Engine) portByID(nodeID, portID string) (*flow.Port, bool) {
	n, ok := e.flow.Nodes[nodeID]
	if !ok {
		return nil, false
	}
	for _, p := range n.Ports {
		if p.ID == portID {
			return p, true
		}
	}
	return nil, false
}
