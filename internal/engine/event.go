// Package engine implements the Execution Engine + Debugger (spec §4.C):
// a bounded-concurrency scheduler over a flow.Flow, a debugger gate state
// machine, and the per-execution totally-ordered event stream. Grounded in
// the teacher's infrastructure/graph/engine.go (plan building, node
// execution, event emission shape), rewritten from its sequential
// queue/BFS loop into a concurrent scheduler per spec §4.C.1.
package engine

// Type is the runtime event type emitted over an execution's lifetime
// (spec §3 Event, §4.C.4 event ordering).
type Type string

const (
	EventFlowSubscribed = Type("FLOW_SUBSCRIBED")
	EventFlowStarted    = Type("FLOW_STARTED")
	EventFlowPaused     = Type("FLOW_PAUSED")
	EventFlowResumed    = Type("FLOW_RESUMED")
	EventFlowCompleted  = Type("FLOW_COMPLETED")
	EventFlowFailed     = Type("FLOW_FAILED")
	EventFlowCancelled  = Type("FLOW_CANCELLED")

	EventNodeStarted       = Type("NODE_STARTED")
	EventNodeCompleted     = Type("NODE_COMPLETED")
	EventNodeFailed        = Type("NODE_FAILED")
	EventNodeSkipped       = Type("NODE_SKIPPED")
	EventNodeStatusChanged = Type("NODE_STATUS_CHANGED")
	EventNodeDebugLog      = Type("NODE_DEBUG_LOG_STRING")

	EventEdgeTransferStarted   = Type("EDGE_TRANSFER_STARTED")
	EventEdgeTransferCompleted = Type("EDGE_TRANSFER_COMPLETED")
	EventEdgeTransferFailed    = Type("EDGE_TRANSFER_FAILED")

	EventDebugBreakpointHit = Type("DEBUG_BREAKPOINT_HIT")
)

// Event is a single entry in an execution's totally-ordered event log
// (spec §3: {executionId, index, type, timestamp, data}).
type Event struct {
	ExecutionID string                 `json:"executionId"`
	Index       int64                  `json:"index"`
	Type        Type                   `json:"type"`
	Timestamp   int64                  `json:"timestamp"` // unix millis
	Data        map[string]interface{} `json:"data,omitempty"`
}

// EventType satisfies internal/pkg/eventbus.Event so the local fan-out bus
// and the message-bus bridge can both dispatch on it.
func (e Event) EventType() string { return string(e.Type) }
