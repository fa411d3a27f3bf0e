package execution

import "time"

// Event is the interface every recorded execution aggregate event
// satisfies. This is distinct from the runtime Event the engine streams
// per spec §3/§4.C.4 (internal/engine.Event) — these are the
// event-sourcing events behind the Execution aggregate itself (created,
// status changed, breakpoints), grounded in the teacher's
// run.Reconstruct/applyEvent pattern.
type Event interface {
	EventType() string
	AggregateID() string
	OccurredAt() time.Time
}

type baseEvent struct {
	ExecutionID string    `json:"executionId"`
	Timestamp   time.Time `json:"timestamp"`
}

func (e baseEvent) AggregateID() string   { return e.ExecutionID }
func (e baseEvent) OccurredAt() time.Time { return e.Timestamp }

// Created is recorded when an execution record is first written (spec
// §4.G createExecution).
type Created struct {
	baseEvent
	FlowID            string                 `json:"flowId"`
	ParentExecutionID string                 `json:"parentExecutionId,omitempty"`
	Depth             int                    `json:"depth"`
	Options           map[string]interface{} `json:"options,omitempty"`
}

func (Created) EventType() string { return "execution.created" }

// StatusChanged is recorded on every accepted setStatus call.
type StatusChanged struct {
	baseEvent
	From Status `json:"from"`
	To   Status `json:"to"`
}

func (StatusChanged) EventType() string { return "execution.status_changed" }

// BreakpointAdded/Removed record debugger breakpoint bookkeeping
// persisted against the execution (spec §4.G).
type BreakpointAdded struct {
	baseEvent
	NodeID string `json:"nodeId"`
}

func (BreakpointAdded) EventType() string { return "execution.breakpoint_added" }

type BreakpointRemoved struct {
	baseEvent
	NodeID string `json:"nodeId"`
}

func (BreakpointRemoved) EventType() string { return "execution.breakpoint_removed" }
