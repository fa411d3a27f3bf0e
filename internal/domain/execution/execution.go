// Package execution holds the Execution aggregate: the durable record of
// one attempt to run a flow (spec §3 Execution). It is event-sourced in
// the teacher's style (internal/domain/run/run.go: recordEvent,
// Events/ClearEvents, Reconstruct/applyEvent), generalized from the
// teacher's fixed Run lifecycle to the status machine in status.go.
package execution

import (
	"time"

	cgerrors "github.com/chaingraph/chaingraph/internal/pkg/errors"
)

// Execution is the aggregate root persisted by the Execution Store (spec
// §4.G). The engine does not hold this type directly; the worker loads it,
// drives status transitions through it, and persists it back.
type Execution struct {
	id                string
	flowID            string
	status            Status
	depth             int
	parentExecutionID string
	breakpoints       map[string]struct{}
	createdAt         time.Time
	updatedAt         time.Time

	events []Event
}

// New starts a brand-new execution in CREATING status and records the
// Created event.
func New(id, flowID, parentExecutionID string, depth int, options map[string]interface{}) *Execution {
	now := time.Now()
	e := &Execution{
		id:                id,
		flowID:            flowID,
		status:            StatusCreating,
		depth:             depth,
		parentExecutionID: parentExecutionID,
		breakpoints:       make(map[string]struct{}),
		createdAt:         now,
		updatedAt:         now,
	}
	e.record(Created{
		baseEvent:         baseEvent{ExecutionID: id, Timestamp: now},
		FlowID:            flowID,
		ParentExecutionID: parentExecutionID,
		Depth:             depth,
		Options:           options,
	})
	return e
}

func (e *Execution) ID() string                { return e.id }
func (e *Execution) FlowID() string            { return e.flowID }
func (e *Execution) Status() Status            { return e.status }
func (e *Execution) Depth() int                { return e.depth }
func (e *Execution) ParentExecutionID() string { return e.parentExecutionID }
func (e *Execution) CreatedAt() time.Time      { return e.createdAt }
func (e *Execution) UpdatedAt() time.Time      { return e.updatedAt }

// Breakpoints returns the set of node ids currently breakpointed.
func (e *Execution) Breakpoints() []string {
	out := make([]string, 0, len(e.breakpoints))
	for id := range e.breakpoints {
		out = append(out, id)
	}
	return out
}

func (e *Execution) HasBreakpoint(nodeID string) bool {
	_, ok := e.breakpoints[nodeID]
	return ok
}

// SetStatus validates and applies a status transition, rejecting illegal
// transitions with StaleTransition (spec §4.G setStatus).
func (e *Execution) SetStatus(to Status) error {
	if !e.status.CanTransitionTo(to) {
		return cgerrors.StaleTransition(e.id, string(e.status), string(to))
	}
	now := time.Now()
	e.record(StatusChanged{
		baseEvent: baseEvent{ExecutionID: e.id, Timestamp: now},
		From:      e.status,
		To:        to,
	})
	return nil
}

// AddBreakpoint/RemoveBreakpoint persist debugger breakpoint state against
// the execution record (spec §4.G).
func (e *Execution) AddBreakpoint(nodeID string) {
	if _, ok := e.breakpoints[nodeID]; ok {
		return
	}
	e.record(BreakpointAdded{
		baseEvent: baseEvent{ExecutionID: e.id, Timestamp: time.Now()},
		NodeID:    nodeID,
	})
}

func (e *Execution) RemoveBreakpoint(nodeID string) {
	if _, ok := e.breakpoints[nodeID]; !ok {
		return
	}
	e.record(BreakpointRemoved{
		baseEvent: baseEvent{ExecutionID: e.id, Timestamp: time.Now()},
		NodeID:    nodeID,
	})
}

// Events returns recorded-but-unpersisted domain events.
func (e *Execution) Events() []Event { return e.events }

// ClearEvents discards recorded events after the repository persists them.
func (e *Execution) ClearEvents() { e.events = nil }

func (e *Execution) record(ev Event) {
	e.events = append(e.events, ev)
	e.apply(ev)
}

func (e *Execution) apply(ev Event) {
	switch evt := ev.(type) {
	case Created:
		e.flowID = evt.FlowID
		e.parentExecutionID = evt.ParentExecutionID
		e.depth = evt.Depth
		e.status = StatusCreating
		e.updatedAt = evt.Timestamp
	case StatusChanged:
		e.status = evt.To
		e.updatedAt = evt.Timestamp
	case BreakpointAdded:
		e.breakpoints[evt.NodeID] = struct{}{}
		e.updatedAt = evt.Timestamp
	case BreakpointRemoved:
		delete(e.breakpoints, evt.NodeID)
		e.updatedAt = evt.Timestamp
	}
}

// Reconstruct rebuilds an Execution from its full event history, the
// event-sourcing load path (teacher's run.Reconstruct).
func Reconstruct(id string, history []Event) *Execution {
	e := &Execution{id: id, breakpoints: make(map[string]struct{})}
	for _, ev := range history {
		e.apply(ev)
	}
	return e
}

// Snapshot is the flattened projection used by read-path queries and by
// the store's row representation (spec §4.G), mirroring the teacher's
// RunData/ReconstructFromData pattern.
type Snapshot struct {
	ID                string
	FlowID            string
	Status            Status
	Depth             int
	ParentExecutionID string
	Breakpoints       []string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ToSnapshot projects the current state without the event log.
func (e *Execution) ToSnapshot() Snapshot {
	return Snapshot{
		ID:                e.id,
		FlowID:            e.flowID,
		Status:            e.status,
		Depth:             e.depth,
		ParentExecutionID: e.parentExecutionID,
		Breakpoints:       e.Breakpoints(),
		CreatedAt:         e.createdAt,
		UpdatedAt:         e.updatedAt,
	}
}

// FromSnapshot reconstructs an Execution from a flattened projection
// without replaying events (used when loading from the store's current
// row rather than its event log).
func FromSnapshot(s Snapshot) *Execution {
	e := &Execution{
		id:                s.ID,
		flowID:            s.FlowID,
		status:            s.Status,
		depth:             s.Depth,
		parentExecutionID: s.ParentExecutionID,
		breakpoints:       make(map[string]struct{}, len(s.Breakpoints)),
		createdAt:         s.CreatedAt,
		updatedAt:         s.UpdatedAt,
	}
	for _, id := range s.Breakpoints {
		e.breakpoints[id] = struct{}{}
	}
	return e
}
