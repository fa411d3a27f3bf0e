package engine

import (
	"context"
	"sync"

	cgerrors "github.com/chaingraph/chaingraph/internal/pkg/errors"
)

// DebugState is one of the four debugger states (spec §4.C.2).
type DebugState string

const (
	DebugRunning    DebugState = "Running"
	DebugPausedGate DebugState = "PausedGate"
	DebugStepping   DebugState = "Stepping"
	DebugStopped    DebugState = "Stopped"
)

// BreakpointHitFunc is called synchronously, under the debugger's lock,
// when a node reached while Running hits a configured breakpoint. It
// should emit DEBUG_BREAKPOINT_HIT and return quickly (it runs before the
// state is published, not as a background task).
type BreakpointHitFunc func(nodeID string)

// Debugger is the scheduler's shared gate, implementing the state machine
// in spec §4.C.2. The scheduler calls Gate before invoking each node's
// execute.
type Debugger struct {
	mu          sync.Mutex
	cond        *sync.Cond
	state       DebugState
	breakpoints map[string]struct{}
	onHit       BreakpointHitFunc
}

// NewDebugger constructs a Debugger starting in Running state, unless
// startPaused is set (used for the step-through / stop-before-start
// scenarios in spec §8).
func NewDebugger(startPaused bool, onHit BreakpointHitFunc) *Debugger {
	d := &Debugger{
		state:       DebugRunning,
		breakpoints: make(map[string]struct{}),
		onHit:       onHit,
	}
	d.cond = sync.NewCond(&d.mu)
	if startPaused {
		d.state = DebugPausedGate
	}
	return d
}

func (d *Debugger) State() DebugState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Debugger) AddBreakpoint(nodeID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.breakpoints[nodeID] = struct{}{}
}

func (d *Debugger) RemoveBreakpoint(nodeID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.breakpoints, nodeID)
}

func (d *Debugger) HasBreakpoint(nodeID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.breakpoints[nodeID]
	return ok
}

// Pause transitions Running → PausedGate.
func (d *Debugger) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == DebugRunning {
		d.state = DebugPausedGate
		d.cond.Broadcast()
	}
}

// Continue transitions PausedGate|Stepping → Running.
func (d *Debugger) Continue() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == DebugPausedGate || d.state == DebugStepping {
		d.state = DebugRunning
		d.cond.Broadcast()
	}
}

// Step releases exactly one gated node, then re-engages PausedGate (spec
// §4.C.2: "release one node then → PausedGate").
func (d *Debugger) Step() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == DebugPausedGate {
		d.state = DebugStepping
		d.cond.Broadcast()
	}
}

// Stop transitions any state to Stopped; the engine raises Aborted at the
// next gate call.
func (d *Debugger) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = DebugStopped
	d.cond.Broadcast()
}

// Gate blocks until the controller allows nodeID to proceed, or returns
// Aborted if stopped or ctx is cancelled (spec §4.C.2/§4.C.3: cancellation
// short-circuits the gate).
func (d *Debugger) Gate(ctx context.Context, executionID, nodeID string) error {
	stop := d.wakeOnDone(ctx)
	defer stop()

	d.mu.Lock()
	defer d.mu.Unlock()

	for {
		if ctx.Err() != nil {
			return cgerrors.Aborted(executionID, "cancelled")
		}
		switch d.state {
		case DebugStopped:
			return cgerrors.Aborted(executionID, "stopped by debugger")
		case DebugRunning:
			if _, hit := d.breakpoints[nodeID]; hit {
				d.state = DebugPausedGate
				if d.onHit != nil {
					d.onHit(nodeID)
				}
				continue
			}
			return nil
		case DebugStepping:
			d.state = DebugPausedGate
			return nil
		case DebugPausedGate:
			if ctx.Err() != nil {
				return cgerrors.Aborted(executionID, "cancelled")
			}
			d.cond.Wait()
		}
	}
}

func (d *Debugger) wakeOnDone(ctx context.Context) (stop func()) {
	if ctx.Done() == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			d.mu.Lock()
			d.cond.Broadcast()
			d.mu.Unlock()
		case <-done:
		}
	}()
	return func() { close(done) }
}
