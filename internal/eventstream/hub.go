package eventstream

import (
	"sync"

	"github.com/chaingraph/chaingraph/internal/bus"
	"github.com/chaingraph/chaingraph/internal/engine"
)

// Hub is the subscriber registry spec §5 requires: "a map guarded by a
// reader-writer lock." Grounded on the teacher's
// domain/worker.Registry{mu sync.RWMutex, workers map[string]*Worker},
// here keyed by execution id (fan-out target) and by connection
// (cleanup on disconnect) instead of by worker id.
type Hub struct {
	mu            sync.RWMutex
	byExecution   map[string]map[*connection]struct{}
	subscriptions map[*connection]map[string]struct{}
}

// NewHub constructs an empty registry.
func NewHub() *Hub {
	return &Hub{
		byExecution:   make(map[string]map[*connection]struct{}),
		subscriptions: make(map[*connection]map[string]struct{}),
	}
}

func (h *Hub) subscribe(c *connection, executionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.byExecution[executionID] == nil {
		h.byExecution[executionID] = make(map[*connection]struct{})
	}
	h.byExecution[executionID][c] = struct{}{}
	if h.subscriptions[c] == nil {
		h.subscriptions[c] = make(map[string]struct{})
	}
	h.subscriptions[c][executionID] = struct{}{}
}

func (h *Hub) unsubscribe(c *connection, executionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c, executionID)
}

func (h *Hub) removeLocked(c *connection, executionID string) {
	if subs, ok := h.byExecution[executionID]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.byExecution, executionID)
		}
	}
	if execs, ok := h.subscriptions[c]; ok {
		delete(execs, executionID)
		if len(execs) == 0 {
			delete(h.subscriptions, c)
		}
	}
}

// removeConn drops every subscription a connection holds, on close or
// read error.
func (h *Hub) removeConn(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for executionID := range h.subscriptions[c] {
		if subs, ok := h.byExecution[executionID]; ok {
			delete(subs, c)
			if len(subs) == 0 {
				delete(h.byExecution, executionID)
			}
		}
	}
	delete(h.subscriptions, c)
}

// broadcast looks up the subscriber set for one execution and writes the
// frame to each open connection in parallel (spec §4.F); a connection
// whose buffer is already full is the slow-consumer case and gets
// dropped with an error frame and a close, not a blocked fan-out.
func (h *Hub) broadcast(env bus.EventEnvelope) {
	h.mu.RLock()
	subs := h.byExecution[env.ExecutionID]
	conns := make([]*connection, 0, len(subs))
	for c := range subs {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	if len(conns) == 0 {
		return
	}

	msg := ServerMessage{
		Type:        ServerEvent,
		ExecutionID: env.ExecutionID,
		Event: &engine.Event{
			ExecutionID: env.ExecutionID,
			Index:       env.Event.Index,
			Type:        engine.Type(env.Event.Type),
			Timestamp:   env.Event.Timestamp,
			Data:        env.Event.Data,
		},
	}

	var wg sync.WaitGroup
	for _, c := range conns {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !c.enqueue(msg) {
				h.removeConn(c)
				c.closeWithError(ServerMessage{Type: ServerError, ExecutionID: env.ExecutionID, Error: "slow consumer"})
			}
		}()
	}
	wg.Wait()
}
