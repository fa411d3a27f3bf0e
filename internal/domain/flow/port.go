package flow

import (
	"sync"
	"sync/atomic"

	"github.com/chaingraph/chaingraph/internal/pkg/stream"
)

// Direction is the I/O direction of a port.
type Direction string

const (
	DirectionInput       Direction = "input"
	DirectionOutput      Direction = "output"
	DirectionPassthrough Direction = "passthrough"
)

// Type is the declared data type of a port.
type Type string

const (
	TypeString  Type = "string"
	TypeNumber  Type = "number"
	TypeBoolean Type = "boolean"
	TypeObject  Type = "object"
	TypeArray   Type = "array"
	TypeEnum    Type = "enum"
	TypeStream  Type = "stream"
	TypeAny     Type = "any"
	TypeSecret  Type = "secret"
)

// AnyBinding is the tagged-variant state of an `any` port (spec §4.A.2,
// §9 redesign note): either Unbound, or Resolved to a concrete kind and
// schema. There is no third "null" state — binding is all-or-nothing.
type AnyBinding struct {
	Bound  bool
	Kind   Type
	Schema map[string]interface{}
}

// Unbound is the zero AnyBinding.
var Unbound = AnyBinding{}

// Resolved constructs a bound AnyBinding.
func Resolved(kind Type, schema map[string]interface{}) AnyBinding {
	return AnyBinding{Bound: true, Kind: kind, Schema: schema}
}

// Port is a typed I/O point on a node.
type Port struct {
	ID        string
	Key       string
	NodeID    string
	ParentID  string // empty when this is not a child port
	Direction Direction
	Type      Type
	Config    map[string]interface{} // schema: item configs, property map, enum options, any underlying type

	// Any holds the tagged-variant binding state; non-nil only when Type == TypeAny.
	Any *AnyBinding

	// Stream backs a TypeStream port; lazily created on first use.
	stream *stream.MultiChannel[interface{}]

	mu          sync.Mutex
	value       interface{}
	version     int64
	connections map[string]struct{} // edge ids
}

// NewPort constructs a port. Stream ports get their MultiChannel lazily via
// Stream(); Any ports start Unbound.
func NewPort(id, key, nodeID string, dir Direction, typ Type, config map[string]interface{}) *Port {
	p := &Port{
		ID:          id,
		Key:         key,
		NodeID:      nodeID,
		Direction:   dir,
		Type:        typ,
		Config:      config,
		connections: make(map[string]struct{}),
	}
	if typ == TypeAny {
		b := Unbound
		p.Any = &b
	}
	return p
}

// Version returns the current monotone version, bumped on every write.
func (p *Port) Version() int64 {
	return atomic.LoadInt64(&p.version)
}

// Value returns the current value under the port's write lock.
func (p *Port) Value() interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value
}

// setValue writes value and bumps version. Object/array ports are expected
// to have already been deep-merged by the caller (flow.SetValue); this is
// the low-level, always-overwrite primitive.
func (p *Port) setValue(value interface{}) {
	p.mu.Lock()
	p.value = value
	p.mu.Unlock()
	atomic.AddInt64(&p.version, 1)
}

// addConnection records an incoming/outgoing edge id on this port.
func (p *Port) addConnection(edgeID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connections[edgeID] = struct{}{}
}

func (p *Port) removeConnection(edgeID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.connections, edgeID)
}

// ConnectionCount returns the number of edges currently attached.
func (p *Port) ConnectionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.connections)
}

// Stream returns this port's MultiChannel, creating it on first access.
// Only meaningful for TypeStream ports.
func (p *Port) Stream() *stream.MultiChannel[interface{}] {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream == nil {
		p.stream = stream.NewMultiChannel[interface{}](256, 1024)
	}
	return p.stream
}

// bindAny atomically resolves an Unbound any port to kind/schema. It is a
// no-op (returns false) if already bound to the same kind.
func (p *Port) bindAny(kind Type, schema map[string]interface{}) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Any == nil {
		b := Unbound
		p.Any = &b
	}
	if p.Any.Bound && p.Any.Kind == kind {
		return false
	}
	*p.Any = Resolved(kind, schema)
	return true
}

// unbindAny clears a previously resolved any port (on disconnection).
func (p *Port) unbindAny() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Any == nil || !p.Any.Bound {
		return false
	}
	*p.Any = Unbound
	return true
}

// effectiveType returns the port's resolved type for compatibility checks:
// for an any port this is the bound Kind (or TypeAny while unbound).
func (p *Port) effectiveType() Type {
	if p.Type == TypeAny && p.Any != nil && p.Any.Bound {
		return p.Any.Kind
	}
	return p.Type
}

// AllowsMultipleIncoming reports whether this port's type permits more than
// one incoming edge (stream ports merge multiple producers; object/array
// ports may be populated by multiple partial writers).
func (p *Port) AllowsMultipleIncoming() bool {
	switch p.Type {
	case TypeStream, TypeObject, TypeArray:
		return true
	default:
		return false
	}
}
