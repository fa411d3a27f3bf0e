package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chaingraph/chaingraph/internal/domain/execution"
	"github.com/chaingraph/chaingraph/internal/domain/flow"
	"github.com/chaingraph/chaingraph/internal/engine"
)

// Store composes ExecutionStore and FlowStore into the single dependency
// internal/worker.Store names (execution.Repository + worker.FlowLoader),
// so cmd/worker can wire one concrete type instead of two.
type Store struct {
	*ExecutionStore
	*FlowStore
}

// New constructs a Store bound to one pool. registry resolves node
// executables when a flow definition is loaded.
func New(pool *pgxpool.Pool, registry *engine.Registry) *Store {
	return newStore(pool, registry)
}

// newStore is the dbPool-accepting constructor pgxmock-backed tests use
// directly; New (the public constructor) narrows the concrete
// *pgxpool.Pool down to it.
func newStore(pool dbPool, registry *engine.Registry) *Store {
	return &Store{
		ExecutionStore: NewExecutionStore(pool),
		FlowStore:      NewFlowStore(pool, registry),
	}
}

var (
	_ execution.Repository = (*Store)(nil)
	_ interface {
		LoadFlow(ctx context.Context, flowID string) (*flow.Flow, error)
	} = (*Store)(nil)
)
