package worker

import (
	"context"

	"github.com/chaingraph/chaingraph/internal/domain/execution"
	"github.com/chaingraph/chaingraph/internal/domain/flow"
)

// FlowLoader is the slice of the Execution Store contract (spec §4.G)
// the worker needs beyond execution.Repository: loading the flow
// snapshot a task references.
type FlowLoader interface {
	LoadFlow(ctx context.Context, flowID string) (*flow.Flow, error)
}

// Store is everything a Worker depends on from the Execution Store
// (spec §4.G): execution record CRUD plus flow snapshot loading.
type Store interface {
	execution.Repository
	FlowLoader
}
