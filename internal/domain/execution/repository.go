package execution

import "context"

// Repository is the persistence boundary for the Execution aggregate,
// grounded in the teacher's run.Repository shape (Save/FindByID/...),
// narrowed to the operations spec §4.G names plus orphan discovery for
// the worker's crash-recovery sweeper (spec §4.E).
type Repository interface {
	Save(ctx context.Context, e *Execution) error
	FindByID(ctx context.Context, id string) (*Execution, error)
	// ListOrphans returns execution ids whose parent execution no longer
	// exists or is itself terminal-without-children-finalized (spec §4.E).
	ListOrphans(ctx context.Context) ([]string, error)
}
