package store

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/chaingraph/chaingraph/internal/domain/execution"
	cgerrors "github.com/chaingraph/chaingraph/internal/pkg/errors"
)

// ExecutionStore implements execution.Repository (spec §4.G
// createExecution/setStatus/appendBreakpoint/removeBreakpoint, all folded
// into Save/FindByID since those are all just status transitions or
// breakpoint edits recorded on the aggregate; listOrphans is ListOrphans).
// Grounded on the teacher's run_repository.go: a CRUD projection table
// gives single-row reads/updates (spec §4.G: "the Engine does not
// assume transactional semantics beyond single-row status updates"),
// with the full event history appended to the same per-aggregate log
// every other repository in the teacher's codebase writes to.
type ExecutionStore struct {
	pool dbPool
	log  *eventLog
}

// NewExecutionStore constructs a store bound to pool.
func NewExecutionStore(pool dbPool) *ExecutionStore {
	return &ExecutionStore{pool: pool, log: newEventLog(pool)}
}

// Save upserts the projection row and appends any newly recorded events,
// in one transaction so the two never diverge on a crash mid-write.
func (s *ExecutionStore) Save(ctx context.Context, e *execution.Execution) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return cgerrors.StoreError("begin-tx", err)
	}
	defer tx.Rollback(ctx)

	snap := e.ToSnapshot()
	breakpointsJSON, err := json.Marshal(snap.Breakpoints)
	if err != nil {
		return cgerrors.StoreError("marshal-breakpoints", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO executions (id, flow_id, status, depth, parent_execution_id, breakpoints, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			breakpoints = EXCLUDED.breakpoints,
			updated_at = EXCLUDED.updated_at
	`, snap.ID, snap.FlowID, string(snap.Status), snap.Depth, snap.ParentExecutionID,
		breakpointsJSON, snap.CreatedAt, snap.UpdatedAt); err != nil {
		return cgerrors.StoreError("upsert-execution", err)
	}

	if err := s.log.append(ctx, tx, e.ID(), e.Events()); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return cgerrors.StoreError("commit-tx", err)
	}
	e.ClearEvents()
	return nil
}

// FindByID loads the current projection row (spec §4.G: store is a
// single-row-read model, not full event replay on every load).
func (s *ExecutionStore) FindByID(ctx context.Context, id string) (*execution.Execution, error) {
	var snap execution.Snapshot
	var status string
	var breakpointsJSON []byte

	err := s.pool.QueryRow(ctx, `
		SELECT id, flow_id, status, depth, parent_execution_id, breakpoints, created_at, updated_at
		FROM executions
		WHERE id = $1
	`, id).Scan(&snap.ID, &snap.FlowID, &status, &snap.Depth, &snap.ParentExecutionID,
		&breakpointsJSON, &snap.CreatedAt, &snap.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, cgerrors.NotFound("execution", id)
	}
	if err != nil {
		return nil, cgerrors.StoreError("find-execution", err)
	}
	snap.Status = execution.Status(status)
	if err := json.Unmarshal(breakpointsJSON, &snap.Breakpoints); err != nil {
		return nil, cgerrors.StoreError("unmarshal-breakpoints", err)
	}
	return execution.FromSnapshot(snap), nil
}

// ListOrphans returns non-terminal executions whose parent is gone or
// has itself already reached a terminal status (spec §4.E crash
// recovery): nobody will ever resume them.
func (s *ExecutionStore) ListOrphans(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id
		FROM executions c
		WHERE c.status NOT IN ('COMPLETED', 'FAILED', 'STOPPED', 'RESTARTED')
		  AND c.parent_execution_id <> ''
		  AND (
		    NOT EXISTS (SELECT 1 FROM executions p WHERE p.id = c.parent_execution_id)
		    OR EXISTS (
		      SELECT 1 FROM executions p
		      WHERE p.id = c.parent_execution_id
		        AND p.status IN ('COMPLETED', 'FAILED', 'STOPPED', 'RESTARTED')
		    )
		  )
	`)
	if err != nil {
		return nil, cgerrors.StoreError("list-orphans", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, cgerrors.StoreError("scan-orphan", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
