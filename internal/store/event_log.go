package store

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/chaingraph/chaingraph/internal/domain/execution"
	cgerrors "github.com/chaingraph/chaingraph/internal/pkg/errors"
	pkguuid "github.com/chaingraph/chaingraph/internal/pkg/uuid"
)

// eventLog appends domain events to a per-aggregate stream, grounded on
// the teacher's EventStore.SaveEvents/LoadEvents. Unlike the teacher's
// version (generic over any eventbus.Event with an AggregateType
// method), this one is narrowed to execution.Event, since the Execution
// Store only ever persists one aggregate kind.
type eventLog struct {
	pool dbPool
}

func newEventLog(pool dbPool) *eventLog {
	return &eventLog{pool: pool}
}

const aggregateTypeExecution = "execution"

// append writes events onto aggregateID's stream, creating the stream
// row on first use (spec §4.G: the projection row and its event log are
// written in the same transaction, so a crash between them cannot leave
// one without the other).
func (l *eventLog) append(ctx context.Context, tx pgx.Tx, aggregateID string, events []execution.Event) error {
	if len(events) == 0 {
		return nil
	}

	var streamID string
	err := tx.QueryRow(ctx, `
		INSERT INTO event_streams (stream_id, aggregate_type, aggregate_id, version)
		VALUES ($1, $2, $3, 0)
		ON CONFLICT (aggregate_type, aggregate_id)
		DO UPDATE SET updated_at = now()
		RETURNING stream_id
	`, pkguuid.New(), aggregateTypeExecution, aggregateID).Scan(&streamID)
	if err != nil {
		return cgerrors.StoreError("ensure-stream", err)
	}

	var version int
	if err := tx.QueryRow(ctx, `SELECT version FROM event_streams WHERE stream_id = $1`, streamID).Scan(&version); err != nil {
		return cgerrors.StoreError("load-stream-version", err)
	}

	for i, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return cgerrors.StoreError("marshal-event", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO events (stream_id, aggregate_type, aggregate_id, event_type, event_version, payload, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, streamID, aggregateTypeExecution, aggregateID, ev.EventType(), version+i+1, payload, ev.OccurredAt()); err != nil {
			return cgerrors.StoreError("append-event", err)
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE event_streams SET version = $1, updated_at = now() WHERE stream_id = $2`,
		version+len(events), streamID); err != nil {
		return cgerrors.StoreError("bump-stream-version", err)
	}
	return nil
}
