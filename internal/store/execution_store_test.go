package store

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaingraph/chaingraph/internal/domain/execution"
	cgerrors "github.com/chaingraph/chaingraph/internal/pkg/errors"
)

func TestExecutionStore_Save_InsertsProjectionAndAppendsEvents(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewExecutionStore(mock)
	e := execution.New("exec-1", "flow-1", "", 0, nil)

	breakpointsJSON, _ := json.Marshal([]string{})

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO executions")).
		WithArgs("exec-1", "flow-1", "CREATING", 0, "", breakpointsJSON, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO event_streams")).
		WithArgs(pgxmock.AnyArg(), aggregateTypeExecution, "exec-1").
		WillReturnRows(pgxmock.NewRows([]string{"stream_id"}).AddRow("stream-1"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT version FROM event_streams")).
		WithArgs("stream-1").
		WillReturnRows(pgxmock.NewRows([]string{"version"}).AddRow(0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO events")).
		WithArgs("stream-1", aggregateTypeExecution, "exec-1", "execution.created", 1, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE event_streams SET version")).
		WithArgs(1, "stream-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err = store.Save(context.Background(), e)
	require.NoError(t, err)
	assert.Empty(t, e.Events())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutionStore_Save_RollsBackOnUpsertError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewExecutionStore(mock)
	e := execution.New("exec-1", "flow-1", "", 0, nil)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO executions")).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err = store.Save(context.Background(), e)
	require.Error(t, err)
	assert.NotEmpty(t, e.Events())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutionStore_FindByID_ReturnsNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewExecutionStore(mock)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, flow_id, status")).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err = store.FindByID(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, cgerrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutionStore_FindByID_ReconstructsSnapshot(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewExecutionStore(mock)
	now := time.Now()
	breakpointsJSON, _ := json.Marshal([]string{"node-a"})

	rows := pgxmock.NewRows([]string{
		"id", "flow_id", "status", "depth", "parent_execution_id", "breakpoints", "created_at", "updated_at",
	}).AddRow("exec-1", "flow-1", "RUNNING", 1, "exec-0", breakpointsJSON, now, now)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, flow_id, status")).
		WithArgs("exec-1").
		WillReturnRows(rows)

	got, err := store.FindByID(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "exec-1", got.ID())
	assert.Equal(t, execution.StatusRunning, got.Status())
	assert.True(t, got.HasBreakpoint("node-a"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutionStore_ListOrphans(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewExecutionStore(mock)

	rows := pgxmock.NewRows([]string{"id"}).AddRow("exec-9").AddRow("exec-10")
	mock.ExpectQuery(regexp.QuoteMeta("FROM executions c")).WillReturnRows(rows)

	ids, err := store.ListOrphans(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"exec-9", "exec-10"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}
