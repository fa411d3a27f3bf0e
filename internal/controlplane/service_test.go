package controlplane_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaingraph/chaingraph/internal/bus"
	"github.com/chaingraph/chaingraph/internal/controlplane"
	"github.com/chaingraph/chaingraph/internal/domain/execution"
)

type memRepo struct {
	mu         sync.Mutex
	executions map[string]*execution.Execution
}

func newMemRepo() *memRepo {
	return &memRepo{executions: make(map[string]*execution.Execution)}
}

func (r *memRepo) Save(ctx context.Context, e *execution.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executions[e.ID()] = e
	return nil
}

func (r *memRepo) FindByID(ctx context.Context, id string) (*execution.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.executions[id]
	if !ok {
		return nil, assert.AnError
	}
	return e, nil
}

func (r *memRepo) ListOrphans(ctx context.Context) ([]string, error) {
	return nil, nil
}

type fakePublisher struct {
	mu       sync.Mutex
	commands []bus.CommandEnvelope
	tasks    []bus.TaskEnvelope
}

func (p *fakePublisher) PublishCommand(ctx context.Context, env bus.CommandEnvelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commands = append(p.commands, env)
	return nil
}

func (p *fakePublisher) PublishTask(ctx context.Context, env bus.TaskEnvelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tasks = append(p.tasks, env)
	return nil
}

type memDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemDeduper() *memDeduper {
	return &memDeduper{seen: make(map[string]bool)}
}

func (d *memDeduper) SeenAndRemember(ctx context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[id] {
		return true, nil
	}
	d.seen[id] = true
	return false, nil
}

func TestSubmit_CreateWritesExecutionAndPublishesTask(t *testing.T) {
	repo := newMemRepo()
	pub := &fakePublisher{}
	svc := controlplane.NewService(repo, pub, newMemDeduper())

	result, err := svc.Submit(context.Background(), bus.CommandEnvelope{
		Command: bus.CommandCreate,
		Payload: bus.CommandPayload{FlowID: "flow-1"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.ExecutionID)
	assert.False(t, result.Deduped)

	_, err = repo.FindByID(context.Background(), result.ExecutionID)
	require.NoError(t, err)

	require.Len(t, pub.tasks, 1)
	assert.Equal(t, result.ExecutionID, pub.tasks[0].ExecutionID)
	assert.Equal(t, "flow-1", pub.tasks[0].FlowID)
}

func TestSubmit_CreateMissingFlowIDIsInvalid(t *testing.T) {
	svc := controlplane.NewService(newMemRepo(), &fakePublisher{}, newMemDeduper())

	_, err := svc.Submit(context.Background(), bus.CommandEnvelope{Command: bus.CommandCreate})
	require.Error(t, err)
}

func TestSubmit_LifecycleCommandRoutesToExistingExecution(t *testing.T) {
	repo := newMemRepo()
	rec := execution.New("exec-1", "flow-1", "", 0, nil)
	require.NoError(t, repo.Save(context.Background(), rec))

	pub := &fakePublisher{}
	svc := controlplane.NewService(repo, pub, newMemDeduper())

	result, err := svc.Submit(context.Background(), bus.CommandEnvelope{
		Command:     bus.CommandPause,
		ExecutionID: "exec-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "exec-1", result.ExecutionID)

	require.Len(t, pub.commands, 1)
	assert.Equal(t, bus.CommandPause, pub.commands[0].Command)
}

func TestSubmit_LifecycleCommandMissingExecutionIDIsInvalid(t *testing.T) {
	svc := controlplane.NewService(newMemRepo(), &fakePublisher{}, newMemDeduper())

	_, err := svc.Submit(context.Background(), bus.CommandEnvelope{Command: bus.CommandStop})
	require.Error(t, err)
}

func TestSubmit_LifecycleCommandUnknownExecutionFails(t *testing.T) {
	svc := controlplane.NewService(newMemRepo(), &fakePublisher{}, newMemDeduper())

	_, err := svc.Submit(context.Background(), bus.CommandEnvelope{
		Command:     bus.CommandResume,
		ExecutionID: "does-not-exist",
	})
	require.Error(t, err)
}

func TestSubmit_DuplicateCommandIDIsDeduped(t *testing.T) {
	repo := newMemRepo()
	pub := &fakePublisher{}
	svc := controlplane.NewService(repo, pub, newMemDeduper())

	env := bus.CommandEnvelope{
		ID:      "cmd-1",
		Command: bus.CommandCreate,
		Payload: bus.CommandPayload{FlowID: "flow-1"},
	}

	first, err := svc.Submit(context.Background(), env)
	require.NoError(t, err)
	require.False(t, first.Deduped)

	second, err := svc.Submit(context.Background(), env)
	require.NoError(t, err)
	assert.True(t, second.Deduped)
	assert.Len(t, pub.tasks, 1)
}
