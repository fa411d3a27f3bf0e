package worker_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaingraph/chaingraph/internal/bus"
	"github.com/chaingraph/chaingraph/internal/domain/execution"
	"github.com/chaingraph/chaingraph/internal/domain/flow"
	"github.com/chaingraph/chaingraph/internal/engine"
	"github.com/chaingraph/chaingraph/internal/worker"
)

type memStore struct {
	mu         sync.Mutex
	executions map[string]*execution.Execution
	flows      map[string]*flow.Flow
	orphans    []string
}

func newMemStore() *memStore {
	return &memStore{
		executions: make(map[string]*execution.Execution),
		flows:      make(map[string]*flow.Flow),
	}
}

func (s *memStore) Save(ctx context.Context, e *execution.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[e.ID()] = e
	return nil
}

func (s *memStore) FindByID(ctx context.Context, id string) (*execution.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.executions[id]
	if !ok {
		return nil, assert.AnError
	}
	return e, nil
}

func (s *memStore) ListOrphans(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orphans, nil
}

func (s *memStore) LoadFlow(ctx context.Context, flowID string) (*flow.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flows[flowID]
	if !ok {
		return nil, assert.AnError
	}
	return f, nil
}

type fakeSub struct {
	tasks    chan *message.Message
	commands chan *message.Message
}

func newFakeSub() *fakeSub {
	return &fakeSub{
		tasks:    make(chan *message.Message, 8),
		commands: make(chan *message.Message, 8),
	}
}

func (s *fakeSub) SubscribeTasks(ctx context.Context) (<-chan *message.Message, error) {
	return s.tasks, nil
}

func (s *fakeSub) SubscribeCommandsForExecution(ctx context.Context, executionID string) (<-chan *message.Message, error) {
	return s.commands, nil
}

type fakePub struct {
	mu     sync.Mutex
	events []bus.EventEnvelope
}

func (p *fakePub) PublishEvent(ctx context.Context, env bus.EventEnvelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, env)
	return nil
}

func (p *fakePub) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Event.Type
	}
	return out
}

func buildAddFlow(t *testing.T) *flow.Flow {
	t.Helper()
	r := engine.NewRegistry()
	engine.RegisterBuiltins(r)
	f := flow.New("flow-1", nil)
	a, err := r.NewNode("A", "add", nil)
	require.NoError(t, err)
	f.AddNode(a)
	require.NoError(t, f.SetValue(a.Ports["a"], 1.0))
	require.NoError(t, f.SetValue(a.Ports["b"], 2.0))
	return f
}

// blockingNode stays inside Execute until released, so a test can send
// lifecycle commands while the flow is still running.
type blockingNode struct {
	started chan struct{}
	release chan struct{}
}

func (n blockingNode) Initialize(ctx context.Context, node *flow.Node) error { return nil }
func (n blockingNode) GetVersion() string                                   { return "test" }
func (n blockingNode) Execute(ctx context.Context, node *flow.Node, inputs map[string]interface{}) (flow.Result, error) {
	close(n.started)
	select {
	case <-n.release:
	case <-ctx.Done():
	}
	return flow.Result{}, nil
}

func enqueueCommand(t *testing.T, sub *fakeSub, env bus.CommandEnvelope) {
	t.Helper()
	data, err := json.Marshal(env)
	require.NoError(t, err)
	sub.commands <- message.NewMessage("cmd-1", data)
}

func enqueueTask(t *testing.T, sub *fakeSub, env bus.TaskEnvelope) {
	t.Helper()
	data, err := json.Marshal(env)
	require.NoError(t, err)
	sub.tasks <- message.NewMessage("task-1", data)
}

func TestRun_ClaimingTerminalExecutionIsANoOp(t *testing.T) {
	store := newMemStore()
	rec := execution.New("exec-1", "flow-1", "", 0, nil)
	require.NoError(t, rec.SetStatus(execution.StatusCreated))
	require.NoError(t, rec.SetStatus(execution.StatusRunning))
	require.NoError(t, rec.SetStatus(execution.StatusCompleted))
	rec.ClearEvents()
	require.NoError(t, store.Save(context.Background(), rec))
	// no flow registered: if the worker tried to execute, LoadFlow would error.

	sub := newFakeSub()
	pub := &fakePub{}
	w := worker.New(store, sub, pub, nil, worker.Options{Concurrency: 1})

	enqueueTask(t, sub, bus.TaskEnvelope{ExecutionID: "exec-1", FlowID: "flow-1"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	require.Eventually(t, func() bool {
		got, err := store.FindByID(context.Background(), "exec-1")
		return err == nil && got.Status() == execution.StatusCompleted
	}, 500*time.Millisecond, 5*time.Millisecond)
	assert.Empty(t, pub.types())
}

func TestRun_EndToEndExecutionReachesCompleted(t *testing.T) {
	store := newMemStore()
	rec := execution.New("exec-2", "flow-1", "", 0, nil)
	rec.ClearEvents()
	require.NoError(t, store.Save(context.Background(), rec))
	store.flows["flow-1"] = buildAddFlow(t)

	sub := newFakeSub()
	pub := &fakePub{}
	w := worker.New(store, sub, pub, nil, worker.Options{Concurrency: 1, FlowTimeoutMs: 2000})

	enqueueTask(t, sub, bus.TaskEnvelope{ExecutionID: "exec-2", FlowID: "flow-1"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	require.Eventually(t, func() bool {
		got, err := store.FindByID(context.Background(), "exec-2")
		return err == nil && got.Status().IsTerminal()
	}, time.Second, 5*time.Millisecond)

	final, err := store.FindByID(context.Background(), "exec-2")
	require.NoError(t, err)
	assert.Equal(t, execution.StatusCompleted, final.Status())

	assert.Contains(t, pub.types(), string(engine.EventFlowCompleted))
}

func TestRun_PauseAndResumeCommandsUpdateStatusAndEmitEvents(t *testing.T) {
	store := newMemStore()
	rec := execution.New("exec-3", "flow-1", "", 0, nil)
	rec.ClearEvents()
	require.NoError(t, store.Save(context.Background(), rec))

	f := flow.New("flow-1", nil)
	n := flow.NewNode("A", "blocking", nil)
	n.Executable = blockingNode{started: make(chan struct{}), release: make(chan struct{})}
	f.AddNode(n)
	store.flows["flow-1"] = f

	sub := newFakeSub()
	pub := &fakePub{}
	w := worker.New(store, sub, pub, nil, worker.Options{Concurrency: 1, FlowTimeoutMs: 2000})

	enqueueTask(t, sub, bus.TaskEnvelope{ExecutionID: "exec-3", FlowID: "flow-1"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	blocker := n.Executable.(blockingNode)
	select {
	case <-blocker.started:
	case <-time.After(time.Second):
		t.Fatal("node never started")
	}

	enqueueCommand(t, sub, bus.CommandEnvelope{ExecutionID: "exec-3", Command: bus.CommandPause})
	require.Eventually(t, func() bool {
		got, err := store.FindByID(context.Background(), "exec-3")
		return err == nil && got.Status() == execution.StatusPaused
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, pub.types(), string(engine.EventFlowPaused))

	enqueueCommand(t, sub, bus.CommandEnvelope{ExecutionID: "exec-3", Command: bus.CommandResume})
	require.Eventually(t, func() bool {
		got, err := store.FindByID(context.Background(), "exec-3")
		return err == nil && got.Status() == execution.StatusRunning
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, pub.types(), string(engine.EventFlowResumed))

	close(blocker.release)
	require.Eventually(t, func() bool {
		got, err := store.FindByID(context.Background(), "exec-3")
		return err == nil && got.Status().IsTerminal()
	}, time.Second, 5*time.Millisecond)
}

func TestOrphanSweeper_FinalizesNonTerminalOrphans(t *testing.T) {
	store := newMemStore()
	rec := execution.New("exec-orphan", "flow-1", "parent-gone", 1, nil)
	rec.ClearEvents()
	require.NoError(t, store.Save(context.Background(), rec))
	store.orphans = []string{"exec-orphan"}

	// robfig/cron rounds @every schedules up to one second, so the first
	// sweep fires on the next whole second after Start.
	sweeper := worker.NewOrphanSweeper(store, nil, "@every 10ms")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, sweeper.Start(ctx))

	require.Eventually(t, func() bool {
		got, err := store.FindByID(context.Background(), "exec-orphan")
		return err == nil && got.Status() == execution.StatusRestarted
	}, 2*time.Second, 5*time.Millisecond)
}
