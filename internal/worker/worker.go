// Package worker implements the Worker Runtime (spec §4.E): the process
// that claims tasks off the task topic, drives one execution through
// internal/engine, and bridges command-topic messages into the running
// debugger. Grounded on the teacher's application/service/run_service.go
// ExecuteRun lifecycle (load → start → execute → complete/fail),
// generalized from the teacher's thread/assistant/graph lookups to
// ChainGraph's flowId/Store-backed flow loading.
package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/chaingraph/chaingraph/internal/bus"
	"github.com/chaingraph/chaingraph/internal/domain/execution"
	"github.com/chaingraph/chaingraph/internal/engine"
	cgerrors "github.com/chaingraph/chaingraph/internal/pkg/errors"
	"github.com/chaingraph/chaingraph/internal/pkg/eventbus"
	"github.com/chaingraph/chaingraph/internal/tracing"
)

var tracer = tracing.Tracer("chaingraph/worker")

// TaskSubscriber is the slice of bus.Subscriber the worker depends on.
// Satisfied by *bus.Subscriber; narrowed to an interface so tests can
// drive a worker without a running NATS broker.
type TaskSubscriber interface {
	SubscribeTasks(ctx context.Context) (<-chan *message.Message, error)
	SubscribeCommandsForExecution(ctx context.Context, executionID string) (<-chan *message.Message, error)
}

// EventPublisher is the slice of bus.Publisher the worker depends on.
type EventPublisher interface {
	PublishEvent(ctx context.Context, env bus.EventEnvelope) error
}

// Options bounds a Worker process (spec §6 worker env vars).
type Options struct {
	WorkerID      string
	Concurrency   int
	NodeTimeoutMs int
	FlowTimeoutMs int
}

func (o Options) withDefaults() Options {
	if o.WorkerID == "" {
		o.WorkerID = "worker-" + uuid.NewString()
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	return o
}

// Worker consumes the task topic and drives executions to a terminal
// status (spec §4.E). One Worker instance is one WORKER_ID.
type Worker struct {
	id      string
	store   Store
	sub     TaskSubscriber
	pub     EventPublisher
	logger  *slog.Logger
	options Options
	sem     chan struct{}
	wg      sync.WaitGroup
}

// New constructs a Worker. sub must already be bound to the worker
// consumer group (spec §4.E: "a worker group with cooperative
// rebalancing" — see bus.NewSubscriber's queueGroup parameter).
func New(store Store, sub TaskSubscriber, pub EventPublisher, logger *slog.Logger, options Options) *Worker {
	options = options.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		id:      options.WorkerID,
		store:   store,
		sub:     sub,
		pub:     pub,
		logger:  logger,
		options: options,
		sem:     make(chan struct{}, options.Concurrency),
	}
}

// Run consumes the task stream until ctx is cancelled or the stream
// closes, dispatching each task to its own goroutine bounded by
// Concurrency. It blocks until all in-flight tasks drain.
func (w *Worker) Run(ctx context.Context) error {
	ch, err := w.sub.SubscribeTasks(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			w.wg.Wait()
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				w.wg.Wait()
				return nil
			}
			w.dispatch(ctx, msg)
		}
	}
}

func (w *Worker) dispatch(ctx context.Context, msg *message.Message) {
	select {
	case w.sem <- struct{}{}:
	case <-ctx.Done():
		msg.Nack()
		return
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }()
		w.handleTask(ctx, msg)
	}()
}

func (w *Worker) handleTask(ctx context.Context, msg *message.Message) {
	task, err := bus.DecodeTask(msg)
	if err != nil {
		w.logger.Error("decode task envelope", "error", err)
		msg.Nack()
		return
	}

	if err := w.run(ctx, task); err != nil {
		w.logger.Error("execute task", "executionId", task.ExecutionID, "error", err)
	}
	msg.Ack()
}

// run is the lifecycle in spec §4.E: claim → terminal-short-circuit →
// CREATING+load-flow → CREATED+construct Context/Engine → subscribe to
// the command topic bridged into the debugger → RUNNING → execute
// synchronously → write terminal status.
func (w *Worker) run(ctx context.Context, task bus.TaskEnvelope) error {
	ctx, span := tracer.Start(ctx, "execution.run",
		trace.WithAttributes(
			attribute.String("chaingraph.execution_id", task.ExecutionID),
			attribute.String("chaingraph.flow_id", task.FlowID),
			attribute.String("chaingraph.worker_id", w.id),
		),
	)
	defer span.End()

	rec, err := w.store.FindByID(ctx, task.ExecutionID)
	if err != nil {
		return cgerrors.StoreError("find-execution", err)
	}

	if rec.Status().IsTerminal() {
		w.logger.Info("claimed already-terminal execution, skipping", "executionId", task.ExecutionID, "status", rec.Status())
		return nil
	}

	// The control plane already created rec in CREATING status when it
	// accepted the CREATE command; a redelivered task may find it already
	// past that (CREATED or even RUNNING, if a prior worker crashed
	// after publishing events but before acking). ensureStatus makes the
	// forward transitions idempotent under redelivery.
	flw, err := w.store.LoadFlow(ctx, task.FlowID)
	if err != nil {
		_ = w.ensureStatus(ctx, rec, execution.StatusFailed)
		return cgerrors.StoreError("load-flow", err)
	}

	if err := w.ensureStatus(ctx, rec, execution.StatusCreated); err != nil {
		return err
	}

	localBus := eventbus.New(256)
	defer localBus.Close()
	localBus.OnAll(w.forwardEvent(ctx))

	ectx := engine.NewExecutionContext(ctx, task.ExecutionID, task.Context.Integrations, localBus, nil)

	dbg := engine.NewDebugger(false, func(nodeID string) {
		ectx.SendEvent(engine.Event{Type: engine.EventDebugBreakpointHit, Data: map[string]interface{}{"nodeId": nodeID}})
	})
	for _, nodeID := range rec.Breakpoints() {
		dbg.AddBreakpoint(nodeID)
	}

	// recMu serializes every status transition rec goes through once the
	// command bridge is live: bridgeCommands runs concurrently with the
	// rest of run() and both sides mutate the same *Execution.
	var recMu sync.Mutex

	// The command bridge is supervised goroutine work alongside the
	// synchronous engine run, not fire-and-forget: errgroup ties its
	// lifetime to cmdCancel so run() never returns while the bridge is
	// still draining a message.
	bridge, _ := errgroup.WithContext(ctx)
	cmdCtx, cmdCancel := context.WithCancel(ctx)
	if cmdCh, err := w.sub.SubscribeCommandsForExecution(cmdCtx, task.ExecutionID); err != nil {
		w.logger.Warn("command bridge unavailable, execution will not respond to bus commands", "executionId", task.ExecutionID, "error", err)
	} else {
		bridge.Go(func() error {
			w.bridgeCommands(cmdCtx, cmdCh, dbg, rec, ectx, &recMu)
			return nil
		})
	}

	recMu.Lock()
	err = w.ensureStatus(ctx, rec, execution.StatusRunning)
	recMu.Unlock()
	if err != nil {
		cmdCancel()
		_ = bridge.Wait()
		return err
	}

	eng := engine.New(flw, ectx, dbg, engine.Options{
		MaxConcurrency: task.Options.MaxConcurrency,
		NodeTimeoutMs:  firstNonZero(task.Options.NodeTimeoutMs, w.options.NodeTimeoutMs),
		FlowTimeoutMs:  firstNonZero(task.Options.FlowTimeoutMs, w.options.FlowTimeoutMs),
	})

	execErr := eng.Execute(ctx)
	cmdCancel()
	_ = bridge.Wait()

	final := execution.StatusCompleted
	switch {
	case execErr != nil && cgerrors.Is(execErr, cgerrors.ErrAborted):
		final = execution.StatusStopped
	case execErr != nil:
		final = execution.StatusFailed
		span.SetStatus(codes.Error, execErr.Error())
		span.RecordError(execErr)
	}
	span.SetAttributes(attribute.String("chaingraph.final_status", string(final)))
	if serr := w.transition(ctx, rec, final); serr != nil {
		w.logger.Error("persist terminal status", "executionId", task.ExecutionID, "error", serr)
	}
	return execErr
}

// forwardEvent bridges engine events published on the execution's local
// fan-out bus onto the event topic (spec §4.B/§4.D).
func (w *Worker) forwardEvent(ctx context.Context) eventbus.Handler {
	return func(e eventbus.Event) {
		ev, ok := e.(engine.Event)
		if !ok {
			return
		}
		env := bus.EventEnvelope{
			ExecutionID: ev.ExecutionID,
			WorkerID:    w.id,
			Timestamp:   ev.Timestamp,
			Event: bus.EngineEventData{
				Index:     ev.Index,
				Type:      string(ev.Type),
				Timestamp: ev.Timestamp,
				Data:      ev.Data,
			},
		}
		if err := w.pub.PublishEvent(ctx, env); err != nil {
			w.logger.Error("publish event", "executionId", ev.ExecutionID, "error", err)
		}
	}
}

// bridgeCommands applies STOP/PAUSE/RESUME commands addressed to one
// execution onto its debugger (spec §4.E step 4); any other command
// (START included) is acknowledged and otherwise ignored. It keeps rec's
// persisted status and the execution's event stream in step with the
// debugger's actual state (spec §3 lifecycle: RUNNING ↔ PAUSED,
// RUNNING/PAUSED → STOPPING). CREATE commands never reach here; they
// are consumed by the control plane's ingestion path, not a running
// worker's per-execution subscription. recMu guards rec against the
// concurrent status writes run() itself makes around RUNNING.
func (w *Worker) bridgeCommands(ctx context.Context, ch <-chan *message.Message, dbg *engine.Debugger, rec *execution.Execution, ectx *engine.ExecutionContext, recMu *sync.Mutex) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			cmd, err := bus.DecodeCommand(msg)
			if err != nil {
				w.logger.Error("decode command envelope", "error", err)
				msg.Nack()
				continue
			}
			switch cmd.Command {
			case bus.CommandPause:
				dbg.Pause()
				w.transitionLocked(ctx, recMu, rec, execution.StatusPaused)
				ectx.SendEvent(engine.Event{Type: engine.EventFlowPaused})
			case bus.CommandResume:
				dbg.Continue()
				w.transitionLocked(ctx, recMu, rec, execution.StatusRunning)
				ectx.SendEvent(engine.Event{Type: engine.EventFlowResumed})
			case bus.CommandStop:
				dbg.Stop()
				w.transitionLocked(ctx, recMu, rec, execution.StatusStopping)
			}
			msg.Ack()
		}
	}
}

// transitionLocked runs ensureStatus under recMu and logs rather than
// propagates a failure, since a command bridge has no caller to return
// an error to.
func (w *Worker) transitionLocked(ctx context.Context, recMu *sync.Mutex, rec *execution.Execution, to execution.Status) {
	recMu.Lock()
	defer recMu.Unlock()
	if err := w.ensureStatus(ctx, rec, to); err != nil {
		w.logger.Error("persist status from command bridge", "executionId", rec.ID(), "status", to, "error", err)
	}
}

// ensureStatus transitions rec to to unless it is already there,
// tolerating redelivery of a task whose previous attempt got partway
// through this lifecycle before its worker died.
func (w *Worker) ensureStatus(ctx context.Context, rec *execution.Execution, to execution.Status) error {
	if rec.Status() == to {
		return nil
	}
	return w.transition(ctx, rec, to)
}

// transition validates and persists a status change, discarding the
// aggregate's recorded events once the store has durably captured them.
func (w *Worker) transition(ctx context.Context, rec *execution.Execution, to execution.Status) error {
	if err := rec.SetStatus(to); err != nil {
		return cgerrors.StoreError("transition", err)
	}
	if err := w.store.Save(ctx, rec); err != nil {
		return cgerrors.StoreError("save", err)
	}
	rec.ClearEvents()
	return nil
}

func firstNonZero(a, b int) int {
	if a > 0 {
		return a
	}
	return b
}
