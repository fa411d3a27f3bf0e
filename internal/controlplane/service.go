// Package controlplane implements the command-ingress half of the
// Control Plane (spec §4.D/§2: "commands delivered through a
// partitioned message bus; idempotent; producing tasks consumed by a
// worker pool"). Grounded on the teacher's application/command package
// (one Handle per command, backed by a repository), collapsed here into
// a single Service since every ChainGraph command shares one dedupe +
// route-or-create decision rather than five independent use cases.
package controlplane

import (
	"context"
	"time"

	"github.com/chaingraph/chaingraph/internal/bus"
	"github.com/chaingraph/chaingraph/internal/domain/execution"
	cgerrors "github.com/chaingraph/chaingraph/internal/pkg/errors"
	"github.com/chaingraph/chaingraph/internal/pkg/uuid"
)

// CommandPublisher is the slice of bus.Publisher the control plane needs.
type CommandPublisher interface {
	PublishCommand(ctx context.Context, env bus.CommandEnvelope) error
	PublishTask(ctx context.Context, env bus.TaskEnvelope) error
}

// Service validates, deduplicates, and routes incoming commands (spec
// §4.D). A CREATE command is turned directly into a new Execution record
// plus a task; every other command is forwarded on the command topic to
// whichever worker owns that execution (spec §2: "Commands for a live
// execution ... are routed by execution id to the owning worker via the
// command topic").
type Service struct {
	repo    execution.Repository
	pub     CommandPublisher
	dedupe  bus.CommandDeduper
}

// NewService constructs a Service.
func NewService(repo execution.Repository, pub CommandPublisher, dedupe bus.CommandDeduper) *Service {
	return &Service{repo: repo, pub: pub, dedupe: dedupe}
}

// Result reports what handling a command actually did, so the HTTP
// handler can shape its response without re-deriving command semantics.
type Result struct {
	ID          string
	ExecutionID string
	Deduped     bool
}

// Submit validates, deduplicates, and routes env. env.ID and
// env.Timestamp are assigned here if the caller left them zero, so an
// HTTP client only has to supply command/executionId/payload.
func (s *Service) Submit(ctx context.Context, env bus.CommandEnvelope) (Result, error) {
	switch env.Command {
	case bus.CommandCreate, bus.CommandStart, bus.CommandPause, bus.CommandResume, bus.CommandStop:
	default:
		return Result{}, cgerrors.InvalidInput("command", "must be one of CREATE/START/PAUSE/RESUME/STOP")
	}
	if env.Command != bus.CommandCreate && env.ExecutionID == "" {
		return Result{}, cgerrors.InvalidInput("executionId", "required for every command except CREATE")
	}
	if env.ID == "" {
		env.ID = uuid.New()
	}
	if env.Timestamp == 0 {
		env.Timestamp = time.Now().UnixMilli()
	}

	seen, err := s.dedupe.SeenAndRemember(ctx, env.ID)
	if err != nil {
		return Result{}, cgerrors.StoreError("dedupe", err)
	}
	if seen {
		return Result{ID: env.ID, ExecutionID: env.ExecutionID, Deduped: true}, nil
	}

	if env.Command == bus.CommandCreate {
		return s.handleCreate(ctx, env)
	}
	return s.handleLifecycle(ctx, env)
}

// handleCreate persists a brand-new Execution and publishes the task
// that starts it running (spec §2 data flow: "Control Plane validates &
// writes a Task on the task topic").
func (s *Service) handleCreate(ctx context.Context, env bus.CommandEnvelope) (Result, error) {
	if env.Payload.FlowID == "" {
		return Result{}, cgerrors.InvalidInput("flowId", "required for CREATE")
	}

	executionID := uuid.New()
	options := map[string]interface{}{}
	if env.Payload.Options != nil {
		options["maxConcurrency"] = env.Payload.Options.MaxConcurrency
		options["nodeTimeoutMs"] = env.Payload.Options.NodeTimeoutMs
		options["flowTimeoutMs"] = env.Payload.Options.FlowTimeoutMs
	}

	rec := execution.New(executionID, env.Payload.FlowID, env.Payload.ParentExecutionID, env.Payload.ExecutionDepth, options)
	if err := s.repo.Save(ctx, rec); err != nil {
		return Result{}, err
	}

	task := bus.TaskEnvelope{
		ExecutionID: executionID,
		FlowID:      env.Payload.FlowID,
		Context: bus.TaskContext{
			Integrations:      env.Payload.Integrations,
			ParentExecutionID: env.Payload.ParentExecutionID,
			EventData:         env.Payload.EventData,
			ExecutionDepth:    env.Payload.ExecutionDepth,
		},
		Timestamp: env.Timestamp,
	}
	if env.Payload.Options != nil {
		task.Options = *env.Payload.Options
	}
	if err := s.pub.PublishTask(ctx, task); err != nil {
		return Result{}, err
	}

	return Result{ID: env.ID, ExecutionID: executionID}, nil
}

// handleLifecycle forwards a PAUSE/RESUME/STOP/START command on the
// command topic, partitioned by executionId so it lands on the worker
// subscribed to that execution (internal/worker.bridgeCommands).
func (s *Service) handleLifecycle(ctx context.Context, env bus.CommandEnvelope) (Result, error) {
	if _, err := s.repo.FindByID(ctx, env.ExecutionID); err != nil {
		return Result{}, err
	}
	if err := s.pub.PublishCommand(ctx, env); err != nil {
		return Result{}, err
	}
	return Result{ID: env.ID, ExecutionID: env.ExecutionID}, nil
}
