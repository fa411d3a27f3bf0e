package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/chaingraph/chaingraph/internal/bus"
	"github.com/chaingraph/chaingraph/internal/controlplane"
	"github.com/chaingraph/chaingraph/internal/domain/execution"
	"github.com/chaingraph/chaingraph/internal/infrastructure/http/dto"
)

// CommandHandler handles the control plane's HTTP command ingress (spec
// §4.D), grounded on the teacher's handlers.RunHandler (one handler
// wrapping one application-layer service).
type CommandHandler struct {
	service *controlplane.Service
	repo    execution.Repository
}

// NewCommandHandler creates a new CommandHandler.
func NewCommandHandler(service *controlplane.Service, repo execution.Repository) *CommandHandler {
	return &CommandHandler{service: service, repo: repo}
}

// Submit handles POST /api/v1/commands.
func (h *CommandHandler) Submit(c echo.Context) error {
	var req dto.CommandRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
	}

	env := bus.CommandEnvelope{
		ID:          req.ID,
		ExecutionID: req.ExecutionID,
		Command:     bus.CommandType(req.Command),
		RequestID:   req.RequestID,
		Payload: bus.CommandPayload{
			FlowID:            req.FlowID,
			Integrations:      req.Integrations,
			ParentExecutionID: req.ParentExecutionID,
			EventData:         req.EventData,
			ExecutionDepth:    req.ExecutionDepth,
		},
	}
	if req.Options != nil {
		env.Payload.Options = &bus.TaskOptions{
			MaxConcurrency: req.Options.MaxConcurrency,
			NodeTimeoutMs:  req.Options.NodeTimeoutMs,
			FlowTimeoutMs:  req.Options.FlowTimeoutMs,
		}
	}
	for _, e := range req.ExternalEvents {
		env.Payload.ExternalEvents = append(env.Payload.ExternalEvents, bus.ExternalEvent{Type: e.Type, Data: e.Data})
	}

	result, err := h.service.Submit(c.Request().Context(), env)
	if err != nil {
		return err
	}

	status := http.StatusAccepted
	if result.Deduped {
		status = http.StatusOK
	}
	return c.JSON(status, dto.CommandResponse{
		ID:          result.ID,
		ExecutionID: result.ExecutionID,
		Accepted:    !result.Deduped,
		Deduped:     result.Deduped,
	})
}

// Get handles GET /api/v1/executions/:execution_id.
func (h *CommandHandler) Get(c echo.Context) error {
	id := c.Param("execution_id")
	rec, err := h.repo.FindByID(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, dto.ExecutionResponse{
		ID:                rec.ID(),
		FlowID:            rec.FlowID(),
		Status:            string(rec.Status()),
		Depth:             rec.Depth(),
		ParentExecutionID: rec.ParentExecutionID(),
		Breakpoints:       rec.Breakpoints(),
		CreatedAt:         rec.CreatedAt().Format(rfc3339),
		UpdatedAt:         rec.UpdatedAt().Format(rfc3339),
	})
}

const rfc3339 = "2006-01-02T15:04:05.000Z07:00"
