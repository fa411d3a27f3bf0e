// Package dto holds the wire-facing request/response shapes for the
// control plane's HTTP command ingress, grounded on the teacher's
// infrastructure/http/dto package (plain JSON-tagged structs kept
// separate from the bus/domain types they get translated into).
package dto

// ErrorResponse is the JSON body middleware.ErrorHandler writes for any
// failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// CommandRequest is the POST /api/v1/commands request body (spec §6
// command shape, minus timestamp, which the server assigns; id is
// optional and the server assigns one when it is empty).
type CommandRequest struct {
	ID                string                 `json:"id,omitempty"`
	ExecutionID        string                 `json:"executionId,omitempty"`
	Command            string                 `json:"command"`
	RequestID          string                 `json:"requestId,omitempty"`
	FlowID             string                 `json:"flowId,omitempty"`
	Options            *CommandOptions        `json:"options,omitempty"`
	Integrations       map[string]interface{} `json:"integrations,omitempty"`
	ParentExecutionID  string                 `json:"parentExecutionId,omitempty"`
	EventData          map[string]interface{} `json:"eventData,omitempty"`
	ExternalEvents      []ExternalEvent        `json:"externalEvents,omitempty"`
	ExecutionDepth     int                    `json:"executionDepth,omitempty"`
}

// CommandOptions mirrors bus.TaskOptions over HTTP.
type CommandOptions struct {
	MaxConcurrency int `json:"maxConcurrency,omitempty"`
	NodeTimeoutMs  int `json:"nodeTimeoutMs,omitempty"`
	FlowTimeoutMs  int `json:"flowTimeoutMs,omitempty"`
}

// ExternalEvent mirrors bus.ExternalEvent over HTTP.
type ExternalEvent struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data,omitempty"`
}

// CommandResponse acknowledges an accepted command. For CREATE it
// carries the newly assigned execution id.
type CommandResponse struct {
	ID          string `json:"id"`
	ExecutionID string `json:"executionId,omitempty"`
	Accepted    bool   `json:"accepted"`
	Deduped     bool   `json:"deduped,omitempty"`
}

// ExecutionResponse is the GET /api/v1/executions/:id response body.
type ExecutionResponse struct {
	ID                string   `json:"id"`
	FlowID            string   `json:"flowId"`
	Status            string   `json:"status"`
	Depth             int      `json:"depth"`
	ParentExecutionID string   `json:"parentExecutionId,omitempty"`
	Breakpoints       []string `json:"breakpoints"`
	CreatedAt         string   `json:"createdAt"`
	UpdatedAt         string   `json:"updatedAt"`
}
