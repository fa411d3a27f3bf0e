// Package bus implements the three logical topics spec §4.D describes
// (commands, tasks, events) over Watermill/NATS JetStream, grounded on
// the teacher's infrastructure/messaging/nats/{publisher,subscriber}.go
// and outbox_relay.go. The teacher's three fixed duragraph.* streams are
// replaced by the commands/tasks/events scheme, each partitioned so all
// messages for one execution land on one consumer.
package bus

// SchemaVersion is carried on every envelope so a future wire-format
// change can be detected by consumers during a rolling deploy.
const SchemaVersion = 1

// CommandPayload is the payload of a CREATE command (spec §6); other
// commands (START/STOP/PAUSE/RESUME) only need the envelope's own
// ExecutionID field and leave the payload empty.
type CommandPayload struct {
	FlowID             string                 `json:"flowId,omitempty"`
	Options            *TaskOptions           `json:"options,omitempty"`
	Integrations       map[string]interface{} `json:"integrations,omitempty"`
	ParentExecutionID  string                 `json:"parentExecutionId,omitempty"`
	EventData          map[string]interface{} `json:"eventData,omitempty"`
	ExternalEvents     []ExternalEvent        `json:"externalEvents,omitempty"`
	ExecutionDepth     int                    `json:"executionDepth,omitempty"`
}

// ExternalEvent is an opaque {type,data} pair a CREATE command may carry
// to seed the execution's eventData (spec §6).
type ExternalEvent struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data,omitempty"`
}

// TaskOptions mirrors engine.Options over the wire.
type TaskOptions struct {
	MaxConcurrency int `json:"maxConcurrency,omitempty"`
	NodeTimeoutMs  int `json:"nodeTimeoutMs,omitempty"`
	FlowTimeoutMs  int `json:"flowTimeoutMs,omitempty"`
}

// CommandType enumerates the five lifecycle commands (spec §6).
type CommandType string

const (
	CommandCreate  CommandType = "CREATE"
	CommandStart   CommandType = "START"
	CommandStop    CommandType = "STOP"
	CommandPause   CommandType = "PAUSE"
	CommandResume  CommandType = "RESUME"
)

// CommandEnvelope is the command-topic wire shape, client → control
// plane (spec §6). Id is the idempotency key.
type CommandEnvelope struct {
	SchemaVersion int             `json:"schemaVersion"`
	ID            string          `json:"id"`
	ExecutionID   string          `json:"executionId,omitempty"`
	Command       CommandType     `json:"command"`
	Payload       CommandPayload  `json:"payload"`
	Timestamp     int64           `json:"timestamp"`
	RequestID     string          `json:"requestId"`
}

// TaskContext carries the execution-scoped state a worker needs to
// construct an engine.ExecutionContext (spec §6 task payload "context").
type TaskContext struct {
	Integrations      map[string]interface{} `json:"integrations,omitempty"`
	ParentExecutionID string                 `json:"parentExecutionId,omitempty"`
	EventData         map[string]interface{} `json:"eventData,omitempty"`
	ExecutionDepth    int                    `json:"executionDepth,omitempty"`
}

// TaskEnvelope is the task-topic wire shape, control plane → workers
// (spec §6).
type TaskEnvelope struct {
	SchemaVersion int         `json:"schemaVersion"`
	ExecutionID   string      `json:"executionId"`
	FlowID        string      `json:"flowId"`
	Context       TaskContext `json:"context"`
	Options       TaskOptions `json:"options"`
	Priority      int         `json:"priority"`
	Timestamp     int64       `json:"timestamp"`
}

// EngineEventData is the {index,type,timestamp,data} shape an engine.Event
// takes on the wire (spec §3 Event / §6 event payload "event" field).
type EngineEventData struct {
	Index     int64                  `json:"index"`
	Type      string                 `json:"type"`
	Timestamp int64                  `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// EventEnvelope is the event-topic wire shape, workers → event stream
// (spec §6).
type EventEnvelope struct {
	SchemaVersion int             `json:"schemaVersion"`
	ExecutionID   string          `json:"executionId"`
	WorkerID      string          `json:"workerId"`
	Timestamp     int64           `json:"timestamp"`
	Event         EngineEventData `json:"event"`
}
