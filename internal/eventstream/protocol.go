// Package eventstream implements the Event Stream Service (spec §4.F): a
// duplex websocket server that consumes the event topic and fans events
// out to subscribed clients by execution id. The teacher only streams
// run events one-way over SSE (infrastructure/http/handlers/stream.go);
// this package replaces that with the duplex subscribe/unsubscribe
// protocol spec §4.F names, built on gorilla/websocket the way the rest
// of the retrieval pack pairs a duplex ws server with an Echo-style HTTP
// framework.
package eventstream

import "github.com/chaingraph/chaingraph/internal/engine"

// ClientMessage is a frame the client sends (spec §4.F: "Client →
// server").
type ClientMessage struct {
	Type        string `json:"type"`
	ExecutionID string `json:"executionId,omitempty"`
}

const (
	ClientSubscribe   = "subscribe"
	ClientUnsubscribe = "unsubscribe"
	ClientPing        = "ping"
)

// ServerMessage is a frame the server sends (spec §4.F: "Server →
// client"). Fields are omitted per message type; Event carries the
// engine event for `type:"event"` frames.
type ServerMessage struct {
	Type        string        `json:"type"`
	ClientID    string        `json:"clientId,omitempty"`
	ExecutionID string        `json:"executionId,omitempty"`
	Event       *engine.Event `json:"event,omitempty"`
	Error       string        `json:"error,omitempty"`
}

const (
	ServerConnected    = "connected"
	ServerSubscribed   = "subscribed"
	ServerUnsubscribed = "unsubscribed"
	ServerEvent        = "event"
	ServerPong         = "pong"
	ServerError        = "error"
)
