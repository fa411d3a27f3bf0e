package eventstream

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/chaingraph/chaingraph/internal/bus"
)

// EventSource is the slice of bus.Subscriber the service depends on,
// narrowed the same way internal/worker narrows TaskSubscriber so tests
// can drive a Server without a running NATS broker.
type EventSource interface {
	SubscribeEvents(ctx context.Context) (<-chan *message.Message, error)
}

// Options bounds a Server (spec §6 event stream env vars).
type Options struct {
	BufferSize        int
	SendRatePerSecond float64
	SendBurst         int
}

func (o Options) withDefaults() Options {
	if o.BufferSize <= 0 {
		o.BufferSize = 64
	}
	if o.SendRatePerSecond <= 0 {
		o.SendRatePerSecond = 200
	}
	if o.SendBurst <= 0 {
		o.SendBurst = 50
	}
	return o
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server is the Event Stream Service (spec §4.F): a ServeWS handler func
// that upgrades to a duplex websocket, plus a background loop bridging the
// event topic into the Hub. Grounded on the teacher's
// infrastructure/http/handlers/stream.go StreamHandler, replacing its
// one-way SSE loop with gorilla/websocket's duplex Conn.
type Server struct {
	hub     *Hub
	source  EventSource
	logger  *slog.Logger
	options Options
}

// New constructs a Server. Call Run to start bridging the event topic,
// and register ServeWS on an HTTP mux.
func New(source EventSource, logger *slog.Logger, options Options) *Server {
	options = options.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		hub:     NewHub(),
		source:  source,
		logger:  logger,
		options: options,
	}
}

// Run consumes the event topic until ctx is cancelled, fanning each
// event out to the Hub's subscribers for its executionId.
func (s *Server) Run(ctx context.Context) error {
	ch, err := s.source.SubscribeEvents(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			env, err := bus.DecodeEvent(msg)
			if err != nil {
				s.logger.Error("decode event envelope", "error", err)
				msg.Nack()
				continue
			}
			s.hub.broadcast(env)
			msg.Ack()
		}
	}
}

// ServeWS upgrades the request to a websocket and runs the connection's
// read loop until it closes. Intended to be mounted at EVENT_STREAM_WS_PATH.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade", "error", err)
		return
	}

	clientID := uuid.NewString()
	conn := newConnection(clientID, ws, s.options.BufferSize, s.options.SendRatePerSecond, s.options.SendBurst)
	go conn.writeLoop()
	conn.touch()
	conn.enqueue(ServerMessage{Type: ServerConnected, ClientID: clientID})

	s.readLoop(conn)
}

// readLoop parses client frames (spec §4.F "Client → server") until the
// socket closes, dispatching subscribe/unsubscribe/ping and cleaning up
// the Hub's bookkeeping on exit.
func (s *Server) readLoop(conn *connection) {
	defer func() {
		s.hub.removeConn(conn)
		conn.close()
	}()

	for {
		var frame ClientMessage
		if err := conn.ws.ReadJSON(&frame); err != nil {
			return
		}
		conn.touch()

		switch frame.Type {
		case ClientSubscribe:
			if frame.ExecutionID == "" {
				conn.enqueue(ServerMessage{Type: ServerError, Error: "subscribe requires executionId"})
				continue
			}
			s.hub.subscribe(conn, frame.ExecutionID)
			conn.enqueue(ServerMessage{Type: ServerSubscribed, ExecutionID: frame.ExecutionID})
		case ClientUnsubscribe:
			if frame.ExecutionID == "" {
				conn.enqueue(ServerMessage{Type: ServerError, Error: "unsubscribe requires executionId"})
				continue
			}
			s.hub.unsubscribe(conn, frame.ExecutionID)
			conn.enqueue(ServerMessage{Type: ServerUnsubscribed, ExecutionID: frame.ExecutionID})
		case ClientPing:
			conn.enqueue(ServerMessage{Type: ServerPong})
		default:
			conn.enqueue(ServerMessage{Type: ServerError, Error: "unknown frame type: " + frame.Type})
		}
	}
}
