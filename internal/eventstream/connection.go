package eventstream

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// idleTimeout is how long a connection may go without a client frame
// (spec §4.F heartbeat: client ping ≤30s, server closes after 60s idle).
const idleTimeout = 60 * time.Second

// connection wraps one client websocket with its own bounded send buffer
// and writer goroutine, so a slow client cannot stall event-topic
// consumption for anyone else (spec §4.F: "per-connection writes run on
// independent writer tasks"). Grounded on the teacher's
// domain/worker.Worker per-entity bookkeeping shape, adapted here to an
// outbound message queue instead of run counters.
type connection struct {
	id string
	ws *websocket.Conn

	send    chan ServerMessage
	closed  chan struct{}
	limiter *rate.Limiter

	mu       sync.Mutex
	writeMu  sync.Mutex
	isClosed bool

	idleTimer *time.Timer
}

// newConnection builds a connection whose writer is throttled to
// sendRatePerSecond frames/sec (burst sendBurst), the per-connection
// cap spec §4.F's backpressure section asks for ahead of the bounded
// send buffer. A non-positive rate disables throttling (rate.Inf).
func newConnection(id string, ws *websocket.Conn, bufSize int, sendRatePerSecond float64, sendBurst int) *connection {
	if bufSize <= 0 {
		bufSize = 64
	}
	limit := rate.Inf
	if sendRatePerSecond > 0 {
		limit = rate.Limit(sendRatePerSecond)
	}
	if sendBurst <= 0 {
		sendBurst = 1
	}
	return &connection{
		id:      id,
		ws:      ws,
		send:    make(chan ServerMessage, bufSize),
		closed:  make(chan struct{}),
		limiter: rate.NewLimiter(limit, sendBurst),
	}
}

// writeLoop drains send and writes frames to the socket until closed.
// Runs on its own goroutine so Hub.broadcast never blocks on a slow
// reader.
func (c *connection) writeLoop() {
	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.send:
			if err := c.limiter.Wait(context.Background()); err != nil {
				c.close()
				return
			}
			c.writeMu.Lock()
			err := c.ws.WriteJSON(msg)
			c.writeMu.Unlock()
			if err != nil {
				c.close()
				return
			}
		}
	}
}

// enqueue attempts a non-blocking send; it reports false if the buffer
// is full or the connection is already closed, the slow-consumer signal
// the caller acts on (spec §4.F backpressure policy).
func (c *connection) enqueue(msg ServerMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// touch resets the idle timeout on receipt of any client frame.
func (c *connection) touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed {
		return
	}
	if c.idleTimer == nil {
		c.idleTimer = time.AfterFunc(idleTimeout, c.close)
		return
	}
	c.idleTimer.Reset(idleTimeout)
}

// closeWithError writes the slow-consumer frame directly to the socket
// (send is presumed full, or this wouldn't be called), then closes.
func (c *connection) closeWithError(msg ServerMessage) {
	c.writeMu.Lock()
	_ = c.ws.WriteJSON(msg)
	c.writeMu.Unlock()
	c.close()
}

func (c *connection) close() {
	c.mu.Lock()
	if c.isClosed {
		c.mu.Unlock()
		return
	}
	c.isClosed = true
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	c.mu.Unlock()

	close(c.closed)
	_ = c.ws.Close()
}
