package eventstream_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/chaingraph/chaingraph/internal/bus"
	"github.com/chaingraph/chaingraph/internal/eventstream"
)

type fakeSource struct {
	events chan *message.Message
}

func newFakeSource() *fakeSource {
	return &fakeSource{events: make(chan *message.Message, 8)}
}

func (f *fakeSource) SubscribeEvents(ctx context.Context) (<-chan *message.Message, error) {
	return f.events, nil
}

func (f *fakeSource) publish(t *testing.T, env bus.EventEnvelope) {
	t.Helper()
	data, err := json.Marshal(env)
	require.NoError(t, err)
	f.events <- message.NewMessage("evt-1", data)
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) eventstream.ServerMessage {
	t.Helper()
	var msg eventstream.ServerMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestServeWS_SubscribeAndReceiveEvent(t *testing.T) {
	source := newFakeSource()
	srv := eventstream.New(source, nil, eventstream.Options{BufferSize: 4})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() { defer wg.Done(); _ = srv.Run(ctx) }()

	httpSrv := httptest.NewServer(http.HandlerFunc(srv.ServeWS))
	defer httpSrv.Close()

	conn := dial(t, httpSrv)
	defer conn.Close()

	connected := readFrame(t, conn)
	require.Equal(t, eventstream.ServerConnected, connected.Type)
	require.NotEmpty(t, connected.ClientID)

	require.NoError(t, conn.WriteJSON(eventstream.ClientMessage{
		Type:        eventstream.ClientSubscribe,
		ExecutionID: "exec-1",
	}))
	subscribed := readFrame(t, conn)
	require.Equal(t, eventstream.ServerSubscribed, subscribed.Type)
	require.Equal(t, "exec-1", subscribed.ExecutionID)

	source.publish(t, bus.EventEnvelope{
		ExecutionID: "exec-1",
		Event: bus.EngineEventData{
			Index:     1,
			Type:      "NODE_STARTED",
			Timestamp: 42,
		},
	})

	evtFrame := readFrame(t, conn)
	require.Equal(t, eventstream.ServerEvent, evtFrame.Type)
	require.Equal(t, "exec-1", evtFrame.ExecutionID)
	require.NotNil(t, evtFrame.Event)
	require.EqualValues(t, 1, evtFrame.Event.Index)

	cancel()
	wg.Wait()
}

func TestServeWS_UnsubscribedExecutionDoesNotReceiveEvents(t *testing.T) {
	source := newFakeSource()
	srv := eventstream.New(source, nil, eventstream.Options{BufferSize: 4})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Run(ctx) }()

	httpSrv := httptest.NewServer(http.HandlerFunc(srv.ServeWS))
	defer httpSrv.Close()

	conn := dial(t, httpSrv)
	defer conn.Close()
	_ = readFrame(t, conn) // connected

	require.NoError(t, conn.WriteJSON(eventstream.ClientMessage{Type: eventstream.ClientPing}))
	pong := readFrame(t, conn)
	require.Equal(t, eventstream.ServerPong, pong.Type)

	source.publish(t, bus.EventEnvelope{
		ExecutionID: "exec-other",
		Event:       bus.EngineEventData{Index: 1, Type: "NODE_STARTED"},
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	var msg eventstream.ServerMessage
	err := conn.ReadJSON(&msg)
	require.Error(t, err, "expected a read timeout, not an event frame for an unsubscribed execution")
}

func TestServeWS_UnsubscribeStopsDelivery(t *testing.T) {
	source := newFakeSource()
	srv := eventstream.New(source, nil, eventstream.Options{BufferSize: 4})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Run(ctx) }()

	httpSrv := httptest.NewServer(http.HandlerFunc(srv.ServeWS))
	defer httpSrv.Close()

	conn := dial(t, httpSrv)
	defer conn.Close()
	_ = readFrame(t, conn) // connected

	require.NoError(t, conn.WriteJSON(eventstream.ClientMessage{Type: eventstream.ClientSubscribe, ExecutionID: "exec-2"}))
	_ = readFrame(t, conn) // subscribed

	require.NoError(t, conn.WriteJSON(eventstream.ClientMessage{Type: eventstream.ClientUnsubscribe, ExecutionID: "exec-2"}))
	unsub := readFrame(t, conn)
	require.Equal(t, eventstream.ServerUnsubscribed, unsub.Type)

	source.publish(t, bus.EventEnvelope{
		ExecutionID: "exec-2",
		Event:       bus.EngineEventData{Index: 1, Type: "NODE_STARTED"},
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	var msg eventstream.ServerMessage
	err := conn.ReadJSON(&msg)
	require.Error(t, err)
}
