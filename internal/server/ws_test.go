package server

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"drover/internal/agent"
	"drover/pkg/types"
)

func newWSFixture(t *testing.T) (*fixture, *httptest.Server) {
	t.Helper()
	fx := newFixture(t, nil)
	srv := httptest.NewServer(fx.server.Handler())
	t.Cleanup(srv.Close)
	return fx, srv
}

func dialWS(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// waitForSubscriber blocks until the handler has registered with the
// broadcaster, so published events cannot slip past the subscription.
func waitForSubscriber(t *testing.T, events *agent.Broadcaster) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if events.SubscriberCount() > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("websocket handler never subscribed")
}

func readEvent(t *testing.T, conn *websocket.Conn) agent.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event agent.Event
	require.NoError(t, conn.ReadJSON(&event))
	return event
}

func TestWebSocketStreamsEvents(t *testing.T) {
	t.Parallel()

	fx, srv := newWSFixture(t)
	conn := dialWS(t, srv, "")
	waitForSubscriber(t, fx.events)

	fx.events.Publish(agent.Event{
		Type:   agent.EventRunStarted,
		RunID:  "run_ws",
		Goal:   "stream me",
		Status: types.RunRunning,
	})
	fx.events.Publish(agent.Event{
		Type:      agent.EventStepAppended,
		RunID:     "run_ws",
		Iteration: 1,
		Step:      &types.Step{Kind: types.StepThink},
	})

	first := readEvent(t, conn)
	require.Equal(t, agent.EventRunStarted, first.Type)
	require.Equal(t, "run_ws", first.RunID)
	require.Equal(t, "stream me", first.Goal)

	second := readEvent(t, conn)
	require.Equal(t, agent.EventStepAppended, second.Type)
	require.NotNil(t, second.Step)
	require.Equal(t, types.StepThink, second.Step.Kind)
}

func TestWebSocketFiltersByRunID(t *testing.T) {
	t.Parallel()

	fx, srv := newWSFixture(t)
	conn := dialWS(t, srv, "?run_id=run_a")
	waitForSubscriber(t, fx.events)

	fx.events.Publish(agent.Event{Type: agent.EventRunStarted, RunID: "run_b"})
	fx.events.Publish(agent.Event{Type: agent.EventRunFinished, RunID: "run_a", Status: types.RunCompleted})

	event := readEvent(t, conn)
	require.Equal(t, "run_a", event.RunID)
	require.Equal(t, agent.EventRunFinished, event.Type)
}

func TestWebSocketReplaysHistory(t *testing.T) {
	t.Parallel()

	fx, srv := newWSFixture(t)

	fx.events.Publish(agent.Event{Type: agent.EventRunStarted, RunID: "run_old", Goal: "first"})
	fx.events.Publish(agent.Event{Type: agent.EventRunFinished, RunID: "run_old", Status: types.RunCompleted})

	conn := dialWS(t, srv, "?replay=true")

	first := readEvent(t, conn)
	require.Equal(t, agent.EventRunStarted, first.Type)
	require.Equal(t, "first", first.Goal)

	second := readEvent(t, conn)
	require.Equal(t, agent.EventRunFinished, second.Type)

	// Live events keep flowing after the replay.
	waitForSubscriber(t, fx.events)
	fx.events.Publish(agent.Event{Type: agent.EventRunStarted, RunID: "run_new"})
	third := readEvent(t, conn)
	require.Equal(t, "run_new", third.RunID)
}

func TestWebSocketClientDisconnectUnsubscribes(t *testing.T) {
	t.Parallel()

	fx, srv := newWSFixture(t)
	conn := dialWS(t, srv, "")
	waitForSubscriber(t, fx.events)

	require.NoError(t, conn.Close())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if fx.events.SubscriberCount() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("subscription outlived the connection")
}
