package transport

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partyround/roomsync/internal/api"
	"github.com/partyround/roomsync/internal/gameserver"
	"github.com/partyround/roomsync/internal/types"
)

func TestBackoffDelay_Sequence(t *testing.T) {
	base := time.Second
	want := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, BackoffDelay(base, i+1))
	}
	assert.Equal(t, base, BackoffDelay(base, 0), "defensive floor for bad attempt numbers")
}

type capturedEvent struct {
	event string
	data  json.RawMessage
}

func recvEvent(t *testing.T, ch <-chan capturedEvent, want string, within time.Duration) capturedEvent {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case ev := <-ch:
			if ev.event == want {
				return ev
			}
			// skip interleaved keepalive replies etc.
		case <-deadline:
			t.Fatalf("timed out waiting for %q event", want)
			return capturedEvent{} // unreachable
		}
	}
}

func newTestServer(t *testing.T) (*gameserver.Server, *httptest.Server, string) {
	t.Helper()
	gs := gameserver.New(nil)
	ts := httptest.NewServer(gs.Handler())
	t.Cleanup(ts.Close)

	resp, err := api.New(ts.URL, nil).CreateRoom(context.Background(), "guess_number", "Ann", "p1")
	require.NoError(t, err)
	return gs, ts, resp.Room.Code
}

func collector() (Handler, chan capturedEvent) {
	events := make(chan capturedEvent, 32)
	return func(event string, data json.RawMessage) {
		events <- capturedEvent{event: event, data: data}
	}, events
}

func TestClient_ConnectRequestsStateAndGoesOpen(t *testing.T) {
	_, ts, code := newTestServer(t)

	c, err := New(ts.URL, Options{BackoffBase: 10 * time.Millisecond}, nil)
	require.NoError(t, err)

	h, events := collector()
	c.Connect(code, "p1", "guess_number", h)
	defer c.Disconnect()

	ev := recvEvent(t, events, types.EventRoomState, 2*time.Second)
	var payload types.RoomStatePayload
	require.NoError(t, json.Unmarshal(ev.data, &payload))
	assert.Equal(t, code, payload.Room.Code)
	assert.Equal(t, StatusOpen, c.Status())
}

func TestClient_ServerPushReachesHandler(t *testing.T) {
	gs, ts, code := newTestServer(t)

	c, err := New(ts.URL, Options{}, nil)
	require.NoError(t, err)

	h, events := collector()
	c.Connect(code, "p1", "guess_number", h)
	defer c.Disconnect()
	recvEvent(t, events, types.EventRoomState, 2*time.Second)

	gs.Push(code, types.EventRoundFinished, types.RoundResult{RoundNumber: 2, TargetNumber: 42})

	ev := recvEvent(t, events, types.EventRoundFinished, 2*time.Second)
	var result types.RoundResult
	require.NoError(t, json.Unmarshal(ev.data, &result))
	assert.Equal(t, 42, result.TargetNumber)
}

func TestClient_KeepaliveSendsPing(t *testing.T) {
	_, ts, code := newTestServer(t)

	c, err := New(ts.URL, Options{KeepalivePeriod: 50 * time.Millisecond}, nil)
	require.NoError(t, err)

	h, events := collector()
	c.Connect(code, "p1", "guess_number", h)
	defer c.Disconnect()

	// The fake server answers every ping with a pong.
	recvEvent(t, events, types.EventPong, 2*time.Second)
}

func TestClient_SendWhileDisconnectedIsDropped(t *testing.T) {
	c, err := New("http://127.0.0.1:1", Options{}, nil)
	require.NoError(t, err)

	c.Send("anything", struct{}{})
	c.RequestState()
	assert.Equal(t, StatusDisconnected, c.Status())
}

func TestClient_RetryBudgetExhausted_StaysDisconnected(t *testing.T) {
	gs, ts, code := newTestServer(t)
	gs.SetRejectWS(true)

	c, err := New(ts.URL, Options{BackoffBase: 10 * time.Millisecond, RetryBudget: 2}, nil)
	require.NoError(t, err)

	h, _ := collector()
	c.Connect(code, "p1", "guess_number", h)

	// initial dial + 2 retries, then give up
	require.Eventually(t, func() bool { return gs.DialCount() == 3 },
		2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return c.Status() == StatusDisconnected },
		2*time.Second, 10*time.Millisecond)

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int64(3), gs.DialCount(), "no attempts beyond the budget")
}

func TestClient_ExplicitConnectAfterExhaustionStartsFreshBudget(t *testing.T) {
	gs, ts, code := newTestServer(t)
	gs.SetRejectWS(true)

	c, err := New(ts.URL, Options{BackoffBase: 5 * time.Millisecond, RetryBudget: 1}, nil)
	require.NoError(t, err)

	h, events := collector()
	c.Connect(code, "p1", "guess_number", h)
	require.Eventually(t, func() bool { return c.Status() == StatusDisconnected },
		2*time.Second, 5*time.Millisecond)

	gs.SetRejectWS(false)
	c.Connect(code, "p1", "guess_number", h)
	defer c.Disconnect()

	recvEvent(t, events, types.EventRoomState, 2*time.Second)
	assert.Equal(t, StatusOpen, c.Status())
}

func TestClient_DisconnectCancelsScheduledReconnect(t *testing.T) {
	gs, ts, code := newTestServer(t)
	gs.SetRejectWS(true)

	c, err := New(ts.URL, Options{BackoffBase: 300 * time.Millisecond, RetryBudget: 5}, nil)
	require.NoError(t, err)

	h, _ := collector()
	c.Connect(code, "p1", "guess_number", h)

	// First dial fails; a reconnect is now scheduled 300ms out.
	require.Eventually(t, func() bool { return gs.DialCount() == 1 },
		2*time.Second, 5*time.Millisecond)
	c.Disconnect()

	// Advance well past the scheduled delay: nothing may fire.
	time.Sleep(700 * time.Millisecond)
	assert.Equal(t, int64(1), gs.DialCount(), "disconnect must cancel the pending reconnect")
	assert.Equal(t, StatusDisconnected, c.Status())
}

func TestClient_DisconnectIsIdempotent(t *testing.T) {
	_, ts, code := newTestServer(t)

	c, err := New(ts.URL, Options{}, nil)
	require.NoError(t, err)

	c.Disconnect() // never connected
	c.Disconnect()

	h, events := collector()
	c.Connect(code, "p1", "guess_number", h)
	recvEvent(t, events, types.EventRoomState, 2*time.Second)

	c.Disconnect()
	c.Disconnect()
	assert.Equal(t, StatusDisconnected, c.Status())
}

func TestClient_ReconnectsAfterConnectionDrop(t *testing.T) {
	gs, ts, code := newTestServer(t)

	c, err := New(ts.URL, Options{BackoffBase: 20 * time.Millisecond}, nil)
	require.NoError(t, err)

	h, events := collector()
	c.Connect(code, "p1", "guess_number", h)
	defer c.Disconnect()
	recvEvent(t, events, types.EventRoomState, 2*time.Second)

	gs.CloseConnections(code)

	// A fresh dial arrives and the new connection re-requests state, so the
	// client is never stale after the drop.
	require.Eventually(t, func() bool { return gs.DialCount() >= 2 },
		3*time.Second, 10*time.Millisecond)
	recvEvent(t, events, types.EventRoomState, 3*time.Second)
	assert.Equal(t, StatusOpen, c.Status())
}
