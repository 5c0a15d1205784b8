package dispatch

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partyround/roomsync/internal/api"
	"github.com/partyround/roomsync/internal/game"
	"github.com/partyround/roomsync/internal/gameserver"
	"github.com/partyround/roomsync/internal/session"
	"github.com/partyround/roomsync/internal/transport"
	"github.com/partyround/roomsync/internal/types"
)

func newDispatcher(t *testing.T, ts *httptest.Server, playerID string) *Dispatcher {
	t.Helper()
	ws, err := transport.New(ts.URL, transport.Options{BackoffBase: 20 * time.Millisecond}, nil)
	require.NoError(t, err)
	d := New(api.New(ts.URL, nil), ws, playerID, "guess_number", nil)
	t.Cleanup(d.Leave)
	return d
}

func subscribe(t *testing.T, sess *session.Session) chan session.Snapshot {
	t.Helper()
	out := make(chan session.Snapshot, 32)
	sess.Inbox() <- session.Subscribe{ID: t.Name(), Outbox: out}
	return out
}

// waitFor drains snapshots until one satisfies the predicate.
func waitFor(t *testing.T, out chan session.Snapshot, within time.Duration, pred func(game.State) bool) game.State {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case snap, ok := <-out:
			if !ok {
				t.Fatal("snapshot channel closed")
			}
			if pred(snap.State) {
				return snap.State
			}
		case <-deadline:
			t.Fatal("timed out waiting for snapshot condition")
		}
	}
}

func TestDispatcher_CreateJoinStartGuess(t *testing.T) {
	gs := gameserver.New(nil)
	ts := httptest.NewServer(gs.Handler())
	t.Cleanup(ts.Close)

	host := newDispatcher(t, ts, "p1")
	guest := newDispatcher(t, ts, "p2")
	ctx := context.Background()

	hostSess, err := host.CreateRoom(ctx, "Ann")
	require.NoError(t, err)
	hostOut := subscribe(t, hostSess)

	// Seeded from the create response before any push arrives.
	first := waitFor(t, hostOut, 2*time.Second, func(s game.State) bool { return s.Room != nil })
	code := first.Room.Code
	assert.False(t, game.CanStartGame(first, "p1"), "alone in the room")

	// Starting with one player must be rejected server-side too.
	require.Error(t, host.StartGame(ctx))

	guestSess, err := guest.JoinRoom(ctx, code, "Ben")
	require.NoError(t, err)
	guestOut := subscribe(t, guestSess)

	// The join triggers player_joined; the host soft-invalidates and pulls
	// the two-player snapshot.
	s := waitFor(t, hostOut, 3*time.Second, func(s game.State) bool {
		return s.Room != nil && len(s.Room.Players) == 2
	})
	assert.True(t, game.CanStartGame(s, "p1"))

	require.NoError(t, host.StartGame(ctx))

	s = waitFor(t, guestOut, 3*time.Second, func(s game.State) bool {
		return s.Room != nil && s.Room.Status == types.StatusPlaying
	})
	require.NotNil(t, s.Room.CurrentRound)
	assert.Equal(t, game.RoleSuggester, game.RoleFor(s, "p1"))
	assert.Equal(t, game.RoleGuesser, game.RoleFor(s, "p2"))

	require.NoError(t, guest.SubmitGuess(ctx, 42))
	waitFor(t, guestOut, 3*time.Second, func(s game.State) bool {
		p := game.CurrentPlayer(s, "p2")
		return p != nil && p.CurrentGuess != nil && *p.CurrentGuess == 42
	})
}

func TestDispatcher_RoundAndGameFinishedPushes(t *testing.T) {
	gs := gameserver.New(nil)
	ts := httptest.NewServer(gs.Handler())
	t.Cleanup(ts.Close)

	host := newDispatcher(t, ts, "p1")
	ctx := context.Background()

	sess, err := host.CreateRoom(ctx, "Ann")
	require.NoError(t, err)
	out := subscribe(t, sess)
	first := waitFor(t, out, 2*time.Second, func(s game.State) bool { return s.Room != nil })

	gs.Push(first.Room.Code, types.EventRoundFinished,
		types.RoundResult{RoundNumber: 2, TargetNumber: 42})
	s := waitFor(t, out, 3*time.Second, func(s game.State) bool { return s.LastRoundResult != nil })
	assert.Equal(t, 42, s.LastRoundResult.TargetNumber)

	gs.Push(first.Room.Code, types.EventGameFinished, types.GameFinishedPayload{
		Standings: []types.FinalStanding{{PlayerID: "p1", Name: "Ann", Score: 7}},
	})
	s = waitFor(t, out, 3*time.Second, func(s game.State) bool { return len(s.FinalStandings) == 1 })
	assert.Equal(t, types.StatusFinished, s.Room.Status, "optimistic finish before the next snapshot")
}

func TestDispatcher_ActionsWithoutRoom(t *testing.T) {
	gs := gameserver.New(nil)
	ts := httptest.NewServer(gs.Handler())
	t.Cleanup(ts.Close)

	d := newDispatcher(t, ts, "p1")
	assert.ErrorIs(t, d.StartGame(context.Background()), ErrNotInRoom)
	assert.ErrorIs(t, d.SubmitGuess(context.Background(), 1), ErrNotInRoom)
	assert.Nil(t, d.Session())
	d.Leave() // no-op when not in a room
}

func TestDispatcher_FailedActionLeavesStateUntouched(t *testing.T) {
	gs := gameserver.New(nil)
	ts := httptest.NewServer(gs.Handler())
	t.Cleanup(ts.Close)

	host := newDispatcher(t, ts, "p1")
	ctx := context.Background()

	sess, err := host.CreateRoom(ctx, "Ann")
	require.NoError(t, err)
	out := subscribe(t, sess)
	before := waitFor(t, out, 2*time.Second, func(s game.State) bool { return s.Room != nil })

	var apiErr *api.Error
	require.ErrorAs(t, host.StartGame(ctx), &apiErr)

	reply := make(chan session.View, 1)
	sess.Inbox() <- session.GetView{Reply: reply}
	view := <-reply
	assert.Equal(t, types.StatusWaiting, view.State.Room.Status)
	assert.Equal(t, before.Room.Code, view.State.Room.Code)
}

func TestDispatcher_LeaveDisconnects(t *testing.T) {
	gs := gameserver.New(nil)
	ts := httptest.NewServer(gs.Handler())
	t.Cleanup(ts.Close)

	host := newDispatcher(t, ts, "p1")
	_, err := host.CreateRoom(context.Background(), "Ann")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return host.ConnectionStatus() == transport.StatusOpen
	}, 2*time.Second, 10*time.Millisecond)

	host.Leave()
	assert.Equal(t, transport.StatusDisconnected, host.ConnectionStatus())
	assert.Nil(t, host.Session())
}
