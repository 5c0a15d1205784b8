// Package session owns the local room snapshot for one membership. A single
// goroutine applies every inbound event through the reducer, performs the
// refresh side effects, and fans versioned snapshots out to subscribers, so
// event application is atomic and strictly ordered.
package session

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/partyround/roomsync/internal/game"
	"github.com/partyround/roomsync/internal/types"
)

type Msg interface{ isSessionMsg() }

// FromServer carries one inbound event off the transport.
type FromServer struct {
	Event string
	Data  json.RawMessage
}

func (FromServer) isSessionMsg() {}

type Subscribe struct {
	ID     string
	Outbox chan Snapshot // receives the current snapshot immediately, then every change
}

func (Subscribe) isSessionMsg() {}

type Unsubscribe struct{ ID string }

func (Unsubscribe) isSessionMsg() {}

// SetRoom seeds the snapshot from a one-shot action response (create/join).
type SetRoom struct{ Room types.Room }

func (SetRoom) isSessionMsg() {}

type GetView struct {
	Reply chan View
}

func (GetView) isSessionMsg() {}

type Shutdown struct{}

func (Shutdown) isSessionMsg() {}

type Snapshot struct {
	Version int
	State   game.State
}

// View reflects internal state without data races; used by tests and status
// displays.
type View struct {
	Version        int
	NumSubscribers int
	PlayerID       string
	State          game.State
}

// StateRequester is the soft-invalidate hook; the transport implements it.
type StateRequester interface {
	RequestState()
}

type Session struct {
	inbox     chan Msg
	state     game.State
	version   int
	playerID  string
	requester StateRequester
	subs      map[string]chan Snapshot
	log       *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

func New(parent context.Context, playerID string, requester StateRequester, log *zap.Logger) *Session {
	ctx, cancel := context.WithCancel(parent)
	if log == nil {
		log = zap.NewNop()
	}
	s := &Session{
		inbox:     make(chan Msg, 64),
		playerID:  playerID,
		requester: requester,
		subs:      make(map[string]chan Snapshot),
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
	}
	go s.loop()
	return s
}

func (s *Session) Inbox() chan<- Msg { return s.inbox }

func (s *Session) PlayerID() string { return s.playerID }

// Handler adapts the inbox to the transport's event sink. Posting blocks the
// transport's read goroutine, which is what preserves delivery order.
func (s *Session) Handler() func(event string, data json.RawMessage) {
	return func(event string, data json.RawMessage) {
		select {
		case s.inbox <- FromServer{Event: event, Data: data}:
		case <-s.ctx.Done():
		}
	}
}

func (s *Session) loop() {
	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return

		case m := <-s.inbox:
			switch msg := m.(type) {
			case FromServer:
				s.apply(msg.Event, msg.Data)

			case SetRoom:
				room := msg.Room
				s.state.Room = &room
				s.version++
				s.broadcast()

			case Subscribe:
				s.subs[msg.ID] = msg.Outbox
				msg.Outbox <- Snapshot{Version: s.version, State: s.state}

			case Unsubscribe:
				delete(s.subs, msg.ID)

			case GetView:
				msg.Reply <- View{
					Version:        s.version,
					NumSubscribers: len(s.subs),
					PlayerID:       s.playerID,
					State:          s.state,
				}

			case Shutdown:
				s.shutdown()
				return
			}
		}
	}
}

func (s *Session) apply(event string, data json.RawMessage) {
	effects, next, err := game.Apply(s.state, event, data)
	if err != nil {
		// Bad payloads and server-reported errors never corrupt the
		// snapshot; log and move on.
		s.log.Warn("event dropped", zap.String("event", event), zap.Error(err))
		return
	}

	if stateChanged(s.state, next) {
		s.state = next
		s.version++
		s.broadcast()
	}

	for _, effect := range effects {
		if effect == game.EffectRefreshState && s.requester != nil {
			s.requester.RequestState()
		}
	}
}

// stateChanged is a referential-equality check: the reducer replaces parts
// wholesale, so pointer identity is enough to detect a change.
func stateChanged(old, next game.State) bool {
	return old.Room != next.Room ||
		old.LastRoundResult != next.LastRoundResult ||
		!sameStandings(old.FinalStandings, next.FinalStandings)
}

func sameStandings(a, b []types.FinalStanding) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return true
	}
	return &a[0] == &b[0]
}

func (s *Session) broadcast() {
	snap := Snapshot{Version: s.version, State: s.state}
	for id, ch := range s.subs {
		select {
		case ch <- snap:
		default:
			// Subscriber is slow/full - drop them.
			close(ch)
			delete(s.subs, id)
		}
	}
}

func (s *Session) shutdown() {
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.cancel()
}
