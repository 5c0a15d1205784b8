// Package dispatch translates user intents into one-shot requests and keeps
// the session and transport for the active room membership wired together.
// On every successful action it re-requests state over the socket rather
// than trusting the action response to be the latest word.
package dispatch

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/partyround/roomsync/internal/api"
	"github.com/partyround/roomsync/internal/session"
	"github.com/partyround/roomsync/internal/transport"
	"github.com/partyround/roomsync/internal/types"
)

var ErrNotInRoom = errors.New("not in a room")

type Dispatcher struct {
	api      *api.Client
	ws       *transport.Client
	log      *zap.Logger
	playerID string
	gameType string

	mu       sync.Mutex
	sess     *session.Session
	roomCode string
}

func New(apiClient *api.Client, ws *transport.Client, playerID, gameType string, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{api: apiClient, ws: ws, playerID: playerID, gameType: gameType, log: log}
}

func (d *Dispatcher) CreateRoom(ctx context.Context, playerName string) (*session.Session, error) {
	resp, err := d.api.CreateRoom(ctx, d.gameType, playerName, d.playerID)
	if err != nil {
		return nil, err
	}
	return d.attach(resp.Room), nil
}

func (d *Dispatcher) JoinRoom(ctx context.Context, code, playerName string) (*session.Session, error) {
	resp, err := d.api.JoinRoom(ctx, d.gameType, code, playerName, d.playerID)
	if err != nil {
		return nil, err
	}
	return d.attach(resp.Room), nil
}

// attach seeds a fresh session from the action response and points the
// transport at it. Any previous membership is torn down first; the client
// holds at most one.
func (d *Dispatcher) attach(room types.Room) *session.Session {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sess != nil {
		d.ws.Disconnect()
		d.sess.Inbox() <- session.Shutdown{}
	}

	sess := session.New(context.Background(), d.playerID, d.ws, d.log)
	sess.Inbox() <- session.SetRoom{Room: room}
	d.ws.Connect(room.Code, d.playerID, d.gameType, sess.Handler())

	d.sess = sess
	d.roomCode = room.Code
	d.log.Info("joined room", zap.String("code", room.Code))
	return sess
}

func (d *Dispatcher) StartGame(ctx context.Context) error {
	code, err := d.currentRoom()
	if err != nil {
		return err
	}
	if _, err := d.api.StartGame(ctx, d.gameType, code, d.playerID); err != nil {
		return err
	}
	d.ws.RequestState()
	return nil
}

func (d *Dispatcher) SubmitGuess(ctx context.Context, guess int) error {
	code, err := d.currentRoom()
	if err != nil {
		return err
	}
	if _, err := d.api.SubmitGuess(ctx, d.gameType, code, d.playerID, guess); err != nil {
		return err
	}
	d.ws.RequestState()
	return nil
}

// ExecuteAction passes a game-specific action through untyped, for games
// whose actions have no convenience wrapper.
func (d *Dispatcher) ExecuteAction(ctx context.Context, action any) error {
	code, err := d.currentRoom()
	if err != nil {
		return err
	}
	if _, err := d.api.ExecuteAction(ctx, d.gameType, code, d.playerID, action); err != nil {
		return err
	}
	d.ws.RequestState()
	return nil
}

// Leave drops the membership: disconnects the transport and shuts the
// session down. Safe to call when not in a room.
func (d *Dispatcher) Leave() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sess == nil {
		return
	}
	d.ws.Disconnect()
	d.sess.Inbox() <- session.Shutdown{}
	d.sess = nil
	d.roomCode = ""
}

func (d *Dispatcher) Session() *session.Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sess
}

// ConnectionStatus exposes the transport state so a caller can render a
// disconnected indicator; the transport itself never raises an error for an
// exhausted retry budget.
func (d *Dispatcher) ConnectionStatus() transport.Status {
	return d.ws.Status()
}

func (d *Dispatcher) currentRoom() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.roomCode == "" {
		return "", ErrNotInRoom
	}
	return d.roomCode, nil
}
