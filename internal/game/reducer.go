package game

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/partyround/roomsync/internal/types"
)

var ErrBadPayload = errors.New("malformed event payload")
var ErrServerReported = errors.New("server reported error")

// State is everything the client knows about its room. Room is the
// authoritative snapshot; LastRoundResult and FinalStandings are caches of
// the most recent result-carrying pushes, kept for display between full
// snapshots.
type State struct {
	Room            *types.Room
	LastRoundResult *types.RoundResult
	FinalStandings  []types.FinalStanding
}

// Effect is a side effect the caller must perform after applying an event.
// The reducer itself never touches the transport.
type Effect string

const (
	// EffectRefreshState asks the caller to issue a get_state request.
	// Signal events carry no snapshot; instead of reconstructing membership
	// or scores locally, the client re-pulls the truth.
	EffectRefreshState Effect = "RefreshState"
)

// Apply maps (state, event, payload) to the next state. It is pure: on any
// error the returned state is the input state, and unknown events fall
// through untouched so the server can grow its vocabulary.
func Apply(s State, event string, data json.RawMessage) ([]Effect, State, error) {
	newState := s

	switch event {
	case types.EventRoomState:
		room, err := decodeRoom(event, data)
		if err != nil {
			return nil, s, err
		}
		newState.Room = room
		return nil, newState, nil

	case types.EventGameStarted:
		room, err := decodeRoom(event, data)
		if err != nil {
			return nil, s, err
		}
		newState.Room = room
		newState.LastRoundResult = nil
		return nil, newState, nil

	case types.EventPlayerJoined, types.EventPlayerLeft, types.EventGuessSubmitted:
		return []Effect{EffectRefreshState}, s, nil

	case types.EventRoundStarted:
		newState.LastRoundResult = nil
		return []Effect{EffectRefreshState}, newState, nil

	case types.EventRoundFinished:
		var result types.RoundResult
		if err := json.Unmarshal(data, &result); err != nil {
			return nil, s, fmt.Errorf("%s: %w", event, ErrBadPayload)
		}
		newState.LastRoundResult = &result
		return []Effect{EffectRefreshState}, newState, nil

	case types.EventGameFinished:
		var payload types.GameFinishedPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, s, fmt.Errorf("%s: %w", event, ErrBadPayload)
		}
		newState.FinalStandings = payload.Standings
		if s.Room != nil {
			// Optimistic fallback until the next full snapshot arrives.
			// A later room_state replaces the room wholesale and wins.
			room := *s.Room
			room.Status = types.StatusFinished
			newState.Room = &room
		}
		return nil, newState, nil

	case types.EventError:
		var payload types.ErrorPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, s, fmt.Errorf("%s: %w", event, ErrBadPayload)
		}
		return nil, s, fmt.Errorf("%w: %s", ErrServerReported, payload.Message)

	case types.EventPong:
		// Keepalive reply; the transport already observed the frame.
		return nil, s, nil

	default:
		return nil, s, nil
	}
}

func decodeRoom(event string, data json.RawMessage) (*types.Room, error) {
	var payload types.RoomStatePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%s: %w", event, ErrBadPayload)
	}
	room := payload.Room
	return &room, nil
}
