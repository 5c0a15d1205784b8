package types

import "encoding/json"

// Envelope is the message shape in both directions on the socket.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Server -> client events.
const (
	EventRoomState      = "room_state"
	EventPlayerJoined   = "player_joined"
	EventPlayerLeft     = "player_left"
	EventGameStarted    = "game_started"
	EventRoundStarted   = "round_started"
	EventRoundFinished  = "round_finished"
	EventGameFinished   = "game_finished"
	EventGuessSubmitted = "guess_submitted"
	EventError          = "error"
	EventPong           = "pong"
)

// Client -> server control events.
const (
	EventPing     = "ping"
	EventGetState = "get_state"
)

type RoomStatePayload struct {
	Room Room `json:"room"`
}

type GameFinishedPayload struct {
	Standings []FinalStanding `json:"standings"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
