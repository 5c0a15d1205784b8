package types

import (
	"encoding/json"
	"time"
)

type RoomStatus string

const (
	StatusWaiting  RoomStatus = "waiting"
	StatusPlaying  RoomStatus = "playing"
	StatusFinished RoomStatus = "finished"
)

type RoundStage string

const (
	StageSuggesting RoundStage = "suggesting"
	StageCollecting RoundStage = "collecting"
	StageScoring    RoundStage = "scoring"
)

type Player struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Score        int       `json:"score"`
	IsHost       bool      `json:"is_host"`
	CurrentGuess *int      `json:"current_guess,omitempty"`
	ConnectedAt  time.Time `json:"connected_at"`
}

// GameRound exists only while the room is playing. The server replaces it
// per round; the client never edits it field by field.
type GameRound struct {
	RoundNumber int                        `json:"round_number"`
	Stage       RoundStage                 `json:"stage"`
	StartedAt   time.Time                  `json:"started_at"`
	FinishedAt  *time.Time                 `json:"finished_at,omitempty"`
	SuggesterID string                     `json:"suggester_id,omitempty"`
	Submissions map[string]json.RawMessage `json:"submissions,omitempty"`
	Results     map[string]int             `json:"results,omitempty"`
}

// Room is the server-authoritative snapshot. Pushes always carry the whole
// object; last write wins, no field-level merging.
type Room struct {
	Code               string     `json:"code"`
	GameType           string     `json:"game_type"`
	Status             RoomStatus `json:"status"`
	HostID             string     `json:"host_id,omitempty"`
	SuggesterID        string     `json:"suggester_id,omitempty"`
	CurrentRoundNumber int        `json:"current_round_number"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	Players            []Player   `json:"players"`
	CurrentRound       *GameRound `json:"current_round,omitempty"`
}

type PlayerResult struct {
	PlayerID     string `json:"player_id"`
	PlayerName   string `json:"player_name"`
	Guess        *int   `json:"guess,omitempty"`
	Distance     *int   `json:"distance,omitempty"`
	PointsEarned int    `json:"points_earned"`
}

type RoundResult struct {
	RoundNumber  int            `json:"round_number"`
	TargetNumber int            `json:"target_number"`
	Results      []PlayerResult `json:"results"`
}

// FinalStanding entries arrive ordered by rank.
type FinalStanding struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
	Score    int    `json:"score"`
}
