package types

// RoomResponse is returned by the create and join endpoints. The player id it
// echoes back must match the id the client presented.
type RoomResponse struct {
	Room     Room   `json:"room"`
	PlayerID string `json:"player_id"`
}

type ActionResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	Room    *Room          `json:"room,omitempty"`
}

type ActionField struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Min         *int   `json:"min,omitempty"`
	Max         *int   `json:"max,omitempty"`
	Description string `json:"description,omitempty"`
}

type GameAction struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Fields      []ActionField `json:"fields,omitempty"`
}

type GameInfo struct {
	GameType    string       `json:"game_type"`
	DisplayName string       `json:"display_name"`
	Description string       `json:"description,omitempty"`
	IsDefault   bool         `json:"is_default"`
	Actions     []GameAction `json:"actions,omitempty"`
}

type GamesInfoResponse struct {
	Games       []GameInfo `json:"games"`
	DefaultGame string     `json:"default_game"`
}
