// Package api wraps the game server's one-shot action endpoints. Each call
// either succeeds with a typed response or rejects with a human-readable
// *Error; failures never touch client state.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/partyround/roomsync/internal/types"
)

// Error carries the server's rejection back to the caller.
type Error struct {
	Status int
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Detail)
}

type Client struct {
	http *http.Client
	base string
	log  *zap.Logger

	mu          sync.Mutex
	defaultGame string
}

func New(baseURL string, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		http:        &http.Client{},
		base:        strings.TrimRight(baseURL, "/"),
		log:         log,
		defaultGame: "guess_number",
	}
}

// DefaultGameType returns the server's advertised default once GamesInfo has
// run, the built-in fallback before that.
func (c *Client) DefaultGameType() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.defaultGame
}

// GamesInfo lists the games the server offers and refreshes the default.
func (c *Client) GamesInfo(ctx context.Context) (*types.GamesInfoResponse, error) {
	var out types.GamesInfoResponse
	if err := c.do(ctx, http.MethodGet, "/api/games", nil, &out); err != nil {
		return nil, err
	}
	if out.DefaultGame != "" {
		c.mu.Lock()
		c.defaultGame = out.DefaultGame
		c.mu.Unlock()
	}
	return &out, nil
}

type joinBody struct {
	PlayerName string `json:"player_name"`
	PlayerID   string `json:"player_id"`
}

func (c *Client) CreateRoom(ctx context.Context, gameType, playerName, playerID string) (*types.RoomResponse, error) {
	var out types.RoomResponse
	p := fmt.Sprintf("/api/games/%s/rooms", c.game(gameType))
	if err := c.do(ctx, http.MethodPost, p, joinBody{PlayerName: playerName, PlayerID: playerID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) JoinRoom(ctx context.Context, gameType, code, playerName, playerID string) (*types.RoomResponse, error) {
	var out types.RoomResponse
	p := fmt.Sprintf("/api/games/%s/rooms/%s/join", c.game(gameType), strings.ToUpper(code))
	if err := c.do(ctx, http.MethodPost, p, joinBody{PlayerName: playerName, PlayerID: playerID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetRoom(ctx context.Context, gameType, code string) (*types.Room, error) {
	var out types.Room
	p := fmt.Sprintf("/api/games/%s/rooms/%s", c.game(gameType), strings.ToUpper(code))
	if err := c.do(ctx, http.MethodGet, p, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExecuteAction posts a game action. A response with success=false is
// returned as an *Error, same as an HTTP-level rejection.
func (c *Client) ExecuteAction(ctx context.Context, gameType, code, playerID string, action any) (*types.ActionResponse, error) {
	var out types.ActionResponse
	p := fmt.Sprintf("/api/games/%s/rooms/%s/actions?player_id=%s",
		c.game(gameType), strings.ToUpper(code), playerID)
	if err := c.do(ctx, http.MethodPost, p, action, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		detail := out.Message
		if detail == "" {
			detail = "action rejected"
		}
		return nil, &Error{Status: http.StatusOK, Detail: detail}
	}
	return &out, nil
}

type startGameAction struct {
	Action string `json:"action"`
}

type submitGuessAction struct {
	Action string `json:"action"`
	Guess  int    `json:"guess"`
}

func (c *Client) StartGame(ctx context.Context, gameType, code, playerID string) (*types.ActionResponse, error) {
	return c.ExecuteAction(ctx, gameType, code, playerID, startGameAction{Action: "start_game"})
}

func (c *Client) SubmitGuess(ctx context.Context, gameType, code, playerID string, guess int) (*types.ActionResponse, error) {
	return c.ExecuteAction(ctx, gameType, code, playerID, submitGuessAction{Action: "submit_guess", Guess: guess})
}

func (c *Client) game(gameType string) string {
	if gameType != "" {
		return gameType
	}
	return c.DefaultGameType()
}

func (c *Client) do(ctx context.Context, method, p string, body, out any) error {
	var payload *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		payload = bytes.NewReader(raw)
	} else {
		payload = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+p, payload)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, p, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		detail := struct {
			Detail string `json:"detail"`
		}{}
		_ = json.NewDecoder(resp.Body).Decode(&detail)
		if detail.Detail == "" {
			detail.Detail = http.StatusText(resp.StatusCode)
		}
		c.log.Debug("request rejected",
			zap.String("path", p),
			zap.Int("status", resp.StatusCode),
			zap.String("detail", detail.Detail))
		return &Error{Status: resp.StatusCode, Detail: detail.Detail}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
