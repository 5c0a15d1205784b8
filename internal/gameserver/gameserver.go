// Package gameserver is an in-process stand-in for the real game server,
// used by the transport, api, and dispatch tests. It speaks the same REST
// endpoints and websocket envelope. It is test infrastructure; the real
// server stays a black box.
package gameserver

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"math/big"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/partyround/roomsync/internal/types"
)

const codeLength = 4

type Server struct {
	log *zap.Logger

	mu    sync.Mutex
	rooms map[string]*roomState

	dials    atomic.Int64
	rejectWS atomic.Bool
}

type roomState struct {
	room  types.Room
	conns map[string]*websocket.Conn
}

func New(log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{log: log, rooms: make(map[string]*roomState)}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/api/games", s.gamesInfo)
	r.Route("/api/games/{game}/rooms", func(r chi.Router) {
		r.Post("/", s.createRoom)
		r.Post("/{code}/join", s.joinRoom)
		r.Get("/{code}", s.getRoom)
		r.Post("/{code}/actions", s.executeAction)
		r.Get("/{code}/ws", s.serveWS)
	})
	return r
}

// DialCount reports how many websocket upgrade requests arrived; reconnect
// tests count attempts with it.
func (s *Server) DialCount() int64 { return s.dials.Load() }

// SetRejectWS makes the ws endpoint refuse upgrades, simulating an
// unreachable push channel while REST stays up.
func (s *Server) SetRejectWS(reject bool) { s.rejectWS.Store(reject) }

// Push broadcasts an arbitrary event to every connection in a room, letting
// tests script server-side pushes like round_finished.
func (s *Server) Push(code, event string, data any) {
	s.mu.Lock()
	st := s.rooms[code]
	var conns []*websocket.Conn
	if st != nil {
		for _, c := range st.conns {
			conns = append(conns, c)
		}
	}
	s.mu.Unlock()
	for _, c := range conns {
		s.send(c, event, data)
	}
}

// CloseConnections force-closes every websocket in a room, simulating a
// server-side drop.
func (s *Server) CloseConnections(code string) {
	s.mu.Lock()
	st := s.rooms[code]
	var conns []*websocket.Conn
	if st != nil {
		for _, c := range st.conns {
			conns = append(conns, c)
		}
	}
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.CloseNow()
	}
}

// Room returns a copy of the current room snapshot.
func (s *Server) Room(code string) (types.Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.rooms[code]
	if !ok {
		return types.Room{}, false
	}
	return st.room, true
}

func (s *Server) gamesInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.GamesInfoResponse{
		Games: []types.GameInfo{{
			GameType:    "guess_number",
			DisplayName: "Guess the Number",
			IsDefault:   true,
		}},
		DefaultGame: "guess_number",
	})
}

type joinRequest struct {
	PlayerName string `json:"player_name"`
	PlayerID   string `json:"player_id"`
}

func (s *Server) createRoom(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid body")
		return
	}

	code, err := generateCode()
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "failed to generate code")
		return
	}

	now := time.Now().UTC()
	room := types.Room{
		Code:      code,
		GameType:  chi.URLParam(r, "game"),
		Status:    types.StatusWaiting,
		HostID:    req.PlayerID,
		CreatedAt: now,
		UpdatedAt: now,
		Players: []types.Player{{
			ID:          req.PlayerID,
			Name:        req.PlayerName,
			IsHost:      true,
			ConnectedAt: now,
		}},
	}

	s.mu.Lock()
	s.rooms[code] = &roomState{room: room, conns: make(map[string]*websocket.Conn)}
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, types.RoomResponse{Room: room, PlayerID: req.PlayerID})
}

func (s *Server) joinRoom(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid body")
		return
	}

	code := chi.URLParam(r, "code")
	s.mu.Lock()
	st, ok := s.rooms[code]
	if !ok {
		s.mu.Unlock()
		writeDetail(w, http.StatusNotFound, "Room not found")
		return
	}
	if st.room.Status != types.StatusWaiting {
		s.mu.Unlock()
		writeDetail(w, http.StatusBadRequest, "Game has already started")
		return
	}
	member := false
	for _, p := range st.room.Players {
		if p.ID == req.PlayerID {
			member = true
		}
	}
	if !member {
		st.room.Players = append(st.room.Players, types.Player{
			ID:          req.PlayerID,
			Name:        req.PlayerName,
			ConnectedAt: time.Now().UTC(),
		})
		st.room.UpdatedAt = time.Now().UTC()
	}
	room := st.room
	s.mu.Unlock()

	if !member {
		s.Push(code, types.EventPlayerJoined, struct{}{})
	}
	writeJSON(w, http.StatusOK, types.RoomResponse{Room: room, PlayerID: req.PlayerID})
}

func (s *Server) getRoom(w http.ResponseWriter, r *http.Request) {
	room, ok := s.Room(chi.URLParam(r, "code"))
	if !ok {
		writeDetail(w, http.StatusNotFound, "Room not found")
		return
	}
	writeJSON(w, http.StatusOK, room)
}

type actionRequest struct {
	Action string `json:"action"`
	Guess  *int   `json:"guess,omitempty"`
}

func (s *Server) executeAction(w http.ResponseWriter, r *http.Request) {
	playerID := r.URL.Query().Get("player_id")
	code := chi.URLParam(r, "code")

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid body")
		return
	}

	switch req.Action {
	case "start_game":
		s.startGame(w, code, playerID)
	case "submit_guess":
		s.submitGuess(w, code, playerID, req.Guess)
	default:
		writeJSON(w, http.StatusOK, types.ActionResponse{
			Success: false,
			Message: "Unknown action: " + req.Action,
		})
	}
}

func (s *Server) startGame(w http.ResponseWriter, code, playerID string) {
	s.mu.Lock()
	st, ok := s.rooms[code]
	if !ok {
		s.mu.Unlock()
		writeDetail(w, http.StatusNotFound, "Room not found")
		return
	}
	switch {
	case st.room.HostID != playerID:
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, types.ActionResponse{Success: false, Message: "Only the host can start the game"})
		return
	case len(st.room.Players) < 2:
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, types.ActionResponse{Success: false, Message: "Need at least 2 players to start"})
		return
	case st.room.Status != types.StatusWaiting:
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, types.ActionResponse{Success: false, Message: "Game has already started"})
		return
	}

	now := time.Now().UTC()
	st.room.Status = types.StatusPlaying
	st.room.CurrentRoundNumber = 1
	st.room.SuggesterID = st.room.Players[0].ID
	st.room.CurrentRound = &types.GameRound{
		RoundNumber: 1,
		Stage:       types.StageCollecting,
		StartedAt:   now,
		SuggesterID: st.room.Players[0].ID,
	}
	st.room.UpdatedAt = now
	room := st.room
	s.mu.Unlock()

	s.Push(code, types.EventGameStarted, types.RoomStatePayload{Room: room})
	writeJSON(w, http.StatusOK, types.ActionResponse{Success: true, Message: "Game started", Room: &room})
}

func (s *Server) submitGuess(w http.ResponseWriter, code, playerID string, guess *int) {
	if guess == nil {
		writeJSON(w, http.StatusOK, types.ActionResponse{Success: false, Message: "Guess is required"})
		return
	}

	s.mu.Lock()
	st, ok := s.rooms[code]
	if !ok {
		s.mu.Unlock()
		writeDetail(w, http.StatusNotFound, "Room not found")
		return
	}
	if st.room.Status != types.StatusPlaying {
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, types.ActionResponse{Success: false, Message: "Game is not in progress"})
		return
	}
	found := false
	for i := range st.room.Players {
		if st.room.Players[i].ID == playerID {
			g := *guess
			st.room.Players[i].CurrentGuess = &g
			found = true
		}
	}
	s.mu.Unlock()

	if !found {
		writeJSON(w, http.StatusOK, types.ActionResponse{Success: false, Message: "Player not found in room"})
		return
	}
	s.Push(code, types.EventGuessSubmitted, struct{}{})
	writeJSON(w, http.StatusOK, types.ActionResponse{Success: true, Message: "Guess submitted"})
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	s.dials.Add(1)
	if s.rejectWS.Load() {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	code := chi.URLParam(r, "code")
	playerID := r.URL.Query().Get("player_id")

	s.mu.Lock()
	st, ok := s.rooms[code]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	s.mu.Lock()
	st.conns[playerID] = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(st.conns, playerID)
		s.mu.Unlock()
		s.Push(code, types.EventPlayerLeft, struct{}{})
	}()

	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}
		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.send(conn, types.EventError, types.ErrorPayload{Message: "Invalid JSON"})
			continue
		}

		switch env.Event {
		case types.EventPing:
			s.send(conn, types.EventPong, struct{}{})
		case types.EventGetState:
			room, ok := s.Room(code)
			if !ok {
				s.send(conn, types.EventError, types.ErrorPayload{Message: "Room not found"})
				continue
			}
			s.send(conn, types.EventRoomState, types.RoomStatePayload{Room: room})
		}
	}
}

func (s *Server) send(conn *websocket.Conn, event string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	payload, err := json.Marshal(types.Envelope{Event: event, Data: raw})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = conn.Write(ctx, websocket.MessageText, payload)
}

func generateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	code := make([]byte, codeLength)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, struct {
		Detail string `json:"detail"`
	}{Detail: detail})
}
