package game

import (
	"context"
	"time"

	"github.com/partyround/roomsync/internal/types"
)

// Derived, read-only projections over State. All of these recompute from the
// snapshot on every call; none of them cache or mutate.

type Role string

const (
	RoleSuggester Role = "suggester"
	RoleGuesser   Role = "guesser"
	RoleWaiting   Role = "waiting"
)

// CurrentPlayer returns a copy of the snapshot player matching the local
// session id, or nil when the local player is not (yet) a member.
func CurrentPlayer(s State, playerID string) *types.Player {
	if s.Room == nil || playerID == "" {
		return nil
	}
	for i := range s.Room.Players {
		if s.Room.Players[i].ID == playerID {
			p := s.Room.Players[i]
			return &p
		}
	}
	return nil
}

func IsHost(s State, playerID string) bool {
	p := CurrentPlayer(s, playerID)
	return p != nil && p.IsHost
}

const minPlayersToStart = 2

// CanStartGame re-checks the start rule even though the UI disables the
// action: host only, room still waiting, at least two players.
func CanStartGame(s State, playerID string) bool {
	return IsHost(s, playerID) &&
		s.Room.Status == types.StatusWaiting &&
		len(s.Room.Players) >= minPlayersToStart
}

// Suggester resolves the server-assigned suggester for the current round,
// falling back to the room-level assignment. Nil when nobody is designated
// or the designated id is not a member; callers render a neutral waiting
// view in that case rather than guessing.
func Suggester(s State) *types.Player {
	if s.Room == nil {
		return nil
	}
	id := s.Room.SuggesterID
	if s.Room.CurrentRound != nil && s.Room.CurrentRound.SuggesterID != "" {
		id = s.Room.CurrentRound.SuggesterID
	}
	return CurrentPlayer(s, id)
}

// RoleFor classifies the local player for the round screens.
func RoleFor(s State, playerID string) Role {
	if CurrentPlayer(s, playerID) == nil {
		return RoleWaiting
	}
	suggester := Suggester(s)
	if suggester == nil {
		return RoleWaiting
	}
	if suggester.ID == playerID {
		return RoleSuggester
	}
	return RoleGuesser
}

// TimeRemaining computes the remaining round time purely from the
// server-provided start timestamp, so a reload or late join reconstructs the
// correct value without any client-started countdown.
func TimeRemaining(round *types.GameRound, now time.Time, duration time.Duration) time.Duration {
	if round == nil {
		return 0
	}
	remaining := duration - now.Sub(round.StartedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Countdown emits TimeRemaining on a fixed tick until it reaches zero or the
// context is cancelled. The channel is closed when the countdown ends.
func Countdown(ctx context.Context, round *types.GameRound, duration, interval time.Duration) <-chan time.Duration {
	out := make(chan time.Duration, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			remaining := TimeRemaining(round, time.Now(), duration)
			select {
			case out <- remaining:
			case <-ctx.Done():
				return
			}
			if remaining == 0 {
				return
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
