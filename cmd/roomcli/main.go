package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/partyround/roomsync/internal/api"
	"github.com/partyround/roomsync/internal/config"
	"github.com/partyround/roomsync/internal/dispatch"
	"github.com/partyround/roomsync/internal/game"
	"github.com/partyround/roomsync/internal/identity"
	"github.com/partyround/roomsync/internal/session"
	"github.com/partyround/roomsync/internal/transport"
	"github.com/partyround/roomsync/internal/types"
)

func main() {
	name := flag.String("name", "", "player name")
	join := flag.String("join", "", "room code to join (create a room when empty)")
	resetID := flag.Bool("reset-identity", false, "generate a fresh player id before connecting")
	flag.Parse()

	if *name == "" {
		fmt.Fprintln(os.Stderr, "usage: roomcli -name NAME [-join CODE]")
		os.Exit(2)
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(logger, *name, *join, *resetID); err != nil {
		logger.Fatal("roomcli failed", zap.Error(err))
	}
}

func run(logger *zap.Logger, name, join string, resetID bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ids, err := identity.NewStore(cfg.IdentityPath)
	if err != nil {
		return err
	}
	playerID, err := ids.PlayerID()
	if err != nil {
		return err
	}
	if resetID {
		if playerID, err = ids.Reset(); err != nil {
			return err
		}
	}

	apiClient := api.New(cfg.ServerURL, logger)
	ws, err := transport.New(cfg.ServerURL, transport.Options{
		KeepalivePeriod: cfg.KeepalivePeriod,
		RetryBudget:     cfg.RetryBudget,
		BackoffBase:     cfg.BackoffBase,
	}, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := apiClient.GamesInfo(ctx); err != nil {
		logger.Warn("games info unavailable, using defaults", zap.Error(err))
	}

	d := dispatch.New(apiClient, ws, playerID, cfg.GameType, logger)
	defer d.Leave()

	var sess *session.Session
	if join == "" {
		sess, err = d.CreateRoom(ctx, name)
	} else {
		sess, err = d.JoinRoom(ctx, join, name)
	}
	if err != nil {
		return err
	}

	out := make(chan session.Snapshot, 8)
	sess.Inbox() <- session.Subscribe{ID: "cli", Outbox: out}

	lines := readLines(ctx)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var stopCountdown context.CancelFunc
		defer func() {
			if stopCountdown != nil {
				stopCountdown()
			}
		}()

		var activeRound int
		for {
			select {
			case <-ctx.Done():
				return nil
			case snap, ok := <-out:
				if !ok {
					return nil
				}
				printSnapshot(snap, playerID, cfg.RoundDuration)

				if snap.State.Room == nil {
					continue
				}
				round := snap.State.Room.CurrentRound
				if snap.State.Room.Status == types.StatusPlaying && round != nil && round.RoundNumber != activeRound {
					activeRound = round.RoundNumber
					if stopCountdown != nil {
						stopCountdown()
					}
					var cctx context.Context
					cctx, stopCountdown = context.WithCancel(ctx)
					go announceCountdown(cctx, round, cfg.RoundDuration, cfg.TickInterval)
				}
			}
		}
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				handleCommand(ctx, d, line, logger)
			}
		}
	})

	fmt.Println("commands: start | guess N | status | quit")
	return g.Wait()
}

// announceCountdown watches the round clock on the configured tick and
// prints the remaining seconds as they change.
func announceCountdown(ctx context.Context, round *types.GameRound, duration, interval time.Duration) {
	lastSec := -1
	for remaining := range game.Countdown(ctx, round, duration, interval) {
		sec := int(remaining.Seconds())
		if sec == lastSec {
			continue
		}
		lastSec = sec
		if sec == 0 {
			fmt.Println("  time is up")
		} else if sec <= 5 || sec%10 == 0 {
			fmt.Printf("  %ds left\n", sec)
		}
	}
}

func readLines(ctx context.Context) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

func handleCommand(ctx context.Context, d *dispatch.Dispatcher, line string, logger *zap.Logger) {
	switch {
	case line == "start":
		if err := d.StartGame(ctx); err != nil {
			fmt.Println("cannot start:", err)
		}
	case strings.HasPrefix(line, "guess "):
		n, err := strconv.Atoi(strings.TrimPrefix(line, "guess "))
		if err != nil {
			fmt.Println("usage: guess N")
			return
		}
		if err := d.SubmitGuess(ctx, n); err != nil {
			fmt.Println("cannot submit:", err)
		}
	case line == "status":
		fmt.Println("connection:", d.ConnectionStatus())
	case line == "quit":
		d.Leave()
		os.Exit(0)
	case line == "":
	default:
		fmt.Println("unknown command:", line)
	}
}

func printSnapshot(snap session.Snapshot, playerID string, roundDuration time.Duration) {
	s := snap.State
	if s.Room == nil {
		return
	}

	fmt.Printf("\n[v%d] room %s (%s)\n", snap.Version, s.Room.Code, s.Room.Status)
	for _, p := range s.Room.Players {
		marker := " "
		if p.ID == playerID {
			marker = "*"
		}
		host := ""
		if p.IsHost {
			host = " (host)"
		}
		fmt.Printf("  %s %s%s  score=%d\n", marker, p.Name, host, p.Score)
	}

	if s.Room.Status == types.StatusPlaying && s.Room.CurrentRound != nil {
		remaining := game.TimeRemaining(s.Room.CurrentRound, time.Now(), roundDuration)
		fmt.Printf("  round %d (%s), %ds left, role: %s\n",
			s.Room.CurrentRound.RoundNumber,
			s.Room.CurrentRound.Stage,
			int(remaining.Seconds()),
			game.RoleFor(s, playerID))
	}
	if game.CanStartGame(s, playerID) {
		fmt.Println("  type 'start' to begin")
	}

	if r := s.LastRoundResult; r != nil {
		fmt.Printf("  round %d target was %d\n", r.RoundNumber, r.TargetNumber)
		for _, pr := range r.Results {
			fmt.Printf("    %s +%d\n", pr.PlayerName, pr.PointsEarned)
		}
	}
	if len(s.FinalStandings) > 0 {
		fmt.Println("  final standings:")
		for i, fs := range s.FinalStandings {
			fmt.Printf("    %d. %s  %d\n", i+1, fs.Name, fs.Score)
		}
	}
}
