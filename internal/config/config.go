package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries everything the client needs to reach a game server and tune
// its synchronization behaviour. Values come from the environment, with an
// optional .env file loaded first.
type Config struct {
	ServerURL string
	GameType  string

	KeepalivePeriod time.Duration
	RetryBudget     int
	BackoffBase     time.Duration

	RoundDuration time.Duration
	TickInterval  time.Duration

	IdentityPath string
}

const (
	defaultServerURL       = "http://localhost:8000"
	defaultGameType        = "guess_number"
	defaultKeepalivePeriod = 30 * time.Second
	defaultRetryBudget     = 5
	defaultBackoffBase     = time.Second
	defaultRoundDuration   = 30 * time.Second
	defaultTickInterval    = 100 * time.Millisecond
)

// Load reads configuration from the environment. A missing .env file is not
// an error; a present but unreadable one is.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		ServerURL:       getString("ROOMSYNC_SERVER_URL", defaultServerURL),
		GameType:        getString("ROOMSYNC_GAME_TYPE", defaultGameType),
		KeepalivePeriod: defaultKeepalivePeriod,
		RetryBudget:     defaultRetryBudget,
		BackoffBase:     defaultBackoffBase,
		RoundDuration:   defaultRoundDuration,
		TickInterval:    defaultTickInterval,
		IdentityPath:    os.Getenv("ROOMSYNC_IDENTITY_FILE"),
	}

	var err error
	if cfg.KeepalivePeriod, err = getDuration("ROOMSYNC_KEEPALIVE", cfg.KeepalivePeriod); err != nil {
		return Config{}, err
	}
	if cfg.RetryBudget, err = getInt("ROOMSYNC_RETRY_BUDGET", cfg.RetryBudget); err != nil {
		return Config{}, err
	}
	if cfg.BackoffBase, err = getDuration("ROOMSYNC_BACKOFF_BASE", cfg.BackoffBase); err != nil {
		return Config{}, err
	}
	if cfg.RoundDuration, err = getDuration("ROOMSYNC_ROUND_DURATION", cfg.RoundDuration); err != nil {
		return Config{}, err
	}

	if cfg.RetryBudget < 0 {
		return Config{}, fmt.Errorf("ROOMSYNC_RETRY_BUDGET must be >= 0, got %d", cfg.RetryBudget)
	}
	return cfg, nil
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
