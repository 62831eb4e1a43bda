package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the bot reads from the environment.
type Config struct {
	BotToken     string
	LogChannelID int64
	MongoURI     string

	APIBase      string
	SearchLimit  int
	ResultTTL    time.Duration
	FetchTimeout time.Duration

	LogLevel string
}

const (
	defaultAPIBase      = "https://yts.mx"
	defaultSearchLimit  = 10
	defaultResultTTL    = 10 * time.Minute
	defaultFetchTimeout = 30 * time.Second
)

// Load reads configuration from the environment, after merging an
// optional .env file. Only BOT_TOKEN is required; everything else has a
// usable default or is optional (Mongo, log channel).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		BotToken:     strings.TrimSpace(os.Getenv("BOT_TOKEN")),
		MongoURI:     strings.TrimSpace(os.Getenv("MONGODB_URI")),
		APIBase:      strings.TrimRight(strings.TrimSpace(os.Getenv("YTS_API_BASE")), "/"),
		SearchLimit:  defaultSearchLimit,
		ResultTTL:    defaultResultTTL,
		FetchTimeout: defaultFetchTimeout,
		LogLevel:     strings.TrimSpace(os.Getenv("LOG_LEVEL")),
	}

	if cfg.BotToken == "" {
		return nil, fmt.Errorf("BOT_TOKEN is required")
	}
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}

	if v := strings.TrimSpace(os.Getenv("LOG_CHANNEL_ID")); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("LOG_CHANNEL_ID: %w", err)
		}
		cfg.LogChannelID = id
	}

	if v := strings.TrimSpace(os.Getenv("SEARCH_LIMIT")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("SEARCH_LIMIT must be a positive integer, got %q", v)
		}
		cfg.SearchLimit = n
	}

	if d, err := envDuration("RESULT_TTL"); err != nil {
		return nil, err
	} else if d > 0 {
		cfg.ResultTTL = d
	}

	if d, err := envDuration("FETCH_TIMEOUT"); err != nil {
		return nil, err
	} else if d > 0 {
		cfg.FetchTimeout = d
	}

	return cfg, nil
}

func envDuration(key string) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %q", key, v)
	}
	return d, nil
}
