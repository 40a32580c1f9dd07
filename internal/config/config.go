package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DBSource string
	Port     string
	Env      string

	LedgerURL string
	PartyURL  string

	PartyCacheSize      int
	LedgerRetryAttempts uint64
	LedgerRetryInterval time.Duration
	RemoteTimeout       time.Duration
}

func Load() (*Config, error) {
	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	ledgerURL := os.Getenv("LEDGER_URL")
	if ledgerURL == "" {
		return nil, fmt.Errorf("LEDGER_URL environment variable is required")
	}

	partyURL := os.Getenv("PARTY_URL")
	if partyURL == "" {
		return nil, fmt.Errorf("PARTY_URL environment variable is required")
	}

	cacheSize, err := intEnv("PARTY_CACHE_SIZE", 10000)
	if err != nil {
		return nil, err
	}
	retryAttempts, err := intEnv("LEDGER_RETRY_ATTEMPTS", 3)
	if err != nil {
		return nil, err
	}
	retryInterval, err := durationEnv("LEDGER_RETRY_INTERVAL", 500*time.Millisecond)
	if err != nil {
		return nil, err
	}
	remoteTimeout, err := durationEnv("REMOTE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	return &Config{
		DBSource:            dbSource,
		Port:                port,
		Env:                 env,
		LedgerURL:           ledgerURL,
		PartyURL:            partyURL,
		PartyCacheSize:      cacheSize,
		LedgerRetryAttempts: uint64(retryAttempts),
		LedgerRetryInterval: retryInterval,
		RemoteTimeout:       remoteTimeout,
	}, nil
}

func intEnv(name string, fallback int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", name, err)
	}
	return value, nil
}

func durationEnv(name string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", name, err)
	}
	return value, nil
}
