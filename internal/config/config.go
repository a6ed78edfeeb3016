// Package config loads server settings from the environment, after merging
// an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

type Ledger struct {
	RPCURL          string
	PrivateKey      string
	ContractAddress string
	ChainID         int64
	ExplorerURL     string
}

// Enabled reports whether enough is configured to submit transactions.
func (l Ledger) Enabled() bool {
	return l.RPCURL != "" && l.PrivateKey != "" && l.ContractAddress != ""
}

type Config struct {
	Port            int
	DatabaseURL     string
	JWTSecret       string
	AllowedOrigins  []string
	IdleTimeout     time.Duration
	LiveMatchMaxAge time.Duration
	Env             string
	Ledger          Ledger
}

func (c Config) Development() bool {
	return c.Env == "development" || c.Env == "local"
}

// Load reads .env files if present (existing variables win) and parses the
// environment.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from an arbitrary variable source.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	get := func(key string, def any) any {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return def
	}

	port, err := cast.ToIntE(get("PORT", 8080))
	if err != nil || port <= 0 || port > 65535 {
		return Config{}, fmt.Errorf("invalid PORT %v", get("PORT", 8080))
	}
	idle, err := cast.ToDurationE(get("IDLE_TIMEOUT", "180s"))
	if err != nil || idle <= 0 {
		return Config{}, fmt.Errorf("invalid IDLE_TIMEOUT: %v", get("IDLE_TIMEOUT", ""))
	}
	maxAge, err := cast.ToDurationE(get("LIVE_MATCH_MAX_AGE", "20m"))
	if err != nil || maxAge <= 0 {
		return Config{}, fmt.Errorf("invalid LIVE_MATCH_MAX_AGE: %v", get("LIVE_MATCH_MAX_AGE", ""))
	}
	chainID, err := cast.ToInt64E(get("LEDGER_CHAIN_ID", 43113))
	if err != nil {
		return Config{}, fmt.Errorf("invalid LEDGER_CHAIN_ID: %w", err)
	}

	cfg := Config{
		Port:            port,
		DatabaseURL:     cast.ToString(get("DATABASE_URL", "")),
		JWTSecret:       cast.ToString(get("JWT_SECRET", "")),
		AllowedOrigins:  splitList(cast.ToString(get("ALLOWED_ORIGINS", "*"))),
		IdleTimeout:     idle,
		LiveMatchMaxAge: maxAge,
		Env:             cast.ToString(get("APP_ENV", "production")),
		Ledger: Ledger{
			RPCURL:          cast.ToString(get("LEDGER_RPC_URL", "")),
			PrivateKey:      strings.TrimPrefix(cast.ToString(get("LEDGER_PRIVATE_KEY", "")), "0x"),
			ContractAddress: cast.ToString(get("LEDGER_CONTRACT_ADDRESS", "")),
			ChainID:         chainID,
			ExplorerURL:     strings.TrimRight(cast.ToString(get("LEDGER_EXPLORER_URL", "https://testnet.snowtrace.io")), "/"),
		},
	}
	if cfg.JWTSecret == "" {
		return Config{}, errors.New("JWT_SECRET is required")
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
