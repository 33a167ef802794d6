package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"resv_relay/internal/protocol/reservation"
)

const (
	DefaultMongoURI  = "mongodb://localhost:27017"
	DefaultMongoDB   = "mydb"
	DefaultRedisAddr = "localhost:6379"
	DefaultHTTPAddr  = "localhost:9090"
	DefaultLogLevel  = "info"
)

var DefaultRelays = []string{"wss://relay.damus.io", "wss://nos.lol"}

type Config struct {
	Relays    []string
	MongoURI  string
	MongoDB   string
	RedisAddr string
	HTTPAddr  string
	LogLevel  string
	Schema    reservation.Schema
	// ProfileName, when set, is announced as kind-0 metadata on start.
	ProfileName string
}

// FromEnv reads the RESV_* variables of the process environment.
func FromEnv() (*Config, error) {
	return Load(os.Getenv)
}

// Load builds a Config from getenv, falling back to the defaults for unset variables.
func Load(getenv func(string) string) (*Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := &Config{
		Relays:    DefaultRelays,
		MongoURI:  get("RESV_MONGO_URI", DefaultMongoURI),
		MongoDB:   get("RESV_MONGO_DB", DefaultMongoDB),
		RedisAddr: get("RESV_REDIS_ADDR", DefaultRedisAddr),
		HTTPAddr:  get("RESV_HTTP_ADDR", DefaultHTTPAddr),
		LogLevel:  get("RESV_LOG_LEVEL", DefaultLogLevel),
		Schema:    reservation.DefaultSchema,

		ProfileName: strings.TrimSpace(getenv("RESV_PROFILE_NAME")),
	}

	if v := strings.TrimSpace(getenv("RESV_RELAYS")); v != "" {
		cfg.Relays = nil
		for _, r := range strings.Split(v, ",") {
			if r = strings.TrimSpace(r); r != "" {
				cfg.Relays = append(cfg.Relays, r)
			}
		}
	}
	for _, r := range cfg.Relays {
		if !strings.HasPrefix(r, "ws://") && !strings.HasPrefix(r, "wss://") {
			return nil, fmt.Errorf("config: RESV_RELAYS: %q is not a websocket url", r)
		}
	}
	if len(cfg.Relays) == 0 {
		return nil, fmt.Errorf("config: RESV_RELAYS is empty")
	}

	if v := strings.TrimSpace(getenv("RESV_SCHEMA")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: RESV_SCHEMA: %w", err)
		}
		s := reservation.Schema(n)
		if s != reservation.SchemaV1 && s != reservation.SchemaV2 {
			return nil, fmt.Errorf("config: RESV_SCHEMA: unsupported schema %d", n)
		}
		cfg.Schema = s
	}
	return cfg, nil
}
