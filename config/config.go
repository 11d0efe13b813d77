/*
Package config loads runtime configuration.

SOURCES (later wins):
  1. defaults below
  2. optional .env file (github.com/joho/godotenv), never overriding the
     process environment
  3. MEDPLAN_* environment variables
  4. command-line flags, applied by cmd/server

VARIABLES:
  MEDPLAN_ENV                 dev | prod                 (default dev)
  MEDPLAN_PORT                HTTP port                  (default 8080)
  MEDPLAN_DB                  SQLite path or :memory:    (default adherence.db)
  MEDPLAN_JWT_SECRET          HS256 signing key          (required in prod)
  MEDPLAN_TOKEN_TTL           bearer token lifetime      (default 720h)
  MEDPLAN_BCRYPT_COST         password hashing cost      (default 10)
  MEDPLAN_SCHEDULER_ENABLED   daily materialization      (default true)
  MEDPLAN_SCHEDULER_INTERVAL  tick between day checks    (default 1m)
  MEDPLAN_LOG_LEVEL           debug | info | warn | error (default info)
  MEDPLAN_LOG_FORMAT          text | json                (default text)
  MEDPLAN_CORS_ORIGINS        comma separated            (default *)

Every missing or malformed variable is reported in one *Error.
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

const devSecret = "dev-secret-change-me"

type Config struct {
	Env               string
	Port              int
	DBPath            string
	JWTSecret         string
	TokenTTL          time.Duration
	BcryptCost        int
	SchedulerEnabled  bool
	SchedulerInterval time.Duration
	LogLevel          string
	LogFormat         string
	CORSOrigins       []string
}

// IsProd reports whether the service runs with production safeguards.
func (c Config) IsProd() bool { return c.Env == "prod" }

// Error lists every configuration problem at once.
type Error struct {
	Missing []string
	Invalid []string
}

func (e *Error) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid: "+strings.Join(e.Invalid, ", "))
	}
	return "config: " + strings.Join(parts, "; ")
}

// Load reads envFile (if it exists) into the environment and builds the
// config from the environment. An empty envFile skips the file.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: read %s: %w", envFile, err)
		}
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds the config from an arbitrary variable source.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	r := reader{lookup: lookup, err: &Error{}}
	cfg := Config{
		Env:               r.oneOf("MEDPLAN_ENV", "dev", "dev", "prod"),
		Port:              r.integer("MEDPLAN_PORT", 8080),
		DBPath:            r.str("MEDPLAN_DB", "adherence.db"),
		TokenTTL:          r.dur("MEDPLAN_TOKEN_TTL", 720*time.Hour),
		BcryptCost:        r.integer("MEDPLAN_BCRYPT_COST", bcrypt.DefaultCost),
		SchedulerEnabled:  r.boolean("MEDPLAN_SCHEDULER_ENABLED", true),
		SchedulerInterval: r.dur("MEDPLAN_SCHEDULER_INTERVAL", time.Minute),
		LogLevel:          r.oneOf("MEDPLAN_LOG_LEVEL", "info", "debug", "info", "warn", "error"),
		LogFormat:         r.oneOf("MEDPLAN_LOG_FORMAT", "text", "text", "json"),
		CORSOrigins:       r.list("MEDPLAN_CORS_ORIGINS", []string{"*"}),
	}
	if cfg.IsProd() {
		cfg.JWTSecret = r.required("MEDPLAN_JWT_SECRET")
	} else {
		cfg.JWTSecret = r.str("MEDPLAN_JWT_SECRET", devSecret)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		r.invalid("MEDPLAN_PORT")
	}
	if cfg.BcryptCost < bcrypt.MinCost || cfg.BcryptCost > bcrypt.MaxCost {
		r.invalid("MEDPLAN_BCRYPT_COST")
	}

	if len(r.err.Missing) > 0 || len(r.err.Invalid) > 0 {
		return Config{}, r.err
	}
	return cfg, nil
}

// =============================================================================
// READER
// =============================================================================

type reader struct {
	lookup func(string) (string, bool)
	err    *Error
}

func (r reader) raw(key string) (string, bool) {
	v, ok := r.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (r reader) invalid(key string) {
	r.err.Invalid = append(r.err.Invalid, key)
}

func (r reader) str(key, def string) string {
	if v, ok := r.raw(key); ok {
		return v
	}
	return def
}

func (r reader) required(key string) string {
	v, ok := r.raw(key)
	if !ok {
		r.err.Missing = append(r.err.Missing, key)
	}
	return v
}

func (r reader) integer(key string, def int) int {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.invalid(key)
		return def
	}
	return n
}

func (r reader) boolean(key string, def bool) bool {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.invalid(key)
		return def
	}
	return b
}

func (r reader) dur(key string, def time.Duration) time.Duration {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		r.invalid(key)
		return def
	}
	return d
}

func (r reader) oneOf(key, def string, allowed ...string) string {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	v = strings.ToLower(v)
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	r.invalid(key)
	return def
}

func (r reader) list(key string, def []string) []string {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
