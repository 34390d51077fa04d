// Package config reads tunables the way the teacher's services read
// gocore.Config() — small typed getters with an inline default — plus the
// explicit environment variables spec.md §6.4 names (renamed to the
// project's own LEDGERD_ prefix; see DESIGN.md for that rename).
package config

import (
	"os"
	"strconv"

	"github.com/ordishs/gocore"
)

// GetInt mirrors gocore.Config().GetInt(key, default).
func GetInt(key string, def int) int {
	v, ok := gocore.Config().GetInt(key, def)
	if !ok {
		return def
	}
	return v
}

// GetBool mirrors gocore.Config().GetBool(key, default).
func GetBool(key string, def bool) bool {
	return gocore.Config().GetBool(key, def)
}

// GetString mirrors gocore.Config().Get(key, default).
func GetString(key string, def string) string {
	v, ok := gocore.Config().Get(key, def)
	if !ok {
		return def
	}
	return v
}

// Env is the set of variables spec.md §6.4 requires, read once at startup.
type Env struct {
	SelfURL       string
	BootstrapNode string
	NodeHost      string
	NodePort      string
	StorageDriver string // "postgres" | "memory" — domain-stack addition, see SPEC_FULL.md §6.4
	PostgresUser  string
	PostgresPass  string
	DatabaseName  string
	DatabaseHost  string
}

func LoadEnv() Env {
	return Env{
		SelfURL:       os.Getenv("LEDGERD_SELF_URL"),
		BootstrapNode: os.Getenv("LEDGERD_BOOTSTRAP_NODE"),
		NodeHost:      envDefault("LEDGERD_NODE_HOST", "0.0.0.0"),
		NodePort:      envDefault("LEDGERD_NODE_PORT", "3838"),
		StorageDriver: envDefault("LEDGERD_STORAGE_DRIVER", "memory"),
		PostgresUser:  os.Getenv("POSTGRES_USER"),
		PostgresPass:  os.Getenv("POSTGRES_PASSWORD"),
		DatabaseName:  envDefault("LEDGERD_DATABASE_NAME", "ledgerd"),
		DatabaseHost:  envDefault("LEDGERD_DATABASE_HOST", "localhost"),
	}
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// EnvInt reads an integer environment variable, falling back to def on
// absence or parse failure.
func EnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
