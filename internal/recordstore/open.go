package recordstore

import (
	"context"
	"fmt"
	"path/filepath"
)

// Backend kinds accepted by Open.
const (
	KindFile   = "file"
	KindSQLite = "sqlite"
	KindRedis  = "redis"
	KindMemory = "memory"
)

// Options selects and configures a backend.
type Options struct {
	Kind        string `yaml:"backend" toml:"backend"`
	Dir         string `yaml:"dir" toml:"dir"`
	DSN         string `yaml:"dsn" toml:"dsn"`
	RedisAddr   string `yaml:"redis_addr" toml:"redis_addr"`
	RedisPrefix string `yaml:"redis_prefix" toml:"redis_prefix"`
}

// Open builds the backend described by opts. An empty kind means "file".
func Open(ctx context.Context, opts Options) (Backend, error) {
	switch opts.Kind {
	case "", KindFile:
		dir := opts.Dir
		if dir == "" {
			dir = DefaultDir()
		}
		return NewFileBackend(dir)
	case KindSQLite:
		dsn := opts.DSN
		if dsn == "" {
			dir := opts.Dir
			if dir == "" {
				dir = DefaultDir()
			}
			dsn = filepath.Join(dir, "chatgate.db")
		}
		return OpenSQLite(dsn)
	case KindRedis:
		if opts.RedisAddr == "" {
			return nil, fmt.Errorf("redis backend requires redis_addr")
		}
		return OpenRedis(ctx, opts.RedisAddr, opts.RedisPrefix)
	case KindMemory:
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q (want file, sqlite, redis or memory)", opts.Kind)
	}
}
