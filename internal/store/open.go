package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/rendis/flowsketch/pkg/schema"
)

// Options selects and configures a backend for Open.
type Options struct {
	Backend string
	// DBPath is the libSQL database location ("file:" prefix optional).
	DBPath string
	Redis  RedisConfig
}

// Open creates the configured backend and runs its migrations.
func Open(ctx context.Context, opts Options) (Store, error) {
	var (
		s   Store
		err error
	)
	switch strings.ToLower(opts.Backend) {
	case "", BackendMemory:
		s = NewMemoryStore()
	case BackendLibSQL:
		if opts.DBPath == "" {
			return nil, schema.NewError(schema.ErrCodeConfig, "libsql backend requires db_path")
		}
		path := opts.DBPath
		if !strings.Contains(path, ":") {
			path = "file:" + path
		}
		s, err = NewLibSQLStore(path)
	case BackendRedis:
		if opts.Redis.Addr == "" {
			return nil, schema.NewError(schema.ErrCodeConfig, "redis backend requires redis_addr")
		}
		s, err = NewRedisStore(ctx, opts.Redis)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "unknown store backend %q", opts.Backend)
	}
	if err != nil {
		return nil, err
	}

	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate %s store: %w", opts.Backend, err)
	}
	return s, nil
}
