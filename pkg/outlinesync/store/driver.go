package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Config carries driver-independent store settings.
type Config struct {
	// CallTimeout bounds each SQLite insert call made outside a transaction.
	CallTimeout time.Duration

	// StatementTimeout is the Postgres statement_timeout for inserts.
	StatementTimeout time.Duration

	// ApplySchema creates missing tables on open.
	ApplySchema bool
}

// OpenFunc opens a store for a DSN.
type OpenFunc func(ctx context.Context, dsn string, cfg Config) (Store, error)

// drivers is the process-wide driver table. Reads dominate, so an RWMutex
// guards it.
var drivers = struct {
	mu      sync.RWMutex
	entries map[string]OpenFunc
}{entries: make(map[string]OpenFunc)}

// Register makes a driver available by name. Registering an existing name
// replaces it.
func Register(name string, open OpenFunc) {
	drivers.mu.Lock()
	defer drivers.mu.Unlock()
	drivers.entries[name] = open
}

// Drivers returns the registered driver names, sorted.
func Drivers() []string {
	drivers.mu.RLock()
	defer drivers.mu.RUnlock()
	names := make([]string, 0, len(drivers.entries))
	for name := range drivers.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open opens a store with the named driver.
func Open(ctx context.Context, driver, dsn string, cfg Config) (Store, error) {
	drivers.mu.RLock()
	open, ok := drivers.entries[driver]
	drivers.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown store driver %q (have %v)", driver, Drivers())
	}
	return open(ctx, dsn, cfg)
}

func init() {
	Register("memory", func(context.Context, string, Config) (Store, error) {
		return NewMemoryStore(), nil
	})
	Register("sqlite", func(_ context.Context, dsn string, cfg Config) (Store, error) {
		return OpenSQLite(dsn, WithCallTimeout(cfg.CallTimeout))
	})
	Register("postgres", func(ctx context.Context, dsn string, cfg Config) (Store, error) {
		s, err := OpenPostgres(ctx, dsn, WithStatementTimeout(cfg.StatementTimeout))
		if err != nil {
			return nil, err
		}
		if cfg.ApplySchema {
			if err := s.ApplySchema(ctx); err != nil {
				s.Close()
				return nil, err
			}
		}
		return s, nil
	})
}
