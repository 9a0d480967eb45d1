// Package store selects a persistence backend from configuration.
package store

import (
	"context"
	"fmt"

	"finstream.org/internal/bank"
	"finstream.org/internal/config"
	"finstream.org/internal/invoice"
	"finstream.org/internal/ledger"
	"finstream.org/internal/store/bolt"
	"finstream.org/internal/store/memory"
	"finstream.org/internal/store/pg"
)

// Backend is what every storage implementation offers: one unit-of-work
// store per domain, all sharing the same underlying transactions.
type Backend interface {
	Ledger() ledger.Store
	Invoices() invoice.Store
	Bank() bank.Store
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Backend = (*memory.Store)(nil)
	_ Backend = (*pg.Store)(nil)
	_ Backend = (*bolt.Store)(nil)
)

// Open returns the backend named by cfg.Store.
func Open(cfg config.Config) (Backend, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return memory.New(), nil
	case config.StorePostgres:
		s, err := pg.Open(cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StoreBolt:
		s, err := bolt.Open(cfg.BoltPath)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}
