package main

import (
	"context"
	"fmt"

	"ownrealm/pkg/store"
)

// openStore opens the world database with the configured driver. The
// identity row (world id) is created on first boot.
func openStore(ctx context.Context, cfg ServerConfig) (*store.Store, error) {
	switch cfg.DBDriver {
	case store.DriverPure, store.DriverCgo:
	default:
		return nil, fmt.Errorf("db_driver %q: want %q or %q", cfg.DBDriver, store.DriverPure, store.DriverCgo)
	}
	st, err := store.Open(ctx, cfg.DBDriver, cfg.DBPath, InfoLog)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.DBPath, err)
	}
	if err := st.Ping(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}
