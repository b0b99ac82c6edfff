package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"weltverbinder/internal/infra"
)

// Open builds the store named by cfg.StoreDriver. The returned function
// releases its connections and is never nil on success.
func Open(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (Store, func(), error) {
	switch cfg.StoreDriver {
	case infra.StoreDriverMemory:
		return NewMemory(), func() {}, nil
	case infra.StoreDriverFirebase:
		client, err := infra.NewFirebaseDatabase(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return NewFirebase(client, cfg.StorePollInterval, logger), func() {}, nil
	case infra.StoreDriverPostgres:
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		pg := NewPostgres(pool, logger)
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return pg, func() {
			pg.Close()
			pool.Close()
		}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}
