package pg

import (
	"fmt"

	"github.com/XuF163/dingbridge/internal/store"
)

// NewPGStores creates all stores backed by Postgres. The schema is managed by
// `dingbridge migrate up`.
func NewPGStores(cfg store.StoreConfig) (*store.Stores, error) {
	db, err := OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	return &store.Stores{
		Bindings: NewPGBindingStore(db),
	}, nil
}
