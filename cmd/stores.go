package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/XuF163/dingbridge/internal/config"
	"github.com/XuF163/dingbridge/internal/store"
	"github.com/XuF163/dingbridge/internal/store/file"
	"github.com/XuF163/dingbridge/internal/store/pg"
	"github.com/XuF163/dingbridge/internal/store/sqlite"
)

const sqliteBindingsFile = "dingtalk.webhookBindings.db"

// openStores opens the binding backend selected by cfg.Bindings.Driver.
func openStores(cfg *config.Config) (*store.Stores, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Bindings.Driver))
	path := cfg.BindingsPath()

	switch driver {
	case "", "file":
		s, err := file.NewBindingStore(path)
		if err != nil {
			return nil, err
		}
		return &store.Stores{Bindings: s}, nil

	case "sqlite":
		// The default path names the JSON file; keep the directory, swap the file.
		if strings.EqualFold(filepath.Ext(path), ".json") {
			path = filepath.Join(filepath.Dir(path), sqliteBindingsFile)
		}
		s, err := sqlite.Open(path)
		if err != nil {
			return nil, err
		}
		return &store.Stores{Bindings: s}, nil

	case "postgres", "pg":
		return pg.NewPGStores(store.StoreConfig{
			Driver:      "postgres",
			PostgresDSN: cfg.Database.PostgresDSN,
		})

	default:
		return nil, fmt.Errorf("unknown bindings driver %q (want file, sqlite or postgres)", cfg.Bindings.Driver)
	}
}
