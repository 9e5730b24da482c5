package core

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dragon-bot/dragon/internal/store"
)

// OpenStore opens the document backend selected in cfg.
func OpenStore(cfg Config) (store.Store, error) {
	path := cfg.StoragePath()
	log.Debug().Str("driver", cfg.Storage.Driver).Str("path", path).Msg("opening store")

	switch cfg.Storage.Driver {
	case "", "file":
		return store.NewFileStore(path)
	case "sqlite":
		return store.NewSQLiteStore(path)
	case "badger":
		return store.OpenBadger(store.BadgerConfig{Path: path, SyncWrites: true})
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
