package store

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dragon-bot/dragon/pkg/api"
)

// BadgerConfig configures the embedded key-value backend.
type BadgerConfig struct {
	Path       string
	InMemory   bool
	SyncWrites bool
}

// BadgerStore keeps documents under "doc/<tenant>/<module>" keys.
type BadgerStore struct{ db *badger.DB }

type badgerLogger struct{ l zerolog.Logger }

func (b badgerLogger) Errorf(f string, a ...interface{})   { b.l.Error().Msgf(f, a...) }
func (b badgerLogger) Warningf(f string, a ...interface{}) { b.l.Warn().Msgf(f, a...) }
func (b badgerLogger) Infof(f string, a ...interface{})    { b.l.Debug().Msgf(f, a...) }
func (b badgerLogger) Debugf(f string, a ...interface{})   { b.l.Trace().Msgf(f, a...) }

// OpenBadger opens (and creates) the database described by cfg.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("%w: create %s: %v", ErrStorage, cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{l: log.With().Str("component", "badger").Logger()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open badger: %v", ErrStorage, err)
	}
	return &BadgerStore{db: db}, nil
}

func key(tenant api.Snowflake, module string) []byte {
	return []byte("doc/" + tenant.String() + "/" + module)
}

func (s *BadgerStore) Load(ctx context.Context, tenant api.Snowflake, module string, v any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var body []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(tenant, module))
		if err != nil {
			return err
		}
		body, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, wrap("get", tenant, module, err)
	}
	return true, decode(tenant, module, body, v)
}

func (s *BadgerStore) Save(ctx context.Context, tenant api.Snowflake, module string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := encode(tenant, module, v)
	if err != nil {
		return err
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(tenant, module), b)
	}); err != nil {
		return wrap("set", tenant, module, err)
	}
	return nil
}

func (s *BadgerStore) Ping(context.Context) error {
	if s.db.IsClosed() {
		return fmt.Errorf("%w: badger closed", ErrStorage)
	}
	return nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }
