package kvdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anyproto/any-sync/app"
	"github.com/anyproto/any-sync/app/logger"
	"github.com/anyproto/any-sync/util/periodicsync"
	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

const CName = "quill.kvdb"

var log = logger.NewNamed(CName)

const (
	maxConflictRetries = 10
	gcPeriodSecs       = 600
)

func New() KVDB {
	return new(kvdb)
}

type KVDB interface {
	// Update runs f in a read-write transaction and retries it on badger.ErrConflict.
	Update(ctx context.Context, f func(txn *badger.Txn) error) error
	View(f func(txn *badger.Txn) error) error
	app.ComponentRunnable
}

type kvdb struct {
	db     *badger.DB
	conf   Config
	ticker periodicsync.PeriodicSync
}

func (k *kvdb) Init(a *app.App) (err error) {
	k.conf = a.MustComponent("config").(configGetter).GetBadger()
	if !k.conf.InMemory && k.conf.Path == "" {
		return fmt.Errorf("badger path is empty")
	}
	opts := badger.DefaultOptions(k.conf.Path).
		WithSyncWrites(k.conf.SyncWrites).
		WithLoggingLevel(badger.ERROR)
	if k.conf.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	k.db, err = badger.Open(opts)
	return
}

func (k *kvdb) Name() (name string) {
	return CName
}

func (k *kvdb) Run(ctx context.Context) (err error) {
	if k.conf.InMemory {
		return nil
	}
	k.ticker = periodicsync.NewPeriodicSync(gcPeriodSecs, time.Minute*5, k.gc, log)
	k.ticker.Run()
	return nil
}

func (k *kvdb) gc(ctx context.Context) error {
	for ctx.Err() == nil {
		// ErrNoRewrite means there is nothing left to collect
		if err := k.db.RunValueLogGC(0.5); err != nil {
			if !errors.Is(err, badger.ErrNoRewrite) {
				log.Warn("value log gc failed", zap.Error(err))
			}
			return nil
		}
	}
	return nil
}

func (k *kvdb) Update(ctx context.Context, f func(txn *badger.Txn) error) (err error) {
	for i := 0; i < maxConflictRetries; i++ {
		if err = ctx.Err(); err != nil {
			return
		}
		err = k.db.Update(f)
		if !errors.Is(err, badger.ErrConflict) {
			return
		}
		log.Debug("transaction conflict, retrying", zap.Int("attempt", i+1))
	}
	return
}

func (k *kvdb) View(f func(txn *badger.Txn) error) error {
	return k.db.View(f)
}

func (k *kvdb) Close(ctx context.Context) (err error) {
	if k.ticker != nil {
		k.ticker.Close()
	}
	if k.db != nil {
		return k.db.Close()
	}
	return nil
}
