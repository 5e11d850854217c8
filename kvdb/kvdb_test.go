package kvdb

import (
	"context"
	"sync"
	"testing"

	"github.com/anyproto/any-sync/app"
	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

func TestKvdb_Update(t *testing.T) {
	t.Run("retries conflicts", func(t *testing.T) {
		fx := newFixture(t)
		key := []byte("counter")
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, fx.Update(ctx, func(txn *badger.Txn) error {
					var n byte
					item, err := txn.Get(key)
					if err == nil {
						val, err := item.ValueCopy(nil)
						if err != nil {
							return err
						}
						n = val[0]
					} else if err != badger.ErrKeyNotFound {
						return err
					}
					return txn.Set(key, []byte{n + 1})
				}))
			}()
		}
		wg.Wait()
		require.NoError(t, fx.View(func(txn *badger.Txn) error {
			item, err := txn.Get(key)
			if err != nil {
				return err
			}
			return item.Value(func(val []byte) error {
				assert.Equal(t, byte(8), val[0])
				return nil
			})
		}))
	})
	t.Run("canceled context", func(t *testing.T) {
		fx := newFixture(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := fx.Update(cctx, func(txn *badger.Txn) error {
			return txn.Set([]byte("k"), []byte("v"))
		})
		require.ErrorIs(t, err, context.Canceled)
	})
}

func newFixture(t *testing.T) *fixture {
	fx := &fixture{
		KVDB: New(),
		a:    new(app.App),
	}
	fx.a.Register(&testConfig{}).Register(fx.KVDB)
	require.NoError(t, fx.a.Start(ctx))
	t.Cleanup(func() {
		require.NoError(t, fx.a.Close(ctx))
	})
	return fx
}

type fixture struct {
	KVDB
	a *app.App
}

type testConfig struct{}

func (c *testConfig) Init(a *app.App) (err error) { return }
func (c *testConfig) Name() (name string)         { return "config" }

func (c *testConfig) GetBadger() Config {
	return Config{InMemory: true}
}
