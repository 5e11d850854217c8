package subscriber

import (
	"context"
	"errors"
	"strings"

	"github.com/anyproto/any-sync/app"
	"github.com/dgraph-io/badger/v4"

	"github.com/quillpub/quill-server/kvdb"
)

// Key layout:
//
//	sub/{authorId}/{followerId} -> empty
//	user/{userId}               -> display name
const (
	subPrefix  = "sub/"
	userPrefix = "user/"
)

func NewBadgerSource() BadgerSource {
	return new(badgerSource)
}

// BadgerSource is a Source for the embedded engine. It also writes the data,
// since there is no other service owning it.
type BadgerSource interface {
	Source
	Follow(ctx context.Context, authorId, followerId string) error
	Unfollow(ctx context.Context, authorId, followerId string) error
	SetDisplayName(ctx context.Context, userId, name string) error
}

type badgerSource struct {
	kv kvdb.KVDB
}

func (b *badgerSource) Init(a *app.App) (err error) {
	b.kv = a.MustComponent(kvdb.CName).(kvdb.KVDB)
	return
}

func (b *badgerSource) Name() (name string) {
	return SourceCName
}

func (b *badgerSource) Followers(ctx context.Context, authorId string, limit int) (ids []string, err error) {
	prefix := []byte(subPrefix + authorId + "/")
	err = b.kv.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if limit > 0 && len(ids) >= limit {
				break
			}
			ids = append(ids, strings.TrimPrefix(string(it.Item().Key()), string(prefix)))
		}
		return nil
	})
	return
}

func (b *badgerSource) DisplayName(ctx context.Context, userId string) (name string, err error) {
	err = b.kv.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(userPrefix + userId))
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		name = string(val)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", ErrUnknownUser
	}
	return
}

func (b *badgerSource) Follow(ctx context.Context, authorId, followerId string) error {
	return b.kv.Update(ctx, func(txn *badger.Txn) error {
		return txn.Set([]byte(subPrefix+authorId+"/"+followerId), nil)
	})
}

func (b *badgerSource) Unfollow(ctx context.Context, authorId, followerId string) error {
	return b.kv.Update(ctx, func(txn *badger.Txn) error {
		return txn.Delete([]byte(subPrefix + authorId + "/" + followerId))
	})
}

func (b *badgerSource) SetDisplayName(ctx context.Context, userId, name string) error {
	return b.kv.Update(ctx, func(txn *badger.Txn) error {
		return txn.Set([]byte(userPrefix+userId), []byte(name))
	})
}
