package notifyrepo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/anyproto/any-sync/app"
	"github.com/dgraph-io/badger/v4"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/quillpub/quill-server/domain"
	"github.com/quillpub/quill-server/kvdb"
	"github.com/quillpub/quill-server/quillclient/quillapi"
)

// Key layout:
//
//	notification/{id}                             -> bson(Notification)
//	inbox/{receiverId}/{inverted created:020}/{id} -> empty, newest first
//	unread/{receiverId}/{id}                       -> empty
const (
	notificationPrefix = "notification/"
	inboxPrefix        = "inbox/"
	unreadPrefix       = "unread/"
)

func NewBadger() NotifyRepo {
	return new(badgerRepo)
}

type badgerRepo struct {
	kv kvdb.KVDB
}

func (r *badgerRepo) Name() (name string) {
	return CName
}

func (r *badgerRepo) Init(a *app.App) (err error) {
	r.kv = a.MustComponent(kvdb.CName).(kvdb.KVDB)
	return
}

func (r *badgerRepo) Run(ctx context.Context) (err error) {
	return
}

func notificationKey(id string) []byte {
	return []byte(notificationPrefix + id)
}

func inboxKey(n domain.Notification) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d/%s", inboxPrefix, n.ReceiverId, math.MaxInt64-n.CreatedTimestamp, n.Id))
}

func unreadKey(receiverId, id string) []byte {
	return []byte(unreadPrefix + receiverId + "/" + id)
}

func getNotification(txn *badger.Txn, id string) (n domain.Notification, err error) {
	item, err := txn.Get(notificationKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return n, quillapi.ErrNotFound
		}
		return
	}
	err = item.Value(func(val []byte) error {
		return bson.Unmarshal(val, &n)
	})
	return
}

func setNotification(txn *badger.Txn, n domain.Notification) error {
	data, err := bson.Marshal(n)
	if err != nil {
		return err
	}
	return txn.Set(notificationKey(n.Id), data)
}

func (r *badgerRepo) InsertMany(ctx context.Context, notifications []domain.Notification) (err error) {
	if len(notifications) == 0 {
		return nil
	}
	return r.kv.Update(ctx, func(txn *badger.Txn) error {
		for _, n := range notifications {
			_, err := txn.Get(notificationKey(n.Id))
			if err == nil {
				return fmt.Errorf("%w: notification %s already exists", quillapi.ErrConflict, n.Id)
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if err = setNotification(txn, n); err != nil {
				return err
			}
			if err = txn.Set(inboxKey(n), nil); err != nil {
				return err
			}
			if !n.Read {
				if err = txn.Set(unreadKey(n.ReceiverId, n.Id), nil); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (r *badgerRepo) Get(ctx context.Context, id string) (n domain.Notification, err error) {
	err = r.kv.View(func(txn *badger.Txn) error {
		n, err = getNotification(txn, id)
		return err
	})
	return
}

func (r *badgerRepo) List(ctx context.Context, receiverId string, offset, limit int) (notifications []domain.Notification, total int, err error) {
	err = r.kv.View(func(txn *badger.Txn) error {
		prefix := []byte(inboxPrefix + receiverId + "/")
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		var ids []string
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			total++
			if total <= offset || len(ids) >= limit {
				continue
			}
			key := string(it.Item().Key())
			ids = append(ids, key[strings.LastIndexByte(key, '/')+1:])
		}
		for _, id := range ids {
			n, err := getNotification(txn, id)
			if err != nil {
				return err
			}
			notifications = append(notifications, n)
		}
		return nil
	})
	return
}

func (r *badgerRepo) MarkRead(ctx context.Context, id, receiverId string) (n domain.Notification, err error) {
	err = r.kv.Update(ctx, func(txn *badger.Txn) error {
		n, err = getNotification(txn, id)
		if err != nil {
			return err
		}
		if n.ReceiverId != receiverId {
			return quillapi.ErrForbidden
		}
		if n.Read {
			return nil
		}
		n.Read = true
		if err = setNotification(txn, n); err != nil {
			return err
		}
		return txn.Delete(unreadKey(receiverId, id))
	})
	if err != nil {
		return domain.Notification{}, err
	}
	return
}

func (r *badgerRepo) CountUnread(ctx context.Context, receiverId string) (count int64, err error) {
	err = r.kv.View(func(txn *badger.Txn) error {
		prefix := []byte(unreadPrefix + receiverId + "/")
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return
}

func (r *badgerRepo) Close(ctx context.Context) (err error) {
	return
}
