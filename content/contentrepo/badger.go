package contentrepo

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/anyproto/any-sync/app"
	"github.com/dgraph-io/badger/v4"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/quillpub/quill-server/domain"
	"github.com/quillpub/quill-server/kvdb"
	"github.com/quillpub/quill-server/quillclient/quillapi"
)

// Key layout:
//
//	content/{id}                 -> bson(ContentItem)
//	author/{authorId}/{id}       -> empty, author index
//	chunk/{contentId}/{index:010} -> bson(chunkDoc)
const (
	contentPrefix = "content/"
	authorPrefix  = "author/"
	chunkPrefix   = "chunk/"
)

func NewBadger() ContentRepo {
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

func contentKey(id string) []byte {
	return []byte(contentPrefix + id)
}

func authorKey(authorId, id string) []byte {
	return []byte(authorPrefix + authorId + "/" + id)
}

func chunksPrefix(contentId string) []byte {
	return []byte(chunkPrefix + contentId + "/")
}

func chunkDbKey(contentId string, index int) []byte {
	return []byte(chunkPrefix + chunkKey(contentId, index))
}

func getItem(txn *badger.Txn, id string) (item domain.ContentItem, err error) {
	it, err := txn.Get(contentKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return item, quillapi.ErrNotFound
		}
		return
	}
	err = it.Value(func(val []byte) error {
		return bson.Unmarshal(val, &item)
	})
	return
}

func setItem(txn *badger.Txn, item domain.ContentItem) error {
	data, err := bson.Marshal(item)
	if err != nil {
		return err
	}
	return txn.Set(contentKey(item.Id), data)
}

func (r *badgerRepo) CreateItem(ctx context.Context, item domain.ContentItem) (err error) {
	return r.kv.Update(ctx, func(txn *badger.Txn) error {
		if _, err := getItem(txn, item.Id); err == nil {
			return fmt.Errorf("%w: content %s already exists", quillapi.ErrConflict, item.Id)
		} else if !errors.Is(err, quillapi.ErrNotFound) {
			return err
		}
		if err := setItem(txn, item); err != nil {
			return err
		}
		return txn.Set(authorKey(item.AuthorId, item.Id), nil)
	})
}

func (r *badgerRepo) GetItem(ctx context.Context, id string) (item domain.ContentItem, err error) {
	err = r.kv.View(func(txn *badger.Txn) (err error) {
		item, err = getItem(txn, id)
		return
	})
	return
}

func (r *badgerRepo) ListDrafts(ctx context.Context, authorId string, limit int) (items []domain.ContentItem, err error) {
	err = r.kv.View(func(txn *badger.Txn) error {
		prefix := []byte(authorPrefix + authorId + "/")
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id := string(it.Item().Key()[len(prefix):])
			item, err := getItem(txn, id)
			if err != nil {
				return err
			}
			if item.IsDraft() {
				items = append(items, item)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(items, func(a, b domain.ContentItem) int {
		return cmp.Compare(b.UpdatedTimestamp, a.UpdatedTimestamp)
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return
}

// touchDraft loads the item, checks it is a draft and rewrites it with a fresh
// updated timestamp. Writing the item key makes concurrent publishes conflict.
func touchDraft(txn *badger.Txn, contentId string) (item domain.ContentItem, err error) {
	if item, err = getItem(txn, contentId); err != nil {
		return
	}
	if !item.IsDraft() {
		return item, fmt.Errorf("%w: content %s is not a draft", quillapi.ErrConflict, contentId)
	}
	item.UpdatedTimestamp = max(item.UpdatedTimestamp, nowMilli())
	return item, setItem(txn, item)
}

func (r *badgerRepo) UpdateDraft(ctx context.Context, contentId string, changes domain.DraftChanges) (previous, item domain.ContentItem, err error) {
	err = r.kv.Update(ctx, func(txn *badger.Txn) (err error) {
		if previous, err = touchDraft(txn, contentId); err != nil {
			return
		}
		item = changes.Apply(previous)
		return setItem(txn, item)
	})
	if err != nil {
		return domain.ContentItem{}, domain.ContentItem{}, err
	}
	return
}

func (r *badgerRepo) PutChunk(ctx context.Context, chunk domain.Chunk) (err error) {
	data, err := bson.Marshal(chunkDoc{
		Id:        chunkKey(chunk.ContentId, chunk.Index),
		ContentId: chunk.ContentId,
		Index:     chunk.Index,
		Payload:   encodePayload(chunk.Payload),
		Hash:      chunk.Hash,
	})
	if err != nil {
		return
	}
	return r.kv.Update(ctx, func(txn *badger.Txn) error {
		if _, err := touchDraft(txn, chunk.ContentId); err != nil {
			return err
		}
		return txn.Set(chunkDbKey(chunk.ContentId, chunk.Index), data)
	})
}

func (r *badgerRepo) ListChunks(ctx context.Context, contentId string, offset, limit int) (chunks []domain.Chunk, total int, err error) {
	err = r.kv.View(func(txn *badger.Txn) error {
		prefix := chunksPrefix(contentId)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			total++
			if total <= offset || len(chunks) >= limit {
				continue
			}
			var doc chunkDoc
			if err := it.Item().Value(func(val []byte) error {
				return bson.Unmarshal(val, &doc)
			}); err != nil {
				return err
			}
			chunk, err := doc.toChunk()
			if err != nil {
				return err
			}
			chunks = append(chunks, chunk)
		}
		return nil
	})
	return
}

// chunkKeys returns the chunk keys of the content and the highest stored index.
func chunkKeys(txn *badger.Txn, contentId string) (keys [][]byte, maxIndex int, err error) {
	prefix := chunksPrefix(contentId)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := it.Item().KeyCopy(nil)
		keys = append(keys, key)
		index, err := strconv.Atoi(string(key[len(prefix):]))
		if err != nil {
			return nil, 0, fmt.Errorf("malformed chunk key %q: %w", key, err)
		}
		maxIndex = max(maxIndex, index)
	}
	return keys, maxIndex, nil
}

func (r *badgerRepo) ClearChunks(ctx context.Context, contentId string) (err error) {
	return r.kv.Update(ctx, func(txn *badger.Txn) error {
		if _, err := touchDraft(txn, contentId); err != nil {
			return err
		}
		keys, _, err := chunkKeys(txn, contentId)
		if err != nil {
			return err
		}
		for _, key := range keys {
			if err = txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *badgerRepo) Publish(ctx context.Context, contentId string, expectedChunks int) (item domain.ContentItem, err error) {
	err = r.kv.Update(ctx, func(txn *badger.Txn) (err error) {
		if item, err = getItem(txn, contentId); err != nil {
			return
		}
		if !item.IsDraft() {
			return fmt.Errorf("%w: content %s is %s", quillapi.ErrConflict, contentId, item.Status)
		}
		keys, maxIndex, err := chunkKeys(txn, contentId)
		if err != nil {
			return
		}
		if !contiguous(expectedChunks, len(keys), maxIndex) {
			return &quillapi.ChunkCountError{Expected: expectedChunks, Actual: len(keys)}
		}
		now := nowMilli()
		item.Status = domain.ContentStatusPublished
		item.ChunkCount = len(keys)
		item.PublishedTimestamp = now
		item.UpdatedTimestamp = max(item.UpdatedTimestamp, now)
		return setItem(txn, item)
	})
	if err != nil {
		return domain.ContentItem{}, err
	}
	return
}

func (r *badgerRepo) DeleteItem(ctx context.Context, contentId string) (item domain.ContentItem, err error) {
	err = r.kv.Update(ctx, func(txn *badger.Txn) (err error) {
		if item, err = getItem(txn, contentId); err != nil {
			return
		}
		return deleteItem(txn, item)
	})
	return
}

func deleteItem(txn *badger.Txn, item domain.ContentItem) error {
	keys, _, err := chunkKeys(txn, item.Id)
	if err != nil {
		return err
	}
	keys = append(keys, contentKey(item.Id), authorKey(item.AuthorId, item.Id))
	for _, key := range keys {
		if err = txn.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

func (r *badgerRepo) DeleteOutdatedDrafts(ctx context.Context, before time.Time) (deleted int, err error) {
	var ids []string
	err = r.kv.View(func(txn *badger.Txn) error {
		prefix := []byte(contentPrefix)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var item domain.ContentItem
			if err := it.Item().Value(func(val []byte) error {
				return bson.Unmarshal(val, &item)
			}); err != nil {
				return err
			}
			if item.IsDraft() && item.UpdatedTimestamp < before.UnixMilli() {
				ids = append(ids, item.Id)
			}
		}
		return nil
	})
	if err != nil {
		return
	}
	for _, id := range ids {
		var removed bool
		err = r.kv.Update(ctx, func(txn *badger.Txn) error {
			removed = false
			item, err := getItem(txn, id)
			if errors.Is(err, quillapi.ErrNotFound) {
				return nil
			} else if err != nil {
				return err
			}
			// the draft may have been touched since the scan
			if !item.IsDraft() || item.UpdatedTimestamp >= before.UnixMilli() {
				return nil
			}
			removed = true
			return deleteItem(txn, item)
		})
		if err != nil {
			return
		}
		if removed {
			deleted++
		}
	}
	return
}

func (r *badgerRepo) Close(ctx context.Context) (err error) {
	return
}
