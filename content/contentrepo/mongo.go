package contentrepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anyproto/any-sync/app"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/quillpub/quill-server/db"
	"github.com/quillpub/quill-server/domain"
	"github.com/quillpub/quill-server/quillclient/quillapi"
)

func NewMongo() ContentRepo {
	return new(mongoRepo)
}

var (
	contentIndexes = []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "authorId", Value: 1},
				{Key: "status", Value: 1},
				{Key: "updatedTimestamp", Value: -1},
			},
		},
		{
			Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "updatedTimestamp", Value: 1},
			},
		},
	}
	chunkIndexes = []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "contentId", Value: 1},
				{Key: "index", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
	}
)

type chunkDoc struct {
	// {contentId/index}
	Id        string `bson:"_id"`
	ContentId string `bson:"contentId"`
	Index     int    `bson:"index"`
	Payload   []byte `bson:"payload"`
	Hash      string `bson:"hash"`
}

func (c chunkDoc) toChunk() (chunk domain.Chunk, err error) {
	chunk = domain.Chunk{ContentId: c.ContentId, Index: c.Index, Hash: c.Hash}
	chunk.Payload, err = decodePayload(c.Payload)
	return
}

type mongoRepo struct {
	db          db.Database
	contentColl *mongo.Collection
	chunkColl   *mongo.Collection
}

func (r *mongoRepo) Name() (name string) {
	return CName
}

func (r *mongoRepo) Init(a *app.App) (err error) {
	r.db = a.MustComponent(db.CName).(db.Database)
	r.contentColl = r.db.Db().Collection("content")
	r.chunkColl = r.db.Db().Collection("chunk")
	return
}

func (r *mongoRepo) Run(ctx context.Context) (err error) {
	if err = db.EnsureIndexes(ctx, r.contentColl, contentIndexes...); err != nil {
		return
	}
	return db.EnsureIndexes(ctx, r.chunkColl, chunkIndexes...)
}

func (r *mongoRepo) CreateItem(ctx context.Context, item domain.ContentItem) (err error) {
	if _, err = r.contentColl.InsertOne(ctx, item); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: content %s already exists", quillapi.ErrConflict, item.Id)
		}
		return
	}
	return
}

func (r *mongoRepo) GetItem(ctx context.Context, id string) (item domain.ContentItem, err error) {
	if err = r.contentColl.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&item); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.ContentItem{}, quillapi.ErrNotFound
		}
		return
	}
	return
}

func (r *mongoRepo) ListDrafts(ctx context.Context, authorId string, limit int) (items []domain.ContentItem, err error) {
	opts := options.Find().SetSort(bson.D{{Key: "updatedTimestamp", Value: -1}}).SetLimit(int64(limit))
	cur, err := r.contentColl.Find(ctx, bson.D{{Key: "authorId", Value: authorId}, {Key: "status", Value: domain.ContentStatusDraft}}, opts)
	if err != nil {
		return
	}
	defer func() {
		_ = cur.Close(ctx)
	}()
	err = cur.All(ctx, &items)
	return
}

// touchDraft bumps the revision of a draft item. Any concurrent transaction
// writing the same item document conflicts with it.
func (r *mongoRepo) touchDraft(ctx mongo.SessionContext, contentId string) (err error) {
	res, err := r.contentColl.UpdateOne(
		ctx,
		bson.D{{Key: "_id", Value: contentId}, {Key: "status", Value: domain.ContentStatusDraft}},
		bson.D{
			{Key: "$max", Value: bson.D{{Key: "updatedTimestamp", Value: nowMilli()}}},
			{Key: "$inc", Value: bson.D{{Key: "revision", Value: 1}}},
		},
	)
	if err != nil {
		return
	}
	if res.MatchedCount == 0 {
		return r.notDraftErr(ctx, contentId)
	}
	return
}

func (r *mongoRepo) notDraftErr(ctx context.Context, contentId string) error {
	if _, err := r.GetItem(ctx, contentId); err != nil {
		return err
	}
	return fmt.Errorf("%w: content %s is not a draft", quillapi.ErrConflict, contentId)
}

func (r *mongoRepo) UpdateDraft(ctx context.Context, contentId string, changes domain.DraftChanges) (previous, item domain.ContentItem, err error) {
	set := bson.D{
		{Key: "title", Value: changes.Title},
		{Key: "description", Value: changes.Description},
	}
	if changes.ReplaceCover {
		set = append(set, bson.E{Key: "coverUrl", Value: changes.CoverUrl}, bson.E{Key: "coverType", Value: changes.CoverType})
	}
	now := nowMilli()
	err = r.contentColl.FindOneAndUpdate(
		ctx,
		bson.D{{Key: "_id", Value: contentId}, {Key: "status", Value: domain.ContentStatusDraft}},
		bson.D{
			{Key: "$set", Value: set},
			{Key: "$max", Value: bson.D{{Key: "updatedTimestamp", Value: now}}},
			{Key: "$inc", Value: bson.D{{Key: "revision", Value: 1}}},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.Before),
	).Decode(&previous)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			err = r.notDraftErr(ctx, contentId)
		}
		return domain.ContentItem{}, domain.ContentItem{}, err
	}
	item = changes.Apply(previous)
	item.UpdatedTimestamp = max(item.UpdatedTimestamp, now)
	return
}

func (r *mongoRepo) PutChunk(ctx context.Context, chunk domain.Chunk) (err error) {
	doc := chunkDoc{
		Id:        chunkKey(chunk.ContentId, chunk.Index),
		ContentId: chunk.ContentId,
		Index:     chunk.Index,
		Payload:   encodePayload(chunk.Payload),
		Hash:      chunk.Hash,
	}
	return r.db.Tx(ctx, func(txCtx mongo.SessionContext) (err error) {
		if err = r.touchDraft(txCtx, chunk.ContentId); err != nil {
			return
		}
		_, err = r.chunkColl.ReplaceOne(txCtx, bson.D{{Key: "_id", Value: doc.Id}}, doc, options.Replace().SetUpsert(true))
		return
	})
}

func (r *mongoRepo) ListChunks(ctx context.Context, contentId string, offset, limit int) (chunks []domain.Chunk, total int, err error) {
	query := bson.D{{Key: "contentId", Value: contentId}}
	count, err := r.chunkColl.CountDocuments(ctx, query)
	if err != nil {
		return
	}
	total = int(count)
	opts := options.Find().SetSort(bson.D{{Key: "index", Value: 1}}).SetSkip(int64(offset)).SetLimit(int64(limit))
	cur, err := r.chunkColl.Find(ctx, query, opts)
	if err != nil {
		return
	}
	defer func() {
		_ = cur.Close(ctx)
	}()
	for cur.Next(ctx) {
		var doc chunkDoc
		if err = cur.Decode(&doc); err != nil {
			return
		}
		var chunk domain.Chunk
		if chunk, err = doc.toChunk(); err != nil {
			return
		}
		chunks = append(chunks, chunk)
	}
	err = cur.Err()
	return
}

func (r *mongoRepo) ClearChunks(ctx context.Context, contentId string) (err error) {
	return r.db.Tx(ctx, func(txCtx mongo.SessionContext) (err error) {
		if err = r.touchDraft(txCtx, contentId); err != nil {
			return
		}
		_, err = r.chunkColl.DeleteMany(txCtx, bson.D{{Key: "contentId", Value: contentId}})
		return
	})
}

func (r *mongoRepo) Publish(ctx context.Context, contentId string, expectedChunks int) (item domain.ContentItem, err error) {
	err = r.db.Tx(ctx, func(txCtx mongo.SessionContext) (err error) {
		if item, err = r.GetItem(txCtx, contentId); err != nil {
			return
		}
		if !item.IsDraft() {
			return fmt.Errorf("%w: content %s is %s", quillapi.ErrConflict, contentId, item.Status)
		}
		count, maxIndex, err := r.chunkStats(txCtx, contentId)
		if err != nil {
			return
		}
		if !contiguous(expectedChunks, count, maxIndex) {
			return &quillapi.ChunkCountError{Expected: expectedChunks, Actual: count}
		}
		now := nowMilli()
		res, err := r.contentColl.UpdateOne(
			txCtx,
			bson.D{{Key: "_id", Value: contentId}, {Key: "status", Value: domain.ContentStatusDraft}},
			bson.D{
				{Key: "$set", Value: bson.D{
					{Key: "status", Value: domain.ContentStatusPublished},
					{Key: "chunkCount", Value: count},
					{Key: "publishedTimestamp", Value: now},
				}},
				{Key: "$max", Value: bson.D{{Key: "updatedTimestamp", Value: now}}},
				{Key: "$inc", Value: bson.D{{Key: "revision", Value: 1}}},
			},
		)
		if err != nil {
			return
		}
		if res.MatchedCount == 0 {
			return fmt.Errorf("%w: content %s was published concurrently", quillapi.ErrConflict, contentId)
		}
		item.Status = domain.ContentStatusPublished
		item.ChunkCount = count
		item.PublishedTimestamp = now
		item.UpdatedTimestamp = max(item.UpdatedTimestamp, now)
		return
	})
	if err != nil {
		return domain.ContentItem{}, err
	}
	return
}

func (r *mongoRepo) chunkStats(ctx context.Context, contentId string) (count, maxIndex int, err error) {
	query := bson.D{{Key: "contentId", Value: contentId}}
	n, err := r.chunkColl.CountDocuments(ctx, query)
	if err != nil || n == 0 {
		return
	}
	var last struct {
		Index int `bson:"index"`
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "index", Value: -1}}).SetProjection(bson.D{{Key: "index", Value: 1}})
	if err = r.chunkColl.FindOne(ctx, query, opts).Decode(&last); err != nil {
		return
	}
	return int(n), last.Index, nil
}

func (r *mongoRepo) DeleteItem(ctx context.Context, contentId string) (item domain.ContentItem, err error) {
	err = r.db.Tx(ctx, func(txCtx mongo.SessionContext) (err error) {
		if err = r.contentColl.FindOneAndDelete(txCtx, bson.D{{Key: "_id", Value: contentId}}).Decode(&item); err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return quillapi.ErrNotFound
			}
			return
		}
		_, err = r.chunkColl.DeleteMany(txCtx, bson.D{{Key: "contentId", Value: contentId}})
		return
	})
	return
}

func (r *mongoRepo) DeleteOutdatedDrafts(ctx context.Context, before time.Time) (deleted int, err error) {
	query := bson.D{
		{Key: "status", Value: domain.ContentStatusDraft},
		{Key: "updatedTimestamp", Value: bson.D{{Key: "$lt", Value: before.UnixMilli()}}},
	}
	cur, err := r.contentColl.Find(ctx, query, options.Find().SetProjection(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return
	}
	var ids []string
	var doc = struct {
		Id string `bson:"_id"`
	}{}
	for cur.Next(ctx) {
		if err = cur.Decode(&doc); err != nil {
			_ = cur.Close(ctx)
			return
		}
		ids = append(ids, doc.Id)
	}
	_ = cur.Close(ctx)
	for _, id := range ids {
		var removed bool
		err = r.db.Tx(ctx, func(txCtx mongo.SessionContext) (err error) {
			// the draft may have been touched since the scan
			res, err := r.contentColl.DeleteOne(txCtx, append(bson.D{{Key: "_id", Value: id}}, query...))
			if err != nil {
				return
			}
			if removed = res.DeletedCount > 0; !removed {
				return
			}
			_, err = r.chunkColl.DeleteMany(txCtx, bson.D{{Key: "contentId", Value: id}})
			return
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

func (r *mongoRepo) Close(ctx context.Context) (err error) {
	return
}
